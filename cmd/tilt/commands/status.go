package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tiltlab/tilt/internal/audit"
	"github.com/tiltlab/tilt/internal/contracts"
	"github.com/tiltlab/tilt/internal/portfolio"
	"github.com/tiltlab/tilt/pkg/config"
	"github.com/tiltlab/tilt/pkg/database"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent runs, the portfolio, and risk events",
	Long: `Shows pipeline state at a glance: the most recent runs, the
current portfolio, and risk events from the last week.

Example:
  tilt status`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	// Status only reads persisted state, so it skips the provider and
	// strategy wiring the pipeline commands need.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	audits := audit.NewRepository(db.Pool)
	books := portfolio.NewRepository(db.Pool)
	ctx := cmd.Context()

	fmt.Println("=== tilt Status ===")

	// Recent runs
	runs, err := audits.ListRuns(ctx, 10)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	fmt.Println("\n📋 Recent Runs")
	if len(runs) == 0 {
		fmt.Println("  No runs on record")
	} else {
		fmt.Println("  Date        Kind       Status     Ranked  Positions  Duration")
		for i := range runs {
			run := &runs[i]
			fmt.Printf("  %s  %-9s  %-9s  %6d  %9d  %7.1fs\n",
				run.Date.Format("2006-01-02"), run.Kind, run.Status,
				run.RankedCount, run.Positions, run.Duration().Seconds())
		}
	}

	// Current portfolio
	book, err := books.Current(ctx)
	switch {
	case errors.Is(err, contracts.ErrNotFound):
		fmt.Println("\n💼 Portfolio")
		fmt.Println("  No portfolio on record")
	case err != nil:
		return fmt.Errorf("load portfolio: %w", err)
	default:
		fmt.Printf("\n💼 Portfolio (%s, %d positions)\n", book.Date.Format("2006-01-02"), len(book.Positions))
		for _, sym := range book.Symbols() {
			pos := book.Positions[sym]
			fmt.Printf("  %-6s  %-12s  %.2f%%\n", sym, pos.Sector, pos.Weight*100)
		}
	}

	// Risk events from the last week
	since := time.Now().UTC().AddDate(0, 0, -7)
	events, err := audits.RecentRiskEvents(ctx, since)
	if err != nil {
		return fmt.Errorf("list risk events: %w", err)
	}

	fmt.Println("\n⚠️  Risk Events (7 days)")
	if len(events) == 0 {
		fmt.Println("  None")
	} else {
		for _, e := range events {
			fmt.Printf("  %s  %-14s  %-6s  observed %.2f vs limit %.2f\n",
				e.Date.Format("2006-01-02"), e.Kind, e.Symbol, e.Observed, e.Threshold)
		}
	}

	return nil
}
