package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tiltlab/tilt/internal/engine"
)

// rebalanceCmd represents the rebalance command
var rebalanceCmd = &cobra.Command{
	Use:   "rebalance",
	Short: "Run a rebalance cycle",
	Long: `Runs one full rebalance cycle: rank the universe, select targets
with buffer-zone hysteresis, apply the risk overlay, and move the book.

This command:
- Ranks the screened universe by composite score
- Builds a trade plan against the current portfolio
- Merges risk overrides (stops, volatility cap, VaR trim)
- Persists the plan and the updated portfolio

Example:
  tilt rebalance
  tilt rebalance --date 2025-06-30
  tilt rebalance --dry-run`,
	RunE: runRebalance,
}

var (
	rebalanceDate   string
	rebalanceDryRun bool
)

func init() {
	rootCmd.AddCommand(rebalanceCmd)

	// Flags
	rebalanceCmd.Flags().StringVar(&rebalanceDate, "date", "", "evaluation date YYYY-MM-DD (default today)")
	rebalanceCmd.Flags().BoolVar(&rebalanceDryRun, "dry-run", false, "compute the plan without saving it or moving the book")
}

func runRebalance(cmd *cobra.Command, args []string) error {
	fmt.Println("=== tilt Rebalance ===")

	date, err := parseDateFlag(rebalanceDate)
	if err != nil {
		return err
	}

	if rebalanceDryRun {
		fmt.Println("🔧 Dry run: plan will not be saved")
	}

	// Wire dependencies
	s, err := buildStack(false)
	if err != nil {
		return err
	}
	defer s.Close()

	// Execute the rebalance run
	res, err := s.engine.RunRebalance(cmd.Context(), engine.Options{
		Date:      date,
		GitCommit: gitCommit(),
		DryRun:    rebalanceDryRun,
	})
	if err != nil {
		return fmt.Errorf("rebalance run failed: %w", err)
	}

	printRebalanceResult(res)
	return nil
}

// printRebalanceResult prints the plan, risk events, and resulting book.
func printRebalanceResult(res *engine.Result) {
	fmt.Printf("\n📋 Trade plan %s (%s)\n", res.Plan.ID, res.Plan.Date.Format("2006-01-02"))

	if len(res.Plan.Instructions) == 0 {
		fmt.Println("   No trades required")
	} else {
		fmt.Println("  Action  Symbol  Current  Target   Reason")
		for _, in := range res.Plan.Instructions {
			fmt.Printf("  %-6s  %-6s  %6.2f%%  %6.2f%%  %s\n",
				in.Action, in.Symbol, in.CurrentWeight*100, in.TargetWeight*100, in.Reason)
		}
	}

	if res.Risk != nil && len(res.Risk.Events) > 0 {
		fmt.Printf("\n⚠️  Risk events (%d):\n", len(res.Risk.Events))
		for _, e := range res.Risk.Events {
			fmt.Printf("  %-14s  %-6s  observed %.2f vs limit %.2f\n", e.Kind, e.Symbol, e.Observed, e.Threshold)
		}
	}

	if res.Portfolio != nil {
		fmt.Printf("\n💼 Portfolio: %d positions\n", len(res.Portfolio.Positions))
		for _, sym := range res.Portfolio.Symbols() {
			pos := res.Portfolio.Positions[sym]
			fmt.Printf("  %-6s  %-12s  %.2f%%\n", sym, pos.Sector, pos.Weight*100)
		}
	}

	fmt.Printf("\n✅ Rebalance completed: run %s in %.1fs (%d instructions, %d risk events)\n",
		res.Run.ID, res.Run.Duration().Seconds(), res.Run.Instructions, res.Run.RiskEvents)
}
