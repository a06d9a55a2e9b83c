package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tiltlab/tilt/internal/engine"
)

// rankCmd represents the rank command
var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Run a ranking cycle",
	Long: `Runs one ranking cycle: screen the universe, compute factor
scores, and rank by composite score.

This command:
- Screens tracked securities against the universe filters
- Computes momentum, quality, and value scores
- Persists the ranked universe under a run ID

Example:
  tilt rank
  tilt rank --date 2025-06-30`,
	RunE: runRank,
}

var rankDate string

func init() {
	rootCmd.AddCommand(rankCmd)

	// Flags
	rankCmd.Flags().StringVar(&rankDate, "date", "", "evaluation date YYYY-MM-DD (default today)")
}

func runRank(cmd *cobra.Command, args []string) error {
	fmt.Println("=== tilt Ranking ===")

	date, err := parseDateFlag(rankDate)
	if err != nil {
		return err
	}

	// Wire dependencies
	s, err := buildStack(false)
	if err != nil {
		return err
	}
	defer s.Close()

	// Execute the ranking run
	res, err := s.engine.RunRank(cmd.Context(), engine.Options{
		Date:      date,
		GitCommit: gitCommit(),
	})
	if err != nil {
		return fmt.Errorf("rank run failed: %w", err)
	}

	fmt.Printf("\n📊 Ranking for %s\n", res.Ranked.Date.Format("2006-01-02"))
	fmt.Printf("   Universe: %d eligible, %d ranked\n\n", res.Run.UniverseSize, res.Run.RankedCount)

	fmt.Println("Top 10:")
	fmt.Println("  Rank  Symbol  Sector        Composite  Momentum  Quality  Value")
	for _, e := range res.Ranked.Top(10) {
		fmt.Printf("  %4d  %-6s  %-12s  %9.1f  %8.1f  %7.1f  %6.1f\n",
			e.Rank, e.Symbol, e.Sector, e.Composite, e.Momentum, e.Quality, e.Value)
	}

	fmt.Printf("\n✅ Ranking completed: run %s in %.1fs\n", res.Run.ID, res.Run.Duration().Seconds())
	return nil
}
