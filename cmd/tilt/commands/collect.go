package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tiltlab/tilt/internal/engine"
)

// collectCmd represents the collect command
var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run a data collection cycle",
	Long: `Runs one data collection cycle.

This command:
- Refreshes the index constituent list
- Fetches daily bars over a trailing window
- Fetches fundamentals snapshots for tracked securities

Example:
  tilt collect
  tilt collect --date 2025-06-30`,
	RunE: runCollect,
}

var collectDate string

func init() {
	rootCmd.AddCommand(collectCmd)

	// Flags
	collectCmd.Flags().StringVar(&collectDate, "date", "", "evaluation date YYYY-MM-DD (default today)")
}

func runCollect(cmd *cobra.Command, args []string) error {
	fmt.Println("=== tilt Data Collection ===")

	date, err := parseDateFlag(collectDate)
	if err != nil {
		return err
	}

	// Wire dependencies
	s, err := buildStack(false)
	if err != nil {
		return err
	}
	defer s.Close()

	// Execute the collection run
	res, err := s.engine.RunCollect(cmd.Context(), engine.Options{
		Date:      date,
		GitCommit: gitCommit(),
	})
	if err != nil {
		return fmt.Errorf("collect run failed: %w", err)
	}

	fmt.Printf("\n✅ Collection completed: run %s in %.1fs\n", res.Run.ID, res.Run.Duration().Seconds())
	return nil
}
