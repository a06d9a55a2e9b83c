package commands

import (
	"github.com/spf13/cobra"
)

var (
	strategyPath string
	verbose      bool
)

// rootCmd is the base command for the tilt CLI.
var rootCmd = &cobra.Command{
	Use:   "tilt",
	Short: "Multi-factor equity ranking and rebalancing engine",
	Long: `tilt collects market data, scores a stock universe on momentum,
quality and value factors, and maintains a ranked portfolio with
buffer-zone rebalancing and risk overlays.

Pipeline stages can be run individually (collect, rank, rebalance),
replayed over history (backtest), scheduled as a daemon (scheduler),
or served over HTTP (api).`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&strategyPath, "strategy", "", "strategy config file (default from TILT_STRATEGY_PATH)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
