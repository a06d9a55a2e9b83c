package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/tiltlab/tilt/internal/backtest"
)

const (
	// Calendar days of history loaded before the window start so the first
	// cycle has a full factor lookback.
	historySlackDays = 420

	backtestFundamentalsDepth = 12
)

// backtestCmd represents the backtest command
var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay the strategy over historical data",
	Long: `Replays the full rebalance cycle over stored history and reports
performance.

The backtest validates:
- Strategy returns (total, CAGR)
- Risk metrics (Sharpe, volatility, max drawdown)
- Win rate and profit factor
- Trading costs

Example:
  tilt backtest --from 2024-01-01 --to 2024-12-31
  tilt backtest --from 2024-01-01 --cash 500000 --cost-bps 5`,
	RunE: runBacktest,
}

var (
	backtestFrom    string
	backtestTo      string
	backtestCash    int64
	backtestCostBps float64
)

func init() {
	rootCmd.AddCommand(backtestCmd)

	// Flags
	backtestCmd.Flags().StringVar(&backtestFrom, "from", "", "start date (YYYY-MM-DD, required)")
	backtestCmd.Flags().StringVar(&backtestTo, "to", "", "end date (YYYY-MM-DD, default: today)")
	backtestCmd.Flags().Int64Var(&backtestCash, "cash", 1_000_000, "initial capital (USD)")
	backtestCmd.Flags().Float64Var(&backtestCostBps, "cost-bps", 10, "round-trip trading cost in basis points")

	backtestCmd.MarkFlagRequired("from")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	fmt.Println("=== tilt Backtest ===")

	// Parse dates
	start, err := parseDateFlag(backtestFrom)
	if err != nil {
		return fmt.Errorf("invalid start date: %w", err)
	}
	end, err := parseDateFlag(backtestTo)
	if err != nil {
		return fmt.Errorf("invalid end date: %w", err)
	}
	if end.IsZero() {
		end = time.Now().UTC()
	}

	fmt.Printf("\n📅 Period: %s ~ %s\n", start.Format("2006-01-02"), end.Format("2006-01-02"))
	fmt.Printf("💰 Initial Capital: $%s\n", formatMoney(decimal.NewFromInt(backtestCash)))
	fmt.Printf("💸 Cost: %.1f bps\n\n", backtestCostBps)

	// Wire dependencies
	s, err := buildStack(false)
	if err != nil {
		return err
	}
	defer s.Close()

	// Load snapshots deep enough to cover the factor lookback before the
	// window start.
	historyDays := int(end.Sub(start).Hours()/24) + historySlackDays
	snapshots, err := s.loader.Load(cmd.Context(), end, historyDays, backtestFundamentalsDepth)
	if err != nil {
		return fmt.Errorf("load snapshots: %w", err)
	}

	fmt.Println("🚀 Starting backtest...")
	fmt.Println()

	// Run backtest
	bt := backtest.New(s.strategy, s.log)
	result, err := bt.Run(cmd.Context(), snapshots, backtest.Config{
		Start:       start,
		End:         end,
		InitialCash: decimal.NewFromInt(backtestCash),
		CostBps:     backtestCostBps,
	})
	if err != nil {
		return fmt.Errorf("backtest failed: %w", err)
	}

	printBacktestResult(result)
	return nil
}

func printBacktestResult(result *backtest.Result) {
	fmt.Println("\n✅ Backtest Completed")
	fmt.Println(strings.Repeat("=", 61))
	fmt.Println()

	// Summary
	fmt.Println("📊 Summary")
	fmt.Printf("Period: %s ~ %s (%d trading days)\n",
		result.Start.Format("2006-01-02"),
		result.End.Format("2006-01-02"),
		len(result.Equity))
	fmt.Printf("Rebalances: %d\n", len(result.Cycles))
	fmt.Println()

	// Performance
	fmt.Println("💰 Performance")
	fmt.Printf("Initial Capital: $%s\n", formatMoney(result.InitialValue))
	fmt.Printf("Final Capital:   $%s\n", formatMoney(result.FinalValue))
	fmt.Printf("P&L:             $%s (%+.2f%%)\n",
		formatMoney(result.FinalValue.Sub(result.InitialValue)),
		result.Metrics.TotalReturn*100)
	fmt.Println()

	fmt.Printf("CAGR:            %+.2f%%\n", result.Metrics.CAGR*100)
	fmt.Printf("Volatility:      %.2f%%\n", result.Metrics.Volatility*100)
	fmt.Println()

	// Risk Metrics
	fmt.Println("📉 Risk Metrics")
	fmt.Printf("Sharpe Ratio:    %.2f", result.Metrics.Sharpe)
	if result.Metrics.Sharpe > 3.0 {
		fmt.Print(" 🌟 (Excellent)")
	} else if result.Metrics.Sharpe > 2.0 {
		fmt.Print(" ✅ (Good)")
	} else if result.Metrics.Sharpe > 1.0 {
		fmt.Print(" ⚠️  (Fair)")
	} else {
		fmt.Print(" ❌ (Poor)")
	}
	fmt.Println()

	mdd := -result.Metrics.MaxDrawdown
	fmt.Printf("Max Drawdown:    %.2f%%", result.Metrics.MaxDrawdown*100)
	if mdd < 0.10 {
		fmt.Print(" 🌟 (Excellent)")
	} else if mdd < 0.20 {
		fmt.Print(" ✅ (Good)")
	} else if mdd < 0.30 {
		fmt.Print(" ⚠️  (Fair)")
	} else {
		fmt.Print(" ❌ (High)")
	}
	fmt.Println()
	fmt.Println()

	// Trading Metrics
	fmt.Println("💹 Trading Metrics")
	fmt.Printf("Closed Trades:   %d\n", result.Metrics.ClosedTrades)
	fmt.Printf("Win Rate:        %.1f%%\n", result.Metrics.WinRate*100)
	fmt.Printf("Profit Factor:   %.2f\n", result.Metrics.ProfitFactor)

	totalCost := decimal.Zero
	for _, c := range result.Cycles {
		totalCost = totalCost.Add(c.Cost)
	}
	fmt.Printf("Total Costs:     $%s\n", formatMoney(totalCost))
	fmt.Println()

	// Final book
	if len(result.FinalPositions) > 0 {
		fmt.Println("💼 Final Positions")
		for _, pos := range result.FinalPositions {
			fmt.Printf("%-6s  %-12s  %.2f%%\n", pos.Symbol, pos.Sector, pos.Weight*100)
		}
		fmt.Println()
	}

	// Equity Curve (last 10 points)
	fmt.Println("📈 Equity Curve (Last 10 Days)")
	startIdx := len(result.Equity) - 10
	if startIdx < 0 {
		startIdx = 0
	}
	for _, point := range result.Equity[startIdx:] {
		ret := 0.0
		if result.InitialValue.IsPositive() {
			ret = point.Value.Sub(result.InitialValue).Div(result.InitialValue).InexactFloat64()
		}
		fmt.Printf("%s: $%s (%+.2f%%)\n",
			point.Date.Format("2006-01-02"),
			formatMoney(point.Value),
			ret*100)
	}
	fmt.Println()

	// Recommendation
	fmt.Println("💡 Recommendation")
	if result.Metrics.Sharpe > 2.0 && mdd < 0.15 {
		fmt.Println("✅ Strong strategy - good risk-adjusted returns")
	} else if result.Metrics.Sharpe > 1.5 && mdd < 0.25 {
		fmt.Println("⚠️  Acceptable strategy - consider tuning")
	} else {
		fmt.Println("❌ Weak strategy - needs improvement")
	}
	fmt.Println()
}

// formatMoney renders an amount with thousands separators, two decimals.
func formatMoney(d decimal.Decimal) string {
	s := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	dot := strings.IndexByte(s, '.')
	intPart, frac := s[:dot], s[dot:]

	var result []rune
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, c)
	}
	return sign + string(result) + frac
}
