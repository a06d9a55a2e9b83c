package backtest

import (
	"github.com/shopspring/decimal"

	"github.com/tiltlab/tilt/internal/contracts"
)

const bpsDenominator = 10000

// ledger tracks cash and share quantities in exact decimal arithmetic.
// Fractional shares are allowed.
type ledger struct {
	cash       decimal.Decimal
	quantities map[string]decimal.Decimal
}

func newLedger(cash decimal.Decimal) *ledger {
	return &ledger{
		cash:       cash,
		quantities: make(map[string]decimal.Decimal),
	}
}

// value returns cash plus the market value of every holding at prices.
// Holdings without a quote are valued at zero.
func (l *ledger) value(prices map[string]float64) decimal.Decimal {
	total := l.cash
	for symbol, qty := range l.quantities {
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		total = total.Add(qty.Mul(decimal.NewFromFloat(price)))
	}
	return total
}

// positions returns the number of non-zero holdings.
func (l *ledger) positions() int {
	return len(l.quantities)
}

// execute drives holdings toward each instruction's target weight at the
// given prices, charging costBps per side on traded notional. Instructions
// are applied in order, so a merged plan frees cash from cuts before
// funding adds. Instructions without a usable price are skipped.
func (l *ledger) execute(instructions []contracts.TradeInstruction, prices map[string]float64, costBps float64) (traded, costs decimal.Decimal, executed int) {
	total := l.value(prices)
	costRate := decimal.NewFromFloat(costBps).Div(decimal.NewFromInt(bpsDenominator))

	for _, in := range instructions {
		price, ok := prices[in.Symbol]
		if !ok || price <= 0 {
			continue
		}
		priceDec := decimal.NewFromFloat(price)

		targetQty := total.Mul(decimal.NewFromFloat(in.TargetWeight)).Div(priceDec)
		delta := targetQty.Sub(l.quantities[in.Symbol])
		if delta.IsZero() {
			continue
		}

		notional := delta.Abs().Mul(priceDec)
		cost := notional.Mul(costRate)

		if delta.IsPositive() {
			l.cash = l.cash.Sub(notional).Sub(cost)
		} else {
			l.cash = l.cash.Add(notional).Sub(cost)
		}

		if targetQty.IsZero() || targetQty.IsNegative() {
			delete(l.quantities, in.Symbol)
		} else {
			l.quantities[in.Symbol] = targetQty
		}

		traded = traded.Add(notional)
		costs = costs.Add(cost)
		executed++
	}

	return traded, costs, executed
}
