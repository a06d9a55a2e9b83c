package contracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeInstructionsOverrideWins(t *testing.T) {
	rebalance := []TradeInstruction{
		{Symbol: "AAPL", Action: ActionBuy, TargetWeight: 0.02, Source: SourceRebalance},
		{Symbol: "MSFT", Action: ActionIncrease, TargetWeight: 0.02, Source: SourceRebalance},
	}
	overrides := []TradeInstruction{
		{Symbol: "AAPL", Action: ActionSell, TargetWeight: 0, Reason: "stop loss", Source: SourceRisk},
		{Symbol: "MSFT", Action: ActionReduce, TargetWeight: 0.01, Reason: "volatility cap", Source: SourceRisk},
	}

	merged := MergeInstructions(rebalance, overrides)
	require.Len(t, merged, 2)

	aapl := merged[0]
	assert.Equal(t, "AAPL", aapl.Symbol)
	assert.Equal(t, ActionSell, aapl.Action)
	assert.Equal(t, SourceRisk, aapl.Source)

	msft := merged[1]
	assert.Equal(t, ActionReduce, msft.Action)
	assert.InDelta(t, 0.01, msft.TargetWeight, 1e-12)
}

func TestMergeInstructionsKeepsPlanWhenLessSevere(t *testing.T) {
	rebalance := []TradeInstruction{
		{Symbol: "XOM", Action: ActionSell, TargetWeight: 0, Reason: "rank beyond buffer", Source: SourceRebalance},
	}
	overrides := []TradeInstruction{
		{Symbol: "XOM", Action: ActionReduce, TargetWeight: 0.01, Source: SourceRisk},
	}

	merged := MergeInstructions(rebalance, overrides)
	require.Len(t, merged, 1)
	assert.Equal(t, ActionSell, merged[0].Action)
	assert.Equal(t, SourceRebalance, merged[0].Source)
}

func TestMergeInstructionsEqualSeverityTakesLowerTarget(t *testing.T) {
	rebalance := []TradeInstruction{
		{Symbol: "NVDA", Action: ActionReduce, TargetWeight: 0.03, Source: SourceRebalance},
	}
	overrides := []TradeInstruction{
		{Symbol: "NVDA", Action: ActionReduce, TargetWeight: 0.015, Source: SourceRisk},
	}

	merged := MergeInstructions(rebalance, overrides)
	require.Len(t, merged, 1)
	assert.InDelta(t, 0.015, merged[0].TargetWeight, 1e-12)
	assert.Equal(t, SourceRisk, merged[0].Source)
}

func TestMergeInstructionsCarriesUnmatchedOverrides(t *testing.T) {
	// A held position with no rebalance trade can still breach a stop.
	rebalance := []TradeInstruction{
		{Symbol: "AAPL", Action: ActionBuy, TargetWeight: 0.02, Source: SourceRebalance},
	}
	overrides := []TradeInstruction{
		{Symbol: "META", Action: ActionSell, TargetWeight: 0, Reason: "stop loss", Source: SourceRisk},
	}

	merged := MergeInstructions(rebalance, overrides)
	require.Len(t, merged, 2)
	assert.Equal(t, "META", merged[0].Symbol)
	assert.Equal(t, ActionSell, merged[0].Action)
	assert.Equal(t, "AAPL", merged[1].Symbol)
}

func TestMergeInstructionsOrdering(t *testing.T) {
	rebalance := []TradeInstruction{
		{Symbol: "D", Action: ActionBuy, TargetWeight: 0.02},
		{Symbol: "A", Action: ActionIncrease, TargetWeight: 0.02},
		{Symbol: "C", Action: ActionSell},
	}
	overrides := []TradeInstruction{
		{Symbol: "B", Action: ActionReduce, TargetWeight: 0.01, Source: SourceRisk},
	}

	merged := MergeInstructions(rebalance, overrides)

	var symbols []string
	for _, in := range merged {
		symbols = append(symbols, in.Symbol)
	}
	// Cuts ascending, then adds ascending.
	assert.Equal(t, []string{"B", "C", "A", "D"}, symbols)
}

func TestMergeInstructionsEmpty(t *testing.T) {
	assert.Nil(t, MergeInstructions(nil, nil))

	overridesOnly := MergeInstructions(nil, []TradeInstruction{
		{Symbol: "AAPL", Action: ActionSell, Source: SourceRisk},
	})
	require.Len(t, overridesOnly, 1)
	assert.Equal(t, "AAPL", overridesOnly[0].Symbol)
}
