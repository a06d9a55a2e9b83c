package contracts

import "sort"

// MergeInstructions combines a rebalance instruction list with risk
// overrides into the list that actually executes. When both sides target
// the same symbol the higher-severity action wins; at equal severity the
// lower target weight wins, so the merge can only ever cut risk, never
// add it back. Overrides for symbols the plan left alone are carried
// through unchanged.
//
// The merged list keeps the execution ordering: exposure cuts first, then
// adds, each side ascending by symbol.
func MergeInstructions(rebalance, overrides []TradeInstruction) []TradeInstruction {
	merged := make(map[string]TradeInstruction, len(rebalance)+len(overrides))
	for _, in := range rebalance {
		merged[in.Symbol] = in
	}

	for _, override := range overrides {
		existing, ok := merged[override.Symbol]
		if !ok {
			merged[override.Symbol] = override
			continue
		}
		switch {
		case override.Action.Severity() > existing.Action.Severity():
			merged[override.Symbol] = override
		case override.Action.Severity() == existing.Action.Severity() &&
			override.TargetWeight < existing.TargetWeight:
			merged[override.Symbol] = override
		}
	}

	if len(merged) == 0 {
		return nil
	}

	out := make([]TradeInstruction, 0, len(merged))
	for _, in := range merged {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool {
		ci, cj := isCut(out[i].Action), isCut(out[j].Action)
		if ci != cj {
			return ci
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// isCut reports whether the action reduces exposure.
func isCut(a Action) bool {
	return a == ActionSell || a == ActionReduce
}
