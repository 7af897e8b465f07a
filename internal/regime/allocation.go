// Package regime maps market regimes to agent weight vectors and portfolio
// sizing. The table is an immutable value injected into the engine; there is
// no package-level mutable state.
package regime

import (
	"github.com/quantfolio/backtest-engine/pkg/types"
)

// Scoring agent names used across the allocation table. The scoring
// collaborator is free to support more; unknown agents are ignored at
// composition time.
const (
	AgentValuation = "valuation"
	AgentMomentum  = "momentum"
	AgentQuality   = "quality"
	AgentSentiment = "sentiment"
)

// Allocation is the weight vector and sizing for one regime.
type Allocation struct {
	Weights types.AgentWeights
	Sizing  types.SizingParams
}

// AllocationTable maps each of the nine regimes to an Allocation. Lookups on
// a zero-valued or unknown regime fall back to the baseline.
type AllocationTable struct {
	entries  map[string]Allocation
	baseline Allocation
}

// Lookup returns the allocation for the given regime, or the baseline when
// the regime is not in the table.
func (t AllocationTable) Lookup(r types.Regime) Allocation {
	if alloc, ok := t.entries[r.String()]; ok {
		return alloc
	}
	return t.baseline
}

// Baseline returns the unweighted fallback allocation, used before enough
// benchmark history exists and when regime detection is disabled.
func (t AllocationTable) Baseline() Allocation {
	return t.baseline
}

// DefaultAllocationTable returns the static regime table: momentum-weighted
// aggressive sizing in bull markets, quality-weighted defensive sizing in
// bear and high-volatility markets.
func DefaultAllocationTable() AllocationTable {
	baseline := Allocation{
		Weights: types.AgentWeights{
			AgentValuation: 0.25,
			AgentMomentum:  0.25,
			AgentQuality:   0.25,
			AgentSentiment: 0.25,
		},
		Sizing: types.SizingParams{TargetPositions: 15, CashReservePct: 0.10},
	}

	entry := func(trend types.Trend, vol types.Volatility, valuation, momentum, quality, sentiment float64, positions int, reserve float64) (string, Allocation) {
		r := types.Regime{Trend: trend, Volatility: vol}
		return r.String(), Allocation{
			Weights: types.AgentWeights{
				AgentValuation: valuation,
				AgentMomentum:  momentum,
				AgentQuality:   quality,
				AgentSentiment: sentiment,
			},
			Sizing: types.SizingParams{TargetPositions: positions, CashReservePct: reserve},
		}
	}

	entries := make(map[string]Allocation, 9)
	add := func(key string, alloc Allocation) { entries[key] = alloc }

	add(entry(types.TrendBull, types.VolLow, 0.25, 0.35, 0.20, 0.20, 18, 0.05))
	add(entry(types.TrendBull, types.VolNormal, 0.25, 0.35, 0.20, 0.20, 16, 0.05))
	add(entry(types.TrendBull, types.VolHigh, 0.20, 0.30, 0.30, 0.20, 14, 0.10))
	add(entry(types.TrendSideways, types.VolLow, 0.25, 0.25, 0.25, 0.25, 16, 0.08))
	add(entry(types.TrendSideways, types.VolNormal, 0.25, 0.25, 0.25, 0.25, 15, 0.10))
	add(entry(types.TrendSideways, types.VolHigh, 0.30, 0.15, 0.35, 0.20, 13, 0.15))
	add(entry(types.TrendBear, types.VolLow, 0.35, 0.15, 0.30, 0.20, 14, 0.15))
	add(entry(types.TrendBear, types.VolNormal, 0.30, 0.15, 0.35, 0.20, 12, 0.20))
	add(entry(types.TrendBear, types.VolHigh, 0.30, 0.10, 0.40, 0.20, 12, 0.25))

	return AllocationTable{entries: entries, baseline: baseline}
}
