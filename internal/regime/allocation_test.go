package regime

import (
	"testing"

	"github.com/quantfolio/backtest-engine/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestDefaultAllocationTableWeightsSumToOne(t *testing.T) {
	table := DefaultAllocationTable()

	assert.InDelta(t, 1.0, table.baseline.Weights.Sum(), 1e-9)
	for key, alloc := range table.entries {
		assert.InDelta(t, 1.0, alloc.Weights.Sum(), 1e-9, "regime %s", key)
		assert.Greater(t, alloc.Sizing.TargetPositions, 0, "regime %s", key)
		assert.GreaterOrEqual(t, alloc.Sizing.CashReservePct, 0.0, "regime %s", key)
	}
	assert.Len(t, table.entries, 9)
}

func TestLookupKnownAndUnknownRegimes(t *testing.T) {
	table := DefaultAllocationTable()

	bullLow := table.Lookup(types.Regime{Trend: types.TrendBull, Volatility: types.VolLow})
	assert.Equal(t, 18, bullLow.Sizing.TargetPositions)
	assert.InDelta(t, 0.35, bullLow.Weights[AgentMomentum], 1e-9)

	bearHigh := table.Lookup(types.Regime{Trend: types.TrendBear, Volatility: types.VolHigh})
	assert.Equal(t, 12, bearHigh.Sizing.TargetPositions)
	assert.InDelta(t, 0.25, bearHigh.Sizing.CashReservePct, 1e-9)
	assert.Greater(t, bearHigh.Weights[AgentQuality], bullLow.Weights[AgentQuality])

	// Zero-valued regime falls back to the baseline.
	unknown := table.Lookup(types.Regime{})
	assert.Equal(t, table.Baseline(), unknown)
}
