package backtester

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quantfolio/backtest-engine/internal/data"
	"github.com/quantfolio/backtest-engine/internal/scoring"
	"github.com/quantfolio/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// constantBars emits one bar per calendar day at a fixed close.
func constantBars(start, end time.Time, close float64) []types.PriceBar {
	var bars []types.PriceBar
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		bars = append(bars, types.PriceBar{Date: d, Close: decimal.NewFromFloat(close)})
	}
	return bars
}

// crashScenario builds a two-symbol fixture: AAA is bought in January,
// crashes through its stop-loss on Jan 20, and BBB replaces it at the
// February rebalance.
func crashScenario(t *testing.T) (*data.MemoryProvider, *scoring.StaticScorer, *types.BacktestConfig) {
	t.Helper()

	start := day(2024, 1, 2)
	end := day(2024, 2, 28)

	provider := data.NewMemoryProvider(zap.NewNop())
	provider.AddSeries("SPY", constantBars(start, end, 400))
	provider.AddSeries("BBB", constantBars(start, end, 50))

	aaa := constantBars(start, day(2024, 1, 19), 100)
	aaa = append(aaa, constantBars(day(2024, 1, 20), end, 74)...)
	provider.AddSeries("AAA", aaa)

	flat := func(score float64) map[string]float64 {
		return map[string]float64{"valuation": score, "momentum": score, "quality": score, "sentiment": score}
	}
	scorer := scoring.NewStaticScorer(zap.NewNop(), map[time.Time]map[string]scoring.Frame{
		day(2024, 1, 2): {
			"AAA": {AgentScores: flat(80), Confidence: 0.9, QualityScore: 80, MomentumScore: 60, Sector: "Technology"},
			"BBB": {AgentScores: flat(60), Confidence: 0.8, QualityScore: 60, MomentumScore: 60, Sector: "Financials"},
		},
		day(2024, 2, 1): {
			"AAA": {AgentScores: flat(40), Confidence: 0.5, QualityScore: 80, MomentumScore: 20, Sector: "Technology"},
			"BBB": {AgentScores: flat(75), Confidence: 0.8, QualityScore: 60, MomentumScore: 70, Sector: "Financials"},
		},
	})

	cfg := types.DefaultConfig()
	cfg.ID = "crash-scenario"
	cfg.StartDate = start
	cfg.EndDate = end
	cfg.Universe = []string{"AAA", "BBB"}
	cfg.Benchmark = "SPY"
	cfg.TargetPositions = 1
	cfg.MaxPositionWeight = 0 // single-position run, no cap
	cfg.EnableRegimeDetection = false

	return provider, scorer, cfg
}

func TestRunCrashScenario(t *testing.T) {
	provider, scorer, cfg := crashScenario(t)
	engine := NewEngine(zap.NewNop(), provider, scorer)

	result, err := engine.Run(context.Background(), cfg)
	require.NoError(t, err)

	// Exactly three trades: enter AAA, stop out of AAA, enter BBB.
	require.Len(t, result.Transactions, 3)

	entry := result.Transactions[0]
	assert.Equal(t, types.ActionBuy, entry.Action)
	assert.Equal(t, "AAA", entry.Symbol)
	assert.Equal(t, day(2024, 1, 2), entry.Date)

	stop := result.Transactions[1]
	assert.Equal(t, types.ActionSell, stop.Action)
	assert.Equal(t, "AAA", stop.Symbol)
	assert.Equal(t, types.ExitStopLoss, stop.Reason)
	assert.Equal(t, day(2024, 1, 20), stop.Date)
	assert.True(t, stop.RealizedPnL.IsNegative())

	replacement := result.Transactions[2]
	assert.Equal(t, types.ActionBuy, replacement.Action)
	assert.Equal(t, "BBB", replacement.Symbol)
	assert.Equal(t, day(2024, 2, 1), replacement.Date)

	require.Len(t, result.Rebalances, 2)
	assert.Equal(t, []string{"AAA"}, result.Rebalances[0].Selected)
	assert.Equal(t, []string{"BBB"}, result.Rebalances[1].Selected)

	// One curve point per trading day, every one internally consistent.
	assert.Len(t, result.EquityCurve, 58)
	for _, p := range result.EquityCurve {
		assert.False(t, p.Cash.IsNegative(), "cash negative at %s", p.Date)
		assert.True(t, p.Value.GreaterThanOrEqual(p.Cash), "value below cash at %s", p.Date)
		// All-cash stretch between the stop-out and the next rebalance:
		// portfolio value must equal cash exactly.
		if p.Date.After(day(2024, 1, 20)) && p.Date.Before(day(2024, 2, 1)) {
			assert.True(t, p.Value.Equal(p.Cash), "value != cash at %s", p.Date)
		}
	}

	// Accounting identity: final value is initial cash plus realized PnL of
	// the round trip minus the open position's entry cost (BBB trades flat,
	// so it carries no unrealized PnL).
	expected := cfg.InitialCash.Add(stop.RealizedPnL).Sub(replacement.Cost)
	assert.True(t, result.Metrics.FinalValue.Equal(expected),
		"final %s, expected %s", result.Metrics.FinalValue, expected)

	assert.Empty(t, result.DataQualityNotes)
	assert.Negative(t, result.Metrics.TotalReturn)
	assert.Greater(t, result.Metrics.MaxDrawdown, 0.15)
	assert.Zero(t, result.Metrics.WinRate)
	assert.Equal(t, 3, result.Metrics.TotalTransactions)
}

func TestRunRotationScenario(t *testing.T) {
	start := day(2024, 1, 2)
	end := day(2024, 2, 28)

	provider := data.NewMemoryProvider(zap.NewNop())
	provider.AddSeries("SPY", constantBars(start, end, 400))
	provider.AddSeries("AAA", constantBars(start, end, 100))
	provider.AddSeries("BBB", constantBars(start, end, 50))

	flat := func(score float64) map[string]float64 {
		return map[string]float64{"valuation": score, "momentum": score, "quality": score, "sentiment": score}
	}
	scorer := scoring.NewStaticScorer(zap.NewNop(), map[time.Time]map[string]scoring.Frame{
		day(2024, 1, 2): {
			"AAA": {AgentScores: flat(90), Confidence: 0.9, QualityScore: 80, MomentumScore: 60},
			"BBB": {AgentScores: flat(40), Confidence: 0.8, QualityScore: 60, MomentumScore: 55},
		},
		day(2024, 2, 1): {
			"AAA": {AgentScores: flat(40), Confidence: 0.5, QualityScore: 80, MomentumScore: 55},
			"BBB": {AgentScores: flat(90), Confidence: 0.8, QualityScore: 60, MomentumScore: 60},
		},
	})

	cfg := types.DefaultConfig()
	cfg.ID = "rotation-scenario"
	cfg.StartDate = start
	cfg.EndDate = end
	cfg.Universe = []string{"AAA", "BBB"}
	cfg.Benchmark = "SPY"
	cfg.InitialCash = decimal.NewFromInt(10000)
	cfg.TargetPositions = 1
	cfg.MaxPositionWeight = 0
	cfg.EnableRegimeDetection = false

	engine := NewEngine(zap.NewNop(), provider, scorer)
	result, err := engine.Run(context.Background(), cfg)
	require.NoError(t, err)

	// Prices never move; the February score flip alone rotates AAA into BBB.
	require.Len(t, result.Transactions, 3)
	assert.Equal(t, types.ActionBuy, result.Transactions[0].Action)
	assert.Equal(t, "AAA", result.Transactions[0].Symbol)
	assert.Equal(t, types.ActionSell, result.Transactions[1].Action)
	assert.Equal(t, "AAA", result.Transactions[1].Symbol)
	assert.Equal(t, types.ExitRebalance, result.Transactions[1].Reason)
	assert.Equal(t, day(2024, 2, 1), result.Transactions[1].Date)
	assert.Equal(t, types.ActionBuy, result.Transactions[2].Action)
	assert.Equal(t, "BBB", result.Transactions[2].Symbol)
}

func TestRunIsDeterministic(t *testing.T) {
	provider, scorer, cfg := crashScenario(t)
	engine := NewEngine(zap.NewNop(), provider, scorer)

	first, err := engine.Run(context.Background(), cfg)
	require.NoError(t, err)
	second, err := engine.Run(context.Background(), cfg)
	require.NoError(t, err)

	require.Equal(t, len(first.Transactions), len(second.Transactions))
	for i := range first.Transactions {
		a, b := first.Transactions[i], second.Transactions[i]
		assert.Equal(t, a.ID, b.ID)
		assert.Equal(t, a.Date, b.Date)
		assert.Equal(t, a.Action, b.Action)
		assert.Equal(t, a.Symbol, b.Symbol)
		assert.True(t, a.Shares.Equal(b.Shares))
		assert.True(t, a.Price.Equal(b.Price))
	}

	require.Equal(t, len(first.EquityCurve), len(second.EquityCurve))
	for i := range first.EquityCurve {
		assert.True(t, first.EquityCurve[i].Value.Equal(second.EquityCurve[i].Value),
			"curve diverged at %s", first.EquityCurve[i].Date)
	}

	assert.Equal(t, first.Metrics.TotalReturn, second.Metrics.TotalReturn)
	assert.Equal(t, first.Metrics.SharpeRatio, second.Metrics.SharpeRatio)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	provider, scorer, cfg := crashScenario(t)
	cfg.Universe = nil
	engine := NewEngine(zap.NewNop(), provider, scorer)

	_, err := engine.Run(context.Background(), cfg)
	var cfgErr *types.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestRunFailsWithoutBenchmarkData(t *testing.T) {
	provider, scorer, cfg := crashScenario(t)
	cfg.Benchmark = "MISSING"
	engine := NewEngine(zap.NewNop(), provider, scorer)

	_, err := engine.Run(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, types.IsDataGap(err))
}

func TestRunRecordsDataGapForUnpricedSymbol(t *testing.T) {
	provider, scorer, cfg := crashScenario(t)
	// GAP has neither scores nor prices: each rebalance records it as a gap
	// and the run still completes.
	cfg.Universe = []string{"AAA", "BBB", "GAP"}
	engine := NewEngine(zap.NewNop(), provider, scorer)

	result, err := engine.Run(context.Background(), cfg)
	require.NoError(t, err)

	require.NotEmpty(t, result.DataQualityNotes)
	for _, note := range result.DataQualityNotes {
		assert.Equal(t, "GAP", note.Symbol)
	}
	require.Len(t, result.Transactions, 3)
}

// failingScorer errors on every call after the first.
type failingScorer struct {
	inner scoring.Scorer
	calls int
}

func (f *failingScorer) ScoreUniverse(ctx context.Context, symbols []string, asOf time.Time, weights types.AgentWeights) (map[string]types.ScoreResult, error) {
	f.calls++
	if f.calls > 1 {
		return nil, errors.New("scoring backend unavailable")
	}
	return f.inner.ScoreUniverse(ctx, symbols, asOf, weights)
}

func TestRunHoldsThroughScoringOutage(t *testing.T) {
	provider, scorer, cfg := crashScenario(t)

	// Keep AAA's price flat so nothing stops out; only the scoring outage at
	// the February rebalance is in play.
	provider.AddSeries("AAA", constantBars(day(2024, 1, 2), day(2024, 2, 28), 100))

	engine := NewEngine(zap.NewNop(), provider, &failingScorer{inner: scorer})
	result, err := engine.Run(context.Background(), cfg)
	require.NoError(t, err)

	// The February rebalance is skipped: AAA is held, never rotated to BBB.
	require.Len(t, result.Transactions, 1)
	assert.Equal(t, "AAA", result.Transactions[0].Symbol)
	require.Len(t, result.Rebalances, 1)

	// Every universe symbol gets a note for the failed period.
	require.Len(t, result.DataQualityNotes, 2)
	for _, note := range result.DataQualityNotes {
		assert.Equal(t, day(2024, 2, 1), note.Date)
		assert.Equal(t, "scoring collaborator failure", note.Reason)
	}
}

func TestRunHonoursContextCancellation(t *testing.T) {
	provider, scorer, cfg := crashScenario(t)
	engine := NewEngine(zap.NewNop(), provider, scorer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Run(ctx, cfg)
	assert.ErrorIs(t, err, context.Canceled)
}
