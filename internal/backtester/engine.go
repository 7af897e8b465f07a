// Package backtester provides the walk-forward backtesting engine: it
// iterates evaluation dates in chronological order, rebalances the portfolio
// on schedule, enforces risk rules between rebalances, and accumulates the
// equity curve and transaction log.
package backtester

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/quantfolio/backtest-engine/internal/data"
	"github.com/quantfolio/backtest-engine/internal/execution"
	"github.com/quantfolio/backtest-engine/internal/regime"
	"github.com/quantfolio/backtest-engine/internal/risk"
	"github.com/quantfolio/backtest-engine/internal/scoring"
	"github.com/quantfolio/backtest-engine/internal/selection"
	"github.com/quantfolio/backtest-engine/internal/telemetry"
	"github.com/quantfolio/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Pre-history requested before the run start so the regime classifier has a
// full trailing volatility distribution on day one.
const historyYears = 2

// Engine runs backtests. It is stateless across runs: every Run call builds
// an independently owned portfolio, so parallel runs with different configs
// never share mutable state.
type Engine struct {
	logger           *zap.Logger
	prices           data.PriceProvider
	scorer           scoring.Scorer
	classifier       *regime.Classifier
	classifierConfig *regime.ClassifierConfig
	table            regime.AllocationTable
	metrics          *telemetry.Metrics
	costModel        execution.CostModel
}

// Option configures the engine.
type Option func(*Engine)

// WithAllocationTable overrides the default regime allocation table.
func WithAllocationTable(table regime.AllocationTable) Option {
	return func(e *Engine) { e.table = table }
}

// WithClassifierConfig overrides the regime classifier windows.
func WithClassifierConfig(cfg regime.ClassifierConfig) Option {
	return func(e *Engine) { e.classifierConfig = &cfg }
}

// WithTelemetry attaches Prometheus instrumentation.
func WithTelemetry(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithCostModel overrides the per-run flat-rate cost model.
func WithCostModel(cm execution.CostModel) Option {
	return func(e *Engine) { e.costModel = cm }
}

// NewEngine creates a backtesting engine.
func NewEngine(logger *zap.Logger, prices data.PriceProvider, scorer scoring.Scorer, opts ...Option) *Engine {
	e := &Engine{
		logger: logger,
		prices: prices,
		scorer: scorer,
		table:  regime.DefaultAllocationTable(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.classifier == nil {
		cfg := regime.DefaultClassifierConfig()
		if e.classifierConfig != nil {
			cfg = *e.classifierConfig
		}
		e.classifier = regime.NewClassifier(logger, cfg)
	}
	return e
}

// Run executes one backtest. A completed run always yields a result, even
// when some symbols or periods were excluded by data gaps; fatal errors
// (bad config, invariant violations) propagate with no partial result.
func (e *Engine) Run(ctx context.Context, cfg *types.BacktestConfig) (*types.BacktestResult, error) {
	startedAt := time.Now()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	histStart := cfg.StartDate.AddDate(-historyYears, 0, 0)
	benchBars, err := e.prices.GetPriceSeries(ctx, cfg.Benchmark, histStart, cfg.EndDate)
	if err != nil {
		return nil, fmt.Errorf("failed to load benchmark %s: %w", cfg.Benchmark, err)
	}

	tradingDays := tradingDaysIn(benchBars, cfg.StartDate, cfg.EndDate)
	if len(tradingDays) == 0 {
		return nil, fmt.Errorf("benchmark %s has no trading days in run window", cfg.Benchmark)
	}
	isRebalance := rebalanceDates(tradingDays, cfg.Cadence)

	universe := append([]string(nil), cfg.Universe...)
	sort.Strings(universe)
	indexes := e.loadIndexes(ctx, universe, histStart, cfg.EndDate)

	book := risk.NewManager(e.logger, cfg.RiskLimits)
	costModel := e.costModel
	if costModel == nil {
		costModel = execution.NewFlatRate(cfg.CostRate)
	}
	exec := execution.NewExecutor(e.logger, costModel, book, cfg.ID, cfg.InitialCash)
	selector := selection.NewSelector(e.logger, selection.Config{
		MinScore:            cfg.MinScore,
		HighConvictionScore: cfg.HighConvictionScore,
		DipBuyScore:         cfg.DipBuyScore,
		DipBuyWhitelist:     cfg.DipBuyWhitelist,
		MaxSectorWeight:     cfg.MaxSectorWeight,
		MaxPositionWeight:   cfg.MaxPositionWeight,
	})

	e.logger.Info("Starting backtest",
		zap.String("id", cfg.ID),
		zap.Int("universe", len(universe)),
		zap.Int("tradingDays", len(tradingDays)),
		zap.Int("rebalances", len(isRebalance)),
	)

	var (
		curve      []types.EquityCurvePoint
		rebalances []types.RebalanceEvent
		txs        []types.Transaction
		notes      []types.DataQualityNote
		lastScores map[string]types.ScoreResult
		lastRegime types.Regime
	)

	initialF, _ := cfg.InitialCash.Float64()

	for _, day := range tradingDays {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		prices := pricesAt(indexes, day)

		// Intra-period risk evaluation runs on every trading day, not just
		// at rebalances, so stop-loss and trailing-stop triggers are caught
		// as soon as prices cross them.
		if cfg.EnableRiskManagement {
			book.UpdatePeaks(prices)
			exits := book.EvaluateExits(day, prices, momentumFor(book, lastScores), cfg.MaxHoldingDays)
			if len(exits) > 0 {
				sells, err := exec.ExecuteExits(day, exits)
				if err != nil {
					return nil, err
				}
				for i, tx := range sells {
					e.metrics.RecordTransaction(string(tx.Action))
					e.metrics.RecordForcedExit(string(exits[i].Reason))
				}
				txs = append(txs, sells...)
			}
		}

		if isRebalance[day] {
			event, periodNotes, periodTxs, scores, reg, err := e.rebalance(
				ctx, cfg, day, universe, benchBars, prices, book, exec, selector,
			)
			if err != nil {
				return nil, err
			}
			notes = append(notes, periodNotes...)
			txs = append(txs, periodTxs...)
			if scores != nil {
				lastScores = scores
			}
			if event != nil {
				rebalances = append(rebalances, *event)
				e.metrics.RecordRebalance()
			}
			if reg.Trend != lastRegime.Trend || reg.Volatility != lastRegime.Volatility {
				e.metrics.RecordRegimeSwitch(reg.String())
				lastRegime = reg
			}
		}

		value := exec.PortfolioValue(prices)
		book.RecordPortfolioValue(value)

		valueF, _ := value.Float64()
		var cumulative float64
		if initialF > 0 {
			cumulative = valueF/initialF - 1
		}
		curve = append(curve, types.EquityCurvePoint{
			Date:             day,
			Value:            value,
			Cash:             exec.Cash(),
			CumulativeReturn: cumulative,
		})
		e.metrics.SetPortfolioValue(valueF)
	}

	benchInRange := barsIn(benchBars, cfg.StartDate, cfg.EndDate)
	calc := NewCalculator(cfg.RiskFreeRate)
	perf := calc.Compute(curve, txs, benchInRange, cfg.InitialCash)

	result := &types.BacktestResult{
		Config:           cfg,
		Metrics:          perf,
		EquityCurve:      curve,
		Rebalances:       rebalances,
		Transactions:     txs,
		DataQualityNotes: notes,
		StartedAt:        startedAt,
		CompletedAt:      time.Now(),
		Duration:         time.Since(startedAt),
	}

	e.logger.Info("Backtest completed",
		zap.String("id", cfg.ID),
		zap.String("finalValue", perf.FinalValue.String()),
		zap.Float64("totalReturn", perf.TotalReturn),
		zap.Int("transactions", len(txs)),
		zap.Int("dataGaps", len(notes)),
	)
	return result, nil
}

// rebalance performs one scheduled re-selection: regime classification,
// universe scoring, risk vetoes, target construction and trade realization.
// A scoring collaborator batch failure skips the period and keeps current
// holdings; per-symbol gaps only exclude the affected symbols.
func (e *Engine) rebalance(
	ctx context.Context,
	cfg *types.BacktestConfig,
	day time.Time,
	universe []string,
	benchBars []types.PriceBar,
	prices map[string]decimal.Decimal,
	book *risk.Manager,
	exec *execution.Executor,
	selector *selection.Selector,
) (*types.RebalanceEvent, []types.DataQualityNote, []types.Transaction, map[string]types.ScoreResult, types.Regime, error) {
	reg := types.Regime{Trend: types.TrendSideways, Volatility: types.VolNormal, EffectiveDate: day}
	alloc := e.table.Baseline()
	if cfg.EnableRegimeDetection {
		reg = e.classifier.Classify(benchBars, day)
		alloc = e.table.Lookup(reg)
	}
	sizing := alloc.Sizing
	if !cfg.EnableRegimeDetection {
		sizing.TargetPositions = cfg.TargetPositions
	}

	var notes []types.DataQualityNote
	var periodTxs []types.Transaction

	scores, err := e.scorer.ScoreUniverse(ctx, universe, day, alloc.Weights)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, nil, nil, reg, ctx.Err()
		}
		// Unresolved collaborator failure downgrades to a data gap for the
		// whole period; holdings stay untouched rather than being sold into
		// an empty target.
		e.logger.Warn("Scoring collaborator failed; skipping rebalance",
			zap.Time("date", day),
			zap.Error(err),
		)
		for _, sym := range universe {
			notes = append(notes, types.DataQualityNote{
				Date: day, Symbol: sym, Reason: "scoring collaborator failure",
			})
			e.metrics.RecordDataGap()
		}
		return nil, notes, nil, nil, reg, nil
	}

	eligible := make(map[string]types.ScoreResult, len(scores))
	for _, sym := range universe {
		res, scored := scores[sym]
		if !scored {
			notes = append(notes, types.DataQualityNote{Date: day, Symbol: sym, Reason: "no score available"})
			e.metrics.RecordDataGap()
			continue
		}
		if _, priced := prices[sym]; !priced {
			notes = append(notes, types.DataQualityNote{Date: day, Symbol: sym, Reason: "no price available"})
			e.metrics.RecordDataGap()
			continue
		}
		eligible[sym] = res
	}

	if cfg.EnableRiskManagement {
		// Fresh momentum sub-scores: crashed holdings exit now, with the
		// momentum-crash reason, instead of being silently rotated out.
		exits := book.EvaluateExits(day, prices, momentumAll(eligible), cfg.MaxHoldingDays)
		if len(exits) > 0 {
			sells, err := exec.ExecuteExits(day, exits)
			if err != nil {
				return nil, notes, periodTxs, eligible, reg, err
			}
			for i, tx := range sells {
				e.metrics.RecordTransaction(string(tx.Action))
				e.metrics.RecordForcedExit(string(exits[i].Reason))
			}
			periodTxs = append(periodTxs, sells...)
		}

		var vetoed []string
		for sym, res := range eligible {
			if !book.Held(sym) && book.VetoEntry(sym, res) {
				vetoed = append(vetoed, sym)
			}
		}
		for _, sym := range vetoed {
			delete(eligible, sym)
		}
	}

	reserve := sizing.CashReservePct
	if cfg.EnableRiskManagement {
		reserve = book.EffectiveCashReserve(reserve, exec.PortfolioValue(prices))
	}

	target := selector.BuildTarget(eligible, sizing, reserve)
	preValue := exec.PortfolioValue(prices)

	sells, buys, err := exec.Rebalance(day, target, prices, eligible)
	if err != nil {
		return nil, notes, periodTxs, eligible, reg, err
	}
	for _, tx := range sells {
		e.metrics.RecordTransaction(string(tx.Action))
	}
	for _, tx := range buys {
		e.metrics.RecordTransaction(string(tx.Action))
	}
	periodTxs = append(periodTxs, sells...)
	periodTxs = append(periodTxs, buys...)

	event := &types.RebalanceEvent{
		Date:          day,
		PreTradeValue: preValue,
		Selected:      target.Selected,
		AverageScore:  target.AverageScore,
		NumPositions:  book.Count(),
		Buys:          buys,
		Sells:         sells,
		Regime:        reg,
	}

	e.logger.Info("Rebalance executed",
		zap.Time("date", day),
		zap.String("regime", reg.String()),
		zap.Int("selected", len(target.Selected)),
		zap.Int("buys", len(buys)),
		zap.Int("sells", len(sells)),
		zap.Float64("avgScore", target.AverageScore),
	)
	return event, notes, periodTxs, eligible, reg, nil
}

// loadIndexes builds a price index per universe symbol. Symbols whose whole
// series is unavailable index as nil and surface as per-period data gaps.
func (e *Engine) loadIndexes(ctx context.Context, universe []string, start, end time.Time) map[string]*data.PriceIndex {
	indexes := make(map[string]*data.PriceIndex, len(universe))
	for _, sym := range universe {
		bars, err := e.prices.GetPriceSeries(ctx, sym, start, end)
		if err != nil {
			e.logger.Warn("Price series unavailable",
				zap.String("symbol", sym),
				zap.Error(err),
			)
			indexes[sym] = nil
			continue
		}
		indexes[sym] = data.NewPriceIndex(bars)
	}
	return indexes
}

func pricesAt(indexes map[string]*data.PriceIndex, day time.Time) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(indexes))
	for sym, idx := range indexes {
		if idx == nil {
			continue
		}
		if price, ok := idx.At(day); ok {
			prices[sym] = price
		}
	}
	return prices
}

// momentumFor extracts momentum sub-scores for held symbols from the most
// recent scoring pass.
func momentumFor(book *risk.Manager, scores map[string]types.ScoreResult) map[string]float64 {
	if scores == nil {
		return nil
	}
	momentum := make(map[string]float64)
	for _, sym := range book.Symbols() {
		if res, ok := scores[sym]; ok {
			momentum[sym] = res.MomentumScore
		}
	}
	return momentum
}

func momentumAll(scores map[string]types.ScoreResult) map[string]float64 {
	momentum := make(map[string]float64, len(scores))
	for sym, res := range scores {
		momentum[sym] = res.MomentumScore
	}
	return momentum
}

func tradingDaysIn(bars []types.PriceBar, start, end time.Time) []time.Time {
	var days []time.Time
	for _, bar := range bars {
		if bar.Date.Before(start) || bar.Date.After(end) {
			continue
		}
		days = append(days, bar.Date)
	}
	return days
}

func barsIn(bars []types.PriceBar, start, end time.Time) []types.PriceBar {
	var out []types.PriceBar
	for _, bar := range bars {
		if bar.Date.Before(start) || bar.Date.After(end) {
			continue
		}
		out = append(out, bar)
	}
	return out
}
