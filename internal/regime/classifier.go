// Package regime classifies the market into trend x volatility states from
// benchmark prices and maps each state to agent weights and sizing.
package regime

import (
	"math"
	"sort"
	"time"

	"github.com/quantfolio/backtest-engine/pkg/types"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// ClassifierConfig configures the trend and volatility signals.
type ClassifierConfig struct {
	ShortWindow int     // short moving average, trading days
	LongWindow  int     // long moving average, trading days
	VolWindow   int     // realized volatility window, trading days
	VolLookback int     // trailing distribution for vol percentile bands
	LowVolPct   float64 // below this percentile -> LOW
	HighVolPct  float64 // above this percentile -> HIGH
}

// DefaultClassifierConfig returns the documented defaults.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		ShortWindow: 20,
		LongWindow:  50,
		VolWindow:   60,
		VolLookback: 252,
		LowVolPct:   0.25,
		HighVolPct:  0.75,
	}
}

// Classifier derives the market regime from a benchmark price series. It
// holds no portfolio state and never mutates its inputs.
type Classifier struct {
	logger *zap.Logger
	config ClassifierConfig
}

// NewClassifier creates a regime classifier.
func NewClassifier(logger *zap.Logger, config ClassifierConfig) *Classifier {
	return &Classifier{logger: logger, config: config}
}

// Classify computes the regime as of asOf using only bars dated at or
// before asOf. With insufficient history it defaults to SIDEWAYS/NORMAL.
func (c *Classifier) Classify(bars []types.PriceBar, asOf time.Time) types.Regime {
	closes := closesUpTo(bars, asOf)

	regime := types.Regime{
		Trend:         types.TrendSideways,
		Volatility:    types.VolNormal,
		EffectiveDate: asOf,
	}

	if trend, ok := c.classifyTrend(closes); ok {
		regime.Trend = trend
	}
	if vol, ok := c.classifyVolatility(closes); ok {
		regime.Volatility = vol
	}

	c.logger.Debug("Regime classified",
		zap.Time("asOf", asOf),
		zap.String("regime", regime.String()),
		zap.Int("history", len(closes)),
	)
	return regime
}

func closesUpTo(bars []types.PriceBar, asOf time.Time) []float64 {
	end := sort.Search(len(bars), func(i int) bool { return bars[i].Date.After(asOf) })
	closes := make([]float64, end)
	for i := 0; i < end; i++ {
		closes[i], _ = bars[i].Close.Float64()
	}
	return closes
}

// classifyTrend compares the latest close against its short and long moving
// averages. BULL requires both short-above-long and price-above-long; BEAR
// requires both below.
func (c *Classifier) classifyTrend(closes []float64) (types.Trend, bool) {
	if len(closes) < c.config.LongWindow {
		return types.TrendSideways, false
	}

	price := closes[len(closes)-1]
	short := stat.Mean(closes[len(closes)-c.config.ShortWindow:], nil)
	long := stat.Mean(closes[len(closes)-c.config.LongWindow:], nil)

	switch {
	case short > long && price > long:
		return types.TrendBull, true
	case short < long && price < long:
		return types.TrendBear, true
	default:
		return types.TrendSideways, true
	}
}

// classifyVolatility compares the current annualized realized volatility
// against the percentile bands of its own trailing distribution.
func (c *Classifier) classifyVolatility(closes []float64) (types.Volatility, bool) {
	returns := dailyReturns(closes)
	// Need enough history for the current window plus a meaningful trailing
	// distribution of rolling vols.
	if len(returns) < c.config.VolWindow+c.config.VolWindow/2 {
		return types.VolNormal, false
	}

	lookback := c.config.VolLookback
	if len(returns) < c.config.VolWindow+lookback {
		lookback = len(returns) - c.config.VolWindow
	}

	rolling := make([]float64, 0, lookback)
	for i := len(returns) - lookback; i <= len(returns); i++ {
		window := returns[i-c.config.VolWindow : i]
		rolling = append(rolling, annualizedVol(window))
	}

	current := rolling[len(rolling)-1]
	history := append([]float64(nil), rolling...)
	sort.Float64s(history)

	low := stat.Quantile(c.config.LowVolPct, stat.Empirical, history, nil)
	high := stat.Quantile(c.config.HighVolPct, stat.Empirical, history, nil)

	switch {
	case current < low:
		return types.VolLow, true
	case current > high:
		return types.VolHigh, true
	default:
		return types.VolNormal, true
	}
}

func dailyReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] != 0 {
			returns = append(returns, (closes[i]-closes[i-1])/closes[i-1])
		}
	}
	return returns
}

func annualizedVol(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil) * math.Sqrt(252)
}
