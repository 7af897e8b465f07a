package regime

import (
	"testing"
	"time"

	"github.com/quantfolio/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func barsFrom(start time.Time, closes []float64) []types.PriceBar {
	bars := make([]types.PriceBar, len(closes))
	for i, c := range closes {
		bars[i] = types.PriceBar{
			Date:  start.AddDate(0, 0, i),
			Close: decimal.NewFromFloat(c),
		}
	}
	return bars
}

func linear(start, step float64, n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = start + step*float64(i)
	}
	return closes
}

func TestClassifyDefaultsOnInsufficientHistory(t *testing.T) {
	c := NewClassifier(zap.NewNop(), DefaultClassifierConfig())
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	bars := barsFrom(start, linear(100, 1, 10))
	regime := c.Classify(bars, start.AddDate(0, 0, 9))

	assert.Equal(t, types.TrendSideways, regime.Trend)
	assert.Equal(t, types.VolNormal, regime.Volatility)
}

func TestClassifyTrendDirections(t *testing.T) {
	c := NewClassifier(zap.NewNop(), DefaultClassifierConfig())
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	rising := barsFrom(start, linear(100, 1, 60))
	regime := c.Classify(rising, rising[len(rising)-1].Date)
	assert.Equal(t, types.TrendBull, regime.Trend)

	falling := barsFrom(start, linear(200, -1, 60))
	regime = c.Classify(falling, falling[len(falling)-1].Date)
	assert.Equal(t, types.TrendBear, regime.Trend)
}

func TestClassifyIgnoresFutureBars(t *testing.T) {
	c := NewClassifier(zap.NewNop(), DefaultClassifierConfig())
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	rising := linear(100, 1, 60)
	asOf := start.AddDate(0, 0, 59)

	// A crash strictly after asOf must not change the classification.
	crashed := append(append([]float64(nil), rising...), linear(80, -1, 60)...)

	withFuture := c.Classify(barsFrom(start, crashed), asOf)
	withoutFuture := c.Classify(barsFrom(start, rising), asOf)

	assert.Equal(t, withoutFuture.Trend, withFuture.Trend)
	assert.Equal(t, withoutFuture.Volatility, withFuture.Volatility)
	assert.Equal(t, types.TrendBull, withFuture.Trend)
}

func TestClassifyVolatilityBands(t *testing.T) {
	cfg := DefaultClassifierConfig()
	c := NewClassifier(zap.NewNop(), cfg)
	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

	// Calm drift for a year, then a violently alternating tail: the current
	// rolling vol sits at the top of its own trailing distribution.
	closes := linear(100, 0.1, 300)
	level := closes[len(closes)-1]
	for i := 0; i < cfg.VolWindow; i++ {
		if i%2 == 0 {
			closes = append(closes, level*1.05)
		} else {
			closes = append(closes, level*0.95)
		}
	}

	regime := c.Classify(barsFrom(start, closes), start.AddDate(0, 0, len(closes)-1))
	assert.Equal(t, types.VolHigh, regime.Volatility)
}
