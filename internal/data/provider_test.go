package data

import (
	"context"
	"testing"
	"time"

	"github.com/quantfolio/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func bar(y int, m time.Month, d int, close float64) types.PriceBar {
	return types.PriceBar{Date: day(y, m, d), Close: decimal.NewFromFloat(close)}
}

func TestMemoryProviderWindowing(t *testing.T) {
	p := NewMemoryProvider(zap.NewNop())
	p.AddSeries("AAPL", []types.PriceBar{
		bar(2024, 1, 2, 100),
		bar(2024, 1, 3, 101),
		bar(2024, 1, 4, 102),
		bar(2024, 1, 5, 103),
	})

	bars, err := p.GetPriceSeries(context.Background(), "AAPL", day(2024, 1, 3), day(2024, 1, 4))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, day(2024, 1, 3), bars[0].Date)
	assert.Equal(t, day(2024, 1, 4), bars[1].Date)
}

func TestMemoryProviderSortsUnorderedInput(t *testing.T) {
	p := NewMemoryProvider(zap.NewNop())
	p.AddSeries("MSFT", []types.PriceBar{
		bar(2024, 1, 5, 103),
		bar(2024, 1, 2, 100),
		bar(2024, 1, 3, 101),
	})

	bars, err := p.GetPriceSeries(context.Background(), "MSFT", day(2024, 1, 1), day(2024, 1, 31))
	require.NoError(t, err)
	require.Len(t, bars, 3)
	for i := 1; i < len(bars); i++ {
		assert.True(t, bars[i].Date.After(bars[i-1].Date))
	}
}

func TestMemoryProviderDataGaps(t *testing.T) {
	p := NewMemoryProvider(zap.NewNop())
	p.AddSeries("AAPL", []types.PriceBar{bar(2024, 1, 2, 100)})

	_, err := p.GetPriceSeries(context.Background(), "TSLA", day(2024, 1, 1), day(2024, 1, 31))
	assert.True(t, types.IsDataGap(err))

	_, err = p.GetPriceSeries(context.Background(), "AAPL", day(2025, 1, 1), day(2025, 1, 31))
	assert.True(t, types.IsDataGap(err))
}

func TestMemoryProviderSymbols(t *testing.T) {
	p := NewMemoryProvider(zap.NewNop())
	p.AddSeries("MSFT", []types.PriceBar{bar(2024, 1, 2, 400)})
	p.AddSeries("AAPL", []types.PriceBar{bar(2024, 1, 2, 100)})

	assert.Equal(t, []string{"AAPL", "MSFT"}, p.Symbols())
}

func TestPriceIndexCarryForward(t *testing.T) {
	idx := NewPriceIndex([]types.PriceBar{
		bar(2024, 1, 2, 100),
		bar(2024, 1, 3, 101),
		bar(2024, 1, 8, 105),
	})

	// Exact hit.
	price, ok := idx.At(day(2024, 1, 3))
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromInt(101)))

	// Weekend gap carries the latest prior close forward.
	price, ok = idx.At(day(2024, 1, 6))
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromInt(101)))

	// Before the first bar there is nothing to carry.
	_, ok = idx.At(day(2024, 1, 1))
	assert.False(t, ok)

	assert.Equal(t, 3, idx.Len())
}
