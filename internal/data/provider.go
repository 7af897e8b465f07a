// Package data provides historical price access for the backtest engine.
package data

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/quantfolio/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PriceProvider supplies close-price series. Implementations must return
// bars in chronological order and only data dated within [start, end].
type PriceProvider interface {
	GetPriceSeries(ctx context.Context, symbol string, start, end time.Time) ([]types.PriceBar, error)
}

// MemoryProvider is an in-memory PriceProvider backed by preloaded series.
// It is the provider used in tests and by the CSV loader.
type MemoryProvider struct {
	mu     sync.RWMutex
	logger *zap.Logger
	series map[string][]types.PriceBar
}

// NewMemoryProvider creates an empty in-memory provider.
func NewMemoryProvider(logger *zap.Logger) *MemoryProvider {
	return &MemoryProvider{
		logger: logger,
		series: make(map[string][]types.PriceBar),
	}
}

// AddSeries registers a symbol's bars. Bars are copied and sorted by date.
func (p *MemoryProvider) AddSeries(symbol string, bars []types.PriceBar) {
	p.mu.Lock()
	defer p.mu.Unlock()

	copied := make([]types.PriceBar, len(bars))
	copy(copied, bars)
	sort.Slice(copied, func(i, j int) bool { return copied[i].Date.Before(copied[j].Date) })
	p.series[symbol] = copied
}

// Symbols returns the registered symbols in lexicographic order.
func (p *MemoryProvider) Symbols() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	symbols := make([]string, 0, len(p.series))
	for s := range p.series {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// GetPriceSeries returns the bars for symbol within [start, end]. A symbol
// with no data in the window yields a DataGapError.
func (p *MemoryProvider) GetPriceSeries(ctx context.Context, symbol string, start, end time.Time) ([]types.PriceBar, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	bars, ok := p.series[symbol]
	if !ok {
		return nil, &types.DataGapError{Symbol: symbol, Date: start, Reason: "symbol not available"}
	}

	lo := sort.Search(len(bars), func(i int) bool { return !bars[i].Date.Before(start) })
	hi := sort.Search(len(bars), func(i int) bool { return bars[i].Date.After(end) })
	if lo >= hi {
		return nil, &types.DataGapError{Symbol: symbol, Date: start, Reason: "no bars in requested range"}
	}

	out := make([]types.PriceBar, hi-lo)
	copy(out, bars[lo:hi])
	return out, nil
}

// PriceIndex provides O(log n) lookup of the latest close at or before a
// date. The engine builds one per symbol at run start so that intra-period
// risk checks never re-fetch.
type PriceIndex struct {
	dates  []time.Time
	closes []decimal.Decimal
}

// NewPriceIndex builds an index from chronologically ordered bars.
func NewPriceIndex(bars []types.PriceBar) *PriceIndex {
	idx := &PriceIndex{
		dates:  make([]time.Time, len(bars)),
		closes: make([]decimal.Decimal, len(bars)),
	}
	for i, b := range bars {
		idx.dates[i] = b.Date
		idx.closes[i] = b.Close
	}
	return idx
}

// At returns the latest close at or before date. The second return is false
// when no bar exists at or before the date.
func (idx *PriceIndex) At(date time.Time) (decimal.Decimal, bool) {
	i := sort.Search(len(idx.dates), func(i int) bool { return idx.dates[i].After(date) })
	if i == 0 {
		return decimal.Zero, false
	}
	return idx.closes[i-1], true
}

// Len returns the number of indexed bars.
func (idx *PriceIndex) Len() int { return len(idx.dates) }
