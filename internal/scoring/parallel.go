// Package scoring provides bounded parallel fan-out over a per-symbol
// scorer. This is the only concurrency in the engine's orbit: many symbols,
// one date, no ordering requirement on the fan-out.
package scoring

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/quantfolio/backtest-engine/pkg/types"
	"go.uber.org/zap"
)

// ParallelScorer adapts a SymbolScorer into a batch Scorer using a bounded
// worker pool. Per-symbol failures are downgraded to omissions (the engine
// records them as data gaps); only a cancelled context aborts the batch.
type ParallelScorer struct {
	logger  *zap.Logger
	scorer  SymbolScorer
	workers int
}

// NewParallelScorer creates a fan-out scorer. workers <= 0 defaults to
// 2x CPUs, matching the I/O-bound profile of scoring collaborators.
func NewParallelScorer(logger *zap.Logger, scorer SymbolScorer, workers int) *ParallelScorer {
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}
	return &ParallelScorer{logger: logger, scorer: scorer, workers: workers}
}

// ScoreUniverse scores all symbols concurrently and returns the partial map
// of successes.
func (p *ParallelScorer) ScoreUniverse(ctx context.Context, symbols []string, asOf time.Time, weights types.AgentWeights) (map[string]types.ScoreResult, error) {
	type scored struct {
		symbol string
		result types.ScoreResult
	}

	jobs := make(chan string)
	results := make(chan scored, len(symbols))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range jobs {
				res, err := p.scorer.ScoreSymbol(ctx, sym, asOf, weights)
				if err != nil {
					p.logger.Warn("Symbol scoring failed",
						zap.String("symbol", sym),
						zap.Time("asOf", asOf),
						zap.Error(err),
					)
					continue
				}
				results <- scored{symbol: sym, result: res}
			}
		}()
	}

	for _, sym := range symbols {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return nil, ctx.Err()
		case jobs <- sym:
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	out := make(map[string]types.ScoreResult, len(symbols))
	for r := range results {
		out[r.symbol] = r.result
	}
	return out, nil
}
