package scoring

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/quantfolio/backtest-engine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSymbolScorer scores symbols by a fixed table and fails the rest.
type fakeSymbolScorer struct {
	scores map[string]float64
}

func (f *fakeSymbolScorer) ScoreSymbol(ctx context.Context, symbol string, asOf time.Time, weights types.AgentWeights) (types.ScoreResult, error) {
	score, ok := f.scores[symbol]
	if !ok {
		return types.ScoreResult{}, &types.ExternalCollaboratorError{
			Collaborator: "scoring",
			Symbol:       symbol,
			Err:          fmt.Errorf("no data"),
		}
	}
	return types.ScoreResult{Score: score}, nil
}

func TestParallelScorerCollectsAllSuccesses(t *testing.T) {
	inner := &fakeSymbolScorer{scores: map[string]float64{"AAPL": 70, "MSFT": 65, "GOOGL": 60}}
	p := NewParallelScorer(zap.NewNop(), inner, 4)

	out, err := p.ScoreUniverse(context.Background(), []string{"AAPL", "MSFT", "GOOGL"}, day(2024, 1, 2), nil)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.InDelta(t, 70, out["AAPL"].Score, 1e-9)
	assert.InDelta(t, 65, out["MSFT"].Score, 1e-9)
}

func TestParallelScorerOmitsFailedSymbols(t *testing.T) {
	inner := &fakeSymbolScorer{scores: map[string]float64{"AAPL": 70}}
	p := NewParallelScorer(zap.NewNop(), inner, 2)

	out, err := p.ScoreUniverse(context.Background(), []string{"AAPL", "BROKEN"}, day(2024, 1, 2), nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Contains(t, out, "AAPL")
}

// blockingScorer holds every call until its context ends.
type blockingScorer struct{}

func (blockingScorer) ScoreSymbol(ctx context.Context, symbol string, asOf time.Time, weights types.AgentWeights) (types.ScoreResult, error) {
	<-ctx.Done()
	return types.ScoreResult{}, ctx.Err()
}

func TestParallelScorerCancelledContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// One worker, two symbols: the dispatch of the second symbol blocks until
	// the deadline fires, which must abort the batch.
	p := NewParallelScorer(zap.NewNop(), blockingScorer{}, 1)

	_, err := p.ScoreUniverse(ctx, []string{"AAPL", "MSFT"}, day(2024, 1, 2), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
