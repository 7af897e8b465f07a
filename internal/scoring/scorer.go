// Package scoring defines the contract with the per-security scoring
// collaborator and ships fixture implementations used by tests and the CLI.
package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/quantfolio/backtest-engine/pkg/types"
	"go.uber.org/zap"
)

// Scorer scores a universe of symbols as of a date using the given agent
// weight vector. Implementations must only use data available as of asOf.
// A partial map is a valid response: the engine treats missing symbols as
// ineligible for that period.
type Scorer interface {
	ScoreUniverse(ctx context.Context, symbols []string, asOf time.Time, weights types.AgentWeights) (map[string]types.ScoreResult, error)
}

// SymbolScorer scores a single symbol. ParallelScorer adapts one into a
// batch Scorer with bounded fan-out.
type SymbolScorer interface {
	ScoreSymbol(ctx context.Context, symbol string, asOf time.Time, weights types.AgentWeights) (types.ScoreResult, error)
}

// Frame is one symbol's raw agent scores on one date, before weighting.
type Frame struct {
	AgentScores   map[string]float64 `json:"agents"` // agent name -> 0-100
	Confidence    float64            `json:"confidence"`
	QualityScore  float64            `json:"qualityScore"`
	MomentumScore float64            `json:"momentumScore"`
	Sector        string             `json:"sector"`
}

// StaticScorer serves scores from preloaded frames keyed by date. The frame
// effective for a request is the latest one dated at or before asOf, so the
// fixture never leaks future information.
type StaticScorer struct {
	logger *zap.Logger
	dates  []time.Time
	frames map[time.Time]map[string]Frame
}

// NewStaticScorer creates a scorer over date-keyed frames.
func NewStaticScorer(logger *zap.Logger, frames map[time.Time]map[string]Frame) *StaticScorer {
	dates := make([]time.Time, 0, len(frames))
	for d := range frames {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	return &StaticScorer{logger: logger, dates: dates, frames: frames}
}

// LoadScoresFile reads a JSON document of the form
// {"2024-01-02": {"AAPL": {"agents": {"momentum": 80, ...}, ...}}}.
func LoadScoresFile(logger *zap.Logger, path string) (*StaticScorer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scores file: %w", err)
	}

	var keyed map[string]map[string]Frame
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil, fmt.Errorf("failed to parse scores file: %w", err)
	}

	frames := make(map[time.Time]map[string]Frame, len(keyed))
	for k, v := range keyed {
		date, err := time.Parse("2006-01-02", k)
		if err != nil {
			return nil, fmt.Errorf("bad frame date %q: %w", k, err)
		}
		frames[date] = v
	}

	logger.Info("Score frames loaded", zap.Int("frames", len(frames)), zap.String("path", path))
	return NewStaticScorer(logger, frames), nil
}

// ScoreUniverse composites each requested symbol's agent scores with the
// given weights. Symbols absent from the effective frame are omitted.
func (s *StaticScorer) ScoreUniverse(ctx context.Context, symbols []string, asOf time.Time, weights types.AgentWeights) (map[string]types.ScoreResult, error) {
	frame, ok := s.frameAt(asOf)
	if !ok {
		return map[string]types.ScoreResult{}, nil
	}

	out := make(map[string]types.ScoreResult, len(symbols))
	for _, sym := range symbols {
		entry, ok := frame[sym]
		if !ok {
			continue
		}
		out[sym] = types.ScoreResult{
			Score:         Composite(entry.AgentScores, weights),
			Confidence:    entry.Confidence,
			QualityScore:  entry.QualityScore,
			MomentumScore: entry.MomentumScore,
			Sector:        entry.Sector,
		}
	}
	return out, nil
}

// frameAt returns the latest frame dated at or before asOf.
func (s *StaticScorer) frameAt(asOf time.Time) (map[string]Frame, bool) {
	i := sort.Search(len(s.dates), func(i int) bool { return s.dates[i].After(asOf) })
	if i == 0 {
		return nil, false
	}
	return s.frames[s.dates[i-1]], true
}

// Composite combines per-agent scores with an agent weight vector. Agents
// missing from either side are skipped and the remaining weights are
// renormalized so a partial vector still yields a 0-100 score.
func Composite(agentScores map[string]float64, weights types.AgentWeights) float64 {
	var weighted, used float64
	for agent, w := range weights {
		score, ok := agentScores[agent]
		if !ok {
			continue
		}
		weighted += w * score
		used += w
	}
	if used == 0 {
		return 0
	}
	return weighted / used
}
