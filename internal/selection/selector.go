// Package selection ranks a scored universe and produces the target
// portfolio for a rebalance: who is in, and at what weight. It is purely a
// decision component; realization belongs to the execution model.
package selection

import (
	"math"
	"sort"

	"github.com/quantfolio/backtest-engine/pkg/types"
	"go.uber.org/zap"
)

// Config holds the selection thresholds and diversification limits.
type Config struct {
	MinScore            float64
	HighConvictionScore float64
	DipBuyScore         float64
	DipBuyWhitelist     []string
	MaxSectorWeight     float64
	MaxPositionWeight   float64 // 0 disables the per-position cap
}

// Tier sizing in relative units; normalized against the invested fraction.
const (
	unitHigh   = 1.25
	unitMedium = 1.0
	unitDipBuy = 0.75
)

// Candidate is one ranked, tier-tagged selection survivor.
type Candidate struct {
	Symbol string
	types.ScoreResult
	Tier types.ConvictionTier
}

// TargetPortfolio is the decision output of one rebalance: target weights
// of total portfolio value, the rank-ordered selection, and the cash
// reserve the weights leave uninvested.
type TargetPortfolio struct {
	Weights      map[string]float64
	Selected     []string
	AverageScore float64
	CashReserve  float64
}

// Selector applies entry thresholds, deterministic ranking, sector caps and
// conviction-tier sizing.
type Selector struct {
	logger *zap.Logger
	config Config
	dipBuy map[string]struct{}
}

// NewSelector creates a selector.
func NewSelector(logger *zap.Logger, config Config) *Selector {
	dipBuy := make(map[string]struct{}, len(config.DipBuyWhitelist))
	for _, sym := range config.DipBuyWhitelist {
		dipBuy[sym] = struct{}{}
	}
	return &Selector{logger: logger, config: config, dipBuy: dipBuy}
}

// BuildTarget selects and sizes the target portfolio from the period's
// scores. sizing carries the regime-dependent position count; reservePct is
// the effective cash reserve (possibly raised by drawdown protection).
func (s *Selector) BuildTarget(scores map[string]types.ScoreResult, sizing types.SizingParams, reservePct float64) TargetPortfolio {
	candidates := s.eligible(scores)
	rank(candidates)
	picked := s.applySectorCap(candidates, sizing.TargetPositions)

	target := TargetPortfolio{
		Weights:     make(map[string]float64, len(picked)),
		Selected:    make([]string, 0, len(picked)),
		CashReserve: reservePct,
	}
	if len(picked) == 0 {
		return target
	}

	var totalUnits, totalScore float64
	units := make([]float64, len(picked))
	for i, c := range picked {
		units[i] = tierUnits(c.Tier)
		totalUnits += units[i]
		totalScore += c.Score
	}

	invested := 1.0 - reservePct
	if invested < 0 {
		invested = 0
	}

	for i, c := range picked {
		weight := units[i] / totalUnits * invested
		if s.config.MaxPositionWeight > 0 && weight > s.config.MaxPositionWeight {
			// Capped excess stays in cash rather than being redistributed;
			// redistribution could re-breach the sector cap.
			weight = s.config.MaxPositionWeight
		}
		target.Weights[c.Symbol] = weight
		target.Selected = append(target.Selected, c.Symbol)
	}
	target.AverageScore = totalScore / float64(len(picked))

	s.logger.Debug("Target portfolio built",
		zap.Int("candidates", len(candidates)),
		zap.Int("selected", len(picked)),
		zap.Float64("avgScore", target.AverageScore),
		zap.Float64("cashReserve", reservePct),
	)
	return target
}

// eligible filters the universe by conviction tier. Candidates below every
// threshold are excluded for this period regardless of relative rank.
func (s *Selector) eligible(scores map[string]types.ScoreResult) []Candidate {
	candidates := make([]Candidate, 0, len(scores))
	for sym, res := range scores {
		tier, ok := s.tierFor(sym, res.Score)
		if !ok {
			continue
		}
		candidates = append(candidates, Candidate{Symbol: sym, ScoreResult: res, Tier: tier})
	}
	return candidates
}

// tierFor buckets a composite score into a conviction tier. The dip-buy
// exception admits scores below MinScore only for whitelisted mega-caps.
func (s *Selector) tierFor(symbol string, score float64) (types.ConvictionTier, bool) {
	switch {
	case score >= s.config.HighConvictionScore:
		return types.TierHigh, true
	case score >= s.config.MinScore:
		return types.TierMedium, true
	case score >= s.config.DipBuyScore:
		if _, ok := s.dipBuy[symbol]; ok {
			return types.TierDipBuy, true
		}
	}
	return "", false
}

// rank orders candidates by score desc, confidence desc, then symbol asc so
// the selection is fully deterministic.
func rank(candidates []Candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].Symbol < candidates[j].Symbol
	})
}

// applySectorCap walks the ranked list taking up to target positions while
// keeping each sector at or below floor(maxSectorWeight * target) names.
func (s *Selector) applySectorCap(candidates []Candidate, target int) []Candidate {
	maxPerSector := int(math.Floor(s.config.MaxSectorWeight * float64(target)))
	if maxPerSector < 1 {
		maxPerSector = 1
	}

	picked := make([]Candidate, 0, target)
	perSector := make(map[string]int)
	for _, c := range candidates {
		if len(picked) >= target {
			break
		}
		if c.Sector != "" && perSector[c.Sector] >= maxPerSector {
			s.logger.Debug("Candidate skipped by sector cap",
				zap.String("symbol", c.Symbol),
				zap.String("sector", c.Sector),
			)
			continue
		}
		picked = append(picked, c)
		if c.Sector != "" {
			perSector[c.Sector]++
		}
	}
	return picked
}

func tierUnits(tier types.ConvictionTier) float64 {
	switch tier {
	case types.TierHigh:
		return unitHigh
	case types.TierDipBuy:
		return unitDipBuy
	default:
		return unitMedium
	}
}
