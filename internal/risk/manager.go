// Package risk owns the open-position book between rebalances and enforces
// the position- and portfolio-level exit rules: quality-tiered stop-loss,
// trailing stop, momentum-crash veto, and drawdown de-risking.
package risk

import (
	"sort"
	"time"

	"github.com/quantfolio/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ExitInstruction tells the execution model to close a position. The reason
// is the first trigger detected in priority order; only one instruction is
// emitted per position per step.
type ExitInstruction struct {
	Symbol string
	Reason types.ExitReason
	Price  decimal.Decimal
}

// Manager owns the open positions and the all-time portfolio peak used for
// drawdown protection. Membership changes go through Open and Remove, which
// only the execution model calls.
type Manager struct {
	logger    *zap.Logger
	limits    types.RiskLimits
	positions map[string]*types.Position
	peakValue decimal.Decimal
}

// NewManager creates a risk manager with an empty book.
func NewManager(logger *zap.Logger, limits types.RiskLimits) *Manager {
	return &Manager{
		logger:    logger,
		limits:    limits,
		positions: make(map[string]*types.Position),
	}
}

// Open adds a position to the book. Reports false when the symbol is
// already held.
func (m *Manager) Open(pos types.Position) bool {
	if _, held := m.positions[pos.Symbol]; held {
		return false
	}
	if pos.PeakPrice.IsZero() {
		pos.PeakPrice = pos.EntryPrice
	}
	m.positions[pos.Symbol] = &pos
	return true
}

// Remove deletes a position from the book, returning it. Reports false when
// the symbol is not held.
func (m *Manager) Remove(symbol string) (*types.Position, bool) {
	pos, held := m.positions[symbol]
	if !held {
		return nil, false
	}
	delete(m.positions, symbol)
	return pos, true
}

// Position returns the open position for symbol, if held.
func (m *Manager) Position(symbol string) (*types.Position, bool) {
	pos, held := m.positions[symbol]
	return pos, held
}

// Held reports whether symbol has an open position.
func (m *Manager) Held(symbol string) bool {
	_, held := m.positions[symbol]
	return held
}

// Count returns the number of open positions.
func (m *Manager) Count() int { return len(m.positions) }

// Symbols returns the held symbols in lexicographic order; every walk over
// the book goes through this so decisions stay deterministic.
func (m *Manager) Symbols() []string {
	symbols := make([]string, 0, len(m.positions))
	for s := range m.positions {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// MarketValue sums position values at the given prices. Positions without a
// price fall back to their entry price rather than being valued at zero.
func (m *Manager) MarketValue(prices map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, sym := range m.Symbols() {
		pos := m.positions[sym]
		price, ok := prices[sym]
		if !ok {
			price = pos.EntryPrice
		}
		total = total.Add(pos.MarketValue(price))
	}
	return total
}

// UpdatePeaks ratchets each position's peak price. Peaks never decrease
// while the position remains open.
func (m *Manager) UpdatePeaks(prices map[string]decimal.Decimal) {
	for sym, pos := range m.positions {
		if price, ok := prices[sym]; ok && price.GreaterThan(pos.PeakPrice) {
			pos.PeakPrice = price
		}
	}
}

// EvaluateExits checks every open position against the exit rules and
// returns close instructions. momentum carries current momentum sub-scores
// for held symbols; symbols absent from it skip the momentum check.
// maxHoldingDays <= 0 disables the max-age rule.
func (m *Manager) EvaluateExits(date time.Time, prices map[string]decimal.Decimal, momentum map[string]float64, maxHoldingDays int) []ExitInstruction {
	var exits []ExitInstruction

	for _, sym := range m.Symbols() {
		pos := m.positions[sym]
		price, ok := prices[sym]
		if !ok {
			continue
		}

		reason, triggered := m.checkPosition(pos, price, momentum, date, maxHoldingDays)
		if !triggered {
			continue
		}

		m.logger.Info("Exit triggered",
			zap.String("symbol", sym),
			zap.String("reason", string(reason)),
			zap.Time("date", date),
			zap.String("entry", pos.EntryPrice.String()),
			zap.String("price", price.String()),
		)
		exits = append(exits, ExitInstruction{Symbol: sym, Reason: reason, Price: price})
	}
	return exits
}

// checkPosition applies the exit rules in priority order: stop-loss,
// trailing stop, momentum crash, max age.
func (m *Manager) checkPosition(pos *types.Position, price decimal.Decimal, momentum map[string]float64, date time.Time, maxHoldingDays int) (types.ExitReason, bool) {
	entry, _ := pos.EntryPrice.Float64()
	current, _ := price.Float64()
	peak, _ := pos.PeakPrice.Float64()

	if entry > 0 {
		ret := (current - entry) / entry
		if stop := m.limits.StopLossFor(pos.EntryQuality); ret <= stop {
			return types.ExitStopLoss, true
		}
	}

	// The trailing stop arms only once the peak has risen above entry;
	// below entry the quality-tiered stop-loss governs.
	if peak > entry {
		fromPeak := (current - peak) / peak
		if fromPeak <= m.limits.TrailingStopPct {
			return types.ExitTrailingStop, true
		}
	}

	if mom, ok := momentum[pos.Symbol]; ok {
		if mom < m.limits.MomentumCrashFloor {
			return types.ExitMomentumCrash, true
		}
		if mom < m.limits.MomentumWarnLevel {
			m.logger.Warn("Momentum weakening",
				zap.String("symbol", pos.Symbol),
				zap.Float64("momentum", mom),
			)
		}
	}

	if maxHoldingDays > 0 {
		held := int(date.Sub(pos.EntryDate).Hours() / 24)
		if held >= maxHoldingDays {
			return types.ExitMaxAge, true
		}
	}

	return "", false
}

// VetoEntry rejects a rebalance candidate whose momentum sub-score is
// already below the crash floor; a leading indicator blocks new entries the
// same way it forces exits.
func (m *Manager) VetoEntry(symbol string, res types.ScoreResult) bool {
	if res.MomentumScore < m.limits.MomentumCrashFloor {
		m.logger.Info("Entry vetoed by momentum floor",
			zap.String("symbol", symbol),
			zap.Float64("momentum", res.MomentumScore),
		)
		return true
	}
	return false
}

// RecordPortfolioValue ratchets the all-time portfolio peak.
func (m *Manager) RecordPortfolioValue(value decimal.Decimal) {
	if value.GreaterThan(m.peakValue) {
		m.peakValue = value
	}
}

// EffectiveCashReserve raises the base cash reserve in proportion to how
// far the portfolio has fallen past the drawdown trigger. No single name is
// closed; the reserve target grows instead.
func (m *Manager) EffectiveCashReserve(base float64, current decimal.Decimal) float64 {
	if m.peakValue.IsZero() {
		return base
	}

	peak, _ := m.peakValue.Float64()
	value, _ := current.Float64()
	if peak <= 0 {
		return base
	}

	drawdown := (peak - value) / peak
	if drawdown <= m.limits.DrawdownTriggerPct {
		return base
	}

	reserve := base + (drawdown-m.limits.DrawdownTriggerPct)*m.limits.DeRiskScale
	if reserve > m.limits.MaxCashReservePct {
		reserve = m.limits.MaxCashReservePct
	}
	if reserve < base {
		reserve = base
	}

	m.logger.Info("Drawdown protection raised cash reserve",
		zap.Float64("drawdown", drawdown),
		zap.Float64("baseReserve", base),
		zap.Float64("effectiveReserve", reserve),
	)
	return reserve
}
