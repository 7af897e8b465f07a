// Package types provides shared type definitions for the backtest engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action represents the direction of a transaction.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// ExitReason tags why a position was closed. When several triggers fire on
// the same step, the emitted transaction carries the highest-priority reason
// in the order listed here.
type ExitReason string

const (
	ExitStopLoss      ExitReason = "stop-loss"
	ExitTrailingStop  ExitReason = "trailing-stop"
	ExitMomentumCrash ExitReason = "momentum-crash"
	ExitRebalance     ExitReason = "rebalance"
	ExitMaxAge        ExitReason = "max-age"
)

// Trend classifies the benchmark's directional state.
type Trend string

const (
	TrendBull     Trend = "BULL"
	TrendBear     Trend = "BEAR"
	TrendSideways Trend = "SIDEWAYS"
)

// Volatility classifies the benchmark's realized volatility band.
type Volatility string

const (
	VolLow    Volatility = "LOW"
	VolNormal Volatility = "NORMAL"
	VolHigh   Volatility = "HIGH"
)

// Regime is the trend x volatility market state as of a given date. It is
// derived only from benchmark prices at or before EffectiveDate.
type Regime struct {
	Trend         Trend      `json:"trend"`
	Volatility    Volatility `json:"volatility"`
	EffectiveDate time.Time  `json:"effectiveDate"`
}

// String returns the canonical "TREND/VOL" form used in logs and lookups.
func (r Regime) String() string {
	return string(r.Trend) + "/" + string(r.Volatility)
}

// AgentWeights maps scoring agent name to its weight in the composite score.
// Weights are expected to sum to 1.0.
type AgentWeights map[string]float64

// Sum returns the total weight across all agents.
func (w AgentWeights) Sum() float64 {
	var total float64
	for _, v := range w {
		total += v
	}
	return total
}

// SizingParams are the regime-dependent portfolio sizing knobs.
type SizingParams struct {
	TargetPositions int     `json:"targetPositions"`
	CashReservePct  float64 `json:"cashReservePct"`
}

// ConvictionTier is the discrete sizing bucket derived from composite score.
type ConvictionTier string

const (
	TierHigh   ConvictionTier = "high"
	TierMedium ConvictionTier = "medium"
	TierDipBuy ConvictionTier = "dip-buy"
)

// ScoreResult is the scoring collaborator's output for one symbol/date.
type ScoreResult struct {
	Score         float64 `json:"score"`         // composite, 0-100
	Confidence    float64 `json:"confidence"`    // 0-1
	QualityScore  float64 `json:"qualityScore"`  // 0-100
	MomentumScore float64 `json:"momentumScore"` // 0-100
	Sector        string  `json:"sector"`
}

// PriceBar is a single close observation for a symbol.
type PriceBar struct {
	Date  time.Time       `json:"date"`
	Close decimal.Decimal `json:"close"`
}

// Position is an open holding. It is created on a BUY, its PeakPrice is
// ratcheted upward on every evaluation step, and it is removed on a SELL.
type Position struct {
	Symbol       string          `json:"symbol"`
	Shares       decimal.Decimal `json:"shares"`
	EntryPrice   decimal.Decimal `json:"entryPrice"`
	EntryDate    time.Time       `json:"entryDate"`
	EntryCost    decimal.Decimal `json:"entryCost"` // transaction cost paid on entry
	EntryScore   float64         `json:"entryScore"`
	EntryQuality float64         `json:"entryQuality"`
	Sector       string          `json:"sector"`
	PeakPrice    decimal.Decimal `json:"peakPrice"` // highest close since entry, never decreases
}

// MarketValue returns the position value at the given price.
func (p *Position) MarketValue(price decimal.Decimal) decimal.Decimal {
	return p.Shares.Mul(price)
}

// Transaction is an immutable record of one executed trade. SELL records
// carry realized PnL net of both legs' transaction costs.
type Transaction struct {
	ID             string          `json:"id"`
	Date           time.Time       `json:"date"`
	Action         Action          `json:"action"`
	Symbol         string          `json:"symbol"`
	Shares         decimal.Decimal `json:"shares"`
	Price          decimal.Decimal `json:"price"`
	GrossValue     decimal.Decimal `json:"grossValue"`
	Cost           decimal.Decimal `json:"cost"`
	RealizedPnL    decimal.Decimal `json:"realizedPnl,omitempty"`
	RealizedPnLPct float64         `json:"realizedPnlPct,omitempty"`
	HoldingDays    int             `json:"holdingDays,omitempty"`
	Reason         ExitReason      `json:"reason,omitempty"`
}

// RebalanceEvent records one rebalance: what was selected, what traded, and
// the regime that drove the decision.
type RebalanceEvent struct {
	Date          time.Time     `json:"date"`
	PreTradeValue decimal.Decimal `json:"preTradeValue"`
	Selected      []string      `json:"selected"`
	AverageScore  float64       `json:"averageScore"`
	NumPositions  int           `json:"numPositions"`
	Buys          []Transaction `json:"buys"`
	Sells         []Transaction `json:"sells"`
	Regime        Regime        `json:"regime"`
}

// EquityCurvePoint is one post-trade snapshot of portfolio state. Points are
// appended in chronological order and never revised.
type EquityCurvePoint struct {
	Date             time.Time       `json:"date"`
	Value            decimal.Decimal `json:"value"`
	Cash             decimal.Decimal `json:"cash"`
	CumulativeReturn float64         `json:"cumulativeReturn"`
}

// DataQualityNote records a symbol excluded from a period due to missing or
// failed data. A completed run enumerates all such exclusions on its result.
type DataQualityNote struct {
	Date   time.Time `json:"date"`
	Symbol string    `json:"symbol"`
	Reason string    `json:"reason"`
}

// PerformanceMetrics are the terminal summary statistics. Ratio metrics are
// float64; money amounts stay decimal.
type PerformanceMetrics struct {
	FinalValue          decimal.Decimal `json:"finalValue"`
	TotalReturn         float64         `json:"totalReturn"`
	CAGR                float64         `json:"cagr"`
	Volatility          float64         `json:"volatility"` // annualized
	SharpeRatio         float64         `json:"sharpeRatio"`
	SortinoRatio        float64         `json:"sortinoRatio"`
	CalmarRatio         float64         `json:"calmarRatio"`
	MaxDrawdown         float64         `json:"maxDrawdown"`
	MaxDrawdownDays     int             `json:"maxDrawdownDays"` // longest peak-to-recovery span
	Alpha               float64         `json:"alpha"`           // annualized
	Beta                float64         `json:"beta"`
	WinRate             float64         `json:"winRate"`
	ProfitFactor        float64         `json:"profitFactor"`
	InformationRatio    float64         `json:"informationRatio"`
	BenchmarkReturn     float64         `json:"benchmarkReturn"`
	TotalTransactions   int             `json:"totalTransactions"`
	TotalTransactionCost decimal.Decimal `json:"totalTransactionCost"`
}

// BacktestResult is the terminal aggregate of a completed run. It contains
// everything needed to reconstruct how the metrics were derived. Identical
// runs produce identical results except for StartedAt, CompletedAt and
// Duration, which are wall-clock run metadata.
type BacktestResult struct {
	Config           *BacktestConfig    `json:"config"`
	Metrics          PerformanceMetrics `json:"metrics"`
	EquityCurve      []EquityCurvePoint `json:"equityCurve"`
	Rebalances       []RebalanceEvent   `json:"rebalances"`
	Transactions     []Transaction      `json:"transactions"`
	DataQualityNotes []DataQualityNote  `json:"dataQualityNotes"`
	StartedAt        time.Time          `json:"startedAt"`
	CompletedAt      time.Time          `json:"completedAt"`
	Duration         time.Duration      `json:"duration"`
}
