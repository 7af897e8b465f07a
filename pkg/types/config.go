// Package types provides run configuration for the backtest engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cadence is the rebalance frequency.
type Cadence string

const (
	CadenceMonthly   Cadence = "monthly"
	CadenceQuarterly Cadence = "quarterly"
)

// BacktestConfig holds the immutable parameters of one run.
type BacktestConfig struct {
	ID        string    `json:"id" mapstructure:"id"`
	StartDate time.Time `json:"startDate" mapstructure:"start_date"`
	EndDate   time.Time `json:"endDate" mapstructure:"end_date"`
	Cadence   Cadence   `json:"cadence" mapstructure:"cadence"`

	Universe  []string `json:"universe" mapstructure:"universe"`
	Benchmark string   `json:"benchmark" mapstructure:"benchmark"`

	InitialCash     decimal.Decimal `json:"initialCash" mapstructure:"initial_cash"`
	TargetPositions int             `json:"targetPositions" mapstructure:"target_positions"`
	CostRate        decimal.Decimal `json:"costRate" mapstructure:"cost_rate"` // fraction of gross value
	RiskFreeRate    float64         `json:"riskFreeRate" mapstructure:"risk_free_rate"` // annual

	// Selection thresholds. Candidates below all three are excluded for the
	// period regardless of relative rank.
	MinScore            float64  `json:"minScore" mapstructure:"min_score"`
	HighConvictionScore float64  `json:"highConvictionScore" mapstructure:"high_conviction_score"`
	DipBuyScore         float64  `json:"dipBuyScore" mapstructure:"dip_buy_score"`
	DipBuyWhitelist     []string `json:"dipBuyWhitelist" mapstructure:"dip_buy_whitelist"`

	MaxSectorWeight   float64 `json:"maxSectorWeight" mapstructure:"max_sector_weight"`
	MaxPositionWeight float64 `json:"maxPositionWeight" mapstructure:"max_position_weight"`
	MaxHoldingDays    int     `json:"maxHoldingDays" mapstructure:"max_holding_days"` // 0 disables the max-age exit

	RiskLimits RiskLimits `json:"riskLimits" mapstructure:"risk_limits"`

	EnableRegimeDetection bool `json:"enableRegimeDetection" mapstructure:"enable_regime_detection"`
	EnableRiskManagement  bool `json:"enableRiskManagement" mapstructure:"enable_risk_management"`
}

// RiskLimits are the position- and portfolio-level exit thresholds. Stop
// losses are quality-tiered: higher-quality entries tolerate deeper drops.
type RiskLimits struct {
	StopLossHighQuality   float64 `json:"stopLossHighQuality" mapstructure:"stop_loss_high_quality"`     // e.g. -0.25
	StopLossMediumQuality float64 `json:"stopLossMediumQuality" mapstructure:"stop_loss_medium_quality"` // e.g. -0.18
	StopLossLowQuality    float64 `json:"stopLossLowQuality" mapstructure:"stop_loss_low_quality"`       // e.g. -0.10
	HighQualityMin        float64 `json:"highQualityMin" mapstructure:"high_quality_min"`                // quality >= this uses the deep stop
	MediumQualityMin      float64 `json:"mediumQualityMin" mapstructure:"medium_quality_min"`

	TrailingStopPct float64 `json:"trailingStopPct" mapstructure:"trailing_stop_pct"` // vs peak, e.g. -0.20

	MomentumCrashFloor float64 `json:"momentumCrashFloor" mapstructure:"momentum_crash_floor"` // hard exit below this
	MomentumWarnLevel  float64 `json:"momentumWarnLevel" mapstructure:"momentum_warn_level"`   // log-only warning

	// Portfolio-level drawdown protection: when drawdown from the all-time
	// peak exceeds the trigger, the cash reserve target is raised in
	// proportion to the excess, capped at MaxCashReservePct.
	DrawdownTriggerPct float64 `json:"drawdownTriggerPct" mapstructure:"drawdown_trigger_pct"`
	DeRiskScale        float64 `json:"deRiskScale" mapstructure:"de_risk_scale"`
	MaxCashReservePct  float64 `json:"maxCashReservePct" mapstructure:"max_cash_reserve_pct"`
}

// DefaultRiskLimits returns the documented default thresholds.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		StopLossHighQuality:   -0.25,
		StopLossMediumQuality: -0.18,
		StopLossLowQuality:    -0.10,
		HighQualityMin:        70,
		MediumQualityMin:      50,
		TrailingStopPct:       -0.20,
		MomentumCrashFloor:    30,
		MomentumWarnLevel:     45,
		DrawdownTriggerPct:    0.15,
		DeRiskScale:           1.0,
		MaxCashReservePct:     0.50,
	}
}

// DefaultConfig returns a config with documented defaults. Universe, dates
// and benchmark still have to be supplied by the caller.
func DefaultConfig() *BacktestConfig {
	return &BacktestConfig{
		Cadence:             CadenceMonthly,
		InitialCash:         decimal.NewFromInt(100000),
		TargetPositions:     15,
		CostRate:            decimal.NewFromFloat(0.001),
		RiskFreeRate:        0.02,
		MinScore:            55,
		HighConvictionScore: 70,
		DipBuyScore:         50,
		DipBuyWhitelist: []string{
			"AAPL", "MSFT", "GOOGL", "AMZN", "NVDA", "META", "BRK.B", "JNJ", "V", "JPM",
		},
		MaxSectorWeight:       0.40,
		MaxPositionWeight:     0.15,
		RiskLimits:            DefaultRiskLimits(),
		EnableRegimeDetection: true,
		EnableRiskManagement:  true,
	}
}

// StopLossFor returns the quality-tiered stop-loss threshold for an entry
// quality score.
func (rl RiskLimits) StopLossFor(quality float64) float64 {
	switch {
	case quality >= rl.HighQualityMin:
		return rl.StopLossHighQuality
	case quality >= rl.MediumQualityMin:
		return rl.StopLossMediumQuality
	default:
		return rl.StopLossLowQuality
	}
}

// Validate checks the config before a run starts. Any failure is a fatal
// ConfigurationError; nothing has been executed yet.
func (c *BacktestConfig) Validate() error {
	if len(c.Universe) == 0 {
		return &ConfigurationError{Field: "universe", Reason: "must contain at least one symbol"}
	}
	if c.Benchmark == "" {
		return &ConfigurationError{Field: "benchmark", Reason: "must be set"}
	}
	if !c.EndDate.After(c.StartDate) {
		return &ConfigurationError{Field: "end_date", Reason: "must be after start_date"}
	}
	if c.Cadence != CadenceMonthly && c.Cadence != CadenceQuarterly {
		return &ConfigurationError{Field: "cadence", Reason: "must be monthly or quarterly"}
	}
	if c.InitialCash.LessThanOrEqual(decimal.Zero) {
		return &ConfigurationError{Field: "initial_cash", Reason: "must be positive"}
	}
	if c.TargetPositions <= 0 {
		return &ConfigurationError{Field: "target_positions", Reason: "must be positive"}
	}
	if c.CostRate.IsNegative() {
		return &ConfigurationError{Field: "cost_rate", Reason: "must not be negative"}
	}
	if c.MinScore < 0 || c.MinScore > 100 {
		return &ConfigurationError{Field: "min_score", Reason: "must be within [0,100]"}
	}
	if c.MaxSectorWeight <= 0 || c.MaxSectorWeight > 1 {
		return &ConfigurationError{Field: "max_sector_weight", Reason: "must be within (0,1]"}
	}
	if c.MaxPositionWeight < 0 || c.MaxPositionWeight > 1 {
		return &ConfigurationError{Field: "max_position_weight", Reason: "must be within [0,1]"}
	}
	if c.MaxHoldingDays < 0 {
		return &ConfigurationError{Field: "max_holding_days", Reason: "must not be negative"}
	}
	rl := c.RiskLimits
	if rl.StopLossHighQuality >= 0 || rl.StopLossMediumQuality >= 0 || rl.StopLossLowQuality >= 0 {
		return &ConfigurationError{Field: "risk_limits", Reason: "stop-loss thresholds must be negative"}
	}
	if rl.TrailingStopPct >= 0 {
		return &ConfigurationError{Field: "risk_limits.trailing_stop_pct", Reason: "must be negative"}
	}
	if rl.MaxCashReservePct < 0 || rl.MaxCashReservePct > 1 {
		return &ConfigurationError{Field: "risk_limits.max_cash_reserve_pct", Reason: "must be within [0,1]"}
	}
	return nil
}
