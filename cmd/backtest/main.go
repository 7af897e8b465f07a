// Package main runs a historical backtest from a YAML run configuration, a
// directory of per-symbol price CSVs, and a JSON score fixture, writing the
// full serialized result to disk.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/quantfolio/backtest-engine/internal/backtester"
	"github.com/quantfolio/backtest-engine/internal/data"
	"github.com/quantfolio/backtest-engine/internal/scoring"
	"github.com/quantfolio/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "backtest.yaml", "Run configuration file")
	dataDir := flag.String("data", "./data", "Directory of per-symbol price CSVs")
	scoresPath := flag.String("scores", "./scores.json", "Score frames file")
	outPath := flag.String("out", "result.json", "Result output file")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	provider, err := data.LoadCSVDir(logger, *dataDir)
	if err != nil {
		logger.Fatal("Failed to load price data", zap.Error(err))
	}

	scorer, err := scoring.LoadScoresFile(logger, *scoresPath)
	if err != nil {
		logger.Fatal("Failed to load score frames", zap.Error(err))
	}

	engine := backtester.NewEngine(logger, provider, scorer)

	result, err := engine.Run(context.Background(), cfg)
	if err != nil {
		logger.Fatal("Backtest failed", zap.Error(err))
	}

	if err := writeResult(*outPath, result); err != nil {
		logger.Fatal("Failed to write result", zap.Error(err))
	}

	logger.Info("Backtest finished",
		zap.String("id", cfg.ID),
		zap.String("finalValue", result.Metrics.FinalValue.String()),
		zap.Float64("totalReturn", result.Metrics.TotalReturn),
		zap.Float64("cagr", result.Metrics.CAGR),
		zap.Float64("sharpe", result.Metrics.SharpeRatio),
		zap.Float64("maxDrawdown", result.Metrics.MaxDrawdown),
		zap.Int("transactions", len(result.Transactions)),
		zap.String("out", *outPath),
	)
}

// loadConfig reads the YAML run configuration, overlaying it on the
// documented defaults.
func loadConfig(path string) (*types.BacktestConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := types.DefaultConfig()
	cfg.ID = v.GetString("id")

	start, err := time.Parse("2006-01-02", v.GetString("start_date"))
	if err != nil {
		return nil, &types.ConfigurationError{Field: "start_date", Reason: err.Error()}
	}
	end, err := time.Parse("2006-01-02", v.GetString("end_date"))
	if err != nil {
		return nil, &types.ConfigurationError{Field: "end_date", Reason: err.Error()}
	}
	cfg.StartDate = start
	cfg.EndDate = end

	cfg.Universe = v.GetStringSlice("universe")
	cfg.Benchmark = v.GetString("benchmark")

	if v.IsSet("cadence") {
		cfg.Cadence = types.Cadence(v.GetString("cadence"))
	}
	if v.IsSet("initial_cash") {
		cfg.InitialCash = decimal.NewFromFloat(v.GetFloat64("initial_cash"))
	}
	if v.IsSet("target_positions") {
		cfg.TargetPositions = v.GetInt("target_positions")
	}
	if v.IsSet("cost_rate") {
		cfg.CostRate = decimal.NewFromFloat(v.GetFloat64("cost_rate"))
	}
	if v.IsSet("risk_free_rate") {
		cfg.RiskFreeRate = v.GetFloat64("risk_free_rate")
	}
	if v.IsSet("min_score") {
		cfg.MinScore = v.GetFloat64("min_score")
	}
	if v.IsSet("high_conviction_score") {
		cfg.HighConvictionScore = v.GetFloat64("high_conviction_score")
	}
	if v.IsSet("dip_buy_score") {
		cfg.DipBuyScore = v.GetFloat64("dip_buy_score")
	}
	if v.IsSet("dip_buy_whitelist") {
		cfg.DipBuyWhitelist = v.GetStringSlice("dip_buy_whitelist")
	}
	if v.IsSet("max_sector_weight") {
		cfg.MaxSectorWeight = v.GetFloat64("max_sector_weight")
	}
	if v.IsSet("max_position_weight") {
		cfg.MaxPositionWeight = v.GetFloat64("max_position_weight")
	}
	if v.IsSet("max_holding_days") {
		cfg.MaxHoldingDays = v.GetInt("max_holding_days")
	}
	if v.IsSet("enable_regime_detection") {
		cfg.EnableRegimeDetection = v.GetBool("enable_regime_detection")
	}
	if v.IsSet("enable_risk_management") {
		cfg.EnableRiskManagement = v.GetBool("enable_risk_management")
	}

	overlayRiskLimits(v, &cfg.RiskLimits)
	return cfg, nil
}

func overlayRiskLimits(v *viper.Viper, rl *types.RiskLimits) {
	set := func(key string, dst *float64) {
		if v.IsSet("risk_limits." + key) {
			*dst = v.GetFloat64("risk_limits." + key)
		}
	}
	set("stop_loss_high_quality", &rl.StopLossHighQuality)
	set("stop_loss_medium_quality", &rl.StopLossMediumQuality)
	set("stop_loss_low_quality", &rl.StopLossLowQuality)
	set("high_quality_min", &rl.HighQualityMin)
	set("medium_quality_min", &rl.MediumQualityMin)
	set("trailing_stop_pct", &rl.TrailingStopPct)
	set("momentum_crash_floor", &rl.MomentumCrashFloor)
	set("momentum_warn_level", &rl.MomentumWarnLevel)
	set("drawdown_trigger_pct", &rl.DrawdownTriggerPct)
	set("de_risk_scale", &rl.DeRiskScale)
	set("max_cash_reserve_pct", &rl.MaxCashReservePct)
}

func writeResult(path string, result *types.BacktestResult) error {
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0644)
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.Encoding = "console"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	logger, err := config.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}
