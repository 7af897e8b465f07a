// Package telemetry holds the Prometheus metrics for the backtest engine.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the registry of engine instrumentation. It is optional on the
// engine; a nil *Metrics disables all recording.
type Metrics struct {
	Transactions   *prometheus.CounterVec
	ForcedExits    *prometheus.CounterVec
	DataGaps       prometheus.Counter
	Rebalances     prometheus.Counter
	RegimeSwitches *prometheus.CounterVec
	PortfolioValue prometheus.Gauge
}

// NewMetrics creates and registers the engine metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtest_transactions_total",
				Help: "Total transactions executed by action",
			},
			[]string{"action"},
		),
		ForcedExits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtest_forced_exits_total",
				Help: "Total risk-driven position closes by reason",
			},
			[]string{"reason"},
		),
		DataGaps: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "backtest_data_gaps_total",
				Help: "Total symbol/period exclusions due to missing data",
			},
		),
		Rebalances: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "backtest_rebalances_total",
				Help: "Total rebalance events processed",
			},
		),
		RegimeSwitches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtest_regime_switches_total",
				Help: "Total regime transitions by new regime",
			},
			[]string{"regime"},
		),
		PortfolioValue: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "backtest_portfolio_value",
				Help: "Portfolio value at the most recent evaluation step",
			},
		),
	}

	reg.MustRegister(
		m.Transactions,
		m.ForcedExits,
		m.DataGaps,
		m.Rebalances,
		m.RegimeSwitches,
		m.PortfolioValue,
	)
	return m
}

// RecordTransaction counts one executed transaction.
func (m *Metrics) RecordTransaction(action string) {
	if m == nil {
		return
	}
	m.Transactions.WithLabelValues(action).Inc()
}

// RecordForcedExit counts one risk-driven close.
func (m *Metrics) RecordForcedExit(reason string) {
	if m == nil {
		return
	}
	m.ForcedExits.WithLabelValues(reason).Inc()
}

// RecordDataGap counts one symbol/period exclusion.
func (m *Metrics) RecordDataGap() {
	if m == nil {
		return
	}
	m.DataGaps.Inc()
}

// RecordRebalance counts one rebalance event.
func (m *Metrics) RecordRebalance() {
	if m == nil {
		return
	}
	m.Rebalances.Inc()
}

// RecordRegimeSwitch counts a transition into the named regime.
func (m *Metrics) RecordRegimeSwitch(regime string) {
	if m == nil {
		return
	}
	m.RegimeSwitches.WithLabelValues(regime).Inc()
}

// SetPortfolioValue updates the portfolio value gauge.
func (m *Metrics) SetPortfolioValue(value float64) {
	if m == nil {
		return
	}
	m.PortfolioValue.Set(value)
}
