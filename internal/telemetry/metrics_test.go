package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecording(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordTransaction("BUY")
	m.RecordTransaction("BUY")
	m.RecordTransaction("SELL")
	m.RecordForcedExit("stop-loss")
	m.RecordDataGap()
	m.RecordRebalance()
	m.RecordRegimeSwitch("BULL/LOW")
	m.SetPortfolioValue(123456.78)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Transactions.WithLabelValues("BUY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transactions.WithLabelValues("SELL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ForcedExits.WithLabelValues("stop-loss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DataGaps))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rebalances))
	assert.Equal(t, 123456.78, testutil.ToFloat64(m.PortfolioValue))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordTransaction("BUY")
		m.RecordForcedExit("stop-loss")
		m.RecordDataGap()
		m.RecordRebalance()
		m.RecordRegimeSwitch("BULL/LOW")
		m.SetPortfolioValue(1)
	})
}
