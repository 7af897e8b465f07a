// Package backtester provides rebalance schedule derivation.
package backtester

import (
	"time"

	"github.com/quantfolio/backtest-engine/pkg/types"
)

// rebalanceDates marks the first trading day of each calendar period in the
// run window. Trading days are the benchmark's bar dates, so the schedule
// never lands on a date without data.
func rebalanceDates(tradingDays []time.Time, cadence types.Cadence) map[time.Time]bool {
	marked := make(map[time.Time]bool)
	lastPeriod := -1

	for _, day := range tradingDays {
		p := periodKey(day, cadence)
		if p != lastPeriod {
			marked[day] = true
			lastPeriod = p
		}
	}
	return marked
}

func periodKey(day time.Time, cadence types.Cadence) int {
	year, month, _ := day.Date()
	if cadence == types.CadenceQuarterly {
		return year*4 + (int(month)-1)/3
	}
	return year*12 + int(month) - 1
}
