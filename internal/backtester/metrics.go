// Package backtester provides performance metrics derivation from the
// equity curve and transaction log.
package backtester

import (
	"math"
	"time"

	"github.com/quantfolio/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"
)

const tradingDaysPerYear = 252

// Calculator derives the terminal statistics. All formulas are
// deterministic given the same equity curve, transaction log and benchmark
// series.
type Calculator struct {
	riskFreeRate float64 // annual
}

// NewCalculator creates a metrics calculator.
func NewCalculator(riskFreeRate float64) *Calculator {
	return &Calculator{riskFreeRate: riskFreeRate}
}

// Compute derives all summary statistics. The benchmark series is aligned
// to the equity curve by date; dates missing on either side are dropped
// from both series before regression.
func (c *Calculator) Compute(curve []types.EquityCurvePoint, txs []types.Transaction, benchmark []types.PriceBar, initialCash decimal.Decimal) types.PerformanceMetrics {
	m := types.PerformanceMetrics{FinalValue: initialCash}
	if len(curve) == 0 {
		return m
	}

	final := curve[len(curve)-1].Value
	m.FinalValue = final

	initialF, _ := initialCash.Float64()
	finalF, _ := final.Float64()
	if initialF > 0 {
		m.TotalReturn = finalF/initialF - 1
	}

	totalDays := curve[len(curve)-1].Date.Sub(curve[0].Date).Hours() / 24
	if totalDays > 0 && initialF > 0 && finalF > 0 {
		m.CAGR = math.Pow(finalF/initialF, 365/totalDays) - 1
	}

	returns := curveReturns(curve)
	if len(returns) > 1 {
		mean := stat.Mean(returns, nil)
		std := stat.StdDev(returns, nil)
		m.Volatility = std * math.Sqrt(tradingDaysPerYear)

		rfDaily := c.riskFreeRate / tradingDaysPerYear
		if std > 0 {
			m.SharpeRatio = (mean - rfDaily) / std * math.Sqrt(tradingDaysPerYear)
		}
		if dd := downsideDeviation(returns); dd > 0 {
			m.SortinoRatio = (mean - rfDaily) / dd * math.Sqrt(tradingDaysPerYear)
		}
	}

	m.MaxDrawdown, m.MaxDrawdownDays = maxDrawdown(curve)
	if m.MaxDrawdown > 0 {
		m.CalmarRatio = m.CAGR / m.MaxDrawdown
	}

	c.applyBenchmark(&m, curve, returns, benchmark)
	c.applyTrades(&m, txs)
	return m
}

// applyBenchmark computes alpha, beta, information ratio and the benchmark's
// own return over the run window.
func (c *Calculator) applyBenchmark(m *types.PerformanceMetrics, curve []types.EquityCurvePoint, returns []float64, benchmark []types.PriceBar) {
	closes := make(map[time.Time]float64, len(benchmark))
	for _, bar := range benchmark {
		closes[bar.Date], _ = bar.Close.Float64()
	}

	var port, bench []float64
	for i := 1; i < len(curve); i++ {
		prev, okPrev := closes[curve[i-1].Date]
		cur, okCur := closes[curve[i].Date]
		if !okPrev || !okCur || prev == 0 {
			continue
		}
		port = append(port, returns[i-1])
		bench = append(bench, cur/prev-1)
	}

	if len(benchmark) > 1 {
		first, _ := benchmark[0].Close.Float64()
		last, _ := benchmark[len(benchmark)-1].Close.Float64()
		if first > 0 {
			m.BenchmarkReturn = last/first - 1
		}
	}

	if len(port) < 2 {
		return
	}

	alphaDaily, beta := stat.LinearRegression(bench, port, nil, false)
	m.Alpha = alphaDaily * tradingDaysPerYear
	m.Beta = beta

	diffs := make([]float64, len(port))
	for i := range port {
		diffs[i] = port[i] - bench[i]
	}
	if te := stat.StdDev(diffs, nil); te > 0 {
		m.InformationRatio = stat.Mean(diffs, nil) / te * math.Sqrt(tradingDaysPerYear)
	}
}

// applyTrades derives win rate and profit factor from realized SELL records.
func (c *Calculator) applyTrades(m *types.PerformanceMetrics, txs []types.Transaction) {
	var sells, wins int
	gains := decimal.Zero
	losses := decimal.Zero
	totalCost := decimal.Zero

	for _, tx := range txs {
		totalCost = totalCost.Add(tx.Cost)
		if tx.Action != types.ActionSell {
			continue
		}
		sells++
		if tx.RealizedPnL.IsPositive() {
			wins++
			gains = gains.Add(tx.RealizedPnL)
		} else {
			losses = losses.Add(tx.RealizedPnL.Abs())
		}
	}

	m.TotalTransactions = len(txs)
	m.TotalTransactionCost = totalCost
	if sells > 0 {
		m.WinRate = float64(wins) / float64(sells)
	}
	if losses.IsPositive() {
		pf, _ := gains.Div(losses).Float64()
		m.ProfitFactor = pf
	}
}

func curveReturns(curve []types.EquityCurvePoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	returns := make([]float64, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev, _ := curve[i-1].Value.Float64()
		cur, _ := curve[i].Value.Float64()
		if prev != 0 {
			returns[i-1] = cur/prev - 1
		}
	}
	return returns
}

// downsideDeviation is the root mean square of negative periodic returns,
// measured over all periods.
func downsideDeviation(returns []float64) float64 {
	var sumSq float64
	for _, r := range returns {
		if r < 0 {
			sumSq += r * r
		}
	}
	return math.Sqrt(sumSq / float64(len(returns)))
}

// maxDrawdown returns the deepest peak-to-trough decline and the longest
// span, in days, between a peak and full recovery.
func maxDrawdown(curve []types.EquityCurvePoint) (float64, int) {
	if len(curve) == 0 {
		return 0, 0
	}

	peak, _ := curve[0].Value.Float64()
	peakDate := curve[0].Date
	var maxDD float64
	var maxSpanDays int

	for _, point := range curve {
		value, _ := point.Value.Float64()
		if value >= peak {
			span := int(point.Date.Sub(peakDate).Hours() / 24)
			if span > maxSpanDays {
				maxSpanDays = span
			}
			peak = value
			peakDate = point.Date
			continue
		}
		if peak > 0 {
			if dd := (peak - value) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}

	// Drawdown still open at the end of the run counts as its full span.
	span := int(curve[len(curve)-1].Date.Sub(peakDate).Hours() / 24)
	if span > maxSpanDays {
		maxSpanDays = span
	}
	return maxDD, maxSpanDays
}
