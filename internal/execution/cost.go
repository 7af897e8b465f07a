// Package execution provides the transaction cost model.
package execution

import "github.com/shopspring/decimal"

// CostModel prices the transaction cost for a gross trade value.
type CostModel interface {
	Cost(gross decimal.Decimal) decimal.Decimal
}

// FlatRate charges a fixed fraction of gross value on every trade. The
// default rate is 0.1%; intraday slippage dynamics are deliberately not
// modeled.
type FlatRate struct {
	rate decimal.Decimal
}

// NewFlatRate creates a flat-rate cost model.
func NewFlatRate(rate decimal.Decimal) *FlatRate {
	return &FlatRate{rate: rate}
}

// Cost returns gross * rate.
func (f *FlatRate) Cost(gross decimal.Decimal) decimal.Decimal {
	return gross.Mul(f.rate)
}
