package domain

import (
	"math"

	"github.com/shopspring/decimal"
)

// CostModel describes execution costs applied on both entry and exit.
// When FixedSpread is set it wins over SlippageBps; each leg pays half the
// spread.
type CostModel struct {
	CommissionPerTrade float64 // currency per fill
	SlippageBps        float64 // adverse move in basis points of the ref price
	FixedSpread        float64 // full bid/ask spread in price units
	PriceDecimals      int     // fills are rounded to this many decimals; <= 0 disables rounding
}

// DefaultCostModel mirrors the defaults the research scripts used:
// $1 per fill, 2 bps slippage, cents rounding.
func DefaultCostModel() CostModel {
	return CostModel{CommissionPerTrade: 1, SlippageBps: 2, PriceDecimals: 2}
}

// Validate rejects negative or non-finite cost parameters.
func (c CostModel) Validate() error {
	for _, f := range [...]struct {
		name  string
		value float64
	}{
		{"commission_per_trade", c.CommissionPerTrade},
		{"slippage_bps", c.SlippageBps},
		{"fixed_spread", c.FixedSpread},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) || f.value < 0 {
			return &ConfigurationError{Field: "costs." + f.name, Detail: "must be a finite value >= 0"}
		}
	}
	return nil
}

// Commission charged on a single fill.
func (c CostModel) Commission() float64 {
	return c.CommissionPerTrade
}

// EntryFill returns the fill price for opening side at ref. Longs pay up,
// shorts receive less.
func (c CostModel) EntryFill(ref float64, side Direction) float64 {
	return c.round(ref + side.Sign()*c.adverse(ref))
}

// ExitFill returns the fill price for closing side at ref. Longs sell lower,
// shorts buy back higher.
func (c CostModel) ExitFill(ref float64, side Direction) float64 {
	return c.round(ref - side.Sign()*c.adverse(ref))
}

func (c CostModel) adverse(ref float64) float64 {
	if c.FixedSpread > 0 {
		return c.FixedSpread / 2
	}
	return ref * c.SlippageBps / 10_000
}

func (c CostModel) round(p float64) float64 {
	if c.PriceDecimals <= 0 {
		return p
	}
	return decimal.NewFromFloat(p).Round(int32(c.PriceDecimals)).InexactFloat64()
}
