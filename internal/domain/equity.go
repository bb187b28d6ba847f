package domain

import "time"

// EquityPoint is one portfolio valuation sample.
type EquityPoint struct {
	Timestamp     time.Time
	Equity        float64
	Cash          float64
	OpenPositions int
}

// EquityCurve is ordered by timestamp, one point per simulated step.
type EquityCurve []EquityPoint

// Values returns the equity values in order.
func (c EquityCurve) Values() []float64 {
	out := make([]float64, len(c))
	for i, p := range c {
		out[i] = p.Equity
	}
	return out
}

// Last returns the final equity or fallback for an empty curve.
func (c EquityCurve) Last(fallback float64) float64 {
	if len(c) == 0 {
		return fallback
	}
	return c[len(c)-1].Equity
}

// Scaled returns a copy with every equity and cash value multiplied by k.
func (c EquityCurve) Scaled(k float64) EquityCurve {
	out := make(EquityCurve, len(c))
	for i, p := range c {
		p.Equity *= k
		p.Cash *= k
		out[i] = p
	}
	return out
}
