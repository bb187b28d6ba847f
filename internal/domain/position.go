package domain

import (
	"math"
	"time"
)

// Position is an open simulated holding. Only the simulator's book mutates it.
type Position struct {
	ID              string
	Symbol          string
	Side            Direction
	Pattern         string
	Bucket          string
	SignalID        string
	SignalTime      time.Time
	EntryTime       time.Time
	EntryRef        float64 // raw bar price before slippage
	EntryPrice      float64 // slipped fill
	Quantity        float64
	EntryCommission float64
	EntrySlippage   float64 // currency cost of the entry slippage
	StopPrice       float64 // 0 = none
	TargetPrice     float64 // 0 = none
	Deadline        time.Time
	LastPrice       float64
	BarsHeld        int
	MaxFavorable    float64 // best unrealized P&L seen, >= 0
	MaxAdverse      float64 // worst unrealized P&L seen, <= 0
}

// Collateral is the cash locked when the position was opened. Shorts reserve
// their full notional as well, so open notional never exceeds capital.
func (p *Position) Collateral() float64 {
	return p.EntryPrice * p.Quantity
}

// UnrealizedPnL at price, before exit costs.
func (p *Position) UnrealizedPnL(price float64) float64 {
	return p.Side.Sign() * (price - p.EntryPrice) * p.Quantity
}

// MarketValue is collateral plus unrealized P&L at the last mark.
func (p *Position) MarketValue() float64 {
	return p.Collateral() + p.UnrealizedPnL(p.LastPrice)
}

// Mark updates the last price and the excursion trackers using the bar range.
func (p *Position) Mark(b Bar) {
	p.LastPrice = b.Close
	p.BarsHeld++
	best, worst := b.High, b.Low
	if p.Side == DirectionShort {
		best, worst = b.Low, b.High
	}
	p.MaxFavorable = math.Max(p.MaxFavorable, p.UnrealizedPnL(best))
	p.MaxAdverse = math.Min(p.MaxAdverse, p.UnrealizedPnL(worst))
}

// Expired reports whether the max-hold deadline has been reached at t.
func (p *Position) Expired(t time.Time) bool {
	return !p.Deadline.IsZero() && !t.Before(p.Deadline)
}
