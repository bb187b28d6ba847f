package domain

import (
	"fmt"
	"math"
	"time"
)

// Bar is one immutable OHLCV sample for a symbol.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// Validate rejects prices a simulation cannot trade on.
func (b Bar) Validate() error {
	for _, p := range [...]struct {
		name  string
		value float64
	}{
		{"open", b.Open}, {"high", b.High}, {"low", b.Low}, {"close", b.Close},
	} {
		if math.IsNaN(p.value) || math.IsInf(p.value, 0) {
			return &DataIntegrityError{Symbol: b.Symbol, Timestamp: b.Timestamp, Detail: p.name + " is not a finite number"}
		}
		if p.value <= 0 {
			return &DataIntegrityError{Symbol: b.Symbol, Timestamp: b.Timestamp, Detail: fmt.Sprintf("%s %.6f is not positive", p.name, p.value)}
		}
	}
	if b.High < b.Low {
		return &DataIntegrityError{Symbol: b.Symbol, Timestamp: b.Timestamp, Detail: fmt.Sprintf("high %.6f below low %.6f", b.High, b.Low)}
	}
	return nil
}

// ValidateSeries checks every bar and that timestamps are strictly increasing.
// The first offending bar is reported.
func ValidateSeries(symbol string, bars []Bar) error {
	for i, b := range bars {
		if b.Symbol != "" && b.Symbol != symbol {
			return &DataIntegrityError{Symbol: symbol, Timestamp: b.Timestamp, Detail: "bar belongs to " + b.Symbol}
		}
		if err := b.Validate(); err != nil {
			return err
		}
		if i > 0 && !b.Timestamp.After(bars[i-1].Timestamp) {
			return &DataIntegrityError{
				Symbol:    symbol,
				Timestamp: b.Timestamp,
				Detail:    fmt.Sprintf("timestamp not after previous bar %s", bars[i-1].Timestamp.Format(time.RFC3339)),
			}
		}
	}
	return nil
}

// TrueRange is the classic Wilder true range against the previous close.
// prevClose <= 0 means there is no previous bar.
func TrueRange(b Bar, prevClose float64) float64 {
	tr := b.High - b.Low
	if prevClose <= 0 {
		return tr
	}
	return math.Max(tr, math.Max(math.Abs(b.High-prevClose), math.Abs(b.Low-prevClose)))
}

// ATR returns the simple average true range of the last period bars.
// Callers pass only bars already known at decision time.
// Returns 0 when bars is empty.
func ATR(bars []Bar, period int) float64 {
	if len(bars) == 0 {
		return 0
	}
	if period <= 0 || period > len(bars) {
		period = len(bars)
	}
	from := len(bars) - period
	sum := 0.0
	for i := from; i < len(bars); i++ {
		prev := 0.0
		if i > 0 {
			prev = bars[i-1].Close
		}
		sum += TrueRange(bars[i], prev)
	}
	return sum / float64(period)
}
