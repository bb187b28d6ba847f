package domain

import "time"

// ExitReason is the closed set of ways a position can end.
type ExitReason string

const (
	ExitStop           ExitReason = "stop"
	ExitTarget         ExitReason = "target"
	ExitTime           ExitReason = "time_exit"
	ExitSignalReversal ExitReason = "signal_reversal"
	ExitEndOfRun       ExitReason = "end_of_run"
)

// ExitReasons lists every reason in reporting order.
var ExitReasons = []ExitReason{ExitStop, ExitTarget, ExitTime, ExitSignalReversal, ExitEndOfRun}

// Label returns a short human label for tables.
func (r ExitReason) Label() string {
	switch r {
	case ExitStop:
		return "STOP"
	case ExitTarget:
		return "TARGET"
	case ExitTime:
		return "TIME"
	case ExitSignalReversal:
		return "REVERSAL"
	case ExitEndOfRun:
		return "END"
	default:
		return string(r)
	}
}

// Trade is the immutable record of a closed position.
type Trade struct {
	ID           string
	PositionID   string
	SignalID     string
	Symbol       string
	Side         Direction
	Pattern      string
	Bucket       string
	EntryTime    time.Time
	EntryPrice   float64
	ExitTime     time.Time
	ExitPrice    float64
	Quantity     float64
	GrossPnL     float64 // from slipped fills, before commission
	Commission   float64 // entry + exit
	Slippage     float64 // currency cost of slippage on both legs
	NetPnL       float64
	ReturnPct    float64 // NetPnL over entry notional, in percent
	HoldDuration time.Duration
	HoldBars     int
	ExitReason   ExitReason
	MaxFavorable float64
	MaxAdverse   float64
}

// IsWin reports whether the trade made money after costs.
func (t Trade) IsWin() bool { return t.NetPnL > 0 }

// Notional is the entry value of the trade.
func (t Trade) Notional() float64 { return t.EntryPrice * t.Quantity }
