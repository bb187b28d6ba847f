package domain

import (
	"fmt"
	"math"
	"time"
)

// Direction is the side a signal asks for.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionFlat  Direction = "flat"
)

// Sign returns +1 for long, -1 for short and 0 otherwise.
func (d Direction) Sign() float64 {
	switch d {
	case DirectionLong:
		return 1
	case DirectionShort:
		return -1
	default:
		return 0
	}
}

// DistanceUnit says how stop/target distances on a signal are expressed.
type DistanceUnit string

const (
	DistancePrice DistanceUnit = "price" // absolute price units
	DistanceATR   DistanceUnit = "atr"   // multiples of the average true range
)

// Signal is a pre-computed trading instruction from the signal feed.
type Signal struct {
	ID             string
	Symbol         string
	Timestamp      time.Time
	Direction      Direction
	Pattern        string
	Bucket         string
	Confidence     float64 // 0..1
	StopDistance   float64 // 0 = no stop
	TargetDistance float64 // 0 = no target
	DistanceUnit   DistanceUnit
}

// Validate checks the fields the simulator relies on.
func (s Signal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("signal has no symbol")
	}
	switch s.Direction {
	case DirectionLong, DirectionShort, DirectionFlat:
	default:
		return fmt.Errorf("signal %s: unknown direction %q", s.Symbol, s.Direction)
	}
	if math.IsNaN(s.Confidence) || s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("signal %s: confidence %.4f outside [0,1]", s.Symbol, s.Confidence)
	}
	if s.StopDistance < 0 || s.TargetDistance < 0 {
		return fmt.Errorf("signal %s: negative stop/target distance", s.Symbol)
	}
	switch s.DistanceUnit {
	case "", DistancePrice, DistanceATR:
	default:
		return fmt.Errorf("signal %s: unknown distance unit %q", s.Symbol, s.DistanceUnit)
	}
	return nil
}

// Levels turns the signal distances into absolute stop and target prices
// around ref. atr is only used for DistanceATR. A zero result means the
// level is not set.
func (s Signal) Levels(ref, atr float64) (stop, target float64) {
	scale := 1.0
	if s.DistanceUnit == DistanceATR {
		scale = atr
	}
	sign := s.Direction.Sign()
	if d := s.StopDistance * scale; d > 0 {
		stop = math.Max(ref-sign*d, 0)
	}
	if d := s.TargetDistance * scale; d > 0 {
		target = math.Max(ref+sign*d, 0)
	}
	return stop, target
}
