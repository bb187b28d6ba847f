package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignal_LevelsPriceUnits(t *testing.T) {
	s := Signal{Symbol: "AAA", Direction: DirectionLong, StopDistance: 5, TargetDistance: 20}
	stop, target := s.Levels(100, 0)
	assert.Equal(t, 95.0, stop)
	assert.Equal(t, 120.0, target)

	s.Direction = DirectionShort
	stop, target = s.Levels(100, 0)
	assert.Equal(t, 105.0, stop)
	assert.Equal(t, 80.0, target)
}

func TestSignal_LevelsATR(t *testing.T) {
	s := Signal{Symbol: "AAA", Direction: DirectionLong, StopDistance: 2, TargetDistance: 3, DistanceUnit: DistanceATR}
	stop, target := s.Levels(50, 1.5)
	assert.Equal(t, 47.0, stop)
	assert.Equal(t, 54.5, target)

	// no history means no ATR and therefore no levels
	stop, target = s.Levels(50, 0)
	assert.Zero(t, stop)
	assert.Zero(t, target)
}

func TestSignal_Validate(t *testing.T) {
	ok := Signal{Symbol: "AAA", Timestamp: time.Now(), Direction: DirectionLong, Confidence: 0.7}
	require.NoError(t, ok.Validate())

	bad := ok
	bad.Confidence = 1.2
	assert.Error(t, bad.Validate())

	bad = ok
	bad.Direction = "sideways"
	assert.Error(t, bad.Validate())

	bad = ok
	bad.Symbol = ""
	assert.Error(t, bad.Validate())

	bad = ok
	bad.DistanceUnit = "pips"
	assert.Error(t, bad.Validate())
}

func TestPosition_MarkTracksExcursions(t *testing.T) {
	p := &Position{Side: DirectionLong, EntryPrice: 100, Quantity: 10}
	p.Mark(bar("AAA", 1, 100, 104, 97, 102))
	assert.Equal(t, 102.0, p.LastPrice)
	assert.Equal(t, 40.0, p.MaxFavorable)
	assert.Equal(t, -30.0, p.MaxAdverse)
	assert.Equal(t, 1020.0, p.MarketValue())

	s := &Position{Side: DirectionShort, EntryPrice: 100, Quantity: 10}
	s.Mark(bar("AAA", 1, 100, 104, 97, 102))
	assert.Equal(t, 30.0, s.MaxFavorable)
	assert.Equal(t, -40.0, s.MaxAdverse)
	assert.Equal(t, 980.0, s.MarketValue())
}

func TestPosition_Expired(t *testing.T) {
	p := &Position{Deadline: day0.AddDate(0, 0, 5)}
	assert.False(t, p.Expired(day0.AddDate(0, 0, 4)))
	assert.True(t, p.Expired(day0.AddDate(0, 0, 5)))
	assert.False(t, (&Position{}).Expired(day0))
}
