package domain

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func bar(sym string, i int, o, h, l, c float64) Bar {
	return Bar{Symbol: sym, Timestamp: day0.AddDate(0, 0, i), Open: o, High: h, Low: l, Close: c, Volume: 1000}
}

func TestBar_Validate_OK(t *testing.T) {
	assert.NoError(t, bar("AAA", 0, 10, 11, 9, 10.5).Validate())
}

func TestBar_Validate_RejectsBadPrices(t *testing.T) {
	cases := map[string]Bar{
		"zero close":     bar("AAA", 0, 10, 11, 9, 0),
		"negative open":  bar("AAA", 0, -1, 11, 9, 10),
		"nan high":       bar("AAA", 0, 10, math.NaN(), 9, 10),
		"inf low":        bar("AAA", 0, 10, 11, math.Inf(1), 10),
		"high below low": bar("AAA", 0, 10, 8, 9, 10),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			err := b.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDataIntegrity))
		})
	}
}

func TestValidateSeries_NonMonotonic(t *testing.T) {
	bars := []Bar{
		bar("AAA", 0, 10, 11, 9, 10),
		bar("AAA", 2, 10, 11, 9, 10),
		bar("AAA", 1, 10, 11, 9, 10),
	}
	err := ValidateSeries("AAA", bars)
	require.Error(t, err)

	var die *DataIntegrityError
	require.True(t, errors.As(err, &die))
	assert.Equal(t, "AAA", die.Symbol)
	assert.Equal(t, day0.AddDate(0, 0, 1), die.Timestamp)
}

func TestValidateSeries_DuplicateTimestamp(t *testing.T) {
	bars := []Bar{bar("AAA", 0, 10, 11, 9, 10), bar("AAA", 0, 10, 11, 9, 10)}
	assert.ErrorIs(t, ValidateSeries("AAA", bars), ErrDataIntegrity)
}

func TestValidateSeries_ForeignSymbol(t *testing.T) {
	bars := []Bar{bar("AAA", 0, 10, 11, 9, 10), bar("BBB", 1, 10, 11, 9, 10)}
	assert.ErrorIs(t, ValidateSeries("AAA", bars), ErrDataIntegrity)
}

func TestTrueRange_UsesPreviousClose(t *testing.T) {
	b := bar("AAA", 1, 12, 13, 11.5, 12.5)
	assert.InDelta(t, 1.5, TrueRange(b, 0), 1e-9)
	assert.InDelta(t, 3.0, TrueRange(b, 10), 1e-9)
}

func TestATR(t *testing.T) {
	bars := []Bar{
		bar("AAA", 0, 10, 11, 9, 10), // 2
		bar("AAA", 1, 10, 12, 10, 11), // 2
		bar("AAA", 2, 11, 15, 11, 14), // 4
	}
	assert.InDelta(t, 8.0/3, ATR(bars, 14), 1e-9)
	assert.InDelta(t, 3.0, ATR(bars, 2), 1e-9)
	assert.Equal(t, 0.0, ATR(nil, 14))
}
