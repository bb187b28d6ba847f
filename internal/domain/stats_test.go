package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMeanAndStdDev(t *testing.T) {
	xs := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	assert.InDelta(t, 5.0, Mean(xs), 1e-12)
	// sample variance 32/7
	assert.InDelta(t, math.Sqrt(32.0/7), StdDev(xs), 1e-12)

	assert.Equal(t, 0.0, Mean(nil))
	assert.Equal(t, 0.0, StdDev([]float64{3}))
}

func TestCovariance(t *testing.T) {
	xs := []float64{1, 2, 3, 4}
	ys := []float64{2, 4, 6, 8}
	assert.InDelta(t, 2*StdDev(xs)*StdDev(xs), Covariance(xs, ys), 1e-12)
	assert.Equal(t, 0.0, Covariance(xs, ys[:3]))
}

func TestPercentile_LinearInterpolation(t *testing.T) {
	xs := []float64{5, 1, 4, 2, 3}
	assert.InDelta(t, 3.0, Median(xs), 1e-12)
	assert.InDelta(t, 1.2, Percentile(xs, 0.05), 1e-12)
	assert.Equal(t, 1.0, Percentile(xs, 0))
	assert.Equal(t, 5.0, Percentile(xs, 1))
	// input untouched
	assert.Equal(t, []float64{5, 1, 4, 2, 3}, xs)
}

func TestNormalQuantile(t *testing.T) {
	assert.InDelta(t, -1.644854, NormalQuantile(0.05), 1e-6)
	assert.InDelta(t, 0.0, NormalQuantile(0.5), 1e-12)
	assert.Equal(t, 0.0, NormalQuantile(0))
}

func TestSafeDiv(t *testing.T) {
	assert.Equal(t, 2.0, SafeDiv(4, 2))
	assert.Equal(t, 0.0, SafeDiv(4, 0))
	assert.Equal(t, 0.0, SafeDiv(math.Inf(1), 1))
}

func TestDrawdown(t *testing.T) {
	// peak 120 at 1, trough 90 at 3, recovered at 5
	dd, dur := Drawdown([]float64{100, 120, 100, 90, 110, 125, 120})
	assert.InDelta(t, -0.25, dd, 1e-12)
	assert.Equal(t, 4, dur)
}

func TestDrawdown_Unrecovered(t *testing.T) {
	dd, dur := Drawdown([]float64{100, 110, 105, 99})
	assert.InDelta(t, 99.0/110-1, dd, 1e-12)
	assert.Equal(t, 2, dur)
}

func TestDrawdown_DeeperLaterEpisode(t *testing.T) {
	dd, dur := Drawdown([]float64{100, 95, 100, 101, 80, 90, 102})
	assert.InDelta(t, 80.0/101-1, dd, 1e-12)
	assert.Equal(t, 3, dur)
}

func TestDrawdown_Flat(t *testing.T) {
	dd, dur := Drawdown([]float64{100, 100, 100})
	assert.Equal(t, 0.0, dd)
	assert.Equal(t, 0, dur)
}
