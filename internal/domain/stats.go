package domain

import (
	"math"
	"sort"
)

// Mean returns 0 for an empty series.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev is the sample standard deviation (n-1). Fewer than two values give 0.
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := Mean(xs)
	ss := 0.0
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// Covariance is the sample covariance of two equal-length series.
func Covariance(xs, ys []float64) float64 {
	n := len(xs)
	if n != len(ys) || n < 2 {
		return 0
	}
	mx, my := Mean(xs), Mean(ys)
	s := 0.0
	for i := range xs {
		s += (xs[i] - mx) * (ys[i] - my)
	}
	return s / float64(n-1)
}

// Median of xs without modifying it.
func Median(xs []float64) float64 {
	return Percentile(xs, 0.5)
}

// Percentile uses linear interpolation between closest ranks, p in [0,1].
func Percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

// NormalQuantile is the inverse standard normal CDF.
func NormalQuantile(p float64) float64 {
	if p <= 0 || p >= 1 {
		return 0
	}
	return math.Sqrt2 * math.Erfinv(2*p-1)
}

// NormalPDF is the standard normal density.
func NormalPDF(z float64) float64 {
	return math.Exp(-z*z/2) / math.Sqrt(2*math.Pi)
}

// SafeDiv returns 0 when the denominator is 0 or the result is not finite.
func SafeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	r := num / den
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}

// Drawdown walks a value path tracking the running peak. It returns the
// deepest decline as a fraction (<= 0) and the length in periods of that
// episode, from its peak to recovery or to the end of the path.
func Drawdown(values []float64) (maxDD float64, duration int) {
	if len(values) == 0 {
		return 0, 0
	}
	peak, peakIdx := values[0], 0
	inMax, maxPeakIdx := false, 0
	for i, v := range values {
		if v >= peak {
			if inMax {
				duration = i - maxPeakIdx
				inMax = false
			}
			peak, peakIdx = v, i
			continue
		}
		if peak <= 0 {
			continue
		}
		if dd := v/peak - 1; dd < maxDD {
			maxDD = dd
			inMax, maxPeakIdx = true, peakIdx
		}
	}
	if inMax {
		duration = len(values) - 1 - maxPeakIdx
	}
	return maxDD, duration
}
