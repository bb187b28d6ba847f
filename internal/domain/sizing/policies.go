package sizing

import (
	"math"

	"github.com/alejandrodnm/backtester/internal/domain"
)

const (
	FixedFractionName    = "fixed_fraction"
	BucketAllocationName = "bucket_allocation"
	ATRRiskName          = "atr_risk"
)

// DefaultBucketAllocations are the capital shares of the five signal buckets.
var DefaultBucketAllocations = map[string]float64{
	"BUCKET_A": 0.15,
	"BUCKET_B": 0.35,
	"BUCKET_C": 0.30,
	"BUCKET_D": 0.15,
	"BUCKET_E": 0.05,
}

// shares converts a money amount into whole shares at price.
func shares(notional, price float64) float64 {
	if notional <= 0 || price <= 0 || math.IsNaN(notional) || math.IsInf(notional, 0) {
		return 0
	}
	return math.Floor(notional / price)
}

// FixedFraction commits a constant fraction of available capital per trade.
type FixedFraction struct {
	fraction          float64
	scaleByConfidence bool
}

// NewFixedFraction defaults to 5% of capital.
func NewFixedFraction(fraction float64, scaleByConfidence bool) *FixedFraction {
	if fraction <= 0 || fraction > 1 {
		fraction = 0.05
	}
	return &FixedFraction{fraction: fraction, scaleByConfidence: scaleByConfidence}
}

func (p *FixedFraction) Name() string { return FixedFractionName }

func (p *FixedFraction) Size(req domain.SizingRequest) float64 {
	notional := req.Capital * p.fraction
	if p.scaleByConfidence {
		notional *= req.Confidence
	}
	return shares(notional, req.Price)
}

// BucketAllocation sizes by the capital share of the signal's bucket scaled
// by confidence. Unknown buckets use the default allocation.
type BucketAllocation struct {
	allocations map[string]float64
	fallback    float64
}

// NewBucketAllocation copies allocations; nil selects DefaultBucketAllocations.
func NewBucketAllocation(allocations map[string]float64, fallback float64) *BucketAllocation {
	if len(allocations) == 0 {
		allocations = DefaultBucketAllocations
	}
	cp := make(map[string]float64, len(allocations))
	for k, v := range allocations {
		cp[k] = v
	}
	return &BucketAllocation{allocations: cp, fallback: fallback}
}

func (p *BucketAllocation) Name() string { return BucketAllocationName }

func (p *BucketAllocation) Size(req domain.SizingRequest) float64 {
	alloc, ok := p.allocations[req.Bucket]
	if !ok {
		alloc = p.fallback
	}
	return shares(req.Capital*alloc*req.Confidence, req.Price)
}

// ATRRisk risks a fixed fraction of capital per ATR multiple of adverse
// movement, capped at maxFraction of capital in notional. Without an ATR it
// falls back to the cap.
type ATRRisk struct {
	riskFraction float64
	atrMultiple  float64
	maxFraction  float64
}

// NewATRRisk defaults to 1% risk, 2 ATR, 20% cap.
func NewATRRisk(riskFraction, atrMultiple, maxFraction float64) *ATRRisk {
	if riskFraction <= 0 {
		riskFraction = 0.01
	}
	if atrMultiple <= 0 {
		atrMultiple = 2
	}
	if maxFraction <= 0 || maxFraction > 1 {
		maxFraction = 0.20
	}
	return &ATRRisk{riskFraction: riskFraction, atrMultiple: atrMultiple, maxFraction: maxFraction}
}

func (p *ATRRisk) Name() string { return ATRRiskName }

func (p *ATRRisk) Size(req domain.SizingRequest) float64 {
	capShares := shares(req.Capital*p.maxFraction, req.Price)
	perShare := req.Volatility * p.atrMultiple
	if perShare <= 0 {
		return capShares
	}
	riskShares := math.Floor(req.Capital * p.riskFraction / perShare)
	return math.Min(riskShares, capShares)
}
