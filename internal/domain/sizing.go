package domain

// SizingRequest carries everything a sizing policy may look at.
// Price is the raw fill reference so policies can turn money into shares.
type SizingRequest struct {
	Capital    float64 // cash available after reserving entry and exit commission
	Confidence float64
	Volatility float64 // ATR known before the fill bar, 0 when there is no history
	Bucket     string
	Price      float64
}
