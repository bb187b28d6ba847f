package ports

import "github.com/alejandrodnm/backtester/internal/domain"

// SizingPolicy turns a sizing request into a share count.
// Implementations must be pure: walk-forward windows share one instance.
type SizingPolicy interface {
	Size(req domain.SizingRequest) float64
}

// SizingFunc adapts a plain function to SizingPolicy.
type SizingFunc func(req domain.SizingRequest) float64

// Size implements SizingPolicy.
func (f SizingFunc) Size(req domain.SizingRequest) float64 { return f(req) }
