package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/backtester/internal/domain"
)

// BarRepository supplies historical OHLCV series.
type BarRepository interface {
	// Bars returns the bars of symbol in [start, end), ascending by timestamp.
	// Missing sessions are simply absent, never zero-filled.
	Bars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}
