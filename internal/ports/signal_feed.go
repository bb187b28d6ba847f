package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/backtester/internal/domain"
)

// SignalFeed supplies pre-computed signals for a universe.
type SignalFeed interface {
	// Signals returns the signals stamped in [start, end), ascending by timestamp.
	Signals(ctx context.Context, universe []string, start, end time.Time) ([]domain.Signal, error)
}

// WindowSignalFeed is implemented by feeds that select parameters on a
// walk-forward training range. The returned signals must belong to the
// window's test range; anything else is dropped by the orchestrator.
type WindowSignalFeed interface {
	WindowSignals(ctx context.Context, universe []string, window domain.Window) ([]domain.Signal, error)
}
