package ports

import (
	"context"

	"github.com/alejandrodnm/backtester/internal/domain"
)

// ReportWriter persists or renders finished reports. The destination is
// writer-specific: a directory, a run label, or ignored.
type ReportWriter interface {
	// WriteReport stores a single backtest report.
	WriteReport(ctx context.Context, report *domain.PerformanceReport, destination string) error

	// WriteWalkForward stores a walk-forward summary with its windows.
	WriteWalkForward(ctx context.Context, summary *domain.WalkForwardSummary, destination string) error
}
