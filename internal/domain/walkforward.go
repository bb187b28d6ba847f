package domain

import (
	"fmt"
	"time"
)

// Window is one walk-forward split. Both ranges are half-open [start, end).
type Window struct {
	Index      int       `json:"index"`
	TrainStart time.Time `json:"train_start"`
	TrainEnd   time.Time `json:"train_end"`
	TestStart  time.Time `json:"test_start"`
	TestEnd    time.Time `json:"test_end"`
}

// InTest reports whether t falls inside the test range.
func (w Window) InTest(t time.Time) bool {
	return !t.Before(w.TestStart) && t.Before(w.TestEnd)
}

func (w Window) String() string {
	return fmt.Sprintf("#%d test %s..%s", w.Index,
		w.TestStart.Format("2006-01-02"), w.TestEnd.Format("2006-01-02"))
}

// SkipKind is the closed set of reasons a window did not contribute.
type SkipKind string

const (
	SkipInsufficientData SkipKind = "insufficient_data"
	SkipDataIntegrity    SkipKind = "data_integrity"
	SkipSignalFeed       SkipKind = "signal_feed_error"
	SkipSimulation       SkipKind = "simulation_error"
)

// WindowSkip carries the kind plus a human detail.
type WindowSkip struct {
	Kind   SkipKind `json:"kind"`
	Detail string   `json:"detail"`
}

// WindowResult is the outcome of one window: either a report or a skip.
type WindowResult struct {
	Window Window             `json:"window"`
	Report *PerformanceReport `json:"report,omitempty"`
	Skip   *WindowSkip        `json:"skip,omitempty"`
}

// Skipped reports whether the window was left out of the summary.
func (r WindowResult) Skipped() bool { return r.Skip != nil }

// MetricStats summarises one scalar metric across executed windows.
type MetricStats struct {
	Name   string  `json:"name"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// WalkForwardSummary aggregates every window of a walk-forward study.
type WalkForwardSummary struct {
	Metadata           ReportMetadata     `json:"metadata"`
	Train              int                `json:"train_days"`
	Test               int                `json:"test_days"`
	Step               int                `json:"step_days"`
	Windows            []WindowResult     `json:"windows"`
	Stats              []MetricStats      `json:"stats"`
	WindowsRun         int                `json:"windows_run"`
	WindowsSkipped     int                `json:"windows_skipped"`
	PositiveWindowsPct float64            `json:"positive_windows_pct"`
	ChainedTotalReturn float64            `json:"chained_total_return"`
	ChainedEquity      EquityCurve        `json:"-"`
	OutOfSample        *PerformanceReport `json:"out_of_sample,omitempty"`
}

// Stat returns the stats of the named metric.
func (s *WalkForwardSummary) Stat(name string) (MetricStats, bool) {
	for _, m := range s.Stats {
		if m.Name == name {
			return m, true
		}
	}
	return MetricStats{}, false
}
