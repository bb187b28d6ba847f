package walkforward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/backtester/internal/application/analyzer"
	"github.com/alejandrodnm/backtester/internal/application/simulator"
	"github.com/alejandrodnm/backtester/internal/domain"
	"github.com/alejandrodnm/backtester/internal/ports"
)

// Config tunes the orchestrator.
type Config struct {
	Workers    int // <= 0 uses runtime.NumCPU() * 2
	MinPeriods int // distinct bar timestamps a test range needs
}

// DefaultConfig returns the defaults used when a field is unset.
func DefaultConfig() Config {
	return Config{Workers: runtime.NumCPU() * 2, MinPeriods: 20}
}

// Orchestrator runs one independent simulation per test window. Windows
// share the simulator and analyzer, which keep no state between runs.
type Orchestrator struct {
	cfg      Config
	sim      *simulator.Simulator
	analyzer *analyzer.Analyzer
}

// New builds an orchestrator, defaulting unset fields.
func New(cfg Config, sim *simulator.Simulator, an *analyzer.Analyzer) *Orchestrator {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MinPeriods <= 0 {
		cfg.MinPeriods = def.MinPeriods
	}
	return &Orchestrator{cfg: cfg, sim: sim, analyzer: an}
}

// Input is a fully loaded study. Bars must cover [Start, End).
type Input struct {
	Universe        []string
	Start           time.Time
	End             time.Time
	Spec            WindowSpec
	InitialCapital  float64
	Bars            map[string][]domain.Bar
	Signals         ports.SignalFeed
	Benchmark       []domain.EquityPoint
	BenchmarkSymbol string
}

// Run executes every window and assembles the summary in window order.
// Windows that cannot run are recorded as skipped; only configuration errors
// and cancellation abort the study.
func (o *Orchestrator) Run(ctx context.Context, in Input) (*domain.WalkForwardSummary, error) {
	if in.InitialCapital <= 0 {
		return nil, &domain.ConfigurationError{Field: "capital", Detail: "must be positive"}
	}
	if in.Signals == nil {
		return nil, &domain.ConfigurationError{Field: "signals", Detail: "no signal feed"}
	}
	windows, err := GenerateWindows(in.Start, in.End, in.Spec)
	if err != nil {
		return nil, err
	}

	results, issues, err := o.runWindows(ctx, in, windows)
	if err != nil {
		return nil, err
	}

	summary := o.summarize(in, results)
	summary.Metadata.Issues = issues
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("walkforward.Run: %w", err)
	}

	slog.Info("walk-forward complete",
		"windows", len(windows),
		"run", summary.WindowsRun,
		"skipped", summary.WindowsSkipped,
		"chained_return", fmt.Sprintf("%.4f", summary.ChainedTotalReturn),
	)
	return summary, nil
}

type windowOutcome struct {
	result domain.WindowResult
	issues domain.RunIssues
	err    error
}

// runWindows fans the windows out to a worker pool. Outcomes are stored by
// index so completion order never leaks into the summary.
func (o *Orchestrator) runWindows(ctx context.Context, in Input, windows []domain.Window) ([]domain.WindowResult, domain.RunIssues, error) {
	workers := min(o.cfg.Workers, len(windows))
	outcomes := make([]windowOutcome, len(windows))

	workCh := make(chan int, len(windows))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range workCh {
				if ctx.Err() != nil {
					outcomes[idx].err = ctx.Err()
					continue
				}
				outcomes[idx] = o.runWindow(ctx, in, windows[idx])
			}
		}()
	}
	for idx := range windows {
		workCh <- idx
	}
	close(workCh)
	wg.Wait()

	var issues domain.RunIssues
	results := make([]domain.WindowResult, len(windows))
	for idx, out := range outcomes {
		if out.err != nil {
			return nil, issues, fmt.Errorf("walkforward.Run: window %d: %w", idx, out.err)
		}
		results[idx] = out.result
		issues.Merge(out.issues)
	}
	return results, issues, nil
}

// runWindow simulates the test range of w. A returned err is fatal for the
// whole study; anything else becomes a skip.
func (o *Orchestrator) runWindow(ctx context.Context, in Input, w domain.Window) windowOutcome {
	out := windowOutcome{result: domain.WindowResult{Window: w}}
	skip := func(kind domain.SkipKind, err error) windowOutcome {
		out.result.Skip = &domain.WindowSkip{Kind: kind, Detail: err.Error()}
		slog.Warn("window skipped", "window", w.String(), "kind", kind, "err", err)
		return out
	}

	bars, periods := sliceBars(in.Bars, w.TestStart, w.TestEnd)
	if periods < o.cfg.MinPeriods {
		return skip(domain.SkipInsufficientData, &domain.InsufficientDataError{
			Window: w.Index, Periods: periods, Required: o.cfg.MinPeriods,
		})
	}

	signals, err := windowSignals(ctx, in.Signals, in.Universe, w)
	if err != nil {
		if ctx.Err() != nil {
			out.err = ctx.Err()
			return out
		}
		return skip(domain.SkipSignalFeed, err)
	}

	signals, dropped := testSignals(w, signals)

	res, err := o.sim.Run(ctx, simulator.Input{
		Start:          w.TestStart,
		End:            w.TestEnd,
		InitialCapital: in.InitialCapital,
		Bars:           bars,
		History:        barsBefore(in.Bars, w.TestStart, o.sim.Config().ATRPeriod+1),
		Signals:        signals,
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrConfiguration), ctx.Err() != nil:
		out.err = err
		return out
	case errors.Is(err, domain.ErrDataIntegrity):
		return skip(domain.SkipDataIntegrity, err)
	default:
		return skip(domain.SkipSimulation, err)
	}

	for range dropped {
		res.Issues.Reject(domain.RejectOutsideWindow)
	}

	report := o.analyzer.Analyze(analyzer.Input{
		Trades:          res.Trades,
		Equity:          res.Equity,
		InitialCapital:  res.InitialCapital,
		Benchmark:       in.Benchmark,
		BenchmarkSymbol: in.BenchmarkSymbol,
	})
	report.Metadata = domain.ReportMetadata{
		Mode:     "window",
		Start:    w.TestStart,
		End:      w.TestEnd,
		Universe: in.Universe,
		FillMode: string(o.sim.Config().FillMode),
		Issues:   res.Issues,
	}
	out.result.Report = report
	out.issues = res.Issues

	slog.Debug("window complete",
		"window", w.String(),
		"periods", periods,
		"trades", len(res.Trades),
		"return", fmt.Sprintf("%.4f", report.TotalReturn),
	)
	return out
}

// windowSignals prefers a feed that can train on the window.
func windowSignals(ctx context.Context, feed ports.SignalFeed, universe []string, w domain.Window) ([]domain.Signal, error) {
	if wf, ok := feed.(ports.WindowSignalFeed); ok {
		return wf.WindowSignals(ctx, universe, w)
	}
	return feed.Signals(ctx, universe, w.TestStart, w.TestEnd)
}

// testSignals keeps the signals stamped inside w's test range. Anything else
// the feed returned, training-range signals included, is dropped and counted.
func testSignals(w domain.Window, signals []domain.Signal) ([]domain.Signal, int) {
	kept := make([]domain.Signal, 0, len(signals))
	for _, sig := range signals {
		if w.InTest(sig.Timestamp) {
			kept = append(kept, sig)
		}
	}
	dropped := len(signals) - len(kept)
	if dropped > 0 {
		slog.Debug("signals outside test range dropped", "window", w.String(), "dropped", dropped)
	}
	return kept, dropped
}

// sliceBars returns the sub-series inside [start, end) and the number of
// distinct timestamps across them. Input series must be sorted.
func sliceBars(all map[string][]domain.Bar, start, end time.Time) (map[string][]domain.Bar, int) {
	out := make(map[string][]domain.Bar, len(all))
	seen := make(map[int64]struct{})
	for sym, bars := range all {
		lo := sort.Search(len(bars), func(i int) bool { return !bars[i].Timestamp.Before(start) })
		hi := sort.Search(len(bars), func(i int) bool { return !bars[i].Timestamp.Before(end) })
		if lo >= hi {
			continue
		}
		out[sym] = bars[lo:hi]
		for _, b := range bars[lo:hi] {
			seen[b.Timestamp.UnixNano()] = struct{}{}
		}
	}
	return out, len(seen)
}

// barsBefore returns up to n bars per symbol stamped before start. They warm
// the window's ATR; the extra bar seeds the first true range.
func barsBefore(all map[string][]domain.Bar, start time.Time, n int) map[string][]domain.Bar {
	out := make(map[string][]domain.Bar, len(all))
	for sym, bars := range all {
		hi := sort.Search(len(bars), func(i int) bool { return !bars[i].Timestamp.Before(start) })
		if hi == 0 {
			continue
		}
		out[sym] = bars[max(hi-n, 0):hi]
	}
	return out
}
