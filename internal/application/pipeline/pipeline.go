// Package pipeline sequences a backtest: it validates the request, loads the
// inputs, runs a single pass or a walk-forward study and hands the result to
// the report writers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/backtester/internal/application/analyzer"
	"github.com/alejandrodnm/backtester/internal/application/simulator"
	"github.com/alejandrodnm/backtester/internal/application/walkforward"
	"github.com/alejandrodnm/backtester/internal/domain"
	"github.com/alejandrodnm/backtester/internal/ports"
)

// Report modes recorded in metadata.
const (
	ModeBacktest    = "backtest"
	ModeWalkForward = "walk_forward"
)

// Config groups the settings of every stage.
type Config struct {
	Simulator   simulator.Config
	Analyzer    analyzer.Config
	WalkForward walkforward.Config
	Loader      LoaderConfig
	OutputDir   string // writers receive OutputDir/<run id>
}

// BacktestRequest is a single pass over [Start, End).
type BacktestRequest struct {
	Universe  []string
	Start     time.Time
	End       time.Time
	Capital   float64
	Costs     domain.CostModel
	Sizing    ports.SizingPolicy
	Benchmark string // optional symbol for alpha/beta
}

// WalkForwardRequest adds window lengths in calendar days.
type WalkForwardRequest struct {
	BacktestRequest
	Train int
	Test  int
	Step  int
}

func (r WalkForwardRequest) spec() walkforward.WindowSpec {
	return walkforward.WindowSpec{Train: r.Train, Test: r.Test, Step: r.Step}
}

// Pipeline wires the collaborators together. It holds no per-run state.
type Pipeline struct {
	cfg     Config
	bars    ports.BarRepository
	signals ports.SignalFeed
	writers []ports.ReportWriter
}

// New builds a pipeline. Writers run in the order given.
func New(cfg Config, bars ports.BarRepository, signals ports.SignalFeed, writers ...ports.ReportWriter) *Pipeline {
	return &Pipeline{cfg: cfg, bars: bars, signals: signals, writers: writers}
}

// RunBacktest runs one simulation over the request range. When a writer
// fails the report is still returned together with the joined error.
func (p *Pipeline) RunBacktest(ctx context.Context, req BacktestRequest) (*domain.PerformanceReport, error) {
	sim, an, err := p.prepare(req)
	if err != nil {
		return nil, err
	}
	universe := normalizeUniverse(req.Universe)
	meta := p.metadata(ModeBacktest, req, universe, sim)

	slog.Info("backtest starting",
		"run_id", meta.RunID,
		"symbols", len(universe),
		"start", req.Start.Format(time.DateOnly),
		"end", req.End.Format(time.DateOnly),
	)

	bars, issues, err := p.loadBars(ctx, universe, req.Start, req.End)
	if err != nil {
		return nil, fmt.Errorf("pipeline.RunBacktest: %w", err)
	}
	signals, err := p.signals.Signals(ctx, universe, req.Start, req.End)
	if err != nil {
		return nil, fmt.Errorf("pipeline.RunBacktest: signals: %w", err)
	}

	res, err := sim.Run(ctx, simulator.Input{
		Start:          req.Start,
		End:            req.End,
		InitialCapital: req.Capital,
		Bars:           bars,
		Signals:        signals,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline.RunBacktest: simulate: %w", err)
	}

	report := an.Analyze(analyzer.Input{
		Trades:          res.Trades,
		Equity:          res.Equity,
		InitialCapital:  req.Capital,
		Benchmark:       p.loadBenchmark(ctx, req.Benchmark, req.Start, req.End),
		BenchmarkSymbol: req.Benchmark,
	})
	issues.Merge(res.Issues)
	meta.Issues = issues
	report.Metadata = meta

	slog.Info("backtest complete",
		"run_id", meta.RunID,
		"trades", report.TradeStats.Trades,
		"total_return", fmt.Sprintf("%.4f", report.TotalReturn),
		"sharpe", fmt.Sprintf("%.2f", report.Sharpe),
		"data_gaps", issues.DataGaps,
		"skipped_symbols", len(issues.SkippedSymbols),
	)

	dest := p.destination(meta.RunID)
	err = p.write(func(w ports.ReportWriter) error { return w.WriteReport(ctx, report, dest) })
	if err != nil {
		return report, fmt.Errorf("pipeline.RunBacktest: write: %w", err)
	}
	return report, nil
}

// RunWalkForward runs the rolling study. Window configuration errors are
// reported before any data is loaded.
func (p *Pipeline) RunWalkForward(ctx context.Context, req WalkForwardRequest) (*domain.WalkForwardSummary, error) {
	sim, an, err := p.prepare(req.BacktestRequest)
	if err != nil {
		return nil, err
	}
	if _, err := walkforward.GenerateWindows(req.Start, req.End, req.spec()); err != nil {
		return nil, err
	}
	universe := normalizeUniverse(req.Universe)
	meta := p.metadata(ModeWalkForward, req.BacktestRequest, universe, sim)

	slog.Info("walk-forward starting",
		"run_id", meta.RunID,
		"symbols", len(universe),
		"train_days", req.Train,
		"test_days", req.Test,
		"step_days", req.Step,
	)

	bars, issues, err := p.loadBars(ctx, universe, req.Start, req.End)
	if err != nil {
		return nil, fmt.Errorf("pipeline.RunWalkForward: %w", err)
	}

	orch := walkforward.New(p.cfg.WalkForward, sim, an)
	summary, err := orch.Run(ctx, walkforward.Input{
		Universe:        universe,
		Start:           req.Start,
		End:             req.End,
		Spec:            req.spec(),
		InitialCapital:  req.Capital,
		Bars:            bars,
		Signals:         p.signals,
		Benchmark:       p.loadBenchmark(ctx, req.Benchmark, req.Start, req.End),
		BenchmarkSymbol: req.Benchmark,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline.RunWalkForward: %w", err)
	}

	issues.Merge(summary.Metadata.Issues)
	meta.Issues = issues
	meta.SkippedWindows = summary.WindowsSkipped
	summary.Metadata = meta
	if summary.OutOfSample != nil {
		oos := meta
		oos.Mode = summary.OutOfSample.Metadata.Mode
		summary.OutOfSample.Metadata = oos
	}

	dest := p.destination(meta.RunID)
	err = p.write(func(w ports.ReportWriter) error { return w.WriteWalkForward(ctx, summary, dest) })
	if err != nil {
		return summary, fmt.Errorf("pipeline.RunWalkForward: write: %w", err)
	}
	return summary, nil
}

// prepare validates the request and builds the per-run components.
func (p *Pipeline) prepare(req BacktestRequest) (*simulator.Simulator, *analyzer.Analyzer, error) {
	if err := validate(req); err != nil {
		return nil, nil, err
	}
	if p.bars == nil {
		return nil, nil, &domain.ConfigurationError{Field: "bars", Detail: "no bar repository"}
	}
	if p.signals == nil {
		return nil, nil, &domain.ConfigurationError{Field: "signals", Detail: "no signal feed"}
	}
	sim := simulator.New(p.cfg.Simulator, req.Costs, req.Sizing)
	if err := sim.Config().Validate(); err != nil {
		return nil, nil, err
	}
	an := analyzer.New(p.cfg.Analyzer)
	if err := an.Config().Validate(); err != nil {
		return nil, nil, err
	}
	return sim, an, nil
}

func validate(req BacktestRequest) error {
	if len(normalizeUniverse(req.Universe)) == 0 {
		return &domain.ConfigurationError{Field: "universe", Detail: "must not be empty"}
	}
	if req.Start.IsZero() || req.End.IsZero() {
		return &domain.ConfigurationError{Field: "range", Detail: "start and end are required"}
	}
	if !req.End.After(req.Start) {
		return &domain.ConfigurationError{Field: "range", Detail: "end must be after start"}
	}
	if req.Capital <= 0 {
		return &domain.ConfigurationError{Field: "capital", Detail: "must be positive"}
	}
	if req.Sizing == nil {
		return &domain.ConfigurationError{Field: "sizing", Detail: "no sizing policy"}
	}
	return req.Costs.Validate()
}

func (p *Pipeline) metadata(mode string, req BacktestRequest, universe []string, sim *simulator.Simulator) domain.ReportMetadata {
	meta := domain.ReportMetadata{
		RunID:       uuid.NewString(),
		Mode:        mode,
		Start:       req.Start,
		End:         req.End,
		Universe:    universe,
		FillMode:    string(sim.Config().FillMode),
		GeneratedAt: time.Now().UTC(),
	}
	if named, ok := req.Sizing.(interface{ Name() string }); ok {
		meta.SizingPolicy = named.Name()
	}
	return meta
}

func (p *Pipeline) destination(runID string) string {
	if p.cfg.OutputDir == "" {
		return runID
	}
	return filepath.Join(p.cfg.OutputDir, runID)
}

// write runs every writer even after a failure and joins the errors.
func (p *Pipeline) write(fn func(ports.ReportWriter) error) error {
	var errs []error
	for _, w := range p.writers {
		if err := fn(w); err != nil {
			slog.Error("report writer failed", "writer", fmt.Sprintf("%T", w), "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
