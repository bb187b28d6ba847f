package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/backtester/internal/application/simulator"
	"github.com/alejandrodnm/backtester/internal/domain"
	"github.com/alejandrodnm/backtester/internal/domain/sizing"
	"github.com/alejandrodnm/backtester/internal/ports"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func day(i int) time.Time { return day0.AddDate(0, 0, i) }

func rising(sym string, n int) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		c := 100 + float64(i)
		bars[i] = domain.Bar{Symbol: sym, Timestamp: day(i), Open: c, High: c + 0.5, Low: c - 0.5, Close: c, Volume: 1000}
	}
	return bars
}

type stubBars struct {
	series map[string][]domain.Bar
	errs   map[string]error
	calls  atomic.Int32
}

func (s *stubBars) Bars(_ context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	s.calls.Add(1)
	if err := s.errs[symbol]; err != nil {
		return nil, err
	}
	var out []domain.Bar
	for _, b := range s.series[symbol] {
		if !b.Timestamp.Before(start) && b.Timestamp.Before(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

// dailyFeed emits a long AAA signal every `every` days inside the request.
type dailyFeed struct {
	every int
	err   error
}

func (f dailyFeed) Signals(_ context.Context, _ []string, start, end time.Time) ([]domain.Signal, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.Signal
	for ts := start; ts.Before(end); ts = ts.AddDate(0, 0, f.every) {
		out = append(out, domain.Signal{Symbol: "AAA", Timestamp: ts, Direction: domain.DirectionLong, Pattern: "breakout", Bucket: "BUCKET_A", Confidence: 1})
	}
	return out, nil
}

type recordingWriter struct {
	mu        sync.Mutex
	err       error
	reports   []*domain.PerformanceReport
	summaries []*domain.WalkForwardSummary
	dests     []string
}

func (w *recordingWriter) WriteReport(_ context.Context, r *domain.PerformanceReport, dest string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reports = append(w.reports, r)
	w.dests = append(w.dests, dest)
	return w.err
}

func (w *recordingWriter) WriteWalkForward(_ context.Context, s *domain.WalkForwardSummary, dest string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.summaries = append(w.summaries, s)
	w.dests = append(w.dests, dest)
	return w.err
}

func fixed(n float64) ports.SizingPolicy {
	return ports.SizingFunc(func(domain.SizingRequest) float64 { return n })
}

func testConfig() Config {
	return Config{
		Simulator: simulator.Config{MaxPositions: 5, FillMode: simulator.FillSignalClose},
		Loader:    LoaderConfig{Workers: 3},
		OutputDir: "out",
	}
}

func request() BacktestRequest {
	return BacktestRequest{
		Universe: []string{"AAA"},
		Start:    day(0),
		End:      day(40),
		Capital:  100_000,
		Costs:    domain.CostModel{PriceDecimals: 2},
		Sizing:   fixed(10),
	}
}

func TestRunBacktest_EndToEnd(t *testing.T) {
	repo := &stubBars{series: map[string][]domain.Bar{"AAA": rising("AAA", 40)}}
	w := &recordingWriter{}
	p := New(testConfig(), repo, dailyFeed{every: 100}, w)

	report, err := p.RunBacktest(context.Background(), request())
	require.NoError(t, err)

	// 10 shares from 100 to the day-39 close of 139
	assert.Equal(t, 1, report.TradeStats.Trades)
	assert.InDelta(t, 100_390.0, report.FinalEquity, 1e-6)
	assert.InDelta(t, 0.0039, report.TotalReturn, 1e-12)
	assert.Equal(t, domain.ExitEndOfRun, report.Trades[0].ExitReason)

	meta := report.Metadata
	assert.Equal(t, ModeBacktest, meta.Mode)
	assert.NotEmpty(t, meta.RunID)
	assert.Equal(t, "signal_close", meta.FillMode)
	assert.Equal(t, []string{"AAA"}, meta.Universe)

	require.Len(t, w.reports, 1)
	assert.Same(t, report, w.reports[0])
	assert.Equal(t, filepath.Join("out", meta.RunID), w.dests[0])
}

func TestRunBacktest_MissingSymbolsAreSkipped(t *testing.T) {
	repo := &stubBars{
		series: map[string][]domain.Bar{"AAA": rising("AAA", 40)},
		errs:   map[string]error{"CCC": errors.New("connection reset")},
	}
	req := request()
	req.Universe = []string{"CCC", "AAA", " BBB ", "AAA", ""}
	p := New(testConfig(), repo, dailyFeed{every: 100})

	report, err := p.RunBacktest(context.Background(), req)
	require.NoError(t, err)

	meta := report.Metadata
	assert.Equal(t, []string{"AAA", "BBB", "CCC"}, meta.Universe)
	require.Len(t, meta.Issues.SkippedSymbols, 2)
	assert.Equal(t, "BBB", meta.Issues.SkippedSymbols[0].Symbol)
	assert.Equal(t, "CCC", meta.Issues.SkippedSymbols[1].Symbol)
	assert.Contains(t, meta.Issues.SkippedSymbols[1].Detail, "connection reset")
	assert.Equal(t, 2, meta.Issues.DataGaps)
	assert.Equal(t, 1, report.TradeStats.Trades)
}

func TestRunBacktest_ValidationHappensBeforeLoading(t *testing.T) {
	cases := map[string]func(*BacktestRequest){
		"empty universe":    func(r *BacktestRequest) { r.Universe = []string{" "} },
		"inverted range":    func(r *BacktestRequest) { r.End = r.Start },
		"zero capital":      func(r *BacktestRequest) { r.Capital = 0 },
		"nil sizing":        func(r *BacktestRequest) { r.Sizing = nil },
		"negative slippage": func(r *BacktestRequest) { r.Costs.SlippageBps = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			repo := &stubBars{}
			req := request()
			mutate(&req)

			_, err := New(testConfig(), repo, dailyFeed{every: 1}).RunBacktest(context.Background(), req)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConfiguration)
			assert.Zero(t, repo.calls.Load())
		})
	}
}

func TestRunBacktest_InvalidFillMode(t *testing.T) {
	cfg := testConfig()
	cfg.Simulator.FillMode = "vwap"
	repo := &stubBars{}
	_, err := New(cfg, repo, dailyFeed{every: 1}).RunBacktest(context.Background(), request())
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Zero(t, repo.calls.Load())
}

func TestRunBacktest_SignalFeedFailure(t *testing.T) {
	repo := &stubBars{series: map[string][]domain.Bar{"AAA": rising("AAA", 40)}}
	_, err := New(testConfig(), repo, dailyFeed{err: errors.New("boom")}).RunBacktest(context.Background(), request())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline.RunBacktest: signals: boom")
}

func TestRunBacktest_AllWritersRunOnFailure(t *testing.T) {
	repo := &stubBars{series: map[string][]domain.Bar{"AAA": rising("AAA", 40)}}
	failing := &recordingWriter{err: errors.New("disk full")}
	ok := &recordingWriter{}

	report, err := New(testConfig(), repo, dailyFeed{every: 100}, failing, ok).RunBacktest(context.Background(), request())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.NotNil(t, report)
	assert.Len(t, failing.reports, 1)
	assert.Len(t, ok.reports, 1)
}

func TestRunBacktest_Benchmark(t *testing.T) {
	repo := &stubBars{series: map[string][]domain.Bar{
		"AAA": rising("AAA", 40),
		"SPY": rising("SPY", 40),
	}}
	req := request()
	req.Benchmark = "SPY"

	report, err := New(testConfig(), repo, dailyFeed{every: 100}).RunBacktest(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, report.Benchmark)
	assert.Equal(t, "SPY", report.Benchmark.Symbol)
	assert.Equal(t, 39, report.Benchmark.Periods)
	// the benchmark is not traded
	assert.Equal(t, []string{"AAA"}, report.Metadata.Universe)
}

func TestRunBacktest_RecordsSizingPolicyName(t *testing.T) {
	repo := &stubBars{series: map[string][]domain.Bar{"AAA": rising("AAA", 40)}}
	req := request()
	req.Sizing = sizing.NewFixedFraction(0.05, false)

	report, err := New(testConfig(), repo, dailyFeed{every: 100}).RunBacktest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "fixed_fraction", report.Metadata.SizingPolicy)
}

func TestRunWalkForward(t *testing.T) {
	repo := &stubBars{series: map[string][]domain.Bar{"AAA": rising("AAA", 120)}}
	w := &recordingWriter{}
	req := WalkForwardRequest{BacktestRequest: request(), Train: 30, Test: 30}
	req.End = day(120)

	summary, err := New(testConfig(), repo, dailyFeed{every: 30}, w).RunWalkForward(context.Background(), req)
	require.NoError(t, err)

	assert.Len(t, summary.Windows, 3)
	assert.Equal(t, 3, summary.WindowsRun)
	assert.Equal(t, ModeWalkForward, summary.Metadata.Mode)
	assert.Equal(t, 0, summary.Metadata.SkippedWindows)
	require.NotNil(t, summary.OutOfSample)
	assert.Equal(t, summary.Metadata.RunID, summary.OutOfSample.Metadata.RunID)
	assert.Equal(t, "out_of_sample", summary.OutOfSample.Metadata.Mode)
	require.Len(t, w.summaries, 1)
	assert.Same(t, summary, w.summaries[0])
}

func TestRunWalkForward_OverlappingWindowsRejectedBeforeLoading(t *testing.T) {
	repo := &stubBars{}
	req := WalkForwardRequest{BacktestRequest: request(), Train: 20, Test: 10, Step: 5}

	_, err := New(testConfig(), repo, dailyFeed{every: 1}).RunWalkForward(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Zero(t, repo.calls.Load())
}

func TestNormalizeUniverse(t *testing.T) {
	assert.Equal(t, []string{"AAA", "MSFT"}, normalizeUniverse([]string{"MSFT", " AAA", "MSFT", ""}))
	assert.Empty(t, normalizeUniverse(nil))
}

func TestLoaderConfig_Limiter(t *testing.T) {
	unlimited := LoaderConfig{}.limiter()
	assert.NoError(t, unlimited.Wait(context.Background()))

	limited := LoaderConfig{RatePerSec: 1000, Burst: 2}.limiter()
	assert.Equal(t, 2, limited.Burst())
}
