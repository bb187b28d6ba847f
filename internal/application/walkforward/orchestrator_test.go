package walkforward

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/backtester/internal/application/analyzer"
	"github.com/alejandrodnm/backtester/internal/application/simulator"
	"github.com/alejandrodnm/backtester/internal/domain"
	"github.com/alejandrodnm/backtester/internal/ports"
)

const capital = 100_000.0

// risingBars closes at 100+i on day i.
func risingBars(sym string, n int) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		c := 100 + float64(i)
		bars[i] = domain.Bar{Symbol: sym, Timestamp: days(i), Open: c, High: c + 0.5, Low: c - 0.5, Close: c, Volume: 1000}
	}
	return bars
}

func longAt(sym string, ts time.Time) domain.Signal {
	return domain.Signal{Symbol: sym, Timestamp: ts, Direction: domain.DirectionLong, Pattern: "breakout", Bucket: "BUCKET_A", Confidence: 1}
}

// firstDayFeed emits one long signal on the first day of every request.
type firstDayFeed struct {
	failOn time.Time
}

func (f firstDayFeed) Signals(_ context.Context, universe []string, start, _ time.Time) ([]domain.Signal, error) {
	if start.Equal(f.failOn) {
		return nil, errors.New("feed unavailable")
	}
	return []domain.Signal{longAt(universe[0], start)}, nil
}

// trainingFeed records the windows it was asked for and leaks one signal
// from the training range.
type trainingFeed struct {
	mu      sync.Mutex
	windows []domain.Window
}

func (f *trainingFeed) Signals(context.Context, []string, time.Time, time.Time) ([]domain.Signal, error) {
	return nil, errors.New("plain feed should not be used")
}

func (f *trainingFeed) WindowSignals(_ context.Context, universe []string, w domain.Window) ([]domain.Signal, error) {
	f.mu.Lock()
	f.windows = append(f.windows, w)
	f.mu.Unlock()
	return []domain.Signal{longAt(universe[0], w.TrainStart), longAt(universe[0], w.TestStart)}, nil
}

func newOrchestrator(workers int) *Orchestrator {
	sim := simulator.New(
		simulator.Config{MaxPositions: 5, FillMode: simulator.FillSignalClose},
		domain.CostModel{PriceDecimals: 2},
		ports.SizingFunc(func(domain.SizingRequest) float64 { return 10 }),
	)
	return New(Config{Workers: workers}, sim, analyzer.New(analyzer.DefaultConfig()))
}

func baseInput(feed ports.SignalFeed) Input {
	return Input{
		Universe:       []string{"AAA"},
		Start:          days(0),
		End:            days(120),
		Spec:           WindowSpec{Train: 30, Test: 30},
		InitialCapital: capital,
		Bars:           map[string][]domain.Bar{"AAA": risingBars("AAA", 120)},
		Signals:        feed,
	}
}

func TestRun_ChainsWindowsContinuously(t *testing.T) {
	s, err := newOrchestrator(4).Run(context.Background(), baseInput(firstDayFeed{}))
	require.NoError(t, err)

	require.Len(t, s.Windows, 3)
	assert.Equal(t, 3, s.WindowsRun)
	assert.Equal(t, 0, s.WindowsSkipped)
	for i, w := range s.Windows {
		assert.Equal(t, i, w.Window.Index)
		require.NotNil(t, w.Report)
		// 10 shares held 29 sessions at +1/day
		assert.InDelta(t, capital+290, w.Report.FinalEquity, 1e-6)
		assert.Equal(t, 1, w.Report.TradeStats.Trades)
	}

	// 30 samples per window, nothing added between them
	require.Len(t, s.ChainedEquity, 90)
	assert.Equal(t, capital, s.ChainedEquity[0].Equity)
	assert.Equal(t, s.Windows[0].Window.TestStart, s.ChainedEquity[0].Timestamp)
	assert.Equal(t, s.Windows[1].Window.TestStart, s.ChainedEquity[30].Timestamp)
	assert.Equal(t, s.Windows[2].Window.TestStart, s.ChainedEquity[60].Timestamp)
	assert.InDelta(t, s.ChainedEquity[29].Equity, s.ChainedEquity[30].Equity, 1e-9)
	assert.InDelta(t, s.ChainedEquity[59].Equity, s.ChainedEquity[60].Equity, 1e-9)

	growth := 1 + 290/capital
	assert.InDelta(t, math.Pow(growth, 3)-1, s.ChainedTotalReturn, 1e-12)
	assert.InDelta(t, capital*math.Pow(growth, 3), s.ChainedEquity[89].Equity, 1e-6)
	assert.Equal(t, 100.0, s.PositiveWindowsPct)

	require.NotNil(t, s.OutOfSample)
	assert.Equal(t, 3, s.OutOfSample.TradeStats.Trades)
	assert.InDelta(t, s.ChainedTotalReturn, s.OutOfSample.TotalReturn, 1e-12)
}

func TestRun_ChainedCurveHasOneSamplePerSession(t *testing.T) {
	in := baseInput(firstDayFeed{})
	in.Benchmark = make([]domain.EquityPoint, 0, len(in.Bars["AAA"]))
	for _, b := range in.Bars["AAA"] {
		in.Benchmark = append(in.Benchmark, domain.EquityPoint{Timestamp: b.Timestamp, Equity: b.Close, Cash: b.Close})
	}
	in.BenchmarkSymbol = "AAA"

	s, err := newOrchestrator(4).Run(context.Background(), in)
	require.NoError(t, err)
	require.NotEmpty(t, s.ChainedEquity)

	for i := 1; i < len(s.ChainedEquity); i++ {
		assert.True(t, s.ChainedEquity[i].Timestamp.After(s.ChainedEquity[i-1].Timestamp),
			"timestamp %d not after %d", i, i-1)
	}

	samples := 0
	for _, w := range s.Windows {
		require.NotNil(t, w.Report)
		samples += len(w.Report.Equity)
	}
	require.NotNil(t, s.OutOfSample)
	assert.Equal(t, samples, s.OutOfSample.Periods)
	assert.Equal(t, len(s.ChainedEquity), s.OutOfSample.Periods)
	require.NotNil(t, s.OutOfSample.Benchmark)
	// one benchmark match per chained return
	assert.Equal(t, samples-1, s.OutOfSample.Benchmark.Periods)
}

func TestRun_SummaryStats(t *testing.T) {
	s, err := newOrchestrator(2).Run(context.Background(), baseInput(firstDayFeed{}))
	require.NoError(t, err)

	tr, ok := s.Stat("total_return")
	require.True(t, ok)
	assert.InDelta(t, 0.0029, tr.Mean, 1e-12)
	assert.InDelta(t, 0.0029, tr.Median, 1e-12)
	assert.InDelta(t, 0.0, tr.StdDev, 1e-12)
	assert.InDelta(t, 0.0029, tr.Min, 1e-12)
	assert.InDelta(t, 0.0029, tr.Max, 1e-12)

	trades, ok := s.Stat("trades")
	require.True(t, ok)
	assert.Equal(t, 1.0, trades.Mean)

	_, ok = s.Stat("unknown")
	assert.False(t, ok)
	assert.Equal(t, 30, s.Step)
}

func TestRun_SkipsWindowWithTooFewPeriods(t *testing.T) {
	in := baseInput(firstDayFeed{})
	all := in.Bars["AAA"]
	thin := append([]domain.Bar{}, all[:65]...)
	in.Bars["AAA"] = append(thin, all[90:]...)

	s, err := newOrchestrator(4).Run(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, 2, s.WindowsRun)
	assert.Equal(t, 1, s.WindowsSkipped)
	assert.Equal(t, 1, s.Metadata.SkippedWindows)

	skipped := s.Windows[1]
	require.True(t, skipped.Skipped())
	assert.Equal(t, domain.SkipInsufficientData, skipped.Skip.Kind)
	assert.Contains(t, skipped.Skip.Detail, "has 5 periods, need 20")

	// skipped windows contribute nothing to the chained curve
	require.Len(t, s.ChainedEquity, 60)
	growth := 1 + 290/capital
	assert.InDelta(t, growth*growth-1, s.ChainedTotalReturn, 1e-12)
}

func TestRun_FeedFailureSkipsWindow(t *testing.T) {
	s, err := newOrchestrator(4).Run(context.Background(), baseInput(firstDayFeed{failOn: days(60)}))
	require.NoError(t, err)

	assert.Equal(t, 2, s.WindowsRun)
	require.True(t, s.Windows[1].Skipped())
	assert.Equal(t, domain.SkipSignalFeed, s.Windows[1].Skip.Kind)
	assert.Equal(t, "feed unavailable", s.Windows[1].Skip.Detail)
}

func TestRun_WindowFeedSeesTrainingRange(t *testing.T) {
	feed := &trainingFeed{}
	s, err := newOrchestrator(4).Run(context.Background(), baseInput(feed))
	require.NoError(t, err)

	require.Len(t, feed.windows, 3)
	for _, w := range feed.windows {
		assert.Equal(t, w.TestStart.AddDate(0, 0, -30), w.TrainStart)
	}
	// each window drops its training-range signal
	assert.Equal(t, 3, s.Metadata.Issues.Rejections[domain.RejectOutsideWindow])
	for _, w := range s.Windows {
		require.NotNil(t, w.Report)
		assert.Equal(t, 1, w.Report.TradeStats.Trades)
		assert.Equal(t, 1, w.Report.Metadata.Issues.Rejections[domain.RejectOutsideWindow])
	}
}

func TestRun_IndependentOfWorkerCount(t *testing.T) {
	one, err := newOrchestrator(1).Run(context.Background(), baseInput(firstDayFeed{}))
	require.NoError(t, err)
	many, err := newOrchestrator(8).Run(context.Background(), baseInput(firstDayFeed{}))
	require.NoError(t, err)

	assert.Equal(t, one.ChainedEquity, many.ChainedEquity)
	assert.Equal(t, one.Stats, many.Stats)
	for i := range one.Windows {
		assert.Equal(t, one.Windows[i].Report.Trades, many.Windows[i].Report.Trades)
	}
}

func TestRun_ConfigurationErrors(t *testing.T) {
	o := newOrchestrator(2)

	in := baseInput(firstDayFeed{})
	in.Spec = WindowSpec{Train: 30, Test: 30, Step: 10}
	_, err := o.Run(context.Background(), in)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	in = baseInput(firstDayFeed{})
	in.InitialCapital = 0
	_, err = o.Run(context.Background(), in)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	in = baseInput(nil)
	_, err = o.Run(context.Background(), in)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newOrchestrator(2).Run(ctx, baseInput(firstDayFeed{}))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSliceBars(t *testing.T) {
	all := map[string][]domain.Bar{
		"AAA": risingBars("AAA", 10),
		"BBB": risingBars("BBB", 3),
	}
	out, periods := sliceBars(all, days(2), days(6))
	assert.Equal(t, 4, periods)
	assert.Len(t, out["AAA"], 4)
	assert.Len(t, out["BBB"], 1)

	out, periods = sliceBars(all, days(20), days(30))
	assert.Empty(t, out)
	assert.Equal(t, 0, periods)
}

func TestBarsBefore(t *testing.T) {
	all := map[string][]domain.Bar{
		"AAA": risingBars("AAA", 10),
		"BBB": risingBars("BBB", 3),
	}
	out := barsBefore(all, days(6), 4)
	require.Len(t, out["AAA"], 4)
	assert.Equal(t, days(2), out["AAA"][0].Timestamp)
	assert.Equal(t, days(5), out["AAA"][3].Timestamp)
	assert.Len(t, out["BBB"], 3)

	out = barsBefore(all, days(0), 4)
	assert.Empty(t, out)
}

// atrStopFeed emits a long on the first test day with a one-ATR stop.
type atrStopFeed struct{}

func (atrStopFeed) Signals(_ context.Context, universe []string, start, _ time.Time) ([]domain.Signal, error) {
	sig := longAt(universe[0], start)
	sig.StopDistance, sig.DistanceUnit = 1, domain.DistanceATR
	return []domain.Signal{sig}, nil
}

func TestRun_WindowATRUsesPrecedingBars(t *testing.T) {
	bars := risingBars("AAA", 60)
	for i := range bars[:30] {
		bars[i].High, bars[i].Low = bars[i].Close+3, bars[i].Close-3
	}
	// a dip through a one-bar ATR stop but well inside the warmed one
	bars[32].Low = bars[32].Close - 4

	in := baseInput(atrStopFeed{})
	in.End = days(60)
	in.Bars = map[string][]domain.Bar{"AAA": bars}

	s, err := newOrchestrator(2).Run(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, s.Windows, 1)
	require.NotNil(t, s.Windows[0].Report)
	require.Len(t, s.Windows[0].Report.Trades, 1)
	tr := s.Windows[0].Report.Trades[0]
	assert.Equal(t, domain.ExitEndOfRun, tr.ExitReason)
	assert.Equal(t, days(30), tr.EntryTime)
	require.Len(t, s.Windows[0].Report.Equity, 30)
	assert.Equal(t, days(30), s.Windows[0].Report.Equity[0].Timestamp)
}

func TestTestSignals(t *testing.T) {
	w := domain.Window{TrainStart: days(0), TrainEnd: days(30), TestStart: days(30), TestEnd: days(60)}
	signals := []domain.Signal{
		longAt("AAA", days(10)),
		longAt("AAA", days(30)),
		longAt("AAA", days(59)),
		longAt("AAA", days(60)),
	}
	kept, dropped := testSignals(w, signals)
	assert.Equal(t, 2, dropped)
	require.Len(t, kept, 2)
	assert.Equal(t, days(30), kept[0].Timestamp)
	assert.Equal(t, days(59), kept[1].Timestamp)
}
