package walkforward

import (
	"math"

	"github.com/alejandrodnm/backtester/internal/application/analyzer"
	"github.com/alejandrodnm/backtester/internal/domain"
)

// summarize assembles the ordered results into a summary. Every executed
// window starts from the base capital; the chained curve compounds them by
// rescaling each window's curve to the capital the previous one ended with.
func (o *Orchestrator) summarize(in Input, results []domain.WindowResult) *domain.WalkForwardSummary {
	step := in.Spec.Step
	if step == 0 {
		step = in.Spec.Test
	}
	s := &domain.WalkForwardSummary{
		Train:   in.Spec.Train,
		Test:    in.Spec.Test,
		Step:    step,
		Windows: results,
	}

	var reports []*domain.PerformanceReport
	var trades []domain.Trade
	running := in.InitialCapital
	positive := 0
	for _, r := range results {
		if r.Skipped() {
			s.WindowsSkipped++
			continue
		}
		s.WindowsRun++
		reports = append(reports, r.Report)
		if r.Report.TotalReturn > 0 {
			positive++
		}
		trades = append(trades, r.Report.Trades...)

		scaled := r.Report.Equity.Scaled(running / in.InitialCapital)
		s.ChainedEquity = append(s.ChainedEquity, scaled...)
		running = scaled.Last(running)
	}

	s.Metadata.SkippedWindows = s.WindowsSkipped
	s.PositiveWindowsPct = domain.SafeDiv(float64(positive), float64(s.WindowsRun)) * 100
	s.ChainedTotalReturn = running/in.InitialCapital - 1
	s.Stats = metricStats(reports)

	if s.WindowsRun > 0 {
		s.OutOfSample = o.analyzer.Analyze(analyzer.Input{
			Trades:          trades,
			Equity:          s.ChainedEquity,
			InitialCapital:  in.InitialCapital,
			Benchmark:       in.Benchmark,
			BenchmarkSymbol: in.BenchmarkSymbol,
		})
		s.OutOfSample.Metadata.Mode = "out_of_sample"
	}
	return s
}

// metricStats aggregates every scalar metric across executed windows, in
// the order PerformanceReport.ScalarMetrics lists them.
func metricStats(reports []*domain.PerformanceReport) []domain.MetricStats {
	if len(reports) == 0 {
		return nil
	}
	var names []string
	values := make(map[string][]float64)
	for i, r := range reports {
		for _, m := range r.ScalarMetrics() {
			if i == 0 {
				names = append(names, m.Name)
			}
			values[m.Name] = append(values[m.Name], m.Value)
		}
	}

	out := make([]domain.MetricStats, 0, len(names))
	for _, name := range names {
		xs := values[name]
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, x := range xs {
			lo, hi = math.Min(lo, x), math.Max(hi, x)
		}
		out = append(out, domain.MetricStats{
			Name:   name,
			Mean:   domain.Mean(xs),
			Median: domain.Median(xs),
			StdDev: domain.StdDev(xs),
			Min:    lo,
			Max:    hi,
		})
	}
	return out
}
