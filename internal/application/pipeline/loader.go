package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/backtester/internal/domain"
)

// LoaderConfig throttles the bar repository.
type LoaderConfig struct {
	Workers    int     // <= 0 uses runtime.NumCPU() * 2
	RatePerSec float64 // 0 disables throttling
	Burst      int
}

func (c LoaderConfig) limiter() *rate.Limiter {
	if c.RatePerSec <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := c.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(c.RatePerSec), burst)
}

// normalizeUniverse trims, de-duplicates and sorts the symbols.
func normalizeUniverse(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// loadBars fetches every symbol concurrently. Failed or empty symbols are
// recorded as data gaps; only cancellation is returned as an error.
func (p *Pipeline) loadBars(ctx context.Context, universe []string, start, end time.Time) (map[string][]domain.Bar, domain.RunIssues, error) {
	var issues domain.RunIssues
	workers := p.cfg.Loader.Workers
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}
	workers = min(workers, len(universe))
	limiter := p.cfg.Loader.limiter()

	type result struct {
		symbol string
		bars   []domain.Bar
		err    error
	}

	workCh := make(chan string, len(universe))
	resultCh := make(chan result, len(universe))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range workCh {
				if err := limiter.Wait(ctx); err != nil {
					resultCh <- result{symbol: sym, err: fmt.Errorf("rate limiter: %w", err)}
					continue
				}
				bars, err := p.bars.Bars(ctx, sym, start, end)
				resultCh <- result{symbol: sym, bars: bars, err: err}
			}
		}()
	}
	for _, sym := range universe {
		workCh <- sym
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	out := make(map[string][]domain.Bar, len(universe))
	for r := range resultCh {
		switch {
		case r.err != nil:
			gap := &domain.DataGapError{Symbol: r.symbol, Detail: r.err.Error()}
			issues.SkipSymbol(domain.SymbolIssue{Symbol: r.symbol, Kind: domain.IssueDataGap, Detail: gap.Error()})
			slog.Warn("bars unavailable", "symbol", r.symbol, "err", r.err)
		case len(r.bars) == 0:
			gap := &domain.DataGapError{Symbol: r.symbol, Detail: "no bars in range"}
			issues.SkipSymbol(domain.SymbolIssue{Symbol: r.symbol, Kind: domain.IssueDataGap, Detail: gap.Error()})
			slog.Warn("no bars for symbol", "symbol", r.symbol)
		default:
			out[r.symbol] = r.bars
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, issues, fmt.Errorf("load bars: %w", err)
	}

	slog.Debug("bars loaded",
		"symbols", len(universe),
		"loaded", len(out),
		"skipped", len(issues.SkippedSymbols),
		"workers", workers,
	)
	return out, issues, nil
}

// loadBenchmark turns the benchmark closes into a value series. Failures
// only drop the benchmark section of the report.
func (p *Pipeline) loadBenchmark(ctx context.Context, symbol string, start, end time.Time) []domain.EquityPoint {
	if symbol == "" {
		return nil
	}
	bars, err := p.bars.Bars(ctx, symbol, start, end)
	if err != nil {
		slog.Warn("benchmark unavailable", "symbol", symbol, "err", err)
		return nil
	}
	if err := domain.ValidateSeries(symbol, bars); err != nil {
		slog.Warn("benchmark rejected", "symbol", symbol, "err", err)
		return nil
	}
	out := make([]domain.EquityPoint, len(bars))
	for i, b := range bars {
		out[i] = domain.EquityPoint{Timestamp: b.Timestamp, Equity: b.Close}
	}
	return out
}
