package analyzer

import (
	"fmt"
	"math"

	"github.com/alejandrodnm/backtester/internal/domain"
)

// VaRMethod selects how tail risk is estimated.
type VaRMethod string

const (
	VaRHistorical VaRMethod = "historical"
	VaRParametric VaRMethod = "parametric"
)

// Config controls annualisation and tail-risk estimation.
type Config struct {
	PeriodsPerYear int
	RiskFreeRate   float64 // annual, same units as returns
	VaRConfidence  float64
	VaRMethod      VaRMethod
}

// DefaultConfig suits daily equity bars.
func DefaultConfig() Config {
	return Config{PeriodsPerYear: 252, VaRConfidence: 0.95, VaRMethod: VaRHistorical}
}

// Validate rejects settings that would make every metric meaningless.
func (c Config) Validate() error {
	if c.PeriodsPerYear <= 0 {
		return &domain.ConfigurationError{Field: "analyzer.periods_per_year", Detail: "must be positive"}
	}
	if c.VaRConfidence <= 0 || c.VaRConfidence >= 1 {
		return &domain.ConfigurationError{Field: "analyzer.var_confidence", Detail: "must be in (0,1)"}
	}
	switch c.VaRMethod {
	case VaRHistorical, VaRParametric:
	default:
		return &domain.ConfigurationError{Field: "analyzer.var_method", Detail: fmt.Sprintf("unknown method %q", c.VaRMethod)}
	}
	return nil
}

// Analyzer derives PerformanceReports. It holds no state between calls.
type Analyzer struct {
	cfg Config
}

// New fills unset fields from DefaultConfig.
func New(cfg Config) *Analyzer {
	def := DefaultConfig()
	if cfg.PeriodsPerYear <= 0 {
		cfg.PeriodsPerYear = def.PeriodsPerYear
	}
	if cfg.VaRConfidence <= 0 || cfg.VaRConfidence >= 1 {
		cfg.VaRConfidence = def.VaRConfidence
	}
	if cfg.VaRMethod == "" {
		cfg.VaRMethod = def.VaRMethod
	}
	return &Analyzer{cfg: cfg}
}

// Config returns the effective configuration.
func (a *Analyzer) Config() Config { return a.cfg }

// Input is what a report is derived from.
type Input struct {
	Trades          []domain.Trade
	Equity          domain.EquityCurve
	InitialCapital  float64
	Benchmark       []domain.EquityPoint // benchmark closes, aligned by timestamp
	BenchmarkSymbol string
}

// Analyze never fails: degenerate inputs produce neutral zeros.
func (a *Analyzer) Analyze(in Input) *domain.PerformanceReport {
	ppy := float64(a.cfg.PeriodsPerYear)
	values := append([]float64{in.InitialCapital}, in.Equity.Values()...)
	returns := periodReturns(values)
	final := in.Equity.Last(in.InitialCapital)

	r := &domain.PerformanceReport{
		InitialCapital: in.InitialCapital,
		FinalEquity:    final,
		Periods:        len(in.Equity),
		PeriodsPerYear: a.cfg.PeriodsPerYear,
		VaRConfidence:  a.cfg.VaRConfidence,
		VaRMethod:      string(a.cfg.VaRMethod),
		Trades:         in.Trades,
		Equity:         in.Equity,
	}

	r.TotalReturn = domain.SafeDiv(final, in.InitialCapital) - 1
	if in.InitialCapital <= 0 {
		r.TotalReturn = 0
	}
	r.AnnualizedReturn = annualize(final, in.InitialCapital, len(returns), ppy)
	r.Volatility = domain.StdDev(returns) * math.Sqrt(ppy)
	r.Sharpe = domain.SafeDiv(r.AnnualizedReturn-a.cfg.RiskFreeRate, r.Volatility)

	var downside []float64
	positive := 0
	for _, x := range returns {
		if x < 0 {
			downside = append(downside, x)
		}
		if x > 0 {
			positive++
		}
	}
	r.Sortino = domain.SafeDiv(r.AnnualizedReturn-a.cfg.RiskFreeRate, domain.StdDev(downside)*math.Sqrt(ppy))
	r.PositivePeriodsPct = domain.SafeDiv(float64(positive), float64(len(returns))) * 100

	dd, ddDur := domain.Drawdown(values)
	r.MaxDrawdownPct = dd * 100
	r.MaxDrawdownDuration = ddDur
	r.Calmar = domain.SafeDiv(r.AnnualizedReturn, math.Abs(dd))

	r.VaR, r.CVaR = a.tailRisk(returns)
	r.MonthlyReturns = monthlyReturns(in.Equity, in.InitialCapital)

	r.TradeStats = tradeStats(in.Trades)
	r.ByPattern = breakdown(in.Trades, in.InitialCapital, func(t domain.Trade) string { return t.Pattern })
	r.ByBucket = breakdown(in.Trades, in.InitialCapital, func(t domain.Trade) string { return t.Bucket })

	if len(in.Benchmark) > 0 {
		r.Benchmark = benchmarkStats(in.Equity, in.Benchmark, ppy)
		r.Benchmark.Symbol = in.BenchmarkSymbol
	}
	return r
}

// periodReturns are simple returns between consecutive values.
func periodReturns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		out[i-1] = domain.SafeDiv(values[i], values[i-1]) - 1
		if values[i-1] == 0 {
			out[i-1] = 0
		}
	}
	return out
}

// annualize compounds the total growth over n periods to a yearly rate.
func annualize(final, initial float64, n int, ppy float64) float64 {
	if n == 0 || initial <= 0 {
		return 0
	}
	growth := final / initial
	if growth <= 0 {
		return -1
	}
	return math.Pow(growth, ppy/float64(n)) - 1
}

// tailRisk returns VaR and CVaR as per-period returns (negative is a loss).
func (a *Analyzer) tailRisk(returns []float64) (float64, float64) {
	if len(returns) == 0 {
		return 0, 0
	}
	alpha := 1 - a.cfg.VaRConfidence
	if a.cfg.VaRMethod == VaRParametric {
		mu, sigma := domain.Mean(returns), domain.StdDev(returns)
		z := domain.NormalQuantile(alpha)
		return mu + z*sigma, mu - sigma*domain.NormalPDF(z)/alpha
	}
	v := domain.Percentile(returns, alpha)
	var tail []float64
	for _, x := range returns {
		if x <= v {
			tail = append(tail, x)
		}
	}
	if len(tail) == 0 {
		return v, v
	}
	return v, domain.Mean(tail)
}

// monthlyReturns compounds the curve by calendar month of the sample
// timestamps. The first month starts from initial capital.
func monthlyReturns(curve domain.EquityCurve, initial float64) []domain.PeriodReturn {
	if len(curve) == 0 || initial <= 0 {
		return nil
	}
	var out []domain.PeriodReturn
	base := initial
	for i, p := range curve {
		month := p.Timestamp.Format("2006-01")
		lastOfMonth := i == len(curve)-1 || curve[i+1].Timestamp.Format("2006-01") != month
		if !lastOfMonth {
			continue
		}
		out = append(out, domain.PeriodReturn{Period: month, Return: domain.SafeDiv(p.Equity, base) - 1})
		base = p.Equity
	}
	return out
}
