package domain

import (
	"sort"
	"time"
)

// RejectionReason is the closed set of reasons a signal did not open a position.
type RejectionReason string

const (
	RejectDataGap             RejectionReason = "data_gap"
	RejectPositionLimit       RejectionReason = "position_limit"
	RejectBucketLimit         RejectionReason = "bucket_limit"
	RejectAlreadyOpen         RejectionReason = "already_open"
	RejectInsufficientCash    RejectionReason = "insufficient_cash"
	RejectZeroQuantity        RejectionReason = "zero_quantity"
	RejectNoFillBar           RejectionReason = "no_fill_bar"
	RejectInvalidSignal       RejectionReason = "invalid_signal"
	RejectFlatWithoutPosition RejectionReason = "flat_without_position"
	RejectOutsideWindow       RejectionReason = "outside_window"
)

// Symbol issue kinds.
const (
	IssueDataGap       = "data_gap"
	IssueDataIntegrity = "data_integrity"
)

// SymbolIssue records a symbol excluded from a run.
type SymbolIssue struct {
	Symbol string `json:"symbol"`
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// RunIssues counts every recoverable condition met during a run.
type RunIssues struct {
	DataGaps       int                     `json:"data_gaps"`
	SkippedSymbols []SymbolIssue           `json:"skipped_symbols,omitempty"`
	Rejections     map[RejectionReason]int `json:"rejections,omitempty"`
}

// Reject counts one rejected signal.
func (r *RunIssues) Reject(reason RejectionReason) {
	if r.Rejections == nil {
		r.Rejections = make(map[RejectionReason]int)
	}
	r.Rejections[reason]++
	if reason == RejectDataGap {
		r.DataGaps++
	}
}

// SkipSymbol records an excluded symbol once per kind.
func (r *RunIssues) SkipSymbol(issue SymbolIssue) {
	if r.hasIssue(issue) {
		return
	}
	if issue.Kind == IssueDataGap {
		r.DataGaps++
	}
	r.SkippedSymbols = append(r.SkippedSymbols, issue)
	r.sortSymbols()
}

// Merge adds other's counters into r. Gaps are summed per occurrence while
// skipped symbols are kept once.
func (r *RunIssues) Merge(other RunIssues) {
	r.DataGaps += other.DataGaps
	for _, s := range other.SkippedSymbols {
		if !r.hasIssue(s) {
			r.SkippedSymbols = append(r.SkippedSymbols, s)
		}
	}
	r.sortSymbols()
	for reason, n := range other.Rejections {
		if r.Rejections == nil {
			r.Rejections = make(map[RejectionReason]int)
		}
		r.Rejections[reason] += n
	}
}

func (r *RunIssues) hasIssue(issue SymbolIssue) bool {
	for _, s := range r.SkippedSymbols {
		if s.Symbol == issue.Symbol && s.Kind == issue.Kind {
			return true
		}
	}
	return false
}

func (r *RunIssues) sortSymbols() {
	sort.SliceStable(r.SkippedSymbols, func(i, j int) bool {
		return r.SkippedSymbols[i].Symbol < r.SkippedSymbols[j].Symbol
	})
}

// RejectedSignals sums all rejections.
func (r RunIssues) RejectedSignals() int {
	n := 0
	for _, v := range r.Rejections {
		n += v
	}
	return n
}

// ReportMetadata describes how a report was produced.
type ReportMetadata struct {
	RunID          string    `json:"run_id"`
	Mode           string    `json:"mode"` // backtest | walk_forward | window
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	Universe       []string  `json:"universe"`
	FillMode       string    `json:"fill_mode"`
	SizingPolicy   string    `json:"sizing_policy,omitempty"`
	GeneratedAt    time.Time `json:"generated_at"`
	Issues         RunIssues `json:"issues"`
	SkippedWindows int       `json:"skipped_windows,omitempty"`
}

// TradeStats are the ledger-derived metrics. All zero for an empty ledger.
type TradeStats struct {
	Trades               int                `json:"trades"`
	Wins                 int                `json:"wins"`
	Losses               int                `json:"losses"`
	WinRate              float64            `json:"win_rate"`
	ProfitFactor         float64            `json:"profit_factor"`
	GrossProfit          float64            `json:"gross_profit"`
	GrossLoss            float64            `json:"gross_loss"`
	NetPnL               float64            `json:"net_pnl"`
	Commission           float64            `json:"commission"`
	Slippage             float64            `json:"slippage"`
	AvgWin               float64            `json:"avg_win"`
	AvgLoss              float64            `json:"avg_loss"`
	LargestWin           float64            `json:"largest_win"`
	LargestLoss          float64            `json:"largest_loss"`
	Expectancy           float64            `json:"expectancy"`
	MaxConsecutiveWins   int                `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int                `json:"max_consecutive_losses"`
	AvgHoldBars          float64            `json:"avg_hold_bars"`
	AvgMaxFavorable      float64            `json:"avg_max_favorable"`
	AvgMaxAdverse        float64            `json:"avg_max_adverse"`
	ExitReasons          map[ExitReason]int `json:"exit_reasons,omitempty"`
}

// BenchmarkStats compares the strategy against a benchmark series.
type BenchmarkStats struct {
	Symbol           string  `json:"symbol,omitempty"`
	Periods          int     `json:"periods"`
	AnnualizedReturn float64 `json:"annualized_return"`
	Alpha            float64 `json:"alpha"`
	Beta             float64 `json:"beta"`
	Correlation      float64 `json:"correlation"`
	TrackingError    float64 `json:"tracking_error"`
	InformationRatio float64 `json:"information_ratio"`
}

// Breakdown is the attribution of trades sharing a pattern or bucket.
type Breakdown struct {
	Key            string  `json:"key"`
	Trades         int     `json:"trades"`
	WinRate        float64 `json:"win_rate"`
	NetPnL         float64 `json:"net_pnl"`
	Return         float64 `json:"return"` // NetPnL over initial capital
	ProfitFactor   float64 `json:"profit_factor"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
}

// PeriodReturn is the compounded return of a calendar period.
type PeriodReturn struct {
	Period string  `json:"period"` // YYYY-MM
	Return float64 `json:"return"`
}

// PerformanceReport is derived once from a ledger and an equity curve.
// Returns are fractions; drawdown is a negative percentage.
type PerformanceReport struct {
	Metadata            ReportMetadata  `json:"metadata"`
	InitialCapital      float64         `json:"initial_capital"`
	FinalEquity         float64         `json:"final_equity"`
	Periods             int             `json:"periods"`
	PeriodsPerYear      int             `json:"periods_per_year"`
	TotalReturn         float64         `json:"total_return"`
	AnnualizedReturn    float64         `json:"annualized_return"`
	Volatility          float64         `json:"volatility"`
	Sharpe              float64         `json:"sharpe"`
	Sortino             float64         `json:"sortino"`
	Calmar              float64         `json:"calmar"`
	MaxDrawdownPct      float64         `json:"max_drawdown_pct"`
	MaxDrawdownDuration int             `json:"max_drawdown_duration"`
	PositivePeriodsPct  float64         `json:"positive_periods_pct"`
	VaRConfidence       float64         `json:"var_confidence"`
	VaRMethod           string          `json:"var_method"`
	VaR                 float64         `json:"var"`
	CVaR                float64         `json:"cvar"`
	TradeStats          TradeStats      `json:"trade_stats"`
	Benchmark           *BenchmarkStats `json:"benchmark,omitempty"`
	ByPattern           []Breakdown     `json:"by_pattern,omitempty"`
	ByBucket            []Breakdown     `json:"by_bucket,omitempty"`
	MonthlyReturns      []PeriodReturn  `json:"monthly_returns,omitempty"`
	Trades              []Trade         `json:"-"`
	Equity              EquityCurve     `json:"-"`
}

// NamedValue is one scalar metric of a report.
type NamedValue struct {
	Name  string
	Value float64
}

// ScalarMetrics lists the metrics aggregated across walk-forward windows,
// in a fixed order.
func (r *PerformanceReport) ScalarMetrics() []NamedValue {
	return []NamedValue{
		{"total_return", r.TotalReturn},
		{"annualized_return", r.AnnualizedReturn},
		{"volatility", r.Volatility},
		{"sharpe", r.Sharpe},
		{"sortino", r.Sortino},
		{"calmar", r.Calmar},
		{"max_drawdown_pct", r.MaxDrawdownPct},
		{"var", r.VaR},
		{"cvar", r.CVaR},
		{"win_rate", r.TradeStats.WinRate},
		{"profit_factor", r.TradeStats.ProfitFactor},
		{"expectancy", r.TradeStats.Expectancy},
		{"trades", float64(r.TradeStats.Trades)},
	}
}
