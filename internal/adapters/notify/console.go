package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/backtester/internal/domain"
	"github.com/alejandrodnm/backtester/internal/ports"
)

var _ ports.ReportWriter = (*Console)(nil)

// maxTradeRows caps the verbose ledger listing.
const maxTradeRows = 25

// Console renders reports to a terminal. It implements ports.ReportWriter;
// the destination is only echoed.
type Console struct {
	out     io.Writer
	table   bool
	verbose bool
}

// NewConsole writes to stdout.
func NewConsole(table, verbose bool) *Console {
	return &Console{out: os.Stdout, table: table, verbose: verbose}
}

// NewConsoleWriter writes to w, for tests.
func NewConsoleWriter(w io.Writer, table, verbose bool) *Console {
	return &Console{out: w, table: table, verbose: verbose}
}

// WriteReport prints a single backtest report.
func (c *Console) WriteReport(_ context.Context, r *domain.PerformanceReport, destination string) error {
	if !c.table {
		c.printCompact(r)
		return nil
	}

	meta := r.Metadata
	fmt.Fprintf(c.out, "\n╔══════════════════════════════════════════════════════════════════╗\n")
	fmt.Fprintf(c.out, "║  BACKTEST %-55s║\n", truncate(rangeLabel(meta.Start, meta.End), 55))
	fmt.Fprintf(c.out, "╚══════════════════════════════════════════════════════════════════╝\n")
	fmt.Fprintf(c.out, "  run %s | %d symbols | fill %s | sizing %s\n\n",
		shortID(meta.RunID), len(meta.Universe), meta.FillMode, orDash(meta.SizingPolicy))

	c.printMetrics(r)
	c.printTradeStats(r.TradeStats)
	c.printBreakdown("PATTERN", r.ByPattern)
	c.printBreakdown("BUCKET", r.ByBucket)
	c.printIssues(meta)
	if c.verbose {
		c.printTrades(r.Trades)
	}
	if destination != "" {
		fmt.Fprintf(c.out, "  artifacts: %s\n", destination)
	}
	fmt.Fprintln(c.out)
	return nil
}

// WriteWalkForward prints the window table and the cross-window stats.
func (c *Console) WriteWalkForward(_ context.Context, s *domain.WalkForwardSummary, destination string) error {
	if !c.table {
		fmt.Fprintf(c.out, "[%s] walk-forward %s | windows %d run %d skipped | chained %s | positive %.0f%%\n",
			shortID(s.Metadata.RunID), rangeLabel(s.Metadata.Start, s.Metadata.End),
			s.WindowsRun, s.WindowsSkipped, signedPct(s.ChainedTotalReturn), s.PositiveWindowsPct)
		return nil
	}

	fmt.Fprintf(c.out, "\n╔══════════════════════════════════════════════════════════════════╗\n")
	fmt.Fprintf(c.out, "║  WALK-FORWARD train %dd / test %dd / step %-24s║\n", s.Train, s.Test, fmt.Sprintf("%dd", s.Step))
	fmt.Fprintf(c.out, "╚══════════════════════════════════════════════════════════════════╝\n\n")

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Train", "Test", "Status", "Return", "Sharpe", "MaxDD", "Trades")
	for _, w := range s.Windows {
		win := w.Window
		row := []any{
			fmt.Sprintf("%d", win.Index),
			rangeLabel(win.TrainStart, win.TrainEnd),
			rangeLabel(win.TestStart, win.TestEnd),
		}
		if w.Skipped() {
			row = append(row, "SKIP "+string(w.Skip.Kind), "-", "-", "-", "-")
		} else {
			r := w.Report
			row = append(row, "OK",
				signedPct(r.TotalReturn),
				fmt.Sprintf("%.2f", r.Sharpe),
				fmt.Sprintf("%.2f%%", r.MaxDrawdownPct),
				fmt.Sprintf("%d", r.TradeStats.Trades),
			)
		}
		table.Append(row...)
	}
	table.Render()

	if len(s.Stats) > 0 {
		fmt.Fprintln(c.out)
		stats := tablewriter.NewWriter(c.out)
		stats.Header("Metric", "Mean", "Median", "Std", "Min", "Max")
		for _, m := range s.Stats {
			stats.Append(m.Name,
				fmt.Sprintf("%.4f", m.Mean),
				fmt.Sprintf("%.4f", m.Median),
				fmt.Sprintf("%.4f", m.StdDev),
				fmt.Sprintf("%.4f", m.Min),
				fmt.Sprintf("%.4f", m.Max),
			)
		}
		stats.Render()
	}

	fmt.Fprintf(c.out, "\n  Windows:  %d run, %d skipped, %.0f%% positive\n",
		s.WindowsRun, s.WindowsSkipped, s.PositiveWindowsPct)
	fmt.Fprintf(c.out, "  Chained:  %s out-of-sample\n", signedPct(s.ChainedTotalReturn))
	if s.OutOfSample != nil {
		oos := s.OutOfSample
		fmt.Fprintf(c.out, "  OOS:      sharpe %.2f | maxdd %.2f%% | %d trades | win %.1f%%\n",
			oos.Sharpe, oos.MaxDrawdownPct, oos.TradeStats.Trades, oos.TradeStats.WinRate*100)
		if c.verbose {
			c.printTrades(oos.Trades)
		}
	}
	c.printIssues(s.Metadata)
	if destination != "" {
		fmt.Fprintf(c.out, "  artifacts: %s\n", destination)
	}
	fmt.Fprintln(c.out)
	return nil
}

// printCompact prints the essentials on one line.
func (c *Console) printCompact(r *domain.PerformanceReport) {
	meta := r.Metadata
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s %s", shortID(meta.RunID), orDash(meta.Mode), rangeLabel(meta.Start, meta.End))
	fmt.Fprintf(&sb, " | trades %d win %.1f%% pf %.2f",
		r.TradeStats.Trades, r.TradeStats.WinRate*100, r.TradeStats.ProfitFactor)
	fmt.Fprintf(&sb, " | ret %s sharpe %.2f maxdd %.2f%%",
		signedPct(r.TotalReturn), r.Sharpe, r.MaxDrawdownPct)
	if n := len(meta.Issues.SkippedSymbols); n > 0 || meta.Issues.DataGaps > 0 {
		fmt.Fprintf(&sb, " | gaps %d skipped %d", meta.Issues.DataGaps, n)
	}
	fmt.Fprintln(c.out, sb.String())
}

func (c *Console) printMetrics(r *domain.PerformanceReport) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Metric", "Value")
	table.Append("Initial capital", fmt.Sprintf("$%.2f", r.InitialCapital))
	table.Append("Final equity", fmt.Sprintf("$%.2f", r.FinalEquity))
	table.Append("Total return", signedPct(r.TotalReturn))
	table.Append("Annualized return", signedPct(r.AnnualizedReturn))
	table.Append("Volatility", fmt.Sprintf("%.2f%%", r.Volatility*100))
	table.Append("Sharpe", fmt.Sprintf("%.2f", r.Sharpe))
	table.Append("Sortino", fmt.Sprintf("%.2f", r.Sortino))
	table.Append("Calmar", fmt.Sprintf("%.2f", r.Calmar))
	table.Append("Max drawdown", fmt.Sprintf("%.2f%% (%d periods)", r.MaxDrawdownPct, r.MaxDrawdownDuration))
	table.Append(fmt.Sprintf("VaR %.0f%% (%s)", r.VaRConfidence*100, r.VaRMethod), fmt.Sprintf("%.2f%%", r.VaR*100))
	table.Append("CVaR", fmt.Sprintf("%.2f%%", r.CVaR*100))
	table.Append("Positive periods", fmt.Sprintf("%.1f%% of %d", r.PositivePeriodsPct, r.Periods))
	if b := r.Benchmark; b != nil {
		table.Append("Benchmark", fmt.Sprintf("%s (%d periods)", orDash(b.Symbol), b.Periods))
		table.Append("Alpha / Beta", fmt.Sprintf("%s / %.2f", signedPct(b.Alpha), b.Beta))
		table.Append("Tracking error / IR", fmt.Sprintf("%.2f%% / %.2f", b.TrackingError*100, b.InformationRatio))
	}
	table.Render()
}

func (c *Console) printTradeStats(s domain.TradeStats) {
	fmt.Fprintf(c.out, "\n  Trades:   %d (%d W / %d L) win %.1f%% | profit factor %.2f | expectancy $%.2f\n",
		s.Trades, s.Wins, s.Losses, s.WinRate*100, s.ProfitFactor, s.Expectancy)
	if s.Trades == 0 {
		return
	}
	fmt.Fprintf(c.out, "  P&L:      net $%.2f | gross +$%.2f / -$%.2f | costs $%.2f comm $%.2f slip\n",
		s.NetPnL, s.GrossProfit, s.GrossLoss, s.Commission, s.Slippage)
	fmt.Fprintf(c.out, "  Extremes: best $%.2f worst $%.2f | streaks %dW %dL | avg hold %.1f bars\n",
		s.LargestWin, s.LargestLoss, s.MaxConsecutiveWins, s.MaxConsecutiveLosses, s.AvgHoldBars)

	var parts []string
	for _, reason := range domain.ExitReasons {
		if n := s.ExitReasons[reason]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", reason.Label(), n))
		}
	}
	fmt.Fprintf(c.out, "  Exits:    %s\n", strings.Join(parts, " | "))
}

func (c *Console) printBreakdown(title string, rows []domain.Breakdown) {
	if len(rows) == 0 {
		return
	}
	fmt.Fprintln(c.out)
	table := tablewriter.NewWriter(c.out)
	table.Header(title, "Trades", "Win%", "Net P&L", "Return", "PF", "MaxDD")
	for _, b := range rows {
		table.Append(
			truncate(b.Key, 24),
			fmt.Sprintf("%d", b.Trades),
			fmt.Sprintf("%.1f", b.WinRate*100),
			fmt.Sprintf("$%.2f", b.NetPnL),
			signedPct(b.Return),
			fmt.Sprintf("%.2f", b.ProfitFactor),
			fmt.Sprintf("%.2f%%", b.MaxDrawdownPct),
		)
	}
	table.Render()
}

func (c *Console) printIssues(meta domain.ReportMetadata) {
	issues := meta.Issues
	if issues.DataGaps == 0 && len(issues.SkippedSymbols) == 0 && len(issues.Rejections) == 0 && meta.SkippedWindows == 0 {
		return
	}
	fmt.Fprintf(c.out, "\n  Data gaps: %d | rejected signals: %d | skipped windows: %d\n",
		issues.DataGaps, issues.RejectedSignals(), meta.SkippedWindows)
	for _, s := range issues.SkippedSymbols {
		fmt.Fprintf(c.out, "  ⚠ %s skipped (%s): %s\n", s.Symbol, s.Kind, truncate(s.Detail, 60))
	}
	reasons := make([]string, 0, len(issues.Rejections))
	for r := range issues.Rejections {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(c.out, "    %-22s %d\n", r, issues.Rejections[domain.RejectionReason(r)])
	}
}

func (c *Console) printTrades(trades []domain.Trade) {
	if len(trades) == 0 {
		return
	}
	fmt.Fprintln(c.out)
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Symbol", "Side", "Entry", "Exit", "Qty", "Net P&L", "Bars", "Exit reason")
	for i, t := range trades {
		if i >= maxTradeRows {
			break
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			t.Symbol,
			string(t.Side),
			fmt.Sprintf("%s @ %.2f", t.EntryTime.Format(time.DateOnly), t.EntryPrice),
			fmt.Sprintf("%s @ %.2f", t.ExitTime.Format(time.DateOnly), t.ExitPrice),
			fmt.Sprintf("%.0f", t.Quantity),
			fmt.Sprintf("$%.2f", t.NetPnL),
			fmt.Sprintf("%d", t.HoldBars),
			t.ExitReason.Label(),
		)
	}
	table.Render()
	if len(trades) > maxTradeRows {
		fmt.Fprintf(c.out, "  ... %d more trades in the ledger\n", len(trades)-maxTradeRows)
	}
}

// --- helpers ---

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func signedPct(x float64) string {
	return fmt.Sprintf("%+.2f%%", x*100)
}

func rangeLabel(start, end time.Time) string {
	if start.IsZero() && end.IsZero() {
		return "-"
	}
	return start.Format(time.DateOnly) + ".." + end.Format(time.DateOnly)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return orDash(id)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
