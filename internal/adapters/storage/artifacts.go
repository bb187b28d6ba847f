package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/alejandrodnm/backtester/internal/domain"
	"github.com/alejandrodnm/backtester/internal/ports"
)

// Artifact file names inside a run directory.
const (
	ReportFile      = "report.json"
	WalkForwardFile = "walkforward.json"
	TradesFile      = "trades.parquet"
	EquityFile      = "equity.parquet"
)

var _ ports.ReportWriter = (*ArtifactWriter)(nil)

// ArtifactWriter writes a run directory: the report as JSON plus the trade
// ledger and equity curve as Parquet.
type ArtifactWriter struct{}

// NewArtifactWriter returns a writer. The destination of each call is the
// run directory; it is created if missing.
func NewArtifactWriter() *ArtifactWriter {
	return &ArtifactWriter{}
}

// TradeRecord is the on-disk ledger schema.
type TradeRecord struct {
	ID           string  `parquet:"id"`
	PositionID   string  `parquet:"position_id"`
	SignalID     string  `parquet:"signal_id"`
	Symbol       string  `parquet:"symbol"`
	Side         string  `parquet:"side"`
	Pattern      string  `parquet:"pattern"`
	Bucket       string  `parquet:"bucket"`
	EntryTime    int64   `parquet:"entry_time,timestamp(millisecond)"`
	EntryPrice   float64 `parquet:"entry_price"`
	ExitTime     int64   `parquet:"exit_time,timestamp(millisecond)"`
	ExitPrice    float64 `parquet:"exit_price"`
	Quantity     float64 `parquet:"quantity"`
	GrossPnL     float64 `parquet:"gross_pnl"`
	Commission   float64 `parquet:"commission"`
	Slippage     float64 `parquet:"slippage"`
	NetPnL       float64 `parquet:"net_pnl"`
	ReturnPct    float64 `parquet:"return_pct"`
	HoldMillis   int64   `parquet:"hold_ms"`
	HoldBars     int64   `parquet:"hold_bars"`
	ExitReason   string  `parquet:"exit_reason"`
	MaxFavorable float64 `parquet:"max_favorable"`
	MaxAdverse   float64 `parquet:"max_adverse"`
}

// EquityRecord is the on-disk equity curve schema.
type EquityRecord struct {
	Timestamp     int64   `parquet:"timestamp,timestamp(millisecond)"`
	Equity        float64 `parquet:"equity"`
	Cash          float64 `parquet:"cash"`
	OpenPositions int64   `parquet:"open_positions"`
}

// WriteReport implements ports.ReportWriter.
func (w *ArtifactWriter) WriteReport(_ context.Context, report *domain.PerformanceReport, destination string) error {
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return fmt.Errorf("storage.WriteReport: mkdir: %w", err)
	}
	if err := writeJSON(filepath.Join(destination, ReportFile), report); err != nil {
		return fmt.Errorf("storage.WriteReport: %w", err)
	}
	if err := writeLedger(destination, report.Trades, report.Equity); err != nil {
		return fmt.Errorf("storage.WriteReport: %w", err)
	}
	slog.Info("artifacts written", "dir", destination, "trades", len(report.Trades))
	return nil
}

// WriteWalkForward implements ports.ReportWriter. The ledger files hold the
// out-of-sample trades and the chained equity curve.
func (w *ArtifactWriter) WriteWalkForward(_ context.Context, summary *domain.WalkForwardSummary, destination string) error {
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return fmt.Errorf("storage.WriteWalkForward: mkdir: %w", err)
	}
	if err := writeJSON(filepath.Join(destination, WalkForwardFile), summary); err != nil {
		return fmt.Errorf("storage.WriteWalkForward: %w", err)
	}
	var trades []domain.Trade
	if summary.OutOfSample != nil {
		trades = summary.OutOfSample.Trades
	}
	if err := writeLedger(destination, trades, summary.ChainedEquity); err != nil {
		return fmt.Errorf("storage.WriteWalkForward: %w", err)
	}
	slog.Info("artifacts written", "dir", destination, "windows", len(summary.Windows))
	return nil
}

// ReadTrades loads a trades.parquet ledger.
func ReadTrades(path string) ([]domain.Trade, error) {
	records, err := readParquetFile[TradeRecord](path)
	if err != nil {
		return nil, fmt.Errorf("storage.ReadTrades: %w", err)
	}
	out := make([]domain.Trade, len(records))
	for i, r := range records {
		out[i] = domain.Trade{
			ID:           r.ID,
			PositionID:   r.PositionID,
			SignalID:     r.SignalID,
			Symbol:       r.Symbol,
			Side:         domain.Direction(r.Side),
			Pattern:      r.Pattern,
			Bucket:       r.Bucket,
			EntryTime:    time.UnixMilli(r.EntryTime).UTC(),
			EntryPrice:   r.EntryPrice,
			ExitTime:     time.UnixMilli(r.ExitTime).UTC(),
			ExitPrice:    r.ExitPrice,
			Quantity:     r.Quantity,
			GrossPnL:     r.GrossPnL,
			Commission:   r.Commission,
			Slippage:     r.Slippage,
			NetPnL:       r.NetPnL,
			ReturnPct:    r.ReturnPct,
			HoldDuration: time.Duration(r.HoldMillis) * time.Millisecond,
			HoldBars:     int(r.HoldBars),
			ExitReason:   domain.ExitReason(r.ExitReason),
			MaxFavorable: r.MaxFavorable,
			MaxAdverse:   r.MaxAdverse,
		}
	}
	return out, nil
}

// ReadEquity loads an equity.parquet curve.
func ReadEquity(path string) (domain.EquityCurve, error) {
	records, err := readParquetFile[EquityRecord](path)
	if err != nil {
		return nil, fmt.Errorf("storage.ReadEquity: %w", err)
	}
	out := make(domain.EquityCurve, len(records))
	for i, r := range records {
		out[i] = domain.EquityPoint{
			Timestamp:     time.UnixMilli(r.Timestamp).UTC(),
			Equity:        r.Equity,
			Cash:          r.Cash,
			OpenPositions: int(r.OpenPositions),
		}
	}
	return out, nil
}

func writeLedger(dir string, trades []domain.Trade, curve domain.EquityCurve) error {
	tradeRecords := make([]TradeRecord, len(trades))
	for i, t := range trades {
		tradeRecords[i] = TradeRecord{
			ID:           t.ID,
			PositionID:   t.PositionID,
			SignalID:     t.SignalID,
			Symbol:       t.Symbol,
			Side:         string(t.Side),
			Pattern:      t.Pattern,
			Bucket:       t.Bucket,
			EntryTime:    t.EntryTime.UnixMilli(),
			EntryPrice:   t.EntryPrice,
			ExitTime:     t.ExitTime.UnixMilli(),
			ExitPrice:    t.ExitPrice,
			Quantity:     t.Quantity,
			GrossPnL:     t.GrossPnL,
			Commission:   t.Commission,
			Slippage:     t.Slippage,
			NetPnL:       t.NetPnL,
			ReturnPct:    t.ReturnPct,
			HoldMillis:   t.HoldDuration.Milliseconds(),
			HoldBars:     int64(t.HoldBars),
			ExitReason:   string(t.ExitReason),
			MaxFavorable: t.MaxFavorable,
			MaxAdverse:   t.MaxAdverse,
		}
	}
	if err := writeParquetFile(filepath.Join(dir, TradesFile), tradeRecords); err != nil {
		return fmt.Errorf("write trades: %w", err)
	}

	equityRecords := make([]EquityRecord, len(curve))
	for i, p := range curve {
		equityRecords[i] = EquityRecord{
			Timestamp:     p.Timestamp.UnixMilli(),
			Equity:        p.Equity,
			Cash:          p.Cash,
			OpenPositions: int64(p.OpenPositions),
		}
	}
	if err := writeParquetFile(filepath.Join(dir, EquityFile), equityRecords); err != nil {
		return fmt.Errorf("write equity: %w", err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
