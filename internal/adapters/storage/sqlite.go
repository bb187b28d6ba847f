package storage

// sqlite.go keeps two things in one file database:
//   - `signals`: the pre-computed signal feed, one row per (symbol, ts, pattern).
//   - `runs`, `trades`, `equity`, `windows`: the history of finished runs,
//     one `runs` row per report with its ledger and curve keyed by run_id.
//
// Timestamps are stored as Unix milliseconds so range scans stay numeric.

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/alejandrodnm/backtester/internal/domain"
	"github.com/alejandrodnm/backtester/internal/ports"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS signals (
    symbol          TEXT    NOT NULL,
    ts              INTEGER NOT NULL,
    pattern         TEXT    NOT NULL DEFAULT '',
    signal_id       TEXT    NOT NULL DEFAULT '',
    direction       TEXT    NOT NULL,
    bucket          TEXT    NOT NULL DEFAULT '',
    confidence      REAL    NOT NULL DEFAULT 0,
    stop_distance   REAL    NOT NULL DEFAULT 0,
    target_distance REAL    NOT NULL DEFAULT 0,
    distance_unit   TEXT    NOT NULL DEFAULT '',
    PRIMARY KEY (symbol, ts, pattern)
);

CREATE TABLE IF NOT EXISTS runs (
    run_id            TEXT PRIMARY KEY,
    mode              TEXT    NOT NULL,
    range_start       INTEGER NOT NULL,
    range_end         INTEGER NOT NULL,
    universe          TEXT    NOT NULL DEFAULT '',
    fill_mode         TEXT    NOT NULL DEFAULT '',
    sizing_policy     TEXT    NOT NULL DEFAULT '',
    generated_at      INTEGER NOT NULL,
    initial_capital   REAL    NOT NULL DEFAULT 0,
    final_equity      REAL    NOT NULL DEFAULT 0,
    total_return      REAL    NOT NULL DEFAULT 0,
    annualized_return REAL    NOT NULL DEFAULT 0,
    sharpe            REAL    NOT NULL DEFAULT 0,
    max_drawdown_pct  REAL    NOT NULL DEFAULT 0,
    trades            INTEGER NOT NULL DEFAULT 0,
    win_rate          REAL    NOT NULL DEFAULT 0,
    profit_factor     REAL    NOT NULL DEFAULT 0,
    data_gaps         INTEGER NOT NULL DEFAULT 0,
    skipped_symbols   INTEGER NOT NULL DEFAULT 0,
    rejected_signals  INTEGER NOT NULL DEFAULT 0,
    skipped_windows   INTEGER NOT NULL DEFAULT 0,
    destination       TEXT    NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS trades (
    run_id      TEXT    NOT NULL,
    seq         INTEGER NOT NULL,
    trade_id    TEXT    NOT NULL,
    symbol      TEXT    NOT NULL,
    side        TEXT    NOT NULL,
    pattern     TEXT    NOT NULL DEFAULT '',
    bucket      TEXT    NOT NULL DEFAULT '',
    entry_time  INTEGER NOT NULL,
    entry_price REAL    NOT NULL,
    exit_time   INTEGER NOT NULL,
    exit_price  REAL    NOT NULL,
    quantity    REAL    NOT NULL,
    gross_pnl   REAL    NOT NULL,
    commission  REAL    NOT NULL,
    slippage    REAL    NOT NULL,
    net_pnl     REAL    NOT NULL,
    hold_bars   INTEGER NOT NULL,
    exit_reason TEXT    NOT NULL,
    PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS equity (
    run_id         TEXT    NOT NULL,
    seq            INTEGER NOT NULL,
    ts             INTEGER NOT NULL,
    equity         REAL    NOT NULL,
    cash           REAL    NOT NULL,
    open_positions INTEGER NOT NULL,
    PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS windows (
    run_id           TEXT    NOT NULL,
    idx              INTEGER NOT NULL,
    train_start      INTEGER NOT NULL,
    train_end        INTEGER NOT NULL,
    test_start       INTEGER NOT NULL,
    test_end         INTEGER NOT NULL,
    skip_kind        TEXT    NOT NULL DEFAULT '',
    skip_detail      TEXT    NOT NULL DEFAULT '',
    total_return     REAL    NOT NULL DEFAULT 0,
    sharpe           REAL    NOT NULL DEFAULT 0,
    max_drawdown_pct REAL    NOT NULL DEFAULT 0,
    trades           INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_signals_ts   ON signals(ts);
CREATE INDEX IF NOT EXISTS idx_runs_at      ON runs(generated_at DESC);
`

var (
	_ ports.SignalFeed   = (*SQLiteStorage)(nil)
	_ ports.ReportWriter = (*SQLiteStorage)(nil)
)

// SQLiteStorage is the signal feed and run history (pure Go, no CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// RunRecord is one row of the run history.
type RunRecord struct {
	RunID          string
	Mode           string
	Start          time.Time
	End            time.Time
	Universe       []string
	FillMode       string
	SizingPolicy   string
	GeneratedAt    time.Time
	InitialCapital float64
	FinalEquity    float64
	TotalReturn    float64
	Sharpe         float64
	MaxDrawdownPct float64
	Trades         int
	WinRate        float64
	SkippedWindows int
	Destination    string
}

// WindowRecord is one stored walk-forward window.
type WindowRecord struct {
	Window      domain.Window
	SkipKind    domain.SkipKind
	SkipDetail  string
	TotalReturn float64
	Sharpe      float64
	Trades      int
}

// NewSQLiteStorage opens (or creates) the database at path and applies the
// schema. ":memory:" works for tests.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// SaveSignals upserts signals keyed by (symbol, timestamp, pattern).
func (s *SQLiteStorage) SaveSignals(ctx context.Context, signals []domain.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveSignals: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO signals
			(symbol, ts, pattern, signal_id, direction, bucket, confidence,
			 stop_distance, target_distance, distance_unit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, ts, pattern) DO UPDATE SET
			signal_id       = excluded.signal_id,
			direction       = excluded.direction,
			bucket          = excluded.bucket,
			confidence      = excluded.confidence,
			stop_distance   = excluded.stop_distance,
			target_distance = excluded.target_distance,
			distance_unit   = excluded.distance_unit
	`)
	if err != nil {
		return fmt.Errorf("storage.SaveSignals: prepare: %w", err)
	}
	defer stmt.Close()

	for _, sig := range signals {
		if _, err := stmt.ExecContext(ctx,
			sig.Symbol,
			sig.Timestamp.UnixMilli(),
			sig.Pattern,
			sig.ID,
			string(sig.Direction),
			sig.Bucket,
			sig.Confidence,
			sig.StopDistance,
			sig.TargetDistance,
			string(sig.DistanceUnit),
		); err != nil {
			return fmt.Errorf("storage.SaveSignals: upsert %s: %w", sig.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveSignals: commit: %w", err)
	}
	return nil
}

// Signals implements ports.SignalFeed. An empty universe selects every
// symbol. Rows come back ascending by timestamp, then symbol and pattern.
func (s *SQLiteStorage) Signals(ctx context.Context, universe []string, start, end time.Time) ([]domain.Signal, error) {
	query := `
		SELECT symbol, ts, pattern, signal_id, direction, bucket, confidence,
		       stop_distance, target_distance, distance_unit
		FROM signals
		WHERE ts >= ? AND ts < ?`
	args := []any{start.UnixMilli(), end.UnixMilli()}
	if len(universe) > 0 {
		query += ` AND symbol IN (?` + strings.Repeat(`, ?`, len(universe)-1) + `)`
		for _, sym := range universe {
			args = append(args, sym)
		}
	}
	query += ` ORDER BY ts, symbol, pattern`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.Signals: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Signal
	for rows.Next() {
		var sig domain.Signal
		var ts int64
		var direction, unit string
		if err := rows.Scan(
			&sig.Symbol,
			&ts,
			&sig.Pattern,
			&sig.ID,
			&direction,
			&sig.Bucket,
			&sig.Confidence,
			&sig.StopDistance,
			&sig.TargetDistance,
			&unit,
		); err != nil {
			return nil, fmt.Errorf("storage.Signals: scan row: %w", err)
		}
		sig.Timestamp = time.UnixMilli(ts).UTC()
		sig.Direction = domain.Direction(direction)
		sig.DistanceUnit = domain.DistanceUnit(unit)
		out = append(out, sig)
	}
	return out, rows.Err()
}

// WriteReport implements ports.ReportWriter.
func (s *SQLiteStorage) WriteReport(ctx context.Context, report *domain.PerformanceReport, destination string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.WriteReport: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertRun(ctx, tx, report.Metadata, report, destination); err != nil {
		return fmt.Errorf("storage.WriteReport: %w", err)
	}
	if err := insertLedger(ctx, tx, report.Metadata.RunID, report.Trades, report.Equity); err != nil {
		return fmt.Errorf("storage.WriteReport: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.WriteReport: commit: %w", err)
	}
	return nil
}

// WriteWalkForward implements ports.ReportWriter. The run row carries the
// out-of-sample metrics; each window gets its own row.
func (s *SQLiteStorage) WriteWalkForward(ctx context.Context, summary *domain.WalkForwardSummary, destination string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.WriteWalkForward: begin tx: %w", err)
	}
	defer tx.Rollback()

	oos := summary.OutOfSample
	if oos == nil {
		oos = &domain.PerformanceReport{}
	}
	runID := summary.Metadata.RunID
	if err := insertRun(ctx, tx, summary.Metadata, oos, destination); err != nil {
		return fmt.Errorf("storage.WriteWalkForward: %w", err)
	}
	if err := insertLedger(ctx, tx, runID, oos.Trades, summary.ChainedEquity); err != nil {
		return fmt.Errorf("storage.WriteWalkForward: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO windows
			(run_id, idx, train_start, train_end, test_start, test_end,
			 skip_kind, skip_detail, total_return, sharpe, max_drawdown_pct, trades)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("storage.WriteWalkForward: prepare windows: %w", err)
	}
	defer stmt.Close()

	for _, wr := range summary.Windows {
		w := wr.Window
		var kind, detail string
		var ret, sharpe, dd float64
		var trades int
		if wr.Skip != nil {
			kind, detail = string(wr.Skip.Kind), wr.Skip.Detail
		}
		if wr.Report != nil {
			ret, sharpe, dd = wr.Report.TotalReturn, wr.Report.Sharpe, wr.Report.MaxDrawdownPct
			trades = wr.Report.TradeStats.Trades
		}
		if _, err := stmt.ExecContext(ctx,
			runID, w.Index,
			w.TrainStart.UnixMilli(), w.TrainEnd.UnixMilli(),
			w.TestStart.UnixMilli(), w.TestEnd.UnixMilli(),
			kind, detail, ret, sharpe, dd, trades,
		); err != nil {
			return fmt.Errorf("storage.WriteWalkForward: insert window %d: %w", w.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.WriteWalkForward: commit: %w", err)
	}
	return nil
}

// Runs returns the runs generated in [from, to], newest first.
func (s *SQLiteStorage) Runs(ctx context.Context, from, to time.Time) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, mode, range_start, range_end, universe, fill_mode, sizing_policy,
		       generated_at, initial_capital, final_equity, total_return, sharpe,
		       max_drawdown_pct, trades, win_rate, skipped_windows, destination
		FROM runs
		WHERE generated_at BETWEEN ? AND ?
		ORDER BY generated_at DESC, run_id
	`, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("storage.Runs: query: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var start, end, generated int64
		var universe string
		if err := rows.Scan(
			&r.RunID, &r.Mode, &start, &end, &universe, &r.FillMode, &r.SizingPolicy,
			&generated, &r.InitialCapital, &r.FinalEquity, &r.TotalReturn, &r.Sharpe,
			&r.MaxDrawdownPct, &r.Trades, &r.WinRate, &r.SkippedWindows, &r.Destination,
		); err != nil {
			return nil, fmt.Errorf("storage.Runs: scan row: %w", err)
		}
		r.Start = time.UnixMilli(start).UTC()
		r.End = time.UnixMilli(end).UTC()
		r.GeneratedAt = time.UnixMilli(generated).UTC()
		if universe != "" {
			r.Universe = strings.Split(universe, ",")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Trades returns the stored ledger of a run in exit order.
func (s *SQLiteStorage) Trades(ctx context.Context, runID string) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_id, symbol, side, pattern, bucket, entry_time, entry_price,
		       exit_time, exit_price, quantity, gross_pnl, commission, slippage,
		       net_pnl, hold_bars, exit_reason
		FROM trades WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("storage.Trades: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side, reason string
		var entry, exit int64
		if err := rows.Scan(
			&t.ID, &t.Symbol, &side, &t.Pattern, &t.Bucket, &entry, &t.EntryPrice,
			&exit, &t.ExitPrice, &t.Quantity, &t.GrossPnL, &t.Commission, &t.Slippage,
			&t.NetPnL, &t.HoldBars, &reason,
		); err != nil {
			return nil, fmt.Errorf("storage.Trades: scan row: %w", err)
		}
		t.Side = domain.Direction(side)
		t.ExitReason = domain.ExitReason(reason)
		t.EntryTime = time.UnixMilli(entry).UTC()
		t.ExitTime = time.UnixMilli(exit).UTC()
		t.HoldDuration = t.ExitTime.Sub(t.EntryTime)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Equity returns the stored curve of a run.
func (s *SQLiteStorage) Equity(ctx context.Context, runID string) (domain.EquityCurve, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, equity, cash, open_positions FROM equity WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("storage.Equity: query: %w", err)
	}
	defer rows.Close()

	var out domain.EquityCurve
	for rows.Next() {
		var p domain.EquityPoint
		var ts int64
		if err := rows.Scan(&ts, &p.Equity, &p.Cash, &p.OpenPositions); err != nil {
			return nil, fmt.Errorf("storage.Equity: scan row: %w", err)
		}
		p.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// Windows returns the stored walk-forward windows of a run by index.
func (s *SQLiteStorage) Windows(ctx context.Context, runID string) ([]WindowRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, train_start, train_end, test_start, test_end,
		       skip_kind, skip_detail, total_return, sharpe, trades
		FROM windows WHERE run_id = ? ORDER BY idx
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("storage.Windows: query: %w", err)
	}
	defer rows.Close()

	var out []WindowRecord
	for rows.Next() {
		var r WindowRecord
		var trainStart, trainEnd, testStart, testEnd int64
		var kind string
		if err := rows.Scan(
			&r.Window.Index, &trainStart, &trainEnd, &testStart, &testEnd,
			&kind, &r.SkipDetail, &r.TotalReturn, &r.Sharpe, &r.Trades,
		); err != nil {
			return nil, fmt.Errorf("storage.Windows: scan row: %w", err)
		}
		r.Window.TrainStart = time.UnixMilli(trainStart).UTC()
		r.Window.TrainEnd = time.UnixMilli(trainEnd).UTC()
		r.Window.TestStart = time.UnixMilli(testStart).UTC()
		r.Window.TestEnd = time.UnixMilli(testEnd).UTC()
		r.SkipKind = domain.SkipKind(kind)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- internal helpers ---

func insertRun(ctx context.Context, tx *sql.Tx, meta domain.ReportMetadata, r *domain.PerformanceReport, destination string) error {
	if meta.RunID == "" {
		return fmt.Errorf("insert run: empty run id")
	}
	generated := meta.GeneratedAt
	if generated.IsZero() {
		generated = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO runs
			(run_id, mode, range_start, range_end, universe, fill_mode, sizing_policy,
			 generated_at, initial_capital, final_equity, total_return, annualized_return,
			 sharpe, max_drawdown_pct, trades, win_rate, profit_factor, data_gaps,
			 skipped_symbols, rejected_signals, skipped_windows, destination)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		meta.RunID, meta.Mode, meta.Start.UnixMilli(), meta.End.UnixMilli(),
		strings.Join(meta.Universe, ","), meta.FillMode, meta.SizingPolicy,
		generated.UnixMilli(), r.InitialCapital, r.FinalEquity, r.TotalReturn, r.AnnualizedReturn,
		r.Sharpe, r.MaxDrawdownPct, r.TradeStats.Trades, r.TradeStats.WinRate, r.TradeStats.ProfitFactor,
		meta.Issues.DataGaps, len(meta.Issues.SkippedSymbols), meta.Issues.RejectedSignals(),
		meta.SkippedWindows, destination,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", meta.RunID, err)
	}
	return nil
}

func insertLedger(ctx context.Context, tx *sql.Tx, runID string, trades []domain.Trade, curve domain.EquityCurve) error {
	tradeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades
			(run_id, seq, trade_id, symbol, side, pattern, bucket, entry_time, entry_price,
			 exit_time, exit_price, quantity, gross_pnl, commission, slippage, net_pnl,
			 hold_bars, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare trades: %w", err)
	}
	defer tradeStmt.Close()

	for i, t := range trades {
		if _, err := tradeStmt.ExecContext(ctx,
			runID, i, t.ID, t.Symbol, string(t.Side), t.Pattern, t.Bucket,
			t.EntryTime.UnixMilli(), t.EntryPrice, t.ExitTime.UnixMilli(), t.ExitPrice,
			t.Quantity, t.GrossPnL, t.Commission, t.Slippage, t.NetPnL,
			t.HoldBars, string(t.ExitReason),
		); err != nil {
			return fmt.Errorf("insert trade %s: %w", t.ID, err)
		}
	}

	equityStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO equity (run_id, seq, ts, equity, cash, open_positions) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare equity: %w", err)
	}
	defer equityStmt.Close()

	for i, p := range curve {
		if _, err := equityStmt.ExecContext(ctx, runID, i, p.Timestamp.UnixMilli(), p.Equity, p.Cash, p.OpenPositions); err != nil {
			return fmt.Errorf("insert equity %d: %w", i, err)
		}
	}
	return nil
}
