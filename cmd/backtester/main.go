package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejandrodnm/backtester/config"
	"github.com/alejandrodnm/backtester/internal/adapters/notify"
	"github.com/alejandrodnm/backtester/internal/adapters/storage"
	"github.com/alejandrodnm/backtester/internal/application/pipeline"
	"github.com/alejandrodnm/backtester/internal/domain/sizing"
	"github.com/alejandrodnm/backtester/internal/ports"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	walkForward := flag.Bool("walk-forward", false, "run a rolling walk-forward study instead of a single backtest")
	verbose := flag.Bool("verbose", false, "set log level to debug and list trades")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print full tables (default: compact 1-line)")
	noStore := flag.Bool("no-store", false, "do not record the run in SQLite nor write artifacts")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("backtester starting",
		"config", *configPath,
		"walk_forward", *walkForward,
		"start", cfg.Backtest.Start,
		"end", cfg.Backtest.End,
		"bars_dir", cfg.Data.BarsDir,
		"no_store", *noStore,
	)

	policy, err := sizing.FromConfig(cfg.Sizing)
	if err != nil {
		slog.Error("invalid sizing policy", "err", err)
		os.Exit(1)
	}

	bars := storage.NewParquetStore(cfg.Data.BarsDir)

	// signals are always read from SQLite; -no-store only skips recording
	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	writers := []ports.ReportWriter{notify.NewConsole(*table, *verbose)}
	if !*noStore {
		writers = append(writers, storage.NewArtifactWriter(), store)
	}

	p := pipeline.New(pipelineConfig(cfg), bars, store, writers...)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	universe, err := resolveUniverse(ctx, cfg.Backtest.Universe, bars)
	if err != nil {
		slog.Error("failed to resolve universe", "err", err)
		os.Exit(1)
	}

	req := pipeline.BacktestRequest{
		Universe:  universe,
		Start:     cfg.Start(),
		End:       cfg.End(),
		Capital:   cfg.Backtest.Capital,
		Costs:     cfg.CostModel(),
		Sizing:    policy,
		Benchmark: cfg.Backtest.Benchmark,
	}

	if *walkForward {
		runWalkForward(ctx, p, req, cfg.WalkForward)
		return
	}

	if _, err := p.RunBacktest(ctx, req); err != nil {
		slog.Error("backtest failed", "err", err)
		os.Exit(1)
	}
	slog.Info("backtester stopped cleanly")
}

func runWalkForward(ctx context.Context, p *pipeline.Pipeline, req pipeline.BacktestRequest, wf config.WalkForwardConfig) {
	slog.Info("=== WALK-FORWARD MODE ===",
		"train_days", wf.TrainDays,
		"test_days", wf.TestDays,
		"step_days", wf.StepDays,
	)

	summary, err := p.RunWalkForward(ctx, pipeline.WalkForwardRequest{
		BacktestRequest: req,
		Train:           wf.TrainDays,
		Test:            wf.TestDays,
		Step:            wf.StepDays,
	})
	if err != nil {
		slog.Error("walk-forward failed", "err", err)
		os.Exit(1)
	}
	slog.Info("walk-forward complete",
		"windows_run", summary.WindowsRun,
		"windows_skipped", summary.WindowsSkipped,
	)
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
