package main

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/backtester/config"
	"github.com/alejandrodnm/backtester/internal/application/analyzer"
	"github.com/alejandrodnm/backtester/internal/application/pipeline"
	"github.com/alejandrodnm/backtester/internal/application/simulator"
	"github.com/alejandrodnm/backtester/internal/application/walkforward"
)

// allSymbols as the only universe entry expands to every symbol on disk.
const allSymbols = "*"

type symbolLister interface {
	ListSymbols(ctx context.Context) ([]string, error)
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	simCfg := simulator.DefaultConfig()
	simCfg.MaxPositions = cfg.Simulator.MaxPositions
	simCfg.MaxPerBucket = cfg.Simulator.MaxPerBucket
	simCfg.MaxHold = cfg.MaxHold()
	simCfg.FillMode = simulator.FillMode(cfg.Simulator.FillMode)
	simCfg.ATRPeriod = cfg.Simulator.ATRPeriod

	anCfg := analyzer.DefaultConfig()
	anCfg.PeriodsPerYear = cfg.Analyzer.PeriodsPerYear
	anCfg.RiskFreeRate = cfg.Analyzer.RiskFreeRate
	anCfg.VaRConfidence = cfg.Analyzer.VaRConfidence
	anCfg.VaRMethod = analyzer.VaRMethod(cfg.Analyzer.VaRMethod)

	wfCfg := walkforward.DefaultConfig()
	if cfg.WalkForward.Workers > 0 {
		wfCfg.Workers = cfg.WalkForward.Workers
	}
	wfCfg.MinPeriods = cfg.WalkForward.MinPeriods

	return pipeline.Config{
		Simulator:   simCfg,
		Analyzer:    anCfg,
		WalkForward: wfCfg,
		Loader: pipeline.LoaderConfig{
			Workers:    cfg.Data.Workers,
			RatePerSec: cfg.Data.RatePerSec,
			Burst:      cfg.Data.Burst,
		},
		OutputDir: cfg.Output.Dir,
	}
}

func resolveUniverse(ctx context.Context, universe []string, lister symbolLister) ([]string, error) {
	if len(universe) != 1 || universe[0] != allSymbols {
		return universe, nil
	}
	symbols, err := lister.ListSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("list symbols: no bar data found")
	}
	return symbols, nil
}
