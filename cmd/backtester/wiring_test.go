package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/backtester/config"
	"github.com/alejandrodnm/backtester/internal/application/analyzer"
	"github.com/alejandrodnm/backtester/internal/application/simulator"
)

type fakeLister struct {
	symbols []string
	err     error
}

func (f fakeLister) ListSymbols(context.Context) ([]string, error) { return f.symbols, f.err }

func TestPipelineConfig(t *testing.T) {
	cfg, err := config.Parse([]byte(`
backtest: {universe: [AAPL], start: "2023-01-02", end: "2024-01-02"}
simulator: {fill_mode: signal_close, max_hold_days: 3, max_per_bucket: {BUCKET_A: 2}}
analyzer: {var_method: parametric, risk_free_rate: 0.02}
walk_forward: {workers: 3}
data: {rate_per_sec: 5, burst: 2}
output: {dir: out}
`))
	require.NoError(t, err)

	pc := pipelineConfig(cfg)
	assert.Equal(t, simulator.FillSignalClose, pc.Simulator.FillMode)
	assert.Equal(t, 3*24*time.Hour, pc.Simulator.MaxHold)
	assert.Equal(t, 2, pc.Simulator.MaxPerBucket["BUCKET_A"])
	assert.Equal(t, analyzer.VaRParametric, pc.Analyzer.VaRMethod)
	assert.Equal(t, 0.02, pc.Analyzer.RiskFreeRate)
	assert.Equal(t, 3, pc.WalkForward.Workers)
	assert.Equal(t, 20, pc.WalkForward.MinPeriods)
	assert.Equal(t, 5.0, pc.Loader.RatePerSec)
	assert.Equal(t, "out", pc.OutputDir)
	require.NoError(t, pc.Simulator.Validate())
	require.NoError(t, pc.Analyzer.Validate())
}

func TestResolveUniverse(t *testing.T) {
	ctx := context.Background()

	got, err := resolveUniverse(ctx, []string{"AAPL"}, fakeLister{err: errors.New("unused")})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, got)

	got, err = resolveUniverse(ctx, []string{"*"}, fakeLister{symbols: []string{"AAPL", "MSFT"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, got)

	_, err = resolveUniverse(ctx, []string{"*"}, fakeLister{})
	assert.Error(t, err)

	_, err = resolveUniverse(ctx, []string{"*"}, fakeLister{err: errors.New("disk")})
	assert.Error(t, err)
}
