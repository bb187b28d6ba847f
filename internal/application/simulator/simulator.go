package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/backtester/internal/domain"
	"github.com/alejandrodnm/backtester/internal/ports"
)

// FillMode decides which price a signal is filled at.
type FillMode string

const (
	// FillNextOpen fills at the open of the symbol's first bar strictly after
	// the signal bar.
	FillNextOpen FillMode = "next_open"
	// FillSignalClose fills at the close of the bar stamped with the signal.
	FillSignalClose FillMode = "signal_close"
)

// Config holds the simulator constraints.
type Config struct {
	MaxPositions int            // simultaneous open positions
	MaxPerBucket map[string]int // optional per-bucket cap
	MaxHold      time.Duration  // 0 disables time exits
	FillMode     FillMode
	ATRPeriod    int
}

// DefaultConfig returns sensible defaults for daily bars.
func DefaultConfig() Config {
	return Config{
		MaxPositions: 20,
		MaxHold:      5 * 24 * time.Hour,
		FillMode:     FillNextOpen,
		ATRPeriod:    14,
	}
}

// Validate checks the parts of cfg that cannot be defaulted.
func (c Config) Validate() error {
	switch c.FillMode {
	case FillNextOpen, FillSignalClose:
	default:
		return &domain.ConfigurationError{Field: "simulator.fill_mode", Detail: fmt.Sprintf("unknown fill mode %q", c.FillMode)}
	}
	if c.MaxHold < 0 {
		return &domain.ConfigurationError{Field: "simulator.max_hold", Detail: "must be >= 0"}
	}
	for bucket, n := range c.MaxPerBucket {
		if n < 0 {
			return &domain.ConfigurationError{Field: "simulator.max_per_bucket." + bucket, Detail: "must be >= 0"}
		}
	}
	return nil
}

// Simulator replays bars and signals in time order. It is safe to share
// between goroutines: every Run owns its own book.
type Simulator struct {
	cfg    Config
	costs  domain.CostModel
	sizing ports.SizingPolicy
}

// New builds a simulator, defaulting unset limits.
func New(cfg Config, costs domain.CostModel, sizing ports.SizingPolicy) *Simulator {
	def := DefaultConfig()
	if cfg.MaxPositions <= 0 {
		cfg.MaxPositions = def.MaxPositions
	}
	if cfg.FillMode == "" {
		cfg.FillMode = def.FillMode
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = def.ATRPeriod
	}
	return &Simulator{cfg: cfg, costs: costs, sizing: sizing}
}

// Config returns the effective configuration.
func (s *Simulator) Config() Config { return s.cfg }

// Input is one fully materialized pass. A zero Start or End leaves that side
// of the range open.
//
// History holds bars known before the pass begins. They feed ATR only: they
// are never stepped, traded or sampled.
type Input struct {
	Start          time.Time
	End            time.Time
	InitialCapital float64
	Bars           map[string][]domain.Bar
	History        map[string][]domain.Bar
	Signals        []domain.Signal
}

// Result is the ledger and equity curve of a pass.
type Result struct {
	Trades         []domain.Trade
	Equity         domain.EquityCurve
	InitialCapital float64
	FinalEquity    float64
	Entries        int
	Steps          int
	Issues         domain.RunIssues
}

// Run executes a single pass. Only configuration problems and an unsorted
// signal feed are returned as errors; data problems are counted in
// Result.Issues.
func (s *Simulator) Run(ctx context.Context, in Input) (*Result, error) {
	if in.InitialCapital <= 0 {
		return nil, &domain.ConfigurationError{Field: "capital", Detail: "must be positive"}
	}
	if s.sizing == nil {
		return nil, &domain.ConfigurationError{Field: "sizing", Detail: "no sizing policy"}
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	if err := s.costs.Validate(); err != nil {
		return nil, err
	}

	b := newBook(s, in.InitialCapital)
	bars := b.loadBars(in)
	signals, err := b.loadSignals(in)
	if err != nil {
		return nil, fmt.Errorf("simulator.Run: %w", err)
	}

	steps := buildSteps(bars, signals)
	last := -1
	for i, st := range steps {
		if len(st.bars) > 0 {
			last = i
		}
	}

	for i, st := range steps {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("simulator.Run: %w", err)
		}
		b.step(st, i == last)
	}
	b.expirePending()

	res := &Result{
		Trades:         b.trades,
		Equity:         b.equity,
		InitialCapital: in.InitialCapital,
		FinalEquity:    b.equity.Last(in.InitialCapital),
		Entries:        b.entries,
		Steps:          len(b.equity),
		Issues:         b.issues,
	}

	slog.Debug("simulation complete",
		"steps", res.Steps,
		"entries", res.Entries,
		"trades", len(res.Trades),
		"final_equity", fmt.Sprintf("%.2f", res.FinalEquity),
		"data_gaps", res.Issues.DataGaps,
		"skipped_symbols", len(res.Issues.SkippedSymbols),
	)
	return res, nil
}

// inRange applies the optional half-open range.
func inRange(t, start, end time.Time) bool {
	if !start.IsZero() && t.Before(start) {
		return false
	}
	if !end.IsZero() && !t.Before(end) {
		return false
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
