package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/backtester/internal/domain"
	"github.com/alejandrodnm/backtester/internal/domain/sizing"
)

// DateLayout is the format of every date in the config file.
const DateLayout = "2006-01-02"

// Config is the full backtester configuration.
type Config struct {
	Backtest    BacktestConfig    `yaml:"backtest"`
	Costs       CostsConfig       `yaml:"costs"`
	Simulator   SimulatorConfig   `yaml:"simulator"`
	Sizing      sizing.Config     `yaml:"sizing"`
	Analyzer    AnalyzerConfig    `yaml:"analyzer"`
	WalkForward WalkForwardConfig `yaml:"walk_forward"`
	Data        DataConfig        `yaml:"data"`
	Storage     StorageConfig     `yaml:"storage"`
	Output      OutputConfig      `yaml:"output"`
	Log         LogConfig         `yaml:"log"`
}

// BacktestConfig describes the run itself.
type BacktestConfig struct {
	Universe  []string `yaml:"universe"`
	Start     string   `yaml:"start"` // YYYY-MM-DD, inclusive
	End       string   `yaml:"end"`   // YYYY-MM-DD, exclusive
	Capital   float64  `yaml:"capital"`
	Benchmark string   `yaml:"benchmark"` // optional symbol
}

// CostsConfig is the transaction cost model.
type CostsConfig struct {
	CommissionPerTrade float64 `yaml:"commission_per_trade"`
	SlippageBps        float64 `yaml:"slippage_bps"`
	FixedSpread        float64 `yaml:"fixed_spread"` // > 0 overrides slippage_bps
	PriceDecimals      *int    `yaml:"price_decimals"`
}

// SimulatorConfig holds the portfolio constraints.
type SimulatorConfig struct {
	MaxPositions int            `yaml:"max_positions"`
	MaxPerBucket map[string]int `yaml:"max_per_bucket"`
	MaxHoldDays  *int           `yaml:"max_hold_days"` // 0 disables time exits
	FillMode     string         `yaml:"fill_mode"`     // next_open | signal_close
	ATRPeriod    int            `yaml:"atr_period"`
}

// AnalyzerConfig controls annualisation and tail risk.
type AnalyzerConfig struct {
	PeriodsPerYear int     `yaml:"periods_per_year"`
	RiskFreeRate   float64 `yaml:"risk_free_rate"`
	VaRConfidence  float64 `yaml:"var_confidence"`
	VaRMethod      string  `yaml:"var_method"` // historical | parametric
}

// WalkForwardConfig holds the window lengths in calendar days.
type WalkForwardConfig struct {
	TrainDays  int `yaml:"train_days"`
	TestDays   int `yaml:"test_days"`
	StepDays   int `yaml:"step_days"` // 0 means step = test
	Workers    int `yaml:"workers"`   // 0 = NumCPU*2
	MinPeriods int `yaml:"min_periods"`
}

// DataConfig controls how bars are read.
type DataConfig struct {
	BarsDir    string  `yaml:"bars_dir"`
	Workers    int     `yaml:"workers"`
	RatePerSec float64 `yaml:"rate_per_sec"` // 0 = unlimited
	Burst      int     `yaml:"burst"`
}

// StorageConfig controls where signals are read and runs are recorded.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // path to the SQLite file, or ":memory:"
}

// OutputConfig controls artifact output.
type OutputConfig struct {
	Dir string `yaml:"dir"` // each run writes to <dir>/<run id>
}

// LogConfig controls logging format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML file plus a .env file if present. Environment
// variables take precedence over the YAML values they map to.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return cfg, nil
}

// Parse builds a Config from YAML, then applies env overrides, defaults and
// validation.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Start returns the parsed start date in UTC.
func (c *Config) Start() time.Time {
	t, _ := time.ParseInLocation(DateLayout, c.Backtest.Start, time.UTC)
	return t
}

// End returns the parsed end date in UTC.
func (c *Config) End() time.Time {
	t, _ := time.ParseInLocation(DateLayout, c.Backtest.End, time.UTC)
	return t
}

// MaxHold returns the time-exit horizon as a duration.
func (c *Config) MaxHold() time.Duration {
	if c.Simulator.MaxHoldDays == nil {
		return 0
	}
	return time.Duration(*c.Simulator.MaxHoldDays) * 24 * time.Hour
}

// CostModel converts the cost section.
func (c *Config) CostModel() domain.CostModel {
	m := domain.CostModel{
		CommissionPerTrade: c.Costs.CommissionPerTrade,
		SlippageBps:        c.Costs.SlippageBps,
		FixedSpread:        c.Costs.FixedSpread,
	}
	if c.Costs.PriceDecimals != nil {
		m.PriceDecimals = *c.Costs.PriceDecimals
	}
	return m
}

// Validate reports the first invalid setting as a ConfigurationError.
func (c *Config) Validate() error {
	if _, err := time.ParseInLocation(DateLayout, c.Backtest.Start, time.UTC); err != nil {
		return &domain.ConfigurationError{Field: "backtest.start", Detail: fmt.Sprintf("want %s: %v", DateLayout, err)}
	}
	if _, err := time.ParseInLocation(DateLayout, c.Backtest.End, time.UTC); err != nil {
		return &domain.ConfigurationError{Field: "backtest.end", Detail: fmt.Sprintf("want %s: %v", DateLayout, err)}
	}
	if !c.End().After(c.Start()) {
		return &domain.ConfigurationError{Field: "backtest.end", Detail: "must be after start"}
	}
	if len(c.Backtest.Universe) == 0 {
		return &domain.ConfigurationError{Field: "backtest.universe", Detail: "at least one symbol required"}
	}
	if c.Backtest.Capital <= 0 || math.IsNaN(c.Backtest.Capital) || math.IsInf(c.Backtest.Capital, 0) {
		return &domain.ConfigurationError{Field: "backtest.capital", Detail: "must be positive"}
	}
	if err := c.CostModel().Validate(); err != nil {
		return err
	}
	if c.Simulator.MaxHoldDays != nil && *c.Simulator.MaxHoldDays < 0 {
		return &domain.ConfigurationError{Field: "simulator.max_hold_days", Detail: "must be >= 0"}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return &domain.ConfigurationError{Field: "log.level", Detail: fmt.Sprintf("unknown level %q", c.Log.Level)}
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return &domain.ConfigurationError{Field: "log.format", Detail: fmt.Sprintf("unknown format %q", c.Log.Format)}
	}
	return nil
}

// applyEnvOverrides replaces values with environment variables when set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("BACKTEST_CAPITAL"); v != "" {
		capital, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return &domain.ConfigurationError{Field: "BACKTEST_CAPITAL", Detail: err.Error()}
		}
		cfg.Backtest.Capital = capital
	}
	if v := os.Getenv("BACKTEST_START"); v != "" {
		cfg.Backtest.Start = v
	}
	if v := os.Getenv("BACKTEST_END"); v != "" {
		cfg.Backtest.End = v
	}
	if v := os.Getenv("BACKTEST_UNIVERSE"); v != "" {
		cfg.Backtest.Universe = splitSymbols(v)
	}
	if v := os.Getenv("BARS_DIR"); v != "" {
		cfg.Data.BarsDir = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("OUTPUT_DIR"); v != "" {
		cfg.Output.Dir = v
	}
	return nil
}

// setDefaults fills the values the run cannot do without.
func setDefaults(cfg *Config) {
	if cfg.Backtest.Capital == 0 {
		cfg.Backtest.Capital = 100_000
	}
	if cfg.Costs.PriceDecimals == nil {
		cfg.Costs.PriceDecimals = intPtr(2)
	}
	if cfg.Simulator.MaxPositions <= 0 {
		cfg.Simulator.MaxPositions = 20
	}
	if cfg.Simulator.MaxHoldDays == nil {
		cfg.Simulator.MaxHoldDays = intPtr(5)
	}
	if cfg.Simulator.FillMode == "" {
		cfg.Simulator.FillMode = "next_open"
	}
	if cfg.Simulator.ATRPeriod <= 0 {
		cfg.Simulator.ATRPeriod = 14
	}
	if cfg.Sizing.Policy == "" {
		cfg.Sizing.Policy = sizing.FixedFractionName
	}
	if cfg.Sizing.Fraction <= 0 {
		cfg.Sizing.Fraction = 0.05
	}
	if cfg.Analyzer.PeriodsPerYear <= 0 {
		cfg.Analyzer.PeriodsPerYear = 252
	}
	if cfg.Analyzer.VaRConfidence <= 0 {
		cfg.Analyzer.VaRConfidence = 0.95
	}
	if cfg.Analyzer.VaRMethod == "" {
		cfg.Analyzer.VaRMethod = "historical"
	}
	if cfg.WalkForward.TrainDays <= 0 {
		cfg.WalkForward.TrainDays = 252
	}
	if cfg.WalkForward.TestDays <= 0 {
		cfg.WalkForward.TestDays = 63
	}
	if cfg.WalkForward.MinPeriods <= 0 {
		cfg.WalkForward.MinPeriods = 20
	}
	if cfg.Data.BarsDir == "" {
		cfg.Data.BarsDir = "data/bars"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "backtester.db"
	}
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "runs"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func splitSymbols(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, strings.ToUpper(s))
		}
	}
	return out
}

func intPtr(n int) *int { return &n }
