package sizing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alejandrodnm/backtester/internal/domain"
)

// Policy is a named, pure position-sizing rule. It satisfies
// ports.SizingPolicy.
type Policy interface {
	// Name returns the identifier used in configuration.
	Name() string

	// Size returns a whole share count for the request. Zero means skip.
	Size(req domain.SizingRequest) float64
}

// Config selects and parameterises a policy.
type Config struct {
	Policy            string             `yaml:"policy"` // fixed_fraction | bucket_allocation | atr_risk
	Fraction          float64            `yaml:"fraction"`
	ScaleByConfidence bool               `yaml:"scale_by_confidence"`
	Allocations       map[string]float64 `yaml:"allocations"`
	DefaultAllocation float64            `yaml:"default_allocation"`
	RiskFraction      float64            `yaml:"risk_fraction"`
	ATRMultiple       float64            `yaml:"atr_multiple"`
	MaxFraction       float64            `yaml:"max_fraction"`
}

// Registry holds the available policies indexed by name.
type Registry map[string]Policy

// NewRegistry returns an empty registry.
func NewRegistry() Registry {
	return make(Registry)
}

// Register adds a policy.
func (r Registry) Register(p Policy) {
	r[p.Name()] = p
}

// Get returns the policy by name.
func (r Registry) Get(name string) (Policy, bool) {
	p, ok := r[name]
	return p, ok
}

// Names lists registered policies alphabetically.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry builds every policy from cfg.
func DefaultRegistry(cfg Config) Registry {
	r := NewRegistry()
	r.Register(NewFixedFraction(cfg.Fraction, cfg.ScaleByConfidence))
	r.Register(NewBucketAllocation(cfg.Allocations, cfg.DefaultAllocation))
	r.Register(NewATRRisk(cfg.RiskFraction, cfg.ATRMultiple, cfg.MaxFraction))
	return r
}

// FromConfig resolves the configured policy.
func FromConfig(cfg Config) (Policy, error) {
	name := strings.TrimSpace(cfg.Policy)
	if name == "" {
		name = FixedFractionName
	}
	r := DefaultRegistry(cfg)
	p, ok := r.Get(name)
	if !ok {
		return nil, &domain.ConfigurationError{
			Field:  "sizing.policy",
			Detail: fmt.Sprintf("unknown policy %q (known: %s)", name, strings.Join(r.Names(), ", ")),
		}
	}
	return p, nil
}
