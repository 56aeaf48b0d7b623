package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults carries operator-tunable pipeline settings: the base allocation
// split across stages for runs created without explicit budgets, and the
// minimum cost estimates stages declare for their pre-flight budget gate.
type Defaults struct {
	BaseBudget    float64            `yaml:"base_budget"`
	CostEstimates map[string]float64 `yaml:"cost_estimates,omitempty"`
}

func DefaultConfig() Defaults {
	return Defaults{BaseBudget: 1000}
}

// LoadDefaults reads a YAML defaults file. An empty path returns the
// built-in defaults.
func LoadDefaults(path string) (Defaults, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Defaults{}, fmt.Errorf("read pipeline config: %w", err)
	}
	return ParseDefaults(raw)
}

func ParseDefaults(raw []byte) (Defaults, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Defaults{}, fmt.Errorf("decode pipeline config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Defaults{}, err
	}
	return cfg, nil
}

func (d Defaults) Validate() error {
	if d.BaseBudget <= 0 {
		return fmt.Errorf("base_budget must be positive (got %v)", d.BaseBudget)
	}
	for name, estimate := range d.CostEstimates {
		if !Known(name) {
			return fmt.Errorf("unknown stage name %q in cost_estimates", name)
		}
		if estimate < 0 {
			return fmt.Errorf("cost estimate for %q must be non-negative", name)
		}
	}
	return nil
}

// Estimate returns the configured cost estimate for a stage, or the
// supplied fallback when the file does not override it.
func (d Defaults) Estimate(stage string, fallback float64) float64 {
	if v, ok := d.CostEstimates[stage]; ok {
		return v
	}
	return fallback
}
