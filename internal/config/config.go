// Package config holds the engine configuration shared by the CLI and the
// batch processor.
//
// All tunables live here rather than as hidden constants so that operators
// can see, and tests can pin, every knob that affects scheduling and proof
// behavior: worker count, the three timeout budgets, and the conservation
// epsilon.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for every tunable. Referenced by tests and by the CLI help text.
const (
	// DefaultSolverTimeout bounds a single solver call (linearizability or
	// conservation query).
	DefaultSolverTimeout = 30 * time.Second

	// DefaultPoolTimeout bounds the parallel worker pool per batch. Exceeding
	// it triggers the serial fallback path, never a hang.
	DefaultPoolTimeout = 10 * time.Second

	// DefaultEpsilon is the conservation tolerance, used only where floating
	// inputs are unavoidable. Balances themselves are exact decimals.
	DefaultEpsilon = "1e-10"
)

// Config is the full engine configuration.
//
// The zero value is not usable; construct with Default() and override, or
// load from YAML with Load().
type Config struct {
	// Workers is the parallel executor pool size.
	// Defaults to the available hardware parallelism.
	Workers int `yaml:"workers"`

	// PoolTimeout bounds parallel execution of one batch.
	PoolTimeout time.Duration `yaml:"pool_timeout"`

	// SolverTimeout bounds each solver query.
	SolverTimeout time.Duration `yaml:"solver_timeout"`

	// Epsilon is the conservation tolerance as a decimal string.
	Epsilon string `yaml:"epsilon"`

	// StorePath is the SQLite ledger path. Empty means in-memory.
	StorePath string `yaml:"store_path"`
}

// Default returns the documented default configuration.
func Default() Config {
	return Config{
		Workers:       runtime.GOMAXPROCS(0),
		PoolTimeout:   DefaultPoolTimeout,
		SolverTimeout: DefaultSolverTimeout,
		Epsilon:       DefaultEpsilon,
	}
}

// Load reads a YAML config file and overlays it on the defaults.
// Missing fields keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks that every field is in its legal range.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.PoolTimeout <= 0 {
		return fmt.Errorf("pool_timeout must be positive, got %s", c.PoolTimeout)
	}
	if c.SolverTimeout <= 0 {
		return fmt.Errorf("solver_timeout must be positive, got %s", c.SolverTimeout)
	}
	if c.Epsilon == "" {
		return fmt.Errorf("epsilon must be set")
	}
	return nil
}
