// Package config provides configuration loading and access for the simulation.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/plife3d/systems"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all simulation configuration parameters.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Runner     RunnerConfig     `yaml:"runner"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// SimulationConfig holds the particle system parameters.
type SimulationConfig struct {
	Seed            int64   `yaml:"seed"`                       // Drives force randomization and initial particles
	ParticleCount   int     `yaml:"particle_count"`
	SpeciesCount    int     `yaml:"species_count"`              // 1..10
	DomainSize      float64 `yaml:"domain_size"`                // Torus extent per axis
	MaxDist         float64 `yaml:"max_dist"`                   // Interaction cutoff and cell size lower bound
	DT              float64 `yaml:"dt"`
	Damping         float64 `yaml:"damping"`                    // Velocity loss per step, [0, 1)
	Sigma2          float64 `yaml:"sigma2"`                     // Force normalization (0 = none)
	ClampVel        float64 `yaml:"clamp_vel"`                  // 0 = unclamped
	ClampAcc        float64 `yaml:"clamp_acc"`                  // 0 = unclamped
	Amp             float64 `yaml:"amp"`                        // Global force multiplier
	MaxForce        float64 `yaml:"max_force"`                  // Scale of randomized force profiles
	TrackedIndex    int     `yaml:"tracked_index"`              // -1 = none
	DisabledSpecies []int   `yaml:"disabled_species,omitempty"` // Species excluded from the force pass
}

// RunnerConfig holds execution parameters.
type RunnerConfig struct {
	Workers int  `yaml:"workers"` // 0 = GOMAXPROCS
	Verify  bool `yaml:"verify"`  // Brute-force grouping check every step
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	StatsWindow         int `yaml:"stats_window"`          // Ticks per window stats record
	PerfCollectorWindow int `yaml:"perf_collector_window"` // Ticks averaged by the perf collector
	SnapshotEvery       int `yaml:"snapshot_every"`        // Ticks between particle snapshots (0 = off)
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	DT32         float32             // Simulation.DT as float32
	DomainSize32 float32             // Simulation.DomainSize as float32
	MaxDist32    float32             // Simulation.MaxDist as float32
	MaxForce32   float32             // Simulation.MaxForce as float32
	Disabled     systems.SpeciesMask // Simulation.DisabledSpecies as a mask
	CellsPerAxis int                 // floor(domain / max dist)
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Defaults returns a fresh copy of the embedded defaults.
func Defaults() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults: %v", err))
	}
	return cfg
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	// Start with embedded defaults
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	// Load user config if provided
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.computeDerived()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	s := &c.Simulation
	c.Derived.DT32 = float32(s.DT)
	c.Derived.DomainSize32 = float32(s.DomainSize)
	c.Derived.MaxDist32 = float32(s.MaxDist)
	c.Derived.MaxForce32 = float32(s.MaxForce)

	c.Derived.Disabled = 0
	for _, sp := range s.DisabledSpecies {
		if sp >= 0 && sp < systems.MaxSpeciesCount {
			c.Derived.Disabled = c.Derived.Disabled.With(sp)
		}
	}

	c.Derived.CellsPerAxis = 0
	if s.MaxDist > 0 {
		c.Derived.CellsPerAxis = int(s.DomainSize / s.MaxDist)
	}
}

// Recompute refreshes derived values after fields were edited in place.
func (c *Config) Recompute() {
	c.computeDerived()
}

// Params builds the per-step kernel parameters.
func (c *Config) Params() systems.Params {
	s := &c.Simulation
	return systems.Params{
		ParticleCount: s.ParticleCount,
		SpeciesCount:  s.SpeciesCount,
		DomainSize:    c.Derived.DomainSize32,
		MaxDist:       c.Derived.MaxDist32,
		DT:            c.Derived.DT32,
		Damping:       float32(s.Damping),
		Sigma2:        float32(s.Sigma2),
		ClampVel:      float32(s.ClampVel),
		ClampAcc:      float32(s.ClampAcc),
		Amp:           float32(s.Amp),
		Disabled:      c.Derived.Disabled,
	}
}

// Validate checks the loaded values. Kernel parameters are checked by
// systems.Params; this adds the config-only fields.
func (c *Config) Validate() error {
	prm := c.Params()
	if err := prm.Validate(); err != nil {
		return fmt.Errorf("simulation: %w", err)
	}
	s := &c.Simulation
	for _, sp := range s.DisabledSpecies {
		if sp < 0 || sp >= systems.MaxSpeciesCount {
			return fmt.Errorf("simulation: disabled species %d outside [0, %d): %w",
				sp, systems.MaxSpeciesCount, systems.ErrConfig)
		}
	}
	if s.MaxForce < 0 {
		return fmt.Errorf("simulation: max_force %v must not be negative: %w", s.MaxForce, systems.ErrConfig)
	}
	if c.Runner.Workers < 0 {
		return fmt.Errorf("runner: workers %d must not be negative: %w", c.Runner.Workers, systems.ErrConfig)
	}
	if c.Telemetry.StatsWindow < 1 || c.Telemetry.PerfCollectorWindow < 1 || c.Telemetry.SnapshotEvery < 0 {
		return fmt.Errorf("telemetry: windows must be positive and snapshot_every non-negative: %w", systems.ErrConfig)
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
