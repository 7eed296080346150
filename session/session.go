// Package session drives a simulation run: it owns the configuration, force
// table and particle core, and hooks telemetry into every step.
package session

import (
	"fmt"
	"log/slog"
	"math/rand"
	"slices"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pthm-cable/plife3d/components"
	"github.com/pthm-cable/plife3d/config"
	"github.com/pthm-cable/plife3d/sim"
	"github.com/pthm-cable/plife3d/systems"
	"github.com/pthm-cable/plife3d/telemetry"
)

// Options configures a session. Zero values fall back to the config.
type Options struct {
	Seed          int64  // 0 = config seed
	OutputDir     string // CSV, config and recipe output (empty = off)
	SnapshotDir   string // Particle snapshots (empty = off)
	SnapshotEvery int    // Ticks between snapshots (0 = config)
	LogStats      bool   // Log window and perf stats via slog
	StatsWindow   int    // Ticks per stats window (0 = config)
	Verify        bool   // Force the brute-force grouping check on

	Registerer    prometheus.Registerer             // Metrics destination (nil = no metrics)
	StatsCallback func(stats telemetry.WindowStats) // Called on every window flush
}

// Session holds the complete run state.
type Session struct {
	cfg    *config.Config
	sim    *sim.Simulation
	forces systems.ForceTable
	seed   int64

	// State
	tick           int32
	windowStart    int32
	windowFailures int
	failures       int

	// Telemetry
	perf          *telemetry.PerfCollector
	metrics       *telemetry.Metrics
	output        *telemetry.OutputManager
	logStats      bool
	statsWindow   int
	snapshotDir   string
	snapshotEvery int
	statsCallback func(stats telemetry.WindowStats)

	// Scratch reused across flushes
	particles []components.Particle
	cells     []uint32
}

// New creates a session from cfg. cfg is copied; later edits go through the
// session.
func New(cfg *config.Config, opts Options) (*Session, error) {
	c := *cfg
	c.Simulation.DisabledSpecies = slices.Clone(cfg.Simulation.DisabledSpecies)
	if opts.Seed != 0 {
		c.Simulation.Seed = opts.Seed
	}
	c.Recompute()
	if err := c.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		cfg:           &c,
		seed:          c.Simulation.Seed,
		perf:          telemetry.NewPerfCollector(c.Telemetry.PerfCollectorWindow),
		logStats:      opts.LogStats,
		statsWindow:   c.Telemetry.StatsWindow,
		snapshotDir:   opts.SnapshotDir,
		snapshotEvery: c.Telemetry.SnapshotEvery,
		statsCallback: opts.StatsCallback,
	}
	if opts.StatsWindow > 0 {
		s.statsWindow = opts.StatsWindow
	}
	if opts.SnapshotEvery > 0 {
		s.snapshotEvery = opts.SnapshotEvery
	}
	if opts.Registerer != nil {
		s.metrics = telemetry.NewMetrics(opts.Registerer)
	}

	s.sim = sim.New(sim.Options{
		Workers: c.Runner.Workers,
		Verify:  c.Runner.Verify || opts.Verify,
		Phases:  s.perf,
	})

	s.randomizeForces()
	if err := s.resetParticles(); err != nil {
		s.sim.Close()
		return nil, err
	}

	output, err := telemetry.NewOutputManager(opts.OutputDir)
	if err != nil {
		s.sim.Close()
		return nil, err
	}
	s.output = output
	s.writeRunFiles()

	return s, nil
}

// randomizeForces rebuilds every active pair from the session seed.
func (s *Session) randomizeForces() {
	s.forces = systems.ForceTable{}
	s.forces.Randomize(s.seed, s.cfg.Simulation.SpeciesCount,
		s.cfg.Derived.MaxDist32, s.cfg.Derived.MaxForce32)
}

// resetParticles regenerates particles from the seed and restarts the tick count.
func (s *Session) resetParticles() error {
	sc := &s.cfg.Simulation
	ps := sim.InitialParticles(s.seed, sc.ParticleCount, sc.SpeciesCount,
		s.cfg.Derived.DomainSize32, s.cfg.Derived.DT32)
	if err := s.sim.Upload(ps); err != nil {
		return err
	}
	s.sim.SetTrackedIndex(sc.TrackedIndex)

	s.tick = 0
	s.windowStart = 0
	s.windowFailures = 0
	s.metrics.SetSize(sc.ParticleCount, cellCount(s.cfg))
	return nil
}

func cellCount(cfg *config.Config) int {
	n := cfg.Derived.CellsPerAxis
	return n * n * n
}

// writeRunFiles records the configuration and recipe in the output directory.
func (s *Session) writeRunFiles() {
	if s.output == nil {
		return
	}
	if err := s.output.WriteConfig(s.cfg); err != nil {
		slog.Error("failed to write config", "error", err)
	}
	if err := s.output.WriteRecipe(s.Recipe()); err != nil {
		slog.Error("failed to write recipe", "error", err)
	}
}

// Update runs one simulation step with telemetry. On failure the error is
// logged and counted, the tick does not advance and the particle state is
// unchanged.
func (s *Session) Update() error {
	s.perf.StartTick()

	if err := s.sim.Step(s.cfg.Params(), &s.forces); err != nil {
		s.failures++
		s.windowFailures++
		s.metrics.RecordFailure(err)
		slog.Error("step failed", "tick", s.tick, "error", err)
		return fmt.Errorf("tick %d: %w", s.tick, err)
	}
	s.tick++

	s.perf.StartPhase(telemetry.PhaseTelemetry)
	if int(s.tick-s.windowStart) >= s.statsWindow {
		s.flushTelemetry()
	}
	if s.snapshotEvery > 0 && s.snapshotDir != "" && int(s.tick)%s.snapshotEvery == 0 {
		s.saveSnapshot()
	}
	s.perf.EndTick()

	s.metrics.RecordStep(s.perf.LastTick())
	return nil
}

// Restart regenerates particles with new counts and domain size. Pairs
// involving newly added species are randomized; existing pairs are kept.
func (s *Session) Restart(particleCount, speciesCount int, domainSize float32) error {
	prev := s.cfg.Simulation
	prevSpecies := prev.SpeciesCount

	s.cfg.Simulation.ParticleCount = particleCount
	s.cfg.Simulation.SpeciesCount = speciesCount
	s.cfg.Simulation.DomainSize = float64(domainSize)
	s.cfg.Recompute()
	if err := s.cfg.Validate(); err != nil {
		s.cfg.Simulation = prev
		s.cfg.Recompute()
		return err
	}

	if speciesCount > prevSpecies {
		rng := rand.New(rand.NewSource(s.seed))
		s.forces.RandomizeSpecies(prevSpecies, speciesCount, rng,
			s.cfg.Derived.MaxDist32, s.cfg.Derived.MaxForce32)
	}

	if err := s.resetParticles(); err != nil {
		return err
	}
	slog.Info("simulation restarted",
		"particles", particleCount,
		"species", speciesCount,
		"domain_size", domainSize,
	)
	return nil
}

// Reseed advances the seed, regenerates the whole force table and restarts
// the particles from the new seed.
func (s *Session) Reseed() error {
	s.seed++
	s.cfg.Simulation.Seed = s.seed
	s.randomizeForces()
	if err := s.resetParticles(); err != nil {
		return err
	}
	slog.Info("simulation reseeded", "seed", s.seed)
	return nil
}

// SetSpeciesEnabled toggles a species in or out of the force pass.
func (s *Session) SetSpeciesEnabled(species int, enabled bool) error {
	if species < 0 || species >= systems.MaxSpeciesCount {
		return fmt.Errorf("species %d outside [0, %d): %w", species, systems.MaxSpeciesCount, systems.ErrConfig)
	}
	list := slices.DeleteFunc(s.cfg.Simulation.DisabledSpecies, func(v int) bool { return v == species })
	if !enabled {
		list = append(list, species)
		slices.Sort(list)
	}
	s.cfg.Simulation.DisabledSpecies = list
	s.cfg.Recompute()
	return nil
}

// SetTrackedIndex selects the particle reported in window stats and snapshots.
func (s *Session) SetTrackedIndex(i int) {
	if i < 0 {
		i = systems.NoTracking
	}
	s.cfg.Simulation.TrackedIndex = i
	s.sim.SetTrackedIndex(i)
}

// Recipe captures the current configuration and forces.
func (s *Session) Recipe() config.Recipe {
	return config.NewRecipe(s.cfg.Simulation, &s.forces)
}

// SaveRecipe writes the current recipe to path.
func (s *Session) SaveRecipe(path string) error {
	return config.SaveRecipe(path, s.Recipe())
}

// LoadRecipe replaces configuration and forces with a saved recipe and
// regenerates particles from its seed.
func (s *Session) LoadRecipe(path string) error {
	r, forces, err := config.LoadRecipe(path)
	if err != nil {
		return err
	}
	if err := s.cfg.Apply(r); err != nil {
		return fmt.Errorf("applying recipe: %w", err)
	}
	s.forces = *forces
	s.seed = r.Simulation.Seed
	if err := s.resetParticles(); err != nil {
		return err
	}
	s.writeRunFiles()
	slog.Info("recipe loaded", "path", path, "seed", s.seed)
	return nil
}

// Forces returns the live force table. Edits apply from the next Update.
func (s *Session) Forces() *systems.ForceTable {
	return &s.forces
}

// Config returns the session's configuration. Call Recompute after editing.
func (s *Session) Config() *config.Config {
	return s.cfg
}

// Seed returns the current seed.
func (s *Session) Seed() int64 {
	return s.seed
}

// Tick returns the current simulation tick.
func (s *Session) Tick() int32 {
	return s.tick
}

// Failures returns the number of failed steps since the session started.
func (s *Session) Failures() int {
	return s.failures
}

// Particles appends the current particle state to dst[:0].
func (s *Session) Particles(dst []components.Particle) []components.Particle {
	return s.sim.Download(dst)
}

// TrackedParticle returns the latest tracked-particle snapshot.
func (s *Session) TrackedParticle() (components.Particle, bool) {
	return s.sim.TrackedParticle()
}

// PerfStats returns timing over the perf window.
func (s *Session) PerfStats() telemetry.PerfStats {
	return s.perf.Stats()
}

// SaveSnapshot writes the current particle state to dir and returns the path.
func (s *Session) SaveSnapshot(dir string) (string, error) {
	return telemetry.SaveSnapshot(s.createSnapshot(), dir)
}

// Unload stops the workers and closes output files.
func (s *Session) Unload() {
	s.sim.Close()
	if err := s.output.Close(); err != nil {
		slog.Error("failed to close output", "error", err)
	}
}
