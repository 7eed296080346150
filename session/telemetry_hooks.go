package session

import (
	"log/slog"

	"github.com/pthm-cable/plife3d/telemetry"
)

// flushTelemetry closes the current stats window.
func (s *Session) flushTelemetry() {
	s.particles = s.sim.Download(s.particles)
	s.cells = s.sim.CellCounts(s.cells)

	stats := telemetry.ComputeWindowStats(s.particles, s.cells, s.cfg.Simulation.SpeciesCount)
	stats.WindowStartTick = s.windowStart
	stats.WindowEndTick = s.tick
	stats.SimTimeSec = float64(s.tick) * s.cfg.Simulation.DT
	stats.StepFailures = s.windowFailures
	stats.SetTracked(s.sim.TrackedParticle())

	s.windowStart = s.tick
	s.windowFailures = 0

	perfStats := s.perf.Stats()

	// Call stats callback if provided
	if s.statsCallback != nil {
		s.statsCallback(stats)
	}

	// Log stats if enabled (console output)
	if s.logStats {
		stats.LogStats()
		perfStats.LogStats()
	}

	// Write to CSV if output manager is enabled
	if s.output != nil {
		if err := s.output.WriteTelemetry(stats); err != nil {
			slog.Error("failed to write telemetry", "error", err)
		}
		if err := s.output.WritePerf(perfStats, stats.WindowEndTick); err != nil {
			slog.Error("failed to write perf", "error", err)
		}
	}
}

// saveSnapshot creates and saves a snapshot to disk.
func (s *Session) saveSnapshot() {
	path, err := telemetry.SaveSnapshot(s.createSnapshot(), s.snapshotDir)
	if err != nil {
		slog.Error("failed to save snapshot", "error", err)
		return
	}

	slog.Info("snapshot saved", "path", path, "tick", s.tick)
}

// createSnapshot builds a snapshot from the current state. The particle
// slice aliases session scratch and is only valid until the next flush.
func (s *Session) createSnapshot() *telemetry.Snapshot {
	s.particles = s.sim.Download(s.particles)

	return &telemetry.Snapshot{
		Seed:         s.seed,
		Tick:         s.tick,
		DomainSize:   s.cfg.Derived.DomainSize32,
		SpeciesCount: int32(s.cfg.Simulation.SpeciesCount),
		TrackedIndex: int32(s.cfg.Simulation.TrackedIndex),
		Particles:    s.particles,
	}
}
