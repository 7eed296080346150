// Package telemetry provides perf timing, window statistics, CSV output,
// particle snapshots and Prometheus metrics.
package telemetry

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/plife3d/components"
	"github.com/pthm-cable/plife3d/systems"
)

// WindowStats holds aggregated statistics for a time window.
type WindowStats struct {
	WindowStartTick int32   `csv:"-"`
	WindowEndTick   int32   `csv:"window_end"`
	SimTimeSec      float64 `csv:"sim_time"`

	Particles int `csv:"particles"`

	// Speed distribution (sampled at window end)
	SpeedMean float64 `csv:"speed_mean"`
	SpeedP10  float64 `csv:"speed_p10"`
	SpeedP50  float64 `csv:"speed_p50"`
	SpeedP90  float64 `csv:"speed_p90"`

	KineticEnergy float64 `csv:"kinetic_energy"` // 0.5 * sum |v|^2, unit mass

	// Clustering
	OccupiedCells float64 `csv:"occupied_cells"` // Fraction of cells holding any particle
	MaxCellCount  int     `csv:"max_cell"`
	Dispersion    float64 `csv:"dispersion"` // Variance / mean of per-cell counts, ~1 when uniform

	SpeciesCounts [systems.MaxSpeciesCount]int `csv:"-"`
	Species       string                       `csv:"species"` // SpeciesCounts joined with '|'

	// Tracked particle (zero when none)
	TrackedValid bool    `csv:"tracked"`
	TrackedX     float64 `csv:"tracked_x"`
	TrackedY     float64 `csv:"tracked_y"`
	TrackedZ     float64 `csv:"tracked_z"`

	StepFailures int `csv:"step_failures"`
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// ComputeSpeedStats calculates mean and percentiles from speed values.
// values is sorted in place.
func ComputeSpeedStats(values []float64) (mean, p10, p50, p90 float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0
	}
	mean = stat.Mean(values, nil)

	sort.Float64s(values)
	p10 = Percentile(values, 0.10)
	p50 = Percentile(values, 0.50)
	p90 = Percentile(values, 0.90)

	return mean, p10, p50, p90
}

// ComputeOccupancy summarizes per-cell particle counts.
func ComputeOccupancy(cellCounts []uint32) (occupied float64, maxCount int, dispersion float64) {
	if len(cellCounts) == 0 {
		return 0, 0, 0
	}

	counts := make([]float64, len(cellCounts))
	nonEmpty := 0
	for i, c := range cellCounts {
		counts[i] = float64(c)
		if c > 0 {
			nonEmpty++
		}
		maxCount = max(maxCount, int(c))
	}

	mean, variance := stat.PopMeanVariance(counts, nil)
	if mean > 0 {
		dispersion = variance / mean
	}
	return float64(nonEmpty) / float64(len(cellCounts)), maxCount, dispersion
}

// ComputeWindowStats fills the particle-derived fields of a window record.
// Tick range, sim time, tracked position and failures are left to the caller.
func ComputeWindowStats(particles []components.Particle, cellCounts []uint32, speciesCount int) WindowStats {
	var s WindowStats
	s.Particles = len(particles)

	speeds := make([]float64, len(particles))
	for i := range particles {
		p := &particles[i]
		v2 := float64(p.Velocity.LenSq())
		s.KineticEnergy += 0.5 * v2
		speeds[i] = float64(p.Velocity.Len())
		if sp := int(p.Species); sp >= 0 && sp < systems.MaxSpeciesCount {
			s.SpeciesCounts[sp]++
		}
	}
	s.SpeedMean, s.SpeedP10, s.SpeedP50, s.SpeedP90 = ComputeSpeedStats(speeds)
	s.OccupiedCells, s.MaxCellCount, s.Dispersion = ComputeOccupancy(cellCounts)

	speciesCount = min(max(speciesCount, 0), systems.MaxSpeciesCount)
	parts := make([]string, speciesCount)
	for i := range parts {
		parts[i] = strconv.Itoa(s.SpeciesCounts[i])
	}
	s.Species = strings.Join(parts, "|")

	return s
}

// SetTracked records the tracked particle position.
func (s *WindowStats) SetTracked(p components.Particle, ok bool) {
	s.TrackedValid = ok
	if !ok {
		s.TrackedX, s.TrackedY, s.TrackedZ = 0, 0, 0
		return
	}
	s.TrackedX = float64(p.Position.X)
	s.TrackedY = float64(p.Position.Y)
	s.TrackedZ = float64(p.Position.Z)
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int("window_start", int(s.WindowStartTick)),
		slog.Int("window_end", int(s.WindowEndTick)),
		slog.Float64("sim_time", s.SimTimeSec),
		slog.Int("particles", s.Particles),
		slog.Float64("speed_mean", s.SpeedMean),
		slog.Float64("speed_p10", s.SpeedP10),
		slog.Float64("speed_p50", s.SpeedP50),
		slog.Float64("speed_p90", s.SpeedP90),
		slog.Float64("kinetic_energy", s.KineticEnergy),
		slog.Float64("occupied_cells", s.OccupiedCells),
		slog.Int("max_cell", s.MaxCellCount),
		slog.Float64("dispersion", s.Dispersion),
		slog.String("species", s.Species),
		slog.Int("step_failures", s.StepFailures),
	}
	if s.TrackedValid {
		attrs = append(attrs,
			slog.Float64("tracked_x", s.TrackedX),
			slog.Float64("tracked_y", s.TrackedY),
			slog.Float64("tracked_z", s.TrackedZ),
		)
	}
	return slog.GroupValue(attrs...)
}

// LogStats logs the window stats using slog.
func (s WindowStats) LogStats() {
	slog.Info("stats", "window", s)
}
