// Package sim runs the particle core: cell assignment, radix grouping and the
// neighbor solver over double-buffered particle state.
package sim

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pthm-cable/plife3d/components"
	"github.com/pthm-cable/plife3d/systems"
	"github.com/pthm-cable/plife3d/telemetry"
)

// Stage is the step state machine position.
type Stage int32

const (
	StageIdle Stage = iota
	StageAssigningCells
	StageSorting
	StageSolving
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageAssigningCells:
		return "assigning_cells"
	case StageSorting:
		return "sorting"
	case StageSolving:
		return "solving"
	}
	return fmt.Sprintf("stage(%d)", int32(s))
}

// PhaseTimer receives stage boundaries. telemetry.PerfCollector implements it.
type PhaseTimer interface {
	StartPhase(phase string)
}

// Options configures a Simulation.
type Options struct {
	Workers int        // worker goroutines, <= 0 uses GOMAXPROCS
	Verify  bool       // brute-force check the grouping every step
	Phases  PhaseTimer // optional
}

// Simulation owns the particle buffers and all per-step scratch.
// One step or one read runs at a time.
type Simulation struct {
	mu sync.Mutex

	pool   *Pool
	store  store
	sorter *systems.RadixSorter
	grid   systems.Grid
	table  systems.SortedTable // copy of the grouping of the last completed step

	tracked int
	stage   atomic.Int32
	steps   uint64

	verify bool
	phases PhaseTimer
}

// New creates an empty simulation.
func New(opts Options) *Simulation {
	return &Simulation{
		pool:    NewPool(opts.Workers),
		sorter:  systems.NewRadixSorter(),
		tracked: systems.NoTracking,
		verify:  opts.Verify,
		phases:  opts.Phases,
	}
}

// Close stops the worker pool. Later steps fail with ErrDispatch.
func (s *Simulation) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool.Stop()
}

// Upload replaces both particle buffers wholesale and resizes scratch.
func (s *Simulation) Upload(ps []components.Particle) error {
	for i := range ps {
		if sp := ps[i].Species; sp < 0 || sp >= systems.MaxSpeciesCount {
			return fmt.Errorf("particle %d has species %d outside [0, %d): %w",
				i, sp, systems.MaxSpeciesCount, systems.ErrConfig)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.upload(ps)
	return nil
}

// Download appends the live particle buffer to dst[:0] and returns it.
func (s *Simulation) Download(dst []components.Particle) []components.Particle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(dst[:0], s.store.live()...)
}

// Len returns the particle count.
func (s *Simulation) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.len()
}

// SetTrackedIndex selects the particle whose post-step state is snapshotted.
// NoTracking, or any index outside the particle range, tracks nothing.
func (s *Simulation) SetTrackedIndex(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 {
		i = systems.NoTracking
	}
	if i != s.tracked {
		s.store.trackedValid = false
	}
	s.tracked = i
}

// TrackedIndex returns the tracked index, NoTracking when none.
func (s *Simulation) TrackedIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracked
}

// TrackedParticle returns the latest snapshot of the tracked particle.
// ok is false until a step has run with a valid tracked index.
func (s *Simulation) TrackedParticle() (p components.Particle, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.tracked, s.store.trackedValid
}

// Stage returns the current step stage.
func (s *Simulation) Stage() Stage {
	return Stage(s.stage.Load())
}

// Steps returns the number of completed steps.
func (s *Simulation) Steps() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps
}

// Grid returns the geometry used by the last completed step.
func (s *Simulation) Grid() systems.Grid {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grid
}

// SortedTable returns a copy of the grouping built by the last completed step.
// A failed step does not replace it, so it always matches Grid.
func (s *Simulation) SortedTable() systems.SortedTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Clone()
}

// CellCounts appends the per-cell particle counts of the last completed step
// to dst[:0].
func (s *Simulation) CellCounts(dst []uint32) []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(dst[:0], s.table.CellCounts...)
}

// keepTable copies t into s.table, reusing its buffers.
func (s *Simulation) keepTable(t systems.SortedTable) {
	s.table.CellOffsets = append(s.table.CellOffsets[:0], t.CellOffsets...)
	s.table.CellCounts = append(s.table.CellCounts[:0], t.CellCounts...)
	s.table.ParticleIndex = append(s.table.ParticleIndex[:0], t.ParticleIndex...)
}

func (s *Simulation) enter(stage Stage, phase string) {
	s.stage.Store(int32(stage))
	if s.phases != nil && phase != "" {
		s.phases.StartPhase(phase)
	}
}

// Step advances every particle by one timestep.
// Configuration errors are reported before any work is issued. On any error
// the live buffer and tracked snapshot are left as they were.
func (s *Simulation) Step(prm systems.Params, forces *systems.ForceTable) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := prm.Validate(); err != nil {
		return err
	}
	n := s.store.len()
	if prm.ParticleCount != n {
		return fmt.Errorf("particle count %d, %d uploaded: %w", prm.ParticleCount, n, systems.ErrConfig)
	}
	grid, err := systems.NewGrid(prm.DomainSize, prm.MaxDist)
	if err != nil {
		return err
	}
	if forces == nil {
		return fmt.Errorf("nil force table: %w", systems.ErrConfig)
	}
	if err := forces.Validate(prm.SpeciesCount, prm.MaxDist); err != nil {
		return err
	}

	defer s.enter(StageIdle, "")

	in, out, cells := s.store.live(), s.store.next(), s.store.cells

	s.enter(StageAssigningCells, telemetry.PhaseAssignCells)
	if err := s.pool.Dispatch(n, func(_, lo, hi int) {
		grid.AssignRange(in, cells, lo, hi)
	}); err != nil {
		return fmt.Errorf("assigning cells: %w", err)
	}

	s.enter(StageSorting, telemetry.PhaseSort)
	if err := s.sorter.Sort(cells, grid.TotalCellCount, s.pool); err != nil {
		return fmt.Errorf("sorting: %w", err)
	}
	table := s.sorter.Table()
	if s.verify {
		if err := systems.CheckGrouping(&grid, in, cells, table, s.sorter.SortedKeys()); err != nil {
			return err
		}
	}

	s.enter(StageSolving, telemetry.PhaseSolve)
	solver := systems.Solver{
		Params:  prm,
		Grid:    grid,
		Forces:  forces,
		Table:   table,
		Cells:   cells,
		Tracked: systems.NoTracking,
	}
	if s.tracked >= 0 && s.tracked < n {
		solver.Tracked = s.tracked
	}
	var snapshot components.Particle
	if err := s.pool.Dispatch(n, func(_, lo, hi int) {
		solver.SolveRange(in, out, lo, hi, &snapshot)
	}); err != nil {
		return fmt.Errorf("solving: %w", err)
	}

	s.store.swap()
	if solver.Tracked != systems.NoTracking {
		s.store.tracked = snapshot
		s.store.trackedValid = true
	}
	s.grid = grid
	s.keepTable(table)
	s.steps++
	return nil
}
