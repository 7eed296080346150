package sim

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/plife3d/components"
	"github.com/pthm-cable/plife3d/systems"
	"github.com/pthm-cable/plife3d/telemetry"
)

func testParams(n int) systems.Params {
	return systems.Params{
		ParticleCount: n,
		SpeciesCount:  3,
		DomainSize:    100,
		MaxDist:       20,
		DT:            0.05,
		Damping:       0.1,
		Amp:           1,
	}
}

// pullTable attracts species 0 and 1 between 4 and 20 units.
func pullTable() *systems.ForceTable {
	var t systems.ForceTable
	curve := []systems.Keypoint{
		{Dist: 0, Force: 0},
		{Dist: 4, Force: 0},
		{Dist: 10, Force: 4},
		{Dist: 20, Force: 0},
		{Dist: 20, Force: 0},
		{Dist: 20, Force: 0},
	}
	t.SetCurve(0, 1, curve)
	t.SetCurve(1, 0, curve)
	return &t
}

func randomTable(seed int64, species int, maxDist, maxForce float32) *systems.ForceTable {
	var t systems.ForceTable
	t.Randomize(seed, species, maxDist, maxForce)
	return &t
}

func newSim(t *testing.T, opts Options, ps []components.Particle) *Simulation {
	t.Helper()
	s := New(opts)
	t.Cleanup(s.Close)
	require.NoError(t, s.Upload(ps))
	return s
}

func runSteps(t *testing.T, s *Simulation, prm systems.Params, forces *systems.ForceTable, steps int) {
	t.Helper()
	for range steps {
		require.NoError(t, s.Step(prm, forces))
	}
}

func TestSimulation_UploadDownloadRoundTrip(t *testing.T) {
	ps := InitialParticles(1, 64, 3, 100, 0.05)
	s := newSim(t, Options{}, ps)

	got := s.Download(nil)
	require.Equal(t, ps, got)
	require.Equal(t, 64, s.Len())
	require.Equal(t, StageIdle, s.Stage())
}

func TestSimulation_UploadRejectsBadSpecies(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	err := s.Upload([]components.Particle{{Species: systems.MaxSpeciesCount}})
	require.ErrorIs(t, err, systems.ErrConfig)
	err = s.Upload([]components.Particle{{Species: -1}})
	require.ErrorIs(t, err, systems.ErrConfig)
}

func TestSimulation_PositionsStayInDomain(t *testing.T) {
	const n = 3000
	forces := randomTable(7, 3, 20, 15)
	for _, workers := range []int{1, 4} {
		s := newSim(t, Options{Workers: workers}, InitialParticles(3, n, 3, 100, 0.05))
		runSteps(t, s, testParams(n), forces, 20)

		for i, p := range s.Download(nil) {
			for _, x := range []float32{p.Position.X, p.Position.Y, p.Position.Z} {
				require.GreaterOrEqual(t, x, float32(0), "particle %d", i)
				require.Less(t, x, float32(100), "particle %d", i)
			}
		}
		require.Equal(t, uint64(20), s.Steps())
	}
}

func TestSimulation_Deterministic(t *testing.T) {
	const n = 5000
	forces := randomTable(11, 3, 20, 15)
	ps := InitialParticles(5, n, 3, 100, 0.05)

	a := newSim(t, Options{Workers: 4}, ps)
	b := newSim(t, Options{Workers: 4}, ps)
	runSteps(t, a, testParams(n), forces, 10)
	runSteps(t, b, testParams(n), forces, 10)

	require.Equal(t, a.Download(nil), b.Download(nil))
}

func TestSimulation_MatchesSerial(t *testing.T) {
	const n = 4000
	forces := randomTable(2, 3, 20, 15)
	ps := InitialParticles(9, n, 3, 100, 0.05)

	serial := newSim(t, Options{Workers: 1}, ps)
	parallel := newSim(t, Options{Workers: 6}, ps)
	runSteps(t, serial, testParams(n), forces, 5)
	runSteps(t, parallel, testParams(n), forces, 5)

	require.Equal(t, serial.Download(nil), parallel.Download(nil))
}

func TestSimulation_TwoParticleAttraction(t *testing.T) {
	ps := []components.Particle{
		{Position: components.Vec4{X: 40, Y: 50, Z: 50}, Species: 0},
		{Position: components.Vec4{X: 55, Y: 50, Z: 50}, Species: 1},
	}
	s := newSim(t, Options{}, ps)
	prm := testParams(2)

	require.NoError(t, s.Step(prm, pullTable()))
	out := s.Download(nil)
	require.Less(t, out[1].Position.X-out[0].Position.X, float32(15))

	runSteps(t, s, prm, pullTable(), 450)

	// Damping bleeds energy, so the pair stays closer than it started and
	// the separation settles.
	lo, hi := float32(prm.DomainSize), float32(0)
	for range 50 {
		require.NoError(t, s.Step(prm, pullTable()))
		out := s.Download(nil)
		d := systems.TorusDelta3(out[0].Position, out[1].Position, prm.DomainSize).Len()
		lo, hi = min(lo, d), max(hi, d)
		for _, p := range out {
			require.Less(t, p.Velocity.Len(), float32(100))
		}
	}
	require.Less(t, hi, float32(15))
	require.Less(t, hi-lo, float32(1))
}

func TestSimulation_DisabledSpeciesDrift(t *testing.T) {
	ps := []components.Particle{
		{Position: components.Vec4{X: 40, Y: 50, Z: 50}, Velocity: components.Vec4{X: 1}, Species: 0},
		{Position: components.Vec4{X: 55, Y: 50, Z: 50}, Species: 1},
	}
	s := newSim(t, Options{}, ps)
	prm := testParams(2)
	prm.Disabled = systems.MaskOf(1)

	require.NoError(t, s.Step(prm, pullTable()))
	out := s.Download(nil)

	// species 0 feels nothing from a disabled neighbor, only damping
	require.InDelta(t, 0.9, out[0].Velocity.X, 1e-6)
	require.Equal(t, float32(0), out[1].Velocity.X)
}

func TestSimulation_VerifyMode(t *testing.T) {
	const n = 2000
	s := newSim(t, Options{Workers: 3, Verify: true}, InitialParticles(4, n, 3, 100, 0.05))
	runSteps(t, s, testParams(n), randomTable(4, 3, 20, 15), 3)

	table := s.SortedTable()
	g := s.Grid()
	require.Equal(t, 125, g.TotalCellCount)
	require.Len(t, table.CellCounts, 125)

	var total uint32
	for _, c := range s.CellCounts(nil) {
		total += c
	}
	require.Equal(t, uint32(n), total)
}

// stopOnPhase stops the pool when the armed phase starts, so the step fails
// after the earlier stages have run.
type stopOnPhase struct {
	phase string
	armed bool
	pool  *Pool
}

func (p *stopOnPhase) StartPhase(phase string) {
	if p.armed && phase == p.phase {
		p.pool.Stop()
	}
}

func TestSimulation_FailedSolveKeepsLastGrouping(t *testing.T) {
	const n = 500
	stop := &stopOnPhase{phase: telemetry.PhaseSolve}
	s := newSim(t, Options{Workers: 2, Phases: stop}, InitialParticles(3, n, 3, 100, 0.05))
	stop.pool = s.pool
	forces := randomTable(3, 3, 20, 15)

	require.NoError(t, s.Step(testParams(n), forces))
	table := s.SortedTable()
	counts := s.CellCounts(nil)
	require.Equal(t, 125, s.Grid().TotalCellCount)

	// A coarser grid is assigned and sorted, then the solve fails.
	stop.armed = true
	prm := testParams(n)
	prm.MaxDist = 25
	require.ErrorIs(t, s.Step(prm, forces), systems.ErrDispatch)

	require.Equal(t, 125, s.Grid().TotalCellCount)
	require.Equal(t, table, s.SortedTable())
	require.Equal(t, counts, s.CellCounts(nil))
	require.Equal(t, uint64(1), s.Steps())
}

func TestSimulation_ConfigErrors(t *testing.T) {
	ps := InitialParticles(1, 10, 3, 100, 0.05)
	forces := pullTable()

	tests := []struct {
		name   string
		mutate func(*systems.Params)
		want   error
	}{
		{"too many species", func(p *systems.Params) { p.SpeciesCount = systems.MaxSpeciesCount + 1 }, systems.ErrConfig},
		{"count mismatch", func(p *systems.Params) { p.ParticleCount = 11 }, systems.ErrConfig},
		{"cutoff above domain", func(p *systems.Params) { p.MaxDist = 200 }, systems.ErrConfig},
		{"zero dt", func(p *systems.Params) { p.DT = 0 }, systems.ErrConfig},
		{"grid too fine", func(p *systems.Params) { p.MaxDist = 0.1 }, systems.ErrResource},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSim(t, Options{}, ps)
			prm := testParams(len(ps))
			tt.mutate(&prm)

			err := s.Step(prm, forces)
			require.ErrorIs(t, err, tt.want)
			require.Equal(t, ps, s.Download(nil))
			require.Equal(t, uint64(0), s.Steps())
			require.Equal(t, StageIdle, s.Stage())
		})
	}
}

func TestSimulation_NilForces(t *testing.T) {
	s := newSim(t, Options{}, InitialParticles(1, 4, 3, 100, 0.05))
	require.ErrorIs(t, s.Step(testParams(4), nil), systems.ErrConfig)
}

func TestSimulation_TrackedParticle(t *testing.T) {
	const n = 50
	s := newSim(t, Options{}, InitialParticles(8, n, 3, 100, 0.05))
	forces := randomTable(8, 3, 20, 15)

	_, ok := s.TrackedParticle()
	require.False(t, ok)

	s.SetTrackedIndex(7)
	require.NoError(t, s.Step(testParams(n), forces))

	snap, ok := s.TrackedParticle()
	require.True(t, ok)
	out := s.Download(nil)
	require.Equal(t, out[7], snap)
	require.True(t, out[7].Tracked())
	for i, p := range out {
		if i != 7 {
			require.False(t, p.Tracked(), "particle %d", i)
		}
	}
}

func TestSimulation_TrackedOutOfRange(t *testing.T) {
	const n = 20
	s := newSim(t, Options{}, InitialParticles(8, n, 3, 100, 0.05))
	s.SetTrackedIndex(n + 5)
	require.NoError(t, s.Step(testParams(n), pullTable()))

	_, ok := s.TrackedParticle()
	require.False(t, ok)
	for _, p := range s.Download(nil) {
		require.False(t, p.Tracked())
	}

	s.SetTrackedIndex(-3)
	require.Equal(t, systems.NoTracking, s.TrackedIndex())
}

func TestSimulation_ClosedPool(t *testing.T) {
	ps := InitialParticles(1, 10, 3, 100, 0.05)
	s := New(Options{})
	require.NoError(t, s.Upload(ps))
	s.Close()

	err := s.Step(testParams(len(ps)), pullTable())
	require.ErrorIs(t, err, systems.ErrDispatch)
	require.Equal(t, ps, s.Download(nil))
	require.Equal(t, StageIdle, s.Stage())
}

func TestSimulation_EmptyStep(t *testing.T) {
	s := newSim(t, Options{}, nil)
	require.NoError(t, s.Step(testParams(0), pullTable()))
	require.Empty(t, s.Download(nil))
}

type phaseRecorder []string

func (r *phaseRecorder) StartPhase(p string) { *r = append(*r, p) }

func TestSimulation_PhaseOrder(t *testing.T) {
	var rec phaseRecorder
	s := newSim(t, Options{Phases: &rec}, InitialParticles(1, 10, 3, 100, 0.05))
	require.NoError(t, s.Step(testParams(10), pullTable()))
	require.Equal(t, phaseRecorder{"assign_cells", "sort", "solve"}, rec)
}

func TestStage_String(t *testing.T) {
	require.Equal(t, "sorting", StageSorting.String())
	require.Equal(t, "stage(9)", Stage(9).String())
}
