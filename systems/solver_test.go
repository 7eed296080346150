package systems

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pthm-cable/plife3d/components"
)

func testParams() Params {
	return Params{
		SpeciesCount: 2,
		DomainSize:   100,
		MaxDist:      20,
		DT:           0.05,
		Damping:      0.1,
		Amp:          1,
	}
}

// attractionTable pulls species 0 and 1 together between 4 and 20 units.
func attractionTable() *ForceTable {
	var t ForceTable
	curve := []Keypoint{
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

func buildSolver(t *testing.T, ps []components.Particle, prm Params, table *ForceTable) *Solver {
	t.Helper()
	prm.ParticleCount = len(ps)
	g, err := NewGrid(prm.DomainSize, prm.MaxDist)
	if err != nil {
		t.Fatal(err)
	}
	cells := make([]uint32, len(ps))
	g.AssignRange(ps, cells, 0, len(ps))
	s := NewRadixSorter()
	if err := s.Sort(cells, g.TotalCellCount, Serial{}); err != nil {
		t.Fatal(err)
	}
	return &Solver{Params: prm, Grid: g, Forces: table, Table: s.Table(), Cells: cells, Tracked: NoTracking}
}

func step(t *testing.T, ps []components.Particle, prm Params, table *ForceTable) []components.Particle {
	t.Helper()
	out := make([]components.Particle, len(ps))
	var tracked components.Particle
	buildSolver(t, ps, prm, table).SolveRange(ps, out, 0, len(ps), &tracked)
	return out
}

func TestSolver_PairAttraction(t *testing.T) {
	ps := []components.Particle{
		{Position: components.Vec4{X: 40, Y: 50, Z: 50}, Species: 0},
		{Position: components.Vec4{X: 55, Y: 50, Z: 50}, Species: 1},
	}
	out := step(t, ps, testParams(), attractionTable())

	if out[0].Velocity.X <= 0 || out[1].Velocity.X >= 0 {
		t.Fatalf("particles should move toward each other, got v0=%v v1=%v", out[0].Velocity.X, out[1].Velocity.X)
	}
	before := ps[1].Position.X - ps[0].Position.X
	after := out[1].Position.X - out[0].Position.X
	if after >= before {
		t.Errorf("separation %v did not shrink from %v", after, before)
	}
	if out[0].Velocity.Y != 0 || out[0].Velocity.Z != 0 {
		t.Errorf("force should act along x only, got %+v", out[0].Velocity)
	}
}

func TestSolver_AttractionAcrossBoundary(t *testing.T) {
	ps := []components.Particle{
		{Position: components.Vec4{X: 2, Y: 50, Z: 50}, Species: 0},
		{Position: components.Vec4{X: 91, Y: 50, Z: 50}, Species: 1},
	}
	out := step(t, ps, testParams(), attractionTable())

	if out[0].Velocity.X >= 0 {
		t.Errorf("particle at x=2 should be pulled through x=0, v=%v", out[0].Velocity.X)
	}
	if out[1].Velocity.X <= 0 {
		t.Errorf("particle at x=91 should be pulled through x=100, v=%v", out[1].Velocity.X)
	}
	if math.Abs(float64(out[0].Velocity.X+out[1].Velocity.X)) > 1e-6 {
		t.Errorf("equal and opposite pulls expected, got %v and %v", out[0].Velocity.X, out[1].Velocity.X)
	}
}

func TestSolver_DisabledSpeciesDrift(t *testing.T) {
	ps := []components.Particle{
		{Position: components.Vec4{X: 40, Y: 50, Z: 50}, Velocity: components.Vec4{X: 1, Y: 2, Z: 3}, Species: 0},
		{Position: components.Vec4{X: 50, Y: 50, Z: 50}, Velocity: components.Vec4{X: -1}, Species: 1},
	}
	for _, disabled := range []int{0, 1} {
		prm := testParams()
		prm.Disabled = MaskOf(disabled)
		out := step(t, ps, prm, attractionTable())
		for i := range ps {
			want := ps[i].Velocity.Scale(1 - prm.Damping)
			if out[i].Velocity != want {
				t.Errorf("disabled=%d particle %d: velocity %+v, want ballistic %+v", disabled, i, out[i].Velocity, want)
			}
			wantPos := Wrap3(ps[i].Position.Add(want.Scale(prm.DT)), prm.DomainSize)
			if out[i].Position != wantPos {
				t.Errorf("disabled=%d particle %d: position %+v, want %+v", disabled, i, out[i].Position, wantPos)
			}
		}
	}
}

func TestSolver_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	prm := testParams()
	prm.SpeciesCount = 3
	var table ForceTable
	table.Randomize(5, 3, prm.MaxDist, 15)

	ps := randomParticles(rng, 400, prm.DomainSize, 3)
	s := buildSolver(t, ps, prm, &table)

	maxDist2 := prm.MaxDist * prm.MaxDist
	for i := range ps {
		var want components.Vec4
		for j := range ps {
			if i == j {
				continue
			}
			d := TorusDelta3(ps[i].Position, ps[j].Position, prm.DomainSize)
			dist2 := d.LenSq()
			if dist2 == 0 || dist2 > maxDist2 {
				continue
			}
			dist := float32(math.Sqrt(float64(dist2)))
			f := table.Evaluate(ps[i].Species, ps[j].Species, dist)
			want = want.Add(d.Scale(f / dist))
		}
		got := s.Accel(ps, i)
		if got.Sub(want).Len() > 1e-3*(1+want.Len()) {
			t.Fatalf("particle %d: grid accel %+v, brute force %+v", i, got, want)
		}
	}
}

func TestSolver_SmallGridNoDoubleCounting(t *testing.T) {
	// 2 cells per axis: offsets -1 and +1 hit the same cell
	prm := testParams()
	prm.DomainSize = 50
	prm.MaxDist = 20
	ps := []components.Particle{
		{Position: components.Vec4{X: 10, Y: 10, Z: 10}, Species: 0},
		{Position: components.Vec4{X: 45, Y: 10, Z: 10}, Species: 1},
	}
	s := buildSolver(t, ps, prm, attractionTable())
	if s.Grid.CellCount != 2 {
		t.Fatalf("expected 2 cells per axis, got %d", s.Grid.CellCount)
	}
	// 15 apart through the wrap
	got := s.Accel(ps, 0)
	want := attractionTable().Evaluate(0, 1, 15)
	if math.Abs(float64(-got.X-want)) > 1e-5 {
		t.Errorf("accel %v, want single contribution %v", got.X, -want)
	}
}

func TestSolver_Clamps(t *testing.T) {
	prm := testParams()
	prm.ClampAcc = 1
	prm.ClampVel = 0.5
	s := &Solver{Params: prm}

	p := components.Particle{Velocity: components.Vec4{X: 10}}
	next := s.Integrate(p, components.Vec4{X: 1000})
	if l := next.Velocity.Len(); l > 0.5+1e-6 {
		t.Errorf("velocity %v above clamp", l)
	}

	prm.ClampVel = 0
	prm.Damping = 0
	s.Params = prm
	next = s.Integrate(components.Particle{}, components.Vec4{Y: 1000})
	if math.Abs(float64(next.Velocity.Y-prm.DT)) > 1e-6 {
		t.Errorf("accel should clamp to 1, velocity %v want %v", next.Velocity.Y, prm.DT)
	}

	prm.ClampAcc = 0
	prm.Sigma2 = 4
	s.Params = prm
	next = s.Integrate(components.Particle{}, components.Vec4{Z: 8})
	if math.Abs(float64(next.Velocity.Z-2*prm.DT)) > 1e-6 {
		t.Errorf("sigma2 normalization: velocity %v want %v", next.Velocity.Z, 2*prm.DT)
	}
}

func TestSolver_PositionsStayInDomain(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	prm := testParams()
	prm.DT = 1
	prm.Damping = 0
	ps := randomParticles(rng, 300, prm.DomainSize, 2)
	for i := range ps {
		ps[i].Velocity = components.Vec4{
			X: (rng.Float32() - 0.5) * 500,
			Y: (rng.Float32() - 0.5) * 500,
			Z: (rng.Float32() - 0.5) * 500,
		}
	}
	ps[0].Position = components.Vec4{X: 99.99999, Y: 0, Z: 0}
	ps[0].Velocity = components.Vec4{X: 1e-5, Y: -1e-7}

	var table ForceTable
	table.Randomize(1, 2, prm.MaxDist, 15)
	out := step(t, ps, prm, &table)
	for i, p := range out {
		for _, x := range []float32{p.Position.X, p.Position.Y, p.Position.Z} {
			if x < 0 || x >= prm.DomainSize {
				t.Fatalf("particle %d left the domain: %+v", i, p.Position)
			}
		}
	}
}

func TestSolver_TrackedSnapshot(t *testing.T) {
	ps := []components.Particle{
		{Position: components.Vec4{X: 40, Y: 50, Z: 50}, Species: 0, Flags: components.FlagTracked},
		{Position: components.Vec4{X: 55, Y: 50, Z: 50}, Species: 1},
	}
	s := buildSolver(t, ps, testParams(), attractionTable())
	s.Tracked = 1

	out := make([]components.Particle, 2)
	var tracked components.Particle
	s.SolveRange(ps, out, 0, 2, &tracked)

	if tracked != out[1] {
		t.Errorf("snapshot %+v differs from particle 1 %+v", tracked, out[1])
	}
	if !out[1].Tracked() || out[0].Tracked() {
		t.Error("tracked flag should follow the tracked index")
	}
}
