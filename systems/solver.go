package systems

import (
	"math"

	"github.com/pthm-cable/plife3d/components"
)

// NoTracking disables the tracked-particle snapshot.
const NoTracking = -1

// Solver holds the read-only inputs of the force and integration pass.
// Every field must be fully built before SolveRange runs.
type Solver struct {
	Params  Params
	Grid    Grid
	Forces  *ForceTable
	Table   SortedTable
	Cells   []uint32 // cell index per particle, from the assignment pass
	Tracked int      // particle index to snapshot, NoTracking for none
}

// Accel returns the summed force on particle i from every neighbor within
// MaxDist, found through the 27 cells around its own cell.
func (s *Solver) Accel(in []components.Particle, i int) components.Vec4 {
	var acc components.Vec4

	p := &in[i]
	disabled := s.Params.Disabled
	if disabled.Has(p.Species) {
		return acc
	}

	size := s.Params.DomainSize
	maxDist2 := s.Params.MaxDist * s.Params.MaxDist
	amp := s.Params.Amp

	var xs, ys, zs [3]int
	gx, gy, gz := s.Grid.Unflatten(int(s.Cells[i]))
	nx := s.Grid.AxisNeighbors(gx, &xs)
	ny := s.Grid.AxisNeighbors(gy, &ys)
	nz := s.Grid.AxisNeighbors(gz, &zs)

	for _, cz := range zs[:nz] {
		for _, cy := range ys[:ny] {
			for _, cx := range xs[:nx] {
				for _, j := range s.Table.Cell(s.Grid.Flatten(cx, cy, cz)) {
					if int(j) == i {
						continue
					}
					q := &in[j]
					if disabled.Has(q.Species) {
						continue
					}

					d := TorusDelta3(p.Position, q.Position, size)
					dist2 := d.LenSq()
					if dist2 == 0 || dist2 > maxDist2 {
						continue
					}
					dist := float32(math.Sqrt(float64(dist2)))

					f := s.Forces.Evaluate(p.Species, q.Species, dist) * amp
					acc = acc.Add(d.Scale(f / dist))
				}
			}
		}
	}
	return acc
}

// Integrate advances one particle by dt under the accumulated force.
func (s *Solver) Integrate(p components.Particle, force components.Vec4) components.Particle {
	prm := &s.Params

	accel := force.Scale(1 / prm.normalization()).ClampLen(prm.ClampAcc)

	vel := p.Velocity.Add(accel.Scale(prm.DT)).Scale(1 - prm.Damping).ClampLen(prm.ClampVel)
	pos := Wrap3(p.Position.Add(vel.Scale(prm.DT)), prm.DomainSize)

	p.Position = pos
	p.Velocity = vel
	return p
}

// SolveRange updates particles [lo, hi) from in and writes them to out.
// The tracked particle's new state is also copied into tracked.
func (s *Solver) SolveRange(in, out []components.Particle, lo, hi int, tracked *components.Particle) {
	for i := lo; i < hi; i++ {
		next := s.Integrate(in[i], s.Accel(in, i))
		if i == s.Tracked {
			next.Flags |= components.FlagTracked
			*tracked = next
		} else {
			next.Flags &^= components.FlagTracked
		}
		out[i] = next
	}
}
