package sim

import "github.com/pthm-cable/plife3d/components"

// store owns the double-buffered particle arrays, the per-particle cell
// scratch and the tracked-particle slot.
type store struct {
	buffers [2][]components.Particle
	front   int // index of the live buffer
	cells   []uint32

	tracked      components.Particle
	trackedValid bool
}

func growParticles(b []components.Particle, n int) []components.Particle {
	if cap(b) < n {
		return make([]components.Particle, n)
	}
	return b[:n]
}

// upload replaces both buffers with ps.
func (s *store) upload(ps []components.Particle) {
	n := len(ps)
	for i := range s.buffers {
		s.buffers[i] = growParticles(s.buffers[i], n)
		copy(s.buffers[i], ps)
	}
	if cap(s.cells) < n {
		s.cells = make([]uint32, n)
	}
	s.cells = s.cells[:n]
	s.front = 0
	s.trackedValid = false
}

func (s *store) live() []components.Particle {
	return s.buffers[s.front]
}

func (s *store) next() []components.Particle {
	return s.buffers[s.front^1]
}

func (s *store) swap() {
	s.front ^= 1
}

func (s *store) len() int {
	return len(s.buffers[s.front])
}
