package sim

import (
	"math/rand"

	"github.com/pthm-cable/plife3d/components"
	"github.com/pthm-cable/plife3d/systems"
)

// InitialParticles scatters count particles uniformly through the domain with
// small random velocities and uniformly drawn species.
func InitialParticles(seed int64, count, speciesCount int, domainSize, dt float32) []components.Particle {
	rng := rand.New(rand.NewSource(seed))
	speciesCount = max(speciesCount, 1)

	ps := make([]components.Particle, count)
	for i := range ps {
		pos := components.Vec4{
			X: domainSize * rng.Float32(),
			Y: domainSize * rng.Float32(),
			Z: domainSize * rng.Float32(),
		}
		ps[i] = components.Particle{
			Position: systems.Wrap3(pos, domainSize),
			Velocity: components.Vec4{
				X: 100 * dt * (rng.Float32() - 0.5),
				Y: 100 * dt * (rng.Float32() - 0.5),
				Z: 100 * dt * (rng.Float32() - 0.5),
			},
			Species: int32(rng.Intn(speciesCount)),
		}
	}
	return ps
}
