package systems

import "fmt"

// SpeciesMask is a bitset over species indices.
type SpeciesMask uint32

// Has reports whether species s is in the mask.
func (m SpeciesMask) Has(s int32) bool {
	return s >= 0 && s < 32 && m&(1<<uint(s)) != 0
}

// With returns the mask with species s added.
func (m SpeciesMask) With(s int) SpeciesMask {
	return m | 1<<uint(s)
}

// Without returns the mask with species s removed.
func (m SpeciesMask) Without(s int) SpeciesMask {
	return m &^ (1 << uint(s))
}

// MaskOf builds a mask from a list of species indices.
func MaskOf(species ...int) SpeciesMask {
	var m SpeciesMask
	for _, s := range species {
		m = m.With(s)
	}
	return m
}

// Params holds the scalar per-step parameters consumed by the kernels.
type Params struct {
	ParticleCount int
	SpeciesCount  int
	DomainSize    float32 // torus extent per axis
	MaxDist       float32 // interaction cutoff, drives cell size
	DT            float32
	Damping       float32
	Sigma2        float32 // force normalization, 0 = none
	ClampVel      float32 // 0 = no clamp
	ClampAcc      float32 // 0 = no clamp
	Amp           float32
	Disabled      SpeciesMask
}

// Validate checks the parameters before any dispatch.
func (p *Params) Validate() error {
	switch {
	case p.SpeciesCount < 1 || p.SpeciesCount > MaxSpeciesCount:
		return fmt.Errorf("species count %d outside [1, %d]: %w", p.SpeciesCount, MaxSpeciesCount, ErrConfig)
	case p.ParticleCount < 0:
		return fmt.Errorf("negative particle count %d: %w", p.ParticleCount, ErrConfig)
	case !(p.DomainSize > 0):
		return fmt.Errorf("domain size %v must be positive: %w", p.DomainSize, ErrConfig)
	case !(p.MaxDist > 0):
		return fmt.Errorf("max dist %v must be positive: %w", p.MaxDist, ErrConfig)
	case p.MaxDist > p.DomainSize:
		return fmt.Errorf("max dist %v exceeds domain size %v: %w", p.MaxDist, p.DomainSize, ErrConfig)
	case !(p.DT > 0):
		return fmt.Errorf("dt %v must be positive: %w", p.DT, ErrConfig)
	case p.Damping < 0 || p.Damping >= 1:
		return fmt.Errorf("damping %v outside [0, 1): %w", p.Damping, ErrConfig)
	case p.ClampVel < 0 || p.ClampAcc < 0 || p.Sigma2 < 0:
		return fmt.Errorf("clamps and sigma2 must not be negative: %w", ErrConfig)
	}
	return nil
}

// normalization returns the divisor applied to the accumulated force.
func (p *Params) normalization() float32 {
	if p.Sigma2 > 0 {
		return p.Sigma2
	}
	return 1
}
