// Package main provides CMA-ES optimization for particle-life parameters.
package main

import (
	"slices"

	"github.com/pthm-cable/plife3d/config"
)

// ParamSpec defines a single optimizable parameter.
type ParamSpec struct {
	Name    string  // Human-readable name
	Path    string  // Config path for logging
	Min     float64 // Lower bound
	Max     float64 // Upper bound
	Default float64 // Default value
}

// ParamVector holds the set of all optimizable parameters.
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector creates the standard set of optimizable parameters.
func NewParamVector() *ParamVector {
	return &ParamVector{
		Specs: []ParamSpec{
			{Name: "damping", Path: "simulation.damping", Min: 0.01, Max: 0.6, Default: 0.1},
			{Name: "amp", Path: "simulation.amp", Min: 0.2, Max: 3.0, Default: 1.0},
			{Name: "max_force", Path: "simulation.max_force", Min: 2, Max: 40, Default: 15},
			{Name: "sigma2", Path: "simulation.sigma2", Min: 0, Max: 400, Default: 0},
		},
	}
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// DefaultVector returns the default parameter values as a slice.
func (pv *ParamVector) DefaultVector() []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = spec.Default
	}
	return v
}

// Normalize converts raw parameter values to [0,1] range.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize converts [0,1] values back to raw parameter values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// Clamp ensures all values are within bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		clamped[i] = min(max(v[i], spec.Min), spec.Max)
	}
	return clamped
}

// ApplyToConfig writes clamped parameter values into cfg and recomputes
// derived fields. Order must match Specs.
func (pv *ParamVector) ApplyToConfig(cfg *config.Config, values []float64) {
	clamped := pv.Clamp(values)

	cfg.Simulation.Damping = clamped[0]
	cfg.Simulation.Amp = clamped[1]
	cfg.Simulation.MaxForce = clamped[2]
	cfg.Simulation.Sigma2 = clamped[3]
	cfg.Recompute()
}

// ExtractFromConfig extracts current parameter values from a Config struct.
func (pv *ParamVector) ExtractFromConfig(cfg *config.Config) []float64 {
	return []float64{
		cfg.Simulation.Damping,
		cfg.Simulation.Amp,
		cfg.Simulation.MaxForce,
		cfg.Simulation.Sigma2,
	}
}

// copyConfig returns a copy of base that can be edited independently.
func copyConfig(base *config.Config) *config.Config {
	c := *base
	c.Simulation.DisabledSpecies = slices.Clone(base.Simulation.DisabledSpecies)
	return &c
}
