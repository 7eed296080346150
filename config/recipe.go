package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/plife3d/systems"
)

// Recipe is everything needed to reproduce a run: the simulation section
// (seed included) and the full force table. Particles are regenerated from
// the seed on load.
type Recipe struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Forces     [][2]float32     `yaml:"forces"` // (dist, force) per keypoint, pair-major
}

// NewRecipe captures the simulation section and force table.
func NewRecipe(sim SimulationConfig, forces *systems.ForceTable) Recipe {
	r := Recipe{
		Simulation: sim,
		Forces:     make([][2]float32, len(forces)),
	}
	for i, kp := range forces {
		r.Forces[i] = [2]float32{kp.Dist, kp.Force}
	}
	return r
}

// ForceTable rebuilds the force table. A short forces list leaves the
// remaining keypoints zeroed.
func (r *Recipe) ForceTable() (*systems.ForceTable, error) {
	if len(r.Forces) > systems.ForceTableSize {
		return nil, fmt.Errorf("recipe has %d keypoints, max %d: %w",
			len(r.Forces), systems.ForceTableSize, systems.ErrConfig)
	}
	var t systems.ForceTable
	for i, f := range r.Forces {
		t[i] = systems.Keypoint{Dist: f[0], Force: f[1]}
	}
	return &t, nil
}

// SaveRecipe writes the recipe as YAML.
func SaveRecipe(path string, r Recipe) error {
	data, err := yaml.Marshal(&r)
	if err != nil {
		return fmt.Errorf("marshaling recipe: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing recipe: %w", err)
	}
	return nil
}

// LoadRecipe reads a recipe written by SaveRecipe and checks its force table
// against its own species count and cutoff.
func LoadRecipe(path string) (Recipe, *systems.ForceTable, error) {
	var r Recipe
	data, err := os.ReadFile(path)
	if err != nil {
		return r, nil, fmt.Errorf("reading recipe: %w", err)
	}
	if err := yaml.Unmarshal(data, &r); err != nil {
		return r, nil, fmt.Errorf("parsing recipe: %w", err)
	}
	t, err := r.ForceTable()
	if err != nil {
		return r, nil, err
	}
	if err := t.Validate(r.Simulation.SpeciesCount, float32(r.Simulation.MaxDist)); err != nil {
		return r, nil, fmt.Errorf("recipe forces: %w", err)
	}
	return r, t, nil
}

// Apply copies the recipe's simulation section into c and recomputes
// derived values.
func (c *Config) Apply(r Recipe) error {
	prev := c.Simulation
	c.Simulation = r.Simulation
	c.computeDerived()
	if err := c.Validate(); err != nil {
		c.Simulation = prev
		c.computeDerived()
		return err
	}
	return nil
}
