package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/plife3d/systems"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 800.0, cfg.Simulation.DomainSize)
	require.Equal(t, 100.0, cfg.Simulation.MaxDist)
	require.Equal(t, -1, cfg.Simulation.TrackedIndex)
	require.Equal(t, float32(0.05), cfg.Derived.DT32)
	require.Equal(t, 8, cfg.Derived.CellsPerAxis)

	prm := cfg.Params()
	require.NoError(t, prm.Validate())
	require.Equal(t, cfg.Simulation.ParticleCount, prm.ParticleCount)
}

func TestLoad_Overlay(t *testing.T) {
	path := writeFile(t, "cfg.yaml", `
simulation:
  species_count: 3
  disabled_species: [1, 2]
runner:
  verify: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 3, cfg.Simulation.SpeciesCount)
	require.Equal(t, 800.0, cfg.Simulation.DomainSize, "untouched fields keep defaults")
	require.True(t, cfg.Runner.Verify)
	require.Equal(t, systems.MaskOf(1, 2), cfg.Derived.Disabled)
	require.Equal(t, systems.MaskOf(1, 2), cfg.Params().Disabled)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"too many species", "simulation:\n  species_count: 11\n"},
		{"cutoff above domain", "simulation:\n  max_dist: 900\n"},
		{"damping one", "simulation:\n  damping: 1\n"},
		{"bad disabled species", "simulation:\n  disabled_species: [12]\n"},
		{"negative workers", "runner:\n  workers: -2\n"},
		{"zero stats window", "telemetry:\n  stats_window: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "cfg.yaml", tt.body))
			require.ErrorIs(t, err, systems.ErrConfig)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestWriteYAML_RoundTrip(t *testing.T) {
	cfg := Defaults()
	cfg.Simulation.Seed = 99
	cfg.Simulation.DisabledSpecies = []int{4}
	cfg.Recompute()
	require.Equal(t, systems.MaskOf(4), cfg.Derived.Disabled)

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, cfg.WriteYAML(path))

	back, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Simulation, back.Simulation)
	require.Equal(t, cfg.Derived, back.Derived)
}

func TestRecipe_SaveLoad(t *testing.T) {
	cfg := Defaults()
	var forces systems.ForceTable
	forces.Randomize(cfg.Simulation.Seed, cfg.Simulation.SpeciesCount,
		cfg.Derived.MaxDist32, cfg.Derived.MaxForce32)

	path := filepath.Join(t.TempDir(), "recipe.yaml")
	require.NoError(t, SaveRecipe(path, NewRecipe(cfg.Simulation, &forces)))

	r, loaded, err := LoadRecipe(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Simulation, r.Simulation)
	require.Equal(t, forces, *loaded)
}

func TestRecipe_RejectsBadForces(t *testing.T) {
	cfg := Defaults()
	var forces systems.ForceTable
	forces.SetCurve(0, 0, []systems.Keypoint{{Dist: 5}, {Dist: 10}, {Dist: 20}, {Dist: 30}, {Dist: 40}, {Dist: 50}})

	path := filepath.Join(t.TempDir(), "recipe.yaml")
	require.NoError(t, SaveRecipe(path, NewRecipe(cfg.Simulation, &forces)))

	_, _, err := LoadRecipe(path)
	require.ErrorIs(t, err, systems.ErrConfig)
}

func TestApply_KeepsPreviousOnError(t *testing.T) {
	cfg := Defaults()
	prev := cfg.Simulation

	bad := Recipe{Simulation: prev}
	bad.Simulation.SpeciesCount = 0
	require.ErrorIs(t, cfg.Apply(bad), systems.ErrConfig)
	require.Equal(t, prev, cfg.Simulation)

	good := Recipe{Simulation: prev}
	good.Simulation.DomainSize = 400
	require.NoError(t, cfg.Apply(good))
	require.Equal(t, float32(400), cfg.Derived.DomainSize32)
}
