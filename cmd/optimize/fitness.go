package main

import (
	"log/slog"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/plife3d/config"
	"github.com/pthm-cable/plife3d/session"
	"github.com/pthm-cable/plife3d/telemetry"
)

// FitnessEvaluator runs headless sessions and scores how strongly the
// particles cluster.
type FitnessEvaluator struct {
	params      *ParamVector
	maxTicks    int32
	seeds       []int64
	baseConfig  *config.Config
	statsWindow int

	// Best run tracking
	mu          sync.Mutex
	bestFitness float64
	bestRecipe  *config.Recipe
	lastSummary runSummary // from the most recent Evaluate call
}

// NewFitnessEvaluator creates a new evaluator.
func NewFitnessEvaluator(params *ParamVector, maxTicks int32, seeds []int64, baseCfg *config.Config) *FitnessEvaluator {
	return &FitnessEvaluator{
		params:      params,
		maxTicks:    maxTicks,
		seeds:       seeds,
		baseConfig:  baseCfg,
		statsWindow: 50,
		bestFitness: math.Inf(1),
	}
}

// BestRecipe returns the recipe from the best seed of the best evaluation.
func (fe *FitnessEvaluator) BestRecipe() *config.Recipe {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.bestRecipe
}

// LastSummary returns averages from the most recent evaluation.
func (fe *FitnessEvaluator) LastSummary() runSummary {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastSummary
}

const (
	warmupWindows = 2 // skip first N windows while structure forms

	// Speeds above this fraction of the domain per step count as blow-up.
	blowupFraction = 0.05
	blowupPenalty  = 10.0
)

// runSummary holds averages over the scored windows of one run.
type runSummary struct {
	dispersion float64
	speedP90   float64
	failures   int
}

// seedResult holds the result from one seed evaluation.
type seedResult struct {
	fitness float64
	summary runSummary
	recipe  config.Recipe
}

// Evaluate computes fitness for a parameter vector (lower = better).
func (fe *FitnessEvaluator) Evaluate(x []float64) float64 {
	cfg := copyConfig(fe.baseConfig)
	fe.params.ApplyToConfig(cfg, x)

	// Split the cores between the seeds running side by side.
	cfg.Runner.Workers = max(1, runtime.NumCPU()/len(fe.seeds))

	results := make([]seedResult, len(fe.seeds))
	var wg sync.WaitGroup

	for i, seed := range fe.seeds {
		wg.Add(1)
		go func(idx int, s int64) {
			defer wg.Done()
			results[idx] = fe.runSeed(cfg, s)
		}(i, seed)
	}
	wg.Wait()

	var total float64
	var avg runSummary
	best := 0
	for i, r := range results {
		total += r.fitness
		avg.dispersion += r.summary.dispersion
		avg.speedP90 += r.summary.speedP90
		avg.failures += r.summary.failures
		if r.fitness < results[best].fitness {
			best = i
		}
	}

	n := float64(len(results))
	avgFitness := total / n
	avg.dispersion /= n
	avg.speedP90 /= n

	fe.mu.Lock()
	if avgFitness < fe.bestFitness {
		fe.bestFitness = avgFitness
		recipe := results[best].recipe
		fe.bestRecipe = &recipe
	}
	fe.lastSummary = avg
	fe.mu.Unlock()

	return avgFitness
}

// runSeed runs one session and scores it.
func (fe *FitnessEvaluator) runSeed(cfg *config.Config, seed int64) seedResult {
	var windows []telemetry.WindowStats
	s, err := session.New(cfg, session.Options{
		Seed:        seed,
		StatsWindow: fe.statsWindow,
		StatsCallback: func(stats telemetry.WindowStats) {
			windows = append(windows, stats)
		},
	})
	if err != nil {
		slog.Warn("session rejected parameters", "seed", seed, "error", err)
		return seedResult{fitness: blowupPenalty}
	}
	defer s.Unload()

	for s.Tick() < fe.maxTicks {
		if err := s.Update(); err != nil {
			// A failed step leaves the tick where it was; retrying would spin.
			break
		}
	}

	summary := summarize(windows)
	summary.failures = s.Failures()
	limit := blowupFraction * cfg.Simulation.DomainSize / cfg.Simulation.DT
	return seedResult{
		fitness: computeFitness(summary, limit),
		summary: summary,
		recipe:  s.Recipe(),
	}
}

// summarize averages the windows past warmup.
func summarize(windows []telemetry.WindowStats) runSummary {
	if len(windows) <= warmupWindows {
		return runSummary{}
	}
	valid := windows[warmupWindows:]

	dispersion := make([]float64, len(valid))
	speed := make([]float64, len(valid))
	for i, w := range valid {
		dispersion[i] = w.Dispersion
		speed[i] = w.SpeedP90
	}
	return runSummary{
		dispersion: stat.Mean(dispersion, nil),
		speedP90:   stat.Mean(speed, nil),
	}
}

// computeFitness calculates the scalar fitness (lower = better).
// Formula: -dispersion, plus a penalty that grows with how far p90 speed
// exceeds speedLimit. Failed steps or an empty run score the full penalty.
func computeFitness(r runSummary, speedLimit float64) float64 {
	if r.failures > 0 || r.dispersion == 0 {
		return blowupPenalty
	}
	fitness := -r.dispersion
	if r.speedP90 > speedLimit && speedLimit > 0 {
		fitness += blowupPenalty * math.Min(1, r.speedP90/speedLimit-1)
	}
	return fitness
}
