// Package main provides CMA-ES optimization for finding force and damping
// parameters that produce strongly clustered particle-life structures.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/optimize"

	"github.com/pthm-cable/plife3d/config"
)

// options are the command-line settings of one optimization run.
type options struct {
	configPath string
	maxTicks   int
	seeds      int
	maxEvals   int
	population int
	outputDir  string
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.configPath, "config", "", "Base config YAML file (empty = use defaults)")
	flag.IntVar(&o.maxTicks, "max-ticks", 1000, "Simulation duration in ticks per run")
	flag.IntVar(&o.seeds, "seeds", 3, "Number of seeds per evaluation")
	flag.IntVar(&o.maxEvals, "max-evals", 200, "Maximum number of evaluations")
	flag.IntVar(&o.population, "population", 0, "CMA-ES population size (0 = auto)")
	flag.StringVar(&o.outputDir, "output", "", "Output directory for results")
	flag.Parse()
	return o
}

// evalSeeds returns the fixed seeds every candidate is scored on.
func evalSeeds(n int) []int64 {
	seeds := make([]int64, n)
	for i := range seeds {
		seeds[i] = int64(i*1000 + 42)
	}
	return seeds
}

func main() {
	opts := parseFlags()
	if opts.outputDir == "" {
		log.Fatal("--output is required")
	}
	if err := os.MkdirAll(opts.outputDir, 0755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}
	if err := config.Init(opts.configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	baseCfg := config.Cfg()

	params := NewParamVector()
	evaluator := NewFitnessEvaluator(params, int32(opts.maxTicks), evalSeeds(opts.seeds), baseCfg)

	evalLog, err := createEvalLog(filepath.Join(opts.outputDir, "optimize_log.csv"), params)
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer evalLog.Close()

	tracker := newProgress(opts.maxEvals)
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			// Log the clamped values, which are what the sessions actually ran with
			values := params.Clamp(params.Denormalize(x))
			fitness := evaluator.Evaluate(values)
			summary := evaluator.LastSummary()

			tracker.record(fitness, values, summary)
			if err := evalLog.Write(tracker.evals, fitness, summary, values); err != nil {
				log.Printf("failed to write log row: %v", err)
			}
			return fitness
		},
	}

	popSize := opts.population
	if popSize == 0 {
		popSize = 4 + int(3.0*float64(params.Dim())/2.0)
	}
	method := &optimize.CmaEsChol{
		InitStepSize: 0.3,
		Population:   popSize,
	}
	settings := &optimize.Settings{
		FuncEvaluations: opts.maxEvals,
		Concurrent:      0, // Seeds already run in parallel
	}

	fmt.Printf("Starting CMA-ES optimization with %d parameters, population=%d, max_evals=%d\n",
		params.Dim(), popSize, opts.maxEvals)
	fmt.Printf("Seeds per evaluation: %d, ticks per run: %d\n", opts.seeds, opts.maxTicks)

	initX := params.Normalize(params.ExtractFromConfig(baseCfg))
	result, err := optimize.Minimize(problem, initX, settings, method)
	if err != nil {
		log.Printf("optimization ended: %v", err)
	}

	best := tracker.bestValues
	if best == nil && result != nil {
		best = params.Clamp(params.Denormalize(result.X))
	}
	fmt.Printf("\nOptimization complete after %d evaluations in %s\n",
		tracker.evals, formatDuration(time.Since(tracker.start)))
	fmt.Printf("Best fitness: %.3f\n", tracker.bestFitness)

	if best != nil {
		writeResults(opts.outputDir, params, baseCfg, best, evaluator.BestRecipe())
	}
}

// writeResults prints the best parameters and saves them as a config and,
// when available, as the recipe of the best single run.
func writeResults(dir string, params *ParamVector, base *config.Config, best []float64, recipe *config.Recipe) {
	fmt.Println("\nBest parameters:")
	for i, spec := range params.Specs {
		fmt.Printf("  %s: %.6f\n", spec.Name, best[i])
	}

	cfg := copyConfig(base)
	params.ApplyToConfig(cfg, best)
	configPath := filepath.Join(dir, "best_config.yaml")
	if err := cfg.WriteYAML(configPath); err != nil {
		log.Printf("failed to write best config: %v", err)
	} else {
		fmt.Printf("\nBest config saved to: %s\n", configPath)
	}

	// The recipe pins the seed and force table as well
	if recipe == nil {
		return
	}
	recipePath := filepath.Join(dir, "best_recipe.yaml")
	if err := config.SaveRecipe(recipePath, *recipe); err != nil {
		log.Printf("failed to write best recipe: %v", err)
	} else {
		fmt.Printf("Best recipe saved to: %s\n", recipePath)
	}
}
