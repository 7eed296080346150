package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/pthm-cable/plife3d/config"
	"github.com/pthm-cable/plife3d/session"
	"github.com/pthm-cable/plife3d/systems"
	"github.com/pthm-cable/plife3d/telemetry"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	logStats := flag.Bool("log-stats", false, "Output stats via slog")
	statsWindow := flag.Int("stats-window", 0, "Stats window size in ticks (0 = use config)")
	snapshotDir := flag.String("snapshot-dir", "", "Directory for particle snapshot files")
	snapshotEvery := flag.Int("snapshot-every", 0, "Ticks between snapshots (0 = use config)")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs, config and recipe")
	seed := flag.Int64("seed", 0, "RNG seed (0 = use config)")
	maxTicks := flag.Int("max-ticks", 0, "Stop after N ticks (0 = unlimited)")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics and pprof on this address (empty = off)")
	recipePath := flag.String("recipe", "", "Load a saved recipe (config + forces) before starting")
	saveRecipe := flag.String("save-recipe", "", "Write the final recipe to this path on exit")
	track := flag.Int("track", -2, "Tracked particle index (-1 = none, -2 = use config)")
	verify := flag.Bool("verify", false, "Cross-check cell grouping every step (slow)")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Initialize config before anything else
	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := session.Options{
		Seed:          *seed,
		OutputDir:     *outputDir,
		SnapshotDir:   *snapshotDir,
		SnapshotEvery: *snapshotEvery,
		LogStats:      *logStats,
		StatsWindow:   *statsWindow,
		Verify:        *verify,
	}

	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts.Registerer = reg
		go func() {
			if err := telemetry.ServeMetrics(ctx, *metricsAddr, reg); err != nil {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	s, err := session.New(cfg, opts)
	if err != nil {
		slog.Error("failed to start session", "error", err)
		os.Exit(1)
	}
	defer s.Unload()

	if *recipePath != "" {
		if err := s.LoadRecipe(*recipePath); err != nil {
			slog.Error("failed to load recipe", "path", *recipePath, "error", err)
			os.Exit(1)
		}
	}
	if *track != -2 {
		s.SetTrackedIndex(*track)
	}

	sim := s.Config().Simulation
	slog.Info("starting simulation",
		"seed", s.Seed(),
		"particles", sim.ParticleCount,
		"species", sim.SpeciesCount,
		"domain_size", sim.DomainSize,
		"max_dist", sim.MaxDist,
		"max_ticks", *maxTicks,
	)

	start := time.Now()
	run(ctx, s, *maxTicks)

	slog.Info("simulation finished",
		"tick", s.Tick(),
		"failures", s.Failures(),
		"elapsed", time.Since(start).Round(time.Millisecond).String(),
		"perf", s.PerfStats(),
	)

	if *saveRecipe != "" {
		if err := s.SaveRecipe(*saveRecipe); err != nil {
			slog.Error("failed to save recipe", "error", err)
		}
	}
}

// run steps the session until maxTicks, cancellation, or a failure that
// cannot clear by retrying.
func run(ctx context.Context, s *session.Session, maxTicks int) {
	for {
		select {
		case <-ctx.Done():
			slog.Info("interrupted", "tick", s.Tick())
			return
		default:
		}

		if err := s.Update(); err != nil && shouldStop(err, s.Failures()) {
			slog.Error("stopping on step failure", "failures", s.Failures(), "error", err)
			return
		}

		if maxTicks > 0 && int(s.Tick()) >= maxTicks {
			slog.Info("max ticks reached", "tick", s.Tick())
			return
		}
	}
}

const maxStepRetries = 10

// shouldStop reports whether the runner gives up after a failed step.
// Config, resource and consistency errors recur on every retry because a
// failed step leaves the state unchanged. Anything else is retried up to
// maxStepRetries failures in total.
func shouldStop(err error, failures int) bool {
	switch {
	case errors.Is(err, systems.ErrConfig),
		errors.Is(err, systems.ErrResource),
		errors.Is(err, systems.ErrConsistency):
		return true
	}
	return failures > maxStepRetries
}
