package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pthm-cable/plife3d/systems"
)

// Failure classes used as the "class" label. Bounded: one per sentinel.
const (
	FailureConfig      = "config"
	FailureResource    = "resource"
	FailureDispatch    = "dispatch"
	FailureConsistency = "consistency"
	FailureOther       = "other"
)

// FailureClass maps a step error onto its metric label.
func FailureClass(err error) string {
	switch {
	case errors.Is(err, systems.ErrConfig):
		return FailureConfig
	case errors.Is(err, systems.ErrResource):
		return FailureResource
	case errors.Is(err, systems.ErrDispatch):
		return FailureDispatch
	case errors.Is(err, systems.ErrConsistency):
		return FailureConsistency
	}
	return FailureOther
}

// Metrics holds the step metrics. Labels have bounded cardinality.
type Metrics struct {
	stepDuration  prometheus.Histogram
	phaseDuration *prometheus.HistogramVec
	particles     prometheus.Gauge
	cells         prometheus.Gauge
	ticks         prometheus.Counter
	failures      *prometheus.CounterVec
}

// NewMetrics registers the step metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		stepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "plife_step_duration_seconds",
			Help:    "Time spent in one simulation step",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		phaseDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "plife_phase_duration_seconds",
			Help:    "Time spent per step phase",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"phase"}), // Bounded: Phases
		particles: f.NewGauge(prometheus.GaugeOpts{
			Name: "plife_particle_count",
			Help: "Current number of particles",
		}),
		cells: f.NewGauge(prometheus.GaugeOpts{
			Name: "plife_grid_cells",
			Help: "Total cell count of the current grid",
		}),
		ticks: f.NewCounter(prometheus.CounterOpts{
			Name: "plife_ticks_total",
			Help: "Completed simulation steps",
		}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plife_step_failures_total",
			Help: "Failed simulation steps by error class",
		}, []string{"class"}),
	}
}

// RecordStep records a completed step and its phase split.
func (m *Metrics) RecordStep(sample PerfSample) {
	if m == nil {
		return
	}
	m.stepDuration.Observe(sample.TickDuration.Seconds())
	for phase, d := range sample.Phases {
		m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
	}
	m.ticks.Inc()
}

// RecordFailure counts a failed step.
func (m *Metrics) RecordFailure(err error) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(FailureClass(err)).Inc()
}

// SetSize updates the particle and cell gauges.
func (m *Metrics) SetSize(particles, cells int) {
	if m == nil {
		return
	}
	m.particles.Set(float64(particles))
	m.cells.Set(float64(cells))
}

// ServeMetrics serves /metrics, /health and pprof on addr until ctx is done.
func ServeMetrics(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()

	// pprof endpoints for profiling
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics server starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
