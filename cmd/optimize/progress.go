package main

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"
)

// evalLog is the per-evaluation CSV log. Its columns depend on the
// parameter set, so rows are built by hand.
type evalLog struct {
	f *os.File
	w *csv.Writer
}

func createEvalLog(path string, params *ParamVector) (*evalLog, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	l := &evalLog{f: f, w: csv.NewWriter(f)}

	header := []string{"eval", "fitness", "dispersion", "speed_p90"}
	for _, spec := range params.Specs {
		header = append(header, spec.Name)
	}
	if err := l.w.Write(header); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// Write appends one evaluation and flushes it.
func (l *evalLog) Write(eval int, fitness float64, s runSummary, values []float64) error {
	row := []string{
		strconv.Itoa(eval),
		formatFloat(fitness),
		formatFloat(s.dispersion),
		formatFloat(s.speedP90),
	}
	for _, v := range values {
		row = append(row, formatFloat(v))
	}
	if err := l.w.Write(row); err != nil {
		return err
	}
	l.w.Flush()
	return l.w.Error()
}

func (l *evalLog) Close() error {
	l.w.Flush()
	return l.f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// progress tracks the best candidate and prints one line per evaluation.
type progress struct {
	maxEvals    int
	start       time.Time
	evals       int
	bestFitness float64
	bestValues  []float64
}

func newProgress(maxEvals int) *progress {
	return &progress{maxEvals: maxEvals, start: time.Now(), bestFitness: math.Inf(1)}
}

func (p *progress) record(fitness float64, values []float64, s runSummary) {
	p.evals++
	if fitness < p.bestFitness {
		p.bestFitness = fitness
		p.bestValues = values
	}

	elapsed := time.Since(p.start)
	remaining := time.Duration(p.maxEvals-p.evals) * (elapsed / time.Duration(p.evals))
	fmt.Printf("Eval %d/%d: dispersion=%.2f speed_p90=%.1f (best=%.3f) | elapsed: %s, ETA: %s\n",
		p.evals, p.maxEvals, s.dispersion, s.speedP90, p.bestFitness,
		formatDuration(elapsed), formatDuration(remaining))
}

// formatDuration formats a duration as 1h02m03s, or 2m03s when under an hour.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}
