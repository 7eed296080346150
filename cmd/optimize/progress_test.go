package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEvalLog_Rows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	params := NewParamVector()

	l, err := createEvalLog(path, params)
	require.NoError(t, err)
	require.NoError(t, l.Write(1, -2.5, runSummary{dispersion: 2.5, speedP90: 12}, params.DefaultVector()))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Equal(t, []string{
		"eval,fitness,dispersion,speed_p90,damping,amp,max_force,sigma2",
		"1,-2.500000,2.500000,12.000000,0.100000,1.000000,15.000000,0.000000",
	}, lines)
}

func TestProgress_KeepsBest(t *testing.T) {
	p := newProgress(3)
	p.record(-1, []float64{1}, runSummary{})
	p.record(-3, []float64{3}, runSummary{})
	p.record(-2, []float64{2}, runSummary{})

	require.Equal(t, 3, p.evals)
	require.Equal(t, -3.0, p.bestFitness)
	require.Equal(t, []float64{3}, p.bestValues)
}

func TestFormatDuration(t *testing.T) {
	require.Equal(t, "2m03s", formatDuration(123*time.Second))
	require.Equal(t, "1h02m03s", formatDuration(time.Hour+2*time.Minute+3*time.Second))
}
