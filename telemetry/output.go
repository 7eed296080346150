package telemetry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/plife3d/config"
)

// Files written into the output directory.
const (
	TelemetryFile = "telemetry.csv"
	PerfFile      = "perf.csv"
	ConfigFile    = "config.yaml"
	RecipeFile    = "recipe.yaml"
)

// csvStream is one CSV file whose header goes out with the first row.
type csvStream struct {
	name   string
	f      *os.File
	header bool
}

func openStream(dir, name string) (*csvStream, error) {
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", name, err)
	}
	return &csvStream{name: name, f: f}, nil
}

// appendRow marshals one row, adding the header if nothing was written yet.
func appendRow[T any](s *csvStream, row T) error {
	rows := []T{row}
	var err error
	if s.header {
		err = gocsv.MarshalWithoutHeaders(rows, s.f)
	} else {
		err = gocsv.Marshal(rows, s.f)
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", s.name, err)
	}
	s.header = true
	return nil
}

// OutputManager writes a run's CSV streams and run files to one directory.
// A nil manager discards everything.
type OutputManager struct {
	dir       string
	telemetry *csvStream
	perf      *csvStream
}

// NewOutputManager creates dir and opens the CSV streams.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}
	var err error
	if om.telemetry, err = openStream(dir, TelemetryFile); err != nil {
		return nil, err
	}
	if om.perf, err = openStream(dir, PerfFile); err != nil {
		om.Close()
		return nil, err
	}
	return om, nil
}

// WriteTelemetry appends a window to telemetry.csv.
func (om *OutputManager) WriteTelemetry(stats WindowStats) error {
	if om == nil {
		return nil
	}
	return appendRow(om.telemetry, stats)
}

// WritePerf appends the perf window ending at windowEnd to perf.csv.
func (om *OutputManager) WritePerf(stats PerfStats, windowEnd int32) error {
	if om == nil {
		return nil
	}
	return appendRow(om.perf, stats.ToCSV(windowEnd))
}

// WriteConfig saves cfg as config.yaml.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, ConfigFile))
}

// WriteRecipe saves r as recipe.yaml.
func (om *OutputManager) WriteRecipe(r config.Recipe) error {
	if om == nil {
		return nil
	}
	return config.SaveRecipe(filepath.Join(om.dir, RecipeFile), r)
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close closes the CSV streams.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}
	var errs []error
	for _, s := range []*csvStream{om.telemetry, om.perf} {
		if s != nil {
			errs = append(errs, s.f.Close())
		}
	}
	return errors.Join(errs...)
}
