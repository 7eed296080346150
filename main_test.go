package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/plife3d/systems"
)

func TestShouldStop(t *testing.T) {
	wrap := func(err error) error { return fmt.Errorf("tick 7: %w", err) }

	tests := []struct {
		name     string
		err      error
		failures int
		want     bool
	}{
		{"config", wrap(systems.ErrConfig), 1, true},
		{"resource", wrap(systems.ErrResource), 1, true},
		{"consistency", wrap(systems.ErrConsistency), 1, true},
		{"dispatch retried", wrap(systems.ErrDispatch), 3, false},
		{"dispatch capped", wrap(systems.ErrDispatch), maxStepRetries + 1, true},
		{"unclassified retried", errors.New("boom"), 1, false},
		{"unclassified capped", errors.New("boom"), maxStepRetries + 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, shouldStop(tt.err, tt.failures))
		})
	}
}
