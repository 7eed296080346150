package systems

import "errors"

// Error classes surfaced by the core. Wrap with fmt.Errorf("...: %w", Err...)
// and test with errors.Is.
var (
	// ErrConfig marks a configuration that cannot run; the step is not executed.
	ErrConfig = errors.New("invalid configuration")

	// ErrResource marks a buffer sizing failure; prior state is left intact.
	ErrResource = errors.New("resource allocation failed")

	// ErrDispatch marks a failure while a stage was running on the workers.
	ErrDispatch = errors.New("dispatch failed")

	// ErrConsistency marks a grid/sort result that disagrees with brute force.
	ErrConsistency = errors.New("consistency check failed")
)
