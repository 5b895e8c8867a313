package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested pipeline does not exist.
var ErrNotFound = errors.New("pipeline not found")

// ErrPipelineActive indicates an operation was refused because the pipeline
// is currently running.
var ErrPipelineActive = errors.New("pipeline is already running")

// ConfigError reports invalid user-supplied configuration. The API layer
// maps it to 400.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

// AdapterError reports a failed fetch from a single source. The orchestrator
// isolates these per source; they never abort a whole run.
type AdapterError struct {
	Source string
	Err    error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }
