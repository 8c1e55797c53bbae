package pipeline

import (
	"errors"
	"fmt"
)

// Error taxonomy for the pipeline. Fatal-at-startup problems (missing
// binaries, missing credentials) are ConfigurationError; per-scene media
// failures are logged and counted by the workers and never surface here.

// ErrLLMGeneration is reported when the storyboard never became valid JSON
// after exhausting all retry attempts. Fatal for the run.
var ErrLLMGeneration = errors.New("llm generation failed")

// ConfigurationError indicates an invalid environment: missing media
// binaries, missing credentials, unwritable directories. Raised at startup,
// never mid-batch.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Msg
}

// NewConfigurationError formats a ConfigurationError.
func NewConfigurationError(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// OutOfMemoryError wraps an accelerator out-of-memory failure together with
// actionable guidance, so callers see "reduce frame count" instead of a raw
// driver error.
type OutOfMemoryError struct {
	Op       string // operation that hit the limit, e.g. "video generation"
	Guidance string
	Err      error
}

func (e *OutOfMemoryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("out of accelerator memory during %s: %v (try: %s)", e.Op, e.Err, e.Guidance)
	}
	return fmt.Sprintf("out of accelerator memory during %s (try: %s)", e.Op, e.Guidance)
}

func (e *OutOfMemoryError) Unwrap() error {
	return e.Err
}

// PrerequisiteError is returned when a stage is invoked before the stage
// that produces its input has run. The message names the missing command so
// the user knows what to run first.
type PrerequisiteError struct {
	Missing string // path or directory that was expected
	RunCmd  string // the command that produces it
}

func (e *PrerequisiteError) Error() string {
	return fmt.Sprintf("missing prerequisite %s (run %q first)", e.Missing, e.RunCmd)
}
