// Package errors defines the error taxonomy for the tremor sampler.
//
// Failures split into two propagation classes: per-proposal failures
// (likelihood evaluation) are absorbed at the population boundary and
// surface as rejected proposals, while configuration, degeneracy, and
// checkpoint failures terminate the run.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is matching across package boundaries.
var (
	ErrConfiguration        = errors.New("invalid configuration")
	ErrLikelihoodEvaluation = errors.New("likelihood evaluation failed")
	ErrDegenerateLikelihood = errors.New("degenerate likelihood weights")
	ErrCheckpointCorruption = errors.New("corrupted checkpoint")
	ErrConvergenceFailure   = errors.New("tempering schedule did not converge")
)

// ConfigurationError indicates malformed or missing project configuration.
// Fatal: sampling never starts.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// NewConfigurationError reports a bad configuration field.
func NewConfigurationError(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// LikelihoodError wraps a forward-model or store-lookup failure for one
// parameter vector. Recovered locally: the proposal is rejected.
type LikelihoodError struct {
	Dataset string
	Cause   error
}

func (e *LikelihoodError) Error() string {
	if e.Dataset != "" {
		return fmt.Sprintf("likelihood (%s): %v", e.Dataset, e.Cause)
	}
	return fmt.Sprintf("likelihood: %v", e.Cause)
}

func (e *LikelihoodError) Unwrap() error { return ErrLikelihoodEvaluation }

// DegenerateLikelihoodError indicates every particle weight was non-finite
// or identical after reweighting. Fatal: no valid resampling can proceed.
type DegenerateLikelihoodError struct {
	Stage int
}

func (e *DegenerateLikelihoodError) Error() string {
	return fmt.Sprintf("stage %d: all particle weights degenerate", e.Stage)
}

func (e *DegenerateLikelihoodError) Unwrap() error { return ErrDegenerateLikelihood }

// CheckpointCorruptionError indicates a stage artifact failed integrity
// validation on load.
type CheckpointCorruptionError struct {
	Path   string
	Reason string
}

func (e *CheckpointCorruptionError) Error() string {
	return fmt.Sprintf("checkpoint %s: %s", e.Path, e.Reason)
}

func (e *CheckpointCorruptionError) Unwrap() error { return ErrCheckpointCorruption }

// ConvergenceFailureError indicates the annealing schedule could not find a
// tempering increment meeting the weight-degeneracy target within the
// bisection iteration budget.
type ConvergenceFailureError struct {
	Stage      int
	Iterations int
}

func (e *ConvergenceFailureError) Error() string {
	return fmt.Sprintf("stage %d: no tempering step found after %d bisection iterations", e.Stage, e.Iterations)
}

func (e *ConvergenceFailureError) Unwrap() error { return ErrConvergenceFailure }
