package ddp

import (
	"errors"
	"fmt"
)

var (
	// ErrDiverged indicates a backward-pass factorization or box-QP failure.
	// It is recovered inside Solve by raising the regularization.
	ErrDiverged = errors.New("ddp: backward pass diverged")

	// ErrLineSearchFailed indicates no step size met the acceptance ratio.
	ErrLineSearchFailed = errors.New("ddp: line search failed")

	// ErrRegularizationSaturated indicates λ exceeded LambdaMax. Solve returns
	// it together with the best trajectory found.
	ErrRegularizationSaturated = errors.New("ddp: regularization saturated")

	// ErrInitialDivergence indicates every initial rollout diverged.
	ErrInitialDivergence = errors.New("ddp: initial trajectory diverged")

	// ErrInvalidConfig indicates options or inputs rejected before iterating.
	ErrInvalidConfig = errors.New("ddp: invalid configuration")

	// ErrNonPositiveExpected marks a line-search candidate whose expected
	// reduction was not positive. It is logged, never returned.
	ErrNonPositiveExpected = errors.New("ddp: non-positive expected reduction")
)

// DivergenceError reports the 1-based step at which the backward pass failed.
type DivergenceError struct {
	Step int
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("ddp: backward pass diverged at step %d", e.Step)
}

func (e *DivergenceError) Unwrap() error {
	return ErrDiverged
}

// ConfigError names the offending option.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("ddp: invalid configuration: %s: %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidConfig}
	}
	return []error{ErrInvalidConfig, e.Err}
}

func configErr(field, reason string) error {
	return &ConfigError{Field: field, Reason: reason}
}
