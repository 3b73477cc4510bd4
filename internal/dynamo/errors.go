package dynamo

import "errors"

// Domain errors for trajectory and simulation primitives.
var (
	// ErrInvalidState indicates a state vector with invalid values.
	ErrInvalidState = errors.New("dynamo: invalid state (NaN or Inf detected)")

	// ErrUnstable indicates a rollout left the divergence limit.
	ErrUnstable = errors.New("dynamo: rollout unstable (state diverged)")

	// ErrDimensionMismatch indicates mismatched state/control dimensions or lengths.
	ErrDimensionMismatch = errors.New("dynamo: dimension mismatch")

	// ErrMissingCost indicates a pre-rolled trajectory without its per-step costs.
	ErrMissingCost = errors.New("dynamo: trajectory costs missing")
)

// SimulationError wraps an error with the step at which it happened.
type SimulationError struct {
	Step    int
	State   State
	Wrapped error
}

func (e *SimulationError) Error() string {
	return e.Wrapped.Error()
}

func (e *SimulationError) Unwrap() error {
	return e.Wrapped
}
