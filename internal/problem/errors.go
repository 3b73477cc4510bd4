package problem

import "errors"

var (
	// ErrShape indicates a derivative term with the wrong dimensions.
	ErrShape = errors.New("problem: derivative shape mismatch")

	// ErrHorizon indicates a derivative slice that is neither time-invariant nor full length.
	ErrHorizon = errors.New("problem: derivative horizon mismatch")

	// ErrWeights indicates cost weights that do not match the model dimensions.
	ErrWeights = errors.New("problem: cost weights do not match dimensions")
)
