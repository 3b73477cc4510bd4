package integrators

import "github.com/san-kum/trajopt/internal/dynamo"

// Euler is the explicit first-order stepper. It keeps no scratch state and is
// safe for concurrent use.
type Euler struct{}

func NewEuler() *Euler {
	return &Euler{}
}

func (e *Euler) Step(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64) dynamo.State {
	return axpy(x, dt, dyn.Derive(x, u, t))
}

// axpy returns x + a*y as a fresh state.
func axpy(x dynamo.State, a float64, y dynamo.State) dynamo.State {
	out := make(dynamo.State, len(x))
	for i := range x {
		out[i] = x[i] + a*y[i]
	}
	return out
}
