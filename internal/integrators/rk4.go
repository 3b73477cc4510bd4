package integrators

import "github.com/san-kum/trajopt/internal/dynamo"

// RK4 is the classic fourth-order Runge-Kutta stepper. Stages are allocated
// per call so one instance can serve concurrent rollouts.
type RK4 struct{}

func NewRK4() *RK4 {
	return &RK4{}
}

func (r *RK4) Step(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64) dynamo.State {
	half := 0.5 * dt

	k1 := dyn.Derive(x, u, t)
	k2 := dyn.Derive(axpy(x, half, k1), u, t+half)
	k3 := dyn.Derive(axpy(x, half, k2), u, t+half)
	k4 := dyn.Derive(axpy(x, dt, k3), u, t+dt)

	dt6 := dt / 6.0
	out := make(dynamo.State, len(x))
	for i := range x {
		out[i] = x[i] + dt6*(k1[i]+2*k2[i]+2*k3[i]+k4[i])
	}
	return out
}

// Get returns the stepper registered under name, defaulting to RK4.
func Get(name string) dynamo.Integrator {
	switch name {
	case "euler":
		return NewEuler()
	default:
		return NewRK4()
	}
}
