package dynamo

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Norm is the Euclidean length of s.
func (s State) Norm() float64 { return floats.Norm(s, 2) }

// MaxAbs returns the largest absolute entry, the quantity compared against
// the divergence limit after a rollout.
func (s State) MaxAbs() float64 {
	m := 0.0
	for _, v := range s {
		if a := math.Abs(v); a > m || math.IsNaN(a) {
			m = a
		}
	}
	return m
}

func (s State) Add(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] + other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

func (s State) Scale(factor float64) State {
	result := make(State, len(s))
	for i := range s {
		result[i] = s[i] * factor
	}
	return result
}

func (s State) Sub(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] - other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

type Control []float64

func (u Control) Clone() Control {
	c := make(Control, len(u))
	copy(c, u)
	return c
}

func (u Control) IsValid() bool {
	return State(u).IsValid()
}

// Clamp limits every entry of u to [lower[i], upper[i]] in place.
func (u Control) Clamp(lower, upper []float64) {
	for i := range u {
		if i < len(lower) && u[i] < lower[i] {
			u[i] = lower[i]
		}
		if i < len(upper) && u[i] > upper[i] {
			u[i] = upper[i]
		}
	}
}

// DiffFunc measures the deviation of a from b. Plain subtraction is the
// default; angle-wrapping systems supply their own.
type DiffFunc func(a, b State) State

func Subtract(a, b State) State { return a.Sub(b) }

// System is a continuous-time plant dX/dt = f(X, u, t).
type System interface {
	Derive(x State, u Control, t float64) State
	StateDim() int
	ControlDim() int
}

type Integrator interface {
	Step(dyn System, x State, u Control, t float64, dt float64) State
}

// Controller maps the state at discrete step t to a control.
type Controller interface {
	Compute(x State, t int) Control
}

type Metric interface {
	Name() string
	Observe(x State, u Control, t int)
	Value() float64
	Reset()
}

// Trajectory holds N states, N controls and the N per-step costs produced
// by one rollout. States[i+1] is the image of (States[i], Controls[i]).
type Trajectory struct {
	States   []State
	Controls []Control
	Costs    []float64
}

func (tr *Trajectory) Len() int {
	if tr == nil {
		return 0
	}
	return len(tr.States)
}

func (tr *Trajectory) TotalCost() float64 {
	sum := 0.0
	for _, c := range tr.Costs {
		sum += c
	}
	return sum
}

func (tr *Trajectory) Clone() *Trajectory {
	c := &Trajectory{
		States:   make([]State, len(tr.States)),
		Controls: make([]Control, len(tr.Controls)),
		Costs:    make([]float64, len(tr.Costs)),
	}
	for i, x := range tr.States {
		c.States[i] = x.Clone()
	}
	for i, u := range tr.Controls {
		c.Controls[i] = u.Clone()
	}
	copy(c.Costs, tr.Costs)
	return c
}

// IsValid reports whether every state is finite and bounded by limit.
func (tr *Trajectory) IsValid(limit float64) bool {
	for _, x := range tr.States {
		if !x.IsValid() || x.MaxAbs() >= limit {
			return false
		}
	}
	for _, c := range tr.Costs {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Validate checks lengths and dimensions against a horizon of n steps.
func (tr *Trajectory) Validate(n, stateDim, controlDim int) error {
	if len(tr.States) != n || len(tr.Controls) != n {
		return fmt.Errorf("%w: trajectory has %d states and %d controls, horizon is %d",
			ErrDimensionMismatch, len(tr.States), len(tr.Controls), n)
	}
	if len(tr.Costs) != n {
		return fmt.Errorf("%w: trajectory has %d costs, horizon is %d", ErrMissingCost, len(tr.Costs), n)
	}
	for i := range tr.States {
		if len(tr.States[i]) != stateDim {
			return fmt.Errorf("%w: state %d has dimension %d, want %d",
				ErrDimensionMismatch, i, len(tr.States[i]), stateDim)
		}
		if len(tr.Controls[i]) != controlDim {
			return fmt.Errorf("%w: control %d has dimension %d, want %d",
				ErrDimensionMismatch, i, len(tr.Controls[i]), controlDim)
		}
	}
	return nil
}

// Configurable models expose named physical parameters.
type Configurable interface {
	GetParams() map[string]float64
	SetParam(name string, value float64) error
}
