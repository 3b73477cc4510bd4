package problem

import (
	"fmt"

	"github.com/san-kum/trajopt/internal/dynamo"
	"gonum.org/v1/gonum/mat"
)

// Dynamics advances the discrete system one step and reports the stage cost
// of (x, u) at step t.
type Dynamics interface {
	Step(x dynamo.State, u dynamo.Control, t int) (dynamo.State, float64)
}

// Terminal is implemented by problems whose last-step cost is a function of
// the final state only. When present it replaces the stage cost at N-1.
type Terminal interface {
	TerminalCost(x dynamo.State) float64
}

// Differentiator expands dynamics and cost along a trajectory.
type Differentiator interface {
	Differentiate(xs []dynamo.State, us []dynamo.Control) (*Derivatives, error)
}

type Model interface {
	Dynamics
	StateDim() int
	ControlDim() int
}

type Problem interface {
	Model
	Differentiator
}

// Variant names the structural specialisation a derivative bundle admits.
// It is informational: the backward pass runs one generic recursion and
// absent terms simply contribute nothing.
type Variant int

const (
	// VariantTimeVarying: time-varying cost Hessians, any dynamics.
	VariantTimeVarying Variant = iota
	// VariantQuadraticNonlinear: time-invariant cost Hessians, second-order dynamics.
	VariantQuadraticNonlinear
	// VariantQuadraticLinear: time-invariant cost Hessians, time-varying first-order dynamics.
	VariantQuadraticLinear
	// VariantLinearTimeInvariant: time-invariant cost Hessians and dynamics Jacobians.
	VariantLinearTimeInvariant
)

func (v Variant) String() string {
	switch v {
	case VariantQuadraticNonlinear:
		return "quadratic-nonlinear"
	case VariantQuadraticLinear:
		return "quadratic-linear"
	case VariantLinearTimeInvariant:
		return "linear-time-invariant"
	default:
		return "time-varying"
	}
}

// Derivatives is the per-trajectory expansion of dynamics and cost.
//
// Every field is a slice over the horizon. A slice of length one is
// time-invariant and broadcast to every step. The second-order dynamics
// tensors are indexed [t][j] where j runs over the n state components, so
// Fxx[t][j] is the n×n Hessian of the j-th next-state entry; leaving them
// empty selects first-order (Gauss-Newton) dynamics. Cxu may be empty,
// meaning no state/control cross term.
type Derivatives struct {
	Fx, Fu        []*mat.Dense
	Fxx, Fxu, Fuu [][]*mat.Dense

	Cx, Cu        []*mat.VecDense
	Cxx, Cxu, Cuu []*mat.Dense
}

// StepDerivatives is the view of a bundle at one step.
type StepDerivatives struct {
	Fx, Fu        *mat.Dense
	Fxx, Fxu, Fuu []*mat.Dense

	Cx, Cu        *mat.VecDense
	Cxx, Cxu, Cuu *mat.Dense
}

func pick[T any](s []T, t int) T {
	var zero T
	switch len(s) {
	case 0:
		return zero
	case 1:
		return s[0]
	default:
		return s[t]
	}
}

// At returns the derivatives at step t, broadcasting time-invariant terms.
func (d *Derivatives) At(t int) StepDerivatives {
	return StepDerivatives{
		Fx:  pick(d.Fx, t),
		Fu:  pick(d.Fu, t),
		Fxx: pick(d.Fxx, t),
		Fxu: pick(d.Fxu, t),
		Fuu: pick(d.Fuu, t),
		Cx:  pick(d.Cx, t),
		Cu:  pick(d.Cu, t),
		Cxx: pick(d.Cxx, t),
		Cxu: pick(d.Cxu, t),
		Cuu: pick(d.Cuu, t),
	}
}

func (d *Derivatives) SecondOrder() bool {
	return len(d.Fxx) > 0 || len(d.Fxu) > 0 || len(d.Fuu) > 0
}

func (d *Derivatives) Variant() Variant {
	quadratic := len(d.Cxx) == 1 && len(d.Cuu) == 1 && len(d.Cxu) <= 1
	invariant := len(d.Fx) == 1 && len(d.Fu) == 1
	switch {
	case !quadratic:
		return VariantTimeVarying
	case d.SecondOrder():
		return VariantQuadraticNonlinear
	case !invariant:
		return VariantQuadraticLinear
	default:
		return VariantLinearTimeInvariant
	}
}

// Validate checks every field against a horizon of steps and dimensions
// n (state) and m (control).
func (d *Derivatives) Validate(steps, n, m int) error {
	if d == nil {
		return fmt.Errorf("%w: nil bundle", ErrShape)
	}
	checkLen := func(name string, l int, optional bool) error {
		if (l == 0 && optional) || l == 1 || l == steps {
			return nil
		}
		return fmt.Errorf("%w: %s has %d entries, want 1 or %d", ErrHorizon, name, l, steps)
	}
	checkDense := func(name string, ms []*mat.Dense, r, c int) error {
		for t, a := range ms {
			if a == nil {
				return fmt.Errorf("%w: %s[%d] is nil", ErrShape, name, t)
			}
			if ar, ac := a.Dims(); ar != r || ac != c {
				return fmt.Errorf("%w: %s[%d] is %dx%d, want %dx%d", ErrShape, name, t, ar, ac, r, c)
			}
		}
		return nil
	}
	checkVec := func(name string, vs []*mat.VecDense, l int) error {
		for t, v := range vs {
			if v == nil || v.Len() != l {
				return fmt.Errorf("%w: %s[%d] must have length %d", ErrShape, name, t, l)
			}
		}
		return nil
	}
	checkTensor := func(name string, ts [][]*mat.Dense, r, c int) error {
		for t, comps := range ts {
			if len(comps) != n {
				return fmt.Errorf("%w: %s[%d] has %d components, want %d", ErrShape, name, t, len(comps), n)
			}
			if err := checkDense(fmt.Sprintf("%s[%d]", name, t), comps, r, c); err != nil {
				return err
			}
		}
		return nil
	}

	lens := []struct {
		name     string
		l        int
		optional bool
	}{
		{"fx", len(d.Fx), false}, {"fu", len(d.Fu), false},
		{"fxx", len(d.Fxx), true}, {"fxu", len(d.Fxu), true}, {"fuu", len(d.Fuu), true},
		{"cx", len(d.Cx), false}, {"cu", len(d.Cu), false},
		{"cxx", len(d.Cxx), false}, {"cxu", len(d.Cxu), true}, {"cuu", len(d.Cuu), false},
	}
	for _, l := range lens {
		if err := checkLen(l.name, l.l, l.optional); err != nil {
			return err
		}
	}

	for _, err := range []error{
		checkDense("fx", d.Fx, n, n),
		checkDense("fu", d.Fu, n, m),
		checkTensor("fxx", d.Fxx, n, n),
		checkTensor("fxu", d.Fxu, n, m),
		checkTensor("fuu", d.Fuu, m, m),
		checkVec("cx", d.Cx, n),
		checkVec("cu", d.Cu, m),
		checkDense("cxx", d.Cxx, n, n),
		checkDense("cxu", d.Cxu, n, m),
		checkDense("cuu", d.Cuu, m, m),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

// StageCost evaluates the cost a rollout assigns to step t: the stage cost,
// or the terminal cost at the last step when the model provides one.
func StageCost(p Dynamics, x dynamo.State, u dynamo.Control, t, steps int) (dynamo.State, float64) {
	next, c := p.Step(x, u, t)
	if t == steps-1 {
		if term, ok := p.(Terminal); ok {
			c = term.TerminalCost(x)
		}
	}
	return next, c
}

// Rollout simulates controls us open-loop from x0.
func Rollout(p Dynamics, x0 dynamo.State, us []dynamo.Control) *dynamo.Trajectory {
	steps := len(us)
	tr := &dynamo.Trajectory{
		States:   make([]dynamo.State, steps),
		Controls: make([]dynamo.Control, steps),
		Costs:    make([]float64, steps),
	}
	x := x0.Clone()
	for t := 0; t < steps; t++ {
		tr.States[t] = x
		tr.Controls[t] = us[t].Clone()
		next, c := StageCost(p, x, tr.Controls[t], t, steps)
		tr.Costs[t] = c
		x = next
	}
	return tr
}
