package problem

import (
	"fmt"

	"github.com/san-kum/trajopt/internal/dynamo"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

type FDOptions struct {
	// Step is the finite-difference step; zero uses the gonum default.
	Step float64
	// SecondOrder also estimates the dynamics Hessians fxx, fxu, fuu,
	// turning iLQG into full DDP.
	SecondOrder bool
}

// FiniteDiff differentiates any model numerically with central differences
// over the joint variable z = (x, u).
type FiniteDiff struct {
	model Model
	opts  FDOptions
}

func NewFiniteDiff(model Model, opts FDOptions) *FiniteDiff {
	return &FiniteDiff{model: model, opts: opts}
}

func (f *FiniteDiff) StateDim() int   { return f.model.StateDim() }
func (f *FiniteDiff) ControlDim() int { return f.model.ControlDim() }

func (f *FiniteDiff) Step(x dynamo.State, u dynamo.Control, t int) (dynamo.State, float64) {
	return f.model.Step(x, u, t)
}

// TerminalCost forwards to the wrapped model, falling back to its stage
// cost with zero control.
func (f *FiniteDiff) TerminalCost(x dynamo.State) float64 {
	if term, ok := f.model.(Terminal); ok {
		return term.TerminalCost(x)
	}
	_, c := f.model.Step(x, make(dynamo.Control, f.ControlDim()), 0)
	return c
}

func (f *FiniteDiff) settings() *fd.Settings {
	return &fd.Settings{Formula: fd.Central, Step: f.opts.Step}
}

func (f *FiniteDiff) Differentiate(xs []dynamo.State, us []dynamo.Control) (*Derivatives, error) {
	steps := len(xs)
	if len(us) != steps {
		return nil, fmt.Errorf("%w: %d states, %d controls", ErrHorizon, len(xs), len(us))
	}
	n, m := f.StateDim(), f.ControlDim()

	d := &Derivatives{
		Fx:  make([]*mat.Dense, steps),
		Fu:  make([]*mat.Dense, steps),
		Cx:  make([]*mat.VecDense, steps),
		Cu:  make([]*mat.VecDense, steps),
		Cxx: make([]*mat.Dense, steps),
		Cxu: make([]*mat.Dense, steps),
		Cuu: make([]*mat.Dense, steps),
	}
	if f.opts.SecondOrder {
		d.Fxx = make([][]*mat.Dense, steps)
		d.Fxu = make([][]*mat.Dense, steps)
		d.Fuu = make([][]*mat.Dense, steps)
	}

	for t := 0; t < steps; t++ {
		z := joint(xs[t], us[t])
		split := func(z []float64) (dynamo.State, dynamo.Control) {
			return dynamo.State(z[:n]), dynamo.Control(z[n:])
		}

		next := func(y, z []float64) {
			x, u := split(z)
			out, _ := f.model.Step(x, u, t)
			copy(y, out)
		}
		jac := mat.NewDense(n, n+m, nil)
		fd.Jacobian(jac, next, z, &fd.JacobianSettings{Formula: fd.Central, Step: f.opts.Step})
		d.Fx[t] = mat.DenseCopyOf(jac.Slice(0, n, 0, n))
		d.Fu[t] = mat.DenseCopyOf(jac.Slice(0, n, n, n+m))

		terminal := t == steps-1
		cost := func(z []float64) float64 {
			x, u := split(z)
			if terminal {
				return f.TerminalCost(x)
			}
			_, c := f.model.Step(x, u, t)
			return c
		}
		grad := fd.Gradient(nil, cost, z, f.settings())
		d.Cx[t] = mat.NewVecDense(n, grad[:n])
		d.Cu[t] = mat.NewVecDense(m, grad[n:])

		hess := mat.NewSymDense(n+m, nil)
		fd.Hessian(hess, cost, z, f.settings())
		cxx, cxu, cuu := blocks(hess, n, m)
		d.Cxx[t], d.Cxu[t], d.Cuu[t] = cxx, cxu, cuu

		if f.opts.SecondOrder {
			d.Fxx[t] = make([]*mat.Dense, n)
			d.Fxu[t] = make([]*mat.Dense, n)
			d.Fuu[t] = make([]*mat.Dense, n)
			for j := 0; j < n; j++ {
				component := func(z []float64) float64 {
					x, u := split(z)
					out, _ := f.model.Step(x, u, t)
					return out[j]
				}
				h := mat.NewSymDense(n+m, nil)
				fd.Hessian(h, component, z, f.settings())
				d.Fxx[t][j], d.Fxu[t][j], d.Fuu[t][j] = blocks(h, n, m)
			}
		}
	}
	return d, nil
}

func joint(x dynamo.State, u dynamo.Control) []float64 {
	z := make([]float64, 0, len(x)+len(u))
	z = append(z, x...)
	return append(z, u...)
}

// blocks splits a joint (n+m)×(n+m) Hessian into its xx, xu and uu blocks.
func blocks(h *mat.SymDense, n, m int) (xx, xu, uu *mat.Dense) {
	xx = mat.NewDense(n, n, nil)
	xu = mat.NewDense(n, m, nil)
	uu = mat.NewDense(m, m, nil)
	for i := 0; i < n+m; i++ {
		for j := 0; j < n+m; j++ {
			v := h.At(i, j)
			switch {
			case i < n && j < n:
				xx.Set(i, j, v)
			case i < n && j >= n:
				xu.Set(i, j-n, v)
			case i >= n && j >= n:
				uu.Set(i-n, j-n, v)
			}
		}
	}
	return xx, xu, uu
}
