package problem

import (
	"fmt"

	"github.com/san-kum/trajopt/internal/dynamo"
	"gonum.org/v1/gonum/mat"
)

// LinearQuadratic is x' = A x + B u with stage cost
// (x-g)ᵀQ(x-g) + uᵀRu and terminal cost (x-g)ᵀQf(x-g).
// Its derivative bundle uses the time-invariant shapes for the dynamics
// Jacobians and, when Qf is unset, for the cost Hessians too.
type LinearQuadratic struct {
	A, B *mat.Dense
	Q, R *mat.Dense
	// Qf defaults to Q.
	Qf   *mat.Dense
	Goal dynamo.State
}

func NewLinearQuadratic(a, b, q, r *mat.Dense) (*LinearQuadratic, error) {
	n, na := a.Dims()
	nb, m := b.Dims()
	switch {
	case n != na:
		return nil, fmt.Errorf("%w: A is %dx%d", ErrShape, n, na)
	case nb != n:
		return nil, fmt.Errorf("%w: B has %d rows, A has %d", ErrShape, nb, n)
	}
	if qr, qc := q.Dims(); qr != n || qc != n {
		return nil, fmt.Errorf("%w: Q is %dx%d, want %dx%d", ErrWeights, qr, qc, n, n)
	}
	if rr, rc := r.Dims(); rr != m || rc != m {
		return nil, fmt.Errorf("%w: R is %dx%d, want %dx%d", ErrWeights, rr, rc, m, m)
	}
	return &LinearQuadratic{A: a, B: b, Q: q, R: r}, nil
}

// Scalar builds the one-dimensional system x' = a x + b u with cost q x² + r u².
func Scalar(a, b, q, r float64) *LinearQuadratic {
	lq, _ := NewLinearQuadratic(
		mat.NewDense(1, 1, []float64{a}),
		mat.NewDense(1, 1, []float64{b}),
		mat.NewDense(1, 1, []float64{q}),
		mat.NewDense(1, 1, []float64{r}),
	)
	return lq
}

// DoubleIntegrator is a unit point mass sampled at dt, state (pos, vel).
func DoubleIntegrator(dt, q, r float64) *LinearQuadratic {
	lq, _ := NewLinearQuadratic(
		mat.NewDense(2, 2, []float64{1, dt, 0, 1}),
		mat.NewDense(2, 1, []float64{0.5 * dt * dt, dt}),
		mat.NewDense(2, 2, []float64{q, 0, 0, q}),
		mat.NewDense(1, 1, []float64{r}),
	)
	return lq
}

func (p *LinearQuadratic) StateDim() int {
	n, _ := p.A.Dims()
	return n
}

func (p *LinearQuadratic) ControlDim() int {
	_, m := p.B.Dims()
	return m
}

func (p *LinearQuadratic) deviation(x dynamo.State) *mat.VecDense {
	d := make([]float64, len(x))
	copy(d, x)
	for i := range d {
		if i < len(p.Goal) {
			d[i] -= p.Goal[i]
		}
	}
	return mat.NewVecDense(len(d), d)
}

func (p *LinearQuadratic) Step(x dynamo.State, u dynamo.Control, t int) (dynamo.State, float64) {
	xv := mat.NewVecDense(len(x), x.Clone())
	uv := mat.NewVecDense(len(u), u.Clone())

	var next, bu mat.VecDense
	next.MulVec(p.A, xv)
	bu.MulVec(p.B, uv)
	next.AddVec(&next, &bu)

	d := p.deviation(x)
	cost := mat.Inner(d, p.Q, d) + mat.Inner(uv, p.R, uv)

	out := make(dynamo.State, next.Len())
	for i := range out {
		out[i] = next.AtVec(i)
	}
	return out, cost
}

func (p *LinearQuadratic) terminalWeight() *mat.Dense {
	if p.Qf != nil {
		return p.Qf
	}
	return p.Q
}

func (p *LinearQuadratic) TerminalCost(x dynamo.State) float64 {
	d := p.deviation(x)
	return mat.Inner(d, p.terminalWeight(), d)
}

// symmetricTwice returns W + Wᵀ, the Hessian of zᵀWz.
func symmetricTwice(w *mat.Dense) *mat.Dense {
	var h mat.Dense
	h.Add(w, w.T())
	return &h
}

func (p *LinearQuadratic) Differentiate(xs []dynamo.State, us []dynamo.Control) (*Derivatives, error) {
	steps := len(xs)
	if len(us) != steps {
		return nil, fmt.Errorf("%w: %d states, %d controls", ErrHorizon, len(xs), len(us))
	}
	n, m := p.StateDim(), p.ControlDim()

	hq := symmetricTwice(p.Q)
	hr := symmetricTwice(p.R)
	hf := symmetricTwice(p.terminalWeight())

	d := &Derivatives{
		Fx:  []*mat.Dense{p.A},
		Fu:  []*mat.Dense{p.B},
		Cx:  make([]*mat.VecDense, steps),
		Cu:  make([]*mat.VecDense, steps),
		Cxu: []*mat.Dense{mat.NewDense(n, m, nil)},
		Cuu: []*mat.Dense{hr},
	}

	if p.Qf == nil {
		d.Cxx = []*mat.Dense{hq}
	} else {
		d.Cxx = make([]*mat.Dense, steps)
		for t := range d.Cxx {
			d.Cxx[t] = hq
		}
		d.Cxx[steps-1] = hf
	}

	for t := 0; t < steps; t++ {
		dev := p.deviation(xs[t])
		uv := mat.NewVecDense(m, us[t].Clone())

		cx := mat.NewVecDense(n, nil)
		cu := mat.NewVecDense(m, nil)
		if t == steps-1 {
			cx.MulVec(hf, dev)
		} else {
			cx.MulVec(hq, dev)
			cu.MulVec(hr, uv)
		}
		d.Cx[t] = cx
		d.Cu[t] = cu
	}
	return d, nil
}
