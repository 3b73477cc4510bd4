package ddp

import (
	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/problem"
	"gonum.org/v1/gonum/mat"
)

// forwardPass rolls the problem out from x0 under the control law around the
// nominal trajectory. It always runs the full horizon; validity is judged by
// the caller.
func (o *Optimizer) forwardPass(x0 dynamo.State, nominal *dynamo.Trajectory, law ControlLaw, alpha float64) *dynamo.Trajectory {
	steps := nominal.Len()
	m := o.p.ControlDim()
	out := &dynamo.Trajectory{
		States:   make([]dynamo.State, steps),
		Controls: make([]dynamo.Control, steps),
		Costs:    make([]float64, steps),
	}

	x := x0.Clone()
	fb := mat.NewVecDense(m, nil)
	for t := 0; t < steps; t++ {
		u := nominal.Controls[t].Clone()
		k := law.Feedforward[t]
		dx := o.opts.Diff(x, nominal.States[t])
		fb.MulVec(law.Gains[t], mat.NewVecDense(len(dx), dx))
		for i := range u {
			u[i] += alpha*k.AtVec(i) + fb.AtVec(i)
		}
		if b := o.opts.Bounds; b != nil {
			u.Clamp(b.Lower, b.Upper)
		}

		out.States[t] = x
		out.Controls[t] = u
		next, c := problem.StageCost(o.p, x, u, t, steps)
		out.Costs[t] = c
		x = next
	}
	return out
}
