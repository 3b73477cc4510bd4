package ddp

import (
	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/problem"
	"gonum.org/v1/gonum/mat"
)

type backwardResult struct {
	Law   ControlLaw
	Value ValueFunction
	DV    ExpectedReduction
	// Covariance is QuuF⁻¹ per optimized step; nil where unavailable.
	Covariance []*mat.SymDense
}

// backwardPass sweeps t = N-2..0 from the terminal expansion at N-1. The
// first divergence aborts the sweep; nothing from a failed sweep is kept.
func (o *Optimizer) backwardPass(nominal *dynamo.Trajectory, d *problem.Derivatives, lambda float64) (*backwardResult, error) {
	steps := nominal.Len()
	n, m := o.p.StateDim(), o.p.ControlDim()

	res := &backwardResult{
		Law: newControlLaw(steps, n, m),
		Value: ValueFunction{
			Vx:  make([]*mat.VecDense, steps),
			Vxx: make([]*mat.Dense, steps),
		},
		Covariance: make([]*mat.SymDense, steps-1),
	}

	last := d.At(steps - 1)
	res.Value.Vx[steps-1] = mat.VecDenseCopyOf(last.Cx)
	res.Value.Vxx[steps-1] = mat.DenseCopyOf(symmetrize(last.Cxx))

	bounds := o.opts.Bounds
	for t := steps - 2; t >= 0; t-- {
		e := expand(res.Value.Vx[t+1], res.Value.Vxx[t+1], d.At(t), lambda, o.opts.RegType)

		var (
			law stepLaw
			err error
		)
		if bounds == nil {
			law, err = solveCholesky(e, t+1)
		} else {
			u := nominal.Controls[t]
			lower := make([]float64, m)
			upper := make([]float64, m)
			for i := 0; i < m; i++ {
				lower[i] = bounds.Lower[i] - u[i]
				upper[i] = bounds.Upper[i] - u[i]
			}
			warm := res.Law.Feedforward[min(t+1, steps-2)].RawVector().Data
			law, err = solveBoxQP(o.opts.BoxQP, e, t+1, lower, upper, warm)
		}
		if err != nil {
			return nil, err
		}

		res.Law.Feedforward[t] = law.k
		res.Law.Gains[t] = law.K
		res.Covariance[t] = law.cov
		res.Value.Vx[t], res.Value.Vxx[t] = updateValue(e, law, &res.DV)
	}
	return res, nil
}
