package ddp

import (
	"gonum.org/v1/gonum/mat"
)

// ControlLaw is the per-step affine correction u = ū + α·k + K·(x - x̄).
// The last step is never optimized; its entries stay zero.
type ControlLaw struct {
	Feedforward []*mat.VecDense
	Gains       []*mat.Dense
}

func newControlLaw(steps, n, m int) ControlLaw {
	law := ControlLaw{
		Feedforward: make([]*mat.VecDense, steps),
		Gains:       make([]*mat.Dense, steps),
	}
	for t := 0; t < steps; t++ {
		law.Feedforward[t] = mat.NewVecDense(m, nil)
		law.Gains[t] = mat.NewDense(m, n, nil)
	}
	return law
}

// ValueFunction is the local quadratic cost-to-go along the nominal trajectory.
type ValueFunction struct {
	Vx  []*mat.VecDense
	Vxx []*mat.Dense
}

// ExpectedReduction holds the linear and quadratic coefficients of the
// predicted cost change, -α(dV[0] + α·dV[1]).
type ExpectedReduction [2]float64

func (dv ExpectedReduction) At(alpha float64) float64 {
	return -alpha * (dv[0] + alpha*dv[1])
}

// stepLaw is the solution at one step.
type stepLaw struct {
	k   *mat.VecDense
	K   *mat.Dense
	cov *mat.SymDense
}

// solveCholesky solves QuuF [k K] = -[Qu QuxReg].
func solveCholesky(e *Expansion, step int) (stepLaw, error) {
	m, n := e.QuxReg.Dims()

	var chol mat.Cholesky
	if !chol.Factorize(e.QuuF) {
		return stepLaw{}, &DivergenceError{Step: step}
	}

	rhs := mat.NewDense(m, n+1, nil)
	rhs.Slice(0, m, 0, 1).(*mat.Dense).Copy(e.Qu)
	rhs.Slice(0, m, 1, n+1).(*mat.Dense).Copy(e.QuxReg)

	var sol mat.Dense
	if err := chol.SolveTo(&sol, rhs); err != nil {
		return stepLaw{}, &DivergenceError{Step: step}
	}
	sol.Scale(-1, &sol)

	law := stepLaw{
		k: mat.VecDenseCopyOf(sol.ColView(0)),
		K: mat.DenseCopyOf(sol.Slice(0, m, 1, n+1)),
	}
	law.cov = mat.NewSymDense(m, nil)
	if err := chol.InverseTo(law.cov); err != nil {
		law.cov = nil
	}
	return law, nil
}

// solveBoxQP solves the feedforward under control limits with the box QP and
// builds the gain on the free dimensions only; clamped rows stay zero.
func solveBoxQP(qp BoxQP, e *Expansion, step int, lower, upper, warm []float64) (stepLaw, error) {
	m, n := e.QuxReg.Dims()

	sol := qp.Solve(e.QuuF, e.Qu, lower, upper, warm)
	if !sol.Result.Ok() {
		return stepLaw{}, &DivergenceError{Step: step}
	}

	law := stepLaw{
		k: mat.NewVecDense(m, append([]float64(nil), sol.X...)),
		K: mat.NewDense(m, n, nil),
	}
	if sol.NumFree() > 0 && sol.Factor != nil {
		free := make([]int, 0, m)
		for i, f := range sol.Free {
			if f {
				free = append(free, i)
			}
		}
		rhs := mat.NewDense(len(free), n, nil)
		for a, i := range free {
			rhs.SetRow(a, mat.Row(nil, i, e.QuxReg))
		}
		var kf mat.Dense
		if err := sol.Factor.SolveTo(&kf, rhs); err != nil {
			return stepLaw{}, &DivergenceError{Step: step}
		}
		for a, i := range free {
			for j := 0; j < n; j++ {
				law.K.Set(i, j, -kf.At(a, j))
			}
		}
	}

	var chol mat.Cholesky
	if chol.Factorize(e.QuuF) {
		law.cov = mat.NewSymDense(m, nil)
		if err := chol.InverseTo(law.cov); err != nil {
			law.cov = nil
		}
	}
	return law, nil
}

// updateValue propagates the value function through the step's control law
// and accumulates the expected reduction. Vxx is symmetrized.
func updateValue(e *Expansion, law stepLaw, dv *ExpectedReduction) (*mat.VecDense, *mat.Dense) {
	k, K := law.k, law.K

	var quuK mat.VecDense
	quuK.MulVec(e.Quu, k)
	dv[0] += mat.Dot(k, e.Qu)
	dv[1] += 0.5 * mat.Dot(k, &quuK)

	// Vx = Qx + KᵀQuu k + KᵀQu + Quxᵀk
	vx := mat.VecDenseCopyOf(e.Qx)
	var tmp mat.VecDense
	tmp.MulVec(K.T(), &quuK)
	vx.AddVec(vx, &tmp)
	tmp.MulVec(K.T(), e.Qu)
	vx.AddVec(vx, &tmp)
	tmp.MulVec(e.Qux.T(), k)
	vx.AddVec(vx, &tmp)

	// Vxx = Qxx + KᵀQuuK + KᵀQux + QuxᵀK
	vxx := mat.DenseCopyOf(e.Qxx)
	vxx.Add(vxx, sandwich(K, e.Quu, K))
	var kq mat.Dense
	kq.Mul(K.T(), e.Qux)
	vxx.Add(vxx, &kq)
	vxx.Add(vxx, kq.T())

	sym := symmetrize(vxx)
	return vx, mat.DenseCopyOf(sym)
}
