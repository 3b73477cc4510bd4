package ddp

import (
	"github.com/san-kum/trajopt/internal/problem"
	"gonum.org/v1/gonum/mat"
)

// Expansion is the quadratic model of the action-value function at one step.
// QuxReg and QuuF are the regularized blocks used to solve for the control law;
// the unregularized blocks drive the value update.
type Expansion struct {
	Qx, Qu        *mat.VecDense
	Qxx, Qux, Quu *mat.Dense

	QuxReg *mat.Dense
	QuuF   *mat.SymDense
}

// sandwich returns aᵀ v b.
func sandwich(a, v, b mat.Matrix) *mat.Dense {
	var vb, out mat.Dense
	vb.Mul(v, b)
	out.Mul(a.T(), &vb)
	return &out
}

func addScaled(dst *mat.Dense, alpha float64, a mat.Matrix) {
	var s mat.Dense
	s.Scale(alpha, a)
	dst.Add(dst, &s)
}

func addDiag(dst *mat.Dense, lambda float64) {
	r, _ := dst.Dims()
	for i := 0; i < r; i++ {
		dst.Set(i, i, dst.At(i, i)+lambda)
	}
}

// symmetrize returns ½(a + aᵀ).
func symmetrize(a mat.Matrix) *mat.SymDense {
	n, _ := a.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	return s
}

// expand builds the action-value expansion at step t from the value function
// at t+1. Absent second-order dynamics or cross-cost terms contribute zero,
// so one path serves every derivative shape.
func expand(vx *mat.VecDense, vxx *mat.Dense, d problem.StepDerivatives, lambda float64, regType int) *Expansion {
	n, m := d.Fu.Dims()

	e := &Expansion{
		Qx: mat.NewVecDense(n, nil),
		Qu: mat.NewVecDense(m, nil),
	}
	e.Qx.MulVec(d.Fx.T(), vx)
	e.Qx.AddVec(e.Qx, d.Cx)
	e.Qu.MulVec(d.Fu.T(), vx)
	e.Qu.AddVec(e.Qu, d.Cu)

	// Second-order dynamics: Σⱼ Vx'ⱼ ∇²fⱼ.
	soXX := mat.NewDense(n, n, nil)
	soUX := mat.NewDense(m, n, nil)
	soUU := mat.NewDense(m, m, nil)
	for j := 0; j < n; j++ {
		w := vx.AtVec(j)
		if w == 0 {
			continue
		}
		if j < len(d.Fxx) {
			addScaled(soXX, w, d.Fxx[j])
		}
		if j < len(d.Fxu) {
			addScaled(soUX, w, d.Fxu[j].T())
		}
		if j < len(d.Fuu) {
			addScaled(soUU, w, d.Fuu[j])
		}
	}

	cross := func(v mat.Matrix) *mat.Dense {
		q := sandwich(d.Fu, v, d.Fx)
		if d.Cxu != nil {
			q.Add(q, d.Cxu.T())
		}
		q.Add(q, soUX)
		return q
	}

	e.Qxx = sandwich(d.Fx, vxx, d.Fx)
	e.Qxx.Add(e.Qxx, d.Cxx)
	e.Qxx.Add(e.Qxx, soXX)

	e.Quu = sandwich(d.Fu, vxx, d.Fu)
	e.Quu.Add(e.Quu, d.Cuu)
	e.Quu.Add(e.Quu, soUU)

	e.Qux = cross(vxx)

	vxxReg := mat.Matrix(vxx)
	if regType == 2 && lambda != 0 {
		r := mat.DenseCopyOf(vxx)
		addDiag(r, lambda)
		vxxReg = r
	}

	e.QuxReg = cross(vxxReg)

	quuF := sandwich(d.Fu, vxxReg, d.Fu)
	quuF.Add(quuF, d.Cuu)
	quuF.Add(quuF, soUU)
	if regType == 1 {
		addDiag(quuF, lambda)
	}
	e.QuuF = symmetrize(quuF)
	return e
}
