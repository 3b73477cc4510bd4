package kl

import (
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/trajopt/internal/dynamo"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrShape indicates distributions with mismatched horizons or dimensions.
	ErrShape = errors.New("kl: distribution shape mismatch")

	// ErrCovariance indicates a covariance that is not positive definite.
	ErrCovariance = errors.New("kl: covariance not positive definite")
)

// Distribution is a linear-Gaussian trajectory distribution: at step t the
// control is distributed as N(ū_t + K_t (x - x̄_t), Σ_t). The last step carries
// no control law; its gain is zero and its covariance the identity.
type Distribution struct {
	States     []dynamo.State
	Controls   []dynamo.Control
	Gains      []*mat.Dense
	Covariance []*mat.SymDense
}

// NewDistribution pairs a trajectory with its feedback gains and covariance
// proxy. Missing trailing entries (the terminal step) are filled with a zero
// gain and identity covariance.
func NewDistribution(tr *dynamo.Trajectory, gains []*mat.Dense, cov []*mat.SymDense) (*Distribution, error) {
	steps := tr.Len()
	if steps == 0 {
		return nil, fmt.Errorf("%w: empty trajectory", ErrShape)
	}
	n, m := len(tr.States[0]), len(tr.Controls[0])
	if len(gains) > steps || len(cov) > steps {
		return nil, fmt.Errorf("%w: %d gains and %d covariances for %d steps", ErrShape, len(gains), len(cov), steps)
	}

	d := &Distribution{
		States:     make([]dynamo.State, steps),
		Controls:   make([]dynamo.Control, steps),
		Gains:      make([]*mat.Dense, steps),
		Covariance: make([]*mat.SymDense, steps),
	}
	for t := 0; t < steps; t++ {
		d.States[t] = tr.States[t].Clone()
		d.Controls[t] = tr.Controls[t].Clone()
		if t < len(gains) && gains[t] != nil {
			d.Gains[t] = mat.DenseCopyOf(gains[t])
		} else {
			d.Gains[t] = mat.NewDense(m, n, nil)
		}
		if t < len(cov) && cov[t] != nil {
			d.Covariance[t] = mat.NewSymDense(m, nil)
			d.Covariance[t].CopySym(cov[t])
		} else {
			d.Covariance[t] = identity(m)
		}
	}
	return d, nil
}

func (d *Distribution) Len() int { return len(d.States) }

// Mean returns ū_t + K_t (x - x̄_t).
func (d *Distribution) Mean(t int, x dynamo.State) *mat.VecDense {
	dx := x.Sub(d.States[t])
	mean := mat.NewVecDense(len(d.Controls[t]), d.Controls[t].Clone())
	var fb mat.VecDense
	fb.MulVec(d.Gains[t], mat.NewVecDense(len(dx), dx))
	mean.AddVec(mean, &fb)
	return mean
}

func identity(m int) *mat.SymDense {
	s := mat.NewSymDense(m, nil)
	for i := 0; i < m; i++ {
		s.SetSym(i, i, 1)
	}
	return s
}

// Expansion is the quadratic expansion of the reference policy's negative
// log-likelihood along a candidate trajectory, per step.
type Expansion struct {
	Cx, Cu        []*mat.VecDense
	Cxx, Cxu, Cuu []*mat.Dense
}

// Gaussian evaluates divergences between linear-Gaussian trajectory
// distributions. Divergence sums, over the controlled steps, the KL divergence
// of the candidate's control conditional from the reference's, both evaluated
// on the candidate's nominal states.
type Gaussian struct{}

func checkPair(cand, ref *Distribution) error {
	if cand == nil || ref == nil {
		return fmt.Errorf("%w: nil distribution", ErrShape)
	}
	if cand.Len() != ref.Len() {
		return fmt.Errorf("%w: horizons %d and %d", ErrShape, cand.Len(), ref.Len())
	}
	if cand.Len() > 0 && len(cand.Controls[0]) != len(ref.Controls[0]) {
		return fmt.Errorf("%w: control dimensions differ", ErrShape)
	}
	return nil
}

func (Gaussian) Divergence(cand, ref *Distribution) float64 {
	if err := checkPair(cand, ref); err != nil {
		return math.Inf(1)
	}
	steps := cand.Len() - 1
	if steps <= 0 {
		return 0
	}

	total := 0.0
	for t := 0; t < steps; t++ {
		v, err := stepDivergence(cand, ref, t)
		if err != nil {
			return math.Inf(1)
		}
		total += v
	}
	return total
}

func stepDivergence(cand, ref *Distribution, t int) (float64, error) {
	m := len(cand.Controls[t])

	var cr, cc mat.Cholesky
	if !cr.Factorize(ref.Covariance[t]) || !cc.Factorize(cand.Covariance[t]) {
		return 0, ErrCovariance
	}

	// tr(Σr⁻¹ Σc)
	var sol mat.Dense
	if err := cr.SolveTo(&sol, cand.Covariance[t]); err != nil {
		return 0, err
	}
	trace := mat.Trace(&sol)

	diff := ref.Mean(t, cand.States[t])
	diff.SubVec(diff, mat.NewVecDense(m, cand.Controls[t].Clone()))
	var w mat.VecDense
	if err := cr.SolveVecTo(&w, diff); err != nil {
		return 0, err
	}
	mahal := mat.Dot(diff, &w)

	return 0.5 * (trace + mahal - float64(m) + cr.LogDet() - cc.LogDet()), nil
}

// precision returns Σr⁻¹ at step t.
func precision(ref *Distribution, t int) (*mat.SymDense, error) {
	var c mat.Cholesky
	if !c.Factorize(ref.Covariance[t]) {
		return nil, ErrCovariance
	}
	var inv mat.SymDense
	if err := c.InverseTo(&inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// residual returns u - (ū_t + K_t (x - x̄_t)) under the reference.
func residual(ref *Distribution, t int, x dynamo.State, u dynamo.Control) *mat.VecDense {
	r := mat.NewVecDense(len(u), u.Clone())
	r.SubVec(r, ref.Mean(t, x))
	return r
}

// Expand returns derivatives of ½ rᵀ Σr⁻¹ r with r the reference residual,
// evaluated along the candidate's nominal trajectory. The last step is zero.
func (Gaussian) Expand(cand, ref *Distribution) (*Expansion, error) {
	if err := checkPair(cand, ref); err != nil {
		return nil, err
	}
	steps := cand.Len()
	n, m := len(cand.States[0]), len(cand.Controls[0])

	e := &Expansion{
		Cx:  make([]*mat.VecDense, steps),
		Cu:  make([]*mat.VecDense, steps),
		Cxx: make([]*mat.Dense, steps),
		Cxu: make([]*mat.Dense, steps),
		Cuu: make([]*mat.Dense, steps),
	}
	for t := 0; t < steps; t++ {
		e.Cx[t] = mat.NewVecDense(n, nil)
		e.Cu[t] = mat.NewVecDense(m, nil)
		e.Cxx[t] = mat.NewDense(n, n, nil)
		e.Cxu[t] = mat.NewDense(n, m, nil)
		e.Cuu[t] = mat.NewDense(m, m, nil)
		if t == steps-1 {
			continue
		}

		prec, err := precision(ref, t)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", t, err)
		}
		k := ref.Gains[t]
		r := residual(ref, t, cand.States[t], cand.Controls[t])

		e.Cu[t].MulVec(prec, r)
		e.Cx[t].MulVec(k.T(), e.Cu[t])
		e.Cx[t].ScaleVec(-1, e.Cx[t])

		e.Cuu[t].Copy(prec)
		var km mat.Dense
		km.Mul(k.T(), prec)
		e.Cxu[t].Scale(-1, &km)
		e.Cxx[t].Mul(&km, k)
	}
	return e, nil
}

// Penalty returns ½ rᵀ Σr⁻¹ r per step for the trajectory (xs, us); the
// objective whose expansion is Expand.
func (Gaussian) Penalty(ref *Distribution, xs []dynamo.State, us []dynamo.Control) []float64 {
	out := make([]float64, len(xs))
	for t := 0; t < len(xs)-1 && t < ref.Len()-1; t++ {
		prec, err := precision(ref, t)
		if err != nil {
			out[t] = math.Inf(1)
			continue
		}
		r := residual(ref, t, xs[t], us[t])
		out[t] = 0.5 * mat.Inner(r, prec, r)
	}
	return out
}
