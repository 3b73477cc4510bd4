package ddp

import (
	"math"

	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/kl"
	"github.com/san-kum/trajopt/internal/problem"
	"gonum.org/v1/gonum/mat"
)

// KLStep is the dual search on η that keeps the divergence of each update
// from the reference distribution near Budget.
type KLStep struct {
	Budget     float64
	Eta        float64
	EtaMin     float64
	EtaMax     float64
	Divergence float64
	// Satisfied is true whenever the trust region is off. With it on, it
	// starts false and is set by each Update.
	Satisfied bool
}

func NewKLStep(o KLOptions) *KLStep {
	eta := o.Eta
	if eta <= 0 {
		eta = 1
	}
	return &KLStep{
		Budget:    o.Step,
		Eta:       eta,
		EtaMin:    0,
		EtaMax:    math.Inf(1),
		Satisfied: !o.Active(),
	}
}

func (k *KLStep) Active() bool { return k.Budget > 0 }

// Update records the divergence of the latest accepted distribution and
// moves η inside its bracket unless the divergence is within 10% of budget.
func (k *KLStep) Update(divergence float64) bool {
	k.Divergence = divergence
	if !k.Active() {
		k.Satisfied = true
		return true
	}

	switch {
	case math.Abs(divergence-k.Budget) < 0.1*k.Budget:
		k.Satisfied = true
	case divergence < k.Budget:
		k.Satisfied = false
		k.EtaMax = k.Eta
		k.Eta = math.Max(math.Sqrt(k.EtaMin*k.EtaMax), 0.1*k.EtaMax)
	default:
		k.Satisfied = false
		k.EtaMin = k.Eta
		k.Eta = math.Min(math.Sqrt(k.EtaMin*k.EtaMax), 10*k.EtaMin)
	}
	return k.Satisfied
}

// Perturb returns the bundle with costs replaced by c/η + c_kl. Dynamics
// terms are shared with d.
func (k *KLStep) Perturb(d *problem.Derivatives, e *kl.Expansion, steps int) *problem.Derivatives {
	inv := 1 / k.Eta
	out := &problem.Derivatives{
		Fx: d.Fx, Fu: d.Fu,
		Fxx: d.Fxx, Fxu: d.Fxu, Fuu: d.Fuu,
		Cx:  make([]*mat.VecDense, steps),
		Cu:  make([]*mat.VecDense, steps),
		Cxx: make([]*mat.Dense, steps),
		Cxu: make([]*mat.Dense, steps),
		Cuu: make([]*mat.Dense, steps),
	}
	for t := 0; t < steps; t++ {
		s := d.At(t)

		out.Cx[t] = mat.NewVecDense(s.Cx.Len(), nil)
		out.Cx[t].AddScaledVec(e.Cx[t], inv, s.Cx)
		out.Cu[t] = mat.NewVecDense(s.Cu.Len(), nil)
		out.Cu[t].AddScaledVec(e.Cu[t], inv, s.Cu)

		out.Cxx[t] = scaledSum(inv, s.Cxx, e.Cxx[t])
		out.Cuu[t] = scaledSum(inv, s.Cuu, e.Cuu[t])
		if s.Cxu != nil {
			out.Cxu[t] = scaledSum(inv, s.Cxu, e.Cxu[t])
		} else {
			out.Cxu[t] = mat.DenseCopyOf(e.Cxu[t])
		}
	}
	return out
}

func scaledSum(alpha float64, a, b mat.Matrix) *mat.Dense {
	var s mat.Dense
	s.Scale(alpha, a)
	s.Add(&s, b)
	return &s
}

// Objective is Σc/η + Σpenalty, the line-search objective with the trust
// region on.
func (k *KLStep) Objective(costs, penalty []float64) float64 {
	sum := 0.0
	for t, c := range costs {
		sum += c / k.Eta
		if t < len(penalty) {
			sum += penalty[t]
		}
	}
	return sum
}

// distribution pairs a trajectory with the gains and covariance of the
// backward pass that produced its control law.
func distribution(tr *dynamo.Trajectory, bw *backwardResult) (*kl.Distribution, error) {
	if bw == nil {
		return kl.NewDistribution(tr, nil, nil)
	}
	gains := bw.Law.Gains[:tr.Len()-1]
	return kl.NewDistribution(tr, gains, bw.Covariance)
}
