package ddp

import "math"

// Regularization is the Levenberg-Marquardt state of one Solve call.
type Regularization struct {
	Lambda  float64
	DLambda float64
	Factor  float64
	Min     float64
	Max     float64
}

func NewRegularization(o Options) *Regularization {
	return &Regularization{
		Lambda:  o.Lambda,
		DLambda: o.DLambda,
		Factor:  o.LambdaFactor,
		Min:     o.LambdaMin,
		Max:     o.LambdaMax,
	}
}

// Increase grows λ after a divergence or a failed line search and reports
// ErrRegularizationSaturated once λ exceeds Max.
func (r *Regularization) Increase() error {
	r.DLambda = math.Max(r.DLambda*r.Factor, r.Factor)
	r.Lambda = math.Max(r.Lambda*r.DLambda, r.Min)
	if r.Lambda > r.Max {
		return ErrRegularizationSaturated
	}
	return nil
}

// Decrease shrinks λ after an accepted step. Below Min it switches off.
func (r *Regularization) Decrease() {
	r.DLambda = math.Min(r.DLambda/r.Factor, 1/r.Factor)
	if r.Lambda > r.Min {
		r.Lambda *= r.DLambda
	} else {
		r.Lambda = 0
	}
}
