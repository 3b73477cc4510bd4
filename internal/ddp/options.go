package ddp

import (
	"math"

	"github.com/san-kum/trajopt/internal/boxqp"
	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/kl"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// BoxQP solves min ½xᵀHx + gᵀx subject to lower ≤ x ≤ upper.
type BoxQP interface {
	Solve(h *mat.SymDense, g *mat.VecDense, lower, upper, warm []float64) boxqp.Solution
}

// DivergenceEvaluator measures and expands the divergence of a candidate
// trajectory distribution from a reference.
type DivergenceEvaluator interface {
	Divergence(cand, ref *kl.Distribution) float64
	Expand(cand, ref *kl.Distribution) (*kl.Expansion, error)
	Penalty(ref *kl.Distribution, xs []dynamo.State, us []dynamo.Control) []float64
}

// Bounds are per-dimension control limits.
type Bounds struct {
	Lower, Upper []float64
}

type KLOptions struct {
	// Step is the divergence budget. Zero disables the trust region.
	Step float64
	// Eta is the initial dual variable.
	Eta       float64
	Reference *kl.Distribution
	// Evaluator defaults to kl.Gaussian.
	Evaluator DivergenceEvaluator
}

func (k KLOptions) Active() bool { return k.Step > 0 }

type Options struct {
	// Bounds limits the controls; nil leaves them free.
	Bounds *Bounds
	// Alphas is the descending step-size schedule of the line search.
	Alphas []float64

	TolFun  float64
	TolGrad float64
	MaxIter int

	Lambda       float64
	DLambda      float64
	LambdaFactor float64
	LambdaMin    float64
	LambdaMax    float64
	// RegType 1 regularizes Quu, 2 regularizes Vxx before propagation.
	RegType int
	// ZMin is the minimal accepted ratio of actual to expected reduction.
	ZMin float64

	KL KLOptions

	Verbosity int
	// Diff measures state deviations for the feedback term.
	Diff dynamo.DiffFunc
	// DivergenceLimit bounds |x| in a valid rollout.
	DivergenceLimit float64
	// InitialTrajectory, when set, replaces the initial rollout. It must
	// carry its per-step costs.
	InitialTrajectory *dynamo.Trajectory

	BoxQP   BoxQP
	Plotter Plotter
	Logger  *zap.Logger
}

// DefaultAlphas returns 10^linspace(0, -3, 11).
func DefaultAlphas() []float64 {
	a := make([]float64, 11)
	floats.Span(a, 0, -3)
	for i := range a {
		a[i] = math.Pow(10, a[i])
	}
	return a
}

func DefaultOptions() Options {
	return Options{
		Alphas:          DefaultAlphas(),
		TolFun:          1e-7,
		TolGrad:         1e-4,
		MaxIter:         500,
		Lambda:          1,
		DLambda:         1,
		LambdaFactor:    1.6,
		LambdaMin:       1e-6,
		LambdaMax:       1e10,
		RegType:         1,
		ZMin:            0,
		KL:              KLOptions{Eta: 1},
		Diff:            dynamo.Subtract,
		DivergenceLimit: 1e8,
	}
}

func (o *Options) withDefaults() {
	if o.Diff == nil {
		o.Diff = dynamo.Subtract
	}
	if o.DivergenceLimit == 0 {
		o.DivergenceLimit = 1e8
	}
	if o.KL.Active() {
		if o.KL.Eta == 0 {
			o.KL.Eta = 1
		}
		if o.KL.Evaluator == nil {
			o.KL.Evaluator = kl.Gaussian{}
		}
	}
	if o.Bounds != nil && o.BoxQP == nil {
		o.BoxQP = boxqp.New(boxqp.DefaultOptions())
	}
}

// validate checks the options that do not depend on the problem horizon.
func (o *Options) validate(m int) error {
	switch {
	case len(o.Alphas) == 0:
		return configErr("Alphas", "empty step-size schedule")
	case o.MaxIter <= 0:
		return configErr("MaxIter", "must be positive")
	case o.RegType != 1 && o.RegType != 2:
		return configErr("RegType", "must be 1 or 2")
	case o.LambdaFactor <= 1:
		return configErr("LambdaFactor", "must exceed 1")
	case o.Lambda < 0 || o.LambdaMin < 0:
		return configErr("Lambda", "must be non-negative")
	case o.DLambda <= 0:
		return configErr("DLambda", "must be positive")
	case o.LambdaMax <= o.LambdaMin:
		return configErr("LambdaMax", "must exceed LambdaMin")
	case o.TolFun < 0 || o.TolGrad < 0:
		return configErr("Tolerance", "must be non-negative")
	case o.DivergenceLimit <= 0:
		return configErr("DivergenceLimit", "must be positive")
	case o.KL.Step < 0:
		return configErr("KL.Step", "must be non-negative")
	}
	for _, a := range o.Alphas {
		if a <= 0 || math.IsNaN(a) {
			return configErr("Alphas", "step sizes must be positive")
		}
	}
	if o.KL.Active() {
		if o.KL.Reference == nil {
			return configErr("KL.Reference", "required when the divergence budget is positive")
		}
		if o.KL.Eta <= 0 {
			return configErr("KL.Eta", "must be positive")
		}
	}
	if b := o.Bounds; b != nil {
		if len(b.Lower) != m || len(b.Upper) != m {
			return configErr("Bounds", "need one lower and one upper limit per control dimension")
		}
		for i := range b.Lower {
			if b.Lower[i] > b.Upper[i] {
				return configErr("Bounds", "lower limit above upper limit")
			}
		}
	}
	return nil
}
