package ddp

import (
	"time"

	"github.com/san-kum/trajopt/internal/dynamo"
	"go.uber.org/zap"
)

type lineSearchResult struct {
	Trajectory *dynamo.Trajectory
	Accepted   bool
	Alpha      float64
	// Objective is the line-search objective of the accepted trajectory.
	Objective float64
	Actual    float64
	Expected  float64
	Z         float64
	// SignFallbacks counts candidates scored by sign(actual) because the
	// expected reduction was not positive.
	SignFallbacks int
	Elapsed       time.Duration
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// lineSearch tries the step sizes in order and keeps the first whose
// reduction ratio exceeds ZMin. Rollouts that leave the divergence limit are
// skipped.
func (o *Optimizer) lineSearch(x0 dynamo.State, nominal *dynamo.Trajectory, law ControlLaw, dv ExpectedReduction, objective func(*dynamo.Trajectory) float64) lineSearchResult {
	start := time.Now()
	old := objective(nominal)

	res := lineSearchResult{}
	for _, alpha := range o.opts.Alphas {
		cand := o.forwardPass(x0, nominal, law, alpha)
		if !cand.IsValid(o.opts.DivergenceLimit) {
			if o.detail {
				o.log.Debug("rollout diverged", zap.Float64("alpha", alpha))
			}
			continue
		}

		value := objective(cand)
		actual := old - value
		expected := dv.At(alpha)
		var z float64
		if expected > 0 {
			z = actual / expected
		} else {
			z = sign(actual)
			if res.SignFallbacks == 0 {
				o.log.Warn("non-positive expected reduction",
					zap.Error(ErrNonPositiveExpected),
					zap.Float64("alpha", alpha),
					zap.Float64("expected", expected),
					zap.Float64("actual", actual))
			}
			res.SignFallbacks++
		}
		if o.detail {
			o.log.Debug("line search candidate",
				zap.Float64("alpha", alpha),
				zap.Float64("actual", actual),
				zap.Float64("expected", expected),
				zap.Float64("z", z))
		}

		res.Alpha, res.Actual, res.Expected, res.Z = alpha, actual, expected, z
		if z > o.opts.ZMin {
			res.Trajectory = cand
			res.Accepted = true
			res.Objective = value
			break
		}
	}
	res.Elapsed = time.Since(start)
	return res
}
