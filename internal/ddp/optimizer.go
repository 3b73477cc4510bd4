package ddp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/kl"
	"github.com/san-kum/trajopt/internal/logging"
	"github.com/san-kum/trajopt/internal/problem"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
)

// gradLambdaMax is the largest λ at which gradient convergence is accepted.
const gradLambdaMax = 1e-5

type Status int

const (
	StatusMaxIterations Status = iota
	StatusConvergedGradient
	StatusConvergedCost
	StatusRegularizationSaturated
	StatusCanceled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusConvergedGradient:
		return "converged (gradient)"
	case StatusConvergedCost:
		return "converged (cost)"
	case StatusRegularizationSaturated:
		return "regularization saturated"
	case StatusCanceled:
		return "canceled"
	case StatusFailed:
		return "failed"
	default:
		return "max iterations"
	}
}

func (s Status) Converged() bool {
	return s == StatusConvergedGradient || s == StatusConvergedCost
}

// Result is what Solve returns on every terminal state: the best accepted
// trajectory, the last control law and value function, and the full trace.
type Result struct {
	Status     Status
	Trajectory *dynamo.Trajectory
	Law        ControlLaw
	Value      ValueFunction
	Trace      Trace
	// Iterations counts accepted iterations.
	Iterations int

	Lambda      float64
	Eta         float64
	Divergence  float64
	KLSatisfied bool
	// Distribution is the trajectory distribution of the result, usable as
	// the reference of a following trust-region solve.
	Distribution *kl.Distribution
}

func (r *Result) Cost() float64 { return r.Trajectory.TotalCost() }

type Optimizer struct {
	p      problem.Problem
	opts   Options
	log    *zap.Logger
	detail bool
}

func New(p problem.Problem, opts Options) (*Optimizer, error) {
	opts.withDefaults()
	if err := opts.validate(p.ControlDim()); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logging.Must(opts.Verbosity)
	}
	return &Optimizer{
		p:      p,
		opts:   opts,
		log:    log,
		detail: opts.Verbosity >= 3,
	}, nil
}

func (o *Optimizer) Options() Options { return o.opts }

// initialTrajectory adopts a pre-rolled trajectory or rolls out α·u0 for each
// step size until one stays inside the divergence limit.
func (o *Optimizer) initialTrajectory(x0 dynamo.State, u0 []dynamo.Control) (*dynamo.Trajectory, error) {
	n, m := o.p.StateDim(), o.p.ControlDim()

	if it := o.opts.InitialTrajectory; it != nil {
		steps := it.Len()
		if steps < 2 {
			return nil, configErr("InitialTrajectory", "horizon needs at least two steps")
		}
		if err := it.Validate(steps, n, m); err != nil {
			return nil, &ConfigError{Field: "InitialTrajectory", Reason: "malformed", Err: err}
		}
		if !it.IsValid(o.opts.DivergenceLimit) {
			return nil, ErrInitialDivergence
		}
		return it.Clone(), nil
	}

	if len(x0) != n {
		return nil, &ConfigError{Field: "x0", Reason: fmt.Sprintf("want %d entries", n), Err: dynamo.ErrDimensionMismatch}
	}
	if len(u0) < 2 {
		return nil, configErr("u0", "horizon needs at least two steps")
	}
	for t, u := range u0 {
		if len(u) != m {
			return nil, &ConfigError{Field: "u0", Reason: fmt.Sprintf("control %d has %d entries, want %d", t, len(u), m), Err: dynamo.ErrDimensionMismatch}
		}
	}

	us := make([]dynamo.Control, len(u0))
	for _, alpha := range o.opts.Alphas {
		for t, u := range u0 {
			us[t] = make(dynamo.Control, m)
			for i := range u {
				us[t][i] = alpha * u[i]
			}
			if b := o.opts.Bounds; b != nil {
				us[t].Clamp(b.Lower, b.Upper)
			}
		}
		tr := problem.Rollout(o.p, x0, us)
		if tr.IsValid(o.opts.DivergenceLimit) {
			return tr, nil
		}
	}
	return nil, ErrInitialDivergence
}

// gradNorm is the mean over optimized steps of max_i |k_i| / (|u_i| + 1).
func gradNorm(law ControlLaw, us []dynamo.Control) float64 {
	steps := len(us) - 1
	if steps <= 0 {
		return 0
	}
	ratio := make([]float64, len(us[0]))
	sum := 0.0
	for t := 0; t < steps; t++ {
		for i, u := range us[t] {
			ratio[i] = math.Abs(law.Feedforward[t].AtVec(i)) / (math.Abs(u) + 1)
		}
		sum += floats.Max(ratio)
	}
	return sum / float64(steps)
}

// Solve optimizes from x0 and u0 (ignored when Options.InitialTrajectory is
// set). The result is nil only for configuration errors and initial
// divergence; every other terminal state returns the best trajectory found,
// together with ErrRegularizationSaturated, a context error or a collaborator
// error where one ended the run.
func (o *Optimizer) Solve(ctx context.Context, x0 dynamo.State, u0 []dynamo.Control) (*Result, error) {
	nominal, err := o.initialTrajectory(x0, u0)
	if err != nil {
		return nil, err
	}
	x0 = nominal.States[0].Clone()
	steps := nominal.Len()
	n, m := o.p.StateDim(), o.p.ControlDim()

	reg := NewRegularization(o.opts)
	klc := NewKLStep(o.opts.KL)

	objective := func(tr *dynamo.Trajectory) float64 { return tr.TotalCost() }
	if klc.Active() {
		ev, ref := o.opts.KL.Evaluator, o.opts.KL.Reference
		if ref.Len() != steps {
			return nil, configErr("KL.Reference", fmt.Sprintf("horizon %d, trajectory has %d", ref.Len(), steps))
		}
		objective = func(tr *dynamo.Trajectory) float64 {
			return klc.Objective(tr.Costs, ev.Penalty(ref, tr.States, tr.Controls))
		}
	}

	res := &Result{
		Status:     StatusMaxIterations,
		Trajectory: nominal,
		Law:        newControlLaw(steps, n, m),
	}

	o.log.Debug("optimizing",
		zap.Int("horizon", steps),
		zap.Int("state_dim", n),
		zap.Int("control_dim", m),
		zap.Float64("cost", nominal.TotalCost()),
		zap.Bool("bounded", o.opts.Bounds != nil),
		zap.Bool("kl", klc.Active()))

	var (
		deriv    *problem.Derivatives
		accBW    *backwardResult // backward pass behind the accepted trajectory
		changed  = true
		accepted int
		runErr   error
	)

loop:
	for accepted < o.opts.MaxIter {
		if err := ctx.Err(); err != nil {
			res.Status, runErr = StatusCanceled, err
			break
		}
		rec := Record{Iteration: accepted + 1, Eta: klc.Eta, Divergence: klc.Divergence}

		if changed {
			start := time.Now()
			deriv, err = o.p.Differentiate(nominal.States, nominal.Controls)
			if err == nil {
				err = deriv.Validate(steps, n, m)
			}
			if err != nil {
				res.Status, runErr = StatusFailed, fmt.Errorf("ddp: differentiate: %w", err)
				break
			}
			rec.DerivTime = time.Since(start)
			changed = false
		}

		bundle := deriv
		if klc.Active() {
			cand, err := distribution(nominal, accBW)
			var e *kl.Expansion
			if err == nil {
				e, err = o.opts.KL.Evaluator.Expand(cand, o.opts.KL.Reference)
			}
			if err != nil {
				res.Status, runErr = StatusFailed, fmt.Errorf("ddp: kl expansion: %w", err)
				break
			}
			bundle = klc.Perturb(deriv, e, steps)
		}

		start := time.Now()
		var bw *backwardResult
		for {
			bw, err = o.backwardPass(nominal, bundle, reg.Lambda)
			if err == nil {
				break
			}
			if !errors.Is(err, ErrDiverged) {
				res.Status, runErr = StatusFailed, err
				break loop
			}
			rec.BackwardRetries++
			if o.detail {
				o.log.Debug("backward pass diverged", zap.Error(err), zap.Float64("lambda", reg.Lambda))
			}
			if serr := reg.Increase(); serr != nil {
				rec.BackwardTime = time.Since(start)
				rec.Lambda, rec.DLambda = reg.Lambda, reg.DLambda
				rec.Cost = nominal.TotalCost()
				res.Trace = append(res.Trace, rec)
				res.Status, runErr = StatusRegularizationSaturated, serr
				break loop
			}
		}
		rec.BackwardTime = time.Since(start)
		res.Law, res.Value = bw.Law, bw.Value

		rec.GradNorm = gradNorm(bw.Law, nominal.Controls)
		if rec.GradNorm < o.opts.TolGrad && reg.Lambda < gradLambdaMax && klc.Satisfied {
			reg.Decrease()
			rec.Lambda, rec.DLambda = reg.Lambda, reg.DLambda
			rec.Cost = nominal.TotalCost()
			res.Trace = append(res.Trace, rec)
			res.Status = StatusConvergedGradient
			break
		}

		ls := o.lineSearch(x0, nominal, bw.Law, bw.DV, objective)
		rec.ForwardTime = ls.Elapsed
		rec.Alpha, rec.Improvement, rec.Expected, rec.Reduction = ls.Alpha, ls.Actual, ls.Expected, ls.Z
		rec.SignFallbacks = ls.SignFallbacks

		if !ls.Accepted {
			rec.Cost = nominal.TotalCost()
			serr := reg.Increase()
			rec.Lambda, rec.DLambda = reg.Lambda, reg.DLambda
			res.Trace = append(res.Trace, rec)
			o.log.Debug("iteration rejected",
				zap.Int("iteration", rec.Iteration),
				zap.Error(ErrLineSearchFailed),
				zap.Float64("lambda", reg.Lambda))
			if serr != nil {
				res.Status, runErr = StatusRegularizationSaturated, serr
				break
			}
			continue
		}

		reg.Decrease()
		nominal = ls.Trajectory
		changed = true
		accBW = bw
		accepted++

		if klc.Active() {
			cand, err := distribution(nominal, bw)
			div := math.Inf(1)
			if err == nil {
				div = o.opts.KL.Evaluator.Divergence(cand, o.opts.KL.Reference)
			}
			klc.Update(div)
		}

		rec.Accepted = true
		rec.Cost = nominal.TotalCost()
		rec.Lambda, rec.DLambda = reg.Lambda, reg.DLambda
		rec.Divergence = klc.Divergence
		res.Trace = append(res.Trace, rec)
		res.Trajectory = nominal

		o.log.Debug("iteration",
			zap.Int("iteration", rec.Iteration),
			zap.Float64("cost", rec.Cost),
			zap.Float64("reduction", rec.Improvement),
			zap.Float64("expected", rec.Expected),
			zap.Float64("gradient", rec.GradNorm),
			zap.Float64("log10_lambda", math.Log10(reg.Lambda)),
			zap.Float64("alpha", rec.Alpha))
		o.plot(res, deriv, PlotIteration)

		if ls.Actual < o.opts.TolFun && klc.Satisfied {
			res.Status = StatusConvergedCost
			break
		}
	}

	res.Iterations = accepted
	res.Lambda = reg.Lambda
	res.Eta = klc.Eta
	res.Divergence = klc.Divergence
	res.KLSatisfied = klc.Satisfied
	if dist, err := distribution(nominal, accBW); err == nil {
		res.Distribution = dist
	}

	o.summarize(res, klc)
	o.plot(res, deriv, PlotFinal)
	return res, runErr
}

func (o *Optimizer) plot(res *Result, deriv *problem.Derivatives, flag PlotFlag) {
	if o.opts.Plotter == nil {
		return
	}
	o.opts.Plotter.Plot(&Snapshot{
		Trajectory:  res.Trajectory,
		Law:         res.Law,
		Value:       res.Value,
		Derivatives: deriv,
		Trace:       res.Trace,
	}, flag)
}

func (o *Optimizer) summarize(res *Result, klc *KLStep) {
	deriv, backward, forward := res.Trace.Timing()
	fields := []zap.Field{
		zap.Stringer("status", res.Status),
		zap.Int("iterations", res.Iterations),
		zap.Int("attempts", len(res.Trace)),
		zap.Float64("cost", res.Cost()),
		zap.Float64("lambda", res.Lambda),
		zap.Duration("derivatives", deriv),
		zap.Duration("backward", backward),
		zap.Duration("forward", forward),
	}
	if klc.Active() {
		fields = append(fields,
			zap.Float64("eta", klc.Eta),
			zap.Float64("divergence", klc.Divergence),
			zap.Float64("budget", klc.Budget))
		if !klc.Satisfied {
			o.log.Warn("divergence outside budget tolerance", fields...)
			return
		}
	}
	switch res.Status {
	case StatusRegularizationSaturated, StatusFailed:
		o.log.Warn("optimization stopped", fields...)
	default:
		o.log.Info("optimization finished", fields...)
	}
}
