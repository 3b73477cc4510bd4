package experiment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/san-kum/trajopt/internal/control"
	"github.com/san-kum/trajopt/internal/ddp"
	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/kl"
	"github.com/san-kum/trajopt/internal/problem"
	"github.com/san-kum/trajopt/internal/sim"
)

// ValidationConfig describes the closed-loop check of the optimized policy.
type ValidationConfig struct {
	// Runs is the ensemble size; zero skips validation.
	Runs         int
	Noise        float64
	InitialNoise float64
	Seed         int64
	// Threshold is the goal deviation counted as stable.
	Threshold float64
	Workers   int
	// Baseline also replays the optimized controls open loop on the same
	// perturbations.
	Baseline bool
}

type Config struct {
	Problem string
	Params  Params
	// Steps overrides the horizon of the problem when positive.
	Steps int
	// X0 overrides the initial state of the problem when set.
	X0 []float64
	// U0 is the constant initial control.
	U0         []float64
	Options    ddp.Options
	Validation ValidationConfig
}

// Outcome of an experiment. SolveErr holds a non-fatal optimizer error such
// as regularization saturation; the result is still usable.
type Outcome struct {
	Instance   *Instance
	Result     *ddp.Result
	SolveErr   error
	Validation []*sim.Result
	Summary    sim.Summary
	// Baseline summarizes the open-loop replay; zero unless requested.
	Baseline sim.Summary
	Elapsed  time.Duration
}

type Experiment struct {
	cfg       Config
	inst      *Instance
	optimizer *ddp.Optimizer
}

// New builds the problem named in cfg and an optimizer for it. When the
// options carry no bounds, the problem's default control limits apply. An
// active trust region without a reference is measured against the initial
// open-loop rollout.
func New(reg *Registry, cfg Config) (*Experiment, error) {
	inst, err := reg.GetProblem(cfg.Problem, cfg.Params)
	if err != nil {
		return nil, err
	}
	if cfg.Steps > 0 {
		inst.Steps = cfg.Steps
	}
	if len(cfg.X0) > 0 {
		if len(cfg.X0) != inst.Problem.StateDim() {
			return nil, fmt.Errorf("%w: initial state has %d entries, %s needs %d",
				dynamo.ErrDimensionMismatch, len(cfg.X0), inst.Name, inst.Problem.StateDim())
		}
		inst.X0 = dynamo.State(cfg.X0).Clone()
	}
	if len(cfg.U0) > 0 && len(cfg.U0) != inst.Problem.ControlDim() {
		return nil, fmt.Errorf("%w: initial control has %d entries, %s needs %d",
			dynamo.ErrDimensionMismatch, len(cfg.U0), inst.Name, inst.Problem.ControlDim())
	}
	if cfg.Options.Bounds == nil && inst.Lower != nil {
		cfg.Options.Bounds = &ddp.Bounds{Lower: inst.Lower, Upper: inst.Upper}
	}
	if cfg.Options.Diff == nil {
		cfg.Options.Diff = inst.Diff
	}

	e := &Experiment{cfg: cfg, inst: inst}
	if cfg.Options.KL.Active() && cfg.Options.KL.Reference == nil {
		ref, err := kl.NewDistribution(problem.Rollout(inst.Problem, inst.X0, e.InitialControls()), nil, nil)
		if err != nil {
			return nil, err
		}
		e.cfg.Options.KL.Reference = ref
	}

	opt, err := ddp.New(inst.Problem, e.cfg.Options)
	if err != nil {
		return nil, err
	}
	e.optimizer = opt
	return e, nil
}

func (e *Experiment) Instance() *Instance { return e.inst }

// InitialControls is the constant initial control sequence over the horizon.
func (e *Experiment) InitialControls() []dynamo.Control {
	m := e.inst.Problem.ControlDim()
	us := make([]dynamo.Control, e.inst.Steps)
	for i := range us {
		us[i] = make(dynamo.Control, m)
		copy(us[i], e.cfg.U0)
	}
	return us
}

// Run optimizes the trajectory and, when configured, evaluates the resulting
// feedback policy on a perturbed ensemble.
func (e *Experiment) Run(ctx context.Context) (*Outcome, error) {
	start := time.Now()
	out := &Outcome{Instance: e.inst}

	res, err := e.optimizer.Solve(ctx, e.inst.X0, e.InitialControls())
	out.Result = res
	out.Elapsed = time.Since(start)
	if err != nil {
		if res == nil || !errors.Is(err, ddp.ErrRegularizationSaturated) {
			return out, err
		}
		out.SolveErr = err
	}

	if e.cfg.Validation.Runs > 0 {
		if err := e.validate(ctx, out); err != nil {
			return out, err
		}
	}
	out.Elapsed = time.Since(start)
	return out, nil
}

func (e *Experiment) validate(ctx context.Context, out *Outcome) error {
	v := e.cfg.Validation
	res := out.Result

	policy, err := control.NewTracking(res.Trajectory, res.Law.Gains)
	if err != nil {
		return err
	}
	policy.Diff = e.inst.Diff
	if b := e.optimizer.Options().Bounds; b != nil {
		policy.WithBounds(b.Lower, b.Upper)
	}

	threshold := v.Threshold
	if threshold == 0 {
		threshold = 0.5
	}
	results, err := e.ensemble(ctx, policy, res.Trajectory.States, threshold)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	out.Validation = results
	out.Summary = sim.Summarize(results)

	if v.Baseline {
		replay := control.NewOpenLoop(res.Trajectory.Controls)
		base, err := e.ensemble(ctx, replay, res.Trajectory.States, threshold)
		if err != nil {
			return fmt.Errorf("baseline: %w", err)
		}
		out.Baseline = sim.Summarize(base)
	}
	return nil
}

// ensemble runs ctrl on the perturbed validation ensemble. Seeds are shared
// between calls so different policies see the same noise.
func (e *Experiment) ensemble(ctx context.Context, ctrl dynamo.Controller, nominal []dynamo.State, threshold float64) ([]*sim.Result, error) {
	v := e.cfg.Validation
	s := sim.New(e.inst.Problem, ctrl)
	for _, m := range DefaultMetrics(e.inst, nominal, threshold) {
		s.AddMetric(m)
	}

	ens := sim.NewEnsemble(s, v.Runs, v.Seed)
	ens.SetLimit(v.Workers)
	return ens.Run(ctx, e.inst.X0, sim.Config{
		Steps:           e.inst.Steps,
		Noise:           v.Noise,
		InitialNoise:    v.InitialNoise,
		DivergenceLimit: e.optimizer.Options().DivergenceLimit,
	})
}
