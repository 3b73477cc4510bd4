package sim

import (
	"context"
	"math/rand/v2"

	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/problem"
	"gonum.org/v1/gonum/stat/distuv"
)

const defaultDivergenceLimit = 1e8

// Simulator runs a controller against discrete dynamics.
type Simulator struct {
	dyn        problem.Dynamics
	controller dynamo.Controller
	metrics    []MetricFactory
}

func New(dyn problem.Dynamics, controller dynamo.Controller) *Simulator {
	return &Simulator{
		dyn:        dyn,
		controller: controller,
		metrics:    make([]MetricFactory, 0),
	}
}

func (s *Simulator) AddMetric(m MetricFactory) { s.metrics = append(s.metrics, m) }

// Run simulates cfg.Steps states from x0. The last step's cost is the
// terminal cost when the dynamics provide one. A run that leaves the
// divergence limit stops early and reports a *dynamo.SimulationError in
// Result.Err; Run itself only fails on bad configuration or cancellation.
func (s *Simulator) Run(ctx context.Context, x0 dynamo.State, cfg Config) (*Result, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	limit := cfg.DivergenceLimit
	if limit == 0 {
		limit = defaultDivergenceLimit
	}

	steps := cfg.Steps
	result := &Result{
		Seed: cfg.Seed,
		Trajectory: &dynamo.Trajectory{
			States:   make([]dynamo.State, 0, steps),
			Controls: make([]dynamo.Control, 0, steps),
			Costs:    make([]float64, 0, steps),
		},
		Metrics: make(map[string]float64),
	}

	metrics := make([]dynamo.Metric, len(s.metrics))
	for i, f := range s.metrics {
		metrics[i] = f()
		metrics[i].Reset()
	}
	defer func() {
		for _, m := range metrics {
			result.Metrics[m.Name()] = m.Value()
		}
	}()

	noise := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewPCG(uint64(cfg.Seed), 0x9e3779b97f4a7c15)}
	perturb := func(x dynamo.State, sigma float64) {
		if sigma == 0 {
			return
		}
		for i := range x {
			x[i] += sigma * noise.Rand()
		}
	}

	x := x0.Clone()
	perturb(x, cfg.InitialNoise)

	for t := 0; t < steps; t++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		u := s.controller.Compute(x, t)

		for _, m := range metrics {
			m.Observe(x, u, t)
		}

		next, c := problem.StageCost(s.dyn, x, u, t, steps)
		result.Trajectory.States = append(result.Trajectory.States, x)
		result.Trajectory.Controls = append(result.Trajectory.Controls, u.Clone())
		result.Trajectory.Costs = append(result.Trajectory.Costs, c)
		result.StepsTaken++

		if t == steps-1 {
			break
		}
		perturb(next, cfg.Noise)
		if !next.IsValid() {
			result.Err = &dynamo.SimulationError{Step: t + 1, State: next, Wrapped: dynamo.ErrInvalidState}
			break
		}
		if next.MaxAbs() >= limit {
			result.Err = &dynamo.SimulationError{Step: t + 1, State: next, Wrapped: dynamo.ErrUnstable}
			break
		}
		x = next
	}

	return result, nil
}
