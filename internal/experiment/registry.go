package experiment

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"sort"

	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/integrators"
	"github.com/san-kum/trajopt/internal/metrics"
	"github.com/san-kum/trajopt/internal/physics"
	"github.com/san-kum/trajopt/internal/problem"
	"github.com/san-kum/trajopt/internal/sim"
)

// Params tune how a named problem is built.
type Params struct {
	// Dt overrides the sampling period of the problem; zero keeps its default.
	Dt         float64
	Integrator string
	// SecondOrder requests dynamics Hessians from finite differences.
	SecondOrder bool
	FDStep      float64
	// Model overrides physical parameters of configurable plants.
	Model map[string]float64
}

// Instance is a named problem ready to solve, with its default horizon,
// initial state and control limits.
type Instance struct {
	Name    string
	Problem problem.Problem
	Goal    dynamo.State
	X0      dynamo.State
	Steps   int
	// Lower and Upper are the default control limits; nil means unbounded.
	Lower, Upper []float64
	Diff         dynamo.DiffFunc
	// Energetic is set for mechanical plants.
	Energetic metrics.Energetic
}

type entry struct {
	description string
	build       func(Params) (*Instance, error)
}

type Registry struct {
	problems map[string]entry
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func configure(sys dynamo.Configurable, params map[string]float64) error {
	for _, name := range slices.Sorted(maps.Keys(params)) {
		if err := sys.SetParam(name, params[name]); err != nil {
			return err
		}
	}
	return nil
}

func NewRegistry() *Registry {
	r := &Registry{problems: make(map[string]entry)}

	r.problems["lqr1d"] = entry{
		description: "scalar system x' = x + u, cost x² + u²",
		build: func(Params) (*Instance, error) {
			return &Instance{
				Problem: problem.Scalar(1, 1, 1, 1),
				Goal:    dynamo.State{0},
				X0:      dynamo.State{1},
				Steps:   50,
			}, nil
		},
	}
	r.problems["double_integrator"] = entry{
		description: "unit point mass driven to the origin",
		build: func(p Params) (*Instance, error) {
			return &Instance{
				Problem: problem.DoubleIntegrator(orDefault(p.Dt, 0.1), 1, 0.1),
				Goal:    dynamo.State{0, 0},
				X0:      dynamo.State{1, 0},
				Steps:   50,
			}, nil
		},
	}
	r.problems["pendulum"] = entry{
		description: "torque-limited pendulum swing-up",
		build: func(p Params) (*Instance, error) {
			pend := physics.NewPendulum()
			if err := configure(pend, p.Model); err != nil {
				return nil, err
			}
			goal := dynamo.State{math.Pi, 0}
			d, err := problem.NewDiscretized(pend, integrators.Get(p.Integrator), orDefault(p.Dt, 0.05),
				[]float64{0.1, 0.01}, []float64{0.01}, []float64{100, 10}, goal)
			if err != nil {
				return nil, err
			}
			return &Instance{
				Problem:   problem.NewFiniteDiff(d, problem.FDOptions{Step: p.FDStep, SecondOrder: p.SecondOrder}),
				Goal:      goal,
				X0:        dynamo.State{0, 0},
				Steps:     100,
				Lower:     []float64{-3},
				Upper:     []float64{3},
				Energetic: pend,
			}, nil
		},
	}
	r.problems["cartpole"] = entry{
		description: "cart-pole swing-up from the hanging position",
		build: func(p Params) (*Instance, error) {
			cart := physics.NewCartPole()
			if err := configure(cart, p.Model); err != nil {
				return nil, err
			}
			goal := dynamo.State{0, 0, 0, 0}
			d, err := problem.NewDiscretized(cart, integrators.Get(p.Integrator), orDefault(p.Dt, 0.05),
				[]float64{1, 0.1, 1, 0.1}, []float64{0.01}, []float64{50, 10, 100, 10}, goal)
			if err != nil {
				return nil, err
			}
			return &Instance{
				Problem: problem.NewFiniteDiff(d, problem.FDOptions{Step: p.FDStep, SecondOrder: p.SecondOrder}),
				Goal:    goal,
				X0:      dynamo.State{0, 0, math.Pi, 0},
				Steps:   100,
				Lower:   []float64{-20},
				Upper:   []float64{20},
			}, nil
		},
	}

	return r
}

func (r *Registry) GetProblem(name string, params Params) (*Instance, error) {
	e, ok := r.problems[name]
	if !ok {
		return nil, fmt.Errorf("unknown problem: %s", name)
	}
	inst, err := e.build(params)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", name, err)
	}
	inst.Name = name
	if inst.Diff == nil {
		inst.Diff = dynamo.Subtract
	}
	return inst, nil
}

func (r *Registry) Describe(name string) string {
	return r.problems[name].description
}

func (r *Registry) ListProblems() []string {
	names := make([]string, 0, len(r.problems))
	for name := range r.problems {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultMetrics are the closed-loop metrics recorded for inst when its
// feedback policy follows nominal.
func DefaultMetrics(inst *Instance, nominal []dynamo.State, threshold float64) []sim.MetricFactory {
	fs := []sim.MetricFactory{
		func() dynamo.Metric { return metrics.NewControlEffort() },
		func() dynamo.Metric { return metrics.NewStability(inst.Goal, threshold, inst.Diff) },
		func() dynamo.Metric { return metrics.NewTerminalError(inst.Goal, inst.Diff) },
		func() dynamo.Metric { return metrics.NewTrackingError(nominal, inst.Diff) },
	}
	if inst.Energetic != nil {
		fs = append(fs, func() dynamo.Metric { return metrics.NewEnergyGap(inst.Energetic, inst.Goal) })
	}
	return fs
}
