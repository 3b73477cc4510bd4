package problem

import (
	"fmt"

	"github.com/san-kum/trajopt/internal/dynamo"
)

// Discretized samples a continuous plant every Dt seconds and charges a
// diagonal quadratic tracking cost, Dt·(dᵀQd + uᵀRu) per stage and dᵀQf d at
// the end, where d = Diff(x, Goal).
type Discretized struct {
	System     dynamo.System
	Integrator dynamo.Integrator
	Dt         float64

	Q, R, Qf []float64
	Goal     dynamo.State
	Diff     dynamo.DiffFunc
}

func NewDiscretized(sys dynamo.System, integ dynamo.Integrator, dt float64, q, r, qf []float64, goal dynamo.State) (*Discretized, error) {
	n, m := sys.StateDim(), sys.ControlDim()
	switch {
	case dt <= 0:
		return nil, fmt.Errorf("dt must be positive, got %f", dt)
	case len(q) != n || len(qf) != n || len(goal) != n:
		return nil, fmt.Errorf("%w: state weights and goal need %d entries", ErrWeights, n)
	case len(r) != m:
		return nil, fmt.Errorf("%w: control weights need %d entries", ErrWeights, m)
	}
	return &Discretized{
		System:     sys,
		Integrator: integ,
		Dt:         dt,
		Q:          q,
		R:          r,
		Qf:         qf,
		Goal:       goal,
		Diff:       dynamo.Subtract,
	}, nil
}

func (p *Discretized) StateDim() int   { return p.System.StateDim() }
func (p *Discretized) ControlDim() int { return p.System.ControlDim() }

func (p *Discretized) Step(x dynamo.State, u dynamo.Control, t int) (dynamo.State, float64) {
	next := p.Integrator.Step(p.System, x, u, float64(t)*p.Dt, p.Dt)
	d := p.Diff(x, p.Goal)
	return next, p.Dt * (weighted(d, p.Q) + weighted(dynamo.State(u), p.R))
}

func (p *Discretized) TerminalCost(x dynamo.State) float64 {
	return weighted(p.Diff(x, p.Goal), p.Qf)
}

func weighted(v dynamo.State, w []float64) float64 {
	sum := 0.0
	for i := range v {
		sum += w[i] * v[i] * v[i]
	}
	return sum
}
