package ddp

import (
	"time"

	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/problem"
)

// Record describes one outer attempt. A rejected attempt keeps the
// iteration number of the accepted iteration it retried.
type Record struct {
	Iteration   int
	Lambda      float64
	DLambda     float64
	Alpha       float64
	Cost        float64
	GradNorm    float64
	Improvement float64
	Expected    float64
	Reduction   float64
	Accepted    bool

	BackwardRetries int
	SignFallbacks   int
	Eta             float64
	Divergence      float64

	DerivTime    time.Duration
	BackwardTime time.Duration
	ForwardTime  time.Duration
}

// Trace is append-only and written by the outer loop alone.
type Trace []Record

// Accepted returns the records of accepted iterations.
func (tr Trace) Accepted() Trace {
	out := make(Trace, 0, len(tr))
	for _, r := range tr {
		if r.Accepted {
			out = append(out, r)
		}
	}
	return out
}

// Costs returns the total cost after each accepted iteration.
func (tr Trace) Costs() []float64 {
	acc := tr.Accepted()
	out := make([]float64, len(acc))
	for i, r := range acc {
		out[i] = r.Cost
	}
	return out
}

func (tr Trace) Timing() (deriv, backward, forward time.Duration) {
	for _, r := range tr {
		deriv += r.DerivTime
		backward += r.BackwardTime
		forward += r.ForwardTime
	}
	return
}

type PlotFlag int

const (
	PlotIteration PlotFlag = iota
	PlotFinal
)

// Snapshot is the optimizer state handed to a Plotter.
type Snapshot struct {
	Trajectory  *dynamo.Trajectory
	Law         ControlLaw
	Value       ValueFunction
	Derivatives *problem.Derivatives
	Trace       Trace
}

// Plotter receives snapshots after every accepted iteration and once at the
// end. Return values are not consumed.
type Plotter interface {
	Plot(s *Snapshot, flag PlotFlag)
}
