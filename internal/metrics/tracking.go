package metrics

import (
	"math"

	"github.com/san-kum/trajopt/internal/dynamo"
)

// TerminalError is the Euclidean distance of the last observed state from
// the goal.
type TerminalError struct {
	goal dynamo.State
	diff dynamo.DiffFunc
	last dynamo.State
}

func NewTerminalError(goal dynamo.State, diff dynamo.DiffFunc) *TerminalError {
	if diff == nil {
		diff = dynamo.Subtract
	}
	return &TerminalError{goal: goal.Clone(), diff: diff}
}

func (e *TerminalError) Name() string { return "terminal_error" }

func (e *TerminalError) Observe(x dynamo.State, u dynamo.Control, t int) {
	e.last = x.Clone()
}

func (e *TerminalError) Value() float64 {
	if e.last == nil {
		return 0
	}
	return e.diff(e.last, e.goal).Norm()
}

func (e *TerminalError) Reset() { e.last = nil }

// TrackingError is the RMS distance between observed states and a nominal
// trajectory at the same step. Steps past the nominal compare against its
// last state.
type TrackingError struct {
	nominal []dynamo.State
	diff    dynamo.DiffFunc
	sumSq   float64
	samples int
}

func NewTrackingError(nominal []dynamo.State, diff dynamo.DiffFunc) *TrackingError {
	if diff == nil {
		diff = dynamo.Subtract
	}
	return &TrackingError{nominal: nominal, diff: diff}
}

func (e *TrackingError) Name() string { return "tracking_rms" }

func (e *TrackingError) Observe(x dynamo.State, u dynamo.Control, t int) {
	if len(e.nominal) == 0 {
		return
	}
	ref := e.nominal[max(0, min(t, len(e.nominal)-1))]
	d := e.diff(x, ref).Norm()
	e.sumSq += d * d
	e.samples++
}

func (e *TrackingError) Value() float64 {
	if e.samples == 0 {
		return 0
	}
	return math.Sqrt(e.sumSq / float64(e.samples))
}

func (e *TrackingError) Reset() {
	e.sumSq = 0
	e.samples = 0
}
