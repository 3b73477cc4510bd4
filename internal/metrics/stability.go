package metrics

import (
	"github.com/san-kum/trajopt/internal/dynamo"
)

// Stability is the fraction of observed states whose largest deviation from
// the goal stays within threshold.
type Stability struct {
	name       string
	goal       dynamo.State
	diff       dynamo.DiffFunc
	threshold  float64
	violations int
	samples    int
}

func NewStability(goal dynamo.State, threshold float64, diff dynamo.DiffFunc) *Stability {
	if diff == nil {
		diff = dynamo.Subtract
	}
	return &Stability{
		name:      "stability",
		goal:      goal.Clone(),
		diff:      diff,
		threshold: threshold,
	}
}

func (s *Stability) Name() string {
	return s.name
}

func (s *Stability) Observe(x dynamo.State, u dynamo.Control, t int) {
	s.samples++
	if s.diff(x, s.goal).MaxAbs() > s.threshold {
		s.violations++
	}
}

func (s *Stability) Value() float64 {
	if s.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(s.violations)/float64(s.samples)
}

func (s *Stability) Reset() {
	s.violations = 0
	s.samples = 0
}
