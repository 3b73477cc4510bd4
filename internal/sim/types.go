package sim

import (
	"fmt"

	"github.com/san-kum/trajopt/internal/dynamo"
)

// MetricFactory builds a fresh metric for one run, so concurrent runs never
// share metric state.
type MetricFactory func() dynamo.Metric

// Config describes one closed-loop run of Steps states.
type Config struct {
	Steps int
	// Noise is the standard deviation of zero-mean Gaussian process noise
	// added to every state entry after each step.
	Noise float64
	// InitialNoise perturbs x0 the same way before the first step.
	InitialNoise    float64
	Seed            int64
	DivergenceLimit float64
}

func (c Config) validate() error {
	if c.Steps < 1 {
		return fmt.Errorf("steps must be positive, got %d", c.Steps)
	}
	if c.Noise < 0 || c.InitialNoise < 0 {
		return fmt.Errorf("noise must be non-negative, got %g and %g", c.Noise, c.InitialNoise)
	}
	if c.DivergenceLimit < 0 {
		return fmt.Errorf("divergence limit must be non-negative, got %g", c.DivergenceLimit)
	}
	return nil
}

// Result of one closed-loop run. Err holds the divergence that cut the run
// short, if any; the trajectory then stops at the last finite state.
type Result struct {
	Seed       int64
	Trajectory *dynamo.Trajectory
	Metrics    map[string]float64
	StepsTaken int
	Err        error
}

func (r *Result) Diverged() bool { return r.Err != nil }
