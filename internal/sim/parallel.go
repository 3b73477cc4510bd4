package sim

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/trajopt/internal/dynamo"
)

// Ensemble repeats a closed-loop run under different seeds.
type Ensemble struct {
	base      *Simulator
	numRuns   int
	seedStart int64
	limit     int
}

func NewEnsemble(s *Simulator, numRuns int, seedStart int64) *Ensemble {
	return &Ensemble{base: s, numRuns: numRuns, seedStart: seedStart, limit: runtime.GOMAXPROCS(0)}
}

// SetLimit caps the number of concurrent runs.
func (e *Ensemble) SetLimit(n int) {
	if n > 0 {
		e.limit = n
	}
}

// Run executes every member; run i uses seed seedStart+i. Diverged members
// are reported in their Result, not as an error.
func (e *Ensemble) Run(ctx context.Context, x0 dynamo.State, cfg Config) ([]*Result, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	results := make([]*Result, e.numRuns)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.limit)
	for i := 0; i < e.numRuns; i++ {
		g.Go(func() error {
			runCfg := cfg
			runCfg.Seed = e.seedStart + int64(i)

			res, err := e.base.Run(ctx, x0, runCfg)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Summary aggregates an ensemble over its members that stayed bounded.
type Summary struct {
	Runs     int
	Diverged int
	MeanCost float64
	StdCost  float64
	MaxCost  float64
	Metrics  map[string]float64
}

func Summarize(results []*Result) Summary {
	s := Summary{Runs: len(results), Metrics: make(map[string]float64)}
	costs := make([]float64, 0, len(results))
	perMetric := make(map[string][]float64)
	for _, r := range results {
		if r == nil || r.Diverged() {
			s.Diverged++
			continue
		}
		costs = append(costs, r.Trajectory.TotalCost())
		for name, v := range r.Metrics {
			perMetric[name] = append(perMetric[name], v)
		}
	}
	if len(costs) == 0 {
		return s
	}
	s.MeanCost, s.StdCost = stat.MeanStdDev(costs, nil)
	if len(costs) == 1 {
		s.StdCost = 0
	}
	s.MaxCost = floats.Max(costs)
	for name, vs := range perMetric {
		s.Metrics[name] = stat.Mean(vs, nil)
	}
	return s
}
