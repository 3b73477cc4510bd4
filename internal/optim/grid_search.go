package optim

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
)

// Objective scores one grid point; lower is better.
type Objective func(ctx context.Context, params map[string]float64) (float64, error)

// Trial is one evaluated grid point. A failed trial keeps its error and a
// score of +Inf.
type Trial struct {
	Params map[string]float64
	Score  float64
	Err    error
}

// GridSearch evaluates an objective on the cartesian product of named
// parameter values.
type GridSearch struct {
	paramNames []string
	ranges     [][]float64
	limit      int
}

func NewGridSearch(params []string, ranges [][]float64) (*GridSearch, error) {
	if len(params) == 0 || len(params) != len(ranges) {
		return nil, fmt.Errorf("%d parameters with %d value lists", len(params), len(ranges))
	}
	for i, r := range ranges {
		if len(r) == 0 {
			return nil, fmt.Errorf("no values for %s", params[i])
		}
	}
	return &GridSearch{paramNames: params, ranges: ranges}, nil
}

// SetLimit bounds the number of concurrent evaluations; n <= 0 uses
// GOMAXPROCS.
func (g *GridSearch) SetLimit(n int) { g.limit = n }

// Size is the number of grid points.
func (g *GridSearch) Size() int {
	n := 1
	for _, r := range g.ranges {
		n *= len(r)
	}
	return n
}

// Points enumerates the grid with the last parameter varying fastest.
func (g *GridSearch) Points() []map[string]float64 {
	points := make([]map[string]float64, 0, g.Size())
	g.enumerate(0, map[string]float64{}, &points)
	return points
}

func (g *GridSearch) enumerate(depth int, current map[string]float64, out *[]map[string]float64) {
	if depth == len(g.paramNames) {
		*out = append(*out, maps.Clone(current))
		return
	}
	name := g.paramNames[depth]
	for _, v := range g.ranges[depth] {
		current[name] = v
		g.enumerate(depth+1, current, out)
	}
	delete(current, name)
}

// Search evaluates every grid point and returns the trials ordered by score,
// failed ones last. Objective errors are recorded per trial; only context
// cancellation aborts the search.
func (g *GridSearch) Search(ctx context.Context, objective Objective) ([]Trial, error) {
	points := g.Points()
	trials := make([]Trial, len(points))

	eg, ctx := errgroup.WithContext(ctx)
	limit := g.limit
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	eg.SetLimit(limit)

	for i, p := range points {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			score, err := objective(ctx, p)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				score = math.Inf(1)
			}
			if math.IsNaN(score) {
				score = math.Inf(1)
			}
			trials[i] = Trial{Params: p, Score: score, Err: err}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	slices.SortStableFunc(trials, func(a, b Trial) int {
		if (a.Err == nil) != (b.Err == nil) {
			if a.Err == nil {
				return -1
			}
			return 1
		}
		switch {
		case a.Score < b.Score:
			return -1
		case a.Score > b.Score:
			return 1
		}
		return 0
	})
	return trials, nil
}

// Best returns the first successful trial.
func Best(trials []Trial) (Trial, bool) {
	if len(trials) == 0 || trials[0].Err != nil {
		return Trial{}, false
	}
	return trials[0], true
}
