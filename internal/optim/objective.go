package optim

import (
	"context"
	"fmt"
	"math"

	"github.com/san-kum/trajopt/internal/config"
	"github.com/san-kum/trajopt/internal/experiment"
)

// Scores a sweep can minimize besides the closed-loop metric names.
const (
	ScoreCost           = "cost"
	ScoreIterations     = "iterations"
	ScoreValidationCost = "validation_cost"
)

// ExperimentObjective solves base with the grid point applied and scores the
// outcome. Runs that end without converging score +Inf so a sweep prefers
// settings that converge.
func ExperimentObjective(reg *experiment.Registry, base *config.Config, score string) Objective {
	if score == "" {
		score = ScoreCost
	}
	return func(ctx context.Context, params map[string]float64) (float64, error) {
		cfg := base.Clone()
		cfg.Optimizer.Verbosity = 0
		for name, v := range params {
			if err := Apply(cfg, name, v); err != nil {
				return 0, err
			}
		}

		exp, err := experiment.New(reg, cfg.Experiment())
		if err != nil {
			return 0, err
		}
		out, err := exp.Run(ctx)
		if err != nil && (out == nil || out.Result == nil) {
			return 0, err
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if !out.Result.Status.Converged() {
			return math.Inf(1), nil
		}

		switch score {
		case ScoreCost:
			return out.Result.Cost(), nil
		case ScoreIterations:
			return float64(out.Result.Iterations), nil
		case ScoreValidationCost:
			if out.Summary.Runs == 0 {
				return 0, fmt.Errorf("score %s needs validation runs", score)
			}
			return out.Summary.MeanCost, nil
		}
		v, ok := out.Summary.Metrics[score]
		if !ok {
			return 0, fmt.Errorf("unknown score %s", score)
		}
		return v, nil
	}
}
