package automation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/trajopt/internal/config"
	"github.com/san-kum/trajopt/internal/experiment"
	"github.com/san-kum/trajopt/internal/kl"
	"github.com/san-kum/trajopt/internal/optim"
	"github.com/san-kum/trajopt/internal/storage"
)

// Scenario is a scripted sequence of solves.
type Scenario struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Steps       []ScenarioStep `yaml:"steps"`

	dir string
}

// ScenarioStep is a single solve. The configuration is built from the preset,
// then the config file, then Set, in that order.
type ScenarioStep struct {
	Name    string `yaml:"name"`
	Problem string `yaml:"problem"`
	Preset  string `yaml:"preset"`
	// Config is a YAML file, relative to the scenario file.
	Config string             `yaml:"config"`
	Set    map[string]float64 `yaml:"set"`
	// Reference names an earlier step whose policy bounds this solve's
	// trust region.
	Reference string `yaml:"reference"`
}

// StepResult is the outcome of one step. RunID is empty when the run was not
// stored.
type StepResult struct {
	Name    string
	RunID   string
	Outcome *experiment.Outcome
}

var ErrScenario = errors.New("automation: invalid scenario")

// LoadScenario loads a scenario from a YAML file
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, err
	}
	scenario.dir = filepath.Dir(path)

	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	return &scenario, nil
}

// Validate checks step names and that references point to earlier steps.
func (s *Scenario) Validate() error {
	if len(s.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrScenario)
	}
	seen := make(map[string]bool, len(s.Steps))
	for i, step := range s.Steps {
		name := step.label(i)
		if seen[name] {
			return fmt.Errorf("%w: duplicate step %s", ErrScenario, name)
		}
		if step.Reference != "" && !seen[step.Reference] {
			return fmt.Errorf("%w: step %s references %s before it ran", ErrScenario, name, step.Reference)
		}
		if step.Problem == "" && step.Config == "" {
			return fmt.Errorf("%w: step %s has neither problem nor config", ErrScenario, name)
		}
		seen[name] = true
	}
	return nil
}

func (st ScenarioStep) label(i int) string {
	if st.Name != "" {
		return st.Name
	}
	return fmt.Sprintf("step%d", i+1)
}

// Config builds the configuration of step i.
func (s *Scenario) Config(i int) (*config.Config, error) {
	step := s.Steps[i]
	cfg := config.DefaultConfig()
	if step.Problem != "" {
		cfg.Problem = step.Problem
	}
	if step.Preset != "" {
		p := config.GetPreset(cfg.Problem, step.Preset)
		if p == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", step.Preset, config.ListPresets(cfg.Problem))
		}
		cfg = p
	}
	if step.Config != "" {
		path := step.Config
		if !filepath.IsAbs(path) {
			path = filepath.Join(s.dir, path)
		}
		if err := config.Overlay(path, cfg); err != nil {
			return nil, err
		}
		if step.Problem != "" {
			cfg.Problem = step.Problem
		}
	}
	for name, v := range step.Set {
		if err := optim.Apply(cfg, name, v); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Runner executes scenarios. A nil Store skips saving.
type Runner struct {
	Registry *experiment.Registry
	Store    *storage.Store
	Log      *zap.Logger
}

// Run executes all steps in order and stops at the first failing step; the
// results of the steps that ran are returned with the error.
func (r *Runner) Run(ctx context.Context, s *Scenario) ([]StepResult, error) {
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}
	reg := r.Registry
	if reg == nil {
		reg = experiment.NewRegistry()
	}

	results := make([]StepResult, 0, len(s.Steps))
	policies := make(map[string]*kl.Distribution, len(s.Steps))

	for i, step := range s.Steps {
		name := step.label(i)
		log.Info("running step", zap.String("scenario", s.Name), zap.String("step", name),
			zap.Int("index", i+1), zap.Int("of", len(s.Steps)))

		cfg, err := s.Config(i)
		if err != nil {
			return results, fmt.Errorf("step %s: %w", name, err)
		}
		ec := cfg.Experiment()
		ec.Options.Logger = log.With(zap.String("step", name))
		if step.Reference != "" {
			ec.Options.KL.Reference = policies[step.Reference]
			if !ec.Options.KL.Active() {
				return results, fmt.Errorf("step %s: reference %s without kl step", name, step.Reference)
			}
		}

		exp, err := experiment.New(reg, ec)
		if err != nil {
			return results, fmt.Errorf("step %s setup: %w", name, err)
		}
		out, err := exp.Run(ctx)
		if err != nil {
			return results, fmt.Errorf("step %s run: %w", name, err)
		}

		res := StepResult{Name: name, Outcome: out}
		if r.Store != nil {
			res.RunID, err = r.Store.Save(storage.NewMetadata(out), out.Result, cfg)
			if err != nil {
				return results, fmt.Errorf("step %s save: %w", name, err)
			}
		}
		results = append(results, res)

		if out.Result.Distribution != nil {
			policies[name] = out.Result.Distribution
		} else {
			d, err := kl.NewDistribution(out.Result.Trajectory, out.Result.Law.Gains, nil)
			if err != nil {
				return results, fmt.Errorf("step %s policy: %w", name, err)
			}
			policies[name] = d
		}
		log.Info("step done", zap.String("step", name), zap.Stringer("status", out.Result.Status),
			zap.Float64("cost", out.Result.Cost()), zap.Int("iterations", out.Result.Iterations),
			zap.String("run_id", res.RunID))
	}

	return results, nil
}
