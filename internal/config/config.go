package config

import (
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/trajopt/internal/ddp"
	"github.com/san-kum/trajopt/internal/experiment"
)

const (
	DefaultProblem    = "pendulum"
	DefaultIntegrator = "rk4"
	DefaultRuns       = 8
	DefaultThreshold  = 0.5
)

// Config is the on-disk description of one run. Zero values keep the
// problem's or the optimizer's defaults.
type Config struct {
	Problem     string    `yaml:"problem"`
	Integrator  string    `yaml:"integrator"`
	Dt          float64   `yaml:"dt"`
	Steps       int       `yaml:"steps"`
	SecondOrder bool      `yaml:"second_order"`
	FDStep      float64   `yaml:"fd_step"`
	InitState   []float64 `yaml:"init_state,omitempty"`
	InitControl []float64 `yaml:"init_control,omitempty"`
	// Model overrides physical parameters of the plant, e.g. mass or length.
	Model      map[string]float64 `yaml:"model,omitempty"`
	Optimizer  OptimizerConfig    `yaml:"optimizer"`
	KL         KLConfig           `yaml:"kl"`
	Validation ValidationConfig   `yaml:"validation"`
}

type OptimizerConfig struct {
	MaxIter         int       `yaml:"max_iter"`
	TolFun          float64   `yaml:"tol_fun"`
	TolGrad         float64   `yaml:"tol_grad"`
	Lambda          float64   `yaml:"lambda"`
	DLambda         float64   `yaml:"dlambda"`
	LambdaFactor    float64   `yaml:"lambda_factor"`
	LambdaMin       float64   `yaml:"lambda_min"`
	LambdaMax       float64   `yaml:"lambda_max"`
	RegType         int       `yaml:"reg_type"`
	ZMin            float64   `yaml:"zmin"`
	Alphas          []float64 `yaml:"alphas,omitempty"`
	Lower           []float64 `yaml:"lower,omitempty"`
	Upper           []float64 `yaml:"upper,omitempty"`
	DivergenceLimit float64   `yaml:"divergence_limit"`
	Verbosity       int       `yaml:"verbosity"`
}

type KLConfig struct {
	Step float64 `yaml:"step"`
	Eta  float64 `yaml:"eta"`
}

type ValidationConfig struct {
	Runs         int     `yaml:"runs"`
	Noise        float64 `yaml:"noise"`
	InitialNoise float64 `yaml:"initial_noise"`
	Seed         int64   `yaml:"seed"`
	Threshold    float64 `yaml:"threshold"`
	Workers      int     `yaml:"workers"`
	Baseline     bool    `yaml:"baseline"`
}

func DefaultConfig() *Config {
	return &Config{
		Problem:    DefaultProblem,
		Integrator: DefaultIntegrator,
		Optimizer: OptimizerConfig{
			Verbosity: 1,
		},
		Validation: ValidationConfig{
			Runs:         DefaultRuns,
			InitialNoise: 0.01,
			Threshold:    DefaultThreshold,
		},
	}
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	out := *c
	out.InitState = slices.Clone(c.InitState)
	out.InitControl = slices.Clone(c.InitControl)
	out.Model = maps.Clone(c.Model)
	out.Optimizer.Alphas = slices.Clone(c.Optimizer.Alphas)
	out.Optimizer.Lower = slices.Clone(c.Optimizer.Lower)
	out.Optimizer.Upper = slices.Clone(c.Optimizer.Upper)
	return &out
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := Overlay(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Overlay applies the keys present in the file at path on top of cfg.
func Overlay(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func set[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}

// Options overlays the optimizer section on ddp.DefaultOptions.
func (c *Config) Options() ddp.Options {
	o := ddp.DefaultOptions()
	oc := c.Optimizer

	set(&o.MaxIter, oc.MaxIter)
	set(&o.TolFun, oc.TolFun)
	set(&o.TolGrad, oc.TolGrad)
	set(&o.Lambda, oc.Lambda)
	set(&o.DLambda, oc.DLambda)
	set(&o.LambdaFactor, oc.LambdaFactor)
	set(&o.LambdaMin, oc.LambdaMin)
	set(&o.LambdaMax, oc.LambdaMax)
	set(&o.RegType, oc.RegType)
	set(&o.ZMin, oc.ZMin)
	set(&o.DivergenceLimit, oc.DivergenceLimit)
	o.Verbosity = oc.Verbosity
	if len(oc.Alphas) > 0 {
		o.Alphas = append([]float64(nil), oc.Alphas...)
	}
	if len(oc.Lower) > 0 || len(oc.Upper) > 0 {
		o.Bounds = &ddp.Bounds{Lower: oc.Lower, Upper: oc.Upper}
	}
	o.KL.Step = c.KL.Step
	o.KL.Eta = c.KL.Eta
	return o
}

// Experiment converts the file into an experiment description.
func (c *Config) Experiment() experiment.Config {
	return experiment.Config{
		Problem: c.Problem,
		Params: experiment.Params{
			Dt:          c.Dt,
			Integrator:  c.Integrator,
			SecondOrder: c.SecondOrder,
			FDStep:      c.FDStep,
			Model:       c.Model,
		},
		Steps:   c.Steps,
		X0:      c.InitState,
		U0:      c.InitControl,
		Options: c.Options(),
		Validation: experiment.ValidationConfig{
			Runs:         c.Validation.Runs,
			Noise:        c.Validation.Noise,
			InitialNoise: c.Validation.InitialNoise,
			Seed:         c.Validation.Seed,
			Threshold:    c.Validation.Threshold,
			Workers:      c.Validation.Workers,
			Baseline:     c.Validation.Baseline,
		},
	}
}
