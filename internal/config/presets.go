package config

import "sort"

var Presets = map[string]map[string]*Config{
	"lqr1d": {
		"default": {
			Problem: "lqr1d", Steps: 50,
			Validation: ValidationConfig{Runs: 4, InitialNoise: 0.01, Threshold: 2},
		},
		"value-reg": {
			Problem: "lqr1d", Steps: 50,
			Optimizer:  OptimizerConfig{RegType: 2},
			Validation: ValidationConfig{Runs: 4, InitialNoise: 0.01, Threshold: 2},
		},
		"bounded": {
			Problem: "lqr1d", Steps: 20,
			Optimizer:  OptimizerConfig{Lower: []float64{-0.1}, Upper: []float64{0.1}},
			Validation: ValidationConfig{Runs: 4, Threshold: 2},
		},
		"trust-region": {
			Problem: "lqr1d", Steps: 20,
			KL:         KLConfig{Step: 2, Eta: 1},
			Optimizer:  OptimizerConfig{MaxIter: 100},
			Validation: ValidationConfig{Runs: 4, Threshold: 2},
		},
	},
	"double_integrator": {
		"default": {
			Problem: "double_integrator", Dt: 0.1, Steps: 50,
			InitState:  []float64{1, 0},
			Validation: ValidationConfig{Runs: 8, InitialNoise: 0.05, Noise: 0.001, Threshold: 2},
		},
		"far": {
			Problem: "double_integrator", Dt: 0.1, Steps: 80,
			InitState:  []float64{10, -1},
			Optimizer:  OptimizerConfig{Lower: []float64{-2}, Upper: []float64{2}},
			Validation: ValidationConfig{Runs: 8, InitialNoise: 0.1, Threshold: 12},
		},
	},
	"pendulum": {
		"swingup": {
			Problem: "pendulum", Integrator: "rk4", Dt: 0.05, Steps: 100,
			Optimizer:  OptimizerConfig{MaxIter: 200, ZMin: 0.05},
			Validation: ValidationConfig{Runs: 8, InitialNoise: 0.01, Threshold: 0.5},
		},
		"full-ddp": {
			Problem: "pendulum", Integrator: "rk4", Dt: 0.05, Steps: 100, SecondOrder: true,
			Optimizer:  OptimizerConfig{MaxIter: 200},
			Validation: ValidationConfig{Runs: 8, InitialNoise: 0.01, Threshold: 0.5},
		},
		"weak": {
			Problem: "pendulum", Integrator: "rk4", Dt: 0.05, Steps: 150,
			Optimizer:  OptimizerConfig{MaxIter: 300, Lower: []float64{-1.5}, Upper: []float64{1.5}},
			Validation: ValidationConfig{Runs: 8, InitialNoise: 0.01, Threshold: 0.5},
		},
	},
	"cartpole": {
		"swingup": {
			Problem: "cartpole", Integrator: "rk4", Dt: 0.05, Steps: 100,
			Optimizer:  OptimizerConfig{MaxIter: 300},
			Validation: ValidationConfig{Runs: 8, InitialNoise: 0.01, Threshold: 1},
		},
		"balance": {
			Problem: "cartpole", Integrator: "rk4", Dt: 0.02, Steps: 150,
			InitState:  []float64{0, 0, 0.3, 0},
			Validation: ValidationConfig{Runs: 8, InitialNoise: 0.02, Noise: 0.001, Threshold: 0.5},
		},
	},
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(problem, preset string) *Config {
	problemPresets, ok := Presets[problem]
	if !ok {
		return nil
	}
	cfg, ok := problemPresets[preset]
	if !ok {
		return nil
	}
	c := cfg.Clone()
	if c.Integrator == "" {
		c.Integrator = DefaultIntegrator
	}
	c.Optimizer.Verbosity = max(c.Optimizer.Verbosity, 1)
	return c
}

func ListPresets(problem string) []string {
	problemPresets, ok := Presets[problem]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(problemPresets))
	for name := range problemPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
