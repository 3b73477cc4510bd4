package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/san-kum/trajopt/internal/ddp"
	"github.com/san-kum/trajopt/internal/experiment"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Problem != "pendulum" {
		t.Errorf("expected problem pendulum, got %s", cfg.Problem)
	}
	if cfg.Validation.Runs <= 0 {
		t.Error("validation runs should be positive")
	}
	if cfg.Optimizer.Verbosity != 1 {
		t.Errorf("expected verbosity 1, got %d", cfg.Optimizer.Verbosity)
	}
}

func TestGetPreset(t *testing.T) {
	cfg := GetPreset("pendulum", "swingup")
	if cfg == nil {
		t.Fatal("expected preset, got nil")
	}
	if cfg.Steps != 100 {
		t.Errorf("expected 100 steps, got %d", cfg.Steps)
	}

	cfg.Steps = 7
	if again := GetPreset("pendulum", "swingup"); again.Steps != 100 {
		t.Error("GetPreset returned a shared preset")
	}
}

func TestGetPreset_NotFound(t *testing.T) {
	cfg := GetPreset("pendulum", "nonexistent")
	if cfg != nil {
		t.Error("expected nil for nonexistent preset")
	}

	cfg = GetPreset("nonexistent", "swingup")
	if cfg != nil {
		t.Error("expected nil for nonexistent problem")
	}
}

func TestListPresets(t *testing.T) {
	presets := ListPresets("lqr1d")
	want := []string{"bounded", "default", "trust-region", "value-reg"}
	if len(presets) != len(want) {
		t.Fatalf("expected %v, got %v", want, presets)
	}
	for i := range want {
		if presets[i] != want[i] {
			t.Errorf("expected %v, got %v", want, presets)
		}
	}

	presets = ListPresets("nonexistent")
	if presets != nil {
		t.Error("expected nil for nonexistent problem")
	}
}

func TestPresetsBuild(t *testing.T) {
	reg := experiment.NewRegistry()
	for problem, presets := range Presets {
		for name := range presets {
			t.Run(problem+"/"+name, func(t *testing.T) {
				cfg := GetPreset(problem, name)
				if cfg.Problem != problem {
					t.Errorf("preset names problem %s", cfg.Problem)
				}
				if _, err := experiment.New(reg, cfg.Experiment()); err != nil {
					t.Errorf("preset does not build: %v", err)
				}
			})
		}
	}
}

func TestOptions(t *testing.T) {
	def := ddp.DefaultOptions()

	tests := []struct {
		name  string
		cfg   OptimizerConfig
		kl    KLConfig
		check func(t *testing.T, o ddp.Options)
	}{
		{"zero keeps defaults", OptimizerConfig{}, KLConfig{}, func(t *testing.T, o ddp.Options) {
			if o.MaxIter != def.MaxIter || o.Lambda != def.Lambda || o.RegType != def.RegType {
				t.Errorf("defaults overwritten: %+v", o)
			}
			if o.Bounds != nil || o.KL.Active() {
				t.Error("expected no bounds and no trust region")
			}
		}},
		{"overrides", OptimizerConfig{MaxIter: 7, Lambda: 3, RegType: 2, ZMin: 0.2}, KLConfig{}, func(t *testing.T, o ddp.Options) {
			if o.MaxIter != 7 || o.Lambda != 3 || o.RegType != 2 || o.ZMin != 0.2 {
				t.Errorf("overrides lost: %+v", o)
			}
		}},
		{"bounds", OptimizerConfig{Lower: []float64{-1}, Upper: []float64{1}}, KLConfig{}, func(t *testing.T, o ddp.Options) {
			if o.Bounds == nil || o.Bounds.Lower[0] != -1 || o.Bounds.Upper[0] != 1 {
				t.Errorf("unexpected bounds %+v", o.Bounds)
			}
		}},
		{"alphas", OptimizerConfig{Alphas: []float64{1, 0.5}}, KLConfig{}, func(t *testing.T, o ddp.Options) {
			if len(o.Alphas) != 2 || o.Alphas[1] != 0.5 {
				t.Errorf("unexpected alphas %v", o.Alphas)
			}
		}},
		{"trust region", OptimizerConfig{}, KLConfig{Step: 2, Eta: 0.5}, func(t *testing.T, o ddp.Options) {
			if !o.KL.Active() || o.KL.Step != 2 || o.KL.Eta != 0.5 {
				t.Errorf("unexpected KL options %+v", o.KL)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			c.Optimizer = tt.cfg
			c.KL = tt.kl
			tt.check(t, c.Options())
		})
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	cfg := GetPreset("double_integrator", "far")
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Problem != "double_integrator" || loaded.Steps != 80 {
		t.Errorf("unexpected config %+v", loaded)
	}
	if len(loaded.InitState) != 2 || loaded.InitState[0] != 10 {
		t.Errorf("unexpected initial state %v", loaded.InitState)
	}
	if loaded.Optimizer.Upper[0] != 2 {
		t.Errorf("unexpected bounds %v", loaded.Optimizer.Upper)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "override.yaml")
	if err := os.WriteFile(path, []byte("steps: 33\noptimizer:\n  max_iter: 7\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := GetPreset("pendulum", "swingup")
	if err := Overlay(path, cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Steps != 33 || cfg.Optimizer.MaxIter != 7 {
		t.Errorf("overlay not applied: steps %d max_iter %d", cfg.Steps, cfg.Optimizer.MaxIter)
	}
	if cfg.Problem != "pendulum" || cfg.Dt != 0.05 || cfg.Optimizer.ZMin != 0.05 {
		t.Errorf("overlay clobbered preset values: %+v", cfg)
	}
}
