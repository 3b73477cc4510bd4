package experiment

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/san-kum/trajopt/internal/ddp"
	"github.com/san-kum/trajopt/internal/dynamo"
)

func TestRegistryProblems(t *testing.T) {
	reg := NewRegistry()

	names := reg.ListProblems()
	want := []string{"cartpole", "double_integrator", "lqr1d", "pendulum"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("expected %v, got %v", want, names)
		}
	}

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			inst, err := reg.GetProblem(name, Params{})
			if err != nil {
				t.Fatal(err)
			}
			n := inst.Problem.StateDim()
			if len(inst.X0) != n || len(inst.Goal) != n {
				t.Errorf("x0 %v and goal %v do not match state dimension %d", inst.X0, inst.Goal, n)
			}
			if inst.Steps < 2 {
				t.Errorf("horizon %d too short", inst.Steps)
			}
			if reg.Describe(name) == "" {
				t.Error("missing description")
			}
			if inst.Lower != nil && len(inst.Lower) != inst.Problem.ControlDim() {
				t.Errorf("bounds do not match control dimension")
			}
		})
	}
}

func TestRegistryUnknown(t *testing.T) {
	if _, err := NewRegistry().GetProblem("nbody", Params{}); err == nil {
		t.Error("expected error for unknown problem")
	}
}

func TestRegistryModelParams(t *testing.T) {
	reg := NewRegistry()
	base, err := reg.GetProblem("pendulum", Params{})
	if err != nil {
		t.Fatal(err)
	}
	long, err := reg.GetProblem("pendulum", Params{Model: map[string]float64{"length": 2}})
	if err != nil {
		t.Fatal(err)
	}

	x := dynamo.State{0, 1}
	ratio := long.Energetic.Energy(x) / base.Energetic.Energy(x)
	wantRatio := math.Pow(2/physicsLength(base), 2)
	if math.Abs(ratio-wantRatio) > 1e-12 {
		t.Errorf("kinetic energy ratio %v, want %v", ratio, wantRatio)
	}

	if _, err := reg.GetProblem("cartpole", Params{Model: map[string]float64{"length": 1}}); err == nil {
		t.Error("expected error for unknown cart-pole parameter")
	}
}

func physicsLength(inst *Instance) float64 {
	return inst.Energetic.(dynamo.Configurable).GetParams()["length"]
}

func TestDefaultMetrics(t *testing.T) {
	reg := NewRegistry()
	tests := []struct {
		problem string
		want    int
	}{
		{"lqr1d", 4},
		{"pendulum", 5},
	}
	for _, tt := range tests {
		inst, err := reg.GetProblem(tt.problem, Params{})
		if err != nil {
			t.Fatal(err)
		}
		fs := DefaultMetrics(inst, []dynamo.State{inst.X0}, 1)
		if len(fs) != tt.want {
			t.Errorf("%s: expected %d metrics, got %d", tt.problem, tt.want, len(fs))
		}
		if fs[0]() == fs[0]() {
			t.Errorf("%s: metric factory returned a shared instance", tt.problem)
		}
	}
}

func TestExperimentRun(t *testing.T) {
	cfg := Config{
		Problem: "lqr1d",
		Steps:   20,
		Options: ddp.DefaultOptions(),
		Validation: ValidationConfig{
			Runs:      3,
			Seed:      1,
			Threshold: 2,
		},
	}
	exp, err := New(NewRegistry(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	out, err := exp.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !out.Result.Status.Converged() {
		t.Errorf("expected convergence, got %s", out.Result.Status)
	}
	if out.Result.Trajectory.Len() != 20 {
		t.Errorf("expected horizon 20, got %d", out.Result.Trajectory.Len())
	}

	// Without noise the closed loop reproduces the nominal trajectory.
	if len(out.Validation) != 3 || out.Summary.Diverged != 0 {
		t.Fatalf("unexpected validation summary %+v", out.Summary)
	}
	if math.Abs(out.Summary.MeanCost-out.Result.Cost()) > 1e-9 {
		t.Errorf("closed-loop cost %f differs from optimized cost %f", out.Summary.MeanCost, out.Result.Cost())
	}
	if out.Summary.Metrics["tracking_rms"] > 1e-9 {
		t.Errorf("expected zero tracking error, got %g", out.Summary.Metrics["tracking_rms"])
	}
	if out.Summary.Metrics["stability"] != 1 {
		t.Errorf("expected full stability, got %f", out.Summary.Metrics["stability"])
	}
}

func TestExperimentNoisyValidation(t *testing.T) {
	cfg := Config{
		Problem: "double_integrator",
		Options: ddp.DefaultOptions(),
		Validation: ValidationConfig{
			Runs:         4,
			InitialNoise: 0.05,
			Noise:        0.001,
			Seed:         3,
			Workers:      2,
		},
	}
	exp, err := New(NewRegistry(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	out, err := exp.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if out.Summary.Diverged != 0 {
		t.Errorf("feedback policy diverged in %d runs", out.Summary.Diverged)
	}
	if out.Summary.Metrics["tracking_rms"] <= 0 {
		t.Error("expected the perturbed runs to deviate from the nominal")
	}
}

func TestExperimentOpenLoopBaseline(t *testing.T) {
	cfg := Config{
		Problem: "double_integrator",
		Options: ddp.DefaultOptions(),
		Validation: ValidationConfig{
			Runs:         6,
			InitialNoise: 0.1,
			Seed:         11,
			Baseline:     true,
		},
	}
	exp, err := New(NewRegistry(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	out, err := exp.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if out.Baseline.Runs != 6 {
		t.Fatalf("expected 6 open-loop runs, got %d", out.Baseline.Runs)
	}
	closed, open := out.Summary.Metrics["tracking_rms"], out.Baseline.Metrics["tracking_rms"]
	if closed >= open {
		t.Errorf("feedback tracking error %v not below open-loop %v", closed, open)
	}
}

func TestExperimentBadInputs(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown problem", Config{Problem: "drone", Options: ddp.DefaultOptions()}},
		{"state dimension", Config{Problem: "pendulum", X0: []float64{1}, Options: ddp.DefaultOptions()}},
		{"control dimension", Config{Problem: "lqr1d", U0: []float64{1, 2}, Options: ddp.DefaultOptions()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(NewRegistry(), tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}

	_, err := New(NewRegistry(), Config{Problem: "lqr1d", X0: []float64{1, 2}, Options: ddp.DefaultOptions()})
	if !errors.Is(err, dynamo.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestExperimentDefaultBounds(t *testing.T) {
	exp, err := New(NewRegistry(), Config{Problem: "pendulum", Steps: 5, Options: ddp.DefaultOptions()})
	if err != nil {
		t.Fatal(err)
	}
	b := exp.optimizer.Options().Bounds
	if b == nil || b.Lower[0] != -3 || b.Upper[0] != 3 {
		t.Errorf("expected pendulum torque limits, got %+v", b)
	}
	if us := exp.InitialControls(); len(us) != 5 || len(us[0]) != 1 {
		t.Errorf("unexpected initial controls %v", us)
	}
}

func TestExperimentTrustRegionReference(t *testing.T) {
	opts := ddp.DefaultOptions()
	opts.MaxIter = 3
	opts.KL = ddp.KLOptions{Step: 1}
	exp, err := New(NewRegistry(), Config{Problem: "lqr1d", Steps: 10, Options: opts})
	if err != nil {
		t.Fatal(err)
	}
	ref := exp.cfg.Options.KL.Reference
	if ref == nil || ref.Len() != 10 {
		t.Fatalf("expected a reference over the horizon, got %v", ref)
	}
	out, err := exp.Run(context.Background())
	if err != nil && !errors.Is(err, ddp.ErrRegularizationSaturated) {
		t.Fatal(err)
	}
	if out.Result.Eta <= 0 {
		t.Errorf("expected a positive dual variable, got %f", out.Result.Eta)
	}
}
