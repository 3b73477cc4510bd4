package optim

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/onsi/gomega"

	"github.com/san-kum/trajopt/internal/config"
	"github.com/san-kum/trajopt/internal/experiment"
)

func TestGridSearchPoints(t *testing.T) {
	g, err := NewGridSearch([]string{"a", "b"}, [][]float64{{1, 2}, {10, 20, 30}})
	if err != nil {
		t.Fatal(err)
	}
	if g.Size() != 6 {
		t.Fatalf("expected 6 points, got %d", g.Size())
	}
	points := g.Points()
	if len(points) != 6 {
		t.Fatalf("expected 6 points, got %d", len(points))
	}
	if points[0]["a"] != 1 || points[0]["b"] != 10 || points[5]["a"] != 2 || points[5]["b"] != 30 {
		t.Errorf("unexpected order %v", points)
	}
}

func TestNewGridSearchErrors(t *testing.T) {
	tests := []struct {
		name   string
		params []string
		ranges [][]float64
	}{
		{"empty", nil, nil},
		{"mismatch", []string{"a"}, [][]float64{{1}, {2}}},
		{"no values", []string{"a"}, [][]float64{{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewGridSearch(tt.params, tt.ranges); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestGridSearchOrdersTrials(t *testing.T) {
	g := gomega.NewWithT(t)
	search, err := NewGridSearch([]string{"x", "y"}, [][]float64{{-1, 0, 1, 2}, {0, 1}})
	g.Expect(err).NotTo(gomega.HaveOccurred())
	search.SetLimit(3)

	failure := errors.New("bad point")
	trials, err := search.Search(context.Background(), func(_ context.Context, p map[string]float64) (float64, error) {
		if p["x"] == 2 {
			return 0, failure
		}
		return (p["x"]-0.9)*(p["x"]-0.9) + p["y"], nil
	})
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(trials).To(gomega.HaveLen(8))

	best, ok := Best(trials)
	g.Expect(ok).To(gomega.BeTrue())
	g.Expect(best.Params).To(gomega.Equal(map[string]float64{"x": 1, "y": 0}))

	for i := 1; i < 6; i++ {
		g.Expect(trials[i].Score).To(gomega.BeNumerically(">=", trials[i-1].Score))
	}
	for _, tr := range trials[6:] {
		g.Expect(tr.Err).To(gomega.MatchError(failure))
		g.Expect(math.IsInf(tr.Score, 1)).To(gomega.BeTrue())
	}
}

func TestGridSearchCanceled(t *testing.T) {
	search, err := NewGridSearch([]string{"x"}, [][]float64{{1, 2, 3}})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = search.Search(ctx, func(ctx context.Context, _ map[string]float64) (float64, error) {
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestParseAxis(t *testing.T) {
	tests := []struct {
		in     string
		name   string
		values []float64
		err    bool
	}{
		{in: "lambda=0.1,1,10", name: "lambda", values: []float64{0.1, 1, 10}},
		{in: "zmin=0:1:3", name: "zmin", values: []float64{0, 0.5, 1}},
		{in: "lambda=1:100:3:log", name: "lambda", values: []float64{1, 10, 100}},
		{in: "model.length=1", name: "model.length", values: []float64{1}},
		{in: "lambda", err: true},
		{in: "=1,2", err: true},
		{in: "lambda=a,b", err: true},
		{in: "lambda=0:1", err: true},
		{in: "lambda=0:1:1", err: true},
		{in: "lambda=0:1:3:log", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			name, values, err := ParseAxis(tt.in)
			if tt.err {
				if err == nil {
					t.Errorf("expected error, got %s=%v", name, values)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if name != tt.name || len(values) != len(tt.values) {
				t.Fatalf("got %s=%v, want %s=%v", name, values, tt.name, tt.values)
			}
			for i := range values {
				if math.Abs(values[i]-tt.values[i]) > 1e-12 {
					t.Errorf("value %d: got %v, want %v", i, values[i], tt.values[i])
				}
			}
		})
	}
}

func TestApply(t *testing.T) {
	base := config.GetPreset("pendulum", "swingup")
	cfg := base.Clone()

	for name, v := range map[string]float64{
		"lambda":       0.5,
		"steps":        40.4,
		"reg_type":     2,
		"kl_step":      3,
		"model.length": 1.5,
	} {
		if err := Apply(cfg, name, v); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}
	if cfg.Optimizer.Lambda != 0.5 || cfg.Steps != 40 || cfg.Optimizer.RegType != 2 || cfg.KL.Step != 3 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Model["length"] != 1.5 {
		t.Errorf("model override missing: %v", cfg.Model)
	}
	if base.Model != nil {
		t.Errorf("base config modified: %v", base.Model)
	}

	if err := Apply(cfg, "kp", 1); !errors.Is(err, ErrUnknownParam) {
		t.Errorf("expected ErrUnknownParam, got %v", err)
	}
	for _, name := range Tunables {
		if err := Apply(cfg.Clone(), name, 1); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
}

func TestExperimentObjective(t *testing.T) {
	g := gomega.NewWithT(t)

	base := config.GetPreset("lqr1d", "default")
	base.Steps = 10
	base.Validation.Runs = 2
	search, err := NewGridSearch([]string{"lambda", "reg_type"}, [][]float64{{0.1, 1}, {1, 2}})
	g.Expect(err).NotTo(gomega.HaveOccurred())

	trials, err := search.Search(context.Background(), ExperimentObjective(experiment.NewRegistry(), base, ScoreCost))
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(trials).To(gomega.HaveLen(4))
	for _, tr := range trials {
		g.Expect(tr.Err).NotTo(gomega.HaveOccurred())
		g.Expect(tr.Score).To(gomega.BeNumerically("~", trials[0].Score, 1e-5))
	}

	score := ExperimentObjective(experiment.NewRegistry(), base, "no_such_metric")
	_, err = score(context.Background(), map[string]float64{})
	g.Expect(err).To(gomega.HaveOccurred())

	validation := ExperimentObjective(experiment.NewRegistry(), base, ScoreValidationCost)
	v, err := validation(context.Background(), map[string]float64{})
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(v).To(gomega.BeNumerically(">", 0))
}
