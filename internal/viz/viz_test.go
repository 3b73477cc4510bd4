package viz

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/san-kum/trajopt/internal/ddp"
	"github.com/san-kum/trajopt/internal/dynamo"
)

func TestCanvasSet(t *testing.T) {
	c := NewCanvas(2, 1)
	c.Set(0, 0)
	c.Set(3, 3)
	c.Set(-1, 0)
	c.Set(4, 0)

	if c.Grid[0][0] != brailleBlank+0x1 {
		t.Errorf("unexpected cell %U", c.Grid[0][0])
	}
	if c.Grid[0][1] != brailleBlank+0x80 {
		t.Errorf("unexpected cell %U", c.Grid[0][1])
	}

	c.Clear()
	if c.Grid[0][0] != brailleBlank || c.Grid[0][1] != brailleBlank {
		t.Error("expected blank canvas after clear")
	}
}

func TestCanvasDrawLine(t *testing.T) {
	c := NewCanvas(4, 1)
	c.DrawLine(0, 0, 7, 0)
	for col := 0; col < 4; col++ {
		if c.Grid[0][col] != brailleBlank+0x1+0x8 {
			t.Errorf("column %d: unexpected cell %U", col, c.Grid[0][col])
		}
	}
}

func TestPolylineCorners(t *testing.T) {
	c := NewCanvas(3, 2)
	c.Polyline([]float64{0, 1}, []float64{0, 1})

	// (0,0) maps to the bottom-left dot and (1,1) to the top-right one.
	if c.Grid[1][0]&0x40 == 0 {
		t.Error("bottom-left dot not set")
	}
	if c.Grid[0][2]&0x8 == 0 {
		t.Error("top-right dot not set")
	}
}

func TestPolylineDegenerate(t *testing.T) {
	c := NewCanvas(3, 2)
	c.Polyline(nil, nil)
	c.Polyline([]float64{nan()}, []float64{1})
	if strings.Trim(c.String(), string(rune(brailleBlank))+"\n") != "" {
		t.Error("expected blank canvas")
	}

	c.Polyline([]float64{2, 2}, []float64{5, 5})
	if strings.Trim(c.String(), string(rune(brailleBlank))+"\n") == "" {
		t.Error("constant series should still be drawn")
	}
}

func nan() float64 {
	zero := 0.0
	return zero / zero
}

func trajectory() *dynamo.Trajectory {
	return &dynamo.Trajectory{
		States:   []dynamo.State{{1, 0}, {0.5, -0.5}, {0.2, -0.3}, {0, 0}},
		Controls: []dynamo.Control{{-1}, {-0.4}, {-0.2}, {0}},
		Costs:    []float64{2, 0.5, 0.1, 0},
	}
}

func TestPhasePortrait(t *testing.T) {
	out := PhasePortrait(trajectory(), 0, 1, 10, 4)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(lines))
	}
	if utf8.RuneCountInString(lines[0]) != 10 {
		t.Errorf("expected 10 columns, got %d", utf8.RuneCountInString(lines[0]))
	}
}

func TestLabel(t *testing.T) {
	tests := []struct {
		problem string
		i       int
		want    string
	}{
		{"pendulum", 0, "theta"},
		{"cartpole", 2, "pole angle"},
		{"pendulum", 5, "x5"},
		{"unknown", 1, "x1"},
	}
	for _, tt := range tests {
		if got := Label(tt.problem, tt.i); got != tt.want {
			t.Errorf("Label(%s, %d) = %q, want %q", tt.problem, tt.i, got, tt.want)
		}
	}
}

func TestCostChart(t *testing.T) {
	if CostChart(nil) != "" {
		t.Error("expected no chart for an empty trace")
	}

	trace := ddp.Trace{
		{Iteration: 1, Cost: 10, Accepted: true},
		{Iteration: 1, Cost: 12},
		{Iteration: 2, Cost: 1, Accepted: true},
	}
	if !strings.Contains(CostChart(trace), "log10 cost") {
		t.Error("expected a log-scale caption for positive costs")
	}

	trace[2].Cost = -1
	if strings.Contains(CostChart(trace), "log10") {
		t.Error("expected a linear caption for non-positive costs")
	}
	if CostChart(trace[:1]) == "" {
		t.Error("expected a chart for a single iteration")
	}
}

func TestStateCharts(t *testing.T) {
	charts := StateCharts("pendulum", trajectory(), 1)
	if len(charts) != 2 {
		t.Fatalf("expected one state and one control chart, got %d", len(charts))
	}
	if !strings.Contains(charts[0], "theta") || !strings.Contains(charts[1], "u0") {
		t.Error("missing captions")
	}
	if StateCharts("pendulum", &dynamo.Trajectory{}, 2) != nil {
		t.Error("expected no charts for an empty trajectory")
	}
}

func TestPlotter(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlotter(&buf, "pendulum")
	p.Every = 2

	snap := &ddp.Snapshot{
		Trajectory: trajectory(),
		Trace:      ddp.Trace{{Iteration: 1, Cost: 3, Accepted: true}},
	}
	p.Plot(snap, ddp.PlotIteration)
	if buf.Len() != 0 {
		t.Error("expected no output before the second accepted iteration")
	}

	snap.Trace = append(snap.Trace, ddp.Record{Iteration: 2, Cost: 2, Accepted: true})
	p.Plot(snap, ddp.PlotIteration)
	if !strings.Contains(buf.String(), "iter 2") {
		t.Errorf("expected a progress line, got %q", buf.String())
	}

	buf.Reset()
	p.Plot(snap, ddp.PlotFinal)
	out := buf.String()
	for _, want := range []string{"optimization", "log10 cost", "theta", "omega", "u0"} {
		if !strings.Contains(out, want) {
			t.Errorf("final plot misses %q", want)
		}
	}
}

func TestSparklineAndProgress(t *testing.T) {
	if got := Sparkline(nil, 5); got != "─────" {
		t.Errorf("unexpected empty sparkline %q", got)
	}
	if !strings.Contains(Sparkline([]float64{3, 2, 1}, 3), "▁") {
		t.Error("expected the lowest block for the minimum")
	}
	if !strings.Contains(ProgressBar(0.5, 4), "██░░") {
		t.Error("unexpected progress bar")
	}
	if !strings.Contains(ProgressBar(2, 3), "███") {
		t.Error("progress bar should clamp to its width")
	}
}

func TestStatus(t *testing.T) {
	for _, s := range []ddp.Status{ddp.StatusConvergedCost, ddp.StatusFailed, ddp.StatusMaxIterations} {
		if !strings.Contains(Status(s), s.String()) {
			t.Errorf("status %v not rendered", s)
		}
	}
}
