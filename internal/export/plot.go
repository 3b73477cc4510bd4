package export

import (
	"fmt"
	"image/color"
	"math"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/san-kum/trajopt/internal/ddp"
	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/viz"
)

var (
	figureWidth  = 8 * vg.Inch
	figureHeight = 4 * vg.Inch
)

// Formats are the figure file extensions gonum/plot can write.
var Formats = []string{"png", "svg", "pdf", "eps", "jpg", "tiff"}

func supported(format string) bool {
	for _, f := range Formats {
		if f == format {
			return true
		}
	}
	return false
}

// CostFigure plots the cost after every accepted iteration, on a log axis
// when all costs are positive, together with the regularization λ.
func CostFigure(trace ddp.Trace) (*plot.Plot, error) {
	acc := trace.Accepted()
	if len(acc) == 0 {
		return nil, fmt.Errorf("no accepted iterations to plot")
	}

	p := plot.New()
	p.Title.Text = "Optimization trace"
	p.X.Label.Text = "iteration"

	cost := make(plotter.XYs, len(acc))
	lambda := make(plotter.XYs, 0, len(acc))
	logScale := true
	for i, r := range acc {
		cost[i].X, cost[i].Y = float64(r.Iteration), r.Cost
		if r.Cost <= 0 || math.IsInf(r.Cost, 0) {
			logScale = false
		}
		if r.Lambda > 0 {
			lambda = append(lambda, plotter.XY{X: float64(r.Iteration), Y: r.Lambda})
		}
	}

	if logScale {
		p.Y.Scale = plot.LogScale{}
		p.Y.Tick.Marker = plot.LogTicks{}
		p.Y.Label.Text = "cost, λ"
	} else {
		p.Y.Label.Text = "cost"
		lambda = nil
	}

	if err := plotutil.AddLinePoints(p, "cost", cost); err != nil {
		return nil, err
	}
	if len(lambda) > 0 {
		line, err := plotter.NewLine(lambda)
		if err != nil {
			return nil, err
		}
		line.Color = color.RGBA{R: 200, G: 120, A: 255}
		line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(line)
		p.Legend.Add("λ", line)
	}
	p.Add(plotter.NewGrid())
	return p, nil
}

// StateFigure plots every state component over the horizon.
func StateFigure(problem string, tr *dynamo.Trajectory) (*plot.Plot, error) {
	if tr.Len() == 0 {
		return nil, fmt.Errorf("empty trajectory")
	}
	p := plot.New()
	p.Title.Text = "States"
	p.X.Label.Text = "step"

	var lines []any
	for i := range tr.States[0] {
		pts := make(plotter.XYs, tr.Len())
		for t, x := range tr.States {
			pts[t].X, pts[t].Y = float64(t), x[i]
		}
		lines = append(lines, viz.Label(problem, i), pts)
	}
	if err := plotutil.AddLines(p, lines...); err != nil {
		return nil, err
	}
	p.Add(plotter.NewGrid())
	return p, nil
}

// ControlFigure plots the controls of the optimized steps. The last control
// of the horizon is never optimized and is left out.
func ControlFigure(tr *dynamo.Trajectory) (*plot.Plot, error) {
	if tr.Len() < 2 {
		return nil, fmt.Errorf("trajectory too short")
	}
	p := plot.New()
	p.Title.Text = "Controls"
	p.X.Label.Text = "step"

	steps := tr.Len() - 1
	var lines []any
	for i := range tr.Controls[0] {
		pts := make(plotter.XYs, steps)
		for t := 0; t < steps; t++ {
			pts[t].X, pts[t].Y = float64(t), tr.Controls[t][i]
		}
		lines = append(lines, fmt.Sprintf("u%d", i), pts)
	}
	if err := plotutil.AddLines(p, lines...); err != nil {
		return nil, err
	}
	p.Add(plotter.NewGrid())
	return p, nil
}

// SaveFigures writes cost, states and controls figures into dir as
// <prefix>_<name>.<format> and returns the written paths.
func SaveFigures(dir, prefix, format, problem string, tr *dynamo.Trajectory, trace ddp.Trace) ([]string, error) {
	format = strings.ToLower(strings.TrimPrefix(format, "."))
	if !supported(format) {
		return nil, fmt.Errorf("unsupported format %q, want one of %s", format, strings.Join(Formats, ", "))
	}

	figures := []struct {
		name  string
		build func() (*plot.Plot, error)
	}{
		{"cost", func() (*plot.Plot, error) { return CostFigure(trace) }},
		{"states", func() (*plot.Plot, error) { return StateFigure(problem, tr) }},
		{"controls", func() (*plot.Plot, error) { return ControlFigure(tr) }},
	}

	var paths []string
	for _, f := range figures {
		p, err := f.build()
		if err != nil {
			return paths, fmt.Errorf("%s figure: %w", f.name, err)
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.%s", prefix, f.name, format))
		if err := p.Save(figureWidth, figureHeight, path); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
