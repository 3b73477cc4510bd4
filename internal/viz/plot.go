package viz

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/trajopt/internal/ddp"
	"github.com/san-kum/trajopt/internal/dynamo"
)

const (
	chartWidth  = 60
	chartHeight = 10
)

// StateLabels names the state components of the registered problems.
var StateLabels = map[string][]string{
	"lqr1d":             {"x"},
	"double_integrator": {"position", "velocity"},
	"pendulum":          {"theta", "omega"},
	"cartpole":          {"cart position", "cart velocity", "pole angle", "pole angular velocity"},
}

// Label returns the name of state component i of problem.
func Label(problem string, i int) string {
	if names, ok := StateLabels[problem]; ok && i < len(names) {
		return names[i]
	}
	return fmt.Sprintf("x%d", i)
}

// CostChart plots the total cost after each accepted iteration on a log10
// scale when every cost is positive.
func CostChart(trace ddp.Trace) string {
	costs := trace.Costs()
	if len(costs) == 0 {
		return ""
	}
	caption := "cost per accepted iteration"
	if positive(costs) {
		logs := make([]float64, len(costs))
		for i, c := range costs {
			logs[i] = math.Log10(c)
		}
		costs, caption = logs, "log10 cost per accepted iteration"
	}
	if len(costs) == 1 {
		costs = []float64{costs[0], costs[0]}
	}
	return asciigraph.Plot(costs,
		asciigraph.Height(chartHeight),
		asciigraph.Width(chartWidth),
		asciigraph.Caption(caption),
	)
}

func positive(vs []float64) bool {
	for _, v := range vs {
		if v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
			return false
		}
	}
	return true
}

// StateCharts plots up to limit state components and every control component
// over the horizon.
func StateCharts(problem string, tr *dynamo.Trajectory, limit int) []string {
	if tr.Len() == 0 {
		return nil
	}
	var charts []string
	n := min(len(tr.States[0]), limit)
	for i := 0; i < n; i++ {
		data := make([]float64, tr.Len())
		for t, x := range tr.States {
			data[t] = x[i]
		}
		charts = append(charts, series(data, Label(problem, i)))
	}
	for i := range tr.Controls[0] {
		data := make([]float64, tr.Len())
		for t, u := range tr.Controls {
			data[t] = u[i]
		}
		charts = append(charts, series(data, fmt.Sprintf("u%d", i)))
	}
	return charts
}

func series(data []float64, caption string) string {
	if len(data) == 1 {
		data = []float64{data[0], data[0]}
	}
	return asciigraph.Plot(data,
		asciigraph.Height(chartHeight),
		asciigraph.Width(chartWidth),
		asciigraph.Caption(caption),
	)
}

// Plotter renders optimizer snapshots as terminal charts. With Every > 0 it
// also prints a one-line status every Every accepted iterations.
type Plotter struct {
	Out     io.Writer
	Problem string
	Every   int
	States  int
}

func NewPlotter(out io.Writer, problem string) *Plotter {
	return &Plotter{Out: out, Problem: problem, States: 2}
}

func (p *Plotter) Plot(s *ddp.Snapshot, flag ddp.PlotFlag) {
	if flag == ddp.PlotIteration {
		acc := s.Trace.Accepted()
		if p.Every <= 0 || len(acc) == 0 || len(acc)%p.Every != 0 {
			return
		}
		r := acc[len(acc)-1]
		fmt.Fprintf(p.Out, "%s iter %-4d cost %-12.6g lambda %-8.2g alpha %.3g\n",
			Subtle.Render("·"), r.Iteration, r.Cost, r.Lambda, r.Alpha)
		return
	}

	var b strings.Builder
	b.WriteString(HeaderStyle.Render("optimization") + "\n")
	if chart := CostChart(s.Trace); chart != "" {
		b.WriteString(chart + "\n\n")
	}
	for _, c := range StateCharts(p.Problem, s.Trajectory, p.States) {
		b.WriteString(c + "\n\n")
	}
	fmt.Fprint(p.Out, b.String())
}
