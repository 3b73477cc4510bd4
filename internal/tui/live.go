package tui

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/trajopt/internal/ddp"
	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/experiment"
	"github.com/san-kum/trajopt/internal/viz"
)

const (
	graphWidth  = 50
	graphHeight = 8
	barWidth    = 30
)

var (
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	graphStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("49"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginTop(1)
)

// IterationMsg carries one accepted iteration.
type IterationMsg struct {
	Record     ddp.Record
	Trajectory *dynamo.Trajectory
}

// DoneMsg ends the run.
type DoneMsg struct {
	Outcome *experiment.Outcome
	Err     error
}

type tickMsg time.Time

// Model is the live view of one optimizer run.
type Model struct {
	title   string
	maxIter int
	cancel  context.CancelFunc

	records    []ddp.Record
	trajectory *dynamo.Trajectory
	start      time.Time
	elapsed    time.Duration
	frame      int

	done    bool
	outcome *experiment.Outcome
	err     error
}

func NewModel(title string, maxIter int, cancel context.CancelFunc) Model {
	return Model{title: title, maxIter: maxIter, cancel: cancel, start: time.Now()}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second/10, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd { return tick() }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
	case IterationMsg:
		m.records = append(m.records, msg.Record)
		m.trajectory = msg.Trajectory
	case DoneMsg:
		m.done = true
		m.outcome, m.err = msg.Outcome, msg.Err
		m.elapsed = time.Since(m.start)
		if msg.Outcome != nil && msg.Outcome.Result != nil {
			m.trajectory = msg.Outcome.Result.Trajectory
		}
	case tickMsg:
		if m.done {
			return m, nil
		}
		m.frame++
		m.elapsed = time.Since(m.start)
		return m, tick()
	}
	return m, nil
}

var spinner = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

func (m Model) status() string {
	switch {
	case m.err != nil && (m.outcome == nil || m.outcome.Result == nil):
		return viz.StatusBad.Render("error: " + m.err.Error())
	case m.done && m.outcome != nil && m.outcome.Result != nil:
		return viz.Status(m.outcome.Result.Status)
	default:
		return viz.StatusWarn.Render(spinner[m.frame%len(spinner)] + " optimizing")
	}
}

func (m Model) View() string {
	var s strings.Builder
	s.WriteString(viz.HeaderStyle.Render(strings.ToUpper(m.title)) + "\n")
	s.WriteString(m.status() + "\n\n")

	progress := 0.0
	if m.maxIter > 0 {
		progress = float64(len(m.records)) / float64(m.maxIter)
	}
	s.WriteString(viz.ProgressBar(progress, barWidth) + fmt.Sprintf(" %d/%d\n", len(m.records), m.maxIter))
	s.WriteString(viz.Metric("elapsed", "%s", m.elapsed.Round(time.Millisecond)) + "\n")

	if n := len(m.records); n > 0 {
		r := m.records[n-1]
		s.WriteString(viz.Metric("cost", "%.8g", r.Cost) + "\n")
		s.WriteString(viz.Metric("improvement", "%.3g", r.Improvement) + "\n")
		s.WriteString(viz.Metric("lambda", "%.3g", r.Lambda) + "\n")
		s.WriteString(viz.Metric("alpha", "%.3g", r.Alpha) + "\n")
		s.WriteString(viz.Metric("gradient", "%.3g", r.GradNorm) + "\n")
		if r.Eta > 0 {
			s.WriteString(viz.Metric("eta", "%.3g", r.Eta) + "\n")
			s.WriteString(viz.Metric("divergence", "%.3g", r.Divergence) + "\n")
		}

		lambdas := make([]float64, n)
		for i, rec := range m.records {
			lambdas[i] = math.Log10(math.Max(rec.Lambda, 1e-12))
		}
		s.WriteString(viz.Metric("log10 lambda", "%s", viz.Sparkline(lambdas, graphWidth/2)) + "\n")
	}

	main := panelStyle.Render(s.String())
	if chart := m.costChart(); chart != "" {
		main = lipgloss.JoinHorizontal(lipgloss.Top, main, panelStyle.Render(graphStyle.Render(chart)))
	}

	var out strings.Builder
	out.WriteString(main + "\n")
	if m.trajectory.Len() > 1 && len(m.trajectory.States[0]) > 1 {
		out.WriteString(panelStyle.Render("phase portrait\n"+viz.PhasePortrait(m.trajectory, 0, 1, graphWidth/2, 6)) + "\n")
	}
	if m.done && m.outcome != nil && m.outcome.Summary.Runs > 0 {
		sum := m.outcome.Summary
		out.WriteString(panelStyle.Render(fmt.Sprintf("closed loop: %d runs, %d diverged, mean cost %.6g",
			sum.Runs, sum.Diverged, sum.MeanCost)) + "\n")
	}
	out.WriteString(helpStyle.Render("q: quit"))
	return out.String()
}

func (m Model) costChart() string {
	if len(m.records) < 2 {
		return ""
	}
	costs := make([]float64, len(m.records))
	for i, r := range m.records {
		costs[i] = r.Cost
	}
	return asciigraph.Plot(costs,
		asciigraph.Height(graphHeight),
		asciigraph.Width(graphWidth),
		asciigraph.Caption("cost"),
	)
}

// Feed is a ddp.Plotter forwarding accepted iterations to a running program.
type Feed struct {
	send func(tea.Msg)
}

func NewFeed(p *tea.Program) *Feed { return &Feed{send: p.Send} }

func (f *Feed) Plot(s *ddp.Snapshot, flag ddp.PlotFlag) {
	if flag != ddp.PlotIteration || len(s.Trace) == 0 {
		return
	}
	f.send(IterationMsg{Record: s.Trace[len(s.Trace)-1], Trajectory: s.Trajectory.Clone()})
}

// Run shows the live view while run executes. run receives the plotter to
// install in the optimizer options and a context canceled when the user
// quits.
func Run(ctx context.Context, title string, maxIter int, run func(context.Context, ddp.Plotter) (*experiment.Outcome, error)) (*experiment.Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewModel(title, maxIter, cancel), tea.WithAltScreen())
	feed := NewFeed(p)

	type result struct {
		out *experiment.Outcome
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		out, err := run(ctx, feed)
		resCh <- result{out, err}
		p.Send(DoneMsg{Outcome: out, Err: err})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		return nil, err
	}
	cancel()
	res := <-resCh
	return res.out, res.err
}
