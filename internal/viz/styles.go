package viz

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/trajopt/internal/ddp"
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("240"))

	Subtle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("242"))

	MetricLabel = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(16)

	MetricValue = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	StatusGood = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00ff88"))

	StatusWarn = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffaa00"))

	StatusBad = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ff4444"))

	SparkHigh = lipgloss.NewStyle().Foreground(lipgloss.Color("#00ff88"))
	SparkMid  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ffcc00"))
	SparkLow  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff4444"))
)

// Status renders an optimizer status in its traffic-light color.
func Status(s ddp.Status) string {
	switch {
	case s.Converged():
		return StatusGood.Render(s.String())
	case s == ddp.StatusFailed || s == ddp.StatusRegularizationSaturated:
		return StatusBad.Render(s.String())
	default:
		return StatusWarn.Render(s.String())
	}
}

// Metric renders one "label value" line.
func Metric(label string, format string, v ...any) string {
	return MetricLabel.Render(label) + MetricValue.Render(fmt.Sprintf(format, v...))
}

// ProgressBar renders fraction done in [0, 1] over width cells.
func ProgressBar(percent float64, width int) string {
	filled := max(0, min(width, int(percent*float64(width))))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	switch {
	case percent > 0.8:
		return SparkHigh.Render(bar)
	case percent > 0.4:
		return SparkMid.Render(bar)
	default:
		return SparkLow.Render(bar)
	}
}

// Sparkline renders values as one line of block characters, sampled to width.
// Low values are green since every series shown here is a cost or a step.
func Sparkline(values []float64, width int) string {
	if len(values) == 0 {
		return strings.Repeat("─", width)
	}
	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

	lo, hi := values[0], values[0]
	for _, v := range values {
		lo, hi = min(lo, v), max(hi, v)
	}
	rng := hi - lo
	if rng == 0 {
		rng = 1
	}

	step := max(1, len(values)/width)
	var b strings.Builder
	for i := 0; i < width && i*step < len(values); i++ {
		norm := (values[i*step] - lo) / rng
		c := string(chars[max(0, min(len(chars)-1, int(norm*float64(len(chars)-1))))])
		switch {
		case norm > 0.7:
			b.WriteString(SparkLow.Render(c))
		case norm > 0.3:
			b.WriteString(SparkMid.Render(c))
		default:
			b.WriteString(SparkHigh.Render(c))
		}
	}
	return b.String()
}
