// Package viz renders optimizer output in the terminal.
//
//   - [Plotter]: a ddp.Plotter printing progress lines and final asciigraph
//     charts of the cost trace, states and controls
//   - [CostChart], [StateCharts]: the charts behind the plot command
//   - [Canvas], [PhasePortrait]: Braille-dot phase portraits
//   - lipgloss styles shared with the live view
package viz
