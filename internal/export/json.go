package export

import (
	"encoding/json"
	"io"

	"github.com/san-kum/trajopt/internal/ddp"
	"github.com/san-kum/trajopt/internal/storage"
)

type TraceRow struct {
	Iteration   int     `json:"iteration"`
	Cost        float64 `json:"cost"`
	Lambda      float64 `json:"lambda"`
	Alpha       float64 `json:"alpha"`
	Improvement float64 `json:"improvement"`
	Expected    float64 `json:"expected"`
	Accepted    bool    `json:"accepted"`
	Eta         float64 `json:"eta,omitempty"`
	Divergence  float64 `json:"divergence,omitempty"`
}

type ExportData struct {
	Run      storage.RunMetadata `json:"run"`
	Steps    int                 `json:"steps"`
	States   [][]float64         `json:"states"`
	Controls [][]float64         `json:"controls"`
	Costs    []float64           `json:"costs"`
	Trace    []TraceRow          `json:"trace"`
}

// WriteJSON writes a stored run as one indented JSON document.
func WriteJSON(w io.Writer, st *storage.Store, runID string) error {
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	tr, err := st.LoadTrajectory(runID)
	if err != nil {
		return err
	}
	trace, err := st.LoadTrace(runID)
	if err != nil {
		return err
	}

	data := ExportData{
		Run:      *meta,
		Steps:    tr.Len(),
		States:   make([][]float64, tr.Len()),
		Controls: make([][]float64, tr.Len()),
		Costs:    tr.Costs,
		Trace:    traceRows(trace),
	}
	for i := range tr.States {
		data.States[i] = tr.States[i]
		data.Controls[i] = tr.Controls[i]
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func traceRows(trace ddp.Trace) []TraceRow {
	rows := make([]TraceRow, len(trace))
	for i, r := range trace {
		rows[i] = TraceRow{
			Iteration:   r.Iteration,
			Cost:        r.Cost,
			Lambda:      r.Lambda,
			Alpha:       r.Alpha,
			Improvement: r.Improvement,
			Expected:    r.Expected,
			Accepted:    r.Accepted,
			Eta:         r.Eta,
			Divergence:  r.Divergence,
		}
	}
	return rows
}
