package export

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/gomega"

	"gonum.org/v1/plot"

	"github.com/san-kum/trajopt/internal/config"
	"github.com/san-kum/trajopt/internal/ddp"
	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/experiment"
	"github.com/san-kum/trajopt/internal/storage"
)

func trajectory() *dynamo.Trajectory {
	return &dynamo.Trajectory{
		States:   []dynamo.State{{1, 0}, {0.5, -0.5}, {0, 0}},
		Controls: []dynamo.Control{{-1}, {-0.5}, {0}},
		Costs:    []float64{1, 0.5, 0},
	}
}

func trace() ddp.Trace {
	return ddp.Trace{
		{Iteration: 1, Cost: 4, Lambda: 1, Accepted: true},
		{Iteration: 1, Cost: 5, Lambda: 1.6},
		{Iteration: 2, Cost: 1, Lambda: 0.6, Accepted: true},
	}
}

func TestFigures(t *testing.T) {
	g := NewWithT(t)

	p, err := CostFigure(trace())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(p.Y.Scale).To(BeAssignableToTypeOf(plot.LogScale{}))

	linear := trace()
	linear[2].Cost = 0
	p, err = CostFigure(linear)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(p.Y.Label.Text).To(Equal("cost"))

	_, err = CostFigure(ddp.Trace{{Iteration: 1}})
	g.Expect(err).To(HaveOccurred())

	_, err = StateFigure("pendulum", trajectory())
	g.Expect(err).NotTo(HaveOccurred())
	_, err = StateFigure("pendulum", &dynamo.Trajectory{})
	g.Expect(err).To(HaveOccurred())

	_, err = ControlFigure(trajectory())
	g.Expect(err).NotTo(HaveOccurred())
	_, err = ControlFigure(&dynamo.Trajectory{States: []dynamo.State{{0}}, Controls: []dynamo.Control{{0}}})
	g.Expect(err).To(HaveOccurred())
}

func TestSaveFigures(t *testing.T) {
	g := NewWithT(t)
	dir := t.TempDir()

	for _, format := range []string{"png", ".SVG"} {
		paths, err := SaveFigures(dir, "run", format, "pendulum", trajectory(), trace())
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(paths).To(HaveLen(3))
		for _, path := range paths {
			info, err := os.Stat(path)
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(info.Size()).To(BeNumerically(">", 0))
		}
	}
	g.Expect(filepath.Join(dir, "run_cost.svg")).To(BeAnExistingFile())

	_, err := SaveFigures(dir, "run", "bmp", "pendulum", trajectory(), trace())
	g.Expect(err).To(MatchError(ContainSubstring("unsupported format")))
}

func TestWriteJSON(t *testing.T) {
	g := NewWithT(t)
	st := storage.New(t.TempDir())

	cfg := config.GetPreset("lqr1d", "default")
	cfg.Steps = 8
	cfg.Optimizer.Verbosity = 0
	cfg.Validation.Runs = 0
	exp, err := experiment.New(experiment.NewRegistry(), cfg.Experiment())
	g.Expect(err).NotTo(HaveOccurred())
	out, err := exp.Run(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	runID, err := st.Save(storage.NewMetadata(out), out.Result, cfg)
	g.Expect(err).NotTo(HaveOccurred())

	var buf bytes.Buffer
	g.Expect(WriteJSON(&buf, st, runID)).To(Succeed())

	var data ExportData
	g.Expect(json.Unmarshal(buf.Bytes(), &data)).To(Succeed())
	g.Expect(data.Run.ID).To(Equal(runID))
	g.Expect(data.Steps).To(Equal(8))
	g.Expect(data.States).To(HaveLen(8))
	g.Expect(data.Trace).To(HaveLen(len(out.Result.Trace)))

	g.Expect(WriteJSON(&buf, st, "missing")).NotTo(Succeed())
}
