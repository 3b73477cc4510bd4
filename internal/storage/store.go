package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/trajopt/internal/config"
	"github.com/san-kum/trajopt/internal/ddp"
	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/experiment"
	"github.com/san-kum/trajopt/internal/kl"
)

const (
	metadataFile   = "metadata.json"
	configFile     = "config.yaml"
	trajectoryFile = "trajectory.csv"
	traceFile      = "trace.csv"
	gainsFile      = "gains.csv"
)

// ErrMalformed indicates a run file that cannot be parsed back.
var ErrMalformed = errors.New("storage: malformed run file")

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID          string             `json:"id"`
	Problem     string             `json:"problem"`
	Timestamp   time.Time          `json:"timestamp"`
	Status      string             `json:"status"`
	Error       string             `json:"error,omitempty"`
	Iterations  int                `json:"iterations"`
	Steps       int                `json:"steps"`
	StateDim    int                `json:"state_dim"`
	ControlDim  int                `json:"control_dim"`
	Cost        float64            `json:"cost"`
	Lambda      float64            `json:"lambda"`
	Eta         float64            `json:"eta,omitempty"`
	Divergence  float64            `json:"divergence,omitempty"`
	KLSatisfied bool               `json:"kl_satisfied"`
	ElapsedMs   float64            `json:"elapsed_ms"`
	Runs        int                `json:"validation_runs"`
	Diverged    int                `json:"validation_diverged"`
	MeanCost    float64            `json:"validation_mean_cost"`
	Metrics     map[string]float64 `json:"metrics"`
}

// NewMetadata summarizes an experiment outcome.
func NewMetadata(out *experiment.Outcome) RunMetadata {
	res := out.Result
	meta := RunMetadata{
		Problem:     out.Instance.Name,
		Timestamp:   time.Now(),
		Status:      res.Status.String(),
		Iterations:  res.Iterations,
		Steps:       res.Trajectory.Len(),
		StateDim:    out.Instance.Problem.StateDim(),
		ControlDim:  out.Instance.Problem.ControlDim(),
		Cost:        res.Cost(),
		Lambda:      res.Lambda,
		Eta:         res.Eta,
		Divergence:  res.Divergence,
		KLSatisfied: res.KLSatisfied,
		ElapsedMs:   float64(out.Elapsed.Microseconds()) / 1000,
		Runs:        out.Summary.Runs,
		Diverged:    out.Summary.Diverged,
		MeanCost:    out.Summary.MeanCost,
		Metrics:     out.Summary.Metrics,
	}
	if out.SolveErr != nil {
		meta.Error = out.SolveErr.Error()
	}
	return meta
}

// Save writes a run directory and returns its ID. cfg may be nil.
func (s *Store) Save(meta RunMetadata, res *ddp.Result, cfg *config.Config) (string, error) {
	runID := fmt.Sprintf("%s_%s", meta.Problem, uuid.NewString()[:8])
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}
	meta.ID = runID

	if err := writeJSON(filepath.Join(runDir, metadataFile), meta); err != nil {
		return "", err
	}
	if cfg != nil {
		if err := config.Save(filepath.Join(runDir, configFile), cfg); err != nil {
			return "", err
		}
	}
	if err := writeCSV(filepath.Join(runDir, trajectoryFile), trajectoryRows(res.Trajectory)); err != nil {
		return "", err
	}
	if err := writeCSV(filepath.Join(runDir, traceFile), traceRows(res.Trace)); err != nil {
		return "", err
	}
	if err := writeCSV(filepath.Join(runDir, gainsFile), gainRows(res.Law.Gains)); err != nil {
		return "", err
	}
	return runID, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return f.Close()
}

func format(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func trajectoryRows(tr *dynamo.Trajectory) [][]string {
	if tr.Len() == 0 {
		return [][]string{{"step"}}
	}
	n, m := len(tr.States[0]), len(tr.Controls[0])
	header := []string{"step"}
	for i := 0; i < n; i++ {
		header = append(header, fmt.Sprintf("x%d", i))
	}
	for i := 0; i < m; i++ {
		header = append(header, fmt.Sprintf("u%d", i))
	}
	header = append(header, "cost")

	rows := [][]string{header}
	for t := range tr.States {
		row := []string{strconv.Itoa(t)}
		for _, v := range tr.States[t] {
			row = append(row, format(v))
		}
		for _, v := range tr.Controls[t] {
			row = append(row, format(v))
		}
		row = append(row, format(tr.Costs[t]))
		rows = append(rows, row)
	}
	return rows
}

var traceHeader = []string{
	"iteration", "lambda", "dlambda", "alpha", "cost", "grad_norm", "improvement",
	"expected", "reduction", "accepted", "backward_retries", "eta", "divergence",
	"deriv_ms", "backward_ms", "forward_ms",
}

func ms(d time.Duration) string { return format(float64(d.Microseconds()) / 1000) }

func traceRows(trace ddp.Trace) [][]string {
	rows := [][]string{traceHeader}
	for _, r := range trace {
		rows = append(rows, []string{
			strconv.Itoa(r.Iteration), format(r.Lambda), format(r.DLambda), format(r.Alpha),
			format(r.Cost), format(r.GradNorm), format(r.Improvement), format(r.Expected),
			format(r.Reduction), strconv.FormatBool(r.Accepted), strconv.Itoa(r.BackwardRetries),
			format(r.Eta), format(r.Divergence),
			ms(r.DerivTime), ms(r.BackwardTime), ms(r.ForwardTime),
		})
	}
	return rows
}

// gainRows stores each m×n gain row-major, one step per row.
func gainRows(gains []*mat.Dense) [][]string {
	rows := [][]string{{"step", "rows", "cols", "k"}}
	for t, k := range gains {
		r, c := k.Dims()
		row := []string{strconv.Itoa(t), strconv.Itoa(r), strconv.Itoa(c)}
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				row = append(row, format(k.At(i, j)))
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// List returns the stored runs, newest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.After(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadConfig returns the configuration a run was made with.
func (s *Store) LoadConfig(runID string) (*config.Config, error) {
	return config.Load(filepath.Join(s.baseDir, runID, configFile))
}

func (s *Store) readCSV(runID, name string) ([][]string, error) {
	f, err := os.Open(filepath.Join(s.baseDir, runID, name))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s has no header", ErrMalformed, name)
	}
	return records[1:], nil
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		out[i] = v
	}
	return out, nil
}

func (s *Store) LoadTrajectory(runID string) (*dynamo.Trajectory, error) {
	meta, err := s.Load(runID)
	if err != nil {
		return nil, err
	}
	records, err := s.readCSV(runID, trajectoryFile)
	if err != nil {
		return nil, err
	}

	n, m := meta.StateDim, meta.ControlDim
	tr := &dynamo.Trajectory{}
	for i, rec := range records {
		if len(rec) != 2+n+m {
			return nil, fmt.Errorf("%w: row %d has %d fields, want %d", ErrMalformed, i, len(rec), 2+n+m)
		}
		vals, err := parseFloats(rec[1:])
		if err != nil {
			return nil, err
		}
		tr.States = append(tr.States, dynamo.State(vals[:n]))
		tr.Controls = append(tr.Controls, dynamo.Control(vals[n:n+m]))
		tr.Costs = append(tr.Costs, vals[n+m])
	}
	return tr, nil
}

func (s *Store) LoadTrace(runID string) (ddp.Trace, error) {
	records, err := s.readCSV(runID, traceFile)
	if err != nil {
		return nil, err
	}

	trace := make(ddp.Trace, 0, len(records))
	for i, rec := range records {
		if len(rec) != len(traceHeader) {
			return nil, fmt.Errorf("%w: trace row %d has %d fields", ErrMalformed, i, len(rec))
		}
		iter, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		accepted, err := strconv.ParseBool(rec[9])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		retries, err := strconv.Atoi(rec[10])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		head, err := parseFloats(rec[1:9])
		if err != nil {
			return nil, err
		}
		tail, err := parseFloats(rec[11:])
		if err != nil {
			return nil, err
		}
		trace = append(trace, ddp.Record{
			Iteration:       iter,
			Lambda:          head[0],
			DLambda:         head[1],
			Alpha:           head[2],
			Cost:            head[3],
			GradNorm:        head[4],
			Improvement:     head[5],
			Expected:        head[6],
			Reduction:       head[7],
			Accepted:        accepted,
			BackwardRetries: retries,
			Eta:             tail[0],
			Divergence:      tail[1],
			DerivTime:       duration(tail[2]),
			BackwardTime:    duration(tail[3]),
			ForwardTime:     duration(tail[4]),
		})
	}
	return trace, nil
}

func duration(ms float64) time.Duration { return time.Duration(ms * float64(time.Millisecond)) }

func (s *Store) LoadGains(runID string) ([]*mat.Dense, error) {
	records, err := s.readCSV(runID, gainsFile)
	if err != nil {
		return nil, err
	}
	gains := make([]*mat.Dense, 0, len(records))
	for i, rec := range records {
		if len(rec) < 3 {
			return nil, fmt.Errorf("%w: gain row %d", ErrMalformed, i)
		}
		r, err1 := strconv.Atoi(rec[1])
		c, err2 := strconv.Atoi(rec[2])
		if err := errors.Join(err1, err2); err != nil || r < 1 || c < 1 || len(rec) != 3+r*c {
			return nil, fmt.Errorf("%w: gain row %d", ErrMalformed, i)
		}
		vals, err := parseFloats(rec[3:])
		if err != nil {
			return nil, err
		}
		gains = append(gains, mat.NewDense(r, c, vals))
	}
	return gains, nil
}

// LoadDistribution rebuilds the trajectory distribution of a stored run, for
// use as the reference of a trust-region solve. The covariance is the
// identity.
func (s *Store) LoadDistribution(runID string) (*kl.Distribution, error) {
	tr, err := s.LoadTrajectory(runID)
	if err != nil {
		return nil, err
	}
	gains, err := s.LoadGains(runID)
	if err != nil {
		return nil, err
	}
	return kl.NewDistribution(tr, gains, nil)
}
