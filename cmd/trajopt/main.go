package main

import (
	"context"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/san-kum/trajopt/internal/automation"
	"github.com/san-kum/trajopt/internal/config"
	"github.com/san-kum/trajopt/internal/ddp"
	"github.com/san-kum/trajopt/internal/experiment"
	"github.com/san-kum/trajopt/internal/export"
	"github.com/san-kum/trajopt/internal/logging"
	"github.com/san-kum/trajopt/internal/optim"
	"github.com/san-kum/trajopt/internal/storage"
	"github.com/san-kum/trajopt/internal/tui"
	"github.com/san-kum/trajopt/internal/viz"
)

var (
	dataDir    string
	configFile string
	preset     string
	noSave     bool

	steps       int
	dt          float64
	integrator  string
	secondOrder bool

	maxIter   int
	lambda    float64
	regType   int
	zMin      float64
	klStep    float64
	klEta     float64
	reference string
	verbosity int
	plotEvery int

	runs     int
	noise    float64
	seed     int64
	baseline bool

	xAxis     int
	yAxis     int
	format    string
	outputDir string

	axes    []string
	score   string
	workers int
	top     int
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "trajopt",
		Short:        "iterative LQG trajectory optimizer",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".trajopt", "data directory")

	solveCmd := &cobra.Command{
		Use:   "solve [problem]",
		Short: "optimize a trajectory and validate its feedback law",
		Args:  cobra.MaximumNArgs(1),
		RunE:  solve,
	}
	addSolveFlags(solveCmd)
	solveCmd.Flags().IntVar(&plotEvery, "plot", 0, "print progress every n accepted iterations and chart the result")

	liveCmd := &cobra.Command{
		Use:   "live [problem]",
		Short: "optimize with a live terminal view",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLive,
	}
	addSolveFlags(liveCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot cost trace, states and phase portrait of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().IntVar(&xAxis, "x-axis", 0, "state index for the phase portrait x-axis")
	plotCmd.Flags().IntVar(&yAxis, "y-axis", 1, "state index for the phase portrait y-axis")

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export a run as json or figures",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}
	exportCmd.Flags().StringVar(&format, "format", "json",
		"json or a figure format ("+strings.Join(export.Formats, ", ")+")")
	exportCmd.Flags().StringVarP(&outputDir, "out", "o", "", "output directory (json goes to stdout when empty)")

	problemsCmd := &cobra.Command{
		Use:   "problems",
		Short: "list available problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := experiment.NewRegistry()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROBLEM\tDESCRIPTION\tPRESETS")
			for _, name := range reg.ListProblems() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", name, reg.Describe(name), strings.Join(config.ListPresets(name), ", "))
			}
			return w.Flush()
		},
	}

	presetsCmd := &cobra.Command{
		Use:   "presets [problem]",
		Short: "list available presets for a problem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			presets := config.ListPresets(args[0])
			if len(presets) == 0 {
				fmt.Printf("no presets for problem: %s\n", args[0])
				return nil
			}
			fmt.Printf("presets for %s:\n", args[0])
			for _, p := range presets {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep [problem]",
		Short: "grid search over optimizer and model parameters",
		Long: "grid search over optimizer and model parameters\n\nparameters: " +
			strings.Join(optim.Tunables, ", ") + ", model.<name>",
		Args: cobra.MaximumNArgs(1),
		RunE: sweep,
	}
	sweepCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	sweepCmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	sweepCmd.Flags().StringArrayVarP(&axes, "param", "p", nil, "axis as name=v1,v2 or name=lo:hi:n[:log]; repeatable")
	sweepCmd.Flags().StringVar(&score, "score", optim.ScoreCost, "cost, iterations, validation_cost or a closed-loop metric")
	sweepCmd.Flags().IntVar(&workers, "workers", 0, "concurrent solves (0 uses all cores)")
	sweepCmd.Flags().IntVar(&top, "top", 10, "trials to print")
	sweepCmd.MarkFlagRequired("param")

	batchCmd := &cobra.Command{
		Use:   "batch [scenario]",
		Short: "run a scripted sequence of solves",
		Args:  cobra.ExactArgs(1),
		RunE:  runBatch,
	}
	batchCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the runs")
	batchCmd.Flags().IntVar(&verbosity, "verbosity", 1, "log verbosity (0 silent, 3 full)")

	rootCmd.AddCommand(solveCmd, liveCmd, listCmd, plotCmd, exportCmd, problemsCmd, presetsCmd, sweepCmd, batchCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addSolveFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&configFile, "config", "", "config file path (yaml)")
	f.StringVar(&preset, "preset", "", "use preset configuration")
	f.BoolVar(&noSave, "no-save", false, "do not store the run")

	f.IntVar(&steps, "steps", 0, "horizon length in states")
	f.Float64Var(&dt, "dt", 0, "timestep of continuous problems")
	f.StringVar(&integrator, "integrator", "rk4", "integrator (euler, rk4)")
	f.BoolVar(&secondOrder, "second-order", false, "use second-order dynamics derivatives")

	f.IntVar(&maxIter, "max-iter", 0, "maximum iterations")
	f.Float64Var(&lambda, "lambda", 0, "initial regularization")
	f.IntVar(&regType, "reg-type", 0, "regularization type (1 Quu, 2 Vxx)")
	f.Float64Var(&zMin, "zmin", 0, "minimal accepted reduction ratio")
	f.Float64Var(&klStep, "kl-step", 0, "trust-region divergence budget (0 disables)")
	f.Float64Var(&klEta, "kl-eta", 0, "initial trust-region multiplier")
	f.StringVar(&reference, "reference", "", "run id whose policy is the trust-region reference")
	f.IntVar(&verbosity, "verbosity", 1, "log verbosity (0 silent, 3 full)")

	f.IntVar(&runs, "runs", 0, "closed-loop validation runs")
	f.Float64Var(&noise, "noise", 0, "process noise of validation runs")
	f.Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed of validation runs")
	f.BoolVar(&baseline, "baseline", false, "also replay the optimized controls open loop")
}

// resolveConfig layers defaults, the preset, the config file and the flags
// set on the command line, in that order.
func resolveConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if len(args) > 0 {
		cfg.Problem = args[0]
	}

	if preset != "" {
		p := config.GetPreset(cfg.Problem, preset)
		if p == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(cfg.Problem))
		}
		p.Optimizer.Verbosity = cfg.Optimizer.Verbosity
		cfg = p
	}

	if configFile != "" {
		if err := config.Overlay(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		if len(args) > 0 {
			cfg.Problem = args[0]
		}
	}

	flags := cmd.Flags()
	if flags.Changed("steps") {
		cfg.Steps = steps
	}
	if flags.Changed("dt") {
		cfg.Dt = dt
	}
	if flags.Changed("integrator") {
		cfg.Integrator = integrator
	}
	if flags.Changed("second-order") {
		cfg.SecondOrder = secondOrder
	}
	if flags.Changed("max-iter") {
		cfg.Optimizer.MaxIter = maxIter
	}
	if flags.Changed("lambda") {
		cfg.Optimizer.Lambda = lambda
	}
	if flags.Changed("reg-type") {
		cfg.Optimizer.RegType = regType
	}
	if flags.Changed("zmin") {
		cfg.Optimizer.ZMin = zMin
	}
	if flags.Changed("verbosity") {
		cfg.Optimizer.Verbosity = verbosity
	}
	if flags.Changed("kl-step") {
		cfg.KL.Step = klStep
	}
	if flags.Changed("kl-eta") {
		cfg.KL.Eta = klEta
	}
	if flags.Changed("runs") {
		cfg.Validation.Runs = runs
	}
	if flags.Changed("noise") {
		cfg.Validation.Noise = noise
	}
	if flags.Changed("baseline") {
		cfg.Validation.Baseline = baseline
	}
	if flags.Changed("seed") || cfg.Validation.Seed == 0 {
		cfg.Validation.Seed = seed
	}

	if cfg.Problem == "" {
		return nil, fmt.Errorf("no problem given")
	}
	return cfg, nil
}

// experimentConfig converts cfg and attaches the stored reference policy
// when one is named.
func experimentConfig(st *storage.Store, cfg *config.Config, log *zap.Logger) (experiment.Config, error) {
	ec := cfg.Experiment()
	ec.Options.Logger = log
	if reference != "" {
		ref, err := st.LoadDistribution(reference)
		if err != nil {
			return ec, fmt.Errorf("reference %s: %w", reference, err)
		}
		ec.Options.KL.Reference = ref
		if !ec.Options.KL.Active() {
			return ec, fmt.Errorf("reference %s given without --kl-step", reference)
		}
	}
	return ec, nil
}

func solve(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args)
	if err != nil {
		return err
	}

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}

	log, err := logging.New(cfg.Optimizer.Verbosity)
	if err != nil {
		return err
	}
	defer log.Sync()

	ec, err := experimentConfig(st, cfg, log)
	if err != nil {
		return err
	}
	if plotEvery > 0 {
		p := viz.NewPlotter(os.Stdout, cfg.Problem)
		p.Every = plotEvery
		ec.Options.Plotter = p
	}

	exp, err := experiment.New(experiment.NewRegistry(), ec)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("optimizing %s over %d steps...\n", cfg.Problem, exp.Instance().Steps)
	out, err := exp.Run(ctx)
	if err != nil && (out == nil || out.Result == nil) {
		return err
	}
	if err != nil {
		log.Warn("run incomplete", zap.Error(err))
	}
	return finish(st, cfg, out)
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args)
	if err != nil {
		return err
	}

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}

	ec, err := experimentConfig(st, cfg, zap.NewNop())
	if err != nil {
		return err
	}

	title := cfg.Problem
	if preset != "" {
		title += " · " + preset
	}
	out, err := tui.Run(context.Background(), title, ec.Options.MaxIter,
		func(ctx context.Context, p ddp.Plotter) (*experiment.Outcome, error) {
			ec.Options.Plotter = p
			exp, err := experiment.New(experiment.NewRegistry(), ec)
			if err != nil {
				return nil, err
			}
			return exp.Run(ctx)
		})
	if out == nil || out.Result == nil {
		return err
	}
	return finish(st, cfg, out)
}

// finish prints the outcome and stores the run.
func finish(st *storage.Store, cfg *config.Config, out *experiment.Outcome) error {
	res := out.Result

	fmt.Println(viz.HeaderStyle.Render(out.Instance.Name))
	fmt.Println(viz.Metric("status", "%s", viz.Status(res.Status)))
	fmt.Println(viz.Metric("iterations", "%d", res.Iterations))
	fmt.Println(viz.Metric("cost", "%.6g", res.Cost()))
	fmt.Println(viz.Metric("lambda", "%.3g", res.Lambda))
	if res.Eta > 0 {
		fmt.Println(viz.Metric("divergence", "%.4g (eta %.3g, satisfied %t)", res.Divergence, res.Eta, res.KLSatisfied))
	}
	fmt.Println(viz.Metric("elapsed", "%v", out.Elapsed.Round(time.Millisecond)))
	if costs := res.Trace.Costs(); len(costs) > 1 {
		fmt.Println(viz.Metric("trace", "%s", viz.Sparkline(costs, 40)))
	}
	if out.SolveErr != nil {
		fmt.Println(viz.StatusWarn.Render(out.SolveErr.Error()))
	}

	if s := out.Summary; s.Runs > 0 {
		fmt.Println()
		fmt.Println(viz.HeaderStyle.Render("closed loop"))
		fmt.Println(viz.Metric("runs", "%d (%d diverged)", s.Runs, s.Diverged))
		fmt.Println(viz.Metric("cost", "%.6g ± %.3g (max %.6g)", s.MeanCost, s.StdCost, s.MaxCost))
		for _, name := range slices.Sorted(maps.Keys(s.Metrics)) {
			fmt.Println(viz.Metric(name, "%.6f", s.Metrics[name]))
		}
	}
	if b := out.Baseline; b.Runs > 0 {
		fmt.Println()
		fmt.Println(viz.HeaderStyle.Render("open loop"))
		fmt.Println(viz.Metric("runs", "%d (%d diverged)", b.Runs, b.Diverged))
		fmt.Println(viz.Metric("cost", "%.6g ± %.3g (max %.6g)", b.MeanCost, b.StdCost, b.MaxCost))
		for _, name := range slices.Sorted(maps.Keys(b.Metrics)) {
			fmt.Println(viz.Metric(name, "%.6f", b.Metrics[name]))
		}
	}

	if noSave {
		return nil
	}
	runID, err := st.Save(storage.NewMetadata(out), res, cfg)
	if err != nil {
		return err
	}
	fmt.Printf("\nrun id: %s\n", runID)
	return nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROBLEM\tTIME\tSTATUS\tITER\tSTEPS\tCOST")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%.6g\n",
			run.ID,
			run.Problem,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Status,
			run.Iterations,
			run.Steps,
			run.Cost,
		)
	}

	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
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

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("problem: %s\n", meta.Problem)
	fmt.Printf("status: %s after %d iterations\n\n", meta.Status, meta.Iterations)

	if chart := viz.CostChart(trace); chart != "" {
		fmt.Println(chart)
		fmt.Println()
	}
	for _, chart := range viz.StateCharts(meta.Problem, tr, 6) {
		fmt.Println(chart)
		fmt.Println()
	}

	if len(tr.Controls) > 1 {
		u := make([]float64, len(tr.Controls)-1)
		for i := range u {
			u[i] = tr.Controls[i][0]
		}
		fmt.Println(asciigraph.Plot(u,
			asciigraph.Height(8),
			asciigraph.Width(80),
			asciigraph.Caption("u0"),
		))
		fmt.Println()
	}

	if meta.StateDim > 1 && xAxis < meta.StateDim && yAxis < meta.StateDim {
		fmt.Printf("phase: %s vs %s\n", viz.Label(meta.Problem, yAxis), viz.Label(meta.Problem, xAxis))
		fmt.Println(viz.PhasePortrait(tr, xAxis, yAxis, 60, 20))
	}
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	runID := args[0]
	st := storage.New(dataDir)

	if format == "json" {
		if outputDir == "" {
			return export.WriteJSON(os.Stdout, st, runID)
		}
		if err := os.MkdirAll(outputDir, 0755); err != nil {
			return err
		}
		path := filepath.Join(outputDir, runID+".json")
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := export.WriteJSON(f, st, runID); err != nil {
			return err
		}
		fmt.Printf("exported to %s\n", path)
		return nil
	}

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

	dir := outputDir
	if dir == "" {
		dir = "."
	}
	paths, err := export.SaveFigures(dir, runID, format, meta.Problem, tr, trace)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Printf("exported to %s\n", p)
	}
	return nil
}

func sweep(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(axes))
	ranges := make([][]float64, 0, len(axes))
	for _, a := range axes {
		name, values, err := optim.ParseAxis(a)
		if err != nil {
			return err
		}
		if err := optim.Apply(cfg.Clone(), name, values[0]); err != nil {
			return err
		}
		names = append(names, name)
		ranges = append(ranges, values)
	}
	search, err := optim.NewGridSearch(names, ranges)
	if err != nil {
		return err
	}
	search.SetLimit(workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("sweeping %s over %d points...\n", cfg.Problem, search.Size())
	start := time.Now()
	trials, err := search.Search(ctx, optim.ExperimentObjective(experiment.NewRegistry(), cfg, score))
	if err != nil {
		return err
	}
	fmt.Printf("completed in %v\n\n", time.Since(start).Round(time.Millisecond))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "RANK\t%s\t%s\n", strings.ToUpper(strings.Join(names, "\t")), strings.ToUpper(score))
	for i, tr := range trials {
		if i == top {
			break
		}
		fields := make([]string, len(names))
		for j, name := range names {
			fields[j] = fmt.Sprintf("%g", tr.Params[name])
		}
		result := fmt.Sprintf("%.6g", tr.Score)
		if tr.Err != nil {
			result = "error: " + tr.Err.Error()
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", i+1, strings.Join(fields, "\t"), result)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if best, ok := optim.Best(trials); ok {
		fmt.Println()
		fmt.Println(viz.Metric("best", "%.6g", best.Score))
		for _, name := range names {
			fmt.Println(viz.Metric(name, "%g", best.Params[name]))
		}
	}
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	scenario, err := automation.LoadScenario(args[0])
	if err != nil {
		return err
	}

	log, err := logging.New(verbosity)
	if err != nil {
		return err
	}
	defer log.Sync()

	runner := &automation.Runner{Registry: experiment.NewRegistry(), Log: log}
	if !noSave {
		runner.Store = storage.New(dataDir)
		if err := runner.Store.Init(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	results, runErr := runner.Run(ctx, scenario)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tSTATUS\tITER\tCOST\tRUN")
	for _, r := range results {
		res := r.Outcome.Result
		fmt.Fprintf(w, "%s\t%s\t%d\t%.6g\t%s\n", r.Name, res.Status, res.Iterations, res.Cost(), r.RunID)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return runErr
}
