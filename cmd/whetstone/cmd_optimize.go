package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"whetstone/adapters/optim"
	"whetstone/adapters/store"
	"whetstone/internal/config"
	"whetstone/internal/dispatch"
	"whetstone/internal/loop"
)

var optimizeFlags struct {
	source     string
	mainFile   string
	output     string
	runSpec    string
	iterations int
	parallel   int
	adapter    string
	model      string
	compiler   string
	perf       string
	exeArgs    []string
	db         string
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Run the profile-analyze-rewrite loop over a source tree",
	Long: `Optimize compiles each source unit, profiles it under perf, asks the
model adapter where the bottleneck is and for candidate rewrites, then
profiles every candidate and promotes the ones that measurably improved.

Exit status is 0 when at least one unit was promoted, 1 when the run
completed without improving anything.

A run spec file (--run-spec, YAML or JSON) can describe the whole run;
explicit flags override its values.`,
	RunE: runOptimize,
}

func init() {
	f := optimizeCmd.Flags()
	f.StringVar(&optimizeFlags.source, "source", "", "Source root holding the units to optimize")
	f.StringVar(&optimizeFlags.mainFile, "main", "", "Entry file, shorthand for a single-unit run")
	f.StringVar(&optimizeFlags.output, "output", "", "Audit-trail root (default "+optim.DefaultBasePath+")")
	f.StringVar(&optimizeFlags.runSpec, "run-spec", "", "Run spec file (YAML/JSON)")
	f.IntVar(&optimizeFlags.iterations, "iterations", 3, "Optimization iterations per unit")
	f.IntVar(&optimizeFlags.parallel, "parallel", 1, "Concurrent variant-profiling workers")
	f.StringVar(&optimizeFlags.adapter, "adapter", "basic", "Model adapter (basic, openai, file, stdin)")
	f.StringVar(&optimizeFlags.model, "model", "", "Model name for the openai adapter")
	f.StringVar(&optimizeFlags.compiler, "compiler", "", "Compiler binary (default g++, or $WHETSTONE_COMPILER)")
	f.StringVar(&optimizeFlags.perf, "perf", "", "Perf binary (default perf, or $WHETSTONE_PERF)")
	f.StringArrayVar(&optimizeFlags.exeArgs, "exe-arg", nil, "Argument passed to the profiled executable (repeatable)")
	f.StringVar(&optimizeFlags.db, "db", "", "Run store DB path (default "+store.DefaultDBPath+", or $WHETSTONE_DB)")
}

func runOptimize(cmd *cobra.Command, _ []string) error {
	spec, err := loadOptimizeSpec(cmd)
	if err != nil {
		return err
	}

	units, err := spec.LoadUnits()
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	tracker := dispatch.NewTokenTracker()
	adapter, err := buildModelAdapter(spec, runID, tracker)
	if err != nil {
		return err
	}

	collab := &optim.ModelCollaborator{
		Adapter:      adapter,
		BasePath:     spec.Output,
		RunID:        runID,
		ThresholdPct: spec.Thresholds.SignificancePct,
	}

	st, err := store.Open(resolveDB(spec.DB))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.CreateRun(&store.Run{
		ID:         runID,
		StartedAt:  time.Now().UTC().Format(time.RFC3339),
		SourceRoot: spec.Source,
		OutputRoot: spec.Output,
		Adapter:    spec.Adapter,
		Iterations: spec.Iterations,
		Parallel:   spec.Parallel,
	}); err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:     %s\n", runID)
	fmt.Fprintf(out, "Source:  %s (%d units)\n", spec.Source, len(units))
	fmt.Fprintf(out, "Adapter: %s\n\n", spec.Adapter)

	runner := loop.NewRunner(spec.RunnerConfig(runID), collab, collab,
		spec.Compiler.Toolchain(), spec.Perf.Runner())
	summary, err := runner.Run(cmd.Context(), units)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	if err := store.RecordSummary(st, summary); err != nil {
		fmt.Fprintf(os.Stderr, "record summary: %v\n", err)
	}

	fmt.Fprint(out, loop.FormatSummary(summary))
	if ts := tracker.Summary(); ts.TotalSteps > 0 {
		fmt.Fprint(out, dispatch.FormatTokenSummary(ts))
	}

	if !summary.AnyPromotion() {
		return fmt.Errorf("no unit improved (0 of %d promoted)", len(summary.Units))
	}
	return nil
}

// loadOptimizeSpec builds the effective run spec: the --run-spec file when
// given, defaults otherwise, with explicit flags overriding either.
func loadOptimizeSpec(cmd *cobra.Command) (*config.RunSpec, error) {
	var spec *config.RunSpec
	if optimizeFlags.runSpec != "" {
		s, err := config.Load(optimizeFlags.runSpec)
		if err != nil {
			return nil, err
		}
		spec = s
	} else {
		s := config.DefaultRunSpec()
		spec = &s
	}

	flags := cmd.Flags()
	if optimizeFlags.source != "" {
		spec.Source = optimizeFlags.source
	}
	if optimizeFlags.mainFile != "" {
		spec.Main = optimizeFlags.mainFile
	}
	if optimizeFlags.output != "" {
		spec.Output = optimizeFlags.output
	}
	if flags.Changed("iterations") {
		spec.Iterations = optimizeFlags.iterations
	}
	if flags.Changed("parallel") {
		spec.Parallel = optimizeFlags.parallel
	}
	if flags.Changed("adapter") {
		spec.Adapter = optimizeFlags.adapter
	}
	if optimizeFlags.model != "" {
		spec.Model = optimizeFlags.model
	}
	if len(optimizeFlags.exeArgs) > 0 {
		spec.ExeArgs = optimizeFlags.exeArgs
	}
	if c := resolveCompiler(optimizeFlags.compiler); c != "" {
		spec.Compiler.Binary = c
	}
	if p := resolvePerf(optimizeFlags.perf); p != "" {
		spec.Perf.Binary = p
	}
	if optimizeFlags.db != "" {
		spec.DB = optimizeFlags.db
	}

	if spec.Source == "" {
		return nil, fmt.Errorf("--source (or a run spec with source) is required")
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// buildModelAdapter wires the chosen transport. The file and stdin adapters
// hand prompts to an external agent and track the token exchange.
func buildModelAdapter(spec *config.RunSpec, runID string, tracker dispatch.TokenTracker) (optim.ModelAdapter, error) {
	switch spec.Adapter {
	case "basic":
		return optim.NewBasicAdapter(), nil
	case "openai":
		a, err := optim.NewOpenAIAdapter(spec.Model)
		if err != nil {
			return nil, err
		}
		return a, nil
	case "file":
		d := dispatch.NewTokenTrackingDispatcher(
			dispatch.NewFileDispatcher(dispatch.FileDispatcherConfig{}), tracker)
		return optim.NewAgentAdapter(spec.Output, runID,
			optim.WithDispatcher(d), optim.WithAdapterName("file")), nil
	case "stdin":
		d := dispatch.NewTokenTrackingDispatcher(dispatch.NewStdinDispatcher(), tracker)
		return optim.NewAgentAdapter(spec.Output, runID,
			optim.WithDispatcher(d), optim.WithAdapterName("stdin")), nil
	default:
		return nil, fmt.Errorf("unknown adapter: %s (available: basic, openai, file, stdin)", spec.Adapter)
	}
}
