package calibrate

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"whetstone/adapters/calibration"
	"whetstone/adapters/optim"
	"whetstone/internal/logging"
	"whetstone/internal/loop"
)

// RunConfig holds configuration for a calibration run.
type RunConfig struct {
	Scenario   *calibration.Scenario
	Adapter    Collaborator
	Runs       int
	Parallel   int             // concurrent calibration runs (default 1 = serial)
	BasePath   string          // audit-trail root; defaults to optim.DefaultBasePath
	Thresholds loop.Thresholds // zero value means the loop defaults
}

// DefaultRunConfig returns defaults for calibrating one scenario.
func DefaultRunConfig(scenario *calibration.Scenario, adapter Collaborator) RunConfig {
	return RunConfig{
		Scenario:   scenario,
		Adapter:    adapter,
		Runs:       1,
		BasePath:   optim.DefaultBasePath,
		Thresholds: loop.DefaultThresholds(),
	}
}

// RunCalibration executes cfg.Runs full passes of the scenario and scores
// each one. Runs are independent and, with Parallel > 1, execute
// concurrently into pre-sized slots. The report keeps the last run's unit
// outcomes; multi-run calibrations also carry every run's metric set.
func RunCalibration(ctx context.Context, cfg RunConfig) (*CalibrationReport, error) {
	if cfg.Scenario == nil {
		return nil, fmt.Errorf("calibration scenario is required")
	}
	if cfg.Adapter == nil {
		return nil, fmt.Errorf("calibration adapter is required")
	}
	if cfg.Runs <= 0 {
		cfg.Runs = 1
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = 1
	}
	if cfg.BasePath == "" {
		cfg.BasePath = optim.DefaultBasePath
	}
	if cfg.Thresholds == (loop.Thresholds{}) {
		cfg.Thresholds = loop.DefaultThresholds()
	}

	log := logging.New("calibrate")
	log.Info("calibration start",
		"scenario", cfg.Scenario.Name, "adapter", cfg.Adapter.Name(),
		"runs", cfg.Runs, "units", len(cfg.Scenario.Units))

	runSets := make([]MetricSet, cfg.Runs)
	runOutcomes := make([][]UnitOutcome, cfg.Runs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Parallel)
	for run := 0; run < cfg.Runs; run++ {
		run := run
		g.Go(func() error {
			outcomes, err := runOnce(gctx, cfg, run+1)
			if err != nil {
				return fmt.Errorf("run %d: %w", run+1, err)
			}
			runSets[run] = computeMetrics(outcomes)
			runOutcomes[run] = outcomes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &CalibrationReport{
		Scenario:     cfg.Scenario.Name,
		Adapter:      cfg.Adapter.Name(),
		Runs:         cfg.Runs,
		BasePath:     cfg.BasePath,
		UnitOutcomes: runOutcomes[cfg.Runs-1],
	}
	if cfg.Runs == 1 {
		report.Metrics = runSets[0]
	} else {
		report.RunMetrics = runSets
		report.Metrics = aggregateRunMetrics(runSets)
	}

	passed, total := report.Metrics.PassCount()
	log.Info("calibration done", "scenario", cfg.Scenario.Name, "passed", passed, "total", total)
	return report, nil
}

// CalibrationRunID names run n of a scenario's calibration inside the
// audit-trail root. Exposed so status readers can find the state files.
func CalibrationRunID(scenario string, run int) string {
	return fmt.Sprintf("cal-%s-r%d", optim.Slug(scenario), run)
}

// runOnce drives the real loop over every scenario unit, with the stub
// toolchain serving planted profiles, then reads each unit's persisted state
// back for its step path.
func runOnce(ctx context.Context, cfg RunConfig, run int) ([]UnitOutcome, error) {
	tools := NewStubToolchain(cfg.Scenario)
	runCfg := loop.RunnerConfig{
		BasePath:   cfg.BasePath,
		RunID:      CalibrationRunID(cfg.Scenario.Name, run),
		Iterations: cfg.Scenario.Run.Iterations,
		Parallel:   cfg.Scenario.Run.Parallel,
		Thresholds: cfg.Thresholds,
	}
	runner := loop.NewRunner(runCfg, cfg.Adapter, cfg.Adapter, tools, tools)

	summary, err := runner.Run(ctx, cfg.Scenario.SourceUnits())
	if err != nil {
		return nil, err
	}

	outcomes := make([]UnitOutcome, 0, len(summary.Units))
	for _, u := range summary.Units {
		o := UnitOutcome{
			UnitID:             u.UnitID,
			FinalStep:          string(u.FinalStep),
			Iterations:         u.Iterations,
			Promotions:         u.Promotions,
			Winners:            u.Winners,
			BestImprovementPct: u.BestImprovementPct,
			FaultKinds:         faultKinds(u.Faults),
			Path:               actualPath(runCfg.BasePath, runCfg.RunID, u.UnitID),
		}
		if gt := cfg.Scenario.UnitByID(u.UnitID); gt != nil {
			o.Expected = gt.Expected
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

// actualPath reads the unit's persisted state back: the recorded history
// plus the terminal step it rests on.
func actualPath(basePath, runID, unitID string) []string {
	state, err := optim.LoadState(optim.UnitDir(basePath, runID, unitID))
	if err != nil || state == nil {
		return nil
	}
	steps := append(optim.StepPath(state), state.CurrentStep)
	path := make([]string, len(steps))
	for i, s := range steps {
		path[i] = string(s)
	}
	return path
}

// faultKinds reduces a fault list to its distinct kinds, first-seen order.
func faultKinds(faults []*loop.Fault) []string {
	seen := make(map[loop.FailureKind]bool, len(faults))
	var kinds []string
	for _, f := range faults {
		if seen[f.Kind] {
			continue
		}
		seen[f.Kind] = true
		kinds = append(kinds, string(f.Kind))
	}
	return kinds
}
