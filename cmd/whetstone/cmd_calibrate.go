package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"whetstone/adapters/calibration/scenarios"
	"whetstone/adapters/optim"
	"whetstone/adapters/store"
	"whetstone/internal/calibrate"
)

var calibrateFlags struct {
	scenario string
	adapter  string
	runs     int
	parallel int
	format   string
	db       string
}

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Score the loop against a ground-truth scenario",
	Long: `Calibrate replays an embedded scenario with known answers through the
full loop and scores the outcome: final steps, promoted winners, measured
improvements, iteration efficiency, and fault parity (metrics M1-M6).`,
	RunE: runCalibrate,
}

func init() {
	f := calibrateCmd.Flags()
	f.StringVar(&calibrateFlags.scenario, "scenario", "heavy-computation", "Scenario name (see 'whetstone scenarios')")
	f.StringVar(&calibrateFlags.adapter, "adapter", "stub", "Model adapter (stub, basic)")
	f.IntVar(&calibrateFlags.runs, "runs", 1, "Number of calibration runs")
	f.IntVar(&calibrateFlags.parallel, "parallel", 1, "Concurrent calibration runs")
	f.StringVar(&calibrateFlags.format, "format", "ascii", "Report format (ascii, markdown)")
	f.StringVar(&calibrateFlags.db, "db", "", "Run store DB path (default "+store.DefaultDBPath+", or $WHETSTONE_DB)")
}

func runCalibrate(cmd *cobra.Command, _ []string) error {
	scenario, err := scenarios.LoadScenario(calibrateFlags.scenario)
	if err != nil {
		return err
	}
	mode, err := parseFormatMode(calibrateFlags.format)
	if err != nil {
		return err
	}

	var adapter calibrate.Collaborator
	switch calibrateFlags.adapter {
	case "stub":
		adapter = calibrate.NewStubAdapter(scenario)
	case "basic":
		adapter = &optim.ModelCollaborator{Adapter: optim.NewBasicAdapter()}
	default:
		return fmt.Errorf("unknown adapter: %s (available: stub, basic)", calibrateFlags.adapter)
	}

	// Calibration artifacts are throwaway; keep them out of the run root.
	tmpDir, err := os.MkdirTemp("", "whetstone-calibrate-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	cfg := calibrate.DefaultRunConfig(scenario, adapter)
	cfg.BasePath = tmpDir
	if calibrateFlags.runs > 0 {
		cfg.Runs = calibrateFlags.runs
	}
	if calibrateFlags.parallel > 1 {
		cfg.Parallel = calibrateFlags.parallel
	}

	report, err := calibrate.RunCalibration(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("calibration failed: %w", err)
	}

	fmt.Fprint(cmd.OutOrStdout(), calibrate.FormatReportMode(report, mode))

	if err := recordCalibration(report, scenario.Run.Iterations, cfg.Parallel); err != nil {
		fmt.Fprintf(os.Stderr, "record calibration: %v\n", err)
	}

	passed, total := report.Metrics.PassCount()
	if passed < total {
		return fmt.Errorf("calibration: %d/%d metrics passed", passed, total)
	}
	return nil
}

// recordCalibration keeps a scoreboard row per unit in the run store so
// 'whetstone status' can show calibration outcomes next to real runs.
func recordCalibration(report *calibrate.CalibrationReport, iterations, parallel int) error {
	st, err := store.Open(resolveDB(calibrateFlags.db))
	if err != nil {
		return err
	}
	defer st.Close()

	runID := uuid.NewString()
	if err := st.CreateRun(&store.Run{
		ID:         runID,
		StartedAt:  time.Now().UTC().Format(time.RFC3339),
		SourceRoot: "scenario:" + report.Scenario,
		OutputRoot: report.BasePath,
		Adapter:    report.Adapter,
		Iterations: iterations,
		Parallel:   parallel,
	}); err != nil {
		return err
	}

	promoted, faults := 0, 0
	for i := range report.UnitOutcomes {
		o := &report.UnitOutcomes[i]
		if err := st.SaveUnitResult(&store.UnitRecord{
			RunID:              runID,
			UnitID:             o.UnitID,
			FinalStep:          o.FinalStep,
			Iterations:         o.Iterations,
			Promotions:         o.Promotions,
			BestImprovementPct: o.BestImprovementPct,
			FaultKinds:         o.FaultKinds,
		}); err != nil {
			return err
		}
		if o.Promotions > 0 {
			promoted++
		}
		faults += len(o.FaultKinds)
	}
	return st.FinishRun(runID, len(report.UnitOutcomes), promoted, faults)
}
