package calibrate

import (
	"context"
	"math"
	"slices"
	"strings"
	"testing"

	"whetstone/adapters/calibration/scenarios"
)

// End-to-end: the stub adapter replays each bundled scenario through the
// real loop, and every metric must land within threshold.

func runScenario(t *testing.T, name string) *CalibrationReport {
	t.Helper()
	sc, err := scenarios.LoadScenario(name)
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}
	cfg := DefaultRunConfig(sc, NewStubAdapter(sc))
	cfg.BasePath = t.TempDir()
	rep, err := RunCalibration(context.Background(), cfg)
	if err != nil {
		t.Fatalf("RunCalibration: %v", err)
	}
	for _, m := range rep.Metrics.AllMetrics() {
		if !m.Pass {
			t.Errorf("%s %s = %.2f (%s); want within threshold %.2f", m.ID, m.Name, m.Value, m.Detail, m.Threshold)
		}
	}
	return rep
}

func TestRunCalibration_HeavyComputation(t *testing.T) {
	rep := runScenario(t, "heavy-computation")

	if rep.Adapter != "stub" {
		t.Errorf("Adapter = %q", rep.Adapter)
	}
	if len(rep.UnitOutcomes) != 1 {
		t.Fatalf("UnitOutcomes = %d, want 1", len(rep.UnitOutcomes))
	}
	o := rep.UnitOutcomes[0]
	if o.UnitID != "src/matrix.cpp" {
		t.Errorf("UnitID = %q", o.UnitID)
	}
	// Blocked multiplication wins iteration 1; iteration 2 stalls out.
	if o.FinalStep != "RETAINED" || o.Promotions != 1 || o.Winner() != "v-blocked" {
		t.Errorf("outcome = %s promotions=%d winner=%q", o.FinalStep, o.Promotions, o.Winner())
	}
	if math.Abs(o.BestImprovementPct-29.5) > 0.01 {
		t.Errorf("BestImprovementPct = %.4f, want ~29.5", o.BestImprovementPct)
	}
	// v-broken's planted diagnostic surfaces as a collaborator failure.
	if len(o.FaultKinds) != 1 || o.FaultKinds[0] != "collaborator-failure" {
		t.Errorf("FaultKinds = %v", o.FaultKinds)
	}

	out := FormatReport(rep)
	for _, want := range []string{"Whetstone Calibration Report", "heavy-computation", "RESULT: PASS", "v-blocked"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestRunCalibration_SplitHotspot(t *testing.T) {
	rep := runScenario(t, "split-hotspot")

	o := rep.UnitOutcomes[0]
	if o.FinalStep != "PROMOTED" || o.Winner() != "v-threads" {
		t.Errorf("outcome = %s winner=%q", o.FinalStep, o.Winner())
	}
	// The hotspot splits into worker shards; the delta is still scored
	// against the dominant row.
	if math.Abs(o.BestImprovementPct-48.83) > 0.01 {
		t.Errorf("BestImprovementPct = %.4f, want ~48.83", o.BestImprovementPct)
	}
	if len(o.FaultKinds) != 1 || o.FaultKinds[0] != "profile-unavailable" {
		t.Errorf("FaultKinds = %v", o.FaultKinds)
	}
}

func TestRunCalibration_NoBottleneck(t *testing.T) {
	rep := runScenario(t, "no-bottleneck")

	o := rep.UnitOutcomes[0]
	if o.FinalStep != "EXHAUSTED" || o.Iterations != 1 || o.Promotions != 0 {
		t.Errorf("outcome = %s iterations=%d promotions=%d", o.FinalStep, o.Iterations, o.Promotions)
	}
	if want := []string{"INIT", "ANALYZING", "EXHAUSTED"}; !slices.Equal(o.Path, want) {
		t.Errorf("Path = %v, want %v", o.Path, want)
	}
}

func TestRunCalibration_ContendedVariants(t *testing.T) {
	rep := runScenario(t, "contended-variants")

	o := rep.UnitOutcomes[0]
	// v-algo's larger delta beats v-micro.
	if o.FinalStep != "PROMOTED" || o.Winner() != "v-algo" {
		t.Errorf("outcome = %s winner=%q", o.FinalStep, o.Winner())
	}
	if math.Abs(o.BestImprovementPct-29.9) > 0.01 {
		t.Errorf("BestImprovementPct = %.4f, want ~29.9", o.BestImprovementPct)
	}
}

func TestRunCalibration_MultiRun(t *testing.T) {
	sc, err := scenarios.LoadScenario("heavy-computation")
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}
	cfg := DefaultRunConfig(sc, NewStubAdapter(sc))
	cfg.BasePath = t.TempDir()
	cfg.Runs = 2
	cfg.Parallel = 2

	rep, err := RunCalibration(context.Background(), cfg)
	if err != nil {
		t.Fatalf("RunCalibration: %v", err)
	}
	if rep.Runs != 2 || len(rep.RunMetrics) != 2 {
		t.Fatalf("Runs = %d, RunMetrics = %d", rep.Runs, len(rep.RunMetrics))
	}
	// The stub is deterministic, so the aggregate passes like each run.
	if !rep.Metrics.AllPass() {
		t.Error("aggregated metrics should pass")
	}
	if m := rep.Metrics.Outcome[0]; m.Detail != "mean of 2 runs" {
		t.Errorf("aggregate detail = %q", m.Detail)
	}
}

func TestRunCalibration_InputValidation(t *testing.T) {
	if _, err := RunCalibration(context.Background(), RunConfig{}); err == nil {
		t.Error("nil scenario should error")
	}
	sc, err := scenarios.LoadScenario("no-bottleneck")
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}
	if _, err := RunCalibration(context.Background(), RunConfig{Scenario: sc}); err == nil {
		t.Error("nil adapter should error")
	}
}
