package optim

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestStateInitAndAdvance(t *testing.T) {
	state := InitState("run-1", "src/hot.cpp")
	if state.CurrentStep != StepInit || state.Status != "running" || state.Iteration != 1 {
		t.Fatalf("InitState: %+v", state)
	}

	AdvanceStep(state, StepAnalyzing, "start")
	if state.CurrentStep != StepAnalyzing || len(state.History) != 1 {
		t.Fatalf("after advance to ANALYZING: %+v", state)
	}
	if state.History[0].Step != StepInit {
		t.Errorf("history[0].Step: %s", state.History[0].Step)
	}
	if state.History[0].Iteration != 1 {
		t.Errorf("history[0].Iteration: %d", state.History[0].Iteration)
	}

	AdvanceStep(state, StepExhausted, "no-bottleneck")
	if state.Status != "done" {
		t.Errorf("status after EXHAUSTED: %q", state.Status)
	}
}

func TestStatePersistence(t *testing.T) {
	dir := t.TempDir()
	unitDir := UnitDir(dir, "run-1", "src/hot.cpp")

	state := InitState("run-1", "src/hot.cpp")
	AdvanceStep(state, StepAnalyzing, "start")
	RecordPromotion(state, 38.5)

	if err := SaveState(unitDir, state); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	loaded, err := LoadState(unitDir)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if loaded == nil {
		t.Fatal("LoadState returned nil")
	}
	if loaded.CurrentStep != StepAnalyzing || loaded.UnitID != "src/hot.cpp" || loaded.RunID != "run-1" {
		t.Errorf("loaded state mismatch: %+v", loaded)
	}
	if loaded.Promotions != 1 || loaded.BestImprovementPct != 38.5 {
		t.Errorf("loaded promotion bookkeeping: %+v", loaded)
	}

	// LoadState on a dir with no state file = nil
	empty, err := LoadState(t.TempDir())
	if err != nil {
		t.Fatalf("LoadState empty: %v", err)
	}
	if empty != nil {
		t.Errorf("expected nil for empty dir, got %+v", empty)
	}
}

func TestBeginIteration(t *testing.T) {
	state := InitState("run-1", "src/hot.cpp")
	AdvanceStep(state, StepAnalyzing, "start")
	AdvanceStep(state, StepPromoted, "promoted reserve-capacity")

	next := BeginIteration(state)
	if next != 2 || state.Iteration != 2 {
		t.Errorf("BeginIteration = %d, state.Iteration = %d", next, state.Iteration)
	}
	if state.CurrentStep != StepAnalyzing {
		t.Errorf("step after BeginIteration: %s", state.CurrentStep)
	}
	last := state.History[len(state.History)-1]
	if last.Step != StepPromoted || last.Iteration != 1 {
		t.Errorf("verdict record = %+v, want PROMOTED at iteration 1", last)
	}
}

func TestRecordPromotion_KeepsBest(t *testing.T) {
	state := InitState("run-1", "src/hot.cpp")
	RecordPromotion(state, 12.0)
	RecordPromotion(state, 8.0)
	if state.Promotions != 2 {
		t.Errorf("Promotions = %d, want 2", state.Promotions)
	}
	if state.BestImprovementPct != 12.0 {
		t.Errorf("BestImprovementPct = %v, want 12.0", state.BestImprovementPct)
	}
}

func TestStepPath(t *testing.T) {
	state := InitState("run-1", "src/hot.cpp")
	AdvanceStep(state, StepAnalyzing, "start")
	AdvanceStep(state, StepGenerating, "bottleneck accepted")
	AdvanceStep(state, StepMaterializing, "3 candidates")

	want := []LoopStep{StepInit, StepAnalyzing, StepGenerating}
	if diff := cmp.Diff(want, StepPath(state)); diff != "" {
		t.Errorf("StepPath mismatch (-want +got):\n%s", diff)
	}
}
