package optim

import (
	"time"
)

const stateFilename = "state.json"

// InitState creates a new UnitState starting at INIT, iteration 1.
func InitState(runID, unitID string) *UnitState {
	return &UnitState{
		RunID:       runID,
		UnitID:      unitID,
		Iteration:   1,
		CurrentStep: StepInit,
		Status:      "running",
	}
}

// LoadState reads the persisted state from the unit directory.
// Returns nil if no state file exists (new unit).
func LoadState(unitDir string) (*UnitState, error) {
	return ReadArtifact[UnitState](unitDir, stateFilename)
}

// SaveState persists the unit state to the unit directory.
func SaveState(unitDir string, state *UnitState) error {
	return WriteArtifact(unitDir, stateFilename, state)
}

// AdvanceStep moves the state to the next step and records the transition.
func AdvanceStep(state *UnitState, nextStep LoopStep, outcome string) {
	record := StepRecord{
		Iteration: state.Iteration,
		Step:      state.CurrentStep,
		Outcome:   outcome,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	state.History = append(state.History, record)
	state.CurrentStep = nextStep
	if nextStep == StepExhausted {
		state.Status = "done"
	}
}

// BeginIteration closes the current verdict step into history, advances the
// iteration counter, and re-enters ANALYZING.
func BeginIteration(state *UnitState) int {
	AdvanceStep(state, StepAnalyzing, "next iteration")
	state.Iteration++
	return state.Iteration
}

// RecordPromotion notes a promotion and keeps the best improvement seen.
func RecordPromotion(state *UnitState, improvementPct float64) {
	state.Promotions++
	if improvementPct > state.BestImprovementPct {
		state.BestImprovementPct = improvementPct
	}
}

// StepPath returns the ordered steps taken so far, one entry per history
// record, for path assertions and status rendering.
func StepPath(state *UnitState) []LoopStep {
	path := make([]LoopStep, 0, len(state.History))
	for _, rec := range state.History {
		path = append(path, rec.Step)
	}
	return path
}
