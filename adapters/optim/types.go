// Package optim implements the per-unit optimization circuit: the step
// constants, the persisted unit state, the typed artifacts each step
// produces, and the model-adapter contract that supplies analysis and
// candidate rewrites.
package optim

import "path/filepath"

// LoopStep represents a position in the per-unit optimization loop.
type LoopStep string

const (
	StepInit          LoopStep = "INIT"
	StepAnalyzing     LoopStep = "ANALYZING"
	StepGenerating    LoopStep = "GENERATING"
	StepMaterializing LoopStep = "MATERIALIZING"
	StepProfiling     LoopStep = "PROFILING_VARIANTS"
	StepEvaluating    LoopStep = "EVALUATING"

	// Iteration verdicts. PROMOTED and RETAINED close one iteration;
	// EXHAUSTED closes the unit.
	StepPromoted  LoopStep = "PROMOTED"
	StepRetained  LoopStep = "RETAINED"
	StepExhausted LoopStep = "EXHAUSTED"
)

// Family returns the prompt family name (for template/file naming).
// Only the model-backed steps have one.
func (s LoopStep) Family() string {
	switch s {
	case StepAnalyzing:
		return "analyze"
	case StepGenerating:
		return "generate"
	default:
		return ""
	}
}

// IsVerdict reports whether the step closes an iteration or the unit.
func (s LoopStep) IsVerdict() bool {
	switch s {
	case StepPromoted, StepRetained, StepExhausted:
		return true
	default:
		return false
	}
}

// SourceUnit is one optimization target: a single source file plus its
// current baseline text. The loop swaps Source on promotion; ID and Path
// stay fixed for the unit's lifetime.
type SourceUnit struct {
	ID     string // stable identifier, usually the source-root-relative path
	Path   string // absolute path of the original file
	Source string // current baseline text
}

// Filename returns the unit's base filename, used when materializing
// variants into their isolated directories.
func (u SourceUnit) Filename() string {
	return filepath.Base(u.Path)
}

// UnitState tracks one source unit's progress through the loop.
// Persisted to disk (JSON) so runs can be inspected and resumed.
type UnitState struct {
	RunID              string       `json:"run_id"`
	UnitID             string       `json:"unit_id"` // source-relative file path
	Iteration          int          `json:"iteration"`
	CurrentStep        LoopStep     `json:"current_step"`
	Status             string       `json:"status"` // running, done, error
	Promotions         int          `json:"promotions"`
	BestImprovementPct float64      `json:"best_improvement_pct"`
	History            []StepRecord `json:"history"`
}

// StepRecord logs a completed step with its outcome.
type StepRecord struct {
	Iteration int      `json:"iteration"`
	Step      LoopStep `json:"step"`
	Outcome   string   `json:"outcome"`   // e.g. "no-bottleneck", "promoted variant_2"
	Timestamp string   `json:"timestamp"` // ISO 8601
}

// --- Typed intermediate artifacts (one per model-backed family) ---

// BottleneckReport is the analyze output: the diagnosed performance problem
// for one unit at one iteration. Never mutated after creation.
type BottleneckReport struct {
	Found      bool   `json:"found"`
	Symbol     string `json:"symbol,omitempty"`
	Line       int    `json:"line,omitempty"`
	Category   string `json:"category,omitempty"` // e.g. cpu-bound, allocation, memory-access
	Hypothesis string `json:"hypothesis,omitempty"`
}

// Bottleneck categories shared by the heuristic adapter, the calibration
// scorers, and the report tables.
const (
	CategoryCPUBound   = "cpu-bound"
	CategoryAllocation = "allocation"
	CategoryIO         = "io"
	CategoryContention = "contention"
	CategoryMemory     = "memory-access"
)

// CandidatePatch is one proposed full replacement for a unit's text.
type CandidatePatch struct {
	VariantID string `json:"variant_id"` // unique within its batch
	Code      string `json:"code"`       // complete replacement text
	Rationale string `json:"rationale"`
	Expected  string `json:"expected_improvement,omitempty"`
}

// VariantSet is the generate output: a sibling batch of candidate patches,
// all derived from the same BottleneckReport. Order is insertion order and
// carries no weight.
type VariantSet struct {
	Variants []CandidatePatch `json:"variants"`
}
