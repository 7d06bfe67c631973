// Package calibration defines ground-truth scenarios for the optimization
// loop: source units with planted hotspot tables, scripted analysis and
// rewrite answers per iteration, and the outcome a correct loop must reach.
// The calibrate runner drives the real loop against these and scores how
// closely the verdicts match the known answers.
package calibration

import (
	"whetstone/adapters/optim"
	"whetstone/internal/profile"
)

// Scenario is one complete calibration fixture with known right answers.
type Scenario struct {
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description" yaml:"description"`
	Run         RunSettings       `json:"run" yaml:"run"`
	Units       []GroundTruthUnit `json:"units" yaml:"units"`
}

// RunSettings configures the loop for this scenario.
type RunSettings struct {
	Iterations int `json:"iterations" yaml:"iterations"` // per-unit budget
	Parallel   int `json:"parallel" yaml:"parallel"`     // variant profiling bound
}

// GroundTruthUnit is one source unit with scripted per-iteration answers
// and the expected outcome.
type GroundTruthUnit struct {
	ID         string           `json:"id" yaml:"id"` // source-root-relative path
	Source     string           `json:"source" yaml:"source"`
	Baseline   ProfileTable     `json:"baseline" yaml:"baseline"`
	Iterations []IterationTruth `json:"iterations,omitempty" yaml:"iterations,omitempty"`
	Expected   ExpectedOutcome  `json:"expected" yaml:"expected"`
}

// SourceUnit converts the ground truth into the loop's input form.
func (u GroundTruthUnit) SourceUnit() optim.SourceUnit {
	return optim.SourceUnit{ID: u.ID, Path: "/" + u.ID, Source: u.Source}
}

// Truth returns the scripted answers for one iteration (1-based), or nil
// past the script's end. The stub adapter treats nil as "nothing left to
// find", which exhausts the unit instead of looping forever.
func (u GroundTruthUnit) Truth(iteration int) *IterationTruth {
	if iteration < 1 || iteration > len(u.Iterations) {
		return nil
	}
	return &u.Iterations[iteration-1]
}

// IterationTruth scripts one iteration: what the analyzer should conclude
// and which rewrites the generator should offer.
type IterationTruth struct {
	Bottleneck BottleneckTruth `json:"bottleneck" yaml:"bottleneck"`
	Variants   []VariantTruth  `json:"variants,omitempty" yaml:"variants,omitempty"`
}

// VariantSet converts the scripted variants into a generate-stage batch.
func (it IterationTruth) VariantSet() *optim.VariantSet {
	set := &optim.VariantSet{}
	for _, v := range it.Variants {
		set.Variants = append(set.Variants, v.Patch())
	}
	return set
}

// BottleneckTruth is the analysis answer the adapter should give.
type BottleneckTruth struct {
	Found      bool   `json:"found" yaml:"found"`
	Symbol     string `json:"symbol,omitempty" yaml:"symbol,omitempty"`
	Line       int    `json:"line,omitempty" yaml:"line,omitempty"`
	Category   string `json:"category,omitempty" yaml:"category,omitempty"`
	Hypothesis string `json:"hypothesis,omitempty" yaml:"hypothesis,omitempty"`
}

// Report converts the truth into the loop's analyze artifact.
func (b BottleneckTruth) Report() *optim.BottleneckReport {
	return &optim.BottleneckReport{
		Found:      b.Found,
		Symbol:     b.Symbol,
		Line:       b.Line,
		Category:   b.Category,
		Hypothesis: b.Hypothesis,
	}
}

// VariantTruth is one scripted rewrite plus the profile the stub tools
// serve for it. A non-empty CompileError makes the stub compiler reject
// the variant, planting a collaborator failure.
type VariantTruth struct {
	ID           string       `json:"id" yaml:"id"`
	Rationale    string       `json:"rationale,omitempty" yaml:"rationale,omitempty"`
	Code         string       `json:"code" yaml:"code"`
	CompileError string       `json:"compile_error,omitempty" yaml:"compile_error,omitempty"`
	Profile      ProfileTable `json:"profile" yaml:"profile"`
}

// Patch converts the truth into a candidate patch.
func (v VariantTruth) Patch() optim.CandidatePatch {
	return optim.CandidatePatch{VariantID: v.ID, Code: v.Code, Rationale: v.Rationale}
}

// ProfileTable is a planted hotspot table: what perf would have reported.
type ProfileTable struct {
	TotalSamples int          `json:"total_samples" yaml:"total_samples"`
	Rows         []ProfileRow `json:"rows,omitempty" yaml:"rows,omitempty"`
}

// ProfileRow is one planted hotspot line.
type ProfileRow struct {
	Symbol  string  `json:"symbol" yaml:"symbol"`
	SelfPct float64 `json:"self_pct" yaml:"self_pct"`
}

// Profile converts the table into the parser's output form.
func (t ProfileTable) Profile() *profile.Profile {
	p := &profile.Profile{TotalSamples: t.TotalSamples}
	for _, r := range t.Rows {
		p.Rows = append(p.Rows, profile.HotspotRow{Symbol: r.Symbol, SelfPct: r.SelfPct})
	}
	return p
}

// ExpectedOutcome is what a correct loop must conclude for the unit.
type ExpectedOutcome struct {
	FinalStep      string   `json:"final_step" yaml:"final_step"`
	Winner         string   `json:"winner,omitempty" yaml:"winner,omitempty"` // last promoted variant ID
	ImprovementPct float64  `json:"improvement_pct,omitempty" yaml:"improvement_pct,omitempty"`
	TolerancePct   float64  `json:"tolerance_pct,omitempty" yaml:"tolerance_pct,omitempty"`
	Promotions     int      `json:"promotions" yaml:"promotions"`
	Iterations     int      `json:"iterations" yaml:"iterations"`
	Path           []string `json:"path,omitempty" yaml:"path,omitempty"`
	FaultKinds     []string `json:"fault_kinds,omitempty" yaml:"fault_kinds,omitempty"`
}

// UnitByID returns the ground truth for a unit path, or nil.
func (s *Scenario) UnitByID(id string) *GroundTruthUnit {
	for i := range s.Units {
		if s.Units[i].ID == id {
			return &s.Units[i]
		}
	}
	return nil
}

// SourceUnits converts every ground-truth unit, in scenario order.
func (s *Scenario) SourceUnits() []optim.SourceUnit {
	units := make([]optim.SourceUnit, 0, len(s.Units))
	for _, u := range s.Units {
		units = append(units, u.SourceUnit())
	}
	return units
}
