// Package calibrate drives the optimization loop against ground-truth
// scenarios and scores how closely the outcome matches the known answers.
// The stub adapter and stub toolchain make a run fully deterministic: every
// analysis answer, candidate rewrite, and hotspot table is served from the
// scenario script, so the metrics measure the loop machinery itself (state
// transitions, variant selection, fault isolation) rather than model quality.
package calibrate

import (
	"whetstone/adapters/calibration"
	"whetstone/internal/loop"
)

// Collaborator is the model side of a calibration run: analysis plus
// generation, with a name for the report header. Both the stub adapter and
// the production model adapters satisfy it.
type Collaborator interface {
	loop.Analyzer
	loop.Generator
	Name() string
}

// Metric is a single calibration metric with value, threshold, and pass/fail.
type Metric struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Pass      bool    `json:"pass"`
	Detail    string  `json:"detail"` // e.g. "3/4"
}

// MetricSet holds all computed metrics for a calibration run.
type MetricSet struct {
	Outcome []Metric `json:"outcome"` // M1-M3: did the loop conclude correctly
	Control []Metric `json:"control"` // M4-M6: did it get there the right way
}

// AllMetrics returns all metrics as a flat list.
func (ms *MetricSet) AllMetrics() []Metric {
	var all []Metric
	all = append(all, ms.Outcome...)
	all = append(all, ms.Control...)
	return all
}

// PassCount returns (passed, total).
func (ms *MetricSet) PassCount() (int, int) {
	all := ms.AllMetrics()
	passed := 0
	for _, m := range all {
		if m.Pass {
			passed++
		}
	}
	return passed, len(all)
}

// AllPass reports whether every metric is within threshold; it decides the
// calibrate command's exit status.
func (ms *MetricSet) AllPass() bool {
	passed, total := ms.PassCount()
	return passed == total
}

// UnitOutcome captures one unit's actual trip through the loop next to the
// outcome the scenario expected.
type UnitOutcome struct {
	UnitID   string                      `json:"unit_id"`
	Expected calibration.ExpectedOutcome `json:"expected"`

	// Actual outcomes
	FinalStep          string   `json:"final_step"`
	Iterations         int      `json:"iterations"`
	Promotions         int      `json:"promotions"`
	Winners            []string `json:"winners,omitempty"` // promoted variant IDs, in order
	BestImprovementPct float64  `json:"best_improvement_pct"`
	FaultKinds         []string `json:"fault_kinds,omitempty"`
	Path               []string `json:"path"` // steps taken, terminal verdict last

	// Per-unit scoring, stamped by the metric scorers
	StepCorrect   bool `json:"step_correct"`
	WinnerCorrect bool `json:"winner_correct"`
	PathCorrect   bool `json:"path_correct"`
}

// Winner returns the last promoted variant ID, or "" when nothing was
// promoted. The last promotion is the text the unit ends on, which is what
// scenarios assert against.
func (o UnitOutcome) Winner() string {
	if len(o.Winners) == 0 {
		return ""
	}
	return o.Winners[len(o.Winners)-1]
}

// CalibrationReport is the final output of a calibration run.
type CalibrationReport struct {
	Scenario     string        `json:"scenario"`
	Adapter      string        `json:"adapter"`
	Runs         int           `json:"runs"`
	BasePath     string        `json:"-"` // artifact root; not serialized
	Metrics      MetricSet     `json:"metrics"`
	UnitOutcomes []UnitOutcome `json:"unit_outcomes"` // last run's outcomes
	RunMetrics   []MetricSet   `json:"run_metrics,omitempty"` // per-run for variance
}
