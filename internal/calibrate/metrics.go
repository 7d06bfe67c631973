package calibrate

import (
	"fmt"
	"math"

	"whetstone/adapters/optim"
)

// defaultDeltaTolerancePct bounds M3 when a scenario does not set a per-unit
// tolerance of its own.
const defaultDeltaTolerancePct = 0.5

// computeMetrics scores one calibration pass from its unit outcomes. The
// scorers also stamp the per-unit correctness flags the report's breakdown
// table shows.
func computeMetrics(outcomes []UnitOutcome) MetricSet {
	return MetricSet{
		Outcome: []Metric{
			scorePromotionAccuracy(outcomes),
			scoreWinnerSelection(outcomes),
			scoreImprovementDeltaError(outcomes),
		},
		Control: []Metric{
			scoreStatePathAccuracy(outcomes),
			scoreExhaustionCorrectness(outcomes),
			scoreFailureIsolation(outcomes),
		},
	}
}

// --- M1: Promotion accuracy ---
// A unit counts when it ends on the expected step with the expected number
// of promotions.
func scorePromotionAccuracy(outcomes []UnitOutcome) Metric {
	correct, total := 0, 0
	for i := range outcomes {
		o := &outcomes[i]
		total++
		o.StepCorrect = o.FinalStep == o.Expected.FinalStep
		if o.StepCorrect && o.Promotions == o.Expected.Promotions {
			correct++
		}
	}
	val := safeDiv(correct, total)
	return Metric{
		ID: "M1", Name: "promotion_accuracy",
		Value: val, Threshold: 0.90,
		Pass: val >= 0.90, Detail: fmt.Sprintf("%d/%d", correct, total),
	}
}

// --- M2: Winner selection ---
// Among units that expect a specific winning variant, the last promotion
// must be that variant.
func scoreWinnerSelection(outcomes []UnitOutcome) Metric {
	correct, expected := 0, 0
	for i := range outcomes {
		o := &outcomes[i]
		o.WinnerCorrect = o.Winner() == o.Expected.Winner
		if o.Expected.Winner == "" {
			continue
		}
		expected++
		if o.WinnerCorrect {
			correct++
		}
	}
	val := safeDiv(correct, expected)
	return Metric{
		ID: "M2", Name: "winner_selection",
		Value: val, Threshold: 0.90,
		Pass: val >= 0.90, Detail: fmt.Sprintf("%d/%d", correct, expected),
	}
}

// --- M3: Improvement delta error ---
// For units expected to promote, the best recorded improvement must land
// within the scenario's tolerance of the expected percentage. The value is
// the worst absolute error seen; lower is better.
func scoreImprovementDeltaError(outcomes []UnitOutcome) Metric {
	within, eligible := 0, 0
	worst := 0.0
	for i := range outcomes {
		o := &outcomes[i]
		if o.Expected.Promotions == 0 {
			continue
		}
		eligible++
		tol := o.Expected.TolerancePct
		if tol <= 0 {
			tol = defaultDeltaTolerancePct
		}
		absErr := math.Abs(o.BestImprovementPct - o.Expected.ImprovementPct)
		if absErr > worst {
			worst = absErr
		}
		if absErr <= tol {
			within++
		}
	}
	return Metric{
		ID: "M3", Name: "improvement_delta_error",
		Value: worst, Threshold: defaultDeltaTolerancePct,
		Pass: within == eligible, Detail: fmt.Sprintf("%d/%d within tolerance", within, eligible),
	}
}

// --- M4: State path accuracy ---
// Units with a scripted step path must walk exactly that path, terminal
// verdict included.
func scoreStatePathAccuracy(outcomes []UnitOutcome) Metric {
	correct, total := 0, 0
	for i := range outcomes {
		o := &outcomes[i]
		if len(o.Expected.Path) == 0 {
			o.PathCorrect = true // unscored paths show as correct in the breakdown
			continue
		}
		total++
		o.PathCorrect = pathsEqual(o.Path, o.Expected.Path)
		if o.PathCorrect {
			correct++
		}
	}
	val := safeDiv(correct, total)
	return Metric{
		ID: "M4", Name: "state_path_accuracy",
		Value: val, Threshold: 0.90,
		Pass: val >= 0.90, Detail: fmt.Sprintf("%d/%d", correct, total),
	}
}

// --- M5: Exhaustion correctness ---
// The loop must exhaust exactly the units the scenario exhausts, and at the
// scripted iteration.
func scoreExhaustionCorrectness(outcomes []UnitOutcome) Metric {
	correct, total := 0, 0
	for i := range outcomes {
		o := &outcomes[i]
		total++
		actual := o.FinalStep == string(optim.StepExhausted)
		expected := o.Expected.FinalStep == string(optim.StepExhausted)
		if actual != expected {
			continue
		}
		if expected && o.Iterations != o.Expected.Iterations {
			continue
		}
		correct++
	}
	val := safeDiv(correct, total)
	return Metric{
		ID: "M5", Name: "exhaustion_correctness",
		Value: val, Threshold: 0.90,
		Pass: val >= 0.90, Detail: fmt.Sprintf("%d/%d", correct, total),
	}
}

// --- M6: Failure isolation ---
// Planted failures must surface as exactly the expected fault kinds without
// changing how often the unit promotes.
func scoreFailureIsolation(outcomes []UnitOutcome) Metric {
	correct, total := 0, 0
	for i := range outcomes {
		o := &outcomes[i]
		total++
		if sameKindSet(o.FaultKinds, o.Expected.FaultKinds) && o.Promotions == o.Expected.Promotions {
			correct++
		}
	}
	val := safeDiv(correct, total)
	return Metric{
		ID: "M6", Name: "failure_isolation",
		Value: val, Threshold: 0.90,
		Pass: val >= 0.90, Detail: fmt.Sprintf("%d/%d", correct, total),
	}
}

// aggregateRunMetrics averages each metric across runs and re-evaluates
// pass/fail on the means.
func aggregateRunMetrics(runs []MetricSet) MetricSet {
	if len(runs) == 0 {
		return MetricSet{}
	}
	if len(runs) == 1 {
		return runs[0]
	}

	byID := make(map[string][]float64)
	for _, run := range runs {
		for _, m := range run.AllMetrics() {
			byID[m.ID] = append(byID[m.ID], m.Value)
		}
	}

	// First run contributes the structure; copy its slices so the per-run
	// sets keep their original values.
	agg := MetricSet{
		Outcome: append([]Metric(nil), runs[0].Outcome...),
		Control: append([]Metric(nil), runs[0].Control...),
	}
	update := func(metrics []Metric) {
		for i := range metrics {
			metrics[i].Value = mean(byID[metrics[i].ID])
			metrics[i].Pass = evaluatePass(metrics[i])
			metrics[i].Detail = fmt.Sprintf("mean of %d runs", len(runs))
		}
	}
	update(agg.Outcome)
	update(agg.Control)
	return agg
}

// evaluatePass applies each metric's threshold direction.
func evaluatePass(m Metric) bool {
	if m.ID == "M3" { // error magnitude: lower is better
		return m.Value <= m.Threshold
	}
	return m.Value >= m.Threshold
}

func pathsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// sameKindSet compares fault kinds as sets; repeat faults of one kind do not
// break equality.
func sameKindSet(a, b []string) bool {
	as := make(map[string]bool, len(a))
	for _, k := range a {
		as[k] = true
	}
	bs := make(map[string]bool, len(b))
	for _, k := range b {
		bs[k] = true
	}
	if len(as) != len(bs) {
		return false
	}
	for k := range as {
		if !bs[k] {
			return false
		}
	}
	return true
}

func safeDiv(num, denom int) float64 {
	if denom == 0 {
		return 1.0 // 0/0 = perfect (nothing to measure)
	}
	return float64(num) / float64(denom)
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
