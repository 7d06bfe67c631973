package store

import (
	"fmt"

	"whetstone/internal/loop"
)

// RecordSummary persists a finished run: one scoreboard row per unit, then
// the run's final counters. The caller creates the Run row before starting
// the loop; this fills in the rest when it finishes.
func RecordSummary(s Store, summary *loop.RunSummary) error {
	if summary == nil {
		return nil
	}
	for _, u := range summary.Units {
		rec := &UnitRecord{
			RunID:              summary.RunID,
			UnitID:             u.UnitID,
			FinalStep:          string(u.FinalStep),
			Iterations:         u.Iterations,
			Promotions:         u.Promotions,
			BestImprovementPct: u.BestImprovementPct,
			FaultKinds:         faultKinds(u.Faults),
		}
		if err := s.SaveUnitResult(rec); err != nil {
			return fmt.Errorf("save unit %s: %w", u.UnitID, err)
		}
	}
	return s.FinishRun(summary.RunID, len(summary.Units), summary.PromotedUnits(), summary.FaultCount())
}

// faultKinds flattens a unit's faults to their kinds, deduplicated,
// first-seen order.
func faultKinds(faults []*loop.Fault) []string {
	if len(faults) == 0 {
		return nil
	}
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
