package loop

import (
	"fmt"
	"strings"

	"whetstone/internal/display"
	"whetstone/internal/format"
)

// FormatSummary renders the human-readable results of one run: a header
// with the promotion tally and one table row per unit.
func FormatSummary(s *RunSummary) string {
	var b strings.Builder

	b.WriteString("=== Whetstone Run Report ===\n")
	b.WriteString(fmt.Sprintf("Run:      %s\n", s.RunID))
	b.WriteString(fmt.Sprintf("Promoted: %d of %d units\n\n", s.PromotedUnits(), len(s.Units)))

	tbl := format.NewTable(format.ASCII)
	tbl.Header("Unit", "Final", "Iter", "Promotions", "Best", "Winners", "Faults")
	tbl.Columns(
		format.ColumnConfig{Number: 3, Align: format.AlignRight},
		format.ColumnConfig{Number: 4, Align: format.AlignRight},
		format.ColumnConfig{Number: 5, Align: format.AlignRight},
	)
	for _, u := range s.Units {
		winners := "-"
		if len(u.Winners) > 0 {
			winners = strings.Join(u.Winners, ", ")
		}
		tbl.Row(
			format.Truncate(u.UnitID, 32),
			display.Step(string(u.FinalStep)),
			u.Iterations,
			u.Promotions,
			format.FmtPct(u.BestImprovementPct),
			winners,
			faultCell(u.Faults),
		)
	}
	b.WriteString(tbl.String())
	b.WriteString("\n")
	return b.String()
}

// faultCell reduces a unit's fault list to its distinct kinds, readably.
func faultCell(faults []*Fault) string {
	if len(faults) == 0 {
		return "-"
	}
	seen := make(map[FailureKind]bool, len(faults))
	var kinds []string
	for _, f := range faults {
		if seen[f.Kind] {
			continue
		}
		seen[f.Kind] = true
		kinds = append(kinds, display.FailureKind(string(f.Kind)))
	}
	return strings.Join(kinds, ", ")
}
