package calibrate

import (
	"fmt"
	"strings"

	"whetstone/internal/display"
	"whetstone/internal/format"
)

// FormatReport renders the human-readable calibration report in ASCII.
func FormatReport(report *CalibrationReport) string {
	return FormatReportMode(report, format.ASCII)
}

// FormatReportMode renders the calibration report with the given table mode
// (ASCII for terminals, Markdown for docs and CI comments).
func FormatReportMode(report *CalibrationReport, mode format.Mode) string {
	var b strings.Builder

	b.WriteString("=== Whetstone Calibration Report ===\n")
	b.WriteString(fmt.Sprintf("Scenario: %s\n", report.Scenario))
	b.WriteString(fmt.Sprintf("Adapter:  %s\n", report.Adapter))
	b.WriteString(fmt.Sprintf("Runs:     %d\n\n", report.Runs))

	writeSection(&b, "Outcome", report.Metrics.Outcome, mode)
	writeSection(&b, "Control", report.Metrics.Control, mode)

	passed, total := report.Metrics.PassCount()
	result := "PASS"
	if passed < total {
		result = "FAIL"
	}
	b.WriteString(fmt.Sprintf("RESULT: %s (%d/%d metrics within threshold)\n\n", result, passed, total))

	b.WriteString("--- Per-unit breakdown ---\n")
	tbl := format.NewTable(mode)
	tbl.Header("Unit", "Final", "Iter", "Winner", "Improvement", "Path", "Faults")
	tbl.Columns(
		format.ColumnConfig{Number: 3, Align: format.AlignRight},
		format.ColumnConfig{Number: 5, Align: format.AlignRight},
		format.ColumnConfig{Number: 6, Align: format.AlignCenter},
	)
	for _, o := range report.UnitOutcomes {
		winner := "-"
		if o.Winner() != "" || o.Expected.Winner != "" {
			winner = o.Winner()
			if winner == "" {
				winner = "(none)"
			}
			winner += " " + format.BoolMark(o.WinnerCorrect)
		}
		faults := "-"
		if len(o.FaultKinds) > 0 {
			faults = strings.Join(o.FaultKinds, ", ")
		}
		tbl.Row(
			format.Truncate(o.UnitID, 32),
			display.Step(o.FinalStep)+" "+format.BoolMark(o.StepCorrect),
			o.Iterations,
			winner,
			format.FmtPct(o.BestImprovementPct),
			format.BoolMark(o.PathCorrect),
			faults,
		)
	}
	b.WriteString(tbl.String())
	b.WriteString("\n")

	// Mismatched paths get spelled out; a mark alone is not debuggable.
	for _, o := range report.UnitOutcomes {
		if !o.PathCorrect {
			b.WriteString(fmt.Sprintf("path %s:\n  actual   %s\n  expected %s\n",
				o.UnitID, strings.Join(o.Path, "\u2192"), strings.Join(o.Expected.Path, "\u2192")))
		}
	}

	return b.String()
}

func writeSection(b *strings.Builder, title string, metrics []Metric, mode format.Mode) {
	tbl := format.NewTable(mode)
	tbl.Header("ID", "Metric", "Value", "Threshold", "Detail", "")
	tbl.Columns(
		format.ColumnConfig{Number: 3, Align: format.AlignRight},
		format.ColumnConfig{Number: 4, Align: format.AlignRight},
	)
	for _, m := range metrics {
		tbl.Row(m.ID, display.Metric(m.ID), fmt.Sprintf("%.2f", m.Value),
			formatThreshold(m), m.Detail, format.BoolMark(m.Pass))
	}
	b.WriteString("--- " + title + " ---\n")
	b.WriteString(tbl.String())
	b.WriteString("\n\n")
}

func formatThreshold(m Metric) string {
	if m.ID == "M3" {
		return fmt.Sprintf("\u2264%.2f", m.Threshold)
	}
	return fmt.Sprintf("\u2265%.2f", m.Threshold)
}
