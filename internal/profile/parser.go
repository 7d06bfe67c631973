package profile

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseReport turns `perf report --stdio` text into a Profile. Comment lines
// carry the sample count; data lines carry one or two percentage columns
// (children then self when both are present) followed by command, shared
// object, and the [.]-tagged symbol. Callchain continuation lines from -g
// never start with a percentage and are skipped. Unparseable text yields an
// empty hotspot table with the raw report retained, so the caller can still
// classify the profile as non-comparable instead of failing.
func ParseReport(raw, command string) *Profile {
	p := &Profile{RawReport: raw, Command: command}

	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			if n, ok := parseSampleCount(trimmed); ok {
				p.TotalSamples = n
			}
			continue
		}
		row, ok := parseDataLine(trimmed)
		if !ok {
			continue
		}
		p.Rows = append(p.Rows, row)
	}
	return p
}

// parseSampleCount extracts N from "# Samples: 12K of event 'cycles'".
func parseSampleCount(line string) (int, bool) {
	const marker = "Samples:"
	idx := strings.Index(line, marker)
	if idx < 0 {
		return 0, false
	}
	rest := strings.Fields(line[idx+len(marker):])
	if len(rest) == 0 {
		return 0, false
	}
	return parseScaledCount(rest[0])
}

// parseScaledCount parses perf's abbreviated counts: "305", "1K", "12M".
func parseScaledCount(s string) (int, bool) {
	mult := 1
	switch {
	case strings.HasSuffix(s, "K"):
		mult, s = 1_000, strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		mult, s = 1_000_000, strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		mult, s = 1_000_000_000, strings.TrimSuffix(s, "G")
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return int(n * float64(mult)), true
}

// parseDataLine parses one hotspot row. Returns false for anything that is
// not a percentage-led report line.
func parseDataLine(line string) (HotspotRow, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return HotspotRow{}, false
	}

	first, ok := parsePercent(fields[0])
	if !ok {
		return HotspotRow{}, false
	}

	var row HotspotRow
	rest := fields[1:]
	if second, ok := parsePercent(fields[1]); ok {
		// Two percentage columns: perf prints Children before Self.
		row.ChildrenPct = first
		row.SelfPct = second
		rest = fields[2:]
	} else {
		row.SelfPct = first
	}

	row.Symbol = extractSymbol(rest)
	if row.Symbol == "" {
		return HotspotRow{}, false
	}
	return row, true
}

func parsePercent(s string) (float64, bool) {
	if !strings.HasSuffix(s, "%") {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// extractSymbol finds the symbol name after perf's privilege marker
// ("[.]", "[k]", ...). Without a marker the last field is taken, which
// covers stripped-down report formats.
func extractSymbol(fields []string) string {
	for i, f := range fields {
		if len(f) == 3 && f[0] == '[' && f[2] == ']' {
			if i+1 < len(fields) {
				return strings.Join(fields[i+1:], " ")
			}
			return ""
		}
	}
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

func formatRow(r HotspotRow) string {
	if r.ChildrenPct > 0 {
		return fmt.Sprintf("%6.2f%% %6.2f%%  %s", r.SelfPct, r.ChildrenPct, r.Symbol)
	}
	return fmt.Sprintf("%6.2f%%  %s", r.SelfPct, r.Symbol)
}
