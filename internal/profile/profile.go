// Package profile models one CPU profile of one executable run: the ordered
// hotspot table, the raw report text it was distilled from, and the exact
// command that produced it. Profiles are immutable after creation; the
// comparator and the loop controller only ever read them.
package profile

// HotspotRow is one symbol's share of the profiled run.
type HotspotRow struct {
	Symbol      string  `json:"symbol"`
	SelfPct     float64 `json:"self_percent"`
	ChildrenPct float64 `json:"children_percent"`
}

// Profile is a structured summary of where CPU time went in one run.
type Profile struct {
	Rows         []HotspotRow `json:"rows"`
	RawReport    string       `json:"raw_report"`
	Command      string       `json:"command"`
	TotalSamples int          `json:"total_samples"`
}

// HasSamples reports whether the profile attributes any time at all.
// A profile with zero samples or an empty hotspot table is not comparable.
func (p *Profile) HasSamples() bool {
	if p == nil || len(p.Rows) == 0 {
		return false
	}
	for _, r := range p.Rows {
		if r.SelfPct > 0 || r.ChildrenPct > 0 {
			return true
		}
	}
	return false
}

// Dominant returns the row with the highest self share, or false when the
// profile is empty. Ties keep the first row; rows arrive sorted by perf
// anyway.
func (p *Profile) Dominant() (HotspotRow, bool) {
	if p == nil || len(p.Rows) == 0 {
		return HotspotRow{}, false
	}
	best := p.Rows[0]
	for _, r := range p.Rows[1:] {
		if r.SelfPct > best.SelfPct {
			best = r
		}
	}
	return best, true
}

// SelfShare returns the self percentage attributed to symbol, 0 if absent.
func (p *Profile) SelfShare(symbol string) float64 {
	if p == nil {
		return 0
	}
	for _, r := range p.Rows {
		if r.Symbol == symbol {
			return r.SelfPct
		}
	}
	return 0
}

// TopRows returns up to n rows ordered by descending self share.
func (p *Profile) TopRows(n int) []HotspotRow {
	if p == nil || n <= 0 {
		return nil
	}
	sorted := make([]HotspotRow, len(p.Rows))
	copy(sorted, p.Rows)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].SelfPct > sorted[j-1].SelfPct; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

// Excerpt renders up to n hotspot rows as short text lines for evaluation
// records and prompts. Empty profiles yield an empty string.
func (p *Profile) Excerpt(n int) string {
	rows := p.TopRows(n)
	out := ""
	for _, r := range rows {
		if out != "" {
			out += "\n"
		}
		out += formatRow(r)
	}
	return out
}
