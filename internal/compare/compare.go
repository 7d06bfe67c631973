// Package compare decides whether a variant's profile is a genuine
// improvement over the baseline it was derived from. The decision metric is
// dominant-cost concentration: how much of the run the most expensive symbol
// owns. Symbol names are allowed to churn between profiles; matching is by
// share mass, so a hot function renamed by a rewrite is not mistaken for a
// win, and one split across worker symbols is not mistaken for a loss.
package compare

import (
	"fmt"

	"whetstone/internal/profile"
)

// Verdict classifies one baseline/candidate comparison.
type Verdict string

const (
	VerdictImproved  Verdict = "improved"
	VerdictRegressed Verdict = "regressed"
	VerdictNeutral   Verdict = "neutral"
	VerdictUnknown   Verdict = "unknown"
)

// EvaluationResult records one comparison. DeltaPct is signed, positive
// meaning the candidate concentrates less cost in its dominant symbol than
// the baseline did. Excerpts keep the human-readable hotspot context next to
// the numbers in the audit trail.
type EvaluationResult struct {
	VariantID        string  `json:"variant_id,omitempty"` // stamped by the caller
	Verdict          Verdict `json:"verdict"`
	DeltaPct         float64 `json:"delta_pct"`
	Confidence       float64 `json:"confidence"`
	BaselineExcerpt  string  `json:"baseline_excerpt,omitempty"`
	CandidateExcerpt string  `json:"candidate_excerpt,omitempty"`
	Detail           string  `json:"detail,omitempty"`
}

// Improved reports whether the comparison flagged a genuine improvement.
func (r EvaluationResult) Improved() bool { return r.Verdict == VerdictImproved }

// Config carries the comparator's tunables. Nothing numeric is hard-coded
// in the algorithm; scenarios and the loop controller both override these.
type Config struct {
	// SignificancePct is the minimum concentration delta, in percentage
	// points, that separates improved/regressed from neutral.
	SignificancePct float64
	// ShareMassTolerancePct bounds how far a successor's combined share may
	// drift from the original dominant share and still count as the same
	// workload under new names.
	ShareMassTolerancePct float64
	// MinConfidentSamples is the sample count below which confidence is
	// capped at LowSampleConfidenceCap.
	MinConfidentSamples    int
	LowSampleConfidenceCap float64
}

// DefaultConfig returns the documented defaults: 5% significance, 5% mass
// tolerance, low-sample cap 0.5 under 10 samples.
func DefaultConfig() Config {
	return Config{
		SignificancePct:        5,
		ShareMassTolerancePct:  5,
		MinConfidentSamples:    10,
		LowSampleConfidenceCap: 0.5,
	}
}

// Confidence levels by match quality. Small-sample capping applies after.
const (
	confidenceNameMatch = 0.9
	confidenceMassMatch = 0.8
	confidenceNoMatch   = 0.5
)

// massSearchLimit caps how many candidate rows the successor search walks.
// Past this depth the original cost has dissolved rather than moved.
const massSearchLimit = 8

// excerptRows is how many hotspot lines each side contributes to the result.
const excerptRows = 5

// Comparator applies one Config to baseline/candidate profile pairs.
type Comparator struct {
	cfg Config
}

func New(cfg Config) *Comparator {
	return &Comparator{cfg: cfg}
}

// Compare evaluates a candidate profile against the baseline it derives
// from. Either profile lacking attributable samples yields VerdictUnknown
// with confidence 0; nothing here ever fails.
func (c *Comparator) Compare(baseline, candidate *profile.Profile) EvaluationResult {
	result := EvaluationResult{
		BaselineExcerpt:  baseline.Excerpt(excerptRows),
		CandidateExcerpt: candidate.Excerpt(excerptRows),
	}

	if !baseline.HasSamples() || !candidate.HasSamples() {
		result.Verdict = VerdictUnknown
		result.Confidence = 0
		result.Detail = "one or both profiles have no attributable samples"
		return result
	}

	base, _ := baseline.Dominant()
	cand, _ := candidate.Dominant()
	result.DeltaPct = base.SelfPct - cand.SelfPct

	m := c.matchDominant(base, candidate)
	switch m.kind {
	case matchName:
		result.Confidence = confidenceNameMatch
		result.Detail = fmt.Sprintf("%s retained %.2f%% self (was %.2f%%)", base.Symbol, candidate.SelfShare(base.Symbol), base.SelfPct)
	case matchRename:
		result.Confidence = confidenceMassMatch
		result.Detail = fmt.Sprintf("%s reappears as %q at %.2f%% self", base.Symbol, cand.Symbol, m.mass)
	case matchSplit:
		result.Confidence = confidenceMassMatch
		result.Detail = fmt.Sprintf("%s split across %d symbols totaling %.2f%% self", base.Symbol, m.parts, m.mass)
	default:
		result.Confidence = confidenceNoMatch
		result.Detail = fmt.Sprintf("no successor found for %s (%.2f%% self)", base.Symbol, base.SelfPct)
	}

	result.Verdict = c.classify(result.DeltaPct, baseline, candidate, &result)
	result.Confidence = c.capForSamples(result.Confidence, baseline, candidate)
	return result
}

type matchKind string

const (
	matchName   matchKind = "name"
	matchRename matchKind = "rename"
	matchSplit  matchKind = "split"
	matchNone   matchKind = "none"
)

type dominantMatch struct {
	kind  matchKind
	mass  float64 // successor share mass accounted for
	parts int     // successor symbol count
}

// matchDominant finds the baseline's dominant symbol in the candidate: by
// name when it survived, otherwise by walking the candidate's most expensive
// rows until their combined share lands within tolerance of the original.
// One successor row is a rename; several are a split.
func (c *Comparator) matchDominant(base profile.HotspotRow, candidate *profile.Profile) dominantMatch {
	if candidate.SelfShare(base.Symbol) > 0 {
		return dominantMatch{kind: matchName}
	}

	tol := c.cfg.ShareMassTolerancePct
	var cum float64
	parts := 0
	for _, row := range candidate.TopRows(massSearchLimit) {
		cum += row.SelfPct
		parts++
		if cum >= base.SelfPct-tol {
			if cum <= base.SelfPct+tol {
				if parts == 1 {
					return dominantMatch{kind: matchRename, mass: cum, parts: parts}
				}
				return dominantMatch{kind: matchSplit, mass: cum, parts: parts}
			}
			// Overshot the window in one step: the cheapest explanation is
			// a new, larger hotspot, not a successor.
			return dominantMatch{kind: matchNone}
		}
	}
	return dominantMatch{kind: matchNone}
}

// classify applies the significance threshold to the concentration delta,
// gated by the CPU-cost proxy: a candidate that burned meaningfully more
// samples than the baseline cannot be an improvement no matter how its
// shares shifted.
func (c *Comparator) classify(delta float64, baseline, candidate *profile.Profile, result *EvaluationResult) Verdict {
	th := c.cfg.SignificancePct
	switch {
	case delta >= th:
		if grew, detail := c.cpuCostGrew(baseline, candidate); grew {
			result.Detail = detail
			return VerdictNeutral
		}
		return VerdictImproved
	case delta <= -th:
		return VerdictRegressed
	default:
		return VerdictNeutral
	}
}

// cpuCostGrew compares total sample counts when both sides have them,
// allowing tolerance-sized slack for measurement noise.
func (c *Comparator) cpuCostGrew(baseline, candidate *profile.Profile) (bool, string) {
	if baseline.TotalSamples <= 0 || candidate.TotalSamples <= 0 {
		return false, ""
	}
	limit := float64(baseline.TotalSamples) * (1 + c.cfg.ShareMassTolerancePct/100)
	if float64(candidate.TotalSamples) > limit {
		return true, fmt.Sprintf("share shifted but CPU cost grew: %d samples vs %d baseline", candidate.TotalSamples, baseline.TotalSamples)
	}
	return false, ""
}

func (c *Comparator) capForSamples(conf float64, baseline, candidate *profile.Profile) float64 {
	if baseline.TotalSamples < c.cfg.MinConfidentSamples || candidate.TotalSamples < c.cfg.MinConfidentSamples {
		if conf > c.cfg.LowSampleConfidenceCap {
			return c.cfg.LowSampleConfidenceCap
		}
	}
	return conf
}
