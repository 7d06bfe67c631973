// Package loop drives the per-unit optimization state machine:
// ANALYZING → GENERATING → MATERIALIZING → PROFILING_VARIANTS → EVALUATING,
// closing each iteration with PROMOTED or RETAINED and each unit with the
// final verdict or EXHAUSTED. Units are independent; the only shared inputs
// are the collaborators and the output root. Collaborator calls are the
// loop's suspension points and honor context deadlines.
package loop

import (
	"context"

	"whetstone/adapters/optim"
	"whetstone/internal/compare"
	"whetstone/internal/profile"
)

// Analyzer diagnoses the dominant bottleneck of a unit's current baseline.
// A nil report or Found=false means nothing actionable was found.
type Analyzer interface {
	Analyze(ctx context.Context, unit optim.SourceUnit, iteration int, baseline *profile.Profile) (*optim.BottleneckReport, error)
}

// Generator proposes candidate rewrites for a diagnosed bottleneck. An empty
// batch is a legitimate answer.
type Generator interface {
	Generate(ctx context.Context, unit optim.SourceUnit, iteration int, report *optim.BottleneckReport) (*optim.VariantSet, error)
}

// Compiler builds one source file in dir into an executable at outPath and
// returns the path of the produced binary.
type Compiler interface {
	Compile(ctx context.Context, dir, mainFile, outPath string) (string, error)
}

// Profiler runs a binary under the profiler and returns its hotspot table.
type Profiler interface {
	Profile(ctx context.Context, binary string, args []string) (*profile.Profile, error)
}

// Thresholds gathers every tunable the loop and its comparator read. Nothing
// numeric is hard-coded in the algorithms; calibration scenarios and flags
// override these.
type Thresholds struct {
	// SignificancePct is the minimum dominant-share delta, in percentage
	// points, separating improved/regressed from neutral.
	SignificancePct float64 `json:"significance_pct" yaml:"significance_pct"`
	// ShareMassTolerancePct bounds successor matching under symbol churn.
	ShareMassTolerancePct float64 `json:"share_mass_tolerance_pct" yaml:"share_mass_tolerance_pct"`
	// MinConfidentSamples caps confidence on thin profiles.
	MinConfidentSamples    int     `json:"min_confident_samples" yaml:"min_confident_samples"`
	LowSampleConfidenceCap float64 `json:"low_sample_confidence_cap" yaml:"low_sample_confidence_cap"`
	// PromotionMinConfidence is the floor an improvement verdict must clear
	// before its variant may be promoted.
	PromotionMinConfidence float64 `json:"promotion_min_confidence" yaml:"promotion_min_confidence"`
}

// DefaultThresholds returns the documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SignificancePct:        5,
		ShareMassTolerancePct:  5,
		MinConfidentSamples:    10,
		LowSampleConfidenceCap: 0.5,
		PromotionMinConfidence: 0.5,
	}
}

// CompareConfig projects the comparator's share of the thresholds.
func (t Thresholds) CompareConfig() compare.Config {
	return compare.Config{
		SignificancePct:        t.SignificancePct,
		ShareMassTolerancePct:  t.ShareMassTolerancePct,
		MinConfidentSamples:    t.MinConfidentSamples,
		LowSampleConfidenceCap: t.LowSampleConfidenceCap,
	}
}
