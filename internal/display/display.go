// Package display provides human-readable names for machine codes.
//
// Rule: code is for machines, words are for humans. Use these functions in
// CLI output, markdown reports, and logs; keep the raw codes for JSON
// fields, map keys, and equality comparisons.
package display

import "strings"

// --- Loop steps ---

var steps = map[string]string{
	"INIT":               "Init",
	"ANALYZING":          "Analyzing",
	"GENERATING":         "Generating",
	"MATERIALIZING":      "Materializing",
	"PROFILING_VARIANTS": "Profiling Variants",
	"EVALUATING":         "Evaluating",
	"PROMOTED":           "Promoted",
	"RETAINED":           "Retained",
	"EXHAUSTED":          "Exhausted",
}

// Step returns the human-readable name for a loop step code.
// Unknown codes are returned as-is.
func Step(code string) string {
	if name, ok := steps[code]; ok {
		return name
	}
	return code
}

// StepPath converts a slice of step codes to a human-readable path.
// ["INIT", "ANALYZING", "EXHAUSTED"] -> "Init → Analyzing → Exhausted"
func StepPath(codes []string) string {
	names := make([]string, len(codes))
	for i, c := range codes {
		names[i] = Step(c)
	}
	return strings.Join(names, " → ")
}

// --- Comparison verdicts ---

var verdicts = map[string]string{
	"improved":  "Improved",
	"regressed": "Regressed",
	"neutral":   "Neutral",
	"unknown":   "Unknown",
}

// Verdict returns the human-readable name for a comparison verdict.
func Verdict(code string) string {
	if name, ok := verdicts[code]; ok {
		return name
	}
	return code
}

// --- Failure kinds ---

var failureKinds = map[string]string{
	"collaborator-timeout":     "Collaborator Timeout",
	"collaborator-failure":     "Collaborator Failure",
	"materialization-failure":  "Materialization Failure",
	"profile-unavailable":      "Profile Unavailable",
	"comparison-indeterminate": "Comparison Indeterminate",
}

// FailureKind returns the human-readable name for a recorded fault kind.
func FailureKind(code string) string {
	if name, ok := failureKinds[code]; ok {
		return name
	}
	return code
}

// --- Bottleneck categories ---

var categories = map[string]string{
	"cpu-bound":     "CPU Bound",
	"allocation":    "Allocation",
	"io":            "I/O",
	"contention":    "Lock Contention",
	"memory-access": "Memory Access",
}

// Category returns the human-readable name for a bottleneck category.
func Category(code string) string {
	if name, ok := categories[code]; ok {
		return name
	}
	return code
}

// --- Calibration metrics ---

var metrics = map[string]string{
	"M1": "Promotion Accuracy",
	"M2": "Winner Selection",
	"M3": "Improvement Delta Error",
	"M4": "State Path Accuracy",
	"M5": "Exhaustion Correctness",
	"M6": "Failure Isolation",
}

// Metric returns the human-readable name for a metric ID.
// "M1" -> "Promotion Accuracy".
func Metric(id string) string {
	if name, ok := metrics[id]; ok {
		return name
	}
	return id
}

// MetricWithCode returns "Promotion Accuracy (M1)" format.
func MetricWithCode(id string) string {
	if name, ok := metrics[id]; ok {
		return name + " (" + id + ")"
	}
	return id
}
