package loop

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind buckets every recoverable failure the loop can record. All of
// them downgrade one variant or one unit iteration; none abort the run.
type FailureKind string

const (
	// CollaboratorTimeout: an analyzer/generator/compiler/profiler call hit
	// its deadline.
	CollaboratorTimeout FailureKind = "collaborator-timeout"
	// CollaboratorFailure: a collaborator returned an error (compile error,
	// malformed model output, tool crash).
	CollaboratorFailure FailureKind = "collaborator-failure"
	// MaterializationFailure: a variant could not be written to disk.
	MaterializationFailure FailureKind = "materialization-failure"
	// ProfileUnavailable: the collector ran but produced no attributable
	// samples.
	ProfileUnavailable FailureKind = "profile-unavailable"
	// ComparisonIndeterminate: baseline and candidate profiles could not be
	// compared.
	ComparisonIndeterminate FailureKind = "comparison-indeterminate"
)

// Fault is one recorded failure, scoped to a unit iteration and optionally
// to a single variant. It implements error so collaborator causes stay
// inspectable through errors.Is/As.
type Fault struct {
	Kind      FailureKind `json:"kind"`
	UnitID    string      `json:"unit_id"`
	Iteration int         `json:"iteration"`
	VariantID string      `json:"variant_id,omitempty"`
	Message   string      `json:"message"`

	cause error
}

// NewFault builds a Fault from its scope and cause.
func NewFault(kind FailureKind, unitID string, iteration int, variantID string, cause error) *Fault {
	f := &Fault{
		Kind:      kind,
		UnitID:    unitID,
		Iteration: iteration,
		VariantID: variantID,
		cause:     cause,
	}
	if cause != nil {
		f.Message = cause.Error()
	}
	return f
}

func (f *Fault) Error() string {
	scope := f.UnitID
	if f.VariantID != "" {
		scope += "/" + f.VariantID
	}
	return fmt.Sprintf("%s: %s iter %d: %s", f.Kind, scope, f.Iteration, f.Message)
}

func (f *Fault) Unwrap() error { return f.cause }

// Classify maps a collaborator error to its failure kind: deadline hits are
// timeouts, everything else is a plain collaborator failure.
func Classify(err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return CollaboratorTimeout
	}
	return CollaboratorFailure
}
