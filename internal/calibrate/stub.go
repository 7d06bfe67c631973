package calibrate

import (
	"context"
	"fmt"

	"whetstone/adapters/calibration"
	"whetstone/adapters/optim"
	"whetstone/internal/profile"
)

var _ Collaborator = (*StubAdapter)(nil)

// StubAdapter answers analyze and generate calls from scenario ground truth,
// never reading the baseline profile it is handed. Its answers are perfect
// by construction, so any metric miss under the stub is a loop defect, not
// a model one.
type StubAdapter struct {
	scenario *calibration.Scenario
}

// NewStubAdapter creates a stub collaborator for one scenario.
func NewStubAdapter(s *calibration.Scenario) *StubAdapter {
	return &StubAdapter{scenario: s}
}

// Name implements Collaborator.
func (a *StubAdapter) Name() string { return "stub" }

// Analyze serves the scripted bottleneck for the unit's iteration. Past the
// script's end it reports nothing found, which exhausts the unit instead of
// looping forever.
func (a *StubAdapter) Analyze(ctx context.Context, unit optim.SourceUnit, iteration int, baseline *profile.Profile) (*optim.BottleneckReport, error) {
	gt := a.scenario.UnitByID(unit.ID)
	if gt == nil {
		return nil, fmt.Errorf("no ground truth for unit %s", unit.ID)
	}
	truth := gt.Truth(iteration)
	if truth == nil {
		return &optim.BottleneckReport{Found: false}, nil
	}
	return truth.Bottleneck.Report(), nil
}

// Generate serves the scripted variant batch for the unit's iteration.
func (a *StubAdapter) Generate(ctx context.Context, unit optim.SourceUnit, iteration int, report *optim.BottleneckReport) (*optim.VariantSet, error) {
	gt := a.scenario.UnitByID(unit.ID)
	if gt == nil {
		return nil, fmt.Errorf("no ground truth for unit %s", unit.ID)
	}
	truth := gt.Truth(iteration)
	if truth == nil {
		return &optim.VariantSet{}, nil
	}
	return truth.VariantSet(), nil
}
