package optim

import (
	"context"
	"fmt"
	"time"

	"whetstone/internal/profile"
)

// promptRowLimit caps how many hotspot rows a prompt quotes. Deep profile
// tails add tokens without adding signal.
const promptRowLimit = 25

// ModelCollaborator turns a ModelAdapter into the loop's analyze and
// generate collaborators: it renders the step prompt, persists it beside the
// iteration's artifacts, drives the adapter under a per-call deadline, and
// parses the typed artifact back out of the raw response. Adapters that
// implement UnitRegistrar get the typed snapshot before every call.
type ModelCollaborator struct {
	Adapter      ModelAdapter
	BasePath     string        // audit-trail root; prompts land in the iter dir
	RunID        string
	ThresholdPct float64       // significance floor quoted in analyze prompts
	MaxVariants  int           // candidate cap quoted in generate prompts
	Timeout      time.Duration // per-call deadline; 0 leaves the caller's ctx alone
}

// Name reports the backing adapter's name.
func (c *ModelCollaborator) Name() string { return c.Adapter.Name() }

// Analyze asks the adapter for a BottleneckReport against the unit's current
// baseline profile. A nil report or Found=false means nothing cleared the
// significance floor.
func (c *ModelCollaborator) Analyze(ctx context.Context, unit SourceUnit, iteration int, baseline *profile.Profile) (*BottleneckReport, error) {
	params := &PromptParams{
		UnitID:       unit.ID,
		Path:         unit.Path,
		Iteration:    iteration,
		Source:       unit.Source,
		ProfileTable: baseline.Excerpt(promptRowLimit),
		ThresholdPct: c.ThresholdPct,
	}
	if baseline != nil {
		params.Command = baseline.Command
	}

	snap := &UnitSnapshot{Path: unit.Path, Iteration: iteration, Source: unit.Source, Profile: baseline}
	raw, err := c.send(ctx, unit, iteration, StepAnalyzing, params, snap)
	if err != nil {
		return nil, err
	}

	report, err := ParseArtifact[BottleneckReport](raw)
	if err != nil {
		return nil, fmt.Errorf("parse bottleneck report for %s: %w", unit.ID, err)
	}
	return report, nil
}

// Generate asks the adapter for a batch of candidate patches attacking the
// accepted bottleneck. An empty batch is a legitimate answer, not an error.
func (c *ModelCollaborator) Generate(ctx context.Context, unit SourceUnit, iteration int, report *BottleneckReport) (*VariantSet, error) {
	params := &PromptParams{
		UnitID:      unit.ID,
		Path:        unit.Path,
		Iteration:   iteration,
		Source:      unit.Source,
		MaxVariants: c.MaxVariants,
		Bottleneck:  report,
	}

	snap := &UnitSnapshot{Path: unit.Path, Iteration: iteration, Source: unit.Source, Bottleneck: report}
	raw, err := c.send(ctx, unit, iteration, StepGenerating, params, snap)
	if err != nil {
		return nil, err
	}

	set, err := ParseArtifact[VariantSet](raw)
	if err != nil {
		return nil, fmt.Errorf("parse variant set for %s: %w", unit.ID, err)
	}
	return set, nil
}

func (c *ModelCollaborator) send(ctx context.Context, unit SourceUnit, iteration int, step LoopStep, params *PromptParams, snap *UnitSnapshot) ([]byte, error) {
	prompt, err := RenderPrompt(step, params)
	if err != nil {
		return nil, fmt.Errorf("render %s prompt for %s: %w", step.Family(), unit.ID, err)
	}

	if c.BasePath != "" {
		iterDir := IterDir(UnitDir(c.BasePath, c.RunID, unit.ID), iteration)
		if _, err := WritePrompt(iterDir, step, prompt); err != nil {
			return nil, fmt.Errorf("persist %s prompt for %s: %w", step.Family(), unit.ID, err)
		}
	}

	if r, ok := c.Adapter.(UnitRegistrar); ok {
		r.RegisterUnit(unit.ID, snap)
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	raw, err := c.Adapter.SendPrompt(ctx, unit.ID, step, prompt)
	if err != nil {
		return nil, fmt.Errorf("adapter %s: %s/%s: %w", c.Adapter.Name(), unit.ID, step, err)
	}
	return raw, nil
}
