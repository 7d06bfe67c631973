package optim

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed heuristics.yaml
var heuristicsYAML []byte

type rewriteRule struct {
	ID        string `yaml:"id"`
	Directive string `yaml:"directive"`
	Rationale string `yaml:"rationale"`
	Expected  string `yaml:"expected"`
}

type heuristicsData struct {
	Thresholds struct {
		MinDominantSelfPct float64 `yaml:"min_dominant_self_pct"`
	} `yaml:"thresholds"`
	Classification struct {
		Contention   [][]string `yaml:"contention"`
		IO           [][]string `yaml:"io"`
		Allocation   [][]string `yaml:"allocation"`
		MemoryAccess [][]string `yaml:"memory-access"`
		CPUBound     [][]string `yaml:"cpu-bound"`
	} `yaml:"bottleneck_classification"`
	SymbolHints  map[string][]string      `yaml:"symbol_hints"`
	Hypotheses   map[string]string        `yaml:"hypotheses"`
	RewriteRules map[string][]rewriteRule `yaml:"rewrite_rules"`
}

var loadedHeuristics *heuristicsData

func getHeuristics() *heuristicsData {
	if loadedHeuristics != nil {
		return loadedHeuristics
	}
	var h heuristicsData
	if err := yaml.Unmarshal(heuristicsYAML, &h); err != nil {
		panic(fmt.Sprintf("load heuristics.yaml: %v", err))
	}
	loadedHeuristics = &h
	return &h
}

// symbolHintOrder fixes the precedence of symbol-hint categories: most
// specific evidence first, cpu-bound last so a generic name only wins when
// nothing sharper matched.
var symbolHintOrder = []string{CategoryContention, CategoryIO, CategoryAllocation, CategoryCPUBound}

// BasicAdapter answers analyze and generate prompts from embedded keyword
// rules instead of a model. Unlike the calibration stub (which replays
// pre-authored scenario answers), it derives its reports from the unit's
// actual source text and profile, so it doubles as an offline baseline for
// real runs. Callers register a UnitSnapshot before each prompt; the prompt
// text itself is ignored.
type BasicAdapter struct {
	units map[string]*UnitSnapshot
	h     *heuristicsData
}

// MaxPatchesPerBatch caps how many candidates the generate step may emit.
const MaxPatchesPerBatch = 3

func NewBasicAdapter() *BasicAdapter {
	return &BasicAdapter{
		units: make(map[string]*UnitSnapshot),
		h:     getHeuristics(),
	}
}

func (a *BasicAdapter) Name() string { return "basic" }

// RegisterUnit stores the typed snapshot SendPrompt reads instead of the
// rendered prompt. Re-registering replaces the previous snapshot, which is
// how callers refresh the source and profile between iterations.
func (a *BasicAdapter) RegisterUnit(unitID string, snap *UnitSnapshot) {
	a.units[unitID] = snap
}

func (a *BasicAdapter) SendPrompt(_ context.Context, unitID string, step LoopStep, _ string) (json.RawMessage, error) {
	snap := a.units[unitID]
	if snap == nil {
		return nil, fmt.Errorf("basic: unknown unit %q", unitID)
	}

	var artifact any
	switch step {
	case StepAnalyzing:
		artifact = a.buildReport(snap)
	case StepGenerating:
		artifact = a.buildVariants(snap)
	default:
		return nil, fmt.Errorf("basic: no response for step %s", step)
	}

	data, err := json.Marshal(artifact)
	if err != nil {
		return nil, fmt.Errorf("basic: marshal: %w", err)
	}
	return data, nil
}

// buildReport diagnoses the dominant profile row against the keyword rules.
func (a *BasicAdapter) buildReport(snap *UnitSnapshot) *BottleneckReport {
	if snap.Profile == nil || !snap.Profile.HasSamples() {
		return &BottleneckReport{Found: false}
	}
	top, ok := snap.Profile.Dominant()
	if !ok || top.SelfPct < a.h.Thresholds.MinDominantSelfPct {
		return &BottleneckReport{Found: false}
	}

	category, matched := a.classify(top.Symbol, snap.Source)
	return &BottleneckReport{
		Found:      true,
		Symbol:     top.Symbol,
		Line:       firstKeywordLine(snap.Source, matched),
		Category:   category,
		Hypothesis: a.h.Hypotheses[category],
	}
}

// classify picks a bottleneck category from the dominant symbol name first
// (the profiler is telling us where the time went), then from source
// keywords, falling back to cpu-bound. It also returns the keyword that
// decided the match so the caller can locate it in the source.
func (a *BasicAdapter) classify(symbol, source string) (category, matched string) {
	symLower := strings.ToLower(symbol)
	for _, cat := range symbolHintOrder {
		for _, kw := range a.h.SymbolHints[cat] {
			if strings.Contains(symLower, kw) {
				return cat, firstSourceHit(source, a.classificationGroups(cat))
			}
		}
	}

	type catGroups struct {
		name   string
		groups [][]string
	}
	ordered := []catGroups{
		{CategoryContention, a.h.Classification.Contention},
		{CategoryIO, a.h.Classification.IO},
		{CategoryAllocation, a.h.Classification.Allocation},
		{CategoryMemory, a.h.Classification.MemoryAccess},
		{CategoryCPUBound, a.h.Classification.CPUBound},
	}
	for _, cg := range ordered {
		if hit := firstSourceHit(source, cg.groups); hit != "" {
			return cg.name, hit
		}
	}
	return CategoryCPUBound, ""
}

func (a *BasicAdapter) classificationGroups(category string) [][]string {
	switch category {
	case CategoryContention:
		return a.h.Classification.Contention
	case CategoryIO:
		return a.h.Classification.IO
	case CategoryAllocation:
		return a.h.Classification.Allocation
	case CategoryMemory:
		return a.h.Classification.MemoryAccess
	default:
		return a.h.Classification.CPUBound
	}
}

// firstSourceHit returns the first keyword from any group found in the
// source, or "" when nothing matches.
func firstSourceHit(source string, groups [][]string) string {
	for _, group := range groups {
		for _, kw := range group {
			if strings.Contains(source, kw) {
				return kw
			}
		}
	}
	return ""
}

// firstKeywordLine locates the 1-based line of the first occurrence of the
// matched keyword. Zero means no usable location.
func firstKeywordLine(source, keyword string) int {
	if keyword == "" {
		return 0
	}
	for i, line := range strings.Split(source, "\n") {
		if strings.Contains(line, keyword) {
			return i + 1
		}
	}
	return 0
}

// buildVariants emits the canned rewrite templates for the diagnosed
// category: each candidate is the unit's source with the rule's directive
// line prepended, so every variant stays compilable and the batch stays
// deterministic.
func (a *BasicAdapter) buildVariants(snap *UnitSnapshot) *VariantSet {
	category := CategoryCPUBound
	if snap.Bottleneck != nil && snap.Bottleneck.Category != "" {
		category = snap.Bottleneck.Category
	} else {
		category, _ = a.classify(dominantSymbol(snap), snap.Source)
	}

	rules := a.h.RewriteRules[category]
	if len(rules) == 0 {
		rules = a.h.RewriteRules[CategoryCPUBound]
	}
	if len(rules) > MaxPatchesPerBatch {
		rules = rules[:MaxPatchesPerBatch]
	}

	set := &VariantSet{}
	for _, r := range rules {
		set.Variants = append(set.Variants, CandidatePatch{
			VariantID: r.ID,
			Code:      r.Directive + "\n" + snap.Source,
			Rationale: r.Rationale,
			Expected:  r.Expected,
		})
	}
	return set
}

func dominantSymbol(snap *UnitSnapshot) string {
	if snap.Profile == nil {
		return ""
	}
	if top, ok := snap.Profile.Dominant(); ok {
		return top.Symbol
	}
	return ""
}
