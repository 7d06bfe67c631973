package calibrate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"whetstone/adapters/calibration"
	"whetstone/adapters/optim"
	"whetstone/internal/loop"
	"whetstone/internal/profile"
)

var (
	_ loop.Compiler = (*StubToolchain)(nil)
	_ loop.Profiler = (*StubToolchain)(nil)
)

// StubToolchain serves planted compile results and hotspot tables keyed by
// (unit, iteration, variant). The key is recovered from the directory the
// loop compiles in: {unit slug}/iterN for baselines and
// {unit slug}/iterN/variants/{variant slug} for candidates, the same layout
// the materializer writes.
type StubToolchain struct {
	scenario *calibration.Scenario
}

// NewStubToolchain creates the stub compiler/profiler pair for one scenario.
func NewStubToolchain(s *calibration.Scenario) *StubToolchain {
	return &StubToolchain{scenario: s}
}

// Compile resolves the target being built and fails with the planted
// diagnostic when the script says the rewrite does not compile. No binary is
// produced; the returned path only needs to round-trip into Profile.
func (t *StubToolchain) Compile(ctx context.Context, dir, mainFile, outPath string) (string, error) {
	key, err := t.resolve(dir)
	if err != nil {
		return "", err
	}
	if key.variant != nil && key.variant.CompileError != "" {
		return "", errors.New(key.variant.CompileError)
	}
	return outPath, nil
}

// Profile serves the planted hotspot table for the resolved target. A
// non-variant path answers with the unit's baseline table; the loop only
// measures the original once, before the first iteration.
func (t *StubToolchain) Profile(ctx context.Context, binary string, args []string) (*profile.Profile, error) {
	key, err := t.resolve(filepath.Dir(binary))
	if err != nil {
		return nil, err
	}
	if key.variant != nil {
		return key.variant.Profile.Profile(), nil
	}
	return key.unit.Baseline.Profile(), nil
}

// pathKey is one resolved audit-trail position.
type pathKey struct {
	unit      *calibration.GroundTruthUnit
	iteration int
	variant   *calibration.VariantTruth // nil for baseline builds
}

// resolve maps a build directory back to its scenario coordinates.
func (t *StubToolchain) resolve(dir string) (*pathKey, error) {
	segs := strings.Split(filepath.ToSlash(dir), "/")

	iterIdx, iteration := -1, 0
	for i := len(segs) - 1; i >= 0; i-- {
		var n int
		// Sscanf tolerates trailing garbage; the re-format check does not.
		if _, err := fmt.Sscanf(segs[i], "iter%d", &n); err == nil && segs[i] == fmt.Sprintf("iter%d", n) {
			iterIdx, iteration = i, n
			break
		}
	}
	if iterIdx < 1 {
		return nil, fmt.Errorf("stub toolchain: no iteration directory in %s", dir)
	}

	unitSlug := segs[iterIdx-1]
	var unit *calibration.GroundTruthUnit
	for i := range t.scenario.Units {
		if optim.Slug(t.scenario.Units[i].ID) == unitSlug {
			unit = &t.scenario.Units[i]
			break
		}
	}
	if unit == nil {
		return nil, fmt.Errorf("stub toolchain: no scenario unit for %q", unitSlug)
	}

	key := &pathKey{unit: unit, iteration: iteration}
	if iterIdx+2 < len(segs) && segs[iterIdx+1] == "variants" {
		variantSlug := segs[iterIdx+2]
		if truth := unit.Truth(iteration); truth != nil {
			for i := range truth.Variants {
				if optim.Slug(truth.Variants[i].ID) == variantSlug {
					key.variant = &truth.Variants[i]
					break
				}
			}
		}
		if key.variant == nil {
			return nil, fmt.Errorf("stub toolchain: no planted profile for variant %q of %s iter %d",
				variantSlug, unit.ID, iteration)
		}
	}
	return key, nil
}
