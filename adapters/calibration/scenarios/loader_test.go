package scenarios_test

import (
	"testing"

	"whetstone/adapters/calibration/scenarios"

	"github.com/google/go-cmp/cmp"
)

func TestLoadScenario_AllValid(t *testing.T) {
	for _, name := range scenarios.ListScenarios() {
		t.Run(name, func(t *testing.T) {
			s, err := scenarios.LoadScenario(name)
			if err != nil {
				t.Fatalf("LoadScenario(%q): %v", name, err)
			}
			if s.Name != name {
				t.Errorf("Name = %q, want %q", s.Name, name)
			}
			if s.Run.Iterations < 1 {
				t.Errorf("Run.Iterations = %d, want >= 1", s.Run.Iterations)
			}
			if len(s.Units) == 0 {
				t.Fatal("expected at least one unit")
			}
			for _, u := range s.Units {
				if u.Source == "" {
					t.Errorf("unit %s has no source text", u.ID)
				}
				if u.Expected.FinalStep == "" {
					t.Errorf("unit %s has no expected final step", u.ID)
				}
				if len(u.Expected.Path) == 0 {
					t.Errorf("unit %s has no expected step path", u.ID)
				}
			}
		})
	}
}

func TestListScenarios(t *testing.T) {
	names := scenarios.ListScenarios()
	want := []string{"contended-variants", "heavy-computation", "no-bottleneck", "split-hotspot"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("ListScenarios mismatch:\n%s", diff)
	}
}

func TestLoadScenario_GroundTruthShape(t *testing.T) {
	s, err := scenarios.LoadScenario("heavy-computation")
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	unit := s.UnitByID("src/matrix.cpp")
	if unit == nil {
		t.Fatal("unit src/matrix.cpp missing")
	}
	if !unit.Baseline.Profile().HasSamples() {
		t.Error("baseline table should convert to a sampled profile")
	}
	truth := unit.Truth(1)
	if truth == nil || !truth.Bottleneck.Found || truth.Bottleneck.Symbol != "multiply_matrices" {
		t.Fatalf("iteration 1 truth = %+v", truth)
	}
	if len(truth.Variants) != 3 {
		t.Fatalf("got %d variants, want 3", len(truth.Variants))
	}
	var broken *int
	for i, v := range truth.Variants {
		if v.CompileError != "" {
			i := i
			broken = &i
		}
	}
	if broken == nil || truth.Variants[*broken].ID != "v-broken" {
		t.Error("expected exactly v-broken to carry a compile error")
	}
	if unit.Truth(3) != nil {
		t.Error("truth past the script should be nil")
	}
}

func TestLoadScenario_NotFound(t *testing.T) {
	_, err := scenarios.LoadScenario("nonexistent")
	if err == nil {
		t.Fatal("expected error for nonexistent scenario")
	}
}
