package optim

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"whetstone/internal/profile"
)

const heavySource = `#include <iostream>

double perform_heavy_computation(int size) {
    double result = 0.0;
    for (int i = 0; i < size; ++i) {
        for (int j = 0; j < size; ++j) {
            for (int k = 0; k < 100; ++k) {
                result += static_cast<double>(i * j) / (size + 1.0) * k;
            }
        }
    }
    return result;
}

int main() {
    std::cout << perform_heavy_computation(500) << std::endl;
    return 0;
}
`

const vectorSource = `#include <vector>

long long perform_vector_operations(int iterations) {
    std::vector<int> data_vector;
    long long sum = 0;
    for (int i = 0; i < iterations; ++i) {
        for (int j = 0; j < 1000; ++j) {
            data_vector.push_back(i * 1000 + j);
            sum += data_vector.back();
        }
    }
    return sum;
}
`

func heavyProfile(selfPct float64) *profile.Profile {
	return &profile.Profile{
		Rows: []profile.HotspotRow{
			{Symbol: "perform_heavy_computation(int)", SelfPct: selfPct},
			{Symbol: "main", SelfPct: 1.2},
		},
		TotalSamples: 2000,
	}
}

func TestBasicAdapter_Name(t *testing.T) {
	a := NewBasicAdapter()
	if a.Name() != "basic" {
		t.Errorf("expected name 'basic', got %q", a.Name())
	}
}

func TestBasicAdapter_UnknownUnit(t *testing.T) {
	a := NewBasicAdapter()
	_, err := a.SendPrompt(context.Background(), "nonexistent", StepAnalyzing, "")
	if err == nil {
		t.Error("expected error for unknown unit")
	}
}

func TestBasicAdapter_InvalidStep(t *testing.T) {
	a := NewBasicAdapter()
	a.RegisterUnit("U1", &UnitSnapshot{Source: heavySource})
	_, err := a.SendPrompt(context.Background(), "U1", StepMaterializing, "")
	if err == nil {
		t.Error("expected error for non-model step")
	}
}

func TestBasicAdapter_Analyze_CPUBound(t *testing.T) {
	a := NewBasicAdapter()
	a.RegisterUnit("U1", &UnitSnapshot{
		Path:    "src/heavy_computation.cpp",
		Source:  heavySource,
		Profile: heavyProfile(97.03),
	})

	data, err := a.SendPrompt(context.Background(), "U1", StepAnalyzing, "")
	if err != nil {
		t.Fatalf("SendPrompt: %v", err)
	}
	var report BottleneckReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !report.Found {
		t.Fatal("expected a bottleneck for a 97% dominant symbol")
	}
	if report.Symbol != "perform_heavy_computation(int)" {
		t.Errorf("symbol = %q", report.Symbol)
	}
	if report.Category != CategoryCPUBound {
		t.Errorf("category = %q, want %q", report.Category, CategoryCPUBound)
	}
	if report.Line == 0 {
		t.Error("expected a line guess for a keyword-matched source")
	}
	if report.Hypothesis == "" {
		t.Error("expected a hypothesis")
	}
}

func TestBasicAdapter_Analyze_AllocationViaSymbol(t *testing.T) {
	a := NewBasicAdapter()
	a.RegisterUnit("U1", &UnitSnapshot{
		Path:   "src/vector_resizing.cpp",
		Source: vectorSource,
		Profile: &profile.Profile{
			Rows: []profile.HotspotRow{
				{Symbol: "std::vector<int>::push_back(int&&)", SelfPct: 61.0},
				{Symbol: "perform_vector_operations(int)", SelfPct: 30.0},
			},
			TotalSamples: 1500,
		},
	})

	data, err := a.SendPrompt(context.Background(), "U1", StepAnalyzing, "")
	if err != nil {
		t.Fatalf("SendPrompt: %v", err)
	}
	var report BottleneckReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if report.Category != CategoryAllocation {
		t.Errorf("category = %q, want %q (symbol hint should win)", report.Category, CategoryAllocation)
	}
}

func TestBasicAdapter_Analyze_Contention(t *testing.T) {
	src := `#include <mutex>
std::mutex mu;
void worker(long* total) {
    for (int i = 0; i < 1000000; ++i) {
        std::lock_guard<std::mutex> g(mu);
        *total += i;
    }
}
`
	a := NewBasicAdapter()
	a.RegisterUnit("U1", &UnitSnapshot{
		Path:   "src/contended.cpp",
		Source: src,
		Profile: &profile.Profile{
			Rows: []profile.HotspotRow{
				{Symbol: "__lll_lock_wait", SelfPct: 48.0},
				{Symbol: "worker(long*)", SelfPct: 22.0},
			},
			TotalSamples: 900,
		},
	})

	data, err := a.SendPrompt(context.Background(), "U1", StepAnalyzing, "")
	if err != nil {
		t.Fatalf("SendPrompt: %v", err)
	}
	var report BottleneckReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if report.Category != CategoryContention {
		t.Errorf("category = %q, want %q", report.Category, CategoryContention)
	}
}

func TestBasicAdapter_Analyze_NoSamples(t *testing.T) {
	a := NewBasicAdapter()
	a.RegisterUnit("U1", &UnitSnapshot{Source: heavySource, Profile: &profile.Profile{}})

	data, err := a.SendPrompt(context.Background(), "U1", StepAnalyzing, "")
	if err != nil {
		t.Fatalf("SendPrompt: %v", err)
	}
	var report BottleneckReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if report.Found {
		t.Error("expected no bottleneck for an empty profile")
	}
}

func TestBasicAdapter_Analyze_BelowThreshold(t *testing.T) {
	a := NewBasicAdapter()
	a.RegisterUnit("U1", &UnitSnapshot{Source: heavySource, Profile: heavyProfile(12.0)})

	data, err := a.SendPrompt(context.Background(), "U1", StepAnalyzing, "")
	if err != nil {
		t.Fatalf("SendPrompt: %v", err)
	}
	var report BottleneckReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if report.Found {
		t.Errorf("expected no bottleneck below the dominance floor, got %+v", report)
	}
}

func TestBasicAdapter_Generate_UsesDiagnosedCategory(t *testing.T) {
	a := NewBasicAdapter()
	a.RegisterUnit("U1", &UnitSnapshot{
		Source:     vectorSource,
		Bottleneck: &BottleneckReport{Found: true, Symbol: "perform_vector_operations(int)", Category: CategoryAllocation},
	})

	data, err := a.SendPrompt(context.Background(), "U1", StepGenerating, "")
	if err != nil {
		t.Fatalf("SendPrompt: %v", err)
	}
	var set VariantSet
	if err := json.Unmarshal(data, &set); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(set.Variants) == 0 || len(set.Variants) > MaxPatchesPerBatch {
		t.Fatalf("variant count = %d", len(set.Variants))
	}
	if set.Variants[0].VariantID != "reserve-capacity" {
		t.Errorf("first variant = %q, want reserve-capacity", set.Variants[0].VariantID)
	}
	for _, v := range set.Variants {
		if !strings.Contains(v.Code, "perform_vector_operations") {
			t.Errorf("variant %s does not carry the full source", v.VariantID)
		}
		if v.Rationale == "" {
			t.Errorf("variant %s has no rationale", v.VariantID)
		}
	}
}

func TestBasicAdapter_Generate_CapsBatch(t *testing.T) {
	a := NewBasicAdapter()
	a.RegisterUnit("U1", &UnitSnapshot{
		Source:     heavySource,
		Profile:    heavyProfile(97.0),
		Bottleneck: &BottleneckReport{Found: true, Category: CategoryCPUBound},
	})

	data, err := a.SendPrompt(context.Background(), "U1", StepGenerating, "")
	if err != nil {
		t.Fatalf("SendPrompt: %v", err)
	}
	var set VariantSet
	if err := json.Unmarshal(data, &set); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(set.Variants) > MaxPatchesPerBatch {
		t.Errorf("batch size %d exceeds cap %d", len(set.Variants), MaxPatchesPerBatch)
	}
}

func TestFirstKeywordLine(t *testing.T) {
	src := "line one\nfor (int i = 0;\nline three"
	if got := firstKeywordLine(src, "for ("); got != 2 {
		t.Errorf("firstKeywordLine = %d, want 2", got)
	}
	if got := firstKeywordLine(src, "absent"); got != 0 {
		t.Errorf("firstKeywordLine for absent keyword = %d, want 0", got)
	}
	if got := firstKeywordLine(src, ""); got != 0 {
		t.Errorf("firstKeywordLine for empty keyword = %d, want 0", got)
	}
}
