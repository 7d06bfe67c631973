package optim

import (
	"encoding/json"
	"testing"
)

func TestCleanJSON_BareJSON(t *testing.T) {
	input := []byte(`{"found":true,"symbol":"main"}`)
	got := CleanJSON(input)
	if !json.Valid(got) {
		t.Errorf("CleanJSON returned invalid JSON: %s", got)
	}
}

func TestCleanJSON_MarkdownCodeFence(t *testing.T) {
	input := []byte("```json\n{\"found\":true,\"symbol\":\"main\"}\n```")
	got := CleanJSON(input)
	if !json.Valid(got) {
		t.Errorf("CleanJSON returned invalid JSON: %s", got)
	}
	if string(got) != `{"found":true,"symbol":"main"}` {
		t.Errorf("CleanJSON = %s, want bare JSON", got)
	}
}

func TestCleanJSON_MarkdownNoLang(t *testing.T) {
	input := []byte("```\n{\"key\":\"value\"}\n```")
	got := CleanJSON(input)
	if !json.Valid(got) {
		t.Errorf("CleanJSON returned invalid JSON: %s", got)
	}
}

func TestCleanJSON_WhitespaceWrapped(t *testing.T) {
	input := []byte("  \n  {\"key\":\"value\"}  \n  ")
	got := CleanJSON(input)
	if !json.Valid(got) {
		t.Errorf("CleanJSON returned invalid JSON: %s", got)
	}
}

func TestCleanJSON_EmptyInput(t *testing.T) {
	got := CleanJSON([]byte(""))
	if len(got) != 0 {
		t.Errorf("CleanJSON on empty input returned: %s", got)
	}
}

func TestParseArtifact_WithCodeFence(t *testing.T) {
	input := json.RawMessage("```json\n{\"found\":true,\"symbol\":\"hot_loop\",\"category\":\"cpu-bound\"}\n```")
	report, err := ParseArtifact[BottleneckReport](input)
	if err != nil {
		t.Fatalf("ParseArtifact with code fence failed: %v", err)
	}
	if !report.Found {
		t.Error("Found = false, want true")
	}
	if report.Symbol != "hot_loop" {
		t.Errorf("Symbol = %q, want hot_loop", report.Symbol)
	}
	if report.Category != CategoryCPUBound {
		t.Errorf("Category = %q, want %q", report.Category, CategoryCPUBound)
	}
}

func TestParseArtifact_BareJSON(t *testing.T) {
	input := json.RawMessage(`{"variants":[{"variant_id":"reserve-capacity","code":"int main(){}"}]}`)
	set, err := ParseArtifact[VariantSet](input)
	if err != nil {
		t.Fatalf("ParseArtifact with bare JSON failed: %v", err)
	}
	if len(set.Variants) != 1 {
		t.Fatalf("len(Variants) = %d, want 1", len(set.Variants))
	}
	if set.Variants[0].VariantID != "reserve-capacity" {
		t.Errorf("VariantID = %q, want reserve-capacity", set.Variants[0].VariantID)
	}
}
