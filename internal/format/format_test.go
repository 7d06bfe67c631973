package format_test

import (
	"strings"
	"testing"
	"time"

	"whetstone/internal/format"
)

func TestASCII_BasicTable(t *testing.T) {
	tb := format.NewTable(format.ASCII)
	tb.Header("ID", "Metric", "Value")
	tb.Row("M1", "Promotion Accuracy", 1.00)
	tb.Row("M3", "Improvement Delta Error", 0.02)
	out := tb.String()

	if !strings.Contains(out, "ID") {
		t.Errorf("expected header 'ID' in output:\n%s", out)
	}
	if !strings.Contains(out, "Promotion Accuracy") {
		t.Errorf("expected 'Promotion Accuracy' in output:\n%s", out)
	}
	// ASCII mode uses StyleLight box-drawing characters.
	if !strings.Contains(out, "───") {
		t.Errorf("expected box-drawing characters in ASCII output:\n%s", out)
	}
}

func TestMarkdown_BasicTable(t *testing.T) {
	tb := format.NewTable(format.Markdown)
	tb.Header("Unit", "Final", "Improvement")
	tb.Row("src/matrix.cpp", "Retained", "+29.5%")
	tb.Row("src/idle.cpp", "Exhausted", "+0.0%")
	out := tb.String()

	if !strings.Contains(out, "| Unit") {
		t.Errorf("expected markdown header with '| Unit':\n%s", out)
	}
	if !strings.Contains(out, "---") {
		t.Errorf("expected markdown separator '---':\n%s", out)
	}
	if !strings.Contains(out, "src/matrix.cpp") {
		t.Errorf("expected 'src/matrix.cpp' in output:\n%s", out)
	}
}

func TestMarkdown_WithFooter(t *testing.T) {
	tb := format.NewTable(format.Markdown)
	tb.Header("Run", "Promoted")
	tb.Row("r1", 2)
	tb.Row("r2", 1)
	tb.Footer("TOTAL", 3)
	out := tb.String()

	if !strings.Contains(out, "TOTAL") {
		t.Errorf("expected footer 'TOTAL' in output:\n%s", out)
	}
	if !strings.Contains(out, "3") {
		t.Errorf("expected footer value '3' in output:\n%s", out)
	}
}

func TestColumns_RightAlign(t *testing.T) {
	tb := format.NewTable(format.ASCII)
	tb.Header("Symbol", "Self")
	tb.Row("multiply_matrices", "84.90")
	tb.Columns(format.ColumnConfig{Number: 2, Align: format.AlignRight})
	out := tb.String()

	if !strings.Contains(out, "84.90") {
		t.Errorf("expected '84.90' in output:\n%s", out)
	}
}

func TestSameData_DualFormat(t *testing.T) {
	build := func(m format.Mode) string {
		tb := format.NewTable(m)
		tb.Header("A", "B")
		tb.Row("x", "y")
		return tb.String()
	}

	ascii := build(format.ASCII)
	md := build(format.Markdown)

	if ascii == md {
		t.Error("ASCII and Markdown output should differ")
	}
	for _, out := range []string{ascii, md} {
		if !strings.Contains(out, "x") || !strings.Contains(out, "y") {
			t.Errorf("expected data in output:\n%s", out)
		}
	}
}

// --- Helper tests ---

func TestFmtPct(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{29.5, "+29.5%"},
		{0, "+0.0%"},
		{-3.25, "-3.2%"},
		{48.83, "+48.8%"},
	}
	for _, tc := range tests {
		got := format.FmtPct(tc.in)
		if got != tc.want {
			t.Errorf("FmtPct(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFmtTokens(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1500, "1.5K"},
		{2500000, "2.5M"},
	}
	for _, tc := range tests {
		got := format.FmtTokens(tc.in)
		if got != tc.want {
			t.Errorf("FmtTokens(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFmtDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{59 * time.Second, "59s"},
		{90 * time.Second, "1m 30s"},
		{5*time.Minute + 15*time.Second, "5m 15s"},
	}
	for _, tc := range tests {
		got := format.FmtDuration(tc.in)
		if got != tc.want {
			t.Errorf("FmtDuration(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"hello", 10, "hello"},
		{"hello world", 8, "hello..."},
		{"abcdef", 3, "abc"},
	}
	for _, tc := range tests {
		got := format.Truncate(tc.in, tc.maxLen)
		if got != tc.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tc.in, tc.maxLen, got, tc.want)
		}
	}
}

func TestBoolMark(t *testing.T) {
	if format.BoolMark(true) != "✓" {
		t.Error("BoolMark(true) should be ✓")
	}
	if format.BoolMark(false) != "✗" {
		t.Error("BoolMark(false) should be ✗")
	}
}
