package optim

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultBasePath is the default root directory for run output.
const DefaultBasePath = ".whetstone/runs"

// Slug converts an identifier (unit path, variant id) into a filesystem-safe
// directory name: every rune outside [a-zA-Z0-9._-] becomes an underscore,
// path separators included. Slugs never collide with their own re-slugging,
// which keeps the materializer idempotent.
func Slug(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

// UnitDir returns the per-unit directory path: {basePath}/{runID}/{unit slug}/
func UnitDir(basePath, runID, unitID string) string {
	return filepath.Join(basePath, runID, Slug(unitID))
}

// IterDir returns the per-iteration directory under a unit directory.
func IterDir(unitDir string, iteration int) string {
	return filepath.Join(unitDir, fmt.Sprintf("iter%d", iteration))
}

// VariantDir returns the isolated directory for one materialized variant.
func VariantDir(iterDir, variantID string) string {
	return filepath.Join(iterDir, "variants", Slug(variantID))
}

// EnsureDir creates a directory (and parents) if it doesn't exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}

// ListUnitDirs lists all unit directories under a run.
func ListUnitDirs(basePath, runID string) ([]string, error) {
	runDir := filepath.Join(basePath, runID)
	entries, err := os.ReadDir(runDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list unit dirs: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(runDir, e.Name()))
		}
	}
	return dirs, nil
}

// ArtifactFilename returns the standard filename for each step's artifact.
func ArtifactFilename(step LoopStep) string {
	switch step {
	case StepAnalyzing:
		return "bottleneck.json"
	case StepGenerating:
		return "patches.json"
	case StepMaterializing:
		return "materialized.json"
	case StepProfiling:
		return "variant-profiles.json"
	case StepEvaluating:
		return "evaluations.json"
	default:
		return ""
	}
}

// PromptFilename returns the prompt output filename for a model-backed step.
func PromptFilename(step LoopStep) string {
	family := step.Family()
	if family == "" {
		return ""
	}
	return fmt.Sprintf("prompt-%s.md", family)
}

// ReadArtifact reads a typed JSON artifact from an iteration directory.
// Returns (nil, nil) when the artifact does not exist yet.
func ReadArtifact[T any](dir, filename string) (*T, error) {
	path := filepath.Join(dir, filename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read artifact %s: %w", filename, err)
	}
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("parse artifact %s: %w", filename, err)
	}
	return &result, nil
}

// WriteArtifact writes a typed JSON artifact into dir, creating dir first.
func WriteArtifact(dir, filename string, data any) error {
	if err := EnsureDir(dir); err != nil {
		return err
	}
	path := filepath.Join(dir, filename)
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact %s: %w", filename, err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("write artifact %s: %w", filename, err)
	}
	return nil
}

// WritePrompt writes a filled prompt into an iteration directory.
// Returns the full path for dispatchers to reference.
func WritePrompt(dir string, step LoopStep, content string) (string, error) {
	filename := PromptFilename(step)
	if filename == "" {
		return "", fmt.Errorf("no prompt filename for step %s", step)
	}
	if err := EnsureDir(dir); err != nil {
		return "", err
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("write prompt: %w", err)
	}
	return path, nil
}

// WriteSnapshot stores the unit's baseline text for one iteration under its
// original filename, preserving the audit trail's reproducibility.
func WriteSnapshot(dir, filename, text string) error {
	if err := EnsureDir(dir); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, filename), []byte(text), 0644); err != nil {
		return fmt.Errorf("write snapshot %s: %w", filename, err)
	}
	return nil
}
