// Package config loads run-spec files: declarative YAML (or JSON)
// descriptions of a whole optimization run (units, iteration budget,
// adapter choice, toolchain flags) used as an alternative to spelling
// everything out on the command line. Specs are validated before use.
package config

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	yaml "go.yaml.in/yaml/v3"

	"whetstone/adapters/optim"
	"whetstone/internal/loop"
	"whetstone/internal/toolchain"
)

// RunSpec is one optimization run, fully described. Zero fields inherit
// the defaults from DefaultRunSpec, so a spec file only names what it
// changes.
type RunSpec struct {
	Source string   `json:"source" yaml:"source" validate:"required"` // source root
	Units  []string `json:"units,omitempty" yaml:"units,omitempty" validate:"omitempty,dive,required"`
	Main   string   `json:"main,omitempty" yaml:"main,omitempty"` // entry file; shorthand for a single-unit run
	Output string   `json:"output,omitempty" yaml:"output,omitempty"`

	Iterations int `json:"iterations" yaml:"iterations" validate:"gte=1"`
	Parallel   int `json:"parallel" yaml:"parallel" validate:"gte=1"`

	Adapter string `json:"adapter,omitempty" yaml:"adapter,omitempty" validate:"omitempty,oneof=basic openai file stdin"`
	Model   string `json:"model,omitempty" yaml:"model,omitempty"` // openai model override

	ExeArgs []string `json:"exe_args,omitempty" yaml:"exe_args,omitempty"` // passed to every profiled executable
	DB      string   `json:"db,omitempty" yaml:"db,omitempty"`             // run-store path; empty = store default

	Compiler   CompilerSpec    `json:"compiler,omitempty" yaml:"compiler,omitempty"`
	Perf       PerfSpec        `json:"perf,omitempty" yaml:"perf,omitempty"`
	Thresholds loop.Thresholds `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// CompilerSpec configures the compiler collaborator.
type CompilerSpec struct {
	Binary      string   `json:"binary,omitempty" yaml:"binary,omitempty"`
	Preset      string   `json:"preset,omitempty" yaml:"preset,omitempty" validate:"omitempty,oneof=debug_opt opt_only debug_only"`
	ExtraFlags  []string `json:"extra_flags,omitempty" yaml:"extra_flags,omitempty"`
	IncludeDirs []string `json:"include_dirs,omitempty" yaml:"include_dirs,omitempty"`
	LibDirs     []string `json:"lib_dirs,omitempty" yaml:"lib_dirs,omitempty"`
	Libs        []string `json:"libs,omitempty" yaml:"libs,omitempty"`
}

// PerfSpec configures the profiler collaborator.
type PerfSpec struct {
	Binary    string `json:"binary,omitempty" yaml:"binary,omitempty"`
	Frequency int    `json:"frequency,omitempty" yaml:"frequency,omitempty" validate:"gte=0"` // sampling Hz; 0 = perf default
}

// DefaultRunSpec returns a spec with every default filled in. Loading
// unmarshals over this, so file keys override and absent keys inherit.
func DefaultRunSpec() RunSpec {
	return RunSpec{
		Output:     optim.DefaultBasePath,
		Iterations: 3,
		Parallel:   1,
		Adapter:    "basic",
		Compiler:   CompilerSpec{Binary: "g++", Preset: toolchain.PresetDebugOpt},
		Perf:       PerfSpec{Binary: "perf"},
		Thresholds: loop.DefaultThresholds(),
	}
}

// Load reads a run-spec file (YAML or JSON) and returns the validated spec.
// Format is detected by extension (.yaml/.yml → YAML, .json → JSON) or by
// content (first non-whitespace char).
func Load(path string) (*RunSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run spec: %w", err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse parses a run spec from bytes over the defaults, then validates it.
// ext is the file extension (e.g. ".yaml", ".json") for format hint; empty =
// detect from content.
func Parse(data []byte, ext string) (*RunSpec, error) {
	spec := DefaultRunSpec()
	if err := unmarshal(data, ext, &spec); err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

func unmarshal(data []byte, ext string, spec *RunSpec) error {
	ext = strings.ToLower(ext)
	if ext == ".yml" {
		ext = ".yaml"
	}
	switch ext {
	case ".yaml":
		if err := yaml.Unmarshal(data, spec); err != nil {
			return fmt.Errorf("parse run spec yaml: %w", err)
		}
		return nil
	case ".json":
		if err := json.Unmarshal(data, spec); err != nil {
			return fmt.Errorf("parse run spec json: %w", err)
		}
		return nil
	}
	// Detect: try JSON first (starts with {), else YAML.
	if strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
		if err := json.Unmarshal(data, spec); err != nil {
			return fmt.Errorf("parse run spec json: %w", err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, spec); err != nil {
		return fmt.Errorf("parse run spec yaml: %w", err)
	}
	return nil
}

var validate = validator.New()

// Validate checks the spec's structural constraints via its validate tags.
func (s *RunSpec) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("run spec: %w", err)
	}
	return nil
}

// RunnerConfig maps the spec onto the loop's knobs for one run.
func (s *RunSpec) RunnerConfig(runID string) loop.RunnerConfig {
	return loop.RunnerConfig{
		BasePath:   s.Output,
		RunID:      runID,
		Iterations: s.Iterations,
		Parallel:   s.Parallel,
		ExeArgs:    s.ExeArgs,
		Thresholds: s.Thresholds,
	}
}

// LoadUnits resolves the spec to loaded source units: explicit units first,
// then the main file, then discovery under the source root.
func (s *RunSpec) LoadUnits() ([]optim.SourceUnit, error) {
	paths := s.Units
	if len(paths) == 0 && s.Main != "" {
		paths = []string{s.Main}
	}
	return LoadUnits(s.Source, paths)
}

// Toolchain returns the compiler the spec describes; zero fields keep the
// toolchain defaults.
func (c CompilerSpec) Toolchain() *toolchain.Compiler {
	tc := toolchain.NewCompiler()
	if c.Binary != "" {
		tc.Binary = c.Binary
	}
	if c.Preset != "" {
		tc.Preset = c.Preset
	}
	tc.ExtraFlags = append(tc.ExtraFlags, c.ExtraFlags...)
	tc.IncludeDirs = append(tc.IncludeDirs, c.IncludeDirs...)
	tc.LibDirs = append(tc.LibDirs, c.LibDirs...)
	tc.Libs = append(tc.Libs, c.Libs...)
	return tc
}

// Runner returns the perf runner the spec describes.
func (p PerfSpec) Runner() *toolchain.PerfRunner {
	pr := toolchain.NewPerfRunner()
	if p.Binary != "" {
		pr.Binary = p.Binary
	}
	pr.Frequency = p.Frequency
	return pr
}

// unitExtensions are the implementation files a run can compile and profile
// on their own. Headers are context, not units.
var unitExtensions = map[string]bool{".cpp": true, ".cc": true, ".cxx": true, ".c": true}

// LoadUnits reads the explicit units (paths relative to root, or absolute)
// into memory; with none given it discovers implementation files by walking
// the root. Unit IDs are root-relative paths with forward slashes.
func LoadUnits(root string, explicit []string) ([]optim.SourceUnit, error) {
	paths := explicit
	if len(paths) == 0 {
		var err error
		paths, err = discoverUnits(root)
		if err != nil {
			return nil, err
		}
		if len(paths) == 0 {
			return nil, fmt.Errorf("no source units found under %s", root)
		}
	}

	units := make([]optim.SourceUnit, 0, len(paths))
	for _, p := range paths {
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(root, p)
		}
		text, err := os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("read unit %s: %w", p, err)
		}
		units = append(units, optim.SourceUnit{ID: unitID(root, abs, p), Path: abs, Source: string(text)})
	}
	return units, nil
}

// discoverUnits walks root and returns root-relative paths of every
// implementation file, in the walk's lexical order.
func discoverUnits(root string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !unitExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			rel = path
		}
		found = append(found, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover units under %s: %w", root, err)
	}
	return found, nil
}

// unitID prefers the root-relative path; a unit outside the root keeps the
// path it was given.
func unitID(root, abs, given string) string {
	if rel, err := filepath.Rel(root, abs); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(filepath.Clean(given))
}
