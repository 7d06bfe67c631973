// Package toolchain wraps the external build and measurement tools the loop
// shells out to: the C++ compiler and Linux perf. Both honor context
// deadlines, capture stderr into their errors, and never interpret tool
// output beyond what the profile parser needs.
package toolchain

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"whetstone/internal/logging"
)

// Optimization presets, keyed the way run specs name them.
const (
	PresetDebugOpt  = "debug_opt"  // -g -O3: symbols for perf, full optimization
	PresetOptOnly   = "opt_only"   // -O3
	PresetDebugOnly = "debug_only" // -g
)

// presetFlags resolves a preset name to compiler flags.
func presetFlags(preset string) ([]string, error) {
	switch preset {
	case PresetDebugOpt, "":
		return []string{"-g", "-O3"}, nil
	case PresetOptOnly:
		return []string{"-O3"}, nil
	case PresetDebugOnly:
		return []string{"-g"}, nil
	default:
		return nil, fmt.Errorf("unknown optimization preset %q", preset)
	}
}

// Compiler invokes an external C++ compiler. The zero value compiles with
// g++ under the debug_opt preset; fields are plain data so flag parsing can
// fill them directly.
type Compiler struct {
	Binary      string   // compiler executable; default g++
	Preset      string   // optimization preset; default debug_opt
	ExtraFlags  []string // appended after the preset flags
	IncludeDirs []string // -I
	LibDirs     []string // -L
	Libs        []string // -l, appended after the sources

	log *slog.Logger
}

// NewCompiler returns a Compiler with the default binary and preset.
func NewCompiler() *Compiler {
	return &Compiler{
		Binary: "g++",
		Preset: PresetDebugOpt,
		log:    logging.New("toolchain"),
	}
}

// Compile builds mainFile inside dir into outPath and returns the binary
// path. Compiler diagnostics are folded into the returned error.
func (c *Compiler) Compile(ctx context.Context, dir, mainFile, outPath string) (string, error) {
	args, err := c.buildArgs(mainFile, outPath)
	if err != nil {
		return "", err
	}

	bin := c.Binary
	if bin == "" {
		bin = "g++"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	c.logger().Debug("compile", "dir", dir, "args", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("compile %s: %w", mainFile, ctx.Err())
		}
		return "", fmt.Errorf("compile %s: %w: %s", mainFile, err, strings.TrimSpace(stderr.String()))
	}
	return outPath, nil
}

// buildArgs assembles the argv tail in the fixed order: preset and extra
// flags, include dirs, lib dirs, source, libs, output.
func (c *Compiler) buildArgs(mainFile, outPath string) ([]string, error) {
	flags, err := presetFlags(c.Preset)
	if err != nil {
		return nil, err
	}

	args := append([]string{}, flags...)
	args = append(args, c.ExtraFlags...)
	for _, d := range c.IncludeDirs {
		args = append(args, "-I"+d)
	}
	for _, d := range c.LibDirs {
		args = append(args, "-L"+d)
	}
	args = append(args, mainFile)
	for _, l := range c.Libs {
		args = append(args, "-l"+l)
	}
	args = append(args, "-o", outPath)
	return args, nil
}

func (c *Compiler) logger() *slog.Logger {
	if c.log == nil {
		c.log = logging.New("toolchain")
	}
	return c.log
}
