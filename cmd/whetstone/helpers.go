package main

import (
	"fmt"
	"os"
	"strings"

	"whetstone/adapters/store"
	"whetstone/internal/format"
)

// resolveCompiler returns the compiler binary override from the given flag
// value, falling back to $WHETSTONE_COMPILER. Empty means the toolchain
// default (g++).
func resolveCompiler(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("WHETSTONE_COMPILER")
}

// resolvePerf returns the perf binary override from the given flag value,
// falling back to $WHETSTONE_PERF.
func resolvePerf(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("WHETSTONE_PERF")
}

// resolveDB returns the run store path: the flag (or run-spec) value when
// set, else $WHETSTONE_DB, else the per-workspace default.
func resolveDB(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("WHETSTONE_DB"); env != "" {
		return env
	}
	return store.DefaultDBPath
}

// parseFormatMode maps a --format value onto a table mode.
func parseFormatMode(name string) (format.Mode, error) {
	switch name {
	case "", "ascii":
		return format.ASCII, nil
	case "markdown", "md":
		return format.Markdown, nil
	default:
		return format.ASCII, fmt.Errorf("unknown format: %s (available: ascii, markdown)", name)
	}
}

// firstLine trims a block of text to its first non-empty line.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return ""
}
