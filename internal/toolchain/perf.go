package toolchain

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"whetstone/internal/logging"
	"whetstone/internal/profile"
)

const perfDataFilename = "perf.data"

// PerfRunner drives Linux perf: record a binary's execution, render the
// stdio report, and parse it into a Profile. It is the loop's profile
// collector.
type PerfRunner struct {
	Binary    string // perf executable; default perf
	Frequency int    // sampling frequency in Hz; 0 keeps perf's default

	log *slog.Logger
}

// NewPerfRunner returns a PerfRunner using the perf on PATH.
func NewPerfRunner() *PerfRunner {
	return &PerfRunner{Binary: "perf", log: logging.New("toolchain")}
}

// Profile records one run of binary and parses the report into hotspot
// rows. The data file lands next to the binary, overwriting any earlier
// recording of the same variant.
func (p *PerfRunner) Profile(ctx context.Context, binary string, args []string) (*profile.Profile, error) {
	dataPath := filepath.Join(filepath.Dir(binary), perfDataFilename)
	command := p.recordCommandLine(binary, args, dataPath)

	if err := p.Record(ctx, binary, args, dataPath); err != nil {
		return nil, err
	}
	report, err := p.Report(ctx, dataPath)
	if err != nil {
		return nil, err
	}
	return profile.ParseReport(report, command), nil
}

// Record runs `perf record -g [-F hz] -o dataPath -- binary args...`.
// A zero exit without a data file still fails: perf quietly produces
// nothing when the kernel denies sampling.
func (p *PerfRunner) Record(ctx context.Context, binary string, args []string, dataPath string) error {
	// Stale data from an earlier run must not masquerade as this run's.
	_ = os.Remove(dataPath)

	argv := []string{"record", "-g"}
	if p.Frequency > 0 {
		argv = append(argv, "-F", strconv.Itoa(p.Frequency))
	}
	argv = append(argv, "-o", dataPath, "--", binary)
	argv = append(argv, args...)

	cmd := exec.CommandContext(ctx, p.binary(), argv...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	p.logger().Debug("perf record", "binary", binary, "data", dataPath)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("perf record %s: %w", binary, ctx.Err())
		}
		return fmt.Errorf("perf record %s: %w: %s", binary, err, strings.TrimSpace(stderr.String()))
	}
	if _, err := os.Stat(dataPath); err != nil {
		return fmt.Errorf("perf record %s: exited clean but produced no %s", binary, perfDataFilename)
	}
	return nil
}

// Report renders `perf report --stdio --no-children --sort=dso,symbol` for
// a recorded data file and returns the text.
func (p *PerfRunner) Report(ctx context.Context, dataPath string) (string, error) {
	argv := []string{"report", "--stdio", "--no-children", "--sort=dso,symbol", "-i", dataPath}

	cmd := exec.CommandContext(ctx, p.binary(), argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("perf report %s: %w", dataPath, ctx.Err())
		}
		return "", fmt.Errorf("perf report %s: %w: %s", dataPath, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Stat runs `perf stat -- binary args...` and returns the counter table,
// which perf writes to stderr.
func (p *PerfRunner) Stat(ctx context.Context, binary string, args []string) (string, error) {
	argv := []string{"stat", "--", binary}
	argv = append(argv, args...)

	cmd := exec.CommandContext(ctx, p.binary(), argv...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("perf stat %s: %w", binary, ctx.Err())
		}
		return "", fmt.Errorf("perf stat %s: %w: %s", binary, err, strings.TrimSpace(stderr.String()))
	}
	return stderr.String(), nil
}

func (p *PerfRunner) recordCommandLine(binary string, args []string, dataPath string) string {
	parts := []string{p.binary(), "record", "-g"}
	if p.Frequency > 0 {
		parts = append(parts, "-F", strconv.Itoa(p.Frequency))
	}
	parts = append(parts, "-o", dataPath, "--", binary)
	parts = append(parts, args...)
	return strings.Join(parts, " ")
}

func (p *PerfRunner) binary() string {
	if p.Binary == "" {
		return "perf"
	}
	return p.Binary
}

func (p *PerfRunner) logger() *slog.Logger {
	if p.log == nil {
		p.log = logging.New("toolchain")
	}
	return p.log
}
