package toolchain

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCompilerArgs_Defaults(t *testing.T) {
	c := NewCompiler()
	args, err := c.buildArgs("hot.cpp", "/out/hot")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"-g", "-O3", "hot.cpp", "-o", "/out/hot"}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Errorf("args (-want +got):\n%s", diff)
	}
}

func TestCompilerArgs_FixedOrder(t *testing.T) {
	c := &Compiler{
		Preset:      PresetOptOnly,
		ExtraFlags:  []string{"-std=c++17"},
		IncludeDirs: []string{"/usr/local/include"},
		LibDirs:     []string{"/opt/lib"},
		Libs:        []string{"pthread", "m"},
	}
	args, err := c.buildArgs("main.cpp", "bin/main")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"-O3", "-std=c++17",
		"-I/usr/local/include", "-L/opt/lib",
		"main.cpp",
		"-lpthread", "-lm",
		"-o", "bin/main",
	}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Errorf("args (-want +got):\n%s", diff)
	}
}

func TestCompilerArgs_Presets(t *testing.T) {
	cases := map[string][]string{
		PresetDebugOpt:  {"-g", "-O3"},
		PresetOptOnly:   {"-O3"},
		PresetDebugOnly: {"-g"},
		"":              {"-g", "-O3"},
	}
	for preset, want := range cases {
		got, err := presetFlags(preset)
		if err != nil {
			t.Fatalf("preset %q: %v", preset, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("preset %q (-want +got):\n%s", preset, diff)
		}
	}
}

func TestCompilerArgs_UnknownPreset(t *testing.T) {
	c := &Compiler{Preset: "ludicrous_speed"}
	if _, err := c.buildArgs("a.cpp", "a"); err == nil {
		t.Fatal("expected an error for an unknown preset")
	}
}

func TestCompile_MissingCompilerBinary(t *testing.T) {
	c := &Compiler{Binary: "/nonexistent/g++-definitely-absent"}
	_, err := c.Compile(context.Background(), t.TempDir(), "hot.cpp", "hot")
	if err == nil {
		t.Fatal("expected an error for a missing compiler")
	}
	if !strings.Contains(err.Error(), "compile hot.cpp") {
		t.Errorf("error = %v", err)
	}
}

func TestPerfRecordCommandLine(t *testing.T) {
	p := NewPerfRunner()
	cmd := p.recordCommandLine("/tmp/v1/hot", []string{"1200"}, "/tmp/v1/perf.data")
	want := "perf record -g -o /tmp/v1/perf.data -- /tmp/v1/hot 1200"
	if cmd != want {
		t.Errorf("command = %q, want %q", cmd, want)
	}

	p.Frequency = 99
	cmd = p.recordCommandLine("/tmp/v1/hot", nil, "/tmp/v1/perf.data")
	if !strings.Contains(cmd, "-F 99") {
		t.Errorf("command %q missing sampling frequency", cmd)
	}
}

func TestPerfRecord_MissingDataFileFails(t *testing.T) {
	// The true binary exits zero but no perf ran, so no data file appears.
	p := &PerfRunner{Binary: "true"}
	err := p.Record(context.Background(), "ignored", nil, t.TempDir()+"/perf.data")
	if err == nil {
		t.Fatal("expected an error when no data file is produced")
	}
	if !strings.Contains(err.Error(), "produced no perf.data") {
		t.Errorf("error = %v", err)
	}
}
