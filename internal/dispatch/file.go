package dispatch

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"whetstone/internal/logging"
)

// FileDispatcherConfig tunes the polling transport.
type FileDispatcherConfig struct {
	PollInterval    time.Duration // artifact check cadence; default 500ms
	Timeout         time.Duration // per-dispatch collection budget; default 10min
	MaxStaleRejects int           // consecutive wrong-ID artifacts tolerated; default 10
	SignalDir       string        // where signal.json lives; defaults to the artifact's dir
	Logger          *slog.Logger
}

// DefaultFileDispatcherConfig returns the standard polling parameters.
func DefaultFileDispatcherConfig() FileDispatcherConfig {
	return FileDispatcherConfig{
		PollInterval:    500 * time.Millisecond,
		Timeout:         10 * time.Minute,
		MaxStaleRejects: 10,
	}
}

// SignalFile is the handshake record written beside the prompt. The watching
// agent reads it to learn what is pending, and the dispatcher updates its
// status as the exchange progresses (waiting, processing, done, error).
type SignalFile struct {
	Status       string `json:"status"`
	DispatchID   int64  `json:"dispatch_id"` // must be echoed in the artifact wrapper
	UnitID       string `json:"unit_id"`
	Iteration    int    `json:"iteration"`
	Step         string `json:"step"`
	PromptPath   string `json:"prompt_path"`
	ArtifactPath string `json:"artifact_path"`
	Timestamp    string `json:"timestamp"`
	Error        string `json:"error,omitempty"`
}

// ArtifactWrapper is the envelope the agent writes to the artifact path.
// The dispatch_id ties the response to the signal that requested it, so a
// leftover file from an earlier exchange is never mistaken for an answer.
type ArtifactWrapper struct {
	DispatchID int64           `json:"dispatch_id"`
	Data       json.RawMessage `json:"data"`
}

// FileDispatcher hands prompts to an agent through the filesystem: it writes
// signal.json with a fresh dispatch ID and polls until an artifact wrapper
// echoing that ID appears.
type FileDispatcher struct {
	cfg    FileDispatcherConfig
	log    *slog.Logger
	nextID int64
}

// NewFileDispatcher builds the polling transport, filling config defaults.
func NewFileDispatcher(cfg FileDispatcherConfig) *FileDispatcher {
	def := DefaultFileDispatcherConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxStaleRejects <= 0 {
		cfg.MaxStaleRejects = def.MaxStaleRejects
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New("file-dispatch")
	}
	return &FileDispatcher{cfg: cfg, log: cfg.Logger}
}

func (d *FileDispatcher) signalPath(artifactPath string) string {
	dir := d.cfg.SignalDir
	if dir == "" {
		dir = filepath.Dir(artifactPath)
	}
	return filepath.Join(dir, "signal.json")
}

// Dispatch publishes the signal and collects the matching artifact. The
// returned bytes are the wrapper's inner data, not the envelope.
func (d *FileDispatcher) Dispatch(ctx DispatchContext) ([]byte, error) {
	sigPath := d.signalPath(ctx.ArtifactPath)

	d.nextID++
	id := d.nextID

	log := d.log.With("unit", ctx.UnitID, "step", ctx.Step, "dispatch_id", id)

	// A leftover artifact from a previous exchange would race the poll.
	if _, err := os.Stat(ctx.ArtifactPath); err == nil {
		_ = os.Remove(ctx.ArtifactPath)
	}

	sig := SignalFile{
		Status:       "waiting",
		DispatchID:   id,
		UnitID:       ctx.UnitID,
		Iteration:    ctx.Iteration,
		Step:         ctx.Step,
		PromptPath:   ctx.PromptPath,
		ArtifactPath: ctx.ArtifactPath,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
	if err := WriteSignal(sigPath, &sig); err != nil {
		return nil, fmt.Errorf("write signal: %w", err)
	}
	log.Info("signal published, waiting for artifact",
		"artifact_path", ctx.ArtifactPath, "timeout", d.cfg.Timeout)

	deadline := time.Now().Add(d.cfg.Timeout)
	stale := 0
	for {
		if time.Now().After(deadline) {
			d.failSignal(sigPath, &sig, "timeout waiting for artifact")
			return nil, fmt.Errorf("timeout after %s waiting for artifact at %s", d.cfg.Timeout, ctx.ArtifactPath)
		}

		// The agent can refuse via the signal file instead of answering.
		if live, err := readSignal(sigPath); err == nil && live.DispatchID == id && live.Status == "error" {
			return nil, fmt.Errorf("agent reported error: %s", live.Error)
		}

		wrapper, found, err := d.readWrapper(ctx.ArtifactPath)
		if !found {
			stale = 0
			time.Sleep(d.cfg.PollInterval)
			continue
		}
		if err != nil {
			d.failSignal(sigPath, &sig, fmt.Sprintf("invalid artifact wrapper: %v", err))
			return nil, fmt.Errorf("invalid JSON in %s: %w", ctx.ArtifactPath, err)
		}

		if wrapper.DispatchID != id {
			stale++
			log.Debug("stale artifact rejected",
				"want", id, "got", wrapper.DispatchID, "streak", stale)
			if stale >= d.cfg.MaxStaleRejects {
				d.failSignal(sigPath, &sig, fmt.Sprintf(
					"%d consecutive artifacts with wrong dispatch_id (want %d)", stale, id))
				return nil, fmt.Errorf("stale artifact tolerance exceeded at %s: %d rejects, want dispatch_id %d, last got %d",
					ctx.ArtifactPath, stale, id, wrapper.DispatchID)
			}
			time.Sleep(d.cfg.PollInterval)
			continue
		}

		if len(wrapper.Data) == 0 {
			d.failSignal(sigPath, &sig, "artifact wrapper has empty 'data'")
			return nil, fmt.Errorf("artifact at %s matches dispatch_id %d but carries no data", ctx.ArtifactPath, id)
		}

		sig.Status = "processing"
		sig.Error = ""
		_ = WriteSignal(sigPath, &sig)
		log.Info("artifact accepted", "bytes", len(wrapper.Data))
		return wrapper.Data, nil
	}
}

// readWrapper reads and parses the artifact envelope. A parse failure is
// retried once after a poll interval: the agent may still be mid-write.
func (d *FileDispatcher) readWrapper(path string) (ArtifactWrapper, bool, error) {
	var w ArtifactWrapper
	data, err := os.ReadFile(path)
	if err != nil {
		return w, false, nil
	}
	if json.Unmarshal(data, &w) == nil {
		return w, true, nil
	}
	time.Sleep(d.cfg.PollInterval)
	data, err = os.ReadFile(path)
	if err != nil {
		return w, false, nil
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return w, true, err
	}
	return w, true, nil
}

func (d *FileDispatcher) failSignal(sigPath string, sig *SignalFile, msg string) {
	sig.Status = "error"
	sig.Error = msg
	_ = WriteSignal(sigPath, sig)
}

// MarkDone flips the signal to "done" once the caller has consumed the
// artifact, releasing a watching agent to idle.
func (d *FileDispatcher) MarkDone(artifactPath string) {
	sigPath := d.signalPath(artifactPath)
	sig, err := readSignal(sigPath)
	if err != nil {
		d.log.Debug("mark-done: signal unreadable", "path", sigPath, "err", err)
		return
	}
	sig.Status = "done"
	_ = WriteSignal(sigPath, &sig)
}

// CurrentDispatchID reports the most recently assigned ID.
func (d *FileDispatcher) CurrentDispatchID() int64 {
	return d.nextID
}

func readSignal(path string) (SignalFile, error) {
	var sig SignalFile
	data, err := os.ReadFile(path)
	if err != nil {
		return sig, err
	}
	if err := json.Unmarshal(data, &sig); err != nil {
		return sig, err
	}
	return sig, nil
}

// WriteSignal writes the signal file atomically where the filesystem allows,
// falling back to a direct write when rename fails.
func WriteSignal(path string, sig *SignalFile) error {
	data, err := json.MarshalIndent(sig, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write signal: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		defer os.Remove(tmp)
		return os.WriteFile(path, data, 0644)
	}
	return nil
}
