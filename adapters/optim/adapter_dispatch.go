package optim

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"whetstone/internal/dispatch"
)

var (
	_ ModelAdapter  = (*AgentAdapter)(nil)
	_ UnitRegistrar = (*AgentAdapter)(nil)
)

// AgentAdapter routes prompts to an external agent through a dispatch
// transport instead of answering them in-process. The prompt is written into
// the unit's iteration directory, the transport announces it, and the raw
// artifact comes back through the same channel. Which agent answers is the
// transport's business: a person at a terminal, a file-watching responder,
// or an MCP session.
type AgentAdapter struct {
	basePath   string
	runID      string
	name       string
	dispatcher dispatch.Dispatcher

	mu    sync.Mutex
	units map[string]*UnitSnapshot
}

// AgentOption configures an AgentAdapter.
type AgentOption func(*AgentAdapter)

// WithDispatcher selects the transport. Defaults to the interactive stdin
// dispatcher.
func WithDispatcher(d dispatch.Dispatcher) AgentOption {
	return func(a *AgentAdapter) { a.dispatcher = d }
}

// WithAdapterName overrides the reported adapter name, so run records can
// tell a file handoff from an MCP session.
func WithAdapterName(name string) AgentOption {
	return func(a *AgentAdapter) { a.name = name }
}

// NewAgentAdapter builds an adapter whose prompt and artifact files live
// under basePath/runID alongside the rest of the run's audit trail.
func NewAgentAdapter(basePath, runID string, opts ...AgentOption) *AgentAdapter {
	a := &AgentAdapter{
		basePath:   basePath,
		runID:      runID,
		name:       "agent",
		dispatcher: dispatch.NewStdinDispatcher(),
		units:      make(map[string]*UnitSnapshot),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name reports the configured adapter name.
func (a *AgentAdapter) Name() string { return a.name }

// Dispatcher exposes the transport, mainly so callers can unwrap decorators.
func (a *AgentAdapter) Dispatcher() dispatch.Dispatcher { return a.dispatcher }

// RegisterUnit stores the typed snapshot the collaborator builds before each
// call. The snapshot carries the iteration, which SendPrompt needs to place
// files. Units run in parallel, so the map is guarded.
func (a *AgentAdapter) RegisterUnit(unitID string, snap *UnitSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.units[unitID] = snap
}

func (a *AgentAdapter) snapshot(unitID string) *UnitSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.units[unitID]
}

// SendPrompt writes the prompt beside the iteration's artifacts, hands it to
// the transport, and returns the agent's raw JSON. The caller's context is
// honored even though transports run their own collection timeouts: a
// deadline hit abandons the exchange and reports the context error.
func (a *AgentAdapter) SendPrompt(ctx context.Context, unitID string, step LoopStep, prompt string) (json.RawMessage, error) {
	snap := a.snapshot(unitID)
	if snap == nil {
		return nil, fmt.Errorf("agent: unit %q was never registered", unitID)
	}

	iterDir := IterDir(UnitDir(a.basePath, a.runID, unitID), snap.Iteration)
	promptPath, err := WritePrompt(iterDir, step, prompt)
	if err != nil {
		return nil, fmt.Errorf("agent: write prompt for %s: %w", unitID, err)
	}
	artifactPath := filepath.Join(iterDir, ArtifactFilename(step))

	dc := dispatch.DispatchContext{
		UnitID:       unitID,
		Iteration:    snap.Iteration,
		Step:         string(step),
		PromptPath:   promptPath,
		ArtifactPath: artifactPath,
	}

	type outcome struct {
		data []byte
		err  error
	}
	resCh := make(chan outcome, 1)
	go func() {
		data, err := a.dispatcher.Dispatch(dc)
		resCh <- outcome{data, err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			return nil, fmt.Errorf("agent: dispatch %s/%s: %w", unitID, step, res.err)
		}
		if f := dispatch.UnwrapFinalizer(a.dispatcher); f != nil {
			f.MarkDone(artifactPath)
		}
		return json.RawMessage(res.data), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
