// Package dispatch carries filled prompts to an external agent and brings
// the artifact responses back. Each transport suits a different setup: the
// stdin dispatcher for a human relaying prompts by hand, the file dispatcher
// for an agent watching a signal file, and the mux dispatcher for agents
// connected through an in-process session such as an MCP server.
package dispatch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// Dispatcher delivers one prompt to the external agent and blocks until the
// matching artifact is available, returning its raw bytes.
type Dispatcher interface {
	Dispatch(ctx DispatchContext) ([]byte, error)
}

// DispatchContext identifies one prompt delivery: which unit and loop step
// it belongs to, where the filled prompt lives, and where the artifact is
// expected to land. DispatchID is assigned by transports that route
// concurrent dispatches and must be echoed back on submit.
type DispatchContext struct {
	DispatchID   int64
	UnitID       string // source unit, e.g. "src/matrix.cpp"
	Iteration    int
	Step         string // loop step, e.g. "ANALYZING"
	PromptPath   string
	ArtifactPath string
}

// ExternalDispatcher is the agent-facing half of a routing dispatcher.
// An agent pulls pending steps with GetNextStep and answers them with
// SubmitArtifact, quoting the dispatch ID it was handed.
type ExternalDispatcher interface {
	GetNextStep(ctx context.Context) (DispatchContext, error)
	SubmitArtifact(ctx context.Context, dispatchID int64, data []byte) error
}

// Finalizer is implemented by transports that want a post-processing signal
// once the caller has consumed the artifact.
type Finalizer interface {
	MarkDone(artifactPath string)
}

// Unwrapper exposes the wrapped transport of a decorator so interface
// probes can reach through it.
type Unwrapper interface {
	Inner() Dispatcher
}

// UnwrapFinalizer walks a decorator chain and returns the first Finalizer,
// or nil when no transport in the chain implements it.
func UnwrapFinalizer(d Dispatcher) Finalizer {
	for d != nil {
		if f, ok := d.(Finalizer); ok {
			return f
		}
		u, ok := d.(Unwrapper)
		if !ok {
			return nil
		}
		d = u.Inner()
	}
	return nil
}

// StdinDispatcher is the fully manual transport: it prints where the prompt
// and artifact live, waits for Enter, then reads the artifact file. Useful
// when the "agent" is a person pasting prompts into a chat window.
type StdinDispatcher struct {
	reader *bufio.Reader
}

// NewStdinDispatcher returns a dispatcher reading confirmations from os.Stdin.
func NewStdinDispatcher() *StdinDispatcher {
	return &StdinDispatcher{reader: bufio.NewReader(os.Stdin)}
}

// Dispatch prints the handoff banner, blocks until Enter, and validates that
// the artifact file now holds JSON.
func (d *StdinDispatcher) Dispatch(ctx DispatchContext) ([]byte, error) {
	fmt.Println()
	fmt.Println("================================================================")
	fmt.Printf("  Unit: %s  iter %d  step %s\n", ctx.UnitID, ctx.Iteration, ctx.Step)
	fmt.Println("================================================================")
	fmt.Printf("  Prompt:   %s\n", ctx.PromptPath)
	fmt.Printf("  Artifact: %s\n", ctx.ArtifactPath)
	fmt.Println("----------------------------------------------------------------")
	fmt.Println("  1. Hand the prompt file to your agent")
	fmt.Println("  2. Save the agent's JSON reply to the artifact path above")
	fmt.Println("  3. Press Enter to continue")
	fmt.Println("================================================================")
	fmt.Print("  > ")
	_, _ = d.reader.ReadString('\n')

	data, err := os.ReadFile(ctx.ArtifactPath)
	if err != nil {
		return nil, fmt.Errorf("artifact not found at %s: %w", ctx.ArtifactPath, err)
	}

	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON in %s: %w", ctx.ArtifactPath, err)
	}

	fmt.Printf("  Read artifact (%d bytes)\n", len(data))
	return raw, nil
}
