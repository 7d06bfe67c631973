package optim

import (
	"bytes"
	"context"
	"encoding/json"

	"whetstone/internal/profile"
)

// ModelAdapter abstracts the model backing the analyze and generate steps.
// SendPrompt delivers one step's filled prompt for one unit and returns the
// raw JSON artifact. Implementations decide the transport: embedded
// heuristics, a chat-completions API, or a file/MCP handoff to an external
// agent. The context carries the per-call timeout; a deadline hit is the
// caller's signal to classify the step as timed out.
type ModelAdapter interface {
	Name() string
	SendPrompt(ctx context.Context, unitID string, step LoopStep, prompt string) (json.RawMessage, error)
}

// UnitSnapshot is the typed per-step view of a unit: current source text,
// the iteration being worked, the freshest profile, and (for the generate
// step) the accepted bottleneck. Prompt-building collaborators hand it to
// adapters that can use structured data directly instead of re-parsing the
// rendered prompt.
type UnitSnapshot struct {
	Path       string
	Iteration  int
	Source     string
	Profile    *profile.Profile
	Bottleneck *BottleneckReport
}

// UnitRegistrar is implemented by adapters that want the typed snapshot
// before each SendPrompt. Callers probe for it with a type assertion.
type UnitRegistrar interface {
	RegisterUnit(unitID string, snap *UnitSnapshot)
}

// ParseArtifact decodes a model response into a typed artifact after
// stripping Markdown fences.
func ParseArtifact[T any](data json.RawMessage) (*T, error) {
	cleaned := CleanJSON(data)
	var result T
	if err := json.Unmarshal(cleaned, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CleanJSON strips markdown code fences and leading/trailing whitespace from
// model responses. Models often wrap JSON in ```json ... ``` blocks. This
// handles: ```json\n{...}\n```, ```\n{...}\n```, and bare JSON.
func CleanJSON(data []byte) []byte {
	s := bytes.TrimSpace(data)
	if len(s) == 0 {
		return s
	}

	if bytes.HasPrefix(s, []byte("```")) {
		// Strip opening fence line
		if idx := bytes.IndexByte(s, '\n'); idx >= 0 {
			s = s[idx+1:]
		}
		// Strip closing fence
		if bytes.HasSuffix(s, []byte("```")) {
			s = s[:len(s)-3]
		}
		s = bytes.TrimSpace(s)
	}

	return s
}
