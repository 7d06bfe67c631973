package optim

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"whetstone/internal/logging"
)

const defaultOpenAIModel = "gpt-4o-mini"

// System prompts fix the JSON output contract per step family. The loop
// parses whatever comes back with ParseArtifact, so a model that drifts
// from the schema fails the step, not the run.
const analyzeSystemPrompt = `You are a performance engineer reading Linux perf output.
Respond with ONLY a JSON object, no markdown fences, no prose:
{"found": <bool>, "symbol": "<dominant symbol>", "line": <int line in the source, 0 if unknown>,
 "category": "<cpu-bound|allocation|io|contention|memory-access>",
 "hypothesis": "<one-sentence cause>"}
If no symbol clears the significance threshold given in the prompt, return {"found": false}.`

const generateSystemPrompt = `You are a performance engineer rewriting one source file.
Respond with ONLY a JSON object, no markdown fences, no prose:
{"variants": [{"variant_id": "<short-slug>", "code": "<COMPLETE replacement file text>",
  "rationale": "<what the rewrite changes>", "expected_improvement": "<small|moderate|large>"}]}
Emit between one and three variants. Each "code" value must be the entire
file, compilable as-is, preserving the program's observable behavior.`

// OpenAIAdapter answers analyze and generate prompts through the OpenAI
// chat-completions API. The key comes from OPENAI_API_KEY; the model is
// configurable and defaults to gpt-4o-mini.
type OpenAIAdapter struct {
	client *openai.Client
	model  string
}

func NewOpenAIAdapter(model string) (*OpenAIAdapter, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("openai: OPENAI_API_KEY not set")
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	logging.New("openai").Debug("initializing adapter", "model", model)
	return &OpenAIAdapter{
		client: openai.NewClient(key),
		model:  model,
	}, nil
}

func (a *OpenAIAdapter) Name() string { return "openai" }

func (a *OpenAIAdapter) SendPrompt(ctx context.Context, unitID string, step LoopStep, prompt string) (json.RawMessage, error) {
	var system string
	switch step.Family() {
	case "analyze":
		system = analyzeSystemPrompt
	case "generate":
		system = generateSystemPrompt
	default:
		return nil, fmt.Errorf("openai: no prompt contract for step %s", step)
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.model,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: %s/%s: %w", unitID, step, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choice list for %s/%s", unitID, step)
	}

	content := resp.Choices[0].Message.Content
	return json.RawMessage(CleanJSON([]byte(content))), nil
}
