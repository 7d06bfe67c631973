package optim

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
)

//go:embed prompts/*.md
var promptFS embed.FS

// PromptParams feeds the analyze and generate templates. ProfileTable is a
// pre-rendered hotspot table so the template stays free of formatting logic.
type PromptParams struct {
	UnitID       string
	Path         string
	Iteration    int
	Source       string
	ProfileTable string
	Command      string
	ThresholdPct float64
	MaxVariants  int
	Bottleneck   *BottleneckReport
}

// RenderPrompt fills the embedded template for the step's prompt family.
// Templates are self-contained: they carry the JSON output contract, so the
// same text works for API, file, and stdin transports.
func RenderPrompt(step LoopStep, params *PromptParams) (string, error) {
	family := step.Family()
	if family == "" {
		return "", fmt.Errorf("no prompt template for step %s", step)
	}

	name := family + ".md"
	data, err := promptFS.ReadFile("prompts/" + name)
	if err != nil {
		return "", fmt.Errorf("read template %s: %w", name, err)
	}

	funcMap := template.FuncMap{
		"add": func(a, b int) int { return a + b },
		"sub": func(a, b int) int { return a - b },
	}
	tmpl, err := template.New(name).Funcs(funcMap).Parse(string(data))
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}
	return buf.String(), nil
}
