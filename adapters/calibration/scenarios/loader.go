// Package scenarios embeds the ground-truth calibration fixtures.
package scenarios

import (
	"embed"
	"fmt"
	"sort"
	"strings"

	"whetstone/adapters/calibration"

	"gopkg.in/yaml.v3"
)

//go:embed *.yaml
var scenarioFS embed.FS

// LoadScenario reads a scenario by name from the embedded YAML files.
func LoadScenario(name string) (*calibration.Scenario, error) {
	data, err := scenarioFS.ReadFile(name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("scenario %q not found (available: %s): %w",
			name, strings.Join(ListScenarios(), ", "), err)
	}
	var s calibration.Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %q: %w", name, err)
	}
	return &s, nil
}

// ListScenarios returns the names of all embedded scenarios, sorted.
func ListScenarios() []string {
	entries, _ := scenarioFS.ReadDir(".")
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".yaml") {
			names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
		}
	}
	sort.Strings(names)
	return names
}
