package dispatch

import (
	"fmt"
	"sync"
	"time"

	"whetstone/internal/format"
)

// TokenRecord is the usage of a single prompt/artifact exchange.
type TokenRecord struct {
	UnitID         string    `json:"unit_id"`
	Step           string    `json:"step"`
	Iteration      int       `json:"iteration"`
	PromptBytes    int       `json:"prompt_bytes"`
	ArtifactBytes  int       `json:"artifact_bytes"`
	PromptTokens   int       `json:"prompt_tokens"`   // estimated, bytes / 4
	ArtifactTokens int       `json:"artifact_tokens"` // estimated, bytes / 4
	Timestamp      time.Time `json:"timestamp"`
	WallClockMs    int64     `json:"wall_clock_ms"`
}

// UnitTokenSummary aggregates the exchanges of one source unit.
type UnitTokenSummary struct {
	PromptTokens   int   `json:"prompt_tokens"`
	ArtifactTokens int   `json:"artifact_tokens"`
	TotalTokens    int   `json:"total_tokens"`
	Steps          int   `json:"steps"`
	WallClockMs    int64 `json:"wall_clock_ms"`
}

// StepTokenSummary aggregates one step family across all units.
type StepTokenSummary struct {
	PromptTokens   int `json:"prompt_tokens"`
	ArtifactTokens int `json:"artifact_tokens"`
	TotalTokens    int `json:"total_tokens"`
	Invocations    int `json:"invocations"`
}

// CostConfig prices estimated tokens in USD per million.
type CostConfig struct {
	InputPricePerMToken  float64
	OutputPricePerMToken float64
}

// DefaultCostConfig reflects typical frontier-model pricing.
func DefaultCostConfig() CostConfig {
	return CostConfig{
		InputPricePerMToken:  3.0,
		OutputPricePerMToken: 15.0,
	}
}

// TokenSummary is the run-level rollup of model traffic.
type TokenSummary struct {
	TotalPromptTokens   int                         `json:"total_prompt_tokens"`
	TotalArtifactTokens int                         `json:"total_artifact_tokens"`
	TotalTokens         int                         `json:"total_tokens"`
	InputCostUSD        float64                     `json:"input_cost_usd"`
	OutputCostUSD       float64                     `json:"output_cost_usd"`
	TotalCostUSD        float64                     `json:"total_cost_usd"`
	PerUnit             map[string]UnitTokenSummary `json:"per_unit"`
	PerStep             map[string]StepTokenSummary `json:"per_step"`
	TotalSteps          int                         `json:"total_steps"`
	TotalWallClockMs    int64                       `json:"total_wall_clock_ms"`
}

// TokenTracker accumulates exchange records and rolls them up on demand.
type TokenTracker interface {
	Record(r TokenRecord)
	Summary() TokenSummary
}

// InMemoryTokenTracker is the thread-safe in-process tracker.
type InMemoryTokenTracker struct {
	mu      sync.Mutex
	records []TokenRecord
	cost    CostConfig
}

// NewTokenTracker returns a tracker priced with DefaultCostConfig.
func NewTokenTracker() *InMemoryTokenTracker {
	return &InMemoryTokenTracker{cost: DefaultCostConfig()}
}

// NewTokenTrackerWithCost returns a tracker with custom pricing.
func NewTokenTrackerWithCost(c CostConfig) *InMemoryTokenTracker {
	return &InMemoryTokenTracker{cost: c}
}

// Record appends one exchange.
func (t *InMemoryTokenTracker) Record(r TokenRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, r)
}

// Summary rolls the records up per unit, per step, and in total, pricing the
// directions with the tracker's cost config.
func (t *InMemoryTokenTracker) Summary() TokenSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := TokenSummary{
		PerUnit: make(map[string]UnitTokenSummary),
		PerStep: make(map[string]StepTokenSummary),
	}

	for _, r := range t.records {
		s.TotalPromptTokens += r.PromptTokens
		s.TotalArtifactTokens += r.ArtifactTokens
		s.TotalSteps++
		s.TotalWallClockMs += r.WallClockMs

		us := s.PerUnit[r.UnitID]
		us.PromptTokens += r.PromptTokens
		us.ArtifactTokens += r.ArtifactTokens
		us.TotalTokens += r.PromptTokens + r.ArtifactTokens
		us.Steps++
		us.WallClockMs += r.WallClockMs
		s.PerUnit[r.UnitID] = us

		ss := s.PerStep[r.Step]
		ss.PromptTokens += r.PromptTokens
		ss.ArtifactTokens += r.ArtifactTokens
		ss.TotalTokens += r.PromptTokens + r.ArtifactTokens
		ss.Invocations++
		s.PerStep[r.Step] = ss
	}

	s.TotalTokens = s.TotalPromptTokens + s.TotalArtifactTokens
	s.InputCostUSD = float64(s.TotalPromptTokens) / 1_000_000 * t.cost.InputPricePerMToken
	s.OutputCostUSD = float64(s.TotalArtifactTokens) / 1_000_000 * t.cost.OutputPricePerMToken
	s.TotalCostUSD = s.InputCostUSD + s.OutputCostUSD

	return s
}

// FormatTokenSummary renders the traffic and cost rollup for terminal output.
func FormatTokenSummary(s TokenSummary) string {
	avgPerUnit := 0
	if len(s.PerUnit) > 0 {
		avgPerUnit = s.TotalTokens / len(s.PerUnit)
	}
	avgPerStep := 0
	if s.TotalSteps > 0 {
		avgPerStep = s.TotalTokens / s.TotalSteps
	}

	tbl := format.NewTable(format.ASCII)
	tbl.Header("Metric", "Value")
	tbl.Columns(format.ColumnConfig{Number: 2, Align: format.AlignRight})
	tbl.Row("Prompt tokens", fmt.Sprintf("%s ($%.4f)", format.FmtTokens(s.TotalPromptTokens), s.InputCostUSD))
	tbl.Row("Artifact tokens", fmt.Sprintf("%s ($%.4f)", format.FmtTokens(s.TotalArtifactTokens), s.OutputCostUSD))
	tbl.Row("Total", fmt.Sprintf("%s ($%.4f)", format.FmtTokens(s.TotalTokens), s.TotalCostUSD))
	tbl.Row("Per unit avg", format.FmtTokens(avgPerUnit))
	tbl.Row("Per step avg", format.FmtTokens(avgPerStep))
	tbl.Row("Exchanges", fmt.Sprintf("%d", s.TotalSteps))
	tbl.Row("Wall clock", format.FmtDuration(time.Duration(s.TotalWallClockMs)*time.Millisecond))

	return "=== Token & Cost ===\n" + tbl.String() + "\n"
}

// EstimateTokens converts a byte count into an estimated token count at the
// usual ~4 bytes per token.
func EstimateTokens(bytes int) int {
	if bytes <= 0 {
		return 0
	}
	return bytes / 4
}
