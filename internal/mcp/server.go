// Package mcp exposes the optimization loop over the Model Context
// Protocol: an external agent starts a run, pulls analyze/generate prompts
// with get_next_step, and answers them with submit_artifact while the
// server compiles, profiles, and evaluates locally.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"whetstone/internal/calibrate"
	"whetstone/internal/dispatch"
	"whetstone/internal/logging"
	"whetstone/internal/loop"
)

var (
	DefaultGetNextStepTimeout = 10 * time.Second
	DefaultSessionTTL         = 5 * time.Minute
)

// Server wraps the MCP SDK server and manages the single active session.
type Server struct {
	MCPServer   *sdkmcp.Server
	ProjectRoot string

	mu      sync.Mutex
	session *Session
}

// NewServer creates an MCP server exposing the run tools. It captures the
// current working directory as the project root so relative paths (source
// trees, artifact dirs) resolve correctly.
func NewServer() *Server {
	cwd, _ := os.Getwd()
	s := &Server{ProjectRoot: cwd}
	s.MCPServer = sdkmcp.NewServer(
		&sdkmcp.Implementation{Name: "whetstone", Version: "dev"},
		nil,
	)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "start_run",
		Description: "Start an optimization run over a source root, or a calibration run over an embedded scenario. Spawns the runner goroutine and returns a session ID.",
	}, s.handleStartRun)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_next_step",
		Description: "Get the next analyze/generate prompt. Blocks until the runner needs an answer. Returns done=true when the run is complete.",
	}, s.handleGetNextStep)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "submit_artifact",
		Description: "Submit the JSON artifact answering a dispatched prompt. The runner parses it and advances that unit's loop.",
	}, s.handleSubmitArtifact)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_status",
		Description: "Get per-unit loop positions: current step, iteration, promotions, best improvement so far.",
	}, s.handleGetStatus)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_report",
		Description: "Get the final report. Blocks until the run completes; calibration runs include the metric scorecard.",
	}, s.handleGetReport)
}

// --- Tool input/output types ---

type startRunInput struct {
	Scenario   string   `json:"scenario,omitempty" jsonschema:"calibration scenario name; empty = optimize a source root"`
	Source     string   `json:"source,omitempty" jsonschema:"source root for an optimization run"`
	Units      []string `json:"units,omitempty" jsonschema:"unit paths relative to the source root; empty = discover"`
	Main       string   `json:"main,omitempty" jsonschema:"entry file, shorthand for a single-unit run"`
	Output     string   `json:"output,omitempty" jsonschema:"audit-trail root (default .whetstone/runs)"`
	Adapter    string   `json:"adapter,omitempty" jsonschema:"model adapter; agent routes prompts through get_next_step, also stub (calibration), basic, openai"`
	Model      string   `json:"model,omitempty" jsonschema:"openai model override"`
	Iterations int      `json:"iterations,omitempty" jsonschema:"optimization iterations per unit (default 3)"`
	Parallel   int      `json:"parallel,omitempty" jsonschema:"variant-profiling workers, or concurrent calibration runs"`
	Runs       int      `json:"runs,omitempty" jsonschema:"calibration repetitions (default 1)"`
	Force      bool     `json:"force,omitempty" jsonschema:"cancel any existing session and start fresh"`
}

type startRunOutput struct {
	SessionID  string `json:"session_id"`
	Mode       string `json:"mode"`
	Scenario   string `json:"scenario,omitempty"`
	TotalUnits int    `json:"total_units"`
	Status     string `json:"status"`
}

type getNextStepInput struct {
	SessionID string `json:"session_id" jsonschema:"session ID from start_run"`
	TimeoutMS int    `json:"timeout_ms,omitempty" jsonschema:"max wait in milliseconds (default 10000)"`
}

type getNextStepOutput struct {
	Done         bool   `json:"done"`
	Available    bool   `json:"available,omitempty"`
	UnitID       string `json:"unit_id,omitempty"`
	Iteration    int    `json:"iteration,omitempty"`
	Step         string `json:"step,omitempty"`
	PromptPath   string `json:"prompt_path,omitempty"`
	ArtifactPath string `json:"artifact_path,omitempty"`
	DispatchID   int64  `json:"dispatch_id,omitempty"`
}

type submitArtifactInput struct {
	SessionID    string `json:"session_id" jsonschema:"session ID from start_run"`
	DispatchID   int64  `json:"dispatch_id" jsonschema:"dispatch ID from get_next_step for artifact routing"`
	ArtifactJSON string `json:"artifact_json" jsonschema:"JSON artifact string answering the dispatched step"`
}

type submitArtifactOutput struct {
	OK string `json:"ok"`
}

type getStatusInput struct {
	SessionID string `json:"session_id" jsonschema:"session ID from start_run"`
}

type getStatusOutput struct {
	SessionID string       `json:"session_id"`
	Mode      string       `json:"mode"`
	State     string       `json:"state"`
	Units     []UnitStatus `json:"units"`
}

type getReportInput struct {
	SessionID string `json:"session_id" jsonschema:"session ID from start_run"`
}

type getReportOutput struct {
	Status  string                 `json:"status"`
	Report  string                 `json:"report,omitempty"`
	Metrics *calibrate.MetricSet   `json:"metrics,omitempty"`
	Summary *loop.RunSummary       `json:"summary,omitempty"`
	Tokens  *dispatch.TokenSummary `json:"tokens,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// --- Tool handlers ---

func (s *Server) handleStartRun(_ context.Context, _ *sdkmcp.CallToolRequest, input startRunInput) (*sdkmcp.CallToolResult, startRunOutput, error) {
	log := logging.New("mcp")
	s.mu.Lock()
	if s.session != nil {
		select {
		case <-s.session.Done():
			log.Info("replacing completed session", "old_id", s.session.ID)
			s.session.Cancel()
		default:
			if input.Force {
				log.Warn("force-replacing active session", "old_id", s.session.ID)
				s.session.Cancel()
			} else {
				s.mu.Unlock()
				return nil, startRunOutput{}, fmt.Errorf("a session is already running (id=%s)", s.session.ID)
			}
		}
	}
	s.session = nil
	s.mu.Unlock()

	sess, err := NewSession(StartRunInput{
		Scenario:    input.Scenario,
		Source:      input.Source,
		Units:       input.Units,
		Main:        input.Main,
		Output:      input.Output,
		Adapter:     input.Adapter,
		Model:       input.Model,
		Iterations:  input.Iterations,
		Parallel:    input.Parallel,
		Runs:        input.Runs,
		ProjectRoot: s.ProjectRoot,
	})
	if err != nil {
		return nil, startRunOutput{}, fmt.Errorf("start run: %w", err)
	}
	sess.SetTTL(DefaultSessionTTL)

	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()

	return nil, startRunOutput{
		SessionID:  sess.ID,
		Mode:       string(sess.Mode),
		Scenario:   sess.Scenario,
		TotalUnits: sess.TotalUnits,
		Status:     string(StateRunning),
	}, nil
}

func (s *Server) handleGetNextStep(ctx context.Context, _ *sdkmcp.CallToolRequest, input getNextStepInput) (*sdkmcp.CallToolResult, getNextStepOutput, error) {
	sess, err := s.getSession(input.SessionID)
	if err != nil {
		return nil, getNextStepOutput{}, err
	}
	sess.Touch()

	timeout := DefaultGetNextStepTimeout
	if input.TimeoutMS > 0 {
		timeout = time.Duration(input.TimeoutMS) * time.Millisecond
	}

	dc, done, available, err := sess.GetNextStep(ctx, timeout)
	if err != nil {
		return nil, getNextStepOutput{}, fmt.Errorf("get_next_step: %w", err)
	}
	if done {
		return nil, getNextStepOutput{Done: true}, nil
	}
	if !available {
		return nil, getNextStepOutput{}, nil
	}
	return nil, getNextStepOutput{
		Available:    true,
		UnitID:       dc.UnitID,
		Iteration:    dc.Iteration,
		Step:         dc.Step,
		PromptPath:   dc.PromptPath,
		ArtifactPath: dc.ArtifactPath,
		DispatchID:   dc.DispatchID,
	}, nil
}

func (s *Server) handleSubmitArtifact(ctx context.Context, _ *sdkmcp.CallToolRequest, input submitArtifactInput) (*sdkmcp.CallToolResult, submitArtifactOutput, error) {
	sess, err := s.getSession(input.SessionID)
	if err != nil {
		return nil, submitArtifactOutput{}, err
	}
	sess.Touch()

	data := []byte(input.ArtifactJSON)
	if !json.Valid(data) {
		return nil, submitArtifactOutput{}, fmt.Errorf("artifact_json is not valid JSON")
	}
	if err := sess.SubmitArtifact(ctx, input.DispatchID, data); err != nil {
		return nil, submitArtifactOutput{}, fmt.Errorf("submit_artifact: %w", err)
	}
	return nil, submitArtifactOutput{OK: "artifact accepted"}, nil
}

func (s *Server) handleGetStatus(_ context.Context, _ *sdkmcp.CallToolRequest, input getStatusInput) (*sdkmcp.CallToolResult, getStatusOutput, error) {
	sess, err := s.getSession(input.SessionID)
	if err != nil {
		return nil, getStatusOutput{}, err
	}
	sess.Touch()

	return nil, getStatusOutput{
		SessionID: sess.ID,
		Mode:      string(sess.Mode),
		State:     string(sess.GetState()),
		Units:     sess.UnitStatuses(),
	}, nil
}

func (s *Server) handleGetReport(ctx context.Context, _ *sdkmcp.CallToolRequest, input getReportInput) (*sdkmcp.CallToolResult, getReportOutput, error) {
	sess, err := s.getSession(input.SessionID)
	if err != nil {
		return nil, getReportOutput{}, err
	}
	sess.Touch()

	select {
	case <-sess.Done():
	case <-ctx.Done():
		return nil, getReportOutput{}, ctx.Err()
	}

	if sessErr := sess.Err(); sessErr != nil {
		return nil, getReportOutput{
			Status: string(StateError),
			Error:  sessErr.Error(),
		}, nil
	}

	out := getReportOutput{Status: string(StateDone)}
	if tokens := sess.TokenSummary(); tokens.TotalSteps > 0 {
		out.Tokens = &tokens
	}
	if report := sess.Report(); report != nil {
		out.Report = calibrate.FormatReport(report)
		out.Metrics = &report.Metrics
		return nil, out, nil
	}
	if summary := sess.Summary(); summary != nil {
		out.Report = loop.FormatSummary(summary)
		out.Summary = summary
		return nil, out, nil
	}
	out.Status = "no_report"
	return nil, out, nil
}

// SetSessionTTL configures the inactivity TTL on the current session.
// Primarily used for testing the watchdog with short durations.
func (s *Server) SetSessionTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		s.session.SetTTL(ttl)
	}
}

// SessionID returns the current session's ID, or empty string if none.
func (s *Server) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		return s.session.ID
	}
	return ""
}

// Shutdown cancels any active session, releasing runner goroutines.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		s.session.Cancel()
		s.session = nil
	}
}

func (s *Server) getSession(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, fmt.Errorf("no active session (call start_run first)")
	}
	if s.session.ID != id {
		return nil, fmt.Errorf("session_id mismatch: have %s, got %s", s.session.ID, id)
	}
	return s.session, nil
}
