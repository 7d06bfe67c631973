package mcp

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"whetstone/adapters/calibration/scenarios"
	"whetstone/adapters/optim"
	"whetstone/internal/calibrate"
	"whetstone/internal/config"
	"whetstone/internal/dispatch"
	"whetstone/internal/logging"
	"whetstone/internal/loop"
	"whetstone/internal/toolchain"
)

// SessionState tracks the lifecycle of a run session.
type SessionState string

const (
	StateRunning SessionState = "running"
	StateDone    SessionState = "done"
	StateError   SessionState = "error"
)

// RunMode selects what a session drives: a real optimization run over a
// source tree, or a ground-truth calibration over an embedded scenario.
type RunMode string

const (
	ModeOptimize  RunMode = "optimize"
	ModeCalibrate RunMode = "calibrate"
)

// StartRunInput mirrors the tool arguments for start_run.
type StartRunInput struct {
	Scenario    string   `json:"scenario,omitempty"` // non-empty selects calibrate mode
	Source      string   `json:"source,omitempty"`
	Units       []string `json:"units,omitempty"`
	Main        string   `json:"main,omitempty"`
	Output      string   `json:"output,omitempty"`
	Adapter     string   `json:"adapter,omitempty"`
	Model       string   `json:"model,omitempty"`
	Iterations  int      `json:"iterations,omitempty"`
	Parallel    int      `json:"parallel,omitempty"`
	Runs        int      `json:"runs,omitempty"`
	ProjectRoot string   `json:"-"`
}

// Session holds the state of a single run driven by MCP tool calls. The run
// executes in its own goroutine; tool handlers observe it through the
// dispatcher and the accessors below.
type Session struct {
	ID         string
	Mode       RunMode
	Scenario   string // calibrate mode only
	TotalUnits int

	basePath   string
	runIDs     []string // audit-trail run dirs, in execution order
	unitIDs    []string
	dispatcher *dispatch.MuxDispatcher
	tokens     dispatch.TokenTracker

	// exactly one of these is prepared, by mode
	calCfg *calibrate.RunConfig
	runner *loop.Runner
	units  []optim.SourceUnit

	state   SessionState
	report  *calibrate.CalibrationReport
	summary *loop.RunSummary
	err     error
	doneCh  chan struct{}
	cancel  context.CancelFunc

	ttl    *time.Timer
	ttlDur time.Duration

	mu sync.Mutex
}

// NewSession resolves the input, spawns the runner goroutine, and returns
// immediately. The run owns its own context: tool-call contexts come and go
// while the run continues until done, cancelled, or TTL-expired.
func NewSession(input StartRunInput) (*Session, error) {
	mode := ModeOptimize
	if input.Scenario != "" {
		mode = ModeCalibrate
	} else if input.Source == "" {
		return nil, fmt.Errorf("either scenario or source is required")
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	mux := dispatch.NewMuxDispatcher(runCtx)
	tracker := dispatch.NewTokenTracker()

	sess := &Session{
		ID:         "s-" + uuid.NewString()[:8],
		Mode:       mode,
		basePath:   resolvePath(input.ProjectRoot, input.Output, optim.DefaultBasePath),
		dispatcher: mux,
		tokens:     tracker,
		state:      StateRunning,
		doneCh:     make(chan struct{}),
		cancel:     runCancel,
	}

	agentDisp := dispatch.NewTokenTrackingDispatcher(mux, tracker)
	var err error
	if mode == ModeCalibrate {
		err = sess.prepareCalibration(input, agentDisp)
	} else {
		err = sess.prepareOptimization(input, agentDisp)
	}
	if err != nil {
		runCancel()
		return nil, err
	}

	logging.New("mcp-session").Info("session started",
		"id", sess.ID, "mode", string(mode), "units", sess.TotalUnits)
	go sess.run(runCtx)
	return sess, nil
}

// prepareCalibration loads the scenario and builds the calibration config.
func (s *Session) prepareCalibration(input StartRunInput, agentDisp dispatch.Dispatcher) error {
	scenario, err := scenarios.LoadScenario(input.Scenario)
	if err != nil {
		return err
	}

	var adapter calibrate.Collaborator
	switch input.Adapter {
	case "", "stub":
		adapter = calibrate.NewStubAdapter(scenario)
	case "basic":
		adapter = &optim.ModelCollaborator{Adapter: optim.NewBasicAdapter()}
	case "agent":
		agent := optim.NewAgentAdapter(s.basePath, s.ID,
			optim.WithDispatcher(agentDisp), optim.WithAdapterName("agent"))
		adapter = &optim.ModelCollaborator{Adapter: agent}
	default:
		return fmt.Errorf("unknown calibration adapter %q (available: stub, basic, agent)", input.Adapter)
	}

	cfg := calibrate.DefaultRunConfig(scenario, adapter)
	cfg.BasePath = s.basePath
	if input.Runs > 0 {
		cfg.Runs = input.Runs
	}
	if input.Parallel > 0 {
		cfg.Parallel = input.Parallel
	}

	s.Scenario = scenario.Name
	s.TotalUnits = len(scenario.Units)
	for _, u := range scenario.Units {
		s.unitIDs = append(s.unitIDs, u.ID)
	}
	for run := 1; run <= cfg.Runs; run++ {
		s.runIDs = append(s.runIDs, calibrate.CalibrationRunID(scenario.Name, run))
	}
	s.calCfg = &cfg
	return nil
}

// prepareOptimization loads the units and wires a real runner: model
// collaborators over the chosen adapter, compiler and perf from the
// toolchain defaults.
func (s *Session) prepareOptimization(input StartRunInput, agentDisp dispatch.Dispatcher) error {
	source := resolvePath(input.ProjectRoot, input.Source, "")
	paths := input.Units
	if len(paths) == 0 && input.Main != "" {
		paths = []string{input.Main}
	}
	units, err := config.LoadUnits(source, paths)
	if err != nil {
		return err
	}

	var adapter optim.ModelAdapter
	switch input.Adapter {
	case "", "agent":
		adapter = optim.NewAgentAdapter(s.basePath, s.ID,
			optim.WithDispatcher(agentDisp), optim.WithAdapterName("agent"))
	case "basic":
		adapter = optim.NewBasicAdapter()
	case "openai":
		adapter, err = optim.NewOpenAIAdapter(input.Model)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown adapter %q (available: agent, basic, openai)", input.Adapter)
	}

	runCfg := loop.DefaultRunnerConfig()
	runCfg.BasePath = s.basePath
	runCfg.RunID = s.ID
	if input.Iterations > 0 {
		runCfg.Iterations = input.Iterations
	}
	if input.Parallel > 0 {
		runCfg.Parallel = input.Parallel
	}

	collab := &optim.ModelCollaborator{
		Adapter:  adapter,
		BasePath: s.basePath,
		RunID:    s.ID,
	}
	s.runner = loop.NewRunner(runCfg, collab, collab, toolchain.NewCompiler(), toolchain.NewPerfRunner())
	s.units = units

	s.TotalUnits = len(units)
	for _, u := range units {
		s.unitIDs = append(s.unitIDs, u.ID)
	}
	s.runIDs = []string{s.ID}
	return nil
}

// run executes the session's work and captures the result.
func (s *Session) run(ctx context.Context) {
	defer close(s.doneCh)
	defer s.cancel()

	log := logging.New("mcp-session")
	var (
		report  *calibrate.CalibrationReport
		summary *loop.RunSummary
		err     error
	)
	if s.Mode == ModeCalibrate {
		report, err = calibrate.RunCalibration(ctx, *s.calCfg)
	} else {
		summary, err = s.runner.Run(ctx, s.units)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ttl != nil {
		s.ttl.Stop()
		s.ttl = nil
	}
	if err != nil {
		s.state = StateError
		s.err = err
		log.Error("session failed", "id", s.ID, "error", err)
		return
	}
	s.state = StateDone
	s.report = report
	s.summary = summary
	log.Info("session done", "id", s.ID, "mode", string(s.Mode))
}

// GetNextStep blocks until the runner produces the next prompt, the run
// completes (done=true), or the wait times out (available=false, poll again).
func (s *Session) GetNextStep(ctx context.Context, timeout time.Duration) (dc dispatch.DispatchContext, done, available bool, err error) {
	select {
	case <-s.doneCh:
		return dispatch.DispatchContext{}, true, false, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return dispatch.DispatchContext{}, false, false, ctx.Err()
	case <-timer.C:
		return dispatch.DispatchContext{}, false, false, nil
	case <-s.doneCh:
		return dispatch.DispatchContext{}, true, false, nil
	case dc, ok := <-s.dispatcher.PromptCh():
		if !ok {
			return dispatch.DispatchContext{}, true, false, nil
		}
		return dc, false, true, nil
	}
}

// SubmitArtifact routes the agent's artifact to the dispatch that asked
// for it.
func (s *Session) SubmitArtifact(ctx context.Context, dispatchID int64, data []byte) error {
	return s.dispatcher.SubmitArtifact(ctx, dispatchID, data)
}

// UnitStatus is one unit's current position in the loop, read back from the
// persisted state files.
type UnitStatus struct {
	UnitID     string  `json:"unit_id"`
	Step       string  `json:"step"`
	Iteration  int     `json:"iteration"`
	Promotions int     `json:"promotions"`
	BestPct    float64 `json:"best_improvement_pct"`
	Status     string  `json:"status"`
}

// UnitStatuses reports every unit's position. Units that have not written
// state yet show as pending; with multiple calibration runs the latest
// run's state wins.
func (s *Session) UnitStatuses() []UnitStatus {
	out := make([]UnitStatus, 0, len(s.unitIDs))
	for _, id := range s.unitIDs {
		st := UnitStatus{UnitID: id, Step: string(optim.StepInit), Status: "pending"}
		for _, runID := range s.runIDs {
			state, err := optim.LoadState(optim.UnitDir(s.basePath, runID, id))
			if err != nil || state == nil {
				continue
			}
			st = UnitStatus{
				UnitID:     id,
				Step:       string(state.CurrentStep),
				Iteration:  state.Iteration,
				Promotions: state.Promotions,
				BestPct:    state.BestImprovementPct,
				Status:     state.Status,
			}
		}
		out = append(out, st)
	}
	return out
}

// GetState returns the current session state.
func (s *Session) GetState() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Report returns the calibration report, or nil before completion and in
// optimize mode.
func (s *Session) Report() *calibrate.CalibrationReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// Summary returns the optimization run summary, or nil before completion
// and in calibrate mode.
func (s *Session) Summary() *loop.RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// TokenSummary totals the prompt/artifact exchange so far.
func (s *Session) TokenSummary() dispatch.TokenSummary {
	return s.tokens.Summary()
}

// Err returns any error from the run.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done returns a channel that closes when the run completes.
func (s *Session) Done() <-chan struct{} {
	return s.doneCh
}

// Cancel terminates the runner goroutine and releases resources.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.ttl != nil {
		s.ttl.Stop()
		s.ttl = nil
	}
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// SetTTL arms the inactivity watchdog: a session untouched for d is
// cancelled so an abandoned agent cannot pin the runner forever. Zero
// disarms it.
func (s *Session) SetTTL(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttlDur = d
	if s.ttl != nil {
		s.ttl.Stop()
		s.ttl = nil
	}
	if d <= 0 {
		return
	}
	s.ttl = time.AfterFunc(d, func() {
		logging.New("mcp-session").Warn("session TTL expired", "id", s.ID, "ttl", d.String())
		s.Cancel()
	})
}

// Touch resets the inactivity watchdog. Every tool call on the session
// counts as activity.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ttl != nil {
		s.ttl.Reset(s.ttlDur)
	}
}

// resolvePath anchors relative paths at the project root so artifact dirs
// resolve the same regardless of the process's working directory.
func resolvePath(root, path, fallback string) string {
	if path == "" {
		path = fallback
	}
	if path == "" || filepath.IsAbs(path) || root == "" {
		return path
	}
	return filepath.Join(root, path)
}
