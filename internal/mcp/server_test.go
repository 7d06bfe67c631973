package mcp

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func startRun(t *testing.T, s *Server, input startRunInput) startRunOutput {
	t.Helper()
	_, out, err := s.handleStartRun(context.Background(), nil, input)
	if err != nil {
		t.Fatalf("start_run: %v", err)
	}
	return out
}

func TestServer_StubCalibrationFlow(t *testing.T) {
	s := NewServer()
	defer s.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()

	out := startRun(t, s, startRunInput{Scenario: "heavy-computation", Adapter: "stub", Output: t.TempDir()})
	if out.SessionID == "" || out.Mode != "calibrate" || out.TotalUnits != 1 {
		t.Fatalf("start output: %+v", out)
	}
	if got := s.SessionID(); got != out.SessionID {
		t.Errorf("SessionID() = %q, want %q", got, out.SessionID)
	}

	_, rep, err := s.handleGetReport(ctx, nil, getReportInput{SessionID: out.SessionID})
	if err != nil {
		t.Fatalf("get_report: %v", err)
	}
	if rep.Status != string(StateDone) || rep.Metrics == nil {
		t.Fatalf("report output: %+v", rep)
	}
	if !strings.Contains(rep.Report, "Whetstone Calibration Report") {
		t.Errorf("unexpected report text:\n%s", rep.Report)
	}

	_, step, err := s.handleGetNextStep(ctx, nil, getNextStepInput{SessionID: out.SessionID, TimeoutMS: 500})
	if err != nil {
		t.Fatalf("get_next_step: %v", err)
	}
	if !step.Done {
		t.Errorf("want done after completion, got %+v", step)
	}
}

func TestServer_AgentFlow(t *testing.T) {
	s := NewServer()
	defer s.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()

	out := startRun(t, s, startRunInput{Scenario: "no-bottleneck", Adapter: "agent", Output: t.TempDir()})

	_, step, err := s.handleGetNextStep(ctx, nil, getNextStepInput{SessionID: out.SessionID, TimeoutMS: 10_000})
	if err != nil {
		t.Fatalf("get_next_step: %v", err)
	}
	if step.Done || !step.Available {
		t.Fatalf("want an available step, got %+v", step)
	}
	if step.UnitID != "src/idle.cpp" || step.Step != "ANALYZING" || step.DispatchID == 0 {
		t.Errorf("step: %+v", step)
	}
	if _, err := os.Stat(step.PromptPath); err != nil {
		t.Errorf("prompt not on disk: %v", err)
	}

	_, status, err := s.handleGetStatus(ctx, nil, getStatusInput{SessionID: out.SessionID})
	if err != nil {
		t.Fatalf("get_status: %v", err)
	}
	if status.State != string(StateRunning) || len(status.Units) != 1 {
		t.Errorf("mid-run status: %+v", status)
	}

	if _, _, err := s.handleSubmitArtifact(ctx, nil, submitArtifactInput{
		SessionID:    out.SessionID,
		DispatchID:   step.DispatchID,
		ArtifactJSON: "{not json",
	}); err == nil {
		t.Fatal("want rejection for malformed artifact JSON")
	}

	_, sub, err := s.handleSubmitArtifact(ctx, nil, submitArtifactInput{
		SessionID:    out.SessionID,
		DispatchID:   step.DispatchID,
		ArtifactJSON: `{"found": false}`,
	})
	if err != nil {
		t.Fatalf("submit_artifact: %v", err)
	}
	if sub.OK == "" {
		t.Errorf("submit output: %+v", sub)
	}

	_, rep, err := s.handleGetReport(ctx, nil, getReportInput{SessionID: out.SessionID})
	if err != nil {
		t.Fatalf("get_report: %v", err)
	}
	if rep.Status != string(StateDone) {
		t.Fatalf("report status %q (error %q)", rep.Status, rep.Error)
	}
	if !strings.Contains(rep.Report, "RESULT: PASS") {
		t.Errorf("want a passing scorecard:\n%s", rep.Report)
	}
	if rep.Tokens == nil || rep.Tokens.TotalSteps != 1 {
		t.Errorf("token summary: %+v", rep.Tokens)
	}

	_, status, err = s.handleGetStatus(ctx, nil, getStatusInput{SessionID: out.SessionID})
	if err != nil {
		t.Fatalf("get_status: %v", err)
	}
	if status.State != string(StateDone) {
		t.Errorf("final state: %+v", status)
	}
	if len(status.Units) != 1 || status.Units[0].Step != "EXHAUSTED" {
		t.Errorf("final unit status: %+v", status.Units)
	}
}

func TestServer_SessionGuards(t *testing.T) {
	s := NewServer()
	defer s.Shutdown()
	ctx := context.Background()

	if _, _, err := s.handleGetStatus(ctx, nil, getStatusInput{SessionID: "s-none"}); err == nil || !strings.Contains(err.Error(), "no active session") {
		t.Fatalf("want no-active-session error, got %v", err)
	}

	out := startRun(t, s, startRunInput{Scenario: "no-bottleneck", Adapter: "agent", Output: t.TempDir()})

	if _, _, err := s.handleGetStatus(ctx, nil, getStatusInput{SessionID: "s-wrong"}); err == nil || !strings.Contains(err.Error(), "session_id mismatch") {
		t.Fatalf("want mismatch error, got %v", err)
	}

	if _, _, err := s.handleStartRun(ctx, nil, startRunInput{Scenario: "no-bottleneck", Adapter: "agent", Output: t.TempDir()}); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("want already-running error, got %v", err)
	}

	out2 := startRun(t, s, startRunInput{Scenario: "no-bottleneck", Adapter: "agent", Output: t.TempDir(), Force: true})
	if out2.SessionID == out.SessionID {
		t.Error("force start reused the old session id")
	}
	if got := s.SessionID(); got != out2.SessionID {
		t.Errorf("SessionID() = %q, want %q", got, out2.SessionID)
	}
}

func TestServer_ReplacesCompletedSession(t *testing.T) {
	s := NewServer()
	defer s.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()

	out := startRun(t, s, startRunInput{Scenario: "no-bottleneck", Adapter: "stub", Output: t.TempDir()})
	if _, _, err := s.handleGetReport(ctx, nil, getReportInput{SessionID: out.SessionID}); err != nil {
		t.Fatalf("get_report: %v", err)
	}

	// First session is done, so a fresh start replaces it without force.
	out2 := startRun(t, s, startRunInput{Scenario: "no-bottleneck", Adapter: "stub", Output: t.TempDir()})
	if out2.SessionID == out.SessionID {
		t.Error("expected a fresh session id")
	}
}

func TestServer_Shutdown(t *testing.T) {
	s := NewServer()
	out := startRun(t, s, startRunInput{Scenario: "no-bottleneck", Adapter: "agent", Output: t.TempDir()})

	sess, err := s.getSession(out.SessionID)
	if err != nil {
		t.Fatalf("getSession: %v", err)
	}
	s.Shutdown()

	select {
	case <-sess.Done():
	case <-time.After(testWait):
		t.Fatal("shutdown did not stop the runner goroutine")
	}
	if s.SessionID() != "" {
		t.Error("session still registered after shutdown")
	}
}
