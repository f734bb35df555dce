package subagents

import (
	"context"
	"testing"
	"time"
)

func newTestDriver(t *testing.T, engine Engine, forward *Forwarder) (*driver, *Handle) {
	t.Helper()
	h := NewHandle("a1", "agent", ModeGeneral, 50, 1024, 1024)
	factory := &scriptedFactory{engine: engine}
	if forward == nil {
		forward = NewForwarder(&AutoApprover{})
	}
	d := &driver{
		handle:  h,
		req:     &SpawnRequest{Prompt: "do the thing"},
		parent:  &ParentContext{DefaultTimeoutMS: 5000},
		limiter: NewLimiter(1),
		factory: factory,
		forward: forward,
	}
	return d, h
}

func TestDriverRunsToCompletion(t *testing.T) {
	engine := newScriptedEngine(
		Event{Kind: EventSessionConfigured, RolloutPath: "rollout-1"},
		Event{Kind: EventAgentMessage, Message: "working on it"},
		Event{Kind: EventTaskComplete, LastAgentMessage: "done", HasLastAgentMessage: true},
	)
	d, h := newTestDriver(t, engine, nil)

	d.run(context.Background())

	snap := h.Snapshot()
	if snap.Status != StatusComplete {
		t.Fatalf("Status = %q, want %q", snap.Status, StatusComplete)
	}
	if snap.FinalOutput != "done" {
		t.Errorf("FinalOutput = %q, want %q", snap.FinalOutput, "done")
	}
	if snap.RolloutPath != "rollout-1" {
		t.Errorf("RolloutPath = %q, want %q", snap.RolloutPath, "rollout-1")
	}

	ops := engine.(*scriptedEngine).submittedOps()
	if len(ops) == 0 || ops[0].Kind != OpUserInput {
		t.Fatalf("first submitted op = %+v, want OpUserInput", ops)
	}
	if ops[len(ops)-1].Kind != OpShutdown {
		t.Errorf("last submitted op = %+v, want OpShutdown", ops[len(ops)-1])
	}
}

func TestDriverTurnAbortedSetsStatusAborted(t *testing.T) {
	engine := newScriptedEngine(
		Event{Kind: EventSessionConfigured},
		Event{Kind: EventTurnAborted},
	)
	d, h := newTestDriver(t, engine, nil)

	d.run(context.Background())

	if h.Status() != StatusAborted {
		t.Fatalf("Status = %q, want %q", h.Status(), StatusAborted)
	}
}

func TestDriverErrorThenTaskCompleteStaysError(t *testing.T) {
	engine := newScriptedEngine(
		Event{Kind: EventSessionConfigured},
		Event{Kind: EventError, ErrorMessage: "boom"},
		Event{Kind: EventTaskComplete, LastAgentMessage: "recovered text", HasLastAgentMessage: true},
	)
	d, h := newTestDriver(t, engine, nil)

	d.run(context.Background())

	snap := h.Snapshot()
	if snap.Status != StatusError {
		t.Fatalf("Status = %q, want %q", snap.Status, StatusError)
	}
	// The Error event's message wins since it arrived first; TaskComplete
	// must not overwrite an already-populated final_output.
	if snap.FinalOutput != "boom" {
		t.Errorf("FinalOutput = %q, want %q", snap.FinalOutput, "boom")
	}
}

func TestDriverApprovalForwardingApprove(t *testing.T) {
	engine := newScriptedEngine(
		Event{Kind: EventSessionConfigured},
		Event{Kind: EventExecApproval, ExecApproval: &ExecApprovalRequest{CallID: "call-1", Command: []string{"ls"}}},
		Event{Kind: EventTaskComplete, LastAgentMessage: "ok", HasLastAgentMessage: true},
	)
	forward := NewForwarder(&AutoApprover{
		Decide: func(req ParentApprovalRequest) ApprovalDecision { return DecisionApprove },
	})
	d, h := newTestDriver(t, engine, forward)

	d.run(context.Background())

	if h.Status() != StatusComplete {
		t.Fatalf("Status = %q, want %q", h.Status(), StatusComplete)
	}

	found := false
	for _, op := range engine.(*scriptedEngine).submittedOps() {
		if op.Kind == OpExecApproval {
			found = true
			if op.ApprovalID != "call-1" {
				t.Errorf("ApprovalID = %q, want %q", op.ApprovalID, "call-1")
			}
			if op.Decision != DecisionApprove {
				t.Errorf("Decision = %q, want %q", op.Decision, DecisionApprove)
			}
		}
	}
	if !found {
		t.Fatal("no OpExecApproval was submitted to the engine")
	}
}

func TestDriverApprovalForwardingAbortCancelsChild(t *testing.T) {
	engine := newScriptedEngine(
		Event{Kind: EventSessionConfigured},
		Event{Kind: EventExecApproval, ExecApproval: &ExecApprovalRequest{CallID: "call-1"}},
	)
	forward := NewForwarder(&AutoApprover{
		Decide: func(req ParentApprovalRequest) ApprovalDecision { return DecisionAbort },
	})
	d, h := newTestDriver(t, engine, forward)

	done := make(chan struct{})
	go func() {
		d.run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not finish after an abort decision")
	}

	if !h.Cancelled() {
		t.Error("Cancelled() = false, want true after an abort decision")
	}
}

func TestDriverSpawnFailureSetsError(t *testing.T) {
	d, h := newTestDriver(t, nil, nil)
	d.factory = &scriptedFactory{spawnErr: context.DeadlineExceeded}

	d.run(context.Background())

	if h.Status() != StatusError {
		t.Fatalf("Status = %q, want %q", h.Status(), StatusError)
	}
	if h.Snapshot().FinalOutput == "" {
		t.Error("FinalOutput is empty, want a failure message")
	}
}

func TestDriverCancelledBeforeStartupAborts(t *testing.T) {
	h := NewHandle("a1", "agent", ModeGeneral, 50, 1024, 1024)
	h.Cancel()

	limiter := NewLimiter(1)
	// Fill the only permit so Acquire has to race the cancel signal.
	limiter.Acquire(context.Background(), make(chan struct{}))

	d := &driver{
		handle:  h,
		req:     &SpawnRequest{Prompt: "x"},
		parent:  &ParentContext{DefaultTimeoutMS: 5000},
		limiter: limiter,
		factory: &scriptedFactory{},
		forward: NewForwarder(&AutoApprover{}),
	}

	d.run(context.Background())

	if h.Status() != StatusAborted {
		t.Fatalf("Status = %q, want %q", h.Status(), StatusAborted)
	}
}
