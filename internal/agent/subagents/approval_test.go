package subagents

import (
	"context"
	"fmt"
	"testing"
)

func TestTurnCounterIncrements(t *testing.T) {
	tc := &turnCounter{}
	if got := tc.next(); got != 1 {
		t.Errorf("first next() = %d, want 1", got)
	}
	if got := tc.next(); got != 2 {
		t.Errorf("second next() = %d, want 2", got)
	}
}

func TestForwardExecRelaysDecisionToEngine(t *testing.T) {
	engine := newScriptedEngine()
	h := NewHandle("a1", "agent", ModeGeneral, 10, 100, 100)
	forward := NewForwarder(&AutoApprover{
		Decide: func(req ParentApprovalRequest) ApprovalDecision {
			if req.HandleID != "a1" {
				t.Errorf("HandleID = %q, want %q", req.HandleID, "a1")
			}
			return DecisionDeny
		},
	})

	cancel, err := forward.ForwardExec(context.Background(), h, engine, &ExecApprovalRequest{CallID: "call-9"}, 1)
	if err != nil {
		t.Fatalf("ForwardExec() error = %v", err)
	}
	if cancel {
		t.Error("ForwardExec() cancel = true for a Deny decision, want false")
	}

	ops := engine.submittedOps()
	if len(ops) != 1 || ops[0].Kind != OpExecApproval || ops[0].ApprovalID != "call-9" || ops[0].Decision != DecisionDeny {
		t.Fatalf("submitted op = %+v, want OpExecApproval for call-9 denied", ops)
	}
}

func TestForwardExecAbortReportsCancel(t *testing.T) {
	engine := newScriptedEngine()
	h := NewHandle("a1", "agent", ModeGeneral, 10, 100, 100)
	forward := NewForwarder(&AutoApprover{
		Decide: func(req ParentApprovalRequest) ApprovalDecision { return DecisionAbort },
	})

	cancel, err := forward.ForwardExec(context.Background(), h, engine, &ExecApprovalRequest{CallID: "call-1"}, 1)
	if err != nil {
		t.Fatalf("ForwardExec() error = %v", err)
	}
	if !cancel {
		t.Error("ForwardExec() cancel = false for an Abort decision, want true")
	}
}

func TestForwardPatchPropagatesApproverError(t *testing.T) {
	engine := newScriptedEngine()
	h := NewHandle("a1", "agent", ModeGeneral, 10, 100, 100)
	forward := NewForwarder(&erroringApprover{})

	_, err := forward.ForwardPatch(context.Background(), h, engine, &PatchApprovalRequest{CallID: "call-1"}, 1)
	if err == nil {
		t.Fatal("ForwardPatch() error = nil, want an error from a failing approver")
	}
}

type erroringApprover struct{}

func (erroringApprover) RequestApproval(ctx context.Context, req ParentApprovalRequest) (ApprovalDecision, error) {
	return "", fmt.Errorf("approver unavailable")
}

func TestAutoApproverDefaultsToDeny(t *testing.T) {
	a := &AutoApprover{}
	decision, err := a.RequestApproval(context.Background(), ParentApprovalRequest{})
	if err != nil {
		t.Fatalf("RequestApproval() error = %v", err)
	}
	if decision != DecisionDeny {
		t.Errorf("decision = %q, want %q", decision, DecisionDeny)
	}
}
