package subagents

import (
	"context"
	"fmt"
)

// ParentApprovalRequest is what gets forwarded to the parent session for a
// child's exec or patch request. Exactly one of Exec/Patch is set.
type ParentApprovalRequest struct {
	ApprovalID string
	HandleID   string
	Exec       *ExecApprovalRequest
	Patch      *PatchApprovalRequest
}

// ParentApprover is the parent-side collaborator that prompts the user (or
// applies policy) and returns a decision. Out of scope for this package;
// consumed as an interface.
type ParentApprover interface {
	RequestApproval(ctx context.Context, req ParentApprovalRequest) (ApprovalDecision, error)
}

// Forwarder translates a child's approval-needed events into parent
// approval requests and routes the decision back to the child. It is
// serial by design: the event pump awaits each decision before reading the
// next event, so only one approval is outstanding per child at a time.
type Forwarder struct {
	approver ParentApprover
}

// NewForwarder constructs a Forwarder over the given parent-side approver.
func NewForwarder(approver ParentApprover) *Forwarder {
	return &Forwarder{approver: approver}
}

// turnCounter differentiates composite approval ids across multiple
// approval requests raised by the same handle within one run.
type turnCounter struct {
	n int
}

func (t *turnCounter) next() int {
	t.n++
	return t.n
}

// ForwardExec forwards an exec approval request, awaits the parent's
// decision, and relays it to the engine. Returns true if the child should
// be cancelled (decision was Abort).
func (f *Forwarder) ForwardExec(ctx context.Context, h *Handle, engine Engine, req *ExecApprovalRequest, turn int) (cancel bool, err error) {
	approvalID := fmt.Sprintf("subagent-%s-exec-%d", h.ID, turn)
	decision, err := f.approver.RequestApproval(ctx, ParentApprovalRequest{
		ApprovalID: approvalID,
		HandleID:   h.ID,
		Exec:       req,
	})
	if err != nil {
		return false, fmt.Errorf("parent approval request failed: %w", err)
	}

	if err := engine.Submit(ctx, Op{
		Kind:       OpExecApproval,
		ApprovalID: req.CallID,
		Decision:   decision,
	}); err != nil {
		return false, fmt.Errorf("failed to relay exec decision: %w", err)
	}

	return decision == DecisionAbort, nil
}

// ForwardPatch forwards a patch approval request analogously to ForwardExec.
func (f *Forwarder) ForwardPatch(ctx context.Context, h *Handle, engine Engine, req *PatchApprovalRequest, turn int) (cancel bool, err error) {
	approvalID := fmt.Sprintf("subagent-%s-patch-%d", h.ID, turn)
	decision, err := f.approver.RequestApproval(ctx, ParentApprovalRequest{
		ApprovalID: approvalID,
		HandleID:   h.ID,
		Patch:      req,
	})
	if err != nil {
		return false, fmt.Errorf("parent approval request failed: %w", err)
	}

	if err := engine.Submit(ctx, Op{
		Kind:       OpPatchApproval,
		ApprovalID: req.CallID,
		Decision:   decision,
	}); err != nil {
		return false, fmt.Errorf("failed to relay patch decision: %w", err)
	}

	return decision == DecisionAbort, nil
}

// AutoApprover is a ParentApprover that decides without prompting a user,
// driven by a fixed policy. Useful for General-mode subagents whose parent
// session already operates under an allowlist/full policy rather than an
// interactive one, and for tests.
type AutoApprover struct {
	Decide func(req ParentApprovalRequest) ApprovalDecision
}

func (a *AutoApprover) RequestApproval(ctx context.Context, req ParentApprovalRequest) (ApprovalDecision, error) {
	if a.Decide == nil {
		return DecisionDeny, nil
	}
	return a.Decide(req), nil
}
