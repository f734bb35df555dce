package subagents

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DelegateRequest is the input to Delegate: a synchronous, call-and-await
// convenience over the same machinery AgentRegistry.Spawn uses, with
// stricter defaults (read-only sandbox, tools off unless AllowTools).
type DelegateRequest struct {
	Prompt      string
	Label       string
	Skills      []string
	AllowTools  bool
	TimeoutMS   int64
}

// DelegateResult is Delegate's return value: the truncated final text
// produced by the child, or an error describing why it never produced one.
type DelegateResult struct {
	Output string
}

// Delegate drives a single child conversation to completion synchronously,
// bypassing the registry entirely: the caller blocks until the child
// reaches TaskComplete, a terminal error, or the orchestration timeout.
func Delegate(ctx context.Context, req DelegateRequest, limiter *Limiter, factory EngineFactory, parent *ParentContext, orchestrationTimeoutMS int64, maxOutputChars int) (*DelegateResult, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("subagents: delegate requires a non-empty prompt")
	}

	label := sanitizeLabel(req.Label, maxLabelLen)
	if label == "" {
		label = "delegate"
	}

	timeoutMS := req.TimeoutMS
	if timeoutMS <= 0 {
		timeoutMS = orchestrationTimeoutMS
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()

	h := NewHandle(sanitizeID(uuid.New().String(), maxIDLen), label, ModeGeneral, 50, 4*1024, maxOutputChars)
	defer h.Cancel()

	if !limiter.Acquire(runCtx, h.CancelSignal()) {
		return nil, fmt.Errorf("subagents: delegate cancelled or timed out waiting for a concurrency permit")
	}
	defer limiter.Release()

	cfg := &ChildConfig{
		Mode:                  ModeGeneral,
		DeveloperInstructions: delegateInstructions(label, req.AllowTools),
		ReadOnlySandbox:       !req.AllowTools,
		SkillsEnabled:         len(req.Skills) > 0,
	}
	if !req.AllowTools {
		cfg.ToolsDisabled = disabledExploreTools
	}

	inputs := []UserInput{{Text: req.Prompt}}
	if len(req.Skills) > 0 {
		if parent.Skills == nil {
			return nil, fmt.Errorf("subagents: delegate requested skills but no skill resolver is configured")
		}
		resolved, missing := parent.Skills.Resolve(parent.Cwd, req.Skills)
		if len(missing) > 0 {
			return nil, fmt.Errorf("subagents: unknown skills requested: %v", missing)
		}
		inputs = append(inputs, resolved...)
	}

	engine, err := factory.Spawn(runCtx, cfg, inputs)
	if err != nil {
		return nil, fmt.Errorf("subagents: delegate failed to spawn engine: %w", err)
	}

	if err := engine.Submit(runCtx, Op{Kind: OpUserInput, Inputs: inputs}); err != nil {
		return nil, fmt.Errorf("subagents: delegate failed to submit prompt: %w", err)
	}

	turns := &turnCounter{}
	forward := NewForwarder(&AutoApprover{
		Decide: func(ParentApprovalRequest) ApprovalDecision {
			if req.AllowTools {
				return DecisionApprove
			}
			return DecisionDeny
		},
	})

	for {
		select {
		case <-h.CancelSignal():
			engine.Submit(runCtx, Op{Kind: OpInterrupt})
			return nil, fmt.Errorf("subagents: delegate cancelled")
		default:
		}

		ev, err := engine.NextEvent(runCtx)
		if err != nil {
			if runCtx.Err() != nil {
				engine.Submit(context.Background(), Op{Kind: OpInterrupt})
				engine.Submit(context.Background(), Op{Kind: OpShutdown})
				return nil, fmt.Errorf("subagents: delegate timed out after %dms", timeoutMS)
			}
			return nil, fmt.Errorf("subagents: delegate child died: %w", err)
		}

		switch ev.Kind {
		case EventSessionConfigured:
			// nothing to record for a synchronous caller
		case EventExecApproval:
			if _, err := forward.ForwardExec(runCtx, h, engine, ev.ExecApproval, turns.next()); err != nil {
				return nil, fmt.Errorf("subagents: delegate approval failed: %w", err)
			}
		case EventPatchApproval:
			if _, err := forward.ForwardPatch(runCtx, h, engine, ev.PatchApproval, turns.next()); err != nil {
				return nil, fmt.Errorf("subagents: delegate approval failed: %w", err)
			}
		case EventAgentMessage:
			// streamed text is discarded; only the final message is returned
		case EventError, EventStreamError:
			return nil, fmt.Errorf("subagents: delegate child error: %s", ev.ErrorMessage)
		case EventTaskComplete:
			engine.Submit(runCtx, Op{Kind: OpShutdown})
			output := truncateAtCharBoundary(ev.LastAgentMessage, maxOutputChars)
			return &DelegateResult{Output: output}, nil
		case EventTurnAborted:
			engine.Submit(runCtx, Op{Kind: OpShutdown})
			return nil, fmt.Errorf("subagents: delegate turn aborted")
		}

		if runCtx.Err() != nil {
			engine.Submit(runCtx, Op{Kind: OpInterrupt})
			return nil, fmt.Errorf("subagents: delegate timed out after %dms", timeoutMS)
		}
	}
}
