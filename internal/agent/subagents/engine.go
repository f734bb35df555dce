package subagents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/neboloop/nebo/internal/agent/ai"
	"github.com/neboloop/nebo/internal/agent/session"
)

func newSessionSuffix() string {
	return uuid.New().String()
}

// EventKind identifies the shape of an Event's payload.
type EventKind string

const (
	EventSessionConfigured EventKind = "session_configured"
	EventExecApproval      EventKind = "exec_approval_request"
	EventPatchApproval     EventKind = "apply_patch_approval_request"
	EventAgentMessage      EventKind = "agent_message"
	EventError             EventKind = "error"
	EventStreamError       EventKind = "stream_error"
	EventTaskComplete      EventKind = "task_complete"
	EventTurnAborted       EventKind = "turn_aborted"
)

// ExecApprovalRequest mirrors a child's request to run a command.
type ExecApprovalRequest struct {
	CallID                  string
	Command                 []string
	Cwd                     string
	Reason                  string
	ProposedPolicyAmendment string
}

// PatchApprovalRequest mirrors a child's request to apply a patch.
type PatchApprovalRequest struct {
	CallID    string
	Changes   string
	Reason    string
	GrantRoot string
}

// Event is a single item from an Engine's event stream. Exactly one payload
// field is meaningful, selected by Kind — mirrors the shape of ai.StreamEvent,
// which this package's providerEngine adapts from.
type Event struct {
	Kind          EventKind
	RolloutPath   string
	ExecApproval  *ExecApprovalRequest
	PatchApproval *PatchApprovalRequest
	Message       string
	ErrorMessage  string
	LastAgentMessage string
	HasLastAgentMessage bool
}

// ApprovalDecision is the parent's answer to a forwarded approval request.
type ApprovalDecision string

const (
	DecisionApprove ApprovalDecision = "approve"
	DecisionDeny    ApprovalDecision = "deny"
	DecisionAbort   ApprovalDecision = "abort"
)

// OpKind identifies the shape of an Op submitted to an Engine.
type OpKind string

const (
	OpUserInput     OpKind = "user_input"
	OpExecApproval  OpKind = "exec_approval"
	OpPatchApproval OpKind = "patch_approval"
	OpInterrupt     OpKind = "interrupt"
	OpShutdown      OpKind = "shutdown"
)

// UserInput is one item of the initial input sequence submitted to a child:
// either free text (the prompt) or a named, pre-registered skill reference.
type UserInput struct {
	Text      string
	SkillName string
	SkillPath string
}

// Op is a command submitted to a running Engine.
type Op struct {
	Kind       OpKind
	Inputs     []UserInput
	ApprovalID string
	Decision   ApprovalDecision
}

// Engine is the conversation engine the OneShotDriver drives. It is treated
// as an external collaborator: the model client, rollout recorder, and tool
// registry behind it are out of scope for this package.
type Engine interface {
	// NextEvent awaits the next event from the child's conversation. It
	// returns an error once the engine dies (never silently stops).
	NextEvent(ctx context.Context) (Event, error)
	// Submit sends an operation to the engine.
	Submit(ctx context.Context, op Op) error
}

// ChildConfig is the per-child configuration materialised by the driver from
// the parent's configuration snapshot (see driver.go deriveChildConfig).
type ChildConfig struct {
	Mode                  SubagentMode
	DeveloperInstructions string
	ReadOnlySandbox       bool
	ToolsDisabled         []string
	SkillsEnabled         bool
	ModelOverride         string
}

// EngineFactory spawns a fresh Engine for a child run.
type EngineFactory interface {
	Spawn(ctx context.Context, cfg *ChildConfig, initial []UserInput) (Engine, error)
}

// ToolCallResult is the outcome of executing one tool call.
type ToolCallResult struct {
	Content string
	IsError bool
}

// ToolExecutor abstracts the parent's tool registry (avoids a circular
// import on internal/agent/tools, matching internal/agent/orchestrator's
// own ToolExecutor abstraction).
type ToolExecutor interface {
	Execute(ctx context.Context, call *ai.ToolCall) *ToolCallResult
	List() []ai.ToolDefinition
	RequiresApproval(name string) bool
}

// execLikeTools are tool names whose calls are forwarded to the parent as
// exec approvals rather than patch approvals when RequiresApproval is true.
var patchLikeTools = map[string]bool{
	"apply_patch": true,
	"file":        true,
}

// providerEngine adapts an ai.Provider + session.Manager + ToolExecutor (the
// teacher's existing generation stack) into the Engine contract. It runs the
// agentic loop in a goroutine and translates ai.StreamEvent/tool-call
// activity into subagents.Event values.
type providerEngine struct {
	provider  ai.Provider
	sessions  *session.Manager
	tools     ToolExecutor
	sessionID string
	cfg       *ChildConfig
	maxTurns  int

	events   chan Event
	pending  chan pendingApproval // at most one outstanding approval at a time
	done     chan struct{}
	doneOnce sync.Once
}

type pendingApproval struct {
	callID   string
	decision chan ApprovalDecision
}

// newProviderEngine constructs and starts an engine for a single child run.
func newProviderEngine(provider ai.Provider, sessions *session.Manager, toolExec ToolExecutor, sessionID string, cfg *ChildConfig, maxTurns int) *providerEngine {
	e := &providerEngine{
		provider:  provider,
		sessions:  sessions,
		tools:     toolExec,
		sessionID: sessionID,
		cfg:       cfg,
		maxTurns:  maxTurns,
		events:    make(chan Event, 16),
		pending:   make(chan pendingApproval, 1),
		done:      make(chan struct{}),
	}
	return e
}

func (e *providerEngine) run(ctx context.Context, initial []UserInput) {
	defer close(e.events)

	var prompt strings.Builder
	for _, in := range initial {
		if in.Text != "" {
			if prompt.Len() > 0 {
				prompt.WriteString("\n\n")
			}
			prompt.WriteString(in.Text)
		}
		if in.SkillName != "" {
			prompt.WriteString(fmt.Sprintf("\n\n[skill: %s at %s]", in.SkillName, in.SkillPath))
		}
	}

	if err := e.sessions.AppendMessage(e.sessionID, session.Message{
		SessionID: e.sessionID,
		Role:      "user",
		Content:   prompt.String(),
	}); err != nil {
		e.emit(Event{Kind: EventError, ErrorMessage: fmt.Sprintf("failed to save prompt: %v", err)})
		return
	}

	e.emit(Event{Kind: EventSessionConfigured, RolloutPath: e.sessionID})

	maxTurns := e.maxTurns
	if maxTurns <= 0 {
		maxTurns = 50
	}

	var lastMessage string
	for turn := 0; turn < maxTurns; turn++ {
		select {
		case <-ctx.Done():
			e.emit(Event{Kind: EventTurnAborted})
			return
		default:
		}

		messages, err := e.sessions.GetMessages(e.sessionID, 200)
		if err != nil {
			e.emit(Event{Kind: EventError, ErrorMessage: fmt.Sprintf("failed to load messages: %v", err)})
			return
		}

		toolDefs := e.tools.List()
		if len(e.cfg.ToolsDisabled) > 0 {
			toolDefs = filterTools(toolDefs, e.cfg.ToolsDisabled)
		}

		stream, err := e.provider.Stream(ctx, &ai.ChatRequest{
			Messages: messages,
			Tools:    toolDefs,
			System:   e.cfg.DeveloperInstructions,
			Model:    e.cfg.ModelOverride,
		})
		if err != nil {
			e.emit(Event{Kind: EventStreamError, ErrorMessage: err.Error()})
			return
		}

		var text strings.Builder
		var calls []ai.ToolCall
		for ev := range stream {
			switch ev.Type {
			case ai.EventTypeText:
				text.WriteString(ev.Text)
			case ai.EventTypeToolCall:
				if ev.ToolCall != nil {
					calls = append(calls, *ev.ToolCall)
				}
			case ai.EventTypeError:
				e.emit(Event{Kind: EventError, ErrorMessage: fmt.Sprintf("%v", ev.Error)})
			}
		}

		if text.Len() > 0 {
			lastMessage = text.String()
			e.emit(Event{Kind: EventAgentMessage, Message: lastMessage})
			e.sessions.AppendMessage(e.sessionID, session.Message{
				SessionID: e.sessionID,
				Role:      "assistant",
				Content:   lastMessage,
			})
		}

		if len(calls) == 0 {
			break
		}

		var toolResults []session.ToolResult
		for _, call := range calls {
			if e.tools.RequiresApproval(call.Name) {
				decision, err := e.requestApproval(ctx, call)
				if err != nil {
					e.emit(Event{Kind: EventTurnAborted})
					return
				}
				if decision != DecisionApprove {
					toolResults = append(toolResults, session.ToolResult{
						ToolCallID: call.ID,
						Content:    "denied by parent",
						IsError:    true,
					})
					if decision == DecisionAbort {
						e.emit(Event{Kind: EventTurnAborted})
						return
					}
					continue
				}
			}

			result := e.tools.Execute(ctx, &call)
			toolResults = append(toolResults, session.ToolResult{
				ToolCallID: call.ID,
				Content:    result.Content,
				IsError:    result.IsError,
			})
		}

		resultsJSON, _ := json.Marshal(toolResults)
		e.sessions.AppendMessage(e.sessionID, session.Message{
			SessionID:   e.sessionID,
			Role:        "tool",
			ToolResults: resultsJSON,
		})
	}

	e.emit(Event{Kind: EventTaskComplete, LastAgentMessage: lastMessage, HasLastAgentMessage: lastMessage != ""})
}

func (e *providerEngine) requestApproval(ctx context.Context, call ai.ToolCall) (ApprovalDecision, error) {
	decisionCh := make(chan ApprovalDecision, 1)
	e.pending <- pendingApproval{callID: call.ID, decision: decisionCh}

	if patchLikeTools[call.Name] {
		e.emit(Event{Kind: EventPatchApproval, PatchApproval: &PatchApprovalRequest{
			CallID:  call.ID,
			Changes: string(call.Input),
			Reason:  fmt.Sprintf("subagent requested %s", call.Name),
		}})
	} else {
		e.emit(Event{Kind: EventExecApproval, ExecApproval: &ExecApprovalRequest{
			CallID:  call.ID,
			Command: []string{call.Name},
			Reason:  fmt.Sprintf("subagent requested %s", call.Name),
		}})
	}

	select {
	case decision := <-decisionCh:
		return decision, nil
	case <-ctx.Done():
		return DecisionAbort, ctx.Err()
	}
}

func (e *providerEngine) emit(ev Event) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

func (e *providerEngine) NextEvent(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-e.events:
		if !ok {
			return Event{}, fmt.Errorf("subagent died: engine event stream closed")
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

func (e *providerEngine) Submit(ctx context.Context, op Op) error {
	switch op.Kind {
	case OpExecApproval, OpPatchApproval:
		select {
		case p := <-e.pending:
			if p.callID != op.ApprovalID && op.ApprovalID != "" {
				// Decision targets a different call id than the one outstanding;
				// put it back for its rightful recipient and report a mismatch.
				e.pending <- p
				return fmt.Errorf("approval id %q does not match outstanding request %q", op.ApprovalID, p.callID)
			}
			p.decision <- op.Decision
			return nil
		default:
			return fmt.Errorf("no outstanding approval request")
		}
	case OpInterrupt, OpShutdown:
		e.doneOnce.Do(func() { close(e.done) })
		return nil
	case OpUserInput:
		// The one-shot driver only submits the initial input, consumed by run().
		return nil
	default:
		return fmt.Errorf("unknown op kind %q", op.Kind)
	}
}

func filterTools(defs []ai.ToolDefinition, disabled []string) []ai.ToolDefinition {
	disabledSet := make(map[string]bool, len(disabled))
	for _, d := range disabled {
		disabledSet[d] = true
	}
	out := make([]ai.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		if !disabledSet[d.Name] {
			out = append(out, d)
		}
	}
	return out
}

// providerEngineFactory spawns providerEngine instances against a fixed
// provider/session/tool stack — one per subagent run, each with its own
// session row so conversations don't interleave.
type providerEngineFactory struct {
	provider ai.Provider
	sessions *session.Manager
	tools    ToolExecutor
	maxTurns int
}

// NewProviderEngineFactory constructs the default EngineFactory, spawning one
// provider-backed session per subagent run. maxTurns <= 0 defaults to 50.
func NewProviderEngineFactory(provider ai.Provider, sessions *session.Manager, tools ToolExecutor, maxTurns int) EngineFactory {
	if maxTurns <= 0 {
		maxTurns = 50
	}
	return &providerEngineFactory{provider: provider, sessions: sessions, tools: tools, maxTurns: maxTurns}
}

func (f *providerEngineFactory) Spawn(ctx context.Context, cfg *ChildConfig, initial []UserInput) (Engine, error) {
	sess, err := f.sessions.GetOrCreate(fmt.Sprintf("subagent-%s", newSessionSuffix()), "")
	if err != nil {
		return nil, fmt.Errorf("failed to create child session: %w", err)
	}

	engine := newProviderEngine(f.provider, f.sessions, f.tools, sess.ID, cfg, f.maxTurns)
	go engine.run(ctx, initial)
	return engine, nil
}
