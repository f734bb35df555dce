package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neboloop/nebo/internal/agent/subagents"
)

type delegateInput struct {
	Prompt     string   `json:"prompt"`
	Label      string   `json:"label"`
	Skills     []string `json:"skills"`
	AllowTools bool     `json:"allow_tools"`
	TimeoutMS  int64    `json:"timeout_ms"`
}

// DelegateTool implements the delegate tool: a synchronous call-and-await
// convenience for a single focused subagent, bypassing the registry.
type DelegateTool struct {
	limiter                *subagents.Limiter
	factory                subagents.EngineFactory
	parent                 *subagents.ParentContext
	orchestrationTimeoutMS int64
	maxOutputChars         int
}

// NewDelegateTool constructs the delegate tool.
func NewDelegateTool(limiter *subagents.Limiter, factory subagents.EngineFactory, parent *subagents.ParentContext, orchestrationTimeoutMS int64, maxOutputChars int) *DelegateTool {
	return &DelegateTool{
		limiter:                limiter,
		factory:                factory,
		parent:                 parent,
		orchestrationTimeoutMS: orchestrationTimeoutMS,
		maxOutputChars:         maxOutputChars,
	}
}

func (t *DelegateTool) Name() string { return "delegate" }

func (t *DelegateTool) Description() string {
	return "Delegate a focused, self-contained task to a subagent and block until it finishes. Use for work that doesn't need to run in parallel with the rest of your turn."
}

func (t *DelegateTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"prompt": {"type": "string", "description": "The task to delegate"},
			"label": {"type": "string", "description": "Short human-readable label for logging"},
			"skills": {"type": "array", "items": {"type": "string"}, "description": "Skill names to make available to the delegate"},
			"allow_tools": {"type": "boolean", "description": "Allow the delegate to call tools. Default false (read-only, no tool calls)"},
			"timeout_ms": {"type": "integer", "description": "Override the default delegation timeout, in milliseconds"}
		},
		"required": ["prompt"]
	}`)
}

func (t *DelegateTool) RequiresApproval() bool { return false }

func (t *DelegateTool) Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error) {
	var params delegateInput
	if err := json.Unmarshal(input, &params); err != nil {
		return &ToolResult{Content: fmt.Sprintf("Failed to parse input: %v", err), IsError: true}, nil
	}

	result, err := subagents.Delegate(ctx, subagents.DelegateRequest{
		Prompt:     params.Prompt,
		Label:      params.Label,
		Skills:     params.Skills,
		AllowTools: params.AllowTools,
		TimeoutMS:  params.TimeoutMS,
	}, t.limiter, t.factory, t.parent, t.orchestrationTimeoutMS, t.maxOutputChars)
	if err != nil {
		return &ToolResult{Content: err.Error(), IsError: true}, nil
	}

	return &ToolResult{Content: result.Output}, nil
}
