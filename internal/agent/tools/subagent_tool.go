package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neboloop/nebo/internal/agent/ai"
	"github.com/neboloop/nebo/internal/agent/subagents"
)

// registryExecutor adapts a *Registry to subagents.ToolExecutor so child
// sessions spawned by the subagent machinery can call the same tools as the
// parent, subject to the child's own tool-feature restrictions.
type registryExecutor struct {
	registry *Registry
}

func newRegistryExecutor(r *Registry) *registryExecutor {
	return &registryExecutor{registry: r}
}

func (e *registryExecutor) Execute(ctx context.Context, call *ai.ToolCall) *subagents.ToolCallResult {
	result := e.registry.Execute(ctx, call)
	return &subagents.ToolCallResult{Content: result.Content, IsError: result.IsError}
}

func (e *registryExecutor) List() []ai.ToolDefinition {
	return e.registry.List()
}

func (e *registryExecutor) RequiresApproval(name string) bool {
	return e.registry.RequiresApproval(name)
}

type subagentSpawnInput struct {
	AgentID           string   `json:"agent_id"`
	Mode              string   `json:"mode"`
	Label             string   `json:"label"`
	Prompt            string   `json:"prompt"`
	Skills            []string `json:"skills"`
	TimeoutMS         int64    `json:"timeout_ms"`
	ResumeRolloutPath string   `json:"resume_rollout_path"`
}

// SubagentSpawnTool implements subagent_spawn: queue a new child conversation.
type SubagentSpawnTool struct {
	registry *subagents.Registry
}

// NewSubagentSpawnTool constructs the subagent_spawn tool over a shared registry.
func NewSubagentSpawnTool(registry *subagents.Registry) *SubagentSpawnTool {
	return &SubagentSpawnTool{registry: registry}
}

func (t *SubagentSpawnTool) Name() string { return "subagent_spawn" }

func (t *SubagentSpawnTool) Description() string {
	return "Spawn an independent subagent conversation to work on a focused task in parallel. Returns an agent_id to poll for results."
}

func (t *SubagentSpawnTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"agent_id": {"type": "string", "description": "Optional stable identifier; auto-generated when omitted"},
			"mode": {"type": "string", "enum": ["explore", "general"], "description": "explore: read-only investigation. general: may propose and apply changes. Default: general"},
			"label": {"type": "string", "description": "Short human-readable label shown in subagent_list"},
			"prompt": {"type": "string", "description": "The task for the subagent to perform"},
			"skills": {"type": "array", "items": {"type": "string"}, "description": "Skill names to make available to the subagent"},
			"timeout_ms": {"type": "integer", "description": "Override the default per-agent timeout, in milliseconds"}
		},
		"required": ["prompt"]
	}`)
}

func (t *SubagentSpawnTool) RequiresApproval() bool { return false }

func (t *SubagentSpawnTool) Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error) {
	var params subagentSpawnInput
	if err := json.Unmarshal(input, &params); err != nil {
		return &ToolResult{Content: fmt.Sprintf("Failed to parse input: %v", err), IsError: true}, nil
	}

	mode := subagents.ModeGeneral
	if params.Mode != "" {
		parsed, ok := subagents.ParseSubagentMode(params.Mode)
		if !ok {
			return &ToolResult{Content: fmt.Sprintf("unrecognized mode %q", params.Mode), IsError: true}, nil
		}
		mode = parsed
	}

	resp, err := t.registry.Spawn(subagents.SpawnRequest{
		AgentID:   params.AgentID,
		Mode:      mode,
		Label:     params.Label,
		Prompt:    params.Prompt,
		Skills:    params.Skills,
		TimeoutMS: params.TimeoutMS,
	})
	if err != nil {
		return &ToolResult{Content: err.Error(), IsError: true}, nil
	}

	out, _ := json.Marshal(resp)
	return &ToolResult{Content: string(out)}, nil
}

type subagentResumeInput struct {
	AgentID           string   `json:"agent_id"`
	Mode              string   `json:"mode"`
	Label             string   `json:"label"`
	Prompt            string   `json:"prompt"`
	Skills            []string `json:"skills"`
	TimeoutMS         int64    `json:"timeout_ms"`
	ResumeRolloutPath string   `json:"resume_rollout_path"`
}

// SubagentResumeTool implements subagent_resume: re-queue a completed
// subagent's rollout with a follow-up prompt, under a fresh agent_id.
type SubagentResumeTool struct {
	registry *subagents.Registry
}

// NewSubagentResumeTool constructs the subagent_resume tool.
func NewSubagentResumeTool(registry *subagents.Registry) *SubagentResumeTool {
	return &SubagentResumeTool{registry: registry}
}

func (t *SubagentResumeTool) Name() string { return "subagent_resume" }

func (t *SubagentResumeTool) Description() string {
	return "Resume a previously completed subagent from its saved rollout with a follow-up prompt."
}

func (t *SubagentResumeTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"agent_id": {"type": "string", "description": "New identifier for the resumed agent; auto-generated when omitted"},
			"mode": {"type": "string", "enum": ["explore", "general"], "description": "explore: read-only investigation. general: may propose and apply changes. Default: general"},
			"label": {"type": "string", "description": "Short human-readable label shown in subagent_list"},
			"prompt": {"type": "string", "description": "Follow-up instruction for the resumed agent"},
			"skills": {"type": "array", "items": {"type": "string"}, "description": "Skill names to make available to the resumed agent"},
			"timeout_ms": {"type": "integer", "description": "Override the default per-agent timeout, in milliseconds"},
			"resume_rollout_path": {"type": "string", "description": "rollout_path returned by a prior subagent_poll/subagent_list call"}
		},
		"required": ["resume_rollout_path", "prompt"]
	}`)
}

func (t *SubagentResumeTool) RequiresApproval() bool { return false }

func (t *SubagentResumeTool) Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error) {
	var params subagentResumeInput
	if err := json.Unmarshal(input, &params); err != nil {
		return &ToolResult{Content: fmt.Sprintf("Failed to parse input: %v", err), IsError: true}, nil
	}
	if params.ResumeRolloutPath == "" {
		return &ToolResult{Content: "resume_rollout_path is required", IsError: true}, nil
	}

	mode := subagents.ModeGeneral
	if params.Mode != "" {
		parsed, ok := subagents.ParseSubagentMode(params.Mode)
		if !ok {
			return &ToolResult{Content: fmt.Sprintf("unrecognized mode %q", params.Mode), IsError: true}, nil
		}
		mode = parsed
	}

	resp, err := t.registry.Spawn(subagents.SpawnRequest{
		AgentID:           params.AgentID,
		Mode:              mode,
		Label:             params.Label,
		Prompt:            params.Prompt,
		Skills:            params.Skills,
		TimeoutMS:         params.TimeoutMS,
		ResumeRolloutPath: params.ResumeRolloutPath,
	})
	if err != nil {
		return &ToolResult{Content: err.Error(), IsError: true}, nil
	}

	out, _ := json.Marshal(resp)
	return &ToolResult{Content: string(out)}, nil
}

type subagentPollInput struct {
	AgentID  string `json:"agent_id"`
	AwaitMS  int64  `json:"await_ms"`
}

// SubagentPollTool implements subagent_poll: check on (and optionally await)
// a subagent's progress.
type SubagentPollTool struct {
	registry *subagents.Registry
}

// NewSubagentPollTool constructs the subagent_poll tool.
func NewSubagentPollTool(registry *subagents.Registry) *SubagentPollTool {
	return &SubagentPollTool{registry: registry}
}

func (t *SubagentPollTool) Name() string { return "subagent_poll" }

func (t *SubagentPollTool) Description() string {
	return "Check a subagent's current status and recent output. Optionally block up to await_ms waiting for a state change."
}

func (t *SubagentPollTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"agent_id": {"type": "string", "description": "The agent_id returned by subagent_spawn"},
			"await_ms": {"type": "integer", "description": "Block up to this many milliseconds for a state change before returning. Default 0 (return immediately)"}
		},
		"required": ["agent_id"]
	}`)
}

func (t *SubagentPollTool) RequiresApproval() bool { return false }

func (t *SubagentPollTool) Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error) {
	var params subagentPollInput
	if err := json.Unmarshal(input, &params); err != nil {
		return &ToolResult{Content: fmt.Sprintf("Failed to parse input: %v", err), IsError: true}, nil
	}

	resp, err := t.registry.Poll(ctx, params.AgentID, params.AwaitMS)
	if err != nil {
		return &ToolResult{Content: err.Error(), IsError: true}, nil
	}

	out, _ := json.Marshal(resp)
	return &ToolResult{Content: string(out)}, nil
}

type subagentCancelInput struct {
	AgentID string `json:"agent_id"`
}

// SubagentCancelTool implements subagent_cancel: request cooperative
// cancellation of a running subagent.
type SubagentCancelTool struct {
	registry *subagents.Registry
}

// NewSubagentCancelTool constructs the subagent_cancel tool.
func NewSubagentCancelTool(registry *subagents.Registry) *SubagentCancelTool {
	return &SubagentCancelTool{registry: registry}
}

func (t *SubagentCancelTool) Name() string { return "subagent_cancel" }

func (t *SubagentCancelTool) Description() string {
	return "Request cancellation of a running subagent. Cancellation is cooperative and may take a moment to take effect."
}

func (t *SubagentCancelTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"agent_id": {"type": "string", "description": "The agent_id to cancel"}
		},
		"required": ["agent_id"]
	}`)
}

func (t *SubagentCancelTool) RequiresApproval() bool { return false }

func (t *SubagentCancelTool) Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error) {
	var params subagentCancelInput
	if err := json.Unmarshal(input, &params); err != nil {
		return &ToolResult{Content: fmt.Sprintf("Failed to parse input: %v", err), IsError: true}, nil
	}

	if !t.registry.Cancel(params.AgentID) {
		return &ToolResult{Content: fmt.Sprintf("unknown agent id %q", params.AgentID), IsError: true}, nil
	}

	out, _ := json.Marshal(struct {
		Status string `json:"status"`
	}{Status: "cancelled"})
	return &ToolResult{Content: string(out)}, nil
}

// SubagentListTool implements subagent_list: enumerate every handle
// currently tracked by the registry.
type SubagentListTool struct {
	registry *subagents.Registry
}

// NewSubagentListTool constructs the subagent_list tool.
func NewSubagentListTool(registry *subagents.Registry) *SubagentListTool {
	return &SubagentListTool{registry: registry}
}

func (t *SubagentListTool) Name() string { return "subagent_list" }

func (t *SubagentListTool) Description() string {
	return "List every subagent currently tracked by the registry, with status and a snippet of their most recent output."
}

func (t *SubagentListTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *SubagentListTool) RequiresApproval() bool { return false }

func (t *SubagentListTool) Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error) {
	out, _ := json.Marshal(t.registry.List())
	return &ToolResult{Content: string(out)}, nil
}
