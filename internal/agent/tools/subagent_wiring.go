package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/neboloop/nebo/internal/agent/ai"
	agentcfg "github.com/neboloop/nebo/internal/agent/config"
	"github.com/neboloop/nebo/internal/agent/session"
	"github.com/neboloop/nebo/internal/agent/skills"
	"github.com/neboloop/nebo/internal/agent/subagents"
)

// PolicyApprover adapts the parent session's existing *Policy (the same
// approval gate registry.Execute already applies to the parent's own tool
// calls) to subagents.ParentApprover, so a child's exec/patch requests reach
// the same stdin/web-UI approval prompt rather than a blanket auto-decision.
type PolicyApprover struct {
	policy *Policy
}

// NewPolicyApprover wraps policy as a subagents.ParentApprover.
func NewPolicyApprover(policy *Policy) *PolicyApprover {
	return &PolicyApprover{policy: policy}
}

func (a *PolicyApprover) RequestApproval(ctx context.Context, req subagents.ParentApprovalRequest) (subagents.ApprovalDecision, error) {
	var toolName string
	var input json.RawMessage

	switch {
	case req.Exec != nil:
		toolName = "bash"
		if len(req.Exec.Command) > 0 {
			toolName = req.Exec.Command[0]
		}
		payload, _ := json.Marshal(struct {
			Command []string `json:"command"`
			Cwd     string   `json:"cwd,omitempty"`
			Reason  string   `json:"reason,omitempty"`
		}{req.Exec.Command, req.Exec.Cwd, req.Exec.Reason})
		input = payload
	case req.Patch != nil:
		toolName = "apply_patch"
		payload, _ := json.Marshal(struct {
			Changes string `json:"changes"`
			Reason  string `json:"reason,omitempty"`
		}{req.Patch.Changes, req.Patch.Reason})
		input = payload
	default:
		return subagents.DecisionDeny, fmt.Errorf("tools: approval request %q has neither Exec nor Patch", req.ApprovalID)
	}

	approved, err := a.policy.RequestApproval(ctx, toolName, input)
	if err != nil {
		return subagents.DecisionDeny, err
	}
	if approved {
		return subagents.DecisionApprove, nil
	}
	return subagents.DecisionDeny, nil
}

// skillResolverAdapter adapts a *skills.Loader to subagents.SkillResolver,
// turning skill names into the UserInput entries a child session seeds its
// conversation with.
type skillResolverAdapter struct {
	loader *skills.Loader
}

func (a *skillResolverAdapter) Resolve(cwd string, names []string) (resolved []subagents.UserInput, missing []string) {
	for _, name := range names {
		skill, ok := a.loader.Get(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		resolved = append(resolved, subagents.UserInput{
			SkillName: skill.Name,
			SkillPath: skill.FilePath,
			Text:      skill.Template,
		})
	}
	return resolved, missing
}

// noopRolloutReader is the default RolloutReader: subagent_resume records a
// rollout path on the new handle's response but doesn't yet replay prior
// history into the resumed child's context.
type noopRolloutReader struct{}

func (noopRolloutReader) ReadRollout(path string) error { return nil }

// SubagentSystem bundles the live orchestration state so the registry and
// its tools can be wired into more than one call site (chat, interactive
// agent) without duplicating construction.
type SubagentSystem struct {
	Registry *subagents.Registry
	Limiter  *subagents.Limiter
	Factory  subagents.EngineFactory
	Forward  *subagents.Forwarder
	Parent   *subagents.ParentContext

	pruneCron *cronlib.Cron
}

// Close stops the background pruning tick. Safe to call on a nil receiver
// or one whose tick was never started.
func (s *SubagentSystem) Close() {
	if s == nil || s.pruneCron == nil {
		return
	}
	s.pruneCron.Stop()
}

// NewSubagentSystem builds the concurrency limiter, engine factory, approval
// forwarder, and capacity-bounded registry that back the subagent_* and
// delegate tools, wiring every knob through to cfg.Subagents.
func NewSubagentSystem(cfg *agentcfg.Config, sessions *session.Manager, providers []ai.Provider, registry *Registry, skillLoader *skills.Loader, approver subagents.ParentApprover, cwd string) *SubagentSystem {
	sc := cfg.Subagents

	limiter := subagents.Global(sc.ConcurrencyLimit)

	var provider ai.Provider
	if len(providers) > 0 {
		provider = providers[0]
	}
	factory := subagents.NewProviderEngineFactory(provider, sessions, newRegistryExecutor(registry), 0)

	if approver == nil {
		approver = &subagents.AutoApprover{}
	}
	forward := subagents.NewForwarder(approver)

	parent := &subagents.ParentContext{
		Cwd:              cwd,
		DefaultTimeoutMS: sc.DefaultTimeoutMS,
		Rollouts:         noopRolloutReader{},
	}
	if skillLoader != nil {
		parent.Skills = &skillResolverAdapter{loader: skillLoader}
	}

	maxAgents := sc.MaxAgents
	if maxAgents <= 0 {
		maxAgents = 64
	}
	maxEvents := sc.MaxEvents
	if maxEvents <= 0 {
		maxEvents = 50
	}
	maxEventChars := sc.MaxEventChars
	if maxEventChars <= 0 {
		maxEventChars = 4 * 1024
	}
	maxOutputChars := sc.MaxOutputChars
	if maxOutputChars <= 0 {
		maxOutputChars = 16 * 1024
	}

	reg := subagents.NewRegistry(maxAgents, limiter, factory, forward, parent, maxEvents, maxEventChars, maxOutputChars)

	pruneRetentionMS := sc.PruneRetentionMS
	if pruneRetentionMS <= 0 {
		pruneRetentionMS = 10 * 60 * 1000
	}
	pruneCron := cronlib.New()
	pruneCron.AddFunc("@every 1m", func() {
		reg.PruneStale(time.Duration(pruneRetentionMS) * time.Millisecond)
	})
	pruneCron.Start()

	return &SubagentSystem{
		Registry:  reg,
		Limiter:   limiter,
		Factory:   factory,
		Forward:   forward,
		Parent:    parent,
		pruneCron: pruneCron,
	}
}

// RegisterSubagentTools installs the subagent_spawn/resume/poll/cancel/list
// tools plus the synchronous delegate tool into registry.
func RegisterSubagentTools(registry *Registry, sys *SubagentSystem, cfg *agentcfg.Config) {
	registry.Register(NewSubagentSpawnTool(sys.Registry))
	registry.Register(NewSubagentResumeTool(sys.Registry))
	registry.Register(NewSubagentPollTool(sys.Registry))
	registry.Register(NewSubagentCancelTool(sys.Registry))
	registry.Register(NewSubagentListTool(sys.Registry))

	sc := cfg.Subagents
	orchestrationTimeoutMS := sc.OrchestrationTimeoutMS
	if orchestrationTimeoutMS <= 0 {
		orchestrationTimeoutMS = sc.DefaultTimeoutMS
	}
	maxOutputChars := sc.MaxOutputChars
	if maxOutputChars <= 0 {
		maxOutputChars = 16 * 1024
	}
	registry.Register(NewDelegateTool(sys.Limiter, sys.Factory, sys.Parent, orchestrationTimeoutMS, maxOutputChars))
}
