package subagents

import (
	"context"
	"fmt"
	"time"
)

// disabledExploreTools are the tool features turned off for Explore-mode
// children.
var disabledExploreTools = []string{
	"apply_patch",
	"unified_exec",
	"bash",
	"shell_snapshot",
	"view_image",
	"web_search",
}

// SpawnRequest carries the parameters of a single subagent spawn, shared by
// AgentRegistry.Spawn and the Delegate Adapter.
type SpawnRequest struct {
	AgentID           string
	Mode              SubagentMode
	Label             string
	Prompt            string
	Skills            []string
	TimeoutMS         int64
	ResumeRolloutPath string
}

// SkillResolver resolves skill names against the catalog scoped to a cwd.
// Out of scope for this package; consumed as an interface.
type SkillResolver interface {
	Resolve(cwd string, names []string) (resolved []UserInput, missing []string)
}

// RolloutReader reads a prior rollout's history for resume, out of scope
// for this package beyond its consumed shape.
type RolloutReader interface {
	ReadRollout(path string) error
}

// ParentContext is the slice of parent state the driver needs to derive a
// child configuration and resolve skills — everything else about the
// parent session/turn is out of scope.
type ParentContext struct {
	DeveloperInstructions string
	Cwd                   string
	DefaultTimeoutMS      int64
	Skills                SkillResolver
	Rollouts              RolloutReader
}

// driver runs the OneShotDriver lifecycle for a single handle. It is always
// launched in its own goroutine by AgentRegistry.Spawn.
type driver struct {
	handle  *Handle
	req     *SpawnRequest
	parent  *ParentContext
	limiter *Limiter
	factory EngineFactory
	forward *Forwarder

	engine            Engine
	pendingFirstEvent *Event
	permitHeld        bool
}

func deriveChildConfig(req *SpawnRequest, parent *ParentContext) *ChildConfig {
	instructions := baseInstructions(req.Label, req.Mode)
	if parent.DeveloperInstructions != "" {
		instructions = parent.DeveloperInstructions + "\n\n" + instructions
	}

	cfg := &ChildConfig{
		Mode:                  req.Mode,
		DeveloperInstructions: instructions,
		SkillsEnabled:         len(req.Skills) > 0,
	}

	if req.Mode == ModeExplore {
		cfg.ReadOnlySandbox = true
		cfg.ToolsDisabled = disabledExploreTools
	}

	return cfg
}

// run executes the full lifecycle: Queued -> Running/Startup -> Running/Active
// -> terminal. It never panics the process; driver-internal errors always
// resolve to a terminal Handle status.
func (d *driver) run(ctx context.Context) {
	timeoutMS := d.req.TimeoutMS
	if timeoutMS <= 0 {
		timeoutMS = d.parent.DefaultTimeoutMS
	}
	deadline := time.Duration(timeoutMS) * time.Millisecond

	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.handle.pushEvent(fmt.Sprintf("subagent driver panic: %v", r))
			d.handle.setFinalOutputIfEmpty(fmt.Sprintf("internal error: %v", r))
			d.handle.setStatus(StatusError)
		}
		if d.permitHeld {
			d.limiter.Release()
		}
	}()

	if !d.startup(runCtx) {
		return
	}

	d.activePump(runCtx)

	if d.handle.Status() == StatusRunning && runCtx.Err() != nil {
		d.handle.Cancel()
		d.handle.pushEvent(fmt.Sprintf("timed out after %dms", timeoutMS))
		d.handle.setStatus(StatusError)
		d.shutdownEngine()
	}
}

// shutdownEngine best-effort tears down the child's engine on a terminal
// path that didn't already get a chance to submit Interrupt/Shutdown itself
// (e.g. the deadline firing between activePump's reads). Uses a detached
// context since runCtx may already be expired; providerEngine's
// Interrupt/Shutdown handling doesn't block on it.
func (d *driver) shutdownEngine() {
	if d.engine == nil {
		return
	}
	_ = d.engine.Submit(context.Background(), Op{Kind: OpInterrupt})
	_ = d.engine.Submit(context.Background(), Op{Kind: OpShutdown})
}

// startup performs permit acquisition through the initial Engine submit.
// Returns false if the child never reached Running (cancelled pre-permit or
// a startup error occurred); true means the caller should proceed to the
// active event pump with d.engine populated.
func (d *driver) startup(ctx context.Context) bool {
	if !d.limiter.Acquire(ctx, d.handle.CancelSignal()) {
		d.handle.setStatus(StatusAborted)
		return false
	}
	d.permitHeld = true

	d.handle.setStatus(StatusRunning)
	d.handle.pushEvent("running")

	cfg := deriveChildConfig(d.req, d.parent)

	if d.req.ResumeRolloutPath != "" && d.parent.Rollouts != nil {
		if err := d.parent.Rollouts.ReadRollout(d.req.ResumeRolloutPath); err != nil {
			d.fail(fmt.Sprintf("failed to resume rollout: %v", err))
			return false
		}
	}

	inputs := []UserInput{{Text: d.req.Prompt}}
	if len(d.req.Skills) > 0 {
		var missing []string
		var resolved []UserInput
		if d.parent.Skills != nil {
			resolved, missing = d.parent.Skills.Resolve(d.parent.Cwd, d.req.Skills)
		} else {
			missing = d.req.Skills
		}
		if len(missing) > 0 {
			d.fail(fmt.Sprintf("unknown skills requested: %v", missing))
			return false
		}
		inputs = append(inputs, resolved...)
	}

	engine, err := d.factory.Spawn(ctx, cfg, inputs)
	if err != nil {
		d.fail(fmt.Sprintf("failed to spawn engine: %v", err))
		return false
	}
	d.engine = engine

	// Await SessionConfigured up to a fixed startup budget; if it doesn't
	// arrive in time, continue — it may still arrive via the main pump.
	startupCtx, cancelStartup := context.WithTimeout(ctx, 2*time.Second)
	defer cancelStartup()
	ev, err := engine.NextEvent(startupCtx)
	if err == nil && ev.Kind == EventSessionConfigured {
		d.handle.setRolloutPath(ev.RolloutPath)
	} else if err == nil {
		// Not SessionConfigured: stash it for the active pump to handle.
		d.pendingFirstEvent = &ev
	}

	if err := engine.Submit(ctx, Op{Kind: OpUserInput, Inputs: inputs}); err != nil {
		d.fail(fmt.Sprintf("failed to submit prompt: %v", err))
		return false
	}

	return true
}

func (d *driver) fail(msg string) {
	d.handle.pushEvent(msg)
	d.handle.setFinalOutputIfEmpty(msg)
	d.handle.setStatus(StatusError)
}

// activePump drives the engine's event stream to a terminal Handle status,
// racing cancellation at every read.
func (d *driver) activePump(ctx context.Context) {
	turns := &turnCounter{}

	handleEvent := func(ev Event) (terminal bool) {
		switch ev.Kind {
		case EventSessionConfigured:
			d.handle.setRolloutPath(ev.RolloutPath)
		case EventExecApproval:
			cancel, err := d.forward.ForwardExec(ctx, d.handle, d.engine, ev.ExecApproval, turns.next())
			if err != nil {
				d.fail(fmt.Sprintf("approval forwarding failed: %v", err))
				return true
			}
			if cancel {
				d.handle.Cancel()
			}
		case EventPatchApproval:
			cancel, err := d.forward.ForwardPatch(ctx, d.handle, d.engine, ev.PatchApproval, turns.next())
			if err != nil {
				d.fail(fmt.Sprintf("approval forwarding failed: %v", err))
				return true
			}
			if cancel {
				d.handle.Cancel()
			}
		case EventAgentMessage:
			d.handle.pushEvent(ev.Message)
		case EventError, EventStreamError:
			d.handle.pushEvent(fmt.Sprintf("error: %s", ev.ErrorMessage))
			d.handle.setFinalOutput(ev.ErrorMessage)
			d.handle.setStatus(StatusError)
			// Keep looping: TaskComplete may still arrive.
		case EventTaskComplete:
			if d.handle.Status() != StatusError {
				d.handle.setStatus(StatusComplete)
			}
			if ev.HasLastAgentMessage {
				if d.handle.Status() == StatusError {
					d.handle.setFinalOutputIfEmpty(ev.LastAgentMessage)
				} else {
					d.handle.setFinalOutput(ev.LastAgentMessage)
				}
			}
			d.handle.pushEvent("complete")
			d.engine.Submit(ctx, Op{Kind: OpShutdown})
			return true
		case EventTurnAborted:
			d.handle.setStatus(StatusAborted)
			d.handle.pushEvent("aborted")
			d.engine.Submit(ctx, Op{Kind: OpShutdown})
			return true
		}
		return false
	}

	if d.pendingFirstEvent != nil {
		ev := *d.pendingFirstEvent
		d.pendingFirstEvent = nil
		if handleEvent(ev) {
			return
		}
	}

	for {
		select {
		case <-d.handle.CancelSignal():
			d.engine.Submit(ctx, Op{Kind: OpInterrupt})
			d.engine.Submit(context.Background(), Op{Kind: OpShutdown})
			if d.handle.Status() == StatusRunning {
				d.handle.setStatus(StatusAborted)
				d.handle.pushEvent("cancelled")
			}
			return
		default:
		}

		type result struct {
			ev  Event
			err error
		}
		resultCh := make(chan result, 1)
		go func() {
			ev, err := d.engine.NextEvent(ctx)
			resultCh <- result{ev, err}
		}()

		select {
		case <-d.handle.CancelSignal():
			d.engine.Submit(ctx, Op{Kind: OpInterrupt})
			d.engine.Submit(context.Background(), Op{Kind: OpShutdown})
			if d.handle.Status() == StatusRunning {
				d.handle.setStatus(StatusAborted)
				d.handle.pushEvent("cancelled")
			}
			return
		case r := <-resultCh:
			if r.err != nil {
				d.fail(fmt.Sprintf("subagent died: %v", r.err))
				d.shutdownEngine()
				return
			}
			if handleEvent(r.ev) {
				return
			}
		}
	}
}
