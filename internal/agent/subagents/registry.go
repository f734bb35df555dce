package subagents

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PollResponse is the caller-facing projection of a Handle, returned by
// Spawn, Poll, and List.
type PollResponse struct {
	AgentID      string         `json:"agent_id"`
	Label        string         `json:"label"`
	Mode         SubagentMode   `json:"mode"`
	Status       SubagentStatus `json:"status"`
	RolloutPath  string         `json:"rollout_path,omitempty"`
	FinalOutput  string         `json:"final_output,omitempty"`
	RecentEvents []string       `json:"recent_events,omitempty"`
}

func responseFromSnapshot(s Snapshot) PollResponse {
	return PollResponse{
		AgentID:      s.ID,
		Label:        s.Label,
		Mode:         s.Mode,
		Status:       s.Status,
		RolloutPath:  s.RolloutPath,
		FinalOutput:  s.FinalOutput,
		RecentEvents: s.RecentEvents,
	}
}

// Registry is the process-wide, capacity-bounded table of subagent handles.
// It owns the OneShotDriver goroutines it launches.
type Registry struct {
	mu       sync.Mutex
	handles  map[string]*Handle
	maxAgents int

	limiter *Limiter
	factory EngineFactory
	forward *Forwarder
	parent  *ParentContext

	defaultMaxEvents     int
	defaultMaxEventChars int
	defaultMaxOutputChars int
}

// NewRegistry constructs a Registry. maxAgents <= 0 is rejected by Spawn as a
// capacity misconfiguration rather than silently treated as unlimited.
func NewRegistry(maxAgents int, limiter *Limiter, factory EngineFactory, forward *Forwarder, parent *ParentContext, maxEvents, maxEventChars, maxOutputChars int) *Registry {
	return &Registry{
		handles:               make(map[string]*Handle),
		maxAgents:             maxAgents,
		limiter:               limiter,
		factory:               factory,
		forward:               forward,
		parent:                parent,
		defaultMaxEvents:      maxEvents,
		defaultMaxEventChars:  maxEventChars,
		defaultMaxOutputChars: maxOutputChars,
	}
}

// Spawn registers a new handle and launches its driver. On success the
// returned response reflects the handle immediately after queuing (status
// is typically still Queued or has already moved to Running).
func (r *Registry) Spawn(req SpawnRequest) (*PollResponse, error) {
	if r.maxAgents <= 0 {
		return nil, fmt.Errorf("subagents: registry capacity misconfigured (max_agents=%d)", r.maxAgents)
	}

	mode := req.Mode
	if mode == "" {
		mode = ModeGeneral
	}

	var id string
	if req.AgentID != "" {
		id = sanitizeID(req.AgentID, maxIDLen)
		if id == "" {
			return nil, fmt.Errorf("subagents: agent_id %q is invalid after sanitization", req.AgentID)
		}
	} else {
		id = sanitizeID(uuid.New().String(), maxIDLen)
	}

	label := sanitizeLabel(req.Label, maxLabelLen)
	if label == "" {
		label = defaultLabel
	}

	r.mu.Lock()
	if _, exists := r.handles[id]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("subagents: agent id %q already exists", id)
	}

	if len(r.handles) >= r.maxAgents {
		if !r.pruneOldestTerminalLocked() {
			r.mu.Unlock()
			return nil, fmt.Errorf("subagents: registry at capacity (%d agents) and no terminal entry to evict", r.maxAgents)
		}
	}

	h := NewHandle(id, label, mode, r.defaultMaxEvents, r.defaultMaxEventChars, r.defaultMaxOutputChars)
	r.handles[id] = h
	r.mu.Unlock()

	req.AgentID = id
	req.Label = label
	req.Mode = mode

	d := &driver{
		handle:  h,
		req:     &req,
		parent:  r.parent,
		limiter: r.limiter,
		factory: r.factory,
		forward: r.forward,
	}
	go d.run(context.Background())

	resp := responseFromSnapshot(h.Snapshot())
	return &resp, nil
}

// pruneOldestTerminalLocked evicts the terminal entry with the oldest
// last_update, if any exists. Callers must hold r.mu.
func (r *Registry) pruneOldestTerminalLocked() bool {
	var oldestID string
	var oldestTime time.Time
	for id, h := range r.handles {
		snap := h.Snapshot()
		if !snap.Status.IsTerminal() {
			continue
		}
		if oldestID == "" || snap.LastUpdate.Before(oldestTime) {
			oldestID = id
			oldestTime = snap.LastUpdate
		}
	}
	if oldestID == "" {
		return false
	}
	delete(r.handles, oldestID)
	return true
}

// PruneStale evicts every terminal handle whose last update is older than
// maxAge, regardless of capacity pressure. Unlike pruneOldestTerminalLocked
// (which only evicts one entry, lazily, when Spawn hits maxAgents), this is
// meant to be called on a schedule so terminal entries don't linger between
// spawns. Returns the number of handles evicted.
func (r *Registry) PruneStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted int
	for id, h := range r.handles {
		snap := h.Snapshot()
		if !snap.Status.IsTerminal() {
			continue
		}
		if snap.LastUpdate.Before(cutoff) {
			delete(r.handles, id)
			evicted++
		}
	}
	return evicted
}

// Poll waits up to awaitMS for a state change before returning the handle's
// current snapshot. awaitMS <= 0 returns immediately. Returns an error if
// agentID is unknown.
func (r *Registry) Poll(ctx context.Context, agentID string, awaitMS int64) (*PollResponse, error) {
	h, ok := r.lookup(agentID)
	if !ok {
		return nil, fmt.Errorf("subagents: unknown agent id %q", agentID)
	}

	remaining := time.Duration(awaitMS) * time.Millisecond
	for {
		snap := h.Snapshot()
		if snap.Status.IsTerminal() || remaining <= 0 {
			resp := responseFromSnapshot(snap)
			return &resp, nil
		}

		waitStart := time.Now()
		timer := time.NewTimer(remaining)
		select {
		case <-h.changeSignal():
			timer.Stop()
			remaining -= time.Since(waitStart)
		case <-timer.C:
			resp := responseFromSnapshot(h.Snapshot())
			return &resp, nil
		case <-ctx.Done():
			timer.Stop()
			resp := responseFromSnapshot(h.Snapshot())
			return &resp, ctx.Err()
		}
	}
}

// Cancel trips cancellation on the named handle. Idempotent; returns false
// only when agentID is unknown.
func (r *Registry) Cancel(agentID string) bool {
	h, ok := r.lookup(agentID)
	if !ok {
		return false
	}
	h.Cancel()
	return true
}

// List returns a snapshot of every handle currently in the registry, sorted
// by agent id for deterministic output.
func (r *Registry) List() []PollResponse {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	out := make([]PollResponse, 0, len(handles))
	for _, h := range handles {
		out = append(out, responseFromSnapshot(h.Snapshot()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

func (r *Registry) lookup(agentID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[agentID]
	return h, ok
}
