package subagents

import (
	"sync"
	"time"
)

const (
	maxIDLen    = 64
	maxLabelLen = 48
)

// Handle is the in-registry record exposing a subagent's observable state.
// Identity fields are immutable after construction; everything else is
// guarded by mu. A Handle is shared between the registry entry and the
// driver goroutine that runs it — never between two driver goroutines.
type Handle struct {
	// Identity (immutable)
	ID            string
	Label         string
	Mode          SubagentMode
	CreatedAt     time.Time
	MaxEvents     int
	MaxEventChars int
	MaxOutputChars int

	mu           sync.Mutex
	status       SubagentStatus
	rolloutPath  string
	finalOutput  string
	recentEvents []string
	lastUpdate   time.Time
	cancelled    bool
	cancelCh     chan struct{}

	// changed is closed exactly once, the instant cancel is tripped or the
	// handle reaches a terminal status, to wake any poll() waiting on it.
	// A fresh channel is installed after each mutation so future waiters
	// block on the next change rather than the one they already observed.
	changedMu sync.Mutex
	changed   chan struct{}
}

// NewHandle constructs a Handle in the initial Queued status.
func NewHandle(id, label string, mode SubagentMode, maxEvents, maxEventChars, maxOutputChars int) *Handle {
	return &Handle{
		ID:             id,
		Label:          label,
		Mode:           mode,
		CreatedAt:      time.Now(),
		MaxEvents:      maxEvents,
		MaxEventChars:  maxEventChars,
		MaxOutputChars: maxOutputChars,
		status:         StatusQueued,
		changed:        make(chan struct{}),
		cancelCh:       make(chan struct{}),
	}
}

// notify closes the current change channel and installs a fresh one. Callers
// must hold mu when calling notify so state mutation and the wake-up are
// observed together by any re-snapshotting waiter.
func (h *Handle) notify() {
	h.changedMu.Lock()
	close(h.changed)
	h.changed = make(chan struct{})
	h.changedMu.Unlock()
}

// changeSignal returns the channel that closes on the next state change.
func (h *Handle) changeSignal() <-chan struct{} {
	h.changedMu.Lock()
	defer h.changedMu.Unlock()
	return h.changed
}

// Snapshot is an immutable point-in-time view of a Handle's state.
type Snapshot struct {
	ID           string
	Label        string
	Mode         SubagentMode
	Status       SubagentStatus
	RolloutPath  string
	FinalOutput  string
	RecentEvents []string
	LastUpdate   time.Time
}

// Snapshot takes a consistent copy of the handle's current mutable state.
func (h *Handle) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	events := make([]string, len(h.recentEvents))
	copy(events, h.recentEvents)
	return Snapshot{
		ID:           h.ID,
		Label:        h.Label,
		Mode:         h.Mode,
		Status:       h.status,
		RolloutPath:  h.rolloutPath,
		FinalOutput:  h.finalOutput,
		RecentEvents: events,
		LastUpdate:   h.lastUpdate,
	}
}

// Status returns the current status without a full snapshot.
func (h *Handle) Status() SubagentStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// setStatus moves the handle to a new status, enforcing the monotonic
// partial order. Transitions that would regress status are silently
// ignored — the caller is a driver racing cancellation and must not panic
// the process over a stale transition attempt.
func (h *Handle) setStatus(s SubagentStatus) {
	h.mu.Lock()
	if !canTransition(h.status, s) {
		h.mu.Unlock()
		return
	}
	h.status = s
	h.lastUpdate = time.Now()
	h.mu.Unlock()
	h.notify()
}

// setRolloutPath records the Engine's rollout path once known.
func (h *Handle) setRolloutPath(path string) {
	h.mu.Lock()
	h.rolloutPath = path
	h.lastUpdate = time.Now()
	h.mu.Unlock()
	h.notify()
}

// setFinalOutput sets final_output, capped at a rune boundary to MaxOutputChars.
// Per invariant, callers must only call this once status is or is becoming
// Complete or Error.
func (h *Handle) setFinalOutput(output string) {
	h.mu.Lock()
	h.finalOutput = truncateAtCharBoundary(output, h.MaxOutputChars)
	h.lastUpdate = time.Now()
	h.mu.Unlock()
}

// setFinalOutputIfEmpty fills final_output only if it is still unset — used
// when a TaskComplete arrives after a prior Error already captured a message.
func (h *Handle) setFinalOutputIfEmpty(output string) {
	h.mu.Lock()
	if h.finalOutput == "" {
		h.finalOutput = truncateAtCharBoundary(output, h.MaxOutputChars)
	}
	h.lastUpdate = time.Now()
	h.mu.Unlock()
}

// pushEvent appends an event to the bounded FIFO ring, evicting the oldest
// entry once MaxEvents is exceeded, and truncates the event itself at a
// rune boundary to MaxEventChars.
func (h *Handle) pushEvent(text string) {
	capped := truncateAtCharBoundary(text, h.MaxEventChars)
	h.mu.Lock()
	h.recentEvents = append(h.recentEvents, capped)
	if over := len(h.recentEvents) - h.MaxEvents; over > 0 {
		h.recentEvents = h.recentEvents[over:]
	}
	h.lastUpdate = time.Now()
	h.mu.Unlock()
	h.notify()
}

// Cancel trips the cancellation flag. Idempotent; a no-op once already
// cancelled or already terminal.
func (h *Handle) Cancel() {
	h.mu.Lock()
	if h.cancelled {
		h.mu.Unlock()
		return
	}
	h.cancelled = true
	close(h.cancelCh)
	h.mu.Unlock()
	h.notify()
}

// Cancelled reports whether Cancel has been called.
func (h *Handle) Cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

// CancelSignal returns a channel that closes exactly once, the instant
// Cancel is called. Every suspension point in the driver races this signal
// against its primary future; cancellation always wins ties.
func (h *Handle) CancelSignal() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelCh
}
