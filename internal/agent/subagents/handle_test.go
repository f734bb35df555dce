package subagents

import (
	"strings"
	"testing"
)

func TestHandleStatusTransitions(t *testing.T) {
	h := NewHandle("a1", "agent", ModeGeneral, 10, 100, 100)
	if h.Status() != StatusQueued {
		t.Fatalf("initial Status() = %q, want %q", h.Status(), StatusQueued)
	}

	h.setStatus(StatusRunning)
	if h.Status() != StatusRunning {
		t.Fatalf("Status() = %q, want %q", h.Status(), StatusRunning)
	}

	h.setStatus(StatusComplete)
	if h.Status() != StatusComplete {
		t.Fatalf("Status() = %q, want %q", h.Status(), StatusComplete)
	}

	// A terminal status must never regress or change, even to another terminal.
	h.setStatus(StatusError)
	if h.Status() != StatusComplete {
		t.Fatalf("Status() changed after terminal: got %q, want %q", h.Status(), StatusComplete)
	}
}

func TestHandlePushEventEvictsOldest(t *testing.T) {
	h := NewHandle("a1", "agent", ModeGeneral, 3, 100, 100)
	h.pushEvent("one")
	h.pushEvent("two")
	h.pushEvent("three")
	h.pushEvent("four")

	snap := h.Snapshot()
	want := []string{"two", "three", "four"}
	if len(snap.RecentEvents) != len(want) {
		t.Fatalf("len(RecentEvents) = %d, want %d", len(snap.RecentEvents), len(want))
	}
	for i, w := range want {
		if snap.RecentEvents[i] != w {
			t.Errorf("RecentEvents[%d] = %q, want %q", i, snap.RecentEvents[i], w)
		}
	}
}

func TestHandlePushEventTruncates(t *testing.T) {
	h := NewHandle("a1", "agent", ModeGeneral, 10, 5, 100)
	h.pushEvent("this is a long event message")
	snap := h.Snapshot()
	if len(snap.RecentEvents) != 1 {
		t.Fatalf("len(RecentEvents) = %d, want 1", len(snap.RecentEvents))
	}
	if len(snap.RecentEvents[0]) > 5 {
		t.Errorf("RecentEvents[0] = %q, exceeds cap of 5 bytes", snap.RecentEvents[0])
	}
}

func TestHandleSetFinalOutputIfEmpty(t *testing.T) {
	h := NewHandle("a1", "agent", ModeGeneral, 10, 100, 100)
	h.setFinalOutputIfEmpty("first")
	h.setFinalOutputIfEmpty("second")
	if h.Snapshot().FinalOutput != "first" {
		t.Errorf("FinalOutput = %q, want %q", h.Snapshot().FinalOutput, "first")
	}

	h2 := NewHandle("a2", "agent", ModeGeneral, 10, 100, 100)
	h2.setFinalOutput("first")
	h2.setFinalOutputIfEmpty("second")
	if h2.Snapshot().FinalOutput != "first" {
		t.Errorf("FinalOutput = %q, want %q", h2.Snapshot().FinalOutput, "first")
	}
}

func TestHandleSetFinalOutputTruncates(t *testing.T) {
	h := NewHandle("a1", "agent", ModeGeneral, 10, 100, 4)
	h.setFinalOutput("hello world")
	if got := h.Snapshot().FinalOutput; len(got) > 4 {
		t.Errorf("FinalOutput = %q, exceeds cap of 4 bytes", got)
	}
}

func TestHandleCancelIdempotent(t *testing.T) {
	h := NewHandle("a1", "agent", ModeGeneral, 10, 100, 100)
	if h.Cancelled() {
		t.Fatal("Cancelled() = true before Cancel()")
	}

	h.Cancel()
	if !h.Cancelled() {
		t.Fatal("Cancelled() = false after Cancel()")
	}

	select {
	case <-h.CancelSignal():
	default:
		t.Fatal("CancelSignal() not closed after Cancel()")
	}

	// Second call must not panic (closing an already-closed channel would).
	h.Cancel()
}

func TestHandleSnapshotIsDefensiveCopy(t *testing.T) {
	h := NewHandle("a1", "agent", ModeGeneral, 10, 100, 100)
	h.pushEvent("one")
	snap := h.Snapshot()
	snap.RecentEvents[0] = "mutated"

	snap2 := h.Snapshot()
	if snap2.RecentEvents[0] != "one" {
		t.Fatalf("Snapshot() leaked internal slice: RecentEvents[0] = %q, want %q", snap2.RecentEvents[0], "one")
	}
}

func TestHandleChangeSignalFiresOnMutation(t *testing.T) {
	h := NewHandle("a1", "agent", ModeGeneral, 10, 100, 100)
	sig := h.changeSignal()
	h.pushEvent("x")
	select {
	case <-sig:
	default:
		t.Fatal("changeSignal() channel not closed after pushEvent")
	}
}

func TestSanitizeIDCharsetVsLabelCharset(t *testing.T) {
	if strings.Contains(sanitizeID("a.b", maxIDLen), ".") {
		t.Error("sanitizeID should drop '.' from the id charset")
	}
	if !strings.Contains(sanitizeLabel("a.b", maxLabelLen), ".") {
		t.Error("sanitizeLabel should keep '.' in the label charset")
	}
}
