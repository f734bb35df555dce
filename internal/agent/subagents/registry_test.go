package subagents

import (
	"context"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T, maxAgents int, engine Engine) *Registry {
	t.Helper()
	limiter := NewLimiter(4)
	factory := &scriptedFactory{engine: engine}
	forward := NewForwarder(&AutoApprover{})
	parent := &ParentContext{DefaultTimeoutMS: 5000}
	return NewRegistry(maxAgents, limiter, factory, forward, parent, 50, 1024, 1024)
}

func TestRegistrySpawnAssignsSanitizedID(t *testing.T) {
	engine := newScriptedEngine(
		Event{Kind: EventSessionConfigured},
		Event{Kind: EventTaskComplete, LastAgentMessage: "done", HasLastAgentMessage: true},
	)
	r := newTestRegistry(t, 10, engine)

	resp, err := r.Spawn(SpawnRequest{AgentID: "My Agent", Label: "Explorer One", Prompt: "go"})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	if resp.AgentID != "my-agent" {
		t.Errorf("AgentID = %q, want %q", resp.AgentID, "my-agent")
	}
	if resp.Label != "explorer-one" {
		t.Errorf("Label = %q, want %q", resp.Label, "explorer-one")
	}
}

func TestRegistrySpawnRejectsDuplicateID(t *testing.T) {
	engine := newScriptedEngine(Event{Kind: EventTaskComplete})
	r := newTestRegistry(t, 10, engine)

	if _, err := r.Spawn(SpawnRequest{AgentID: "dup", Prompt: "go"}); err != nil {
		t.Fatalf("first Spawn() error = %v", err)
	}
	if _, err := r.Spawn(SpawnRequest{AgentID: "dup", Prompt: "go"}); err == nil {
		t.Fatal("second Spawn() with the same id succeeded, want an error")
	}
}

func TestRegistrySpawnRejectsZeroCapacity(t *testing.T) {
	r := newTestRegistry(t, 0, nil)
	if _, err := r.Spawn(SpawnRequest{Prompt: "go"}); err == nil {
		t.Fatal("Spawn() with max_agents=0 succeeded, want an error")
	}
}

func TestRegistryPollWaitsForTerminal(t *testing.T) {
	engine := newScriptedEngine(
		Event{Kind: EventSessionConfigured},
		Event{Kind: EventTaskComplete, LastAgentMessage: "done", HasLastAgentMessage: true},
	)
	r := newTestRegistry(t, 10, engine)

	resp, err := r.Spawn(SpawnRequest{AgentID: "a1", Prompt: "go"})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = r.Poll(ctx, resp.AgentID, 500)
		if err != nil {
			t.Fatalf("Poll() error = %v", err)
		}
		if resp.Status.IsTerminal() {
			break
		}
	}

	if resp.Status != StatusComplete {
		t.Fatalf("Status = %q, want %q", resp.Status, StatusComplete)
	}
	if resp.FinalOutput != "done" {
		t.Errorf("FinalOutput = %q, want %q", resp.FinalOutput, "done")
	}
}

func TestRegistryPollUnknownAgent(t *testing.T) {
	r := newTestRegistry(t, 10, nil)
	if _, err := r.Poll(context.Background(), "nope", 0); err == nil {
		t.Fatal("Poll() for an unknown agent id succeeded, want an error")
	}
}

func TestRegistryCancelUnknownAgent(t *testing.T) {
	r := newTestRegistry(t, 10, nil)
	if r.Cancel("nope") {
		t.Fatal("Cancel() for an unknown agent id = true, want false")
	}
}

func TestRegistryListSortedByID(t *testing.T) {
	r := newTestRegistry(t, 10, nil)
	r.handles["b"] = NewHandle("b", "b", ModeGeneral, 10, 100, 100)
	r.handles["a"] = NewHandle("a", "a", ModeGeneral, 10, 100, 100)

	list := r.List()
	if len(list) != 2 || list[0].AgentID != "a" || list[1].AgentID != "b" {
		t.Fatalf("List() = %+v, want sorted [a, b]", list)
	}
}

func TestRegistryPruneOldestTerminalAtCapacity(t *testing.T) {
	r := newTestRegistry(t, 2, nil)

	old := NewHandle("old", "old", ModeGeneral, 10, 100, 100)
	old.setStatus(StatusComplete)
	r.handles["old"] = old

	fresh := NewHandle("fresh", "fresh", ModeGeneral, 10, 100, 100)
	fresh.setStatus(StatusRunning)
	r.handles["fresh"] = fresh

	engine := newScriptedEngine(Event{Kind: EventTaskComplete})
	r.factory = &scriptedFactory{engine: engine}

	if _, err := r.Spawn(SpawnRequest{AgentID: "new", Prompt: "go"}); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	if _, ok := r.handles["old"]; ok {
		t.Error("oldest terminal entry was not pruned")
	}
	if _, ok := r.handles["fresh"]; !ok {
		t.Error("non-terminal entry was pruned, want it kept")
	}
}

func TestRegistryAtCapacityNoTerminalFails(t *testing.T) {
	r := newTestRegistry(t, 1, nil)
	running := NewHandle("running", "running", ModeGeneral, 10, 100, 100)
	running.setStatus(StatusRunning)
	r.handles["running"] = running

	if _, err := r.Spawn(SpawnRequest{AgentID: "new", Prompt: "go"}); err == nil {
		t.Fatal("Spawn() at capacity with no terminal entries succeeded, want an error")
	}
}
