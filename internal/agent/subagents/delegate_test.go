package subagents

import (
	"context"
	"testing"
)

func TestDelegateReturnsFinalOutput(t *testing.T) {
	engine := newScriptedEngine(
		Event{Kind: EventSessionConfigured},
		Event{Kind: EventTaskComplete, LastAgentMessage: "the answer", HasLastAgentMessage: true},
	)
	factory := &scriptedFactory{engine: engine}
	limiter := NewLimiter(2)
	parent := &ParentContext{}

	result, err := Delegate(context.Background(), DelegateRequest{Prompt: "summarize this"}, limiter, factory, parent, 5000, 1024)
	if err != nil {
		t.Fatalf("Delegate() error = %v", err)
	}
	if result.Output != "the answer" {
		t.Errorf("Output = %q, want %q", result.Output, "the answer")
	}

	if factory.capturedCfg == nil || !factory.capturedCfg.ReadOnlySandbox {
		t.Error("Delegate() without AllowTools should spawn a read-only sandbox child")
	}
}

func TestDelegateRejectsEmptyPrompt(t *testing.T) {
	limiter := NewLimiter(1)
	factory := &scriptedFactory{}
	if _, err := Delegate(context.Background(), DelegateRequest{}, limiter, factory, &ParentContext{}, 1000, 1024); err == nil {
		t.Fatal("Delegate() with an empty prompt succeeded, want an error")
	}
}

func TestDelegateUnknownSkillFails(t *testing.T) {
	limiter := NewLimiter(1)
	factory := &scriptedFactory{}
	resolver := &fakeSkillResolver{missing: []string{"ghost"}}
	parent := &ParentContext{Skills: resolver}

	_, err := Delegate(context.Background(), DelegateRequest{Prompt: "go", Skills: []string{"ghost"}}, limiter, factory, parent, 1000, 1024)
	if err == nil {
		t.Fatal("Delegate() with an unknown skill succeeded, want an error")
	}
}

func TestDelegateChildErrorPropagates(t *testing.T) {
	engine := newScriptedEngine(
		Event{Kind: EventSessionConfigured},
		Event{Kind: EventError, ErrorMessage: "child crashed"},
	)
	factory := &scriptedFactory{engine: engine}
	limiter := NewLimiter(1)

	_, err := Delegate(context.Background(), DelegateRequest{Prompt: "go"}, limiter, factory, &ParentContext{}, 1000, 1024)
	if err == nil {
		t.Fatal("Delegate() with a child error event succeeded, want an error")
	}
}

type fakeSkillResolver struct {
	resolved []UserInput
	missing  []string
}

func (f *fakeSkillResolver) Resolve(cwd string, names []string) ([]UserInput, []string) {
	return f.resolved, f.missing
}
