package customagents

import (
	"os"
	"path/filepath"
	"testing"
)

func writeAgentFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestLoaderLoadsFromUserScope(t *testing.T) {
	home := t.TempDir()
	writeAgentFile(t, userAgentsRoot(home), "scout.md", "---\ndescription: a scout\n---\nExplore the repo.")

	l := NewLoader(home, "")
	if err := l.LoadAll(); err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}

	agent, ok := l.Get("scout")
	if !ok {
		t.Fatal("Get(\"scout\") not found")
	}
	if agent.Scope != ScopeUser {
		t.Errorf("Scope = %q, want %q", agent.Scope, ScopeUser)
	}
}

func TestLoaderRepoOverridesUser(t *testing.T) {
	home := t.TempDir()
	repo := t.TempDir()
	writeAgentFile(t, userAgentsRoot(home), "a.md", "user prompt")
	writeAgentFile(t, repoAgentsRoot(repo), "a.md", "repo prompt")

	l := NewLoader(home, repo)
	if err := l.LoadAll(); err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}

	agent, ok := l.Get("a")
	if !ok {
		t.Fatal("Get(\"a\") not found")
	}
	if agent.Scope != ScopeRepo {
		t.Errorf("Scope = %q, want %q (repo should override user)", agent.Scope, ScopeRepo)
	}
	if agent.Prompt != "repo prompt" {
		t.Errorf("Prompt = %q, want %q", agent.Prompt, "repo prompt")
	}
}

func TestLoaderRecordsPerFileErrors(t *testing.T) {
	home := t.TempDir()
	writeAgentFile(t, userAgentsRoot(home), "bad.md", "---\nname: [bad yaml\n---\nbody")
	writeAgentFile(t, userAgentsRoot(home), "good.md", "---\ndescription: fine\n---\nok")

	l := NewLoader(home, "")
	if err := l.LoadAll(); err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}

	if len(l.Errors()) != 1 {
		t.Fatalf("len(Errors()) = %d, want 1", len(l.Errors()))
	}
	if _, ok := l.Get("good"); !ok {
		t.Error("the valid agent alongside a broken one was not loaded")
	}
}

func TestLoaderMissingDirsAreNotErrors(t *testing.T) {
	l := NewLoader(t.TempDir(), "")
	if err := l.LoadAll(); err != nil {
		t.Fatalf("LoadAll() error = %v, want nil when the agents dir does not exist", err)
	}
	if len(l.List()) != 0 {
		t.Errorf("List() = %+v, want empty", l.List())
	}
}

func TestLoaderListSortedByName(t *testing.T) {
	home := t.TempDir()
	writeAgentFile(t, userAgentsRoot(home), "zeta.md", "---\ndescription: z\n---\nz")
	writeAgentFile(t, userAgentsRoot(home), "alpha.md", "---\ndescription: a\n---\na")

	l := NewLoader(home, "")
	if err := l.LoadAll(); err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}

	list := l.List()
	if len(list) != 2 || list[0].Name != "alpha" || list[1].Name != "zeta" {
		t.Fatalf("List() = %+v, want sorted [alpha, zeta]", list)
	}
}
