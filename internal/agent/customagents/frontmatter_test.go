package customagents

import "testing"

func TestSplitFrontmatterClosed(t *testing.T) {
	content := "---\nname: a\nmode: explore\n---\nbody text\n"
	fm, body, ok := splitFrontmatter(content)
	if !ok {
		t.Fatal("splitFrontmatter() ok = false, want true")
	}
	if fm != "name: a\nmode: explore\n" {
		t.Errorf("frontmatter = %q", fm)
	}
	if body != "body text\n" {
		t.Errorf("body = %q", body)
	}
}

func TestSplitFrontmatterUnclosedIsNoFrontmatter(t *testing.T) {
	content := "---\nname: a\nno closing delimiter"
	fm, body, ok := splitFrontmatter(content)
	if ok {
		t.Fatal("splitFrontmatter() ok = true for an unclosed block, want false")
	}
	if fm != "" {
		t.Errorf("frontmatter = %q, want empty", fm)
	}
	if body != content {
		t.Errorf("body = %q, want the entire original content", body)
	}
}

func TestSplitFrontmatterNoOpeningDelimiter(t *testing.T) {
	content := "just a plain prompt\nwith no frontmatter\n"
	_, body, ok := splitFrontmatter(content)
	if ok {
		t.Fatal("splitFrontmatter() ok = true with no opening delimiter, want false")
	}
	if body != content {
		t.Errorf("body = %q, want the original content", body)
	}
}

func TestSanitizeAgentName(t *testing.T) {
	if got := sanitizeAgentName("My Agent/Name"); got != "my-agent-name" {
		t.Errorf("sanitizeAgentName() = %q", got)
	}
	if got := sanitizeAgentName("   "); got != "" {
		t.Errorf("sanitizeAgentName(blank) = %q, want empty", got)
	}
}

func TestParseToolsPolicyVariants(t *testing.T) {
	if got := parseToolsPolicy(nil); got.Kind != "inherit" {
		t.Errorf("parseToolsPolicy(nil) = %+v, want inherit", got)
	}
	if got := parseToolsPolicy(false); got.Kind != "none" {
		t.Errorf("parseToolsPolicy(false) = %+v, want none", got)
	}
	if got := parseToolsPolicy("readonly"); got.Kind != "none" {
		t.Errorf("parseToolsPolicy(readonly) = %+v, want none", got)
	}
	got := parseToolsPolicy([]interface{}{"read_file", "list_dir"})
	if got.Kind != "allowlist" || len(got.Allowlist) != 2 {
		t.Errorf("parseToolsPolicy(list) = %+v, want allowlist of 2", got)
	}
}

func TestParseAgentFileFallsBackToFileStem(t *testing.T) {
	agent, err := parseAgentFile("/tmp/repo-scout.md", "repo-scout", "---\ndescription: repo agent\nmode: explore\ntools: none\n---\nHello", ScopeRepo)
	if err != nil {
		t.Fatalf("parseAgentFile() error = %v", err)
	}
	if agent.Name != "repo-scout" {
		t.Errorf("Name = %q, want %q", agent.Name, "repo-scout")
	}
	if agent.Description != "repo agent" {
		t.Errorf("Description = %q, want %q", agent.Description, "repo agent")
	}
	if !agent.HasMode || agent.Mode.String() != "explore" {
		t.Errorf("Mode = %+v, want explore", agent)
	}
	if agent.Tools.Kind != "none" {
		t.Errorf("Tools = %+v, want none", agent.Tools)
	}
	if agent.Prompt != "Hello" {
		t.Errorf("Prompt = %q, want %q", agent.Prompt, "Hello")
	}
}

func TestParseAgentFileRejectsMissingName(t *testing.T) {
	_, err := parseAgentFile("/tmp/???.md", "", "no frontmatter at all", ScopeUser)
	if err == nil {
		t.Fatal("parseAgentFile() with an empty name succeeded, want an error")
	}
}

func TestParseAgentFileInvalidYAML(t *testing.T) {
	_, err := parseAgentFile("/tmp/a.md", "a", "---\nname: [unterminated\n---\nbody", ScopeUser)
	if err == nil {
		t.Fatal("parseAgentFile() with invalid YAML frontmatter succeeded, want an error")
	}
}
