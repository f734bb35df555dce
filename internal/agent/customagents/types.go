// Package customagents loads user- and repo-scoped custom subagent
// definitions from .md files with YAML frontmatter, and keeps them in sync
// with the filesystem.
package customagents

import (
	"path/filepath"

	"github.com/neboloop/nebo/internal/agent/subagents"
)

const (
	maxNameLen        = 64
	maxDescriptionLen = 1024
	maxPromptBytes    = 64 * 1024
	maxAllowedTools   = 128
	maxToolNameLen    = 128

	// AgentsDirName is the subdirectory name searched under both the
	// user-scope data dir and the repo-scope config dir.
	AgentsDirName = "agents"

	// RepoConfigDirName is the repo-root directory custom agents are
	// discovered under, mirroring the project's own dotfile convention.
	RepoConfigDirName = ".nebo"
)

// Scope distinguishes where a CustomAgent definition was found. Repo-scope
// agents take precedence over user-scope agents sharing the same name.
type Scope string

const (
	ScopeUser Scope = "user"
	ScopeRepo Scope = "repo"
)

// ToolsPolicy controls which tools a custom agent's child session exposes.
type ToolsPolicy struct {
	// Kind is one of "inherit", "none", or "allowlist".
	Kind      string
	Allowlist []string
}

var (
	ToolsInherit = ToolsPolicy{Kind: "inherit"}
	ToolsNone    = ToolsPolicy{Kind: "none"}
)

func toolsAllowlist(names []string) ToolsPolicy {
	return ToolsPolicy{Kind: "allowlist", Allowlist: names}
}

// CustomAgent is a parsed agent definition ready to be used as a spawn
// template.
type CustomAgent struct {
	Name        string
	Description string
	Path        string
	Scope       Scope
	Model       string
	Mode        subagents.SubagentMode
	HasMode     bool
	Tools       ToolsPolicy
	Prompt      string
}

// LoadError records a single file's failure to parse, without aborting the
// rest of the directory scan.
type LoadError struct {
	Path    string
	Message string
}

func (e LoadError) Error() string {
	return e.Path + ": " + e.Message
}

func userAgentsRoot(dataDir string) string {
	return filepath.Join(dataDir, AgentsDirName)
}

func repoAgentsRoot(repoRoot string) string {
	return filepath.Join(repoRoot, RepoConfigDirName, AgentsDirName)
}
