package customagents

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/neboloop/nebo/internal/agent/subagents"
	"gopkg.in/yaml.v3"
)

type agentFrontmatter struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Role        string      `yaml:"role"`
	Model       string      `yaml:"model"`
	Mode        string      `yaml:"mode"`
	Tools       interface{} `yaml:"tools"`
}

// splitFrontmatter splits a markdown file's content into its YAML
// frontmatter block and body. Frontmatter is only recognized when the file
// opens with a line containing exactly "---" AND a later line closes it
// with exactly "---"; an opening delimiter with no closing delimiter means
// the entire file is treated as the prompt body, frontmatter absent.
func splitFrontmatter(content string) (frontmatter string, body string, hasFrontmatter bool) {
	lines := strings.SplitAfter(content, "\n")
	if len(lines) == 0 {
		return "", content, false
	}

	firstLine := strings.TrimRight(lines[0], "\r\n")
	if strings.TrimSpace(firstLine) != "---" {
		return "", content, false
	}

	var fm strings.Builder
	consumed := len(lines[0])
	closed := false

	for _, seg := range lines[1:] {
		line := strings.TrimRight(seg, "\r\n")
		consumed += len(seg)
		if strings.TrimSpace(line) == "---" {
			closed = true
			break
		}
		fm.WriteString(line)
		fm.WriteByte('\n')
	}

	if !closed {
		return "", content, false
	}

	rest := ""
	if consumed < len(content) {
		rest = content[consumed:]
	}

	return fm.String(), rest, true
}

func sanitizeAgentName(raw string) string {
	trimmed := strings.TrimSpace(raw)
	var out strings.Builder
	for _, r := range trimmed {
		if out.Len() >= maxNameLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			out.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			out.WriteRune(r - 'A' + 'a')
		case r == ' ' || r == '/' || r == ':':
			out.WriteRune('-')
		}
	}
	return out.String()
}

func sanitizeDescription(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	return truncateBytes(trimmed, maxDescriptionLen)
}

func sanitizeModel(raw string) string {
	return strings.TrimSpace(raw)
}

func parseMode(raw string) (subagents.SubagentMode, bool) {
	if strings.TrimSpace(raw) == "" {
		return "", false
	}
	return subagents.ParseSubagentMode(raw)
}

func parseToolsPolicy(raw interface{}) ToolsPolicy {
	switch v := raw.(type) {
	case nil:
		return ToolsInherit
	case bool:
		if v {
			return ToolsInherit
		}
		return ToolsNone
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "", "inherit", "default", "all":
			return ToolsInherit
		case "none", "off", "disabled", "read-only", "readonly":
			return ToolsNone
		default:
			return ToolsInherit
		}
	case []interface{}:
		var names []string
		for _, item := range v {
			if len(names) >= maxAllowedTools {
				break
			}
			s, ok := item.(string)
			if !ok {
				continue
			}
			trimmed := strings.TrimSpace(s)
			if trimmed == "" || len(trimmed) > maxToolNameLen {
				continue
			}
			names = append(names, strings.ToLower(trimmed))
		}
		if len(names) == 0 {
			return ToolsInherit
		}
		return toolsAllowlist(names)
	default:
		return ToolsInherit
	}
}

func sanitizePrompt(body string) string {
	return truncateBytes(body, maxPromptBytes)
}

func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// parseAgentFile parses a single .md file's raw content into a CustomAgent,
// falling back to the file stem as the name when frontmatter omits one.
func parseAgentFile(path, fileStem, content string, scope Scope) (*CustomAgent, error) {
	fm, body, hasFrontmatter := splitFrontmatter(content)

	var front agentFrontmatter
	if hasFrontmatter {
		if err := yaml.Unmarshal([]byte(fm), &front); err != nil {
			return nil, fmt.Errorf("invalid YAML frontmatter: %w", err)
		}
	}

	name := sanitizeAgentName(front.Name)
	if name == "" {
		name = sanitizeAgentName(fileStem)
	}
	if name == "" {
		return nil, fmt.Errorf("missing or invalid agent name")
	}

	description := sanitizeDescription(front.Description)
	if description == "" {
		description = sanitizeDescription(front.Role)
	}

	mode, hasMode := parseMode(front.Mode)

	return &CustomAgent{
		Name:        name,
		Description: description,
		Path:        path,
		Scope:       scope,
		Model:       sanitizeModel(front.Model),
		Mode:        mode,
		HasMode:     hasMode,
		Tools:       parseToolsPolicy(front.Tools),
		Prompt:      sanitizePrompt(body),
	}, nil
}
