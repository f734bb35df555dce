// Package subagents implements the subagent orchestration core: a process-wide
// registry of short-lived child conversations ("subagents"), the one-shot
// lifecycle driver that runs each of them, and the synchronous delegate
// convenience built on top of it.
package subagents

import (
	"strings"
	"unicode/utf8"
)

// SubagentMode is the policy bundle applied at child configuration time.
type SubagentMode string

const (
	ModeExplore SubagentMode = "explore"
	ModeGeneral SubagentMode = "general"
)

// ParseSubagentMode parses a mode string using its recognised synonyms.
// The second return value is false when the string matches no synonym.
func ParseSubagentMode(s string) (SubagentMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "explore", "explorer", "read-only", "readonly":
		return ModeExplore, true
	case "general", "default", "worker":
		return ModeGeneral, true
	default:
		return "", false
	}
}

// String returns the canonical synonym for m, used to round-trip via ParseSubagentMode.
func (m SubagentMode) String() string {
	switch m {
	case ModeExplore:
		return "explore"
	case ModeGeneral:
		return "general"
	default:
		return string(m)
	}
}

// SubagentStatus is a point in the subagent lifecycle. The zero value is not
// a valid status; always start a handle at StatusQueued.
type SubagentStatus string

const (
	StatusQueued    SubagentStatus = "queued"
	StatusRunning   SubagentStatus = "running"
	StatusComplete  SubagentStatus = "complete"
	StatusAborted   SubagentStatus = "aborted"
	StatusError     SubagentStatus = "error"
)

// rank orders statuses for the monotonic partial order Queued < Running < terminal.
// Terminal statuses all share the same rank: once reached, status never regresses
// and never moves between terminals.
var statusRank = map[SubagentStatus]int{
	StatusQueued:   0,
	StatusRunning:  1,
	StatusComplete: 2,
	StatusAborted:  2,
	StatusError:    2,
}

// IsTerminal reports whether s is one of {Complete, Aborted, Error}.
func (s SubagentStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusAborted || s == StatusError
}

// canTransition reports whether moving from `from` to `to` respects the
// monotonic partial order. Terminal-to-terminal transitions are rejected
// even when equal rank, since a terminal status must never change once set.
func canTransition(from, to SubagentStatus) bool {
	if from.IsTerminal() {
		return false
	}
	return statusRank[to] >= statusRank[from]
}

const defaultLabel = "subagent"

// sanitizeID sanitizes a caller-supplied agent_id or label to the charset
// `[a-z0-9_-]`, folding case and mapping separators, capped at maxLen bytes.
// Spaces, '/', and ':' become '-'; every other disallowed rune is dropped.
func sanitizeID(raw string, maxLen int) string {
	return sanitize(raw, maxLen, true)
}

// sanitizeLabel sanitizes a caller-supplied label to `[a-z0-9._-]`, capped at maxLen.
func sanitizeLabel(raw string, maxLen int) string {
	return sanitize(raw, maxLen, false)
}

func sanitize(raw string, maxLen int, idCharset bool) string {
	trimmed := strings.TrimSpace(raw)
	var out strings.Builder
	for _, r := range trimmed {
		if out.Len() >= maxLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			out.WriteRune(r)
		case r == '.' && !idCharset:
			out.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			out.WriteRune(r - 'A' + 'a')
		case r == ' ' || r == '/' || r == ':':
			out.WriteRune('-')
		default:
			// dropped
		}
	}
	return out.String()
}

// truncateAtCharBoundary caps s at n bytes, backing off to the last valid
// UTF-8 rune boundary rather than splitting a multi-byte rune.
func truncateAtCharBoundary(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
