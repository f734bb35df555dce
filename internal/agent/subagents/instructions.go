package subagents

import "fmt"

// baseInstructions builds the subagent base instruction template applied by
// the OneShotDriver. The scope line depends on mode.
func baseInstructions(label string, mode SubagentMode) string {
	scope := "you may propose changes and (if tools are enabled) apply them."
	if mode == ModeExplore {
		scope = "read-only exploration; do not modify files."
	}

	return fmt.Sprintf(`You are a focused subagent named "%s".
Your job is to help the parent session by producing concise, actionable results.

Requirements:
- Output: respond with only your final answer (no meta commentary).
- Scope: %s
- Efficiency: keep responses short; prefer checklists and concrete next steps.`, label, scope)
}

// delegateInstructions builds the delegate-specific template, differing from
// baseInstructions only in the tools line.
func delegateInstructions(label string, allowTools bool) string {
	toolsLine := "- Tools: Do not call tools. If you need data, request specific files/commands from the parent.\n"
	if allowTools {
		toolsLine = "- Tools: You may call tools if needed, but prefer minimal, read-only actions.\n"
	}

	return fmt.Sprintf(`You are a focused subagent named "%s".
Your job is to help the parent session by producing a concise, actionable result.

Requirements:
- Output: respond with only your final answer (no meta commentary).
- Scope: focus only on the delegated prompt.
%s- Efficiency: keep the response short; prefer checklists and concrete next steps.
`, label, toolsLine)
}
