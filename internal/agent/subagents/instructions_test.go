package subagents

import (
	"strings"
	"testing"
)

func TestBaseInstructionsScopeByMode(t *testing.T) {
	explore := baseInstructions("scout", ModeExplore)
	if !strings.Contains(explore, "read-only") {
		t.Error("explore instructions missing read-only scope line")
	}
	if strings.Contains(explore, "propose changes") {
		t.Error("explore instructions should not mention proposing changes")
	}

	general := baseInstructions("worker", ModeGeneral)
	if !strings.Contains(general, "propose changes") {
		t.Error("general instructions missing the propose-changes scope line")
	}
}

func TestDelegateInstructionsToolsLine(t *testing.T) {
	noTools := delegateInstructions("d", false)
	if !strings.Contains(noTools, "Do not call tools") {
		t.Error("delegate instructions with allowTools=false should forbid tool calls")
	}

	withTools := delegateInstructions("d", true)
	if !strings.Contains(withTools, "You may call tools") {
		t.Error("delegate instructions with allowTools=true should permit tool calls")
	}
}
