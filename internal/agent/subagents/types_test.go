package subagents

import "testing"

func TestParseSubagentMode(t *testing.T) {
	tests := []struct {
		in      string
		want    SubagentMode
		wantOk  bool
	}{
		{"explore", ModeExplore, true},
		{"Explorer", ModeExplore, true},
		{" read-only ", ModeExplore, true},
		{"readonly", ModeExplore, true},
		{"general", ModeGeneral, true},
		{"DEFAULT", ModeGeneral, true},
		{"worker", ModeGeneral, true},
		{"bogus", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseSubagentMode(tt.in)
		if ok != tt.wantOk || got != tt.want {
			t.Errorf("ParseSubagentMode(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOk)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to SubagentStatus
		want     bool
	}{
		{StatusQueued, StatusRunning, true},
		{StatusQueued, StatusComplete, true},
		{StatusRunning, StatusComplete, true},
		{StatusRunning, StatusAborted, true},
		{StatusRunning, StatusError, true},
		{StatusRunning, StatusQueued, false},
		{StatusComplete, StatusRunning, false},
		{StatusComplete, StatusError, false},
		{StatusError, StatusComplete, false},
	}

	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("canTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestSanitizeID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"My Agent", "my-agent"},
		{"Foo/Bar:Baz", "foo-bar-baz"},
		{"already-ok_123", "already-ok_123"},
		{"has.dots", "hasdots"},
		{"  spaced  ", "spaced"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := sanitizeID(tt.in, maxIDLen); got != tt.want {
			t.Errorf("sanitizeID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeIDTruncates(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "a"
	}
	got := sanitizeID(long, maxIDLen)
	if len(got) != maxIDLen {
		t.Errorf("len(sanitizeID(long)) = %d, want %d", len(got), maxIDLen)
	}
}

func TestSanitizeLabelKeepsDots(t *testing.T) {
	if got := sanitizeLabel("v1.2.3", maxLabelLen); got != "v1.2.3" {
		t.Errorf("sanitizeLabel(%q) = %q, want %q", "v1.2.3", got, "v1.2.3")
	}
}

func TestTruncateAtCharBoundary(t *testing.T) {
	s := "héllo" // 'é' is 2 bytes in UTF-8
	if got := truncateAtCharBoundary(s, 2); got != "h" {
		t.Errorf("truncateAtCharBoundary(%q, 2) = %q, want %q", s, got, "h")
	}
	if got := truncateAtCharBoundary(s, 100); got != s {
		t.Errorf("truncateAtCharBoundary(%q, 100) = %q, want %q", s, got, s)
	}
	if got := truncateAtCharBoundary(s, 0); got != "" {
		t.Errorf("truncateAtCharBoundary(%q, 0) = %q, want empty", s, got)
	}
}
