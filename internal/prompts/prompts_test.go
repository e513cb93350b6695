package prompts

import (
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	for _, name := range []string{"persona", "tool_policy", "heartbeat"} {
		if strings.TrimSpace(Default(name)) == "" {
			t.Errorf("Default(%q) is empty", name)
		}
	}
	if Default("diary") != "" {
		t.Error("unknown document should have no default")
	}
}

func TestSystem(t *testing.T) {
	got := System("Be brief.", "", "- list_files: List files.")
	if !strings.HasPrefix(got, "Be brief.\n\n") {
		t.Errorf("persona not first: %q", got)
	}
	if !strings.Contains(got, "{{tool:NAME|arg=value|other=value}}") {
		t.Error("default tool policy missing")
	}
	if !strings.Contains(got, "Available tools:\n- list_files") {
		t.Error("tool list missing")
	}
}

func TestHeartbeat(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	got := Heartbeat("Check the garden.", now)
	want := "Check the garden.\n\nCurrent time: Saturday, 14 March 2026 09:30 UTC"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestToolResults(t *testing.T) {
	got := ToolResults([]string{"TOOL_RESULT a: 1", "TOOL_RESULT b: 2"})
	if !strings.Contains(got, "TOOL_RESULT a: 1\n\nTOOL_RESULT b: 2") {
		t.Errorf("got %q", got)
	}
}
