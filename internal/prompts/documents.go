package prompts

import (
	_ "embed"
	"strings"
)

//go:embed persona.md
var defaultPersona string

//go:embed tool_policy.md
var defaultToolPolicy string

//go:embed heartbeat.md
var defaultHeartbeat string

// Default returns the embedded text for a document name, or "" for an
// unknown name.
func Default(name string) string {
	switch name {
	case "persona":
		return defaultPersona
	case "tool_policy":
		return defaultToolPolicy
	case "heartbeat":
		return defaultHeartbeat
	}
	return ""
}

// Or returns text, or the embedded default for name when text is blank.
func Or(name, text string) string {
	if strings.TrimSpace(text) == "" {
		return Default(name)
	}
	return text
}
