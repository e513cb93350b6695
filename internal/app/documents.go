package app

import (
	"fmt"
	"strings"

	"github.com/nugget/hearth/internal/audit"
	"github.com/nugget/hearth/internal/prompts"
	"github.com/nugget/hearth/internal/threads"
)

// Document returns the effective text of a named document: the stored
// override, then the configured file, then the built-in default.
func (ac *AgentContext) Document(name string) string {
	if s := ac.Threads.Document(name); strings.TrimSpace(s) != "" {
		return s
	}
	return prompts.Or(name, ac.documents[name])
}

// Documents returns the effective text of every document.
func (ac *AgentContext) Documents() map[string]string {
	out := make(map[string]string, len(threads.DocumentNames))
	for _, n := range threads.DocumentNames {
		out[n] = ac.Document(n)
	}
	return out
}

// SetDocument stores an override. Blank text restores the default.
func (ac *AgentContext) SetDocument(name, text string) error {
	if err := ac.Threads.SetDocument(name, text); err != nil {
		return err
	}
	verb := "updated"
	if strings.TrimSpace(text) == "" {
		verb = "reset"
	}
	ac.Audit.Record(audit.TypeSettings, fmt.Sprintf("document %s %s", name, verb))
	return nil
}
