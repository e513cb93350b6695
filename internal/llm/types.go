// Package llm is the provider gateway: one stateless adapter per model
// backend, each turning a common {role, content} conversation into that
// backend's own wire format and normalizing its replies and failures.
package llm

import (
	"context"
	"fmt"
	"log/slog"
)

// levelTrace is below Debug and is used for wire-level payload logging.
const levelTrace = slog.Level(-8)

// Kind identifies a provider backend.
type Kind string

const (
	OpenAI    Kind = "openai"
	Anthropic Kind = "anthropic"
	XAI       Kind = "xai"
	ZAI       Kind = "zai"
	Ollama    Kind = "ollama"
)

// Kinds lists every supported backend.
var Kinds = []Kind{OpenAI, Anthropic, XAI, ZAI, Ollama}

// ParseKind validates a provider name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownKind, s)
}

// NeedsAPIKey reports whether k authenticates with an API key. Ollama
// is addressed by base URL only.
func (k Kind) NeedsAPIKey() bool { return k != Ollama }

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Credentials are what an adapter needs to reach its backend. BaseURL
// overrides the adapter default when set.
type Credentials struct {
	APIKey  string
	BaseURL string
}

// Request is a normalized chat call.
type Request struct {
	Model       string
	Temperature float64
	System      string
	Messages    []Message
}

// Adapter is implemented once per backend.
type Adapter interface {
	Kind() Kind
	// Chat returns the assistant's reply text.
	Chat(ctx context.Context, creds Credentials, req Request) (string, error)
	// Validate checks that creds work for model.
	Validate(ctx context.Context, creds Credentials, model string) error
}

// ModelLister is implemented by backends that can enumerate models.
type ModelLister interface {
	ListModels(ctx context.Context, creds Credentials) ([]string, error)
}
