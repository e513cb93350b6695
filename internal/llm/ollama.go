package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nugget/hearth/internal/httpkit"
)

// DefaultOllamaURL is used when no base URL is configured.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaAdapter talks to a local Ollama server. It needs no API key and
// deliberately does not implement [ModelLister].
type OllamaAdapter struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllama returns the Ollama adapter.
func NewOllama(client *http.Client, logger *slog.Logger) *OllamaAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaAdapter{
		httpClient: client,
		logger:     logger.With("provider", string(Ollama)),
	}
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaChatResponse struct {
	Model   string  `json:"model"`
	Message Message `json:"message"`
	Done    bool    `json:"done"`
}

func (o *OllamaAdapter) Kind() Kind { return Ollama }

func (o *OllamaAdapter) Chat(ctx context.Context, creds Credentials, r Request) (string, error) {
	msgs := make([]Message, 0, len(r.Messages)+1)
	if r.System != "" {
		msgs = append(msgs, Message{Role: "system", Content: r.System})
	}
	msgs = append(msgs, r.Messages...)

	body := ollamaChatRequest{
		Model:    r.Model,
		Messages: msgs,
		Options:  &ollamaOptions{Temperature: r.Temperature},
	}
	o.logger.Debug("chat request", "model", r.Model, "messages", len(msgs))

	req, err := httpkit.NewJSONRequest(ctx, http.MethodPost, baseURL(creds, DefaultOllamaURL)+"/api/chat", body)
	if err != nil {
		return "", err
	}
	var out ollamaChatResponse
	if err := doJSON(o.httpClient, o.logger, Ollama, req, &out); err != nil {
		return "", err
	}
	text := strings.TrimSpace(out.Message.Content)
	if text == "" {
		return "", fmt.Errorf("%s: %w", Ollama, ErrEmptyReply)
	}
	return text, nil
}

// Validate checks the server answers and has model pulled.
func (o *OllamaAdapter) Validate(ctx context.Context, creds Credentials, model string) error {
	req, err := httpkit.NewJSONRequest(ctx, http.MethodGet, baseURL(creds, DefaultOllamaURL)+"/api/tags", nil)
	if err != nil {
		return err
	}
	var out struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := doJSON(o.httpClient, o.logger, Ollama, req, &out); err != nil {
		return err
	}
	if model == "" {
		return nil
	}
	for _, m := range out.Models {
		if m.Name == model || strings.TrimSuffix(m.Name, ":latest") == model {
			return nil
		}
	}
	return fmt.Errorf("%s: model %q has not been pulled", Ollama, model)
}
