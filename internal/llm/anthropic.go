package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nugget/hearth/internal/httpkit"
)

const (
	anthropicBaseURL    = "https://api.anthropic.com"
	anthropicAPIVersion = "2023-06-01"
	anthropicMaxTokens  = 2048
)

// AnthropicAdapter speaks the Anthropic Messages API.
type AnthropicAdapter struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropic returns the Messages API adapter.
func NewAnthropic(client *http.Client, logger *slog.Logger) *AnthropicAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnthropicAdapter{
		httpClient: client,
		logger:     logger.With("provider", string(Anthropic)),
	}
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

func (a *AnthropicAdapter) Kind() Kind { return Anthropic }

func (a *AnthropicAdapter) newRequest(ctx context.Context, creds Credentials, method, path string, body any) (*http.Request, error) {
	req, err := httpkit.NewJSONRequest(ctx, method, baseURL(creds, anthropicBaseURL)+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", creds.APIKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	return req, nil
}

// Chat sends a non-streaming Messages request. Anthropic requires the
// conversation to start with a user turn and to alternate, so adjacent
// same-role turns are merged.
func (a *AnthropicAdapter) Chat(ctx context.Context, creds Credentials, r Request) (string, error) {
	temp := min(r.Temperature, 1.0)
	body := anthropicRequest{
		Model:       r.Model,
		System:      r.System,
		Messages:    alternate(r.Messages),
		MaxTokens:   anthropicMaxTokens,
		Temperature: &temp,
	}
	a.logger.Debug("chat request", "model", r.Model, "messages", len(body.Messages))

	req, err := a.newRequest(ctx, creds, http.MethodPost, "/v1/messages", body)
	if err != nil {
		return "", err
	}
	var out anthropicResponse
	if err := doJSON(a.httpClient, a.logger, Anthropic, req, &out); err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("%s: %w", Anthropic, ErrEmptyReply)
	}
	return text, nil
}

func alternate(msgs []Message) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(msgs))
	for _, m := range msgs {
		if len(out) == 0 && m.Role != RoleUser {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// Validate lists models with the key and, when model is given, checks
// it is among them.
func (a *AnthropicAdapter) Validate(ctx context.Context, creds Credentials, model string) error {
	ids, err := a.ListModels(ctx, creds)
	if err != nil {
		return err
	}
	if model == "" {
		return nil
	}
	for _, id := range ids {
		if id == model || strings.HasPrefix(id, model+"-") {
			return nil
		}
	}
	return fmt.Errorf("%s: model %q is not available to this key", Anthropic, model)
}

// ListModels returns the model ids visible to the key.
func (a *AnthropicAdapter) ListModels(ctx context.Context, creds Credentials) ([]string, error) {
	req, err := a.newRequest(ctx, creds, http.MethodGet, "/v1/models?limit=100", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := doJSON(a.httpClient, a.logger, Anthropic, req, &out); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(out.Data))
	for _, m := range out.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}
