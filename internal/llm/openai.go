package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/nugget/hearth/internal/httpkit"
)

// Default endpoints for the OpenAI-compatible backends.
const (
	openAIBaseURL = "https://api.openai.com/v1"
	xaiBaseURL    = "https://api.x.ai/v1"
	zaiBaseURL    = "https://api.z.ai/api/paas/v4"
)

// chatCompletions speaks the OpenAI /chat/completions dialect shared by
// OpenAI, xAI and z.ai.
type chatCompletions struct {
	kind       Kind
	defaultURL string
	httpClient *http.Client
	logger     *slog.Logger
}

type ccMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ccRequest struct {
	Model       string      `json:"model"`
	Messages    []ccMessage `json:"messages"`
	Temperature *float64    `json:"temperature,omitempty"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
	Stream      bool        `json:"stream"`
}

type ccResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *chatCompletions) Kind() Kind { return c.kind }

func (c *chatCompletions) Chat(ctx context.Context, creds Credentials, req Request) (string, error) {
	msgs := make([]ccMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, ccMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, ccMessage{Role: m.Role, Content: m.Content})
	}
	temp := req.Temperature
	body := ccRequest{Model: req.Model, Messages: msgs, Temperature: &temp}

	var out ccResponse
	if err := c.post(ctx, creds, body, &out); err != nil {
		return "", err
	}
	for _, ch := range out.Choices {
		if text := strings.TrimSpace(ch.Message.Content); text != "" {
			return text, nil
		}
	}
	return "", fmt.Errorf("%s: %w", c.kind, ErrEmptyReply)
}

func (c *chatCompletions) post(ctx context.Context, creds Credentials, body ccRequest, out *ccResponse) error {
	c.logger.Debug("chat request", "model", body.Model, "messages", len(body.Messages))
	req, err := httpkit.NewJSONRequest(ctx, http.MethodPost, baseURL(creds, c.defaultURL)+"/chat/completions", body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+creds.APIKey)
	return doJSON(c.httpClient, c.logger, c.kind, req, out)
}

func (c *chatCompletions) listModels(ctx context.Context, creds Credentials) ([]string, error) {
	req, err := httpkit.NewJSONRequest(ctx, http.MethodGet, baseURL(creds, c.defaultURL)+"/models", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.APIKey)

	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := doJSON(c.httpClient, c.logger, c.kind, req, &out); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(out.Data))
	for _, m := range out.Data {
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

// OpenAIAdapter serves OpenAI and xAI, which share the same API and
// both support model listing.
type OpenAIAdapter struct {
	chatCompletions
}

// NewOpenAI returns the adapter for api.openai.com.
func NewOpenAI(client *http.Client, logger *slog.Logger) *OpenAIAdapter {
	return newOpenAICompatible(OpenAI, openAIBaseURL, client, logger)
}

// NewXAI returns the adapter for api.x.ai.
func NewXAI(client *http.Client, logger *slog.Logger) *OpenAIAdapter {
	return newOpenAICompatible(XAI, xaiBaseURL, client, logger)
}

func newOpenAICompatible(kind Kind, base string, client *http.Client, logger *slog.Logger) *OpenAIAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIAdapter{chatCompletions{
		kind:       kind,
		defaultURL: base,
		httpClient: client,
		logger:     logger.With("provider", string(kind)),
	}}
}

// Validate lists models, which needs a valid key, and checks model is
// among them when one is given.
func (a *OpenAIAdapter) Validate(ctx context.Context, creds Credentials, model string) error {
	ids, err := a.listModels(ctx, creds)
	if err != nil {
		return err
	}
	if model == "" {
		return nil
	}
	for _, id := range ids {
		if id == model {
			return nil
		}
	}
	return fmt.Errorf("%s: model %q is not available to this key", a.kind, model)
}

// ListModels returns the model ids visible to the key.
func (a *OpenAIAdapter) ListModels(ctx context.Context, creds Credentials) ([]string, error) {
	return a.listModels(ctx, creds)
}

// ZAIAdapter serves z.ai's OpenAI-compatible endpoint. z.ai reports
// business errors with its own numeric codes and has no model listing.
type ZAIAdapter struct {
	chatCompletions
}

// NewZAI returns the adapter for api.z.ai.
func NewZAI(client *http.Client, logger *slog.Logger) *ZAIAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ZAIAdapter{chatCompletions{
		kind:       ZAI,
		defaultURL: zaiBaseURL,
		httpClient: client,
		logger:     logger.With("provider", string(ZAI)),
	}}
}

// Validate sends a one-token completion.
func (a *ZAIAdapter) Validate(ctx context.Context, creds Credentials, model string) error {
	body := ccRequest{
		Model:     model,
		Messages:  []ccMessage{{Role: RoleUser, Content: "ping"}},
		MaxTokens: 1,
	}
	var out ccResponse
	return a.post(ctx, creds, body, &out)
}
