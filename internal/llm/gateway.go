package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nugget/hearth/internal/httpkit"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 90 * time.Second

// FallbackRule names a model to retry once with when Provider reports a
// capacity or rate-limit failure for Model.
type FallbackRule struct {
	Provider      Kind
	Model         string
	FallbackModel string
}

// DefaultFallbacks is the built-in fallback table.
var DefaultFallbacks = []FallbackRule{
	{Provider: ZAI, Model: "glm-5", FallbackModel: "glm-4.7"},
}

// Reply is the outcome of a successful gateway chat call.
type Reply struct {
	Text string
	// Model is the model that produced Text.
	Model string
	// PersistModel is set when Model is a fallback that the caller
	// should store as the provider's new default.
	PersistModel bool
}

// Gateway selects the adapter for a provider and applies the per-call
// timeout and the fallback table. Apart from a single fallback retry it
// never retries.
type Gateway struct {
	adapters  map[Kind]Adapter
	fallbacks []FallbackRule
	timeout   time.Duration
	logger    *slog.Logger
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithFallbacks replaces the fallback table. A nil table disables
// fallback.
func WithFallbacks(rules []FallbackRule) GatewayOption {
	return func(g *Gateway) { g.fallbacks = rules }
}

// WithAdapter installs or replaces the adapter for a.Kind().
func WithAdapter(a Adapter) GatewayOption {
	return func(g *Gateway) { g.adapters[a.Kind()] = a }
}

// WithHTTPClient rebuilds the standard adapters around client.
func WithHTTPClient(client *http.Client) GatewayOption {
	return func(g *Gateway) { g.installDefaults(client) }
}

// NewGateway returns a gateway with all five standard adapters.
func NewGateway(logger *slog.Logger, opts ...GatewayOption) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		adapters:  make(map[Kind]Adapter, len(Kinds)),
		fallbacks: DefaultFallbacks,
		timeout:   DefaultTimeout,
		logger:    logger.With("component", "gateway"),
	}
	// Calls are bounded by per-call contexts; the client timeout is a
	// backstop for anything that escapes them.
	g.installDefaults(httpkit.NewClient(httpkit.WithTimeout(5 * time.Minute)))
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Gateway) installDefaults(client *http.Client) {
	g.adapters[OpenAI] = NewOpenAI(client, g.logger)
	g.adapters[XAI] = NewXAI(client, g.logger)
	g.adapters[ZAI] = NewZAI(client, g.logger)
	g.adapters[Anthropic] = NewAnthropic(client, g.logger)
	g.adapters[Ollama] = NewOllama(client, g.logger)
}

// Timeout is the per-call timeout in effect.
func (g *Gateway) Timeout() time.Duration { return g.timeout }

func (g *Gateway) adapter(kind Kind, creds Credentials) (Adapter, error) {
	a, ok := g.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, kind)
	}
	if kind.NeedsAPIKey() && creds.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", kind, ErrMissingCredential)
	}
	return a, nil
}

func (g *Gateway) fallbackFor(kind Kind, model string) (string, bool) {
	for _, r := range g.fallbacks {
		if r.Provider == kind && r.Model == model && r.FallbackModel != "" {
			return r.FallbackModel, true
		}
	}
	return "", false
}

// Chat runs one chat call against kind.
func (g *Gateway) Chat(ctx context.Context, kind Kind, creds Credentials, req Request) (Reply, error) {
	a, err := g.adapter(kind, creds)
	if err != nil {
		return Reply{}, err
	}

	start := time.Now()
	text, err := g.call(ctx, a, creds, req)
	if err == nil {
		g.logger.Debug("chat complete", "provider", kind, "model", req.Model, "elapsed", time.Since(start))
		return Reply{Text: text, Model: req.Model}, nil
	}

	fallback, ok := g.fallbackFor(kind, req.Model)
	if !ok || !IsCapacityError(err) {
		return Reply{}, err
	}

	g.logger.Warn("primary model at capacity, retrying with fallback",
		"provider", kind, "model", req.Model, "fallback", fallback, "error", err)
	retry := req
	retry.Model = fallback
	text, ferr := g.call(ctx, a, creds, retry)
	if ferr != nil {
		return Reply{}, fmt.Errorf("fallback %s after %v: %w", fallback, err, ferr)
	}
	return Reply{Text: text, Model: fallback, PersistModel: true}, nil
}

func (g *Gateway) call(ctx context.Context, a Adapter, creds Credentials, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	text, err := a.Chat(ctx, creds, req)
	return text, normalizeTimeout(a.Kind(), err)
}

// Validate checks creds against kind.
func (g *Gateway) Validate(ctx context.Context, kind Kind, creds Credentials, model string) error {
	a, err := g.adapter(kind, creds)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return normalizeTimeout(kind, a.Validate(ctx, creds, model))
}

// ListModels enumerates models for backends that support it.
func (g *Gateway) ListModels(ctx context.Context, kind Kind, creds Credentials) ([]string, error) {
	a, err := g.adapter(kind, creds)
	if err != nil {
		return nil, err
	}
	lister, ok := a.(ModelLister)
	if !ok {
		return nil, fmt.Errorf("%s: %w", kind, ErrNotSupported)
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	ids, err := lister.ListModels(ctx, creds)
	return ids, normalizeTimeout(kind, err)
}

func normalizeTimeout(kind Kind, err error) error {
	if err == nil || errors.Is(err, ErrTimeout) || !isTimeout(err) {
		return err
	}
	return fmt.Errorf("%s: %w", kind, ErrTimeout)
}
