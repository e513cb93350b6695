// Package app assembles the runtime. [AgentContext] owns every
// component and exposes the operations the API and CLI call; components
// receive only the pieces they need through their constructors.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/nugget/hearth/internal/agent"
	"github.com/nugget/hearth/internal/audit"
	"github.com/nugget/hearth/internal/config"
	"github.com/nugget/hearth/internal/desktop"
	"github.com/nugget/hearth/internal/files"
	"github.com/nugget/hearth/internal/forge"
	"github.com/nugget/hearth/internal/httpkit"
	"github.com/nugget/hearth/internal/kvstore"
	"github.com/nugget/hearth/internal/llm"
	"github.com/nugget/hearth/internal/mqtt"
	"github.com/nugget/hearth/internal/relay"
	"github.com/nugget/hearth/internal/scheduler"
	"github.com/nugget/hearth/internal/secrets"
	"github.com/nugget/hearth/internal/settings"
	"github.com/nugget/hearth/internal/telegram"
	"github.com/nugget/hearth/internal/threads"
	"github.com/nugget/hearth/internal/tools"
	"github.com/nugget/hearth/internal/vault"
	"github.com/nugget/hearth/internal/wiki"
)

// TelegramKey is the secret store key of the bot token.
const TelegramKey = "telegram"

// AgentContext is the running agent.
type AgentContext struct {
	Config    *config.Config
	Vault     *vault.Vault
	Secrets   *secrets.Store
	Settings  *settings.Store
	Audit     *audit.Log
	Gateway   *llm.Gateway
	Tools     *tools.Registry
	Threads   *threads.Store
	Loop      *agent.Loop
	Telegram  *telegram.Client
	Scheduler *scheduler.Scheduler
	MQTT      *mqtt.Publisher

	logger    *slog.Logger
	started   time.Time
	closer    func() error
	documents map[string]string

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type options struct {
	gatewayOpts   []llm.GatewayOption
	collaborators *tools.Collaborators
	httpClient    *http.Client
	vaultOpts     []vault.Option
}

// Option customizes Build.
type Option func(*options)

// WithGatewayOptions passes options through to the provider gateway.
func WithGatewayOptions(opts ...llm.GatewayOption) Option {
	return func(o *options) { o.gatewayOpts = append(o.gatewayOpts, opts...) }
}

// WithCollaborators replaces the tool collaborators built from config.
func WithCollaborators(c tools.Collaborators) Option {
	return func(o *options) { o.collaborators = &c }
}

// WithHTTPClient sets the client used by collaborators and Telegram.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithVaultOptions passes options through to the vault.
func WithVaultOptions(opts ...vault.Option) Option {
	return func(o *options) { o.vaultOpts = append(o.vaultOpts, opts...) }
}

// Open opens the database named by cfg and builds the agent on it.
func Open(cfg *config.Config, logger *slog.Logger, opts ...Option) (*AgentContext, error) {
	store, err := kvstore.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	ac, err := Build(cfg, store, logger, opts...)
	if err != nil {
		store.Close()
		return nil, err
	}
	ac.closer = store.Close
	return ac, nil
}

// Build wires every component over kv.
func Build(cfg *config.Config, kv kvstore.KV, logger *slog.Logger, opts ...Option) (*AgentContext, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.httpClient == nil {
		o.httpClient = httpkit.NewClient(httpkit.WithTimeout(2 * time.Minute))
	}

	ac := &AgentContext{
		Config:  cfg,
		logger:  logger.With("component", "app"),
		started: time.Now(),
	}

	ac.Audit = audit.New(kv, logger)
	ac.Vault = vault.New(kv, logger, o.vaultOpts...)
	ac.Secrets = secrets.NewStore(kv, ac.Vault, logger)

	st, err := settings.Load(kv, seedSettings(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	ac.Settings = st

	gwOpts := []llm.GatewayOption{
		llm.WithTimeout(cfg.Providers.RequestTimeout),
		llm.WithFallbacks(fallbackRules(cfg.Providers.Fallbacks)),
	}
	ac.Gateway = llm.NewGateway(logger, append(gwOpts, o.gatewayOpts...)...)

	ac.Tools = tools.NewRegistry(logger,
		tools.WithTimeout(cfg.Tools.Timeout),
		tools.WithMaxResultBytes(cfg.Tools.MaxResultBytes),
	)
	collab := o.collaborators
	if collab == nil {
		c, err := buildCollaborators(cfg, o.httpClient, logger)
		if err != nil {
			return nil, err
		}
		collab = &c
	}
	tools.RegisterBuiltins(ac.Tools, *collab)

	ac.Threads, err = threads.Open(kv, st.Get().MaxContextMessages, logger)
	if err != nil {
		return nil, err
	}
	ac.Loop = agent.NewLoop(ac.Tools, ac.Audit, logger)
	ac.documents = loadDocumentFiles(cfg.Documents, ac.logger)

	ac.Telegram = telegram.NewClient(o.httpClient, cfg.Telegram.APIURL, ac.telegramToken, cfg.Telegram.PollTimeout, logger)
	ac.Scheduler = scheduler.New(scheduler.Config{
		Runner:   ac,
		Bridge:   telegram.NewBridge(ac.Telegram, logger),
		Cursor:   ac.Threads,
		Settings: ac.Settings,
		Audit:    ac.Audit,
		Logger:   logger,
	})

	if cfg.MQTT.Enabled {
		id, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		ac.MQTT = mqtt.New(cfg.MQTT, id, statsAdapter{ac}, logger)
		ac.Audit.SetSink(ac.MQTT)
	}
	return ac, nil
}

func seedSettings(cfg *config.Config) settings.RuntimeConfig {
	d := cfg.Defaults
	return settings.RuntimeConfig{
		ActiveProvider:     d.Provider,
		Models:             d.Models,
		Temperature:        d.Temperature,
		HeartbeatInterval:  d.HeartbeatInterval,
		MaxContextMessages: d.MaxContextMessages,
		PollInterval:       d.PollInterval,
		BridgeEnabled:      d.BridgeEnabled,
	}
}

func fallbackRules(in []config.FallbackConfig) []llm.FallbackRule {
	rules := make([]llm.FallbackRule, 0, len(in))
	for _, f := range in {
		rules = append(rules, llm.FallbackRule{
			Provider:      llm.Kind(f.Provider),
			Model:         f.Model,
			FallbackModel: f.FallbackModel,
		})
	}
	return rules
}

func buildCollaborators(cfg *config.Config, client *http.Client, logger *slog.Logger) (tools.Collaborators, error) {
	tc := cfg.Tools
	c := tools.Collaborators{
		Wiki:         wiki.New(client, tc.Wikipedia.Language, tc.Wikipedia.BaseURL, logger),
		Shell:        relay.New(client, tc.Relay.URL, tc.Relay.Token, logger),
		RelayEnabled: tc.Relay.Enabled,
	}
	if tc.Workspace != "" {
		ws, err := files.NewWorkspace(tc.Workspace)
		if err != nil {
			return c, fmt.Errorf("tools workspace: %w", err)
		}
		c.Files = ws
	}
	gh, err := forge.NewGitHub(client, tc.GitHub.Token, tc.GitHub.BaseURL, logger)
	if err != nil {
		return c, fmt.Errorf("github: %w", err)
	}
	c.Code = gh
	if tc.Desktop.URL != "" {
		d, err := desktop.New(tc.Desktop.URL, logger)
		if err != nil {
			return c, err
		}
		c.Windows = d
	}
	return c, nil
}

func loadDocumentFiles(dc config.DocumentsConfig, logger *slog.Logger) map[string]string {
	docs := make(map[string]string)
	for name, path := range map[string]string{
		threads.DocPersona:    dc.Persona,
		threads.DocToolPolicy: dc.ToolPolicy,
		threads.DocHeartbeat:  dc.Heartbeat,
	} {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("document file unreadable, using default", "document", name, "path", path, "error", err)
			continue
		}
		docs[name] = string(data)
	}
	return docs
}

// telegramToken feeds the Telegram client. Errors read as "no token".
func (ac *AgentContext) telegramToken() string {
	token, err := ac.Secrets.Read(TelegramKey)
	if err != nil {
		ac.logger.Warn("telegram token unreadable", "error", err)
		return ""
	}
	return token
}

// Start runs the scheduler and, when configured, the MQTT publisher. It
// returns immediately.
func (ac *AgentContext) Start(ctx context.Context) {
	ac.runMu.Lock()
	defer ac.runMu.Unlock()
	if ac.cancel != nil {
		return
	}
	ctx, ac.cancel = context.WithCancel(ctx)

	ac.Scheduler.Start(ctx)
	if ac.MQTT != nil {
		ac.wg.Add(1)
		go func() {
			defer ac.wg.Done()
			if err := ac.MQTT.Start(ctx); err != nil {
				ac.logger.Error("mqtt publisher stopped", "error", err)
			}
		}()
	}
}

// Close stops background work, locks the vault, and closes the store.
func (ac *AgentContext) Close() error {
	ac.runMu.Lock()
	cancel := ac.cancel
	ac.cancel = nil
	ac.runMu.Unlock()

	ac.Scheduler.Stop()
	if ac.MQTT != nil {
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		if err := ac.MQTT.Stop(stopCtx); err != nil {
			ac.logger.Debug("mqtt stop", "error", err)
		}
		stop()
	}
	if cancel != nil {
		cancel()
	}
	ac.wg.Wait()
	ac.Vault.Lock()

	if ac.closer != nil {
		return ac.closer()
	}
	return nil
}

// Uptime is how long the agent has been running.
func (ac *AgentContext) Uptime() time.Duration {
	return time.Since(ac.started)
}

func isKnownCredential(name string) bool {
	if name == TelegramKey {
		return true
	}
	_, err := llm.ParseKind(name)
	return err == nil
}

var errUnknownCredential = errors.New("unknown credential; expected a provider name or telegram")
