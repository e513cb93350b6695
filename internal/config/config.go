// Package config loads the Hearth configuration file.
//
// The file only seeds the runtime. Provider credentials never live here
// (they go through the encrypted secret store), and the user-editable
// runtime settings are persisted separately once the agent has started.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order used when no
// explicit path is given.
func DefaultSearchPaths() []string {
	paths := []string{"hearth.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "hearth", "config.yaml"))
	}
	return append(paths, "/etc/hearth/config.yaml")
}

// FindConfig locates a config file. An explicit path must exist;
// otherwise the first existing entry of DefaultSearchPaths wins.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}
	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config is the root of the configuration file.
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"`
	Listen    ListenConfig    `yaml:"listen"`
	Providers ProvidersConfig `yaml:"providers"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
	Tools     ToolsConfig     `yaml:"tools"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Documents DocumentsConfig `yaml:"documents"`
}

// ListenConfig is where the local control API binds.
type ListenConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// ProviderEndpoint overrides a provider's base URL.
type ProviderEndpoint struct {
	BaseURL string `yaml:"base_url"`
}

// FallbackConfig names a replacement model to try once when a provider
// reports it is out of capacity for the primary model.
type FallbackConfig struct {
	Provider      string `yaml:"provider"`
	Model         string `yaml:"model"`
	FallbackModel string `yaml:"fallback_model"`
}

// ProvidersConfig holds endpoint overrides and the per-call timeout.
type ProvidersConfig struct {
	OpenAI         ProviderEndpoint `yaml:"openai"`
	Anthropic      ProviderEndpoint `yaml:"anthropic"`
	XAI            ProviderEndpoint `yaml:"xai"`
	ZAI            ProviderEndpoint `yaml:"zai"`
	Ollama         ProviderEndpoint `yaml:"ollama"`
	RequestTimeout time.Duration    `yaml:"request_timeout"`
	Fallbacks      []FallbackConfig `yaml:"fallbacks"`
}

// BaseURL returns the configured override for provider, or "".
func (p ProvidersConfig) BaseURL(provider string) string {
	switch provider {
	case "openai":
		return p.OpenAI.BaseURL
	case "anthropic":
		return p.Anthropic.BaseURL
	case "xai":
		return p.XAI.BaseURL
	case "zai":
		return p.ZAI.BaseURL
	case "ollama":
		return p.Ollama.BaseURL
	}
	return ""
}

// DefaultsConfig seeds the runtime settings on first start.
type DefaultsConfig struct {
	Provider           string            `yaml:"provider"`
	Models             map[string]string `yaml:"models"`
	Temperature        float64           `yaml:"temperature"`
	HeartbeatInterval  time.Duration     `yaml:"heartbeat_interval"`
	MaxContextMessages int               `yaml:"max_context_messages"`
	PollInterval       time.Duration     `yaml:"poll_interval"`
	BridgeEnabled      bool              `yaml:"bridge_enabled"`
}

// ToolsConfig configures the tool collaborators.
type ToolsConfig struct {
	Timeout        time.Duration   `yaml:"timeout"`
	MaxResultBytes int             `yaml:"max_result_bytes"`
	Workspace      string          `yaml:"workspace"`
	Relay          RelayConfig     `yaml:"relay"`
	GitHub         GitHubConfig    `yaml:"github"`
	Wikipedia      WikipediaConfig `yaml:"wikipedia"`
	Desktop        DesktopConfig   `yaml:"desktop"`
}

// RelayConfig points at the user-run shell relay. Shell commands are
// refused unless Enabled is set.
type RelayConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
}

// GitHubConfig is read-only GitHub access. Token is optional.
type GitHubConfig struct {
	Token   string `yaml:"token"`
	BaseURL string `yaml:"base_url"`
}

// WikipediaConfig selects the Wikipedia edition.
type WikipediaConfig struct {
	Language string `yaml:"language"`
	BaseURL  string `yaml:"base_url"`
}

// DesktopConfig is the window-manager WebSocket endpoint. Empty disables
// window actions.
type DesktopConfig struct {
	URL string `yaml:"url"`
}

// TelegramConfig configures the remote chat bridge. The bot token is a
// secret and is stored under the "telegram" key in the secret store.
type TelegramConfig struct {
	APIURL      string        `yaml:"api_url"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
}

// MQTTConfig mirrors audit events to a broker.
type MQTTConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Broker     string `yaml:"broker"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	DeviceName string `yaml:"device_name"`

	// StatusInterval is how often a retained status snapshot is
	// published alongside the audit stream.
	StatusInterval time.Duration `yaml:"status_interval"`
}

// DocumentsConfig points at files that replace the built-in agent
// documents when the persisted copies are empty.
type DocumentsConfig struct {
	Persona    string `yaml:"persona"`
	ToolPolicy string `yaml:"tool_policy"`
	Heartbeat  string `yaml:"heartbeat"`
}

// Load reads and validates a configuration file. ${VAR} references are
// expanded from the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a configuration that runs without any file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.Listen.Address == "" {
		c.Listen.Address = "127.0.0.1"
	}
	if c.Listen.Port == 0 {
		c.Listen.Port = 8765
	}
	if c.Providers.RequestTimeout == 0 {
		c.Providers.RequestTimeout = 90 * time.Second
	}
	if c.Providers.Fallbacks == nil {
		c.Providers.Fallbacks = []FallbackConfig{
			{Provider: "zai", Model: "glm-5", FallbackModel: "glm-4.7"},
		}
	}
	if c.Defaults.Provider == "" {
		c.Defaults.Provider = "ollama"
	}
	if c.Defaults.Models == nil {
		c.Defaults.Models = map[string]string{}
	}
	for p, m := range map[string]string{
		"openai":    "gpt-4o-mini",
		"anthropic": "claude-sonnet-4-5",
		"xai":       "grok-3-mini",
		"zai":       "glm-5",
		"ollama":    "llama3.2",
	} {
		if c.Defaults.Models[p] == "" {
			c.Defaults.Models[p] = m
		}
	}
	if c.Defaults.Temperature == 0 {
		c.Defaults.Temperature = 0.7
	}
	if c.Defaults.HeartbeatInterval == 0 {
		c.Defaults.HeartbeatInterval = 30 * time.Minute
	}
	if c.Defaults.MaxContextMessages == 0 {
		c.Defaults.MaxContextMessages = 40
	}
	if c.Defaults.PollInterval == 0 {
		c.Defaults.PollInterval = 5 * time.Second
	}
	if c.Tools.Timeout == 0 {
		c.Tools.Timeout = 20 * time.Second
	}
	if c.Tools.MaxResultBytes == 0 {
		c.Tools.MaxResultBytes = 8000
	}
	if c.Tools.Relay.URL == "" {
		c.Tools.Relay.URL = "http://127.0.0.1:8787"
	}
	if c.Tools.Wikipedia.Language == "" {
		c.Tools.Wikipedia.Language = "en"
	}
	if c.Telegram.APIURL == "" {
		c.Telegram.APIURL = "https://api.telegram.org"
	}
	if c.Telegram.PollTimeout == 0 {
		c.Telegram.PollTimeout = 20 * time.Second
	}
	if c.MQTT.DeviceName == "" {
		if host, err := os.Hostname(); err == nil {
			c.MQTT.DeviceName = host
		} else {
			c.MQTT.DeviceName = "hearth"
		}
	}
	if c.MQTT.StatusInterval == 0 {
		c.MQTT.StatusInterval = time.Minute
	}
}

var knownProviders = map[string]bool{
	"openai": true, "anthropic": true, "xai": true, "zai": true, "ollama": true,
}

// Validate rejects configurations the runtime cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if !knownProviders[c.Defaults.Provider] {
		errs = append(errs, fmt.Errorf("defaults.provider %q is not one of openai, anthropic, xai, zai, ollama", c.Defaults.Provider))
	}
	if c.Defaults.Temperature < 0 || c.Defaults.Temperature > 2 {
		errs = append(errs, fmt.Errorf("defaults.temperature %.2f must be between 0 and 2", c.Defaults.Temperature))
	}
	if c.Defaults.MaxContextMessages < 2 {
		errs = append(errs, fmt.Errorf("defaults.max_context_messages must be at least 2"))
	}
	for i, fb := range c.Providers.Fallbacks {
		if !knownProviders[fb.Provider] || fb.Model == "" || fb.FallbackModel == "" {
			errs = append(errs, fmt.Errorf("providers.fallbacks[%d]: provider, model and fallback_model are required", i))
		}
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, fmt.Errorf("mqtt.broker is required when mqtt.enabled"))
	}
	if c.Tools.Relay.Enabled && c.Tools.Relay.URL == "" {
		errs = append(errs, fmt.Errorf("tools.relay.url is required when the relay is enabled"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// DatabasePath is the SQLite file holding all persisted state.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "hearth.db")
}
