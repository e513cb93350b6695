// Package settings holds RuntimeConfig: the non-secret, user-editable
// knobs of the running agent. It is persisted outside the vault so it is
// readable whether or not the vault is unlocked.
package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/nugget/hearth/internal/kvstore"
)

// Floors applied to user-supplied values.
const (
	MinHeartbeatInterval   = time.Minute
	MinPollInterval        = 2 * time.Second
	MinContextMessages     = 2
	MaxTemperature         = 2.0
	DefaultContextMessages = 40
)

const (
	namespace = "settings"
	key       = "runtime"
)

// Providers is the closed set of provider kinds.
var Providers = []string{"openai", "anthropic", "xai", "zai", "ollama"}

// ErrUnknownProvider is returned for a provider outside [Providers].
var ErrUnknownProvider = errors.New("settings: unknown provider")

// RuntimeConfig is the persisted settings record.
type RuntimeConfig struct {
	ActiveProvider     string            `json:"active_provider"`
	Models             map[string]string `json:"models"`
	Temperature        float64           `json:"temperature"`
	HeartbeatInterval  time.Duration     `json:"heartbeat_interval"`
	MaxContextMessages int               `json:"max_context_messages"`
	PollInterval       time.Duration     `json:"poll_interval"`
	BridgeEnabled      bool              `json:"bridge_enabled"`

	// LastErrors maps provider to the normalized code of its most
	// recent failure. Cleared on the next success.
	LastErrors map[string]string `json:"last_errors,omitempty"`
}

// Model returns the configured model for the active provider.
func (c RuntimeConfig) Model() string {
	return c.Models[c.ActiveProvider]
}

func (c RuntimeConfig) clone() RuntimeConfig {
	c.Models = maps.Clone(c.Models)
	c.LastErrors = maps.Clone(c.LastErrors)
	if c.Models == nil {
		c.Models = map[string]string{}
	}
	return c
}

func (c *RuntimeConfig) normalize() error {
	if !IsProvider(c.ActiveProvider) {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, c.ActiveProvider)
	}
	if c.Temperature < 0 || c.Temperature > MaxTemperature {
		return fmt.Errorf("settings: temperature %.2f must be between 0 and %.0f", c.Temperature, MaxTemperature)
	}
	c.HeartbeatInterval = max(c.HeartbeatInterval, MinHeartbeatInterval)
	c.PollInterval = max(c.PollInterval, MinPollInterval)
	if c.MaxContextMessages == 0 {
		c.MaxContextMessages = DefaultContextMessages
	}
	c.MaxContextMessages = max(c.MaxContextMessages, MinContextMessages)
	return nil
}

// IsProvider reports whether name is a known provider kind.
func IsProvider(name string) bool {
	for _, p := range Providers {
		if p == name {
			return true
		}
	}
	return false
}

// Store serializes updates to the RuntimeConfig. Every successful update
// is written before it becomes visible to readers.
type Store struct {
	kv     kvstore.KV
	logger *slog.Logger

	mu  sync.RWMutex
	cfg RuntimeConfig
}

// Load returns the persisted settings, seeding them from defaults on
// first start.
func Load(kv kvstore.KV, defaults RuntimeConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{kv: kv, logger: logger.With("component", "settings")}

	var cfg RuntimeConfig
	ok, err := kvstore.GetJSON(kv, namespace, key, &cfg)
	if err != nil {
		return nil, err
	}
	if !ok {
		cfg = defaults.clone()
		if err := cfg.normalize(); err != nil {
			return nil, err
		}
		if err := kvstore.SetJSON(kv, namespace, key, cfg); err != nil {
			return nil, err
		}
		s.logger.Info("runtime settings seeded", "provider", cfg.ActiveProvider)
	} else {
		// Fill any models added since the record was written.
		cfg = cfg.clone()
		for p, m := range defaults.Models {
			if cfg.Models[p] == "" {
				cfg.Models[p] = m
			}
		}
		if err := cfg.normalize(); err != nil {
			return nil, err
		}
	}
	s.cfg = cfg
	return s, nil
}

// Get returns a copy of the current settings.
func (s *Store) Get() RuntimeConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.clone()
}

// Update applies fn to a copy, clamps and validates the result, persists
// it, and only then publishes it. A failing fn or write leaves the
// current settings untouched.
func (s *Store) Update(fn func(*RuntimeConfig) error) (RuntimeConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg.clone()
	if err := fn(&next); err != nil {
		return s.cfg.clone(), err
	}
	if err := next.normalize(); err != nil {
		return s.cfg.clone(), err
	}
	if err := kvstore.SetJSON(s.kv, namespace, key, next); err != nil {
		return s.cfg.clone(), fmt.Errorf("settings: persist: %w", err)
	}
	s.cfg = next
	return next.clone(), nil
}

// SetProvider switches the active provider.
func (s *Store) SetProvider(provider string) error {
	_, err := s.Update(func(c *RuntimeConfig) error {
		c.ActiveProvider = provider
		return nil
	})
	return err
}

// SetModel sets the model used for provider.
func (s *Store) SetModel(provider, model string) error {
	if !IsProvider(provider) {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	if model == "" {
		return errors.New("settings: model is required")
	}
	_, err := s.Update(func(c *RuntimeConfig) error {
		c.Models[provider] = model
		return nil
	})
	return err
}

// SetTemperature sets the sampling temperature (0 to 2).
func (s *Store) SetTemperature(t float64) error {
	_, err := s.Update(func(c *RuntimeConfig) error {
		c.Temperature = t
		return nil
	})
	return err
}

// SetHeartbeatInterval sets the heartbeat period, clamped to
// MinHeartbeatInterval.
func (s *Store) SetHeartbeatInterval(d time.Duration) error {
	_, err := s.Update(func(c *RuntimeConfig) error {
		c.HeartbeatInterval = d
		return nil
	})
	return err
}

// SetMaxContextMessages sets the per-thread message cap.
func (s *Store) SetMaxContextMessages(n int) error {
	_, err := s.Update(func(c *RuntimeConfig) error {
		if n <= 0 {
			return fmt.Errorf("settings: max context messages must be positive, got %d", n)
		}
		c.MaxContextMessages = n
		return nil
	})
	return err
}

// SetPollInterval sets the remote-bridge poll period.
func (s *Store) SetPollInterval(d time.Duration) error {
	_, err := s.Update(func(c *RuntimeConfig) error {
		c.PollInterval = d
		return nil
	})
	return err
}

// SetBridgeEnabled toggles the remote-bridge poll loop.
func (s *Store) SetBridgeEnabled(on bool) error {
	_, err := s.Update(func(c *RuntimeConfig) error {
		c.BridgeEnabled = on
		return nil
	})
	return err
}

// RecordError stores code as provider's last error. An empty code
// clears it. Unchanged values are not rewritten.
func (s *Store) RecordError(provider, code string) {
	s.mu.RLock()
	current := s.cfg.LastErrors[provider]
	s.mu.RUnlock()
	if current == code {
		return
	}
	_, err := s.Update(func(c *RuntimeConfig) error {
		if code == "" {
			delete(c.LastErrors, provider)
			return nil
		}
		if c.LastErrors == nil {
			c.LastErrors = map[string]string{}
		}
		c.LastErrors[provider] = code
		return nil
	})
	if err != nil {
		s.logger.Warn("failed to record provider error", "provider", provider, "error", err)
	}
}
