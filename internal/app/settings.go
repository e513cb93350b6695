package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/nugget/hearth/internal/audit"
	"github.com/nugget/hearth/internal/settings"
	"github.com/nugget/hearth/internal/threads"
)

// SettingsPatch carries a partial settings update. Nil fields are left
// unchanged.
type SettingsPatch struct {
	Provider           *string        `json:"provider,omitempty"`
	Model              *string        `json:"model,omitempty"`
	Temperature        *float64       `json:"temperature,omitempty"`
	HeartbeatInterval  *time.Duration `json:"heartbeat_interval,omitempty"`
	MaxContextMessages *int           `json:"max_context_messages,omitempty"`
	PollInterval       *time.Duration `json:"poll_interval,omitempty"`
	BridgeEnabled      *bool          `json:"bridge_enabled,omitempty"`
}

func (p SettingsPatch) empty() bool {
	return p.Provider == nil && p.Model == nil && p.Temperature == nil &&
		p.HeartbeatInterval == nil && p.MaxContextMessages == nil &&
		p.PollInterval == nil && p.BridgeEnabled == nil
}

// UpdateSettings applies patch atomically. Model applies to the provider
// that is active after the patch. Thread history is trimmed to a lowered
// context limit right away.
func (ac *AgentContext) UpdateSettings(p SettingsPatch) (settings.RuntimeConfig, error) {
	if p.empty() {
		return ac.Settings.Get(), nil
	}
	var changed []string
	cfg, err := ac.Settings.Update(func(c *settings.RuntimeConfig) error {
		if p.Provider != nil {
			name := strings.ToLower(strings.TrimSpace(*p.Provider))
			if !settings.IsProvider(name) {
				return fmt.Errorf("%w: %q", settings.ErrUnknownProvider, name)
			}
			c.ActiveProvider = name
			changed = append(changed, "provider="+name)
		}
		if p.Model != nil {
			model := strings.TrimSpace(*p.Model)
			if model == "" {
				return fmt.Errorf("model must not be empty")
			}
			c.Models[c.ActiveProvider] = model
			changed = append(changed, "model="+model)
		}
		if p.Temperature != nil {
			c.Temperature = *p.Temperature
			changed = append(changed, fmt.Sprintf("temperature=%.2f", c.Temperature))
		}
		if p.HeartbeatInterval != nil {
			c.HeartbeatInterval = *p.HeartbeatInterval
			changed = append(changed, "heartbeat_interval")
		}
		if p.MaxContextMessages != nil {
			c.MaxContextMessages = *p.MaxContextMessages
			changed = append(changed, "max_context_messages")
		}
		if p.PollInterval != nil {
			c.PollInterval = *p.PollInterval
			changed = append(changed, "poll_interval")
		}
		if p.BridgeEnabled != nil {
			c.BridgeEnabled = *p.BridgeEnabled
			changed = append(changed, fmt.Sprintf("bridge_enabled=%t", c.BridgeEnabled))
		}
		return nil
	})
	if err != nil {
		return cfg, err
	}
	if cfg.MaxContextMessages != ac.Threads.MaxMessages() {
		if err := ac.Threads.SetMaxMessages(cfg.MaxContextMessages); err != nil {
			return cfg, fmt.Errorf("apply context limit: %w", err)
		}
	}
	ac.Audit.Record(audit.TypeSettings, "updated "+strings.Join(changed, ", "))
	return cfg, nil
}

// CreateThread starts a new local conversation and makes it active.
func (ac *AgentContext) CreateThread() (threads.Thread, error) {
	t, err := ac.Threads.CreateThread(threads.SourceLocal, "", "")
	if err != nil {
		return t, err
	}
	if err := ac.Threads.SetActive(t.ID); err != nil {
		return t, err
	}
	return t, nil
}
