package app

import (
	"time"

	"github.com/nugget/hearth/internal/buildinfo"
	"github.com/nugget/hearth/internal/secrets"
	"github.com/nugget/hearth/internal/settings"
)

// Status is the snapshot served to dashboards.
type Status struct {
	Build       map[string]string        `json:"build"`
	Uptime      string                   `json:"uptime"`
	Vault       VaultStatus              `json:"vault"`
	Credentials map[string]secrets.State `json:"credentials"`
	Settings    settings.RuntimeConfig   `json:"settings"`
	Threads     int                      `json:"threads"`
	ActiveID    string                   `json:"active_thread"`
	ToolNames   []string                 `json:"tools"`
	Ready       bool                     `json:"ready"`
	NotReady    string                   `json:"not_ready,omitempty"`
}

// Status collects the current state of every component.
func (ac *AgentContext) Status() (Status, error) {
	vs, err := ac.VaultStatus()
	if err != nil {
		return Status{}, err
	}
	creds, err := ac.CredentialStates()
	if err != nil {
		return Status{}, err
	}
	st := Status{
		Build:       buildinfo.RuntimeInfo(),
		Uptime:      ac.Uptime().Truncate(time.Second).String(),
		Vault:       vs,
		Credentials: creds,
		Settings:    ac.Settings.Get(),
		Threads:     len(ac.Threads.List()),
		ActiveID:    ac.Threads.Active().ID,
		ToolNames:   ac.Tools.Names(),
		Ready:       true,
	}
	if err := ac.Ready(); err != nil {
		st.Ready = false
		st.NotReady = err.Error()
	}
	return st, nil
}

// statsAdapter exposes the agent to the MQTT status publisher.
type statsAdapter struct{ ac *AgentContext }

func (s statsAdapter) Uptime() time.Duration  { return s.ac.Uptime() }
func (s statsAdapter) Version() string        { return buildinfo.Version }
func (s statsAdapter) ActiveProvider() string { return s.ac.Settings.Get().ActiveProvider }
func (s statsAdapter) ActiveModel() string    { return s.ac.Settings.Get().Model() }
func (s statsAdapter) VaultUnlocked() bool    { return s.ac.Vault.IsUnlocked() }
func (s statsAdapter) ThreadCount() int       { return len(s.ac.Threads.List()) }
