package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/nugget/hearth/internal/audit"
	"github.com/nugget/hearth/internal/llm"
	"github.com/nugget/hearth/internal/secrets"
	"github.com/nugget/hearth/internal/vault"
)

// ErrVaultInitialized is returned when unencrypted mode is requested
// after a vault exists.
var ErrVaultInitialized = errors.New("vault already set up; unencrypted mode is unavailable")

// VaultStatus summarizes credential protection.
type VaultStatus struct {
	Initialized     bool `json:"initialized"`
	Unlocked        bool `json:"unlocked"`
	UnencryptedMode bool `json:"unencrypted_mode"`
}

// VaultStatus reports the vault's state.
func (ac *AgentContext) VaultStatus() (VaultStatus, error) {
	initialized, err := ac.Vault.Initialized()
	if err != nil {
		return VaultStatus{}, err
	}
	unenc, err := ac.Secrets.UnencryptedMode()
	if err != nil {
		return VaultStatus{}, err
	}
	return VaultStatus{
		Initialized:     initialized,
		Unlocked:        ac.Vault.IsUnlocked(),
		UnencryptedMode: unenc,
	}, nil
}

// InitVault creates the vault and encrypts any credentials saved in
// unencrypted mode.
func (ac *AgentContext) InitVault(passphrase string) error {
	if err := ac.Vault.Initialize(passphrase); err != nil {
		return err
	}
	ac.Audit.Record(audit.TypeVault, "vault initialized")
	return ac.migrate()
}

// UnlockVault unlocks the vault and encrypts any plaintext credentials.
func (ac *AgentContext) UnlockVault(passphrase string) error {
	if err := ac.Vault.Unlock(passphrase); err != nil {
		if errors.Is(err, vault.ErrWrongPassphrase) {
			ac.Audit.Record(audit.TypeVault, "unlock rejected")
		}
		return err
	}
	ac.Audit.Record(audit.TypeVault, "vault unlocked")
	return ac.migrate()
}

func (ac *AgentContext) migrate() error {
	n, err := ac.Secrets.MigratePlaintextToEncrypted()
	if err != nil {
		return fmt.Errorf("encrypt stored credentials: %w", err)
	}
	if n > 0 {
		ac.Audit.Record(audit.TypeCredential, fmt.Sprintf("encrypted %d plaintext credential(s)", n))
	}
	return nil
}

// LockVault discards the key. Encrypted credentials read as missing
// until the next unlock.
func (ac *AgentContext) LockVault() {
	wasUnlocked := ac.Vault.IsUnlocked()
	ac.Vault.Lock()
	if wasUnlocked {
		ac.Audit.Record(audit.TypeVault, "vault locked")
	}
}

// EnableUnencryptedMode records the user's choice to skip the vault.
func (ac *AgentContext) EnableUnencryptedMode() error {
	initialized, err := ac.Vault.Initialized()
	if err != nil {
		return err
	}
	if initialized {
		return ErrVaultInitialized
	}
	if err := ac.Secrets.SetUnencryptedMode(true); err != nil {
		return err
	}
	ac.Audit.Record(audit.TypeVault, "unencrypted credential storage enabled")
	return nil
}

// SaveCredential stores a provider API key, an Ollama base URL, or the
// Telegram bot token.
func (ac *AgentContext) SaveCredential(name, value string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	value = strings.TrimSpace(value)
	if !isKnownCredential(name) {
		return fmt.Errorf("%w: %q", errUnknownCredential, name)
	}
	if value == "" {
		return fmt.Errorf("%s: empty credential", name)
	}
	if err := ac.Secrets.Save(name, value); err != nil {
		return err
	}
	state, _ := ac.Secrets.State(name)
	ac.Audit.Record(audit.TypeCredential, fmt.Sprintf("%s credential saved (%s)", name, state))
	return nil
}

// CredentialStates reports how each known credential is stored.
func (ac *AgentContext) CredentialStates() (map[string]secrets.State, error) {
	names := make([]string, 0, len(llm.Kinds)+1)
	for _, k := range llm.Kinds {
		names = append(names, string(k))
	}
	names = append(names, TelegramKey)

	out := make(map[string]secrets.State, len(names))
	for _, n := range names {
		st, err := ac.Secrets.State(n)
		if err != nil {
			return nil, err
		}
		out[n] = st
	}
	return out, nil
}

// credentials resolves what the gateway needs for kind. For Ollama the
// stored secret, when present, is the base URL.
func (ac *AgentContext) credentials(kind llm.Kind) (llm.Credentials, error) {
	creds := llm.Credentials{BaseURL: ac.Config.Providers.BaseURL(string(kind))}
	secret, err := ac.Secrets.Read(string(kind))
	if err != nil {
		return creds, err
	}
	if kind.NeedsAPIKey() {
		creds.APIKey = secret
	} else if secret != "" {
		creds.BaseURL = secret
	}
	return creds, nil
}

// ValidateCredential checks a stored credential against its service.
func (ac *AgentContext) ValidateCredential(ctx context.Context, name string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == TelegramKey {
		_, err := ac.Telegram.GetMe(ctx)
		return err
	}
	kind, err := llm.ParseKind(name)
	if err != nil {
		return err
	}
	creds, err := ac.credentials(kind)
	if err != nil {
		return err
	}
	model := ac.Settings.Get().Models[name]
	if err := ac.Gateway.Validate(ctx, kind, creds, model); err != nil {
		ac.Settings.RecordError(name, llm.ErrorCode(err))
		return err
	}
	ac.Settings.RecordError(name, "")
	return nil
}

// ListModels returns the models a provider offers, sorted.
func (ac *AgentContext) ListModels(ctx context.Context, provider string) ([]string, error) {
	kind, err := llm.ParseKind(provider)
	if err != nil {
		return nil, err
	}
	creds, err := ac.credentials(kind)
	if err != nil {
		return nil, err
	}
	ids, err := ac.Gateway.ListModels(ctx, kind, creds)
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return ids, nil
}
