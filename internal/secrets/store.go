// Package secrets persists provider credentials, one record per provider
// key ("openai", "anthropic", "xai", "zai", "telegram").
//
// A record is either vault-encrypted (nonce plus ciphertext) or, only
// when the user explicitly declined to set up a vault, stored as
// plaintext with the unencrypted flag set. Never both.
package secrets

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nugget/hearth/internal/kvstore"
	"github.com/nugget/hearth/internal/vault"
)

const (
	namespace     = "secrets"
	modeNamespace = "secrets_mode"
	modeKey       = "unencrypted"
)

// ErrEmptyKey is returned for a blank provider key.
var ErrEmptyKey = errors.New("secrets: provider key is required")

// Cipher is the subset of the vault the store needs.
type Cipher interface {
	IsUnlocked() bool
	Encrypt(plaintext []byte) (nonce, ciphertext []byte, err error)
	Decrypt(nonce, ciphertext []byte) ([]byte, error)
}

// Record is the persisted form of one credential.
type Record struct {
	Nonce       []byte    `json:"nonce,omitempty"`
	Ciphertext  []byte    `json:"ciphertext,omitempty"`
	Plaintext   string    `json:"plaintext,omitempty"`
	Unencrypted bool      `json:"unencrypted,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// State describes a stored credential without revealing it.
type State string

const (
	StateMissing     State = "missing"
	StateEncrypted   State = "encrypted"
	StateUnencrypted State = "unencrypted"
)

// Store reads and writes credentials.
type Store struct {
	kv     kvstore.KV
	cipher Cipher
	logger *slog.Logger
}

// NewStore returns a Store that encrypts through c.
func NewStore(kv kvstore.KV, c Cipher, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, cipher: c, logger: logger.With("component", "secrets")}
}

// UnencryptedMode reports whether the user opted out of the vault.
func (s *Store) UnencryptedMode() (bool, error) {
	v, err := s.kv.Get(modeNamespace, modeKey)
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

// SetUnencryptedMode records the user's choice.
func (s *Store) SetUnencryptedMode(on bool) error {
	if !on {
		return s.kv.Delete(modeNamespace, modeKey)
	}
	s.logger.Warn("unencrypted credential storage enabled")
	return s.kv.Set(modeNamespace, modeKey, "true")
}

// Save stores a credential. It encrypts when the vault is unlocked,
// falls back to plaintext only in unencrypted mode, and otherwise fails
// with vault.ErrVaultLocked.
func (s *Store) Save(provider, plaintext string) error {
	if provider == "" {
		return ErrEmptyKey
	}
	if s.cipher.IsUnlocked() {
		nonce, ct, err := s.cipher.Encrypt([]byte(plaintext))
		switch {
		case err == nil:
			return s.put(provider, Record{Nonce: nonce, Ciphertext: ct, UpdatedAt: time.Now().UTC()})
		case !errors.Is(err, vault.ErrVaultLocked):
			return fmt.Errorf("secrets: encrypt %s: %w", provider, err)
		}
		// Locked between the check and the encrypt: treat as locked.
	}

	unencrypted, err := s.UnencryptedMode()
	if err != nil {
		return err
	}
	if !unencrypted {
		return vault.ErrVaultLocked
	}
	s.logger.Warn("storing credential without encryption", "provider", provider)
	return s.put(provider, Record{Plaintext: plaintext, Unencrypted: true, UpdatedAt: time.Now().UTC()})
}

// Read returns the credential for provider. An encrypted record read
// while the vault is locked yields "" and a nil error, exactly like a
// missing record, so callers see "no credential available".
func (s *Store) Read(provider string) (string, error) {
	rec, ok, err := s.get(provider)
	if err != nil || !ok {
		return "", err
	}
	if rec.Unencrypted {
		return rec.Plaintext, nil
	}
	plain, err := s.cipher.Decrypt(rec.Nonce, rec.Ciphertext)
	if errors.Is(err, vault.ErrVaultLocked) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("secrets: read %s: %w", provider, err)
	}
	return string(plain), nil
}

// State reports how provider's credential is stored.
func (s *Store) State(provider string) (State, error) {
	rec, ok, err := s.get(provider)
	switch {
	case err != nil:
		return StateMissing, err
	case !ok:
		return StateMissing, nil
	case rec.Unencrypted:
		return StateUnencrypted, nil
	default:
		return StateEncrypted, nil
	}
}

// Delete removes provider's credential.
func (s *Store) Delete(provider string) error {
	return s.kv.Delete(namespace, provider)
}

// Providers lists the keys that have a stored record, sorted.
func (s *Store) Providers() ([]string, error) {
	all, err := s.kv.List(namespace)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(all))
	for k := range all {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// MigratePlaintextToEncrypted re-encrypts every unencrypted record in
// place and then turns unencrypted mode off. Records that are already
// encrypted are not touched, so running it again changes nothing. It
// returns the number of records migrated.
func (s *Store) MigratePlaintextToEncrypted() (int, error) {
	if !s.cipher.IsUnlocked() {
		return 0, vault.ErrVaultLocked
	}
	all, err := s.kv.List(namespace)
	if err != nil {
		return 0, err
	}

	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	migrated := 0
	for _, provider := range keys {
		rec, ok, err := s.get(provider)
		if err != nil {
			return migrated, err
		}
		if !ok || !rec.Unencrypted {
			continue
		}
		nonce, ct, err := s.cipher.Encrypt([]byte(rec.Plaintext))
		if err != nil {
			return migrated, fmt.Errorf("secrets: migrate %s: %w", provider, err)
		}
		if err := s.put(provider, Record{Nonce: nonce, Ciphertext: ct, UpdatedAt: time.Now().UTC()}); err != nil {
			return migrated, err
		}
		migrated++
		s.logger.Info("credential migrated to vault", "provider", provider)
	}

	if err := s.SetUnencryptedMode(false); err != nil {
		return migrated, err
	}
	return migrated, nil
}

func (s *Store) get(provider string) (Record, bool, error) {
	var rec Record
	ok, err := kvstore.GetJSON(s.kv, namespace, provider, &rec)
	return rec, ok, err
}

func (s *Store) put(provider string, rec Record) error {
	if err := kvstore.SetJSON(s.kv, namespace, provider, rec); err != nil {
		return fmt.Errorf("secrets: save %s: %w", provider, err)
	}
	return nil
}
