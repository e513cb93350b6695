// Package vault derives an encryption key from the user's passphrase and
// holds it in memory while the vault is unlocked.
//
// Only [Meta] is persisted: the KDF salt and iteration count plus an
// encrypted verifier used to check a passphrase on unlock. The derived
// key never leaves process memory and is zeroed on [Vault.Lock].
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/pbkdf2"

	"github.com/nugget/hearth/internal/kvstore"
)

const (
	// DefaultIterations is the PBKDF2-SHA256 work factor for new vaults.
	DefaultIterations = 210_000

	// MinPassphraseLength is counted in characters, not bytes.
	MinPassphraseLength = 8

	keyLen  = 32
	saltLen = 16

	namespace = "vault"
	metaKey   = "meta"

	verifierText = "hearth-vault-verifier-v1"
)

var (
	ErrWeakPassphrase     = errors.New("vault: passphrase must be at least 8 characters")
	ErrNotInitialized     = errors.New("vault: not initialized")
	ErrAlreadyInitialized = errors.New("vault: already initialized")
	ErrWrongPassphrase    = errors.New("vault: wrong passphrase")
	ErrDecryptFailed      = errors.New("vault: decrypt failed")
	ErrVaultLocked        = errors.New("vault: locked")
)

// Meta is the persisted vault descriptor. It exists iff the vault has
// been initialized.
type Meta struct {
	Salt           []byte    `json:"salt"`
	Iterations     int       `json:"iterations"`
	VerifierNonce  []byte    `json:"verifier_nonce"`
	VerifierCipher []byte    `json:"verifier_ciphertext"`
	CreatedAt      time.Time `json:"created_at"`
}

// Vault guards the derived key. All methods are safe for concurrent use.
type Vault struct {
	kv         kvstore.KV
	logger     *slog.Logger
	iterations int

	// initMu serializes Initialize so only one verifier is ever written.
	initMu sync.Mutex

	mu  sync.RWMutex
	key []byte
}

// Option customizes a Vault.
type Option func(*Vault)

// WithIterations sets the KDF work factor used by Initialize. Existing
// vaults always unlock with the count stored in their Meta.
func WithIterations(n int) Option {
	return func(v *Vault) {
		if n > 0 {
			v.iterations = n
		}
	}
}

// New returns a locked vault persisted in kv.
func New(kv kvstore.KV, logger *slog.Logger, opts ...Option) *Vault {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Vault{
		kv:         kv,
		logger:     logger.With("component", "vault"),
		iterations: DefaultIterations,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Meta returns the stored descriptor, or ErrNotInitialized.
func (v *Vault) Meta() (*Meta, error) {
	var m Meta
	ok, err := kvstore.GetJSON(v.kv, namespace, metaKey, &m)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return &m, nil
}

// Initialized reports whether Meta exists.
func (v *Vault) Initialized() (bool, error) {
	_, err := v.Meta()
	if errors.Is(err, ErrNotInitialized) {
		return false, nil
	}
	return err == nil, err
}

// Initialize creates the vault and leaves it unlocked with the new key.
// Nothing is persisted when the passphrase is rejected.
func (v *Vault) Initialize(passphrase string) error {
	if utf8.RuneCountInString(passphrase) < MinPassphraseLength {
		return ErrWeakPassphrase
	}
	v.initMu.Lock()
	defer v.initMu.Unlock()

	ok, err := v.Initialized()
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyInitialized
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("vault: generate salt: %w", err)
	}
	key := derive(passphrase, salt, v.iterations)

	nonce, ct, err := seal(key, []byte(verifierText))
	if err != nil {
		clear(key)
		return err
	}
	meta := Meta{
		Salt:           salt,
		Iterations:     v.iterations,
		VerifierNonce:  nonce,
		VerifierCipher: ct,
		CreatedAt:      time.Now().UTC(),
	}
	if err := kvstore.SetJSON(v.kv, namespace, metaKey, meta); err != nil {
		clear(key)
		return fmt.Errorf("vault: persist meta: %w", err)
	}

	v.setKey(key)
	v.logger.Info("vault initialized", "iterations", v.iterations)
	return nil
}

// Unlock re-derives the key and checks it against the stored verifier.
func (v *Vault) Unlock(passphrase string) error {
	meta, err := v.Meta()
	if err != nil {
		return err
	}
	key := derive(passphrase, meta.Salt, meta.Iterations)
	plain, err := open(key, meta.VerifierNonce, meta.VerifierCipher)
	if err != nil || subtle.ConstantTimeCompare(plain, []byte(verifierText)) != 1 {
		clear(key)
		v.logger.Warn("vault unlock rejected")
		return ErrWrongPassphrase
	}
	v.setKey(key)
	v.logger.Info("vault unlocked")
	return nil
}

// Lock zeroes and discards the key. Calling it on a locked vault is a
// no-op.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key == nil {
		return
	}
	clear(v.key)
	v.key = nil
	v.logger.Info("vault locked")
}

// IsUnlocked reports whether a key is currently held.
func (v *Vault) IsUnlocked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.key != nil
}

// Encrypt seals plaintext with a fresh random nonce.
func (v *Vault) Encrypt(plaintext []byte) (nonce, ciphertext []byte, err error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.key == nil {
		return nil, nil, ErrVaultLocked
	}
	return seal(v.key, plaintext)
}

// Decrypt opens a nonce/ciphertext pair. Any authentication failure is
// reported as ErrDecryptFailed and no plaintext is returned.
func (v *Vault) Decrypt(nonce, ciphertext []byte) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.key == nil {
		return nil, ErrVaultLocked
	}
	return open(v.key, nonce, ciphertext)
}

func (v *Vault) setKey(key []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key != nil {
		clear(v.key)
	}
	v.key = key
}

func derive(passphrase string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, iterations, keyLen, sha256.New)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func seal(key, plaintext []byte) ([]byte, []byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("vault: generate nonce: %w", err)
	}
	return nonce, gcm.Seal(nil, nonce, plaintext, nil), nil
}

func open(key, nonce, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, ErrDecryptFailed
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plain, nil
}
