package vault

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/nugget/hearth/internal/kvstore/kvtest"
)

// A low work factor keeps the suite fast. Unlock always uses the stored
// count, so behavior is otherwise identical.
func testVault(t *testing.T) *Vault {
	t.Helper()
	return New(kvtest.New(t), nil, WithIterations(1000))
}

func TestInitialize_WeakPassphrase(t *testing.T) {
	for _, pass := range []string{"", "a", "1234567", "ünïcödé"} {
		t.Run(pass, func(t *testing.T) {
			v := testVault(t)
			if err := v.Initialize(pass); !errors.Is(err, ErrWeakPassphrase) {
				t.Fatalf("Initialize(%q) = %v, want ErrWeakPassphrase", pass, err)
			}
			if ok, _ := v.Initialized(); ok {
				t.Error("Meta was created for a weak passphrase")
			}
			if v.IsUnlocked() {
				t.Error("vault unlocked after rejected initialize")
			}
		})
	}
}

func TestInitialize_UnlocksAndPersistsMeta(t *testing.T) {
	v := testVault(t)
	if err := v.Initialize("correct horse"); err != nil {
		t.Fatal(err)
	}
	if !v.IsUnlocked() {
		t.Error("vault should be unlocked after Initialize")
	}
	m, err := v.Meta()
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Salt) != saltLen || m.Iterations != 1000 || m.CreatedAt.IsZero() {
		t.Errorf("meta = %+v", m)
	}
	if err := v.Initialize("another passphrase"); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("second Initialize = %v", err)
	}
}

func TestInitialize_ConcurrentCallsWriteOneVerifier(t *testing.T) {
	v := testVault(t)
	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = v.Initialize(fmt.Sprintf("passphrase-%d", i))
		}()
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		switch {
		case err == nil:
			if winner >= 0 {
				t.Fatalf("Initialize succeeded twice (%d and %d)", winner, i)
			}
			winner = i
		case !errors.Is(err, ErrAlreadyInitialized):
			t.Errorf("Initialize %d = %v", i, err)
		}
	}
	if winner < 0 {
		t.Fatal("no Initialize succeeded")
	}

	nonce, ct, err := v.Encrypt([]byte("sk-live"))
	if err != nil {
		t.Fatal(err)
	}
	v.Lock()
	if err := v.Unlock(fmt.Sprintf("passphrase-%d", winner)); err != nil {
		t.Fatalf("Unlock with the winning passphrase: %v", err)
	}
	if pt, err := v.Decrypt(nonce, ct); err != nil || string(pt) != "sk-live" {
		t.Errorf("Decrypt = %q, %v", pt, err)
	}
}

func TestUnlock(t *testing.T) {
	v := testVault(t)
	if err := v.Unlock("whatever1"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Unlock before init = %v, want ErrNotInitialized", err)
	}

	if err := v.Initialize("correct horse"); err != nil {
		t.Fatal(err)
	}
	v.Lock()

	if err := v.Unlock("wrong horse!"); !errors.Is(err, ErrWrongPassphrase) {
		t.Fatalf("Unlock(wrong) = %v", err)
	}
	if v.IsUnlocked() {
		t.Fatal("wrong passphrase unlocked the vault")
	}
	if err := v.Unlock("correct horse"); err != nil {
		t.Fatalf("Unlock(correct) = %v", err)
	}
	if !v.IsUnlocked() {
		t.Fatal("vault should be unlocked")
	}
}

func TestEncryptDecrypt(t *testing.T) {
	v := testVault(t)
	if err := v.Initialize("correct horse"); err != nil {
		t.Fatal(err)
	}

	n1, c1, err := v.Encrypt([]byte("secret-value"))
	if err != nil {
		t.Fatal(err)
	}
	n2, _, err := v.Encrypt([]byte("secret-value"))
	if err != nil {
		t.Fatal(err)
	}
	if string(n1) == string(n2) {
		t.Error("nonce reused across Encrypt calls")
	}

	plain, err := v.Decrypt(n1, c1)
	if err != nil {
		t.Fatal(err)
	}
	if string(plain) != "secret-value" {
		t.Errorf("Decrypt = %q", plain)
	}

	tampered := append([]byte(nil), c1...)
	tampered[0] ^= 0xff
	if plain, err := v.Decrypt(n1, tampered); !errors.Is(err, ErrDecryptFailed) || plain != nil {
		t.Errorf("Decrypt(tampered) = %q, %v", plain, err)
	}
	if _, err := v.Decrypt([]byte("short"), c1); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("Decrypt(bad nonce) = %v", err)
	}
}

func TestLock_DiscardsKey(t *testing.T) {
	v := testVault(t)
	if err := v.Initialize("correct horse"); err != nil {
		t.Fatal(err)
	}
	nonce, ct, err := v.Encrypt([]byte("secret-value"))
	if err != nil {
		t.Fatal(err)
	}

	v.mu.RLock()
	held := v.key
	v.mu.RUnlock()

	v.Lock()
	v.Lock()

	for i, b := range held {
		if b != 0 {
			t.Fatalf("key byte %d not zeroed after Lock", i)
		}
	}
	if _, err := v.Decrypt(nonce, ct); !errors.Is(err, ErrVaultLocked) {
		t.Errorf("Decrypt after Lock = %v, want ErrVaultLocked", err)
	}
	if _, _, err := v.Encrypt([]byte("x")); !errors.Is(err, ErrVaultLocked) {
		t.Errorf("Encrypt after Lock = %v, want ErrVaultLocked", err)
	}
}

func TestUnlock_SurvivesRestart(t *testing.T) {
	kv := kvtest.New(t)
	first := New(kv, nil, WithIterations(1000))
	if err := first.Initialize("correct horse"); err != nil {
		t.Fatal(err)
	}
	nonce, ct, _ := first.Encrypt([]byte("sk-test"))

	second := New(kv, nil)
	if second.IsUnlocked() {
		t.Fatal("new process should start locked")
	}
	if err := second.Unlock("correct horse"); err != nil {
		t.Fatal(err)
	}
	plain, err := second.Decrypt(nonce, ct)
	if err != nil || string(plain) != "sk-test" {
		t.Errorf("Decrypt = %q, %v", plain, err)
	}
}
