// Package kvtest provides in-memory stores for tests in other packages.
package kvtest

import (
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/nugget/hearth/internal/kvstore"

	_ "modernc.org/sqlite"
)

// New returns an empty store backed by an in-memory SQLite database
// that is closed when the test ends.
func New(t testing.TB) *kvstore.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open in-memory sqlite: %v", err)
	}
	// Every pooled connection to :memory: would get its own database.
	db.SetMaxOpenConns(1)
	s, err := kvstore.NewFromDB(db)
	if err != nil {
		t.Fatalf("kvstore.NewFromDB: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ErrInjected is returned by a Flaky store's writes while failing.
var ErrInjected = errors.New("kvtest: injected write failure")

// Flaky wraps a KV and fails every Set while FailWrites is true.
type Flaky struct {
	kvstore.KV
	FailWrites atomic.Bool
}

func (f *Flaky) Set(namespace, key, value string) error {
	if f.FailWrites.Load() {
		return ErrInjected
	}
	return f.KV.Set(namespace, key, value)
}
