package files

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testWorkspace(t *testing.T) *Workspace {
	t.Helper()
	dir := t.TempDir()
	write := func(rel, body string) {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("a.txt", "alpha")
	write("b.txt", "bravo")
	write("notes/todo.md", "- ship it")
	write(".secret/key", "nope")
	w, err := NewWorkspace(dir)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func TestListFiles(t *testing.T) {
	w := testWorkspace(t)
	entries, err := w.ListFiles(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, e := range entries {
		ids = append(ids, e.ID+":"+e.Kind)
	}
	got := strings.Join(ids, ",")
	want := "a.txt:file,b.txt:file,notes:dir,notes/todo.md:file"
	if got != want {
		t.Errorf("entries = %s, want %s", got, want)
	}
	if entries[0].Size != 5 || entries[0].Type != "text/plain" {
		t.Errorf("a.txt = %+v", entries[0])
	}
}

func TestReadFile(t *testing.T) {
	w := testWorkspace(t)
	ctx := context.Background()

	tests := []struct {
		ref  string
		want string
	}{
		{"a.txt", "alpha"},
		{"notes/todo.md", "- ship it"},
		{"todo.md", "- ship it"},
	}
	for _, tt := range tests {
		got, err := w.ReadFile(ctx, tt.ref)
		if err != nil {
			t.Errorf("ReadFile(%q): %v", tt.ref, err)
			continue
		}
		if string(got) != tt.want {
			t.Errorf("ReadFile(%q) = %q", tt.ref, got)
		}
	}

	if _, err := w.ReadFile(ctx, "../etc/passwd"); err == nil || !strings.Contains(err.Error(), "escapes workspace") {
		t.Errorf("escape err = %v", err)
	}
	if _, err := w.ReadFile(ctx, "missing.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing err = %v", err)
	}
	if _, err := w.ReadFile(ctx, "notes"); err == nil {
		t.Error("reading a directory should fail")
	}
}

func TestNewWorkspace_RequiresDirectory(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	os.WriteFile(f, nil, 0o644)
	if _, err := NewWorkspace(f); err == nil {
		t.Error("file accepted as workspace")
	}
}
