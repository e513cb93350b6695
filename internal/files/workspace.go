// Package files exposes a workspace directory to the list_files and
// read_file tools. Paths outside the workspace are refused.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nugget/hearth/internal/tools"
)

// Limits on what the tools will touch.
const (
	MaxEntries  = 500
	MaxDepth    = 4
	MaxReadSize = 1 << 20
)

// ErrNotFound is returned when no file matches an id or name.
var ErrNotFound = errors.New("file not found")

// Workspace implements [tools.Filesystem] over a directory.
type Workspace struct {
	root string
}

// NewWorkspace returns a Workspace rooted at dir.
func NewWorkspace(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory", abs)
	}
	return &Workspace{root: abs}, nil
}

// Root is the absolute workspace path.
func (w *Workspace) Root() string { return w.root }

// ListFiles walks the workspace and returns entries sorted by path. Hidden
// entries are skipped. The id of an entry is its slash-separated path
// relative to the root.
func (w *Workspace) ListFiles(ctx context.Context) ([]tools.FileEntry, error) {
	var out []tools.FileEntry
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if path == w.root {
			return nil
		}
		rel, _ := filepath.Rel(w.root, path)
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.Count(rel, string(filepath.Separator)) >= MaxDepth {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if len(out) >= MaxEntries {
			return filepath.SkipAll
		}

		id := filepath.ToSlash(rel)
		if d.IsDir() {
			out = append(out, tools.FileEntry{ID: id, Name: id, Kind: "dir"})
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		out = append(out, tools.FileEntry{
			ID:   id,
			Name: id,
			Kind: "file",
			Type: mimeType(d.Name()),
			Size: info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ReadFile reads by id (relative path) or, failing that, by base name
// when exactly one file has it.
func (w *Workspace) ReadFile(ctx context.Context, idOrName string) ([]byte, error) {
	path, err := w.resolve(idOrName)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
		path, err = w.findByName(ctx, filepath.Base(idOrName))
		if err != nil {
			return nil, err
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", idOrName)
	}
	return io.ReadAll(io.LimitReader(f, MaxReadSize))
}

// resolve maps a relative path into the workspace, refusing escapes.
func (w *Workspace) resolve(p string) (string, error) {
	if p == "" {
		return "", ErrNotFound
	}
	abs := filepath.Clean(filepath.Join(w.root, filepath.FromSlash(p)))
	if filepath.IsAbs(p) {
		abs = filepath.Clean(p)
	}
	if abs != w.root && !strings.HasPrefix(abs, w.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", p)
	}
	return abs, nil
}

func (w *Workspace) findByName(ctx context.Context, name string) (string, error) {
	entries, err := w.ListFiles(ctx)
	if err != nil {
		return "", err
	}
	var match string
	for _, e := range entries {
		if e.Kind != "file" || filepath.Base(e.ID) != name {
			continue
		}
		if match != "" {
			return "", fmt.Errorf("%q is ambiguous, use the id", name)
		}
		match = e.ID
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return filepath.Join(w.root, filepath.FromSlash(match)), nil
}

func mimeType(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		if i := strings.IndexByte(t, ';'); i > 0 {
			return t[:i]
		}
		return t
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown":
		return "text/markdown"
	case ".go", ".py", ".sh", ".txt", ".log", ".yaml", ".yml", ".toml":
		return "text/plain"
	}
	return "application/octet-stream"
}
