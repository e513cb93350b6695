// Package tools dispatches the model's tool calls to external
// collaborators. A tool never aborts the caller: every outcome, success
// or failure, comes back as a TOOL_RESULT line for the conversation.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// ResultPrefix starts every dispatch result.
const ResultPrefix = "TOOL_RESULT"

// Defaults for a Registry.
const (
	DefaultTimeout        = 20 * time.Second
	DefaultMaxResultBytes = 8000
)

// Call is one parsed tool invocation.
type Call struct {
	Name string
	Args map[string]string
}

// Arg returns the first non-empty value among keys.
func (c Call) Arg(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(c.Args[k]); v != "" {
			return v
		}
	}
	return ""
}

// Handler runs a tool.
type Handler func(ctx context.Context, call Call) (string, error)

// Tool is a registered capability.
type Tool struct {
	Name        string
	Description string
	// Usage is an example invocation in the inline grammar.
	Usage   string
	Handler Handler
}

// Registry holds the available tools.
type Registry struct {
	tools     map[string]*Tool
	timeout   time.Duration
	maxResult int
	logger    *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithTimeout bounds each dispatch.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMaxResultBytes caps the size of a dispatch result.
func WithMaxResultBytes(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxResult = n
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:     make(map[string]*Tool),
		timeout:   DefaultTimeout,
		maxResult: DefaultMaxResultBytes,
		logger:    logger.With("component", "tools"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get returns the named tool, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Describe renders the tool list for the system prompt.
func (r *Registry) Describe() string {
	var sb strings.Builder
	for _, n := range r.Names() {
		t := r.tools[n]
		fmt.Fprintf(&sb, "- %s: %s\n  %s\n", t.Name, t.Description, t.Usage)
	}
	return sb.String()
}

// Dispatch runs call and always returns result text.
func (r *Registry) Dispatch(ctx context.Context, call Call) string {
	out, err := r.Execute(ctx, call)
	if err != nil {
		return err.Error()
	}
	return out
}

// Execute runs call. Failures are returned as *DispatchError, whose
// message is already in TOOL_RESULT form.
func (r *Registry) Execute(ctx context.Context, call Call) (string, error) {
	t := r.Get(call.Name)
	if t == nil {
		return "", newDispatchError(call.Name, &ErrToolUnavailable{ToolName: call.Name})
	}
	if call.Args == nil {
		call.Args = map[string]string{}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	out, err := t.Handler(ctx, call)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("timed out after %s", r.timeout)
		}
		r.logger.Warn("tool failed", "tool", call.Name, "elapsed", time.Since(start), "error", err)
		return "", newDispatchError(call.Name, err)
	}
	r.logger.Debug("tool complete", "tool", call.Name, "elapsed", time.Since(start), "bytes", len(out))

	out = strings.TrimSpace(out)
	if out == "" {
		out = "(no output)"
	}
	return fmt.Sprintf("%s %s: %s", ResultPrefix, call.Name, truncate(out, r.maxResult)), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return cutRunes(s, n) + "\n…[truncated]"
}

// cutRunes returns at most the first n bytes of s without splitting a
// multibyte rune at the cut. Invalid bytes elsewhere are left alone.
func cutRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// tailRunes returns at most the last n bytes of s, starting on a rune
// boundary.
func tailRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}
