// Package agent runs the bounded tool-calling loop between a model and
// the tool registry.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/nugget/hearth/internal/audit"
	"github.com/nugget/hearth/internal/llm"
	"github.com/nugget/hearth/internal/prompts"
	"github.com/nugget/hearth/internal/tools"
)

// MaxToolIterations is the number of tool rounds allowed before the
// loop forces a final answer. With the forced call, a turn makes at
// most MaxToolIterations+1 model calls.
const MaxToolIterations = 3

// Model is one configured provider and model, ready to complete a
// conversation.
type Model interface {
	Complete(ctx context.Context, system string, messages []llm.Message) (string, error)
}

// Dispatcher runs a tool call and always returns result text.
type Dispatcher interface {
	Dispatch(ctx context.Context, call tools.Call) string
}

// ModelFunc adapts a function to [Model].
type ModelFunc func(ctx context.Context, system string, messages []llm.Message) (string, error)

func (f ModelFunc) Complete(ctx context.Context, system string, messages []llm.Message) (string, error) {
	return f(ctx, system, messages)
}

// Request is one turn.
type Request struct {
	System   string
	Messages []llm.Message

	// Proactive enables inferring tool calls from the latest user
	// message before the first model call.
	Proactive bool
}

// Result is the outcome of a turn.
type Result struct {
	Text       string
	ModelCalls int
	ToolCalls  int
	Forced     bool
	Fallback   bool
	// Stripped is set when the final reply still carried directive
	// syntax that had to be removed before delivery.
	Stripped bool
	Elapsed  time.Duration
}

// Loop is the orchestrator. It holds no per-turn state and is safe for
// concurrent use.
type Loop struct {
	tools  Dispatcher
	audit  audit.Recorder
	logger *slog.Logger
}

// NewLoop returns a Loop. rec may be nil.
func NewLoop(d Dispatcher, rec audit.Recorder, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{tools: d, audit: rec, logger: logger.With("component", "agent")}
}

// Run drives one turn to completion. A model error ends the turn and is
// returned unchanged. Tool failures never do.
func (l *Loop) Run(ctx context.Context, m Model, req Request) (Result, error) {
	start := time.Now()
	var res Result
	working := slices.Clone(req.Messages)

	if req.Proactive {
		if last, ok := lastUser(working); ok {
			if calls := InferToolCalls(last); len(calls) > 0 {
				l.logger.Debug("proactive tools", "count", len(calls))
				results := l.dispatchAll(ctx, calls)
				res.ToolCalls += len(calls)
				working = append(working, llm.Message{Role: llm.RoleUser, Content: prompts.ProactiveResults(results)})
			}
		}
	}

	for iter := range MaxToolIterations {
		reply, err := l.complete(ctx, m, req.System, working, &res)
		if err != nil {
			return res, err
		}
		calls := ParseToolCalls(reply)
		if len(calls) == 0 {
			return l.finish(res, reply, start), nil
		}

		l.logger.Debug("tool round", "iteration", iter+1, "calls", len(calls))
		results := l.dispatchAll(ctx, calls)
		res.ToolCalls += len(calls)
		working = append(working,
			llm.Message{Role: llm.RoleAssistant, Content: reply},
			llm.Message{Role: llm.RoleUser, Content: prompts.ToolResults(results)},
		)
	}

	l.logger.Info("tool rounds exhausted, forcing final answer", "rounds", MaxToolIterations)
	res.Forced = true
	working = append(working, llm.Message{Role: llm.RoleUser, Content: prompts.ForceFinalAnswer})
	reply, err := l.complete(ctx, m, req.System, working, &res)
	if err != nil {
		return res, err
	}
	return l.finish(res, reply, start), nil
}

func (l *Loop) complete(ctx context.Context, m Model, system string, msgs []llm.Message, res *Result) (string, error) {
	res.ModelCalls++
	// Hand the model its own copy so later appends never alias.
	return m.Complete(ctx, system, slices.Clone(msgs))
}

func (l *Loop) finish(res Result, reply string, start time.Time) Result {
	if HasToolSyntax(reply) {
		res.Stripped = true
		l.logger.Debug("stripped leftover tool syntax from reply", "forced", res.Forced)
	}
	res.Text = StripToolSyntax(reply)
	if res.Text == "" {
		res.Text = prompts.FallbackReply
		res.Fallback = true
	}
	res.Elapsed = time.Since(start)
	l.logger.Info("turn complete",
		"model_calls", res.ModelCalls,
		"tool_calls", res.ToolCalls,
		"forced", res.Forced,
		"fallback", res.Fallback,
		"elapsed", res.Elapsed.Round(time.Millisecond),
	)
	return res
}

// dispatchAll runs calls in order, one at a time.
func (l *Loop) dispatchAll(ctx context.Context, calls []tools.Call) []string {
	results := make([]string, 0, len(calls))
	for _, c := range calls {
		l.record(audit.TypeToolCall, describeCall(c))
		out := l.tools.Dispatch(ctx, c)
		l.record(audit.TypeToolResult, firstLine(out))
		results = append(results, out)
	}
	return results
}

func (l *Loop) record(eventType, text string) {
	if l.audit != nil {
		l.audit.Record(eventType, text)
	}
}

func lastUser(msgs []llm.Message) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleUser {
			return msgs[i].Content, true
		}
	}
	return "", false
}

func describeCall(c tools.Call) string {
	if len(c.Args) == 0 {
		return c.Name
	}
	keys := make([]string, 0, len(c.Args))
	for k := range c.Args {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys)+1)
	parts = append(parts, c.Name)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, c.Args[k]))
	}
	return strings.Join(parts, " ")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
