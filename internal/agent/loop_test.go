package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nugget/hearth/internal/audit"
	"github.com/nugget/hearth/internal/llm"
	"github.com/nugget/hearth/internal/prompts"
	"github.com/nugget/hearth/internal/tools"
)

// scriptedModel returns replies in order and repeats the last one.
type scriptedModel struct {
	replies []string
	err     error
	calls   [][]llm.Message
}

func (m *scriptedModel) Complete(_ context.Context, _ string, msgs []llm.Message) (string, error) {
	m.calls = append(m.calls, msgs)
	if m.err != nil {
		return "", m.err
	}
	i := min(len(m.calls)-1, len(m.replies)-1)
	return m.replies[i], nil
}

type stubTools struct {
	mu    sync.Mutex
	out   map[string]string
	calls []tools.Call
}

func (s *stubTools) Dispatch(_ context.Context, c tools.Call) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
	if out, ok := s.out[c.Name]; ok {
		return out
	}
	return "TOOL_RESULT " + c.Name + ": ok"
}

type memRecorder struct {
	events []audit.Event
}

func (r *memRecorder) Record(eventType, text string) audit.Event {
	e := audit.Event{ID: int64(len(r.events) + 1), Type: eventType, Text: text}
	r.events = append(r.events, e)
	return e
}

func userTurn(s string) []llm.Message {
	return []llm.Message{{Role: llm.RoleUser, Content: s}}
}

func TestRun_NoTools(t *testing.T) {
	m := &scriptedModel{replies: []string{"Hello!"}}
	loop := NewLoop(&stubTools{}, nil, nil)

	res, err := loop.Run(context.Background(), m, Request{System: "sys", Messages: userTurn("hi")})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "Hello!" || res.ModelCalls != 1 || res.ToolCalls != 0 || res.Stripped {
		t.Errorf("result = %+v", res)
	}
}

func TestRun_ToolResultsReinjected(t *testing.T) {
	m := &scriptedModel{replies: []string{
		"Let me check.{{tool:list_files}}",
		"You have a.txt and b.txt.",
	}}
	st := &stubTools{out: map[string]string{"list_files": "a.txt, b.txt"}}
	rec := &memRecorder{}
	loop := NewLoop(st, rec, nil)

	res, err := loop.Run(context.Background(), m, Request{Messages: userTurn("what do I have?")})
	if err != nil {
		t.Fatal(err)
	}
	if len(m.calls) != 2 {
		t.Fatalf("model calls = %d, want 2", len(m.calls))
	}

	second := m.calls[1]
	if len(second) != 3 {
		t.Fatalf("second call has %d messages, want 3", len(second))
	}
	if second[1].Role != llm.RoleAssistant || second[1].Content != "Let me check.{{tool:list_files}}" {
		t.Errorf("assistant turn = %+v", second[1])
	}
	if second[2].Role != llm.RoleUser || !strings.Contains(second[2].Content, "a.txt, b.txt") {
		t.Errorf("results turn = %+v", second[2])
	}
	if strings.Contains(res.Text, "{{tool:") {
		t.Errorf("final text has tool syntax: %q", res.Text)
	}
	if res.ToolCalls != 1 {
		t.Errorf("tool calls = %d", res.ToolCalls)
	}

	if len(rec.events) != 2 || rec.events[0].Type != audit.TypeToolCall || rec.events[1].Type != audit.TypeToolResult {
		t.Fatalf("audit = %+v", rec.events)
	}
	if rec.events[0].Text != "list_files" || rec.events[1].Text != "a.txt, b.txt" {
		t.Errorf("audit text = %q / %q", rec.events[0].Text, rec.events[1].Text)
	}
}

func TestRun_TerminatesAfterForcedFinal(t *testing.T) {
	m := &scriptedModel{replies: []string{"again {{tool:list_files}}"}}
	st := &stubTools{}
	loop := NewLoop(st, nil, nil)

	res, err := loop.Run(context.Background(), m, Request{Messages: userTurn("loop forever")})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(m.calls); got != MaxToolIterations+1 {
		t.Fatalf("model calls = %d, want %d", got, MaxToolIterations+1)
	}
	if res.ModelCalls != 4 {
		t.Errorf("ModelCalls = %d, want 4", res.ModelCalls)
	}
	if len(st.calls) != MaxToolIterations {
		t.Errorf("tool dispatches = %d, want %d", len(st.calls), MaxToolIterations)
	}
	if !res.Forced {
		t.Error("expected forced final call")
	}
	last := m.calls[len(m.calls)-1]
	if last[len(last)-1].Content != prompts.ForceFinalAnswer {
		t.Errorf("final call did not end with the force instruction")
	}
	if res.Text != "again" || !res.Stripped {
		t.Errorf("text = %q stripped = %v, want stripped forced reply", res.Text, res.Stripped)
	}
}

func TestRun_FallbackWhenNothingUsable(t *testing.T) {
	m := &scriptedModel{replies: []string{"{{tool:list_files}}"}}
	loop := NewLoop(&stubTools{}, nil, nil)

	res, err := loop.Run(context.Background(), m, Request{Messages: userTurn("x")})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != prompts.FallbackReply || !res.Fallback {
		t.Errorf("result = %+v", res)
	}
}

func TestRun_ModelErrorPropagates(t *testing.T) {
	boom := &llm.HTTPError{Provider: "openai", Status: 500}
	m := &scriptedModel{err: boom}
	loop := NewLoop(&stubTools{}, nil, nil)

	_, err := loop.Run(context.Background(), m, Request{Messages: userTurn("x")})
	var he *llm.HTTPError
	if !errors.As(err, &he) || he.Status != 500 {
		t.Errorf("err = %v", err)
	}
}

func TestRun_ToolsRunInOrder(t *testing.T) {
	m := &scriptedModel{replies: []string{
		"{{tool:wiki_search|query=Go}}{{tool:github_repo|repo=golang/go}}",
		"done",
	}}
	st := &stubTools{}
	loop := NewLoop(st, nil, nil)
	if _, err := loop.Run(context.Background(), m, Request{Messages: userTurn("x")}); err != nil {
		t.Fatal(err)
	}
	if len(st.calls) != 2 || st.calls[0].Name != "wiki_search" || st.calls[1].Name != "github_repo" {
		t.Errorf("calls = %+v", st.calls)
	}
	results := m.calls[1][2].Content
	if strings.Index(results, "wiki_search") > strings.Index(results, "github_repo") {
		t.Errorf("results out of order: %q", results)
	}
}

func TestRun_Proactive(t *testing.T) {
	m := &scriptedModel{replies: []string{"You have a.txt and b.txt."}}
	st := &stubTools{out: map[string]string{"list_files": "TOOL_RESULT list_files: a.txt, b.txt"}}
	loop := NewLoop(st, nil, nil)

	res, err := loop.Run(context.Background(), m, Request{Messages: userTurn("please list my files"), Proactive: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(m.calls) != 1 {
		t.Fatalf("model calls = %d, want 1", len(m.calls))
	}
	first := m.calls[0]
	if len(first) != 2 || !strings.Contains(first[1].Content, "a.txt, b.txt") {
		t.Errorf("proactive context missing: %+v", first)
	}
	if res.ToolCalls != 1 {
		t.Errorf("tool calls = %d", res.ToolCalls)
	}

	m2 := &scriptedModel{replies: []string{"ok"}}
	if _, err := loop.Run(context.Background(), m2, Request{Messages: userTurn("please list my files")}); err != nil {
		t.Fatal(err)
	}
	if len(m2.calls[0]) != 1 {
		t.Error("proactive tools ran while disabled")
	}
}

func TestRun_DoesNotMutateCallerMessages(t *testing.T) {
	msgs := make([]llm.Message, 1, 8)
	msgs[0] = llm.Message{Role: llm.RoleUser, Content: "x"}
	m := &scriptedModel{replies: []string{"{{tool:list_files}}", "done"}}
	loop := NewLoop(&stubTools{}, nil, nil)
	if _, err := loop.Run(context.Background(), m, Request{Messages: msgs}); err != nil {
		t.Fatal(err)
	}
	if got := msgs[:cap(msgs)][1]; got.Content != "" {
		t.Errorf("caller backing array was written: %+v", got)
	}
}
