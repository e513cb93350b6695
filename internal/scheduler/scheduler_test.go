package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nugget/hearth/internal/audit"
	"github.com/nugget/hearth/internal/settings"
)

type fakeRunner struct {
	ready     error
	beatErr   error
	beatReply string
	beats     atomic.Int32

	mu        sync.Mutex
	respond   func(in Inbound) (string, error)
	responded []Inbound
}

func (r *fakeRunner) Ready() error { return r.ready }

func (r *fakeRunner) Heartbeat(context.Context, time.Time) (string, error) {
	r.beats.Add(1)
	return r.beatReply, r.beatErr
}

func (r *fakeRunner) Respond(_ context.Context, in Inbound) (string, error) {
	r.mu.Lock()
	r.responded = append(r.responded, in)
	fn := r.respond
	r.mu.Unlock()
	if fn != nil {
		return fn(in)
	}
	return "echo: " + in.Text, nil
}

type fakeBridge struct {
	mu       sync.Mutex
	updates  []Inbound
	fetchErr error
	sendErr  error
	afters   []int64
	sent     []string
}

func (b *fakeBridge) Updates(_ context.Context, after int64) ([]Inbound, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.afters = append(b.afters, after)
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	var out []Inbound
	for _, u := range b.updates {
		if u.UpdateID > after {
			out = append(out, u)
		}
	}
	return out, nil
}

func (b *fakeBridge) Reply(_ context.Context, to Inbound, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, fmt.Sprintf("%d:%s", to.ChatID, text))
	return nil
}

type memCursor struct {
	mu sync.Mutex
	c  int64
}

func (m *memCursor) Cursor() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.c
}

func (m *memCursor) SetCursor(c int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c = c
	return nil
}

type staticSettings settings.RuntimeConfig

func (s staticSettings) Get() settings.RuntimeConfig { return settings.RuntimeConfig(s) }

func newTestScheduler(r Runner, b Bridge, c Cursor) (*Scheduler, *audit.Log) {
	log := audit.New(nil, nil)
	s := New(Config{
		Runner:   r,
		Bridge:   b,
		Cursor:   c,
		Settings: staticSettings{BridgeEnabled: true, HeartbeatInterval: time.Hour, PollInterval: time.Hour},
		Audit:    log,
	})
	return s, log
}

func TestBeat(t *testing.T) {
	r := &fakeRunner{beatReply: "All quiet.\nNothing else."}
	s, log := newTestScheduler(r, nil, &memCursor{})

	if !s.Beat(context.Background()) {
		t.Fatal("Beat returned false")
	}
	events := log.List(0)
	if len(events) != 1 || events[0].Type != audit.TypeHeartbeat || events[0].Text != "All quiet." {
		t.Errorf("events = %+v", events)
	}
}

func TestBeat_SkippedIsNotFailed(t *testing.T) {
	r := &fakeRunner{ready: fmt.Errorf("%w: vault locked", ErrUnavailable)}
	s, log := newTestScheduler(r, nil, &memCursor{})

	s.Beat(context.Background())
	if r.beats.Load() != 0 {
		t.Error("heartbeat ran while unavailable")
	}
	if log.CountType(audit.TypeHeartbeatSkipped) != 1 || log.CountType(audit.TypeHeartbeatFailed) != 0 {
		t.Errorf("events = %+v", log.List(0))
	}
}

func TestBeat_Failed(t *testing.T) {
	r := &fakeRunner{beatErr: errors.New("openai: http 500")}
	s, log := newTestScheduler(r, nil, &memCursor{})

	s.Beat(context.Background())
	if log.CountType(audit.TypeHeartbeatFailed) != 1 || log.CountType(audit.TypeHeartbeatSkipped) != 0 {
		t.Errorf("events = %+v", log.List(0))
	}
}

func TestPoll_HandlesAddressedAndAdvancesCursor(t *testing.T) {
	r := &fakeRunner{}
	b := &fakeBridge{updates: []Inbound{
		{UpdateID: 11, ChatID: 1, Text: "hi", Addressed: true, DisplayName: "Alice"},
		{UpdateID: 12, ChatID: 2, Text: "chatter", Addressed: false},
		{UpdateID: 13, ChatID: 1, Text: "again", Addressed: true, DisplayName: "Alice"},
	}}
	cur := &memCursor{c: 10}
	s, log := newTestScheduler(r, b, cur)

	if !s.Poll(context.Background()) {
		t.Fatal("Poll returned false")
	}
	if cur.Cursor() != 13 {
		t.Errorf("cursor = %d, want 13", cur.Cursor())
	}
	if len(r.responded) != 2 {
		t.Errorf("responded to %d updates, want 2", len(r.responded))
	}
	if len(b.sent) != 2 || b.sent[0] != "1:echo: hi" {
		t.Errorf("sent = %v", b.sent)
	}
	if b.afters[0] != 10 {
		t.Errorf("fetched after %d, want 10", b.afters[0])
	}
	if log.CountType(audit.TypeBridge) != 2 {
		t.Errorf("events = %+v", log.List(0))
	}
}

func TestPoll_SendFailureStopsCursor(t *testing.T) {
	r := &fakeRunner{}
	b := &fakeBridge{
		updates: []Inbound{{UpdateID: 5, ChatID: 1, Text: "hi", Addressed: true}},
		sendErr: errors.New("telegram 502"),
	}
	cur := &memCursor{c: 4}
	s, log := newTestScheduler(r, b, cur)

	s.Poll(context.Background())
	if cur.Cursor() != 4 {
		t.Errorf("cursor advanced to %d past an unsent reply", cur.Cursor())
	}
	if log.CountType(audit.TypeBridgeFailed) != 1 {
		t.Errorf("events = %+v", log.List(0))
	}
}

func TestPoll_RespondFailureStillReplies(t *testing.T) {
	r := &fakeRunner{respond: func(Inbound) (string, error) { return "", errors.New("anthropic: http 529") }}
	b := &fakeBridge{updates: []Inbound{{UpdateID: 5, ChatID: 9, Text: "hi", Addressed: true}}}
	cur := &memCursor{}
	s, _ := newTestScheduler(r, b, cur)

	s.Poll(context.Background())
	if cur.Cursor() != 5 {
		t.Errorf("cursor = %d, want 5", cur.Cursor())
	}
	if len(b.sent) != 1 || b.sent[0] != "9:Sorry, I couldn't answer that just now." {
		t.Errorf("sent = %v", b.sent)
	}
}

func TestPoll_FetchFailure(t *testing.T) {
	b := &fakeBridge{fetchErr: errors.New("connection refused")}
	cur := &memCursor{c: 7}
	s, log := newTestScheduler(&fakeRunner{}, b, cur)

	s.Poll(context.Background())
	if cur.Cursor() != 7 {
		t.Errorf("cursor = %d", cur.Cursor())
	}
	if log.CountType(audit.TypeBridgeFailed) != 1 {
		t.Errorf("events = %+v", log.List(0))
	}
}

func TestPoll_SkipAuditedOnce(t *testing.T) {
	r := &fakeRunner{ready: fmt.Errorf("%w: no telegram token", ErrUnavailable)}
	b := &fakeBridge{}
	s, log := newTestScheduler(r, b, &memCursor{})

	for range 5 {
		s.Poll(context.Background())
	}
	if n := log.CountType(audit.TypeBridgeSkipped); n != 1 {
		t.Errorf("skipped events = %d, want 1", n)
	}
	if len(b.afters) != 0 {
		t.Error("fetched while unavailable")
	}
}

func TestPoll_DisabledDoesNothing(t *testing.T) {
	b := &fakeBridge{updates: []Inbound{{UpdateID: 1, Addressed: true, Text: "x"}}}
	s := New(Config{
		Runner:   &fakeRunner{},
		Bridge:   b,
		Cursor:   &memCursor{},
		Settings: staticSettings{BridgeEnabled: false},
	})
	s.Poll(context.Background())
	if len(b.afters) != 0 {
		t.Error("polled while disabled")
	}
}

func TestPoll_InFlightGuard(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	r := &fakeRunner{respond: func(in Inbound) (string, error) {
		close(entered)
		<-release
		return "done", nil
	}}
	b := &fakeBridge{updates: []Inbound{{UpdateID: 21, ChatID: 1, Text: "slow", Addressed: true}}}
	cur := &memCursor{c: 20}
	s, _ := newTestScheduler(r, b, cur)

	done := make(chan bool)
	go func() { done <- s.Poll(context.Background()) }()
	<-entered

	if s.Poll(context.Background()) {
		t.Error("second Poll ran while the first was in flight")
	}
	if cur.Cursor() != 20 {
		t.Errorf("cursor moved to %d during guarded tick", cur.Cursor())
	}
	b.mu.Lock()
	fetches := len(b.afters)
	b.mu.Unlock()
	if fetches != 1 {
		t.Errorf("fetches = %d, want 1", fetches)
	}

	close(release)
	if !<-done {
		t.Error("first Poll reported skipped")
	}
	if cur.Cursor() != 21 {
		t.Errorf("cursor = %d, want 21", cur.Cursor())
	}
}

func TestBeat_InFlightGuard(t *testing.T) {
	s, _ := newTestScheduler(&fakeRunner{}, nil, &memCursor{})
	s.beating.Store(true)
	if s.Beat(context.Background()) {
		t.Error("Beat ran while in flight")
	}
}

func TestStartStop(t *testing.T) {
	s, _ := newTestScheduler(&fakeRunner{}, &fakeBridge{}, &memCursor{})
	s.Start(context.Background())
	s.Start(context.Background())
	s.mu.Lock()
	armed := len(s.timers)
	s.mu.Unlock()
	if armed != 2 {
		t.Errorf("armed timers = %d, want 2", armed)
	}
	s.Stop()
	s.Stop()
	if len(s.timers) != 0 {
		t.Errorf("timers left after Stop: %d", len(s.timers))
	}
}
