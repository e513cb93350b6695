// Package audit keeps the agent's activity log: a bounded ring of short
// events, newest first, persisted so it survives restarts.
package audit

import (
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/nugget/hearth/internal/kvstore"
)

// MaxEvents is the ring capacity. Older events are dropped.
const MaxEvents = 150

// MaxTextLen bounds the stored text of a single event.
const MaxTextLen = 500

const (
	namespace = "audit"
	key       = "events"
)

// Event type tags.
const (
	TypeVault            = "vault"
	TypeCredential       = "credential"
	TypeSettings         = "settings"
	TypeChat             = "chat"
	TypeToolCall         = "tool_call"
	TypeToolResult       = "tool_result"
	TypeProviderError    = "provider_error"
	TypeProviderFallback = "provider_fallback"
	TypeHeartbeat        = "heartbeat"
	TypeHeartbeatSkipped = "heartbeat_skipped"
	TypeHeartbeatFailed  = "heartbeat_failed"
	TypeBridge           = "bridge"
	TypeBridgeSkipped    = "bridge_skipped"
	TypeBridgeFailed     = "bridge_failed"
)

// Event is one audit record.
type Event struct {
	ID   int64     `json:"id"`
	Type string    `json:"type"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

// Sink receives a copy of every event as it is recorded. Publish must not
// block.
type Sink interface {
	Publish(Event)
}

// Recorder is what components that emit audit events depend on.
type Recorder interface {
	Record(eventType, text string) Event
}

type persisted struct {
	NextID int64   `json:"next_id"`
	Events []Event `json:"events"`
}

// Log is the ring buffer. Safe for concurrent use.
type Log struct {
	kv     kvstore.KV
	logger *slog.Logger

	mu     sync.Mutex
	events []Event // newest first
	nextID int64
	sink   Sink
	now    func() time.Time
}

// New loads the persisted log from kv. A nil kv keeps the log in memory
// only.
func New(kv kvstore.KV, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Log{
		kv:     kv,
		logger: logger.With("component", "audit"),
		nextID: 1,
		now:    time.Now,
	}
	if kv != nil {
		var p persisted
		ok, err := kvstore.GetJSON(kv, namespace, key, &p)
		if err != nil {
			l.logger.Warn("audit log unreadable, starting empty", "error", err)
		} else if ok {
			l.events = p.Events
			if len(l.events) > MaxEvents {
				l.events = l.events[:MaxEvents]
			}
			l.nextID = max(p.NextID, 1)
		}
	}
	return l
}

// SetSink attaches a mirror for new events.
func (l *Log) SetSink(s Sink) {
	l.mu.Lock()
	l.sink = s
	l.mu.Unlock()
}

// Record appends an event and returns it.
func (l *Log) Record(eventType, text string) Event {
	l.mu.Lock()
	ev := Event{
		ID:   l.nextID,
		Type: eventType,
		Text: clip(text, MaxTextLen),
		Time: l.now().UTC(),
	}
	l.nextID++

	l.events = append(l.events, Event{})
	copy(l.events[1:], l.events)
	l.events[0] = ev
	if len(l.events) > MaxEvents {
		l.events = l.events[:MaxEvents]
	}

	snapshot := persisted{NextID: l.nextID, Events: l.events}
	var err error
	if l.kv != nil {
		err = kvstore.SetJSON(l.kv, namespace, key, snapshot)
	}
	sink := l.sink
	l.mu.Unlock()

	if err != nil {
		l.logger.Warn("audit event not persisted", "type", eventType, "error", err)
	}
	l.logger.Debug("audit", "type", eventType, "text", ev.Text)
	if sink != nil {
		sink.Publish(ev)
	}
	return ev
}

// List returns up to limit events, newest first. A limit of zero or
// less returns everything.
func (l *Log) List(limit int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Event, n)
	copy(out, l.events[:n])
	return out
}

// CountType returns how many retained events carry eventType.
func (l *Log) CountType(eventType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s + "…"
}
