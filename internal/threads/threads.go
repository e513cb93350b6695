// Package threads owns conversation threads and the rest of the
// persisted agent state: documents, the active and default thread, and
// the remote bridge cursor.
//
// Every mutation is applied to a copy of the state, persisted, and only
// then made visible. A failed write leaves the in-memory state exactly
// as it was, so a thread is never left half-updated.
package threads

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/hearth/internal/kvstore"
)

const (
	namespace = "agent"
	stateKey  = "state"

	// RemotePrefix starts the key of every remote thread.
	RemotePrefix = "remote:"

	// MinMessages is the smallest accepted message cap.
	MinMessages = 2
)

// Sources.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// Roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Document names.
const (
	DocPersona    = "persona"
	DocToolPolicy = "tool_policy"
	DocHeartbeat  = "heartbeat"
)

// DocumentNames lists the editable agent documents.
var DocumentNames = []string{DocPersona, DocToolPolicy, DocHeartbeat}

var (
	ErrNotFound        = errors.New("thread not found")
	ErrInvalidRole     = errors.New("role must be user or assistant")
	ErrInvalidSource   = errors.New("source must be local or remote")
	ErrMissingRemoteID = errors.New("remote thread needs a remote id")
	ErrUnknownDocument = errors.New("unknown document")
)

// Message is one immutable turn.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Thread is one conversation. Remote threads use "remote:<id>" as their
// ID so repeated inbound messages land in the same place.
type Thread struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Source    string    `json:"source"`
	RemoteID  string    `json:"remote_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages"`

	// LastUpdateID and LastReply remember the most recent inbound update
	// answered on a remote thread, so a redelivery is not appended twice.
	LastUpdateID int64  `json:"last_update_id,omitempty"`
	LastReply    string `json:"last_reply,omitempty"`
}

func (t *Thread) clone() *Thread {
	c := *t
	c.Messages = slices.Clone(t.Messages)
	return &c
}

// State is the persisted agent record.
type State struct {
	Documents    map[string]string  `json:"documents"`
	Threads      map[string]*Thread `json:"threads"`
	ActiveID     string             `json:"active_id"`
	DefaultID    string             `json:"default_id"`
	RemoteCursor int64              `json:"remote_cursor"`
	NextLocal    int                `json:"next_local"`
}

func (s *State) clone() *State {
	c := *s
	c.Documents = maps.Clone(s.Documents)
	c.Threads = make(map[string]*Thread, len(s.Threads))
	for id, t := range s.Threads {
		c.Threads[id] = t.clone()
	}
	return &c
}

// Store is the thread store. It is safe for concurrent use.
type Store struct {
	mu          sync.Mutex
	kv          kvstore.KV
	state       *State
	maxMessages int
	now         func() time.Time
	logger      *slog.Logger
}

// Open loads persisted state, creating a default local thread on first
// start. maxMessages is the per-thread cap.
func Open(kv kvstore.KV, maxMessages int, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		kv:          kv,
		maxMessages: max(maxMessages, MinMessages),
		now:         time.Now,
		logger:      logger.With("component", "threads"),
	}

	var st State
	if _, err := kvstore.GetJSON(kv, namespace, stateKey, &st); err != nil {
		return nil, fmt.Errorf("threads: load: %w", err)
	}
	if st.Threads == nil {
		st.Threads = make(map[string]*Thread)
	}
	if st.Documents == nil {
		st.Documents = make(map[string]string)
	}
	s.state = &st

	if _, ok := st.Threads[st.DefaultID]; !ok {
		if err := s.mutate(func(st *State) error {
			t := s.newLocal(st)
			st.DefaultID = t.ID
			if _, ok := st.Threads[st.ActiveID]; !ok {
				st.ActiveID = t.ID
			}
			return nil
		}); err != nil {
			return nil, err
		}
		s.logger.Info("created default thread", "id", s.state.DefaultID)
	}
	if _, ok := s.state.Threads[s.state.ActiveID]; !ok {
		if err := s.mutate(func(st *State) error {
			st.ActiveID = st.DefaultID
			return nil
		}); err != nil {
			return nil, err
		}
	}

	// The cap may have been lowered while we were down.
	if s.overCap() {
		if err := s.mutate(func(st *State) error {
			for _, t := range st.Threads {
				t.Messages = trim(t.Messages, s.maxMessages)
			}
			return nil
		}); err != nil {
			return nil, err
		}
		s.logger.Info("trimmed threads to message cap", "max_messages", s.maxMessages)
	}
	return s, nil
}

func (s *Store) overCap() bool {
	for _, t := range s.state.Threads {
		if len(t.Messages) > s.maxMessages {
			return true
		}
	}
	return false
}

// mutate applies fn to a copy of the state, persists it, and swaps it
// in. Callers must hold s.mu, except during Open.
func (s *Store) mutate(fn func(*State) error) error {
	next := s.state.clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := kvstore.SetJSON(s.kv, namespace, stateKey, next); err != nil {
		return fmt.Errorf("threads: persist: %w", err)
	}
	s.state = next
	return nil
}

func (s *Store) newLocal(st *State) *Thread {
	st.NextLocal++
	now := s.now()
	t := &Thread{
		ID:        newID(),
		Label:     "Chat " + strconv.Itoa(st.NextLocal),
		Source:    SourceLocal,
		CreatedAt: now,
		UpdatedAt: now,
	}
	st.Threads[t.ID] = t
	return t
}

func newID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// CreateThread returns a new local thread, or the remote thread for
// remoteID, creating it if needed. An existing remote thread's label is
// refreshed from displayName.
func (s *Store) CreateThread(source, remoteID, displayName string) (Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out *Thread
	err := s.mutate(func(st *State) error {
		switch source {
		case SourceLocal:
			out = s.newLocal(st)
			if name := strings.TrimSpace(displayName); name != "" {
				out.Label = name
			}
		case SourceRemote:
			remoteID = strings.TrimSpace(remoteID)
			if remoteID == "" {
				return ErrMissingRemoteID
			}
			id := RemotePrefix + remoteID
			label := strings.TrimSpace(displayName)
			if t, ok := st.Threads[id]; ok {
				if label != "" {
					t.Label = label
				}
				out = t
				return nil
			}
			if label == "" {
				label = "Remote " + remoteID
			}
			now := s.now()
			out = &Thread{
				ID:        id,
				Label:     label,
				Source:    SourceRemote,
				RemoteID:  remoteID,
				CreatedAt: now,
				UpdatedAt: now,
			}
			st.Threads[id] = out
		default:
			return ErrInvalidSource
		}
		return nil
	})
	if err != nil {
		return Thread{}, err
	}
	s.logger.Debug("thread ready", "id", out.ID, "source", out.Source, "label", out.Label)
	return *out.clone(), nil
}

// AppendMessage appends a message and trims the thread to the cap,
// dropping the oldest messages first.
func (s *Store) AppendMessage(threadID, role, content string) (Message, error) {
	if role != RoleUser && role != RoleAssistant {
		return Message{}, ErrInvalidRole
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := Message{Role: role, Content: content, CreatedAt: s.now()}
	err := s.mutate(func(st *State) error {
		t, ok := st.Threads[threadID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, threadID)
		}
		t.Messages = trim(append(t.Messages, msg), s.maxMessages)
		t.UpdatedAt = msg.CreatedAt
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

func trim(msgs []Message, n int) []Message {
	if len(msgs) <= n {
		return msgs
	}
	return slices.Clone(msgs[len(msgs)-n:])
}

// SetMaxMessages changes the cap and trims existing threads to it.
func (s *Store) SetMaxMessages(n int) error {
	n = max(n, MinMessages)
	s.mu.Lock()
	defer s.mu.Unlock()
	if n == s.maxMessages {
		return nil
	}
	err := s.mutate(func(st *State) error {
		for _, t := range st.Threads {
			t.Messages = trim(t.Messages, n)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.maxMessages = n
	return nil
}

// MaxMessages returns the current per-thread cap.
func (s *Store) MaxMessages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxMessages
}

// Get returns a copy of one thread.
func (s *Store) Get(id string) (Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.state.Threads[id]
	if !ok {
		return Thread{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *t.clone(), nil
}

// List returns every thread without messages, most recently updated
// first.
func (s *Store) List() []Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Thread, 0, len(s.state.Threads))
	for _, t := range s.state.Threads {
		c := *t
		c.Messages = nil
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Thread) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// SetActive marks a thread as the interactive target.
func (s *Store) SetActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.ActiveID == id {
		if _, ok := s.state.Threads[id]; ok {
			return nil
		}
	}
	return s.mutate(func(st *State) error {
		if _, ok := st.Threads[id]; !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		st.ActiveID = id
		return nil
	})
}

// Active returns the interactive thread.
func (s *Store) Active() Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.state.Threads[s.state.ActiveID].clone()
}

// Default returns the local thread that receives heartbeat replies and
// messages with no addressable thread.
func (s *Store) Default() Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.state.Threads[s.state.DefaultID].clone()
}

// Document returns a stored document, or "" when unset.
func (s *Store) Document(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Documents[name]
}

// SetDocument stores a document. An empty text clears it.
func (s *Store) SetDocument(name, text string) error {
	if !slices.Contains(DocumentNames, name) {
		return fmt.Errorf("%w: %q", ErrUnknownDocument, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutate(func(st *State) error {
		if strings.TrimSpace(text) == "" {
			delete(st.Documents, name)
			return nil
		}
		st.Documents[name] = text
		return nil
	})
}

// MarkHandled records updateID as answered on threadID with reply.
func (s *Store) MarkHandled(threadID string, updateID int64, reply string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutate(func(st *State) error {
		t, ok := st.Threads[threadID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, threadID)
		}
		t.LastUpdateID = updateID
		t.LastReply = reply
		return nil
	})
}

// Cursor returns the remote bridge cursor.
func (s *Store) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.RemoteCursor
}

// SetCursor persists the remote bridge cursor. It never moves backwards.
func (s *Store) SetCursor(c int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c <= s.state.RemoteCursor {
		return nil
	}
	return s.mutate(func(st *State) error {
		st.RemoteCursor = c
		return nil
	})
}
