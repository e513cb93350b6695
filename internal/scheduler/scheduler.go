// Package scheduler runs the agent's two autonomous loops: the
// heartbeat, which lets the agent speak up on its own, and the remote
// bridge poll, which relays inbound chat through the agent.
//
// Each loop has an in-flight guard. A tick that fires while the previous
// one is still running is dropped, never queued.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nugget/hearth/internal/audit"
	"github.com/nugget/hearth/internal/settings"
)

// DefaultTickTimeout bounds one heartbeat or one poll batch.
const DefaultTickTimeout = 5 * time.Minute

// ErrUnavailable marks a tick that cannot run yet, such as a locked
// vault or a missing credential. It is audited as skipped, not failed.
var ErrUnavailable = errors.New("unavailable")

// Inbound is one message from the remote bridge.
type Inbound struct {
	UpdateID    int64
	ChatID      int64
	MessageID   int64
	DisplayName string
	Text        string

	// Addressed is false for messages in shared chats that neither
	// mention nor reply to the agent. They advance the cursor and are
	// otherwise ignored.
	Addressed bool
}

// Bridge is the remote chat channel.
type Bridge interface {
	// Updates returns messages with an update id greater than after.
	Updates(ctx context.Context, after int64) ([]Inbound, error)
	Reply(ctx context.Context, to Inbound, text string) error
}

// Runner is the agent side the loops drive.
type Runner interface {
	// Ready reports whether the active provider can be called.
	Ready() error
	Heartbeat(ctx context.Context, now time.Time) (string, error)
	Respond(ctx context.Context, in Inbound) (string, error)
}

// Cursor persists the last handled update id.
type Cursor interface {
	Cursor() int64
	SetCursor(int64) error
}

// Settings supplies the live intervals, re-read before every tick.
type Settings interface {
	Get() settings.RuntimeConfig
}

// Config holds a Scheduler's dependencies. Bridge may be nil.
type Config struct {
	Runner      Runner
	Bridge      Bridge
	Cursor      Cursor
	Settings    Settings
	Audit       audit.Recorder
	Logger      *slog.Logger
	TickTimeout time.Duration
}

// Scheduler owns the two loops.
type Scheduler struct {
	runner   Runner
	bridge   Bridge
	cursor   Cursor
	settings Settings
	audit    audit.Recorder
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time

	beating atomic.Bool
	polling atomic.Bool

	// lastPollSkip suppresses repeat skip events, which would otherwise
	// flood the audit ring at poll cadence.
	lastPollSkip atomic.Pointer[string]

	mu      sync.Mutex
	running bool
	timers  map[string]*time.Timer
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New returns a stopped Scheduler.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.TickTimeout
	if timeout <= 0 {
		timeout = DefaultTickTimeout
	}
	return &Scheduler{
		runner:   cfg.Runner,
		bridge:   cfg.Bridge,
		cursor:   cfg.Cursor,
		settings: cfg.Settings,
		audit:    cfg.Audit,
		logger:   logger.With("component", "scheduler"),
		timeout:  timeout,
		now:      time.Now,
		timers:   make(map[string]*time.Timer),
	}
}

// Start arms both loops. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.arm("heartbeat", func(c settings.RuntimeConfig) time.Duration { return c.HeartbeatInterval }, s.Beat)
	s.arm("poll", func(c settings.RuntimeConfig) time.Duration { return c.PollInterval }, s.Poll)
	s.logger.Info("scheduler started")
}

// Stop disarms both loops and waits for running ticks to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	for name, t := range s.timers {
		t.Stop()
		delete(s.timers, name)
	}
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// arm schedules the next tick of a loop. The interval is read fresh each
// time so settings changes apply from the next tick. The next timer is
// armed before the tick runs, so a slow tick causes later ticks to be
// skipped by the guard rather than delayed.
func (s *Scheduler) arm(name string, interval func(settings.RuntimeConfig) time.Duration, tick func(context.Context) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	d := max(interval(s.settings.Get()), time.Second)
	s.timers[name] = time.AfterFunc(d, func() {
		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			return
		}
		ctx := s.ctx
		s.wg.Add(1)
		s.mu.Unlock()
		defer s.wg.Done()

		s.arm(name, interval, tick)
		if !tick(ctx) {
			s.logger.Debug("tick skipped, previous still in flight", "loop", name)
		}
	})
}

// Beat runs one heartbeat tick. It returns false without doing anything
// if a heartbeat is already in flight.
func (s *Scheduler) Beat(ctx context.Context) bool {
	if !s.beating.CompareAndSwap(false, true) {
		return false
	}
	defer s.beating.Store(false)

	if err := s.runner.Ready(); err != nil {
		s.logger.Info("heartbeat skipped", "reason", err)
		s.record(audit.TypeHeartbeatSkipped, "heartbeat skipped: "+err.Error())
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	reply, err := s.runner.Heartbeat(ctx, s.now())
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			s.record(audit.TypeHeartbeatSkipped, "heartbeat skipped: "+err.Error())
			return true
		}
		s.logger.Warn("heartbeat failed", "error", err)
		s.record(audit.TypeHeartbeatFailed, "heartbeat failed: "+err.Error())
		return true
	}
	s.logger.Info("heartbeat complete", "elapsed", time.Since(start).Round(time.Millisecond))
	s.record(audit.TypeHeartbeat, firstLine(reply))
	return true
}

// Poll runs one bridge tick. It returns false without touching the
// cursor or any thread if a poll is already in flight.
func (s *Scheduler) Poll(ctx context.Context) bool {
	if !s.polling.CompareAndSwap(false, true) {
		return false
	}
	defer s.polling.Store(false)

	if s.bridge == nil || !s.settings.Get().BridgeEnabled {
		return true
	}
	if err := s.runner.Ready(); err != nil {
		s.pollSkipped(err)
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	updates, err := s.bridge.Updates(ctx, s.cursor.Cursor())
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			s.pollSkipped(err)
			return true
		}
		s.logger.Warn("bridge fetch failed", "error", err)
		s.record(audit.TypeBridgeFailed, "fetch failed: "+err.Error())
		return true
	}
	s.lastPollSkip.Store(nil)

	for _, in := range updates {
		if err := s.handle(ctx, in); err != nil {
			s.logger.Warn("bridge delivery failed, will retry", "update", in.UpdateID, "error", err)
			s.record(audit.TypeBridgeFailed, err.Error())
			return true
		}
		if err := s.cursor.SetCursor(in.UpdateID); err != nil {
			s.logger.Error("cursor persist failed", "update", in.UpdateID, "error", err)
			s.record(audit.TypeBridgeFailed, "cursor persist failed: "+err.Error())
			return true
		}
	}
	return true
}

// handle processes one update. A nil return means the update is done
// and the cursor may move past it.
func (s *Scheduler) handle(ctx context.Context, in Inbound) error {
	if !in.Addressed || strings.TrimSpace(in.Text) == "" {
		s.logger.Debug("ignoring unaddressed update", "update", in.UpdateID, "chat", in.ChatID)
		return nil
	}

	reply, err := s.runner.Respond(ctx, in)
	if err != nil {
		// The agent had its turn; tell the sender instead of retrying the
		// same failing call forever.
		s.logger.Warn("bridge reply failed", "chat", in.ChatID, "error", err)
		s.record(audit.TypeBridgeFailed, fmt.Sprintf("reply to %s failed: %v", in.DisplayName, err))
		reply = "Sorry, I couldn't answer that just now."
	}
	if err := s.bridge.Reply(ctx, in, reply); err != nil {
		return fmt.Errorf("send to %s: %w", in.DisplayName, err)
	}
	s.record(audit.TypeBridge, fmt.Sprintf("replied to %s: %s", in.DisplayName, firstLine(reply)))
	return nil
}

func (s *Scheduler) pollSkipped(err error) {
	reason := err.Error()
	if prev := s.lastPollSkip.Load(); prev != nil && *prev == reason {
		return
	}
	s.lastPollSkip.Store(&reason)
	s.logger.Info("bridge poll skipped", "reason", reason)
	s.record(audit.TypeBridgeSkipped, "bridge skipped: "+reason)
}

func (s *Scheduler) record(eventType, text string) {
	if s.audit != nil {
		s.audit.Record(eventType, text)
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
