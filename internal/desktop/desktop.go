// Package desktop drives the companion window-manager bridge over a
// WebSocket. Each action dials, sends one request, and waits for the
// matching reply.
package desktop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/hearth/internal/tools"
)

// DefaultReplyTimeout bounds the wait for the bridge's reply when the
// caller's context carries no deadline.
const DefaultReplyTimeout = 15 * time.Second

// ErrNoURL is returned when the bridge URL is empty.
var ErrNoURL = errors.New("desktop bridge URL not set")

type request struct {
	ID     int64              `json:"id"`
	Action string             `json:"action"`
	Args   tools.WindowAction `json:"args"`
}

type reply struct {
	ID     int64           `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Bridge implements [tools.WindowManager].
type Bridge struct {
	url    string
	dialer websocket.Dialer
	nextID atomic.Int64
	logger *slog.Logger
}

// New returns a Bridge for the given URL. http and https URLs are
// rewritten to ws and wss.
func New(rawURL string, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(rawURL) == "" {
		return nil, ErrNoURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse desktop URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported desktop URL scheme %q", u.Scheme)
	}
	return &Bridge{
		url: u.String(),
		dialer: websocket.Dialer{
			HandshakeTimeout: 5 * time.Second,
			ReadBufferSize:   64 * 1024,
			WriteBufferSize:  16 * 1024,
		},
		logger: logger.With("component", "desktop"),
	}, nil
}

// Do sends one action and returns the bridge's result rendered as text.
func (b *Bridge) Do(ctx context.Context, action tools.WindowAction) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultReplyTimeout)
		defer cancel()
	}

	conn, _, err := b.dialer.DialContext(ctx, b.url, nil)
	if err != nil {
		return "", fmt.Errorf("desktop bridge unreachable: %w", err)
	}
	defer conn.Close()
	conn.SetReadLimit(4 * 1024 * 1024)

	deadline, _ := ctx.Deadline()
	conn.SetWriteDeadline(deadline)
	conn.SetReadDeadline(deadline)

	// Closing the connection unblocks ReadJSON on cancellation.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	req := request{ID: b.nextID.Add(1), Action: action.Action, Args: action}
	b.logger.Debug("desktop action", "id", req.ID, "action", req.Action)
	if err := conn.WriteJSON(req); err != nil {
		return "", fmt.Errorf("send desktop action: %w", err)
	}

	for {
		var rep reply
		if err := conn.ReadJSON(&rep); err != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("desktop bridge: %w", ctx.Err())
			}
			return "", fmt.Errorf("read desktop reply: %w", err)
		}
		if rep.ID != req.ID {
			continue
		}
		if !rep.OK {
			if rep.Error == "" {
				rep.Error = "action rejected"
			}
			return "", errors.New(rep.Error)
		}
		return renderResult(rep.Result), nil
	}
}

// renderResult shows strings verbatim and anything else as compact JSON.
func renderResult(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return "ok"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
