// Package telegram is the remote chat bridge over the Telegram Bot API.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nugget/hearth/internal/httpkit"
)

// DefaultAPIURL is the public Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

// ErrNoToken is returned when no bot token is available, for example
// because the vault is locked.
var ErrNoToken = errors.New("telegram bot token not available")

// TokenFunc returns the current bot token, or "" when unavailable. It is
// consulted on every call so a token saved or unlocked later takes
// effect without a restart.
type TokenFunc func() string

// User is a Telegram account.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Name is the best human-readable name for u.
func (u *User) Name() string {
	if u == nil {
		return ""
	}
	if n := strings.TrimSpace(u.FirstName + " " + u.LastName); n != "" {
		return n
	}
	return u.Username
}

// Chat is a conversation.
type Chat struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title,omitempty"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// Entity marks a span of message text, such as a mention.
type Entity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
	User   *User  `json:"user,omitempty"`
}

// Message is an inbound message.
type Message struct {
	MessageID int64    `json:"message_id"`
	From      *User    `json:"from,omitempty"`
	Chat      Chat     `json:"chat"`
	Date      int64    `json:"date"`
	Text      string   `json:"text,omitempty"`
	Entities  []Entity `json:"entities,omitempty"`
	ReplyTo   *Message `json:"reply_to_message,omitempty"`
}

// Update is one getUpdates entry.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// APIError is a Bot API failure.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

// Client calls the Bot API.
type Client struct {
	apiURL      string
	token       TokenFunc
	httpClient  *http.Client
	pollTimeout time.Duration
	logger      *slog.Logger

	mu    sync.Mutex
	me    *User
	meFor string
}

// NewClient returns a Client. pollTimeout is the long-poll wait passed to
// getUpdates.
func NewClient(httpClient *http.Client, apiURL string, token TokenFunc, pollTimeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &Client{
		apiURL:      strings.TrimRight(apiURL, "/"),
		token:       token,
		httpClient:  httpClient,
		pollTimeout: pollTimeout,
		logger:      logger.With("component", "telegram"),
	}
}

// call posts params to a Bot API method and decodes the result into out.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	token := strings.TrimSpace(c.token())
	if token == "" {
		return ErrNoToken
	}
	if params == nil {
		params = struct{}{}
	}
	req, err := httpkit.NewJSONRequest(ctx, http.MethodPost, c.apiURL+"/bot"+token+"/"+method, params)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// url.Error would print the request URL, which carries the token.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("telegram %s: status %d: decode: %w", method, resp.StatusCode, err)
	}
	if !env.OK {
		code := env.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		return &APIError{Method: method, Code: code, Description: env.Description}
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}

// GetMe returns the bot's identity. It is cached per token.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	token := c.token()
	c.mu.Lock()
	if c.me != nil && c.meFor == token {
		me := *c.me
		c.mu.Unlock()
		return &me, nil
	}
	c.mu.Unlock()

	var me User
	if err := c.call(ctx, "getMe", nil, &me); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.me, c.meFor = &me, token
	c.mu.Unlock()
	c.logger.Info("bot identity", "username", me.Username, "id", me.ID)
	return &me, nil
}

// GetUpdates long-polls for updates at or after offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	params := map[string]any{
		"timeout":         int(c.pollTimeout / time.Second),
		"allowed_updates": []string{"message"},
	}
	if offset > 0 {
		params["offset"] = offset
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", params, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendMessage sends text to a chat. parseMode may be "" or "HTML".
// replyTo threads the message under an earlier one when non-zero.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text, parseMode string, replyTo int64) error {
	params := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if parseMode != "" {
		params["parse_mode"] = parseMode
	}
	if replyTo != 0 {
		params["reply_parameters"] = map[string]any{
			"message_id":                  replyTo,
			"allow_sending_without_reply": true,
		}
	}
	return c.call(ctx, "sendMessage", params, nil)
}

// BotLink returns the t.me link that opens a chat with the bot.
func (c *Client) BotLink(ctx context.Context) (string, error) {
	me, err := c.GetMe(ctx)
	if err != nil {
		return "", err
	}
	if me.Username == "" {
		return "", errors.New("bot has no username")
	}
	return "https://t.me/" + me.Username, nil
}
