package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf16"

	"github.com/nugget/hearth/internal/scheduler"
)

// chunkLen leaves headroom under MaxMessageLen for markup added by
// rendering and for characters outside the basic plane.
const chunkLen = 3800

// Bridge adapts a Client to [scheduler.Bridge].
type Bridge struct {
	client *Client
	logger *slog.Logger
}

// NewBridge returns a Bridge over client.
func NewBridge(client *Client, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{client: client, logger: logger.With("component", "telegram")}
}

// Updates fetches messages after the given update id and marks which of
// them are addressed to the bot.
func (b *Bridge) Updates(ctx context.Context, after int64) ([]scheduler.Inbound, error) {
	me, err := b.client.GetMe(ctx)
	if err != nil {
		return nil, unavailable(err)
	}
	var offset int64
	if after > 0 {
		offset = after + 1
	}
	updates, err := b.client.GetUpdates(ctx, offset)
	if err != nil {
		return nil, unavailable(err)
	}

	out := make([]scheduler.Inbound, 0, len(updates))
	for _, u := range updates {
		in := scheduler.Inbound{UpdateID: u.UpdateID}
		if m := u.Message; m != nil && m.Text != "" && (m.From == nil || !m.From.IsBot) {
			text, addressed := addressedText(m, me)
			in.ChatID = m.Chat.ID
			in.MessageID = m.MessageID
			in.DisplayName = displayName(m)
			in.Text = text
			in.Addressed = addressed
		}
		out = append(out, in)
	}
	if len(out) > 0 {
		b.logger.Debug("updates fetched", "count", len(out), "after", after)
	}
	return out, nil
}

// Reply sends text as one or more messages. Each chunk goes out as HTML
// rendered from markdown, falling back to plain text if Telegram rejects
// the markup.
func (b *Bridge) Reply(ctx context.Context, to scheduler.Inbound, text string) error {
	replyTo := int64(0)
	if to.ChatID < 0 {
		// Negative chat ids are groups; thread the answer under the
		// message that asked.
		replyTo = to.MessageID
	}
	for i, chunk := range Split(text, chunkLen) {
		if err := b.send(ctx, to.ChatID, chunk, replyTo); err != nil {
			return fmt.Errorf("chunk %d: %w", i+1, err)
		}
		replyTo = 0
	}
	return nil
}

func (b *Bridge) send(ctx context.Context, chatID int64, chunk string, replyTo int64) error {
	rendered, err := RenderHTML(chunk)
	if err == nil && rendered != "" && len(utf16.Encode([]rune(rendered))) <= MaxMessageLen {
		err = b.client.SendMessage(ctx, chatID, rendered, "HTML", replyTo)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Code != http.StatusBadRequest {
			return err
		}
		b.logger.Debug("HTML rejected, sending plain text", "chat", chatID, "error", apiErr.Description)
	}
	return b.client.SendMessage(ctx, chatID, chunk, "", replyTo)
}

// addressedText reports whether m is for the bot and returns its text
// with the bot's mention removed. Private chats are always addressed.
func addressedText(m *Message, me *User) (string, bool) {
	text := m.Text
	if m.Chat.Type == "private" {
		return strings.TrimSpace(text), true
	}
	addressed := m.ReplyTo != nil && m.ReplyTo.From != nil && m.ReplyTo.From.ID == me.ID
	if me.Username != "" {
		mention := regexp.MustCompile(`(?i)@` + regexp.QuoteMeta(me.Username) + `\b`)
		if mention.MatchString(text) {
			addressed = true
			text = mention.ReplaceAllString(text, "")
		}
	}
	for _, e := range m.Entities {
		if e.Type == "text_mention" && e.User != nil && e.User.ID == me.ID {
			addressed = true
		}
	}
	return strings.Join(strings.Fields(text), " "), addressed
}

func displayName(m *Message) string {
	if m.Chat.Type != "private" && m.Chat.Title != "" {
		return m.Chat.Title
	}
	if n := m.From.Name(); n != "" {
		return n
	}
	return strings.TrimSpace(m.Chat.FirstName + " " + m.Chat.LastName)
}

func unavailable(err error) error {
	if errors.Is(err, ErrNoToken) {
		return fmt.Errorf("%w: %w", scheduler.ErrUnavailable, err)
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
		return fmt.Errorf("%w: bot token rejected", scheduler.ErrUnavailable)
	}
	return err
}
