package notify

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender delivers alerts through the Telegram Bot API as MarkdownV2.
type TelegramSender struct {
	apiBase string
	token   string
	chatID  string
	poster  poster
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		apiBase: telegramAPI,
		token:   token,
		chatID:  chatID,
		poster:  newPoster("telegram"),
	}
}

// WithAPIBase points the sender at another Bot API host.
func (t *TelegramSender) WithAPIBase(base string) *TelegramSender {
	t.apiBase = strings.TrimRight(base, "/")
	return t
}

// WithRetry sets how often a throttled or failed delivery is attempted and
// the base of the linear backoff between attempts.
func (t *TelegramSender) WithRetry(attempts int, delay time.Duration) *TelegramSender {
	if attempts > 0 {
		t.poster.attempts = attempts
	}
	t.poster.retryDelay = delay
	return t
}

// Send posts a bold title followed by the message. Both are escaped, so
// bookmaker codes and error reasons render literally.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	return t.poster.post(ctx, fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token), map[string]string{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n%s", escapeMarkdownV2(title), escapeMarkdownV2(message)),
		"parse_mode": "MarkdownV2",
	})
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}

// escapeMarkdownV2 escapes the characters MarkdownV2 reserves.
func escapeMarkdownV2(s string) string {
	var b strings.Builder
	b.Grow(len(s) + len(s)/4)
	for _, r := range s {
		switch r {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
