package notify

import (
	"context"
	"strings"
	"time"
)

// Embed colours.
const (
	discordRed   = 0xE74C3C
	discordGreen = 0x2ECC71
)

// DiscordSender delivers alerts as embeds through a Discord webhook.
type DiscordSender struct {
	webhookURL string
	poster     poster
	now        func() time.Time
}

// NewDiscordSender creates a DiscordSender for webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		poster:     newPoster("discord"),
		now:        time.Now,
	}
}

// WithRetry sets the delivery attempts and the linear backoff base.
func (d *DiscordSender) WithRetry(attempts int, delay time.Duration) *DiscordSender {
	if attempts > 0 {
		d.poster.attempts = attempts
	}
	d.poster.retryDelay = delay
	return d
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

// Send posts one embed. Failure titles are red, everything else green.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	color := discordGreen
	if strings.Contains(strings.ToLower(title), "fail") {
		color = discordRed
	}
	return d.poster.post(ctx, d.webhookURL, map[string]any{
		"embeds": []discordEmbed{{
			Title:       title,
			Description: message,
			Color:       color,
			Timestamp:   d.now().UTC().Format(time.RFC3339),
		}},
	})
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
