package domain

import (
	"context"
	"time"
)

// Notification types emitted on the notification stream.
const (
	NotifyCycleCompleted   = "ingestion-cycle-completed"
	NotifyCycleFailed      = "ingestion-cycle-failed"
	NotifyHeartbeatUpdated = "heartbeat-updated"
)

// Bus channels and stream used by the notification channel.
const (
	ChannelIngest       = "ch:ingest"
	ChannelHeartbeat    = "ch:heartbeat"
	StreamNotifications = "stream:notifications"
)

// Notification is the envelope pushed to observers.
type Notification struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
	At      time.Time      `json:"at"`
}

// NotificationChannel announces pipeline progress to observers.
type NotificationChannel interface {
	CycleCompleted(ctx context.Context, bookmakerCode string, eventCount int) error
	CycleFailed(ctx context.Context, bookmakerCode, reason string, attempt int) error
	HeartbeatUpdated(ctx context.Context, eventID, bookmakerCode string, state HeartbeatState) error
}
