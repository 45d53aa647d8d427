package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/oddsbot/internal/domain"
)

// BusChannel implements domain.NotificationChannel on a SignalBus. Every
// notification is published on its live channel and appended to the durable
// notification stream so late subscribers can catch up.
type BusChannel struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewBusChannel creates a BusChannel. notifier may be nil when no operator
// alerts are configured.
func NewBusChannel(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *BusChannel {
	return &BusChannel{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_channel")),
		now:      time.Now,
	}
}

// CycleCompleted announces a successful ingestion run.
func (c *BusChannel) CycleCompleted(ctx context.Context, bookmakerCode string, eventCount int) error {
	err := c.emit(ctx, domain.ChannelIngest, domain.NotifyCycleCompleted, map[string]any{
		"bookmaker":   bookmakerCode,
		"event_count": eventCount,
	})
	if c.notifier.Enabled(EventIngestCompleted) {
		msg := fmt.Sprintf("%s: %d events ingested", bookmakerCode, eventCount)
		c.alert(ctx, EventIngestCompleted, "Ingestion completed", msg)
	}
	return err
}

// CycleFailed announces one failed ingestion attempt and alerts operators.
func (c *BusChannel) CycleFailed(ctx context.Context, bookmakerCode, reason string, attempt int) error {
	err := c.emit(ctx, domain.ChannelIngest, domain.NotifyCycleFailed, map[string]any{
		"bookmaker": bookmakerCode,
		"reason":    reason,
		"attempt":   attempt,
	})
	if c.notifier.Enabled(EventIngestFailed) {
		msg := fmt.Sprintf("%s attempt %d: %s", bookmakerCode, attempt, reason)
		c.alert(ctx, EventIngestFailed, "Ingestion failed", msg)
	}
	return err
}

// HeartbeatUpdated announces a new heartbeat sample.
func (c *BusChannel) HeartbeatUpdated(ctx context.Context, eventID, bookmakerCode string, state domain.HeartbeatState) error {
	return c.emit(ctx, domain.ChannelHeartbeat, domain.NotifyHeartbeatUpdated, map[string]any{
		"event_id":  eventID,
		"bookmaker": bookmakerCode,
		"state":     string(state),
	})
}

func (c *BusChannel) emit(ctx context.Context, channel, typ string, payload map[string]any) error {
	data, err := json.Marshal(domain.Notification{
		Type:    typ,
		Payload: payload,
		At:      c.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("notify: marshal %s: %w", typ, err)
	}

	var errs []error
	if err := c.bus.Publish(ctx, channel, data); err != nil {
		errs = append(errs, fmt.Errorf("publish %s: %w", channel, err))
	}
	if err := c.bus.StreamAppend(ctx, domain.StreamNotifications, data); err != nil {
		errs = append(errs, fmt.Errorf("append %s: %w", domain.StreamNotifications, err))
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		c.logger.WarnContext(ctx, "notification not delivered",
			slog.String("type", typ),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("notify: %s: %w", typ, err)
	}
	return nil
}

// alert failures are logged by the Notifier and never fail the caller.
func (c *BusChannel) alert(ctx context.Context, event, title, message string) {
	_ = c.notifier.Notify(ctx, event, title, message)
}

var _ domain.NotificationChannel = (*BusChannel)(nil)
