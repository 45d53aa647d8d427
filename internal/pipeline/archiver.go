package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/oddsbot/internal/domain"
)

// ArchiveResult counts rows copied to cold storage by one run.
type ArchiveResult struct {
	Cutoff            time.Time
	OddsHistory       int64
	TournamentMargins int64
	HeartbeatSamples  int64
}

// Archiver copies append-only history older than the retention window to
// cold storage on a cron schedule.
type Archiver struct {
	blob          domain.Archiver
	audit         domain.AuditStore
	retentionDays int
	now           func() time.Time
	logger        *slog.Logger
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(blob domain.Archiver, audit domain.AuditStore, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blob:          blob,
		audit:         audit,
		retentionDays: retentionDays,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "archive")),
	}
}

// Run executes one archive pass. Each history kind is archived even if an
// earlier one failed; the failures are joined.
func (a *Archiver) Run(ctx context.Context) (ArchiveResult, error) {
	cutoff := a.now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	res := ArchiveResult{Cutoff: cutoff}
	a.logger.InfoContext(ctx, "archive run starting",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	var errs []error
	var err error
	if res.OddsHistory, err = a.blob.ArchiveOddsHistory(ctx, cutoff); err != nil {
		errs = append(errs, fmt.Errorf("odds history: %w", err))
	}
	if res.TournamentMargins, err = a.blob.ArchiveTournamentMargins(ctx, cutoff); err != nil {
		errs = append(errs, fmt.Errorf("tournament margins: %w", err))
	}
	if res.HeartbeatSamples, err = a.blob.ArchiveHeartbeatSamples(ctx, cutoff); err != nil {
		errs = append(errs, fmt.Errorf("heartbeat samples: %w", err))
	}
	runErr := errors.Join(errs...)

	if a.audit != nil {
		detail := map[string]any{
			"cutoff":             cutoff.Format(time.RFC3339),
			"odds_history":       res.OddsHistory,
			"tournament_margins": res.TournamentMargins,
			"heartbeat_samples":  res.HeartbeatSamples,
		}
		if runErr != nil {
			detail["error"] = runErr.Error()
		}
		if err := a.audit.Log(ctx, "archive_run", detail); err != nil {
			a.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("odds_history", res.OddsHistory),
		slog.Int64("tournament_margins", res.TournamentMargins),
		slog.Int64("heartbeat_samples", res.HeartbeatSamples),
	)
	if runErr != nil {
		return res, fmt.Errorf("archive: %w", runErr)
	}
	return res, nil
}

// RunCron runs the archiver on a 5-field cron schedule ("minute hour
// day-of-month month day-of-week", UTC) until ctx is cancelled.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := parseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("archive: cron %q: %w", cronExpr, err)
	}
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := sched.next(a.now().UTC())
		if err != nil {
			return fmt.Errorf("archive: cron %q: %w", cronExpr, err)
		}
		wait := time.Until(next)
		a.logger.DebugContext(ctx, "archiver waiting",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if _, err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

type cronField struct {
	wildcard bool
	values   map[int]bool
}

func (f cronField) matches(v int) bool {
	return f.wildcard || f.values[v]
}

// parseCronField accepts "*", "*/n", single values, "a-b" ranges and
// comma-separated lists of those.
func parseCronField(field string, min, max int) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}
	f := cronField{values: make(map[int]bool)}
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		step := 1
		if base, s, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return cronField{}, fmt.Errorf("invalid step %q", part)
			}
			step, part = n, base
		}
		lo, hi := min, max
		switch {
		case part == "*":
		case strings.Contains(part, "-"):
			a, b, _ := strings.Cut(part, "-")
			var err1, err2 error
			lo, err1 = strconv.Atoi(a)
			hi, err2 = strconv.Atoi(b)
			if err1 != nil || err2 != nil {
				return cronField{}, fmt.Errorf("invalid range %q", part)
			}
		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return cronField{}, fmt.Errorf("invalid value %q", part)
			}
			lo, hi = v, v
		}
		if lo < min || hi > max || lo > hi {
			return cronField{}, fmt.Errorf("%q out of range %d-%d", part, min, max)
		}
		for v := lo; v <= hi; v += step {
			f.values[v] = true
		}
	}
	return f, nil
}

type cronSchedule struct {
	minute, hour, dom, month, dow cronField
}

func parseCron(expr string) (cronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return cronSchedule{}, fmt.Errorf("want 5 fields, got %d", len(fields))
	}
	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	var parsed [5]cronField
	for i, f := range fields {
		cf, err := parseCronField(f, bounds[i][0], bounds[i][1])
		if err != nil {
			return cronSchedule{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		parsed[i] = cf
	}
	return cronSchedule{parsed[0], parsed[1], parsed[2], parsed[3], parsed[4]}, nil
}

func (c cronSchedule) matches(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.dom.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.dow.matches(int(t.Weekday()))
}

// next returns the first matching minute strictly after t, searching at
// most one year ahead.
func (c cronSchedule) next(t time.Time) (time.Time, error) {
	candidate := t.Truncate(time.Minute).Add(time.Minute)
	limit := t.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if c.matches(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, errors.New("no matching time within a year")
}

// NextCronTime returns the next time after t matching cronExpr.
func NextCronTime(cronExpr string, t time.Time) (time.Time, error) {
	c, err := parseCron(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return c.next(t)
}
