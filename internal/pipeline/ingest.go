package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/oddsbot/internal/domain"
	"github.com/alanyoungcy/oddsbot/internal/odds"
	"github.com/alanyoungcy/oddsbot/internal/resolver"
	"github.com/alanyoungcy/oddsbot/internal/service"
)

const defaultCommitTimeout = 30 * time.Second

// EventResolver maps raw records onto canonical events.
type EventResolver interface {
	Resolve(ctx context.Context, rec domain.RawMatchRecord) (resolver.Resolution, error)
}

// QuoteApplier merges one quote into its canonical event.
type QuoteApplier interface {
	Apply(ctx context.Context, q service.Quote) (service.Applied, error)
}

// MarginRecorder appends the tournament margin points of a cycle.
type MarginRecorder interface {
	Record(ctx context.Context, contribs []odds.Contribution, at time.Time) ([]domain.TournamentMarginPoint, error)
}

// IngestResult counts what happened to one batch.
type IngestResult struct {
	Records   int
	Resolved  int
	Created   int
	Ambiguous int
	Failed    int
	Applied   int
	Points    int
}

// Ingester turns one bookmaker batch into canonical event updates. Records
// are resolved and staged first; nothing is written to the event store until
// the whole batch is staged.
type Ingester struct {
	resolver      EventResolver
	aggregator    QuoteApplier
	margins       MarginRecorder
	commitTimeout time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

// NewIngester creates an Ingester. A non-positive commitTimeout selects 30s.
func NewIngester(r EventResolver, agg QuoteApplier, margins MarginRecorder, commitTimeout time.Duration, logger *slog.Logger) *Ingester {
	if commitTimeout <= 0 {
		commitTimeout = defaultCommitTimeout
	}
	return &Ingester{
		resolver:      r,
		aggregator:    agg,
		margins:       margins,
		commitTimeout: commitTimeout,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "ingest")),
	}
}

// Ingest resolves and applies records for bookmakerCode. If ctx ends before
// the batch is staged the staged quotes are discarded and ctx's error is
// returned. The commit itself runs detached from ctx, bounded by the commit
// timeout, so a batch is never half applied because the run deadline fired.
func (in *Ingester) Ingest(ctx context.Context, bookmakerCode string, records []domain.RawMatchRecord) (IngestResult, error) {
	res := IngestResult{Records: len(records)}
	observed := in.now().UTC()

	staged := make([]service.Quote, 0, len(records))
	index := make(map[string]int, len(records))
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rec.BookmakerCode = bookmakerCode

		r, err := in.resolver.Resolve(ctx, rec)
		switch {
		case errors.Is(err, domain.ErrResolutionAmbiguous):
			res.Ambiguous++
			continue
		case err != nil:
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			in.logger.WarnContext(ctx, "record not resolved",
				slog.String("bookmaker", bookmakerCode),
				slog.String("external_id", rec.ExternalID),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Resolved++
		if r.Created {
			res.Created++
		}

		q := service.Quote{
			EventID:       r.EventID,
			BookmakerCode: bookmakerCode,
			Odds:          rec.Odds,
			ObservedAt:    observed,
		}
		// Two rows for the same event: the later row wins.
		if i, ok := index[r.EventID]; ok {
			staged[i] = q
			continue
		}
		index[r.EventID] = len(staged)
		staged = append(staged, q)
	}

	if err := ctx.Err(); err != nil {
		in.logger.WarnContext(ctx, "deadline before commit, batch discarded",
			slog.String("bookmaker", bookmakerCode),
			slog.Int("staged", len(staged)),
		)
		return res, err
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), in.commitTimeout)
	defer cancel()

	contribs := make([]odds.Contribution, 0, len(staged))
	for _, q := range staged {
		applied, err := in.aggregator.Apply(commitCtx, q)
		if err != nil {
			res.Failed++
			in.logger.ErrorContext(ctx, "quote not applied",
				slog.String("bookmaker", bookmakerCode),
				slog.String("event_id", q.EventID),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Applied++
		contribs = append(contribs, odds.Contribution{
			Country:       applied.Event.Country,
			Tournament:    applied.Event.Tournament,
			BookmakerCode: bookmakerCode,
			EventID:       q.EventID,
			MarginPct:     applied.Entry.MarginPct,
		})
	}

	points, err := in.margins.Record(commitCtx, contribs, in.now().UTC())
	if err != nil {
		return res, fmt.Errorf("ingest: tournament margins: %w", err)
	}
	res.Points = len(points)

	in.logger.InfoContext(ctx, "batch ingested",
		slog.String("bookmaker", bookmakerCode),
		slog.Int("records", res.Records),
		slog.Int("resolved", res.Resolved),
		slog.Int("created", res.Created),
		slog.Int("ambiguous", res.Ambiguous),
		slog.Int("failed", res.Failed),
		slog.Int("applied", res.Applied),
		slog.Int("points", res.Points),
	)
	return res, nil
}
