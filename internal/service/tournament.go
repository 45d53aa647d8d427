package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/oddsbot/internal/domain"
	"github.com/alanyoungcy/oddsbot/internal/odds"
)

// TournamentAggregator appends one margin point per (country, tournament,
// bookmaker) for each ingestion cycle.
type TournamentAggregator struct {
	margins domain.TournamentMarginStore
	logger  *slog.Logger
}

// NewTournamentAggregator creates a TournamentAggregator.
func NewTournamentAggregator(margins domain.TournamentMarginStore, logger *slog.Logger) *TournamentAggregator {
	return &TournamentAggregator{
		margins: margins,
		logger:  logger.With(slog.String("component", "tournament_aggregator")),
	}
}

// Record averages the contributions and appends the resulting points.
// Contributions without a margin are ignored; nothing is written when no
// contribution has one.
func (t *TournamentAggregator) Record(ctx context.Context, contribs []odds.Contribution, at time.Time) ([]domain.TournamentMarginPoint, error) {
	points := odds.TournamentMargins(contribs, at.UTC())
	if len(points) == 0 {
		return nil, nil
	}
	if err := t.margins.Append(ctx, points); err != nil {
		return nil, fmt.Errorf("tournament_aggregator: append %d points: %w", len(points), err)
	}

	t.logger.DebugContext(ctx, "tournament margins recorded",
		slog.Int("points", len(points)),
	)
	return points, nil
}
