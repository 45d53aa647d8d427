package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/oddsbot/internal/domain"
)

// QueryService serves the read side. Single events are read through the
// event cache; everything else goes to the store.
type QueryService struct {
	bookmakers domain.BookmakerStore
	events     domain.EventStore
	mappings   domain.MappingStore
	unmapped   domain.UnmappedStore
	history    domain.OddsHistoryStore
	margins    domain.TournamentMarginStore
	heartbeats domain.HeartbeatStore
	cache      domain.EventCache
	logger     *slog.Logger
}

// QueryStores groups the stores the QueryService reads from.
type QueryStores struct {
	Bookmakers domain.BookmakerStore
	Events     domain.EventStore
	Mappings   domain.MappingStore
	Unmapped   domain.UnmappedStore
	History    domain.OddsHistoryStore
	Margins    domain.TournamentMarginStore
	Heartbeats domain.HeartbeatStore
}

// NewQueryService creates a QueryService.
func NewQueryService(stores QueryStores, cache domain.EventCache, logger *slog.Logger) *QueryService {
	return &QueryService{
		bookmakers: stores.Bookmakers,
		events:     stores.Events,
		mappings:   stores.Mappings,
		unmapped:   stores.Unmapped,
		history:    stores.History,
		margins:    stores.Margins,
		heartbeats: stores.Heartbeats,
		cache:      cache,
		logger:     logger,
	}
}

// GetEvent returns an event, checking the cache first and back-filling it
// on a miss.
func (s *QueryService) GetEvent(ctx context.Context, id string) (domain.CanonicalEvent, error) {
	e, err := s.cache.Get(ctx, id)
	if err == nil {
		return e, nil
	}

	e, err = s.events.Get(ctx, id)
	if err != nil {
		return domain.CanonicalEvent{}, fmt.Errorf("query_service: get event %q: %w", id, err)
	}

	if cacheErr := s.cache.Set(ctx, e); cacheErr != nil {
		s.logger.WarnContext(ctx, "query_service: cache set failed",
			slog.String("event_id", id),
			slog.String("error", cacheErr.Error()),
		)
	}
	return e, nil
}

// ListEvents returns events matching f ordered by kickoff.
func (s *QueryService) ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.CanonicalEvent, error) {
	events, err := s.events.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("query_service: list events: %w", err)
	}
	return events, nil
}

// EventMappings returns the bookmaker mappings of an event.
func (s *QueryService) EventMappings(ctx context.Context, eventID string) ([]domain.EventMapping, error) {
	ms, err := s.mappings.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("query_service: list mappings %q: %w", eventID, err)
	}
	return ms, nil
}

// OddsHistory returns history entries of an event, newest first. An empty
// bookmakerCode returns every bookmaker.
func (s *QueryService) OddsHistory(ctx context.Context, eventID, bookmakerCode string, opts domain.ListOpts) ([]domain.OddsHistoryEntry, error) {
	if _, err := s.events.Get(ctx, eventID); err != nil {
		return nil, fmt.Errorf("query_service: odds history %q: %w", eventID, err)
	}
	h, err := s.history.ListByEvent(ctx, eventID, bookmakerCode, opts)
	if err != nil {
		return nil, fmt.Errorf("query_service: odds history %q: %w", eventID, err)
	}
	return h, nil
}

// TournamentMargins returns margin trend points, newest first.
func (s *QueryService) TournamentMargins(ctx context.Context, f domain.TournamentFilter) ([]domain.TournamentMarginPoint, error) {
	points, err := s.margins.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("query_service: tournament margins: %w", err)
	}
	return points, nil
}

// HeartbeatSamples returns the raw samples of an event in poll order.
func (s *QueryService) HeartbeatSamples(ctx context.Context, eventID, bookmakerCode string, opts domain.ListOpts) ([]domain.HeartbeatSample, error) {
	samples, err := s.heartbeats.ListSamples(ctx, eventID, bookmakerCode, opts)
	if err != nil {
		return nil, fmt.Errorf("query_service: heartbeat samples %q: %w", eventID, err)
	}
	return samples, nil
}

// HeartbeatStats returns stats snapshots of an event, newest first.
func (s *QueryService) HeartbeatStats(ctx context.Context, eventID, bookmakerCode string, opts domain.ListOpts) ([]domain.HeartbeatStats, error) {
	stats, err := s.heartbeats.ListStats(ctx, eventID, bookmakerCode, opts)
	if err != nil {
		return nil, fmt.Errorf("query_service: heartbeat stats %q: %w", eventID, err)
	}
	return stats, nil
}

// Bookmakers returns every bookmaker with its health metadata.
func (s *QueryService) Bookmakers(ctx context.Context) ([]domain.Bookmaker, error) {
	bms, err := s.bookmakers.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("query_service: list bookmakers: %w", err)
	}
	return bms, nil
}

// Unmapped returns records held for manual curation, newest first.
func (s *QueryService) Unmapped(ctx context.Context, opts domain.ListOpts) ([]domain.UnmappedRecord, error) {
	recs, err := s.unmapped.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("query_service: list unmapped: %w", err)
	}
	return recs, nil
}
