package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/oddsbot/internal/domain"
)

// QueryService is the read side the event endpoints need.
type QueryService interface {
	GetEvent(ctx context.Context, id string) (domain.CanonicalEvent, error)
	ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.CanonicalEvent, error)
	EventMappings(ctx context.Context, eventID string) ([]domain.EventMapping, error)
	OddsHistory(ctx context.Context, eventID, bookmakerCode string, opts domain.ListOpts) ([]domain.OddsHistoryEntry, error)
	TournamentMargins(ctx context.Context, f domain.TournamentFilter) ([]domain.TournamentMarginPoint, error)
	HeartbeatSamples(ctx context.Context, eventID, bookmakerCode string, opts domain.ListOpts) ([]domain.HeartbeatSample, error)
	HeartbeatStats(ctx context.Context, eventID, bookmakerCode string, opts domain.ListOpts) ([]domain.HeartbeatStats, error)
	Bookmakers(ctx context.Context) ([]domain.Bookmaker, error)
	Unmapped(ctx context.Context, opts domain.ListOpts) ([]domain.UnmappedRecord, error)
}

// EventHandler serves canonical events, their odds history and heartbeat
// data, tournament margins and the unmapped review list.
type EventHandler struct {
	query  QueryService
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(query QueryService, logger *slog.Logger) *EventHandler {
	return &EventHandler{query: query, logger: logger}
}

type listEventsResponse struct {
	Events []domain.CanonicalEvent `json:"events"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
}

// ListEvents returns events ordered by kickoff.
// GET /api/events?country=&tournament=&from=&to=&limit=&offset=
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	f := domain.EventFilter{
		Country:    q.Get("country"),
		Tournament: q.Get("tournament"),
		Limit:      opts.Limit,
		Offset:     opts.Offset,
	}
	if f.From, err = parseTime(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid from: "+err.Error())
		return
	}
	if f.To, err = parseTime(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid to: "+err.Error())
		return
	}

	events, err := h.query.ListEvents(r.Context(), f)
	if err != nil {
		h.fail(w, r, "list events", err)
		return
	}
	writeJSON(w, http.StatusOK, listEventsResponse{
		Events: nonNil(events),
		Limit:  f.Limit,
		Offset: f.Offset,
	})
}

type eventResponse struct {
	domain.CanonicalEvent
	Mappings []domain.EventMapping `json:"mappings"`
}

// GetEvent returns one event with the bookmaker ids mapped onto it.
// GET /api/events/{id}
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	e, err := h.query.GetEvent(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get event", err)
		return
	}
	mappings, err := h.query.EventMappings(r.Context(), id)
	if err != nil {
		h.fail(w, r, "list event mappings", err)
		return
	}
	writeJSON(w, http.StatusOK, eventResponse{CanonicalEvent: e, Mappings: nonNil(mappings)})
}

// OddsHistory returns the event's odds history, newest first.
// GET /api/events/{id}/history?bookmaker=&since=&until=&limit=&offset=
func (h *EventHandler) OddsHistory(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := r.PathValue("id")
	if _, err := h.query.GetEvent(r.Context(), id); err != nil {
		h.fail(w, r, "get event", err)
		return
	}
	history, err := h.query.OddsHistory(r.Context(), id, r.URL.Query().Get("bookmaker"), opts)
	if err != nil {
		h.fail(w, r, "list odds history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"event_id": id, "history": nonNil(history)})
}

// Heartbeat returns the event's heartbeat samples (in time order) and stats
// snapshots (newest first).
// GET /api/events/{id}/heartbeat?bookmaker=&since=&until=&limit=&offset=
func (h *EventHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := r.PathValue("id")
	bookmaker := r.URL.Query().Get("bookmaker")
	if _, err := h.query.GetEvent(r.Context(), id); err != nil {
		h.fail(w, r, "get event", err)
		return
	}
	samples, err := h.query.HeartbeatSamples(r.Context(), id, bookmaker, opts)
	if err != nil {
		h.fail(w, r, "list heartbeat samples", err)
		return
	}
	stats, err := h.query.HeartbeatStats(r.Context(), id, bookmaker, domain.ListOpts{Limit: opts.Limit})
	if err != nil {
		h.fail(w, r, "list heartbeat stats", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"event_id": id,
		"samples":  nonNil(samples),
		"stats":    nonNil(stats),
	})
}

// TournamentMargins returns margin series points, newest first.
// GET /api/tournaments/margins?country=&tournament=&bookmaker=&since=&until=&limit=
func (h *EventHandler) TournamentMargins(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	points, err := h.query.TournamentMargins(r.Context(), domain.TournamentFilter{
		Country:       q.Get("country"),
		Tournament:    q.Get("tournament"),
		BookmakerCode: q.Get("bookmaker"),
		Since:         opts.Since,
		Until:         opts.Until,
		Limit:         opts.Limit,
	})
	if err != nil {
		h.fail(w, r, "list tournament margins", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"points": nonNil(points)})
}

// Bookmakers returns every bookmaker with its run health.
// GET /api/bookmakers
func (h *EventHandler) Bookmakers(w http.ResponseWriter, r *http.Request) {
	bms, err := h.query.Bookmakers(r.Context())
	if err != nil {
		h.fail(w, r, "list bookmakers", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookmakers": nonNil(bms)})
}

// Unmapped returns records held back for review, newest first.
// GET /api/unmapped?limit=&offset=
func (h *EventHandler) Unmapped(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := h.query.Unmapped(r.Context(), opts)
	if err != nil {
		h.fail(w, r, "list unmapped", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": nonNil(recs),
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}

func (h *EventHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := errorStatus(err)
	if status == http.StatusNotFound {
		writeError(w, status, "event not found")
		return
	}
	h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	writeError(w, status, "failed to "+op)
}
