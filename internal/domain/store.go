package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// BookmakerStore persists bookmakers and their run health.
type BookmakerStore interface {
	// Upsert writes the configuration-owned fields (name, kind, active) and
	// leaves run metadata untouched.
	Upsert(ctx context.Context, b Bookmaker) error
	Get(ctx context.Context, code string) (Bookmaker, error)
	List(ctx context.Context) ([]Bookmaker, error)
	ListActive(ctx context.Context) ([]Bookmaker, error)
	SetStatus(ctx context.Context, code string, status BookmakerStatus) error
	RecordRun(ctx context.Context, code string, report RunReport) error
}

// EventStore persists canonical events.
type EventStore interface {
	// Create inserts a new event. It returns ErrAlreadyExists when the id
	// is taken.
	Create(ctx context.Context, e CanonicalEvent) error
	Get(ctx context.Context, id string) (CanonicalEvent, error)
	List(ctx context.Context, f EventFilter) ([]CanonicalEvent, error)
	// ListLive returns events whose kickoff lies in (at-window, at].
	ListLive(ctx context.Context, at time.Time, window time.Duration) ([]CanonicalEvent, error)
	UpdateKickoff(ctx context.Context, id string, kickoff time.Time) error
	// SaveOdds replaces the event's odds data and best odds and appends the
	// history entry in one unit. It returns the stored entry.
	SaveOdds(ctx context.Context, e CanonicalEvent, entry OddsHistoryEntry) (OddsHistoryEntry, error)
}

// MappingStore persists resolver mappings.
type MappingStore interface {
	Get(ctx context.Context, bookmakerCode, externalID string) (EventMapping, error)
	FindByProviderID(ctx context.Context, providerID string) ([]EventMapping, error)
	// FindCandidates returns mappings with the given match key whose kickoff
	// lies within [from, to].
	FindCandidates(ctx context.Context, matchKey string, from, to time.Time) ([]EventMapping, error)
	ListByEvent(ctx context.Context, eventID string) ([]EventMapping, error)
	Upsert(ctx context.Context, m EventMapping) error
}

// UnmappedStore holds records awaiting manual curation.
type UnmappedStore interface {
	// Add stores r. A later record for the same (bookmaker, external id)
	// replaces the earlier one.
	Add(ctx context.Context, r UnmappedRecord) error
	List(ctx context.Context, opts ListOpts) ([]UnmappedRecord, error)
}

// OddsHistoryStore reads the append-only odds history. Writes go through
// EventStore.SaveOdds.
type OddsHistoryStore interface {
	ListByEvent(ctx context.Context, eventID, bookmakerCode string, opts ListOpts) ([]OddsHistoryEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]OddsHistoryEntry, error)
}

// TournamentMarginStore persists the append-only tournament margin points.
type TournamentMarginStore interface {
	Append(ctx context.Context, points []TournamentMarginPoint) error
	List(ctx context.Context, f TournamentFilter) ([]TournamentMarginPoint, error)
	ListBefore(ctx context.Context, before time.Time) ([]TournamentMarginPoint, error)
}

// HeartbeatStore persists heartbeat samples and stats snapshots.
type HeartbeatStore interface {
	AppendSample(ctx context.Context, s HeartbeatSample) (HeartbeatSample, error)
	ListSamples(ctx context.Context, eventID, bookmakerCode string, opts ListOpts) ([]HeartbeatSample, error)
	ListSamplesBefore(ctx context.Context, before time.Time) ([]HeartbeatSample, error)
	AppendStats(ctx context.Context, st HeartbeatStats) error
	ListStats(ctx context.Context, eventID, bookmakerCode string, opts ListOpts) ([]HeartbeatStats, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
