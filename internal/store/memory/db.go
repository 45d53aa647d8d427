// Package memory implements the persistent store interfaces in process. It
// backs the "memory" storage backend for local runs and is the store used
// by the package tests.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/oddsbot/internal/domain"
)

// DB holds every table behind one lock so multi-table writes such as
// EventStore.SaveOdds are atomic.
type DB struct {
	mu  sync.RWMutex
	now func() time.Time

	bookmakers map[string]domain.Bookmaker
	events     map[string]domain.CanonicalEvent
	mappings   map[mappingKey]domain.EventMapping
	unmapped   []domain.UnmappedRecord
	history    []domain.OddsHistoryEntry
	margins    []domain.TournamentMarginPoint
	samples    []domain.HeartbeatSample
	stats      []domain.HeartbeatStats
	audit      []domain.AuditEntry

	seq int64
}

type mappingKey struct {
	bookmaker, externalID string
}

// New returns an empty DB.
func New() *DB {
	return &DB{
		now:        time.Now,
		bookmakers: make(map[string]domain.Bookmaker),
		events:     make(map[string]domain.CanonicalEvent),
		mappings:   make(map[mappingKey]domain.EventMapping),
	}
}

// Bookmakers returns the BookmakerStore view.
func (db *DB) Bookmakers() *BookmakerStore { return &BookmakerStore{db: db} }

// Events returns the EventStore view.
func (db *DB) Events() *EventStore { return &EventStore{db: db} }

// Mappings returns the MappingStore view.
func (db *DB) Mappings() *MappingStore { return &MappingStore{db: db} }

// Unmapped returns the UnmappedStore view.
func (db *DB) Unmapped() *UnmappedStore { return &UnmappedStore{db: db} }

// OddsHistory returns the OddsHistoryStore view.
func (db *DB) OddsHistory() *OddsHistoryStore { return &OddsHistoryStore{db: db} }

// TournamentMargins returns the TournamentMarginStore view.
func (db *DB) TournamentMargins() *TournamentMarginStore { return &TournamentMarginStore{db: db} }

// Heartbeats returns the HeartbeatStore view.
func (db *DB) Heartbeats() *HeartbeatStore { return &HeartbeatStore{db: db} }

// Audit returns the AuditStore view.
func (db *DB) Audit() *AuditStore { return &AuditStore{db: db} }

// nextID must be called with mu held for writing.
func (db *DB) nextID() int64 {
	db.seq++
	return db.seq
}

func inWindow(t time.Time, since, until *time.Time) bool {
	if since != nil && t.Before(*since) {
		return false
	}
	if until != nil && !t.Before(*until) {
		return false
	}
	return true
}

// page applies offset and limit to n items and returns the slice bounds.
func page(n, offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > n {
		offset = n
	}
	end := n
	if limit > 0 && offset+limit < n {
		end = offset + limit
	}
	return offset, end
}

func copyEvent(e domain.CanonicalEvent) domain.CanonicalEvent {
	odds := make(map[string]domain.OutcomeOdds, len(e.OddsData))
	for k, v := range e.OddsData {
		odds[k] = copyOdds(v)
	}
	best := make(domain.BestOdds, len(e.BestOdds))
	for k, v := range e.BestOdds {
		best[k] = v
	}
	e.OddsData = odds
	e.BestOdds = best
	return e
}

func copyOdds(o domain.OutcomeOdds) domain.OutcomeOdds {
	return domain.OutcomeOdds{Home: copyFloat(o.Home), Draw: copyFloat(o.Draw), Away: copyFloat(o.Away)}
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func sortByTimeDesc[T any](items []T, at func(T) time.Time) {
	sort.SliceStable(items, func(i, j int) bool { return at(items[i]).After(at(items[j])) })
}
