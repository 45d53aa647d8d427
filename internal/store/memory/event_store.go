package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/oddsbot/internal/domain"
)

var (
	_ domain.EventStore       = (*EventStore)(nil)
	_ domain.OddsHistoryStore = (*OddsHistoryStore)(nil)
)

// EventStore implements domain.EventStore.
type EventStore struct {
	db *DB
}

// Create inserts a new canonical event.
func (s *EventStore) Create(_ context.Context, e domain.CanonicalEvent) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.events[e.EventID]; ok {
		return fmt.Errorf("memory: event %s: %w", e.EventID, domain.ErrAlreadyExists)
	}
	s.db.events[e.EventID] = copyEvent(e)
	return nil
}

// Get returns a copy of the event with the given id.
func (s *EventStore) Get(_ context.Context, id string) (domain.CanonicalEvent, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	e, ok := s.db.events[id]
	if !ok {
		return domain.CanonicalEvent{}, fmt.Errorf("memory: event %s: %w", id, domain.ErrNotFound)
	}
	return copyEvent(e), nil
}

// List returns events matching the filter, ordered by kickoff then id.
func (s *EventStore) List(_ context.Context, f domain.EventFilter) ([]domain.CanonicalEvent, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var out []domain.CanonicalEvent
	for _, e := range s.db.events {
		if f.Country != "" && e.Country != f.Country {
			continue
		}
		if f.Tournament != "" && e.Tournament != f.Tournament {
			continue
		}
		if !inWindow(e.Kickoff, f.From, f.To) {
			continue
		}
		out = append(out, copyEvent(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Kickoff.Equal(out[j].Kickoff) {
			return out[i].Kickoff.Before(out[j].Kickoff)
		}
		return out[i].EventID < out[j].EventID
	})
	lo, hi := page(len(out), f.Offset, f.Limit)
	return out[lo:hi], nil
}

// ListLive returns events that kicked off within window before at.
func (s *EventStore) ListLive(_ context.Context, at time.Time, window time.Duration) ([]domain.CanonicalEvent, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var out []domain.CanonicalEvent
	for _, e := range s.db.events {
		if e.Kickoff.After(at) || !e.Kickoff.After(at.Add(-window)) {
			continue
		}
		out = append(out, copyEvent(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out, nil
}

// UpdateKickoff sets the kickoff time of an event.
func (s *EventStore) UpdateKickoff(_ context.Context, id string, kickoff time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	e, ok := s.db.events[id]
	if !ok {
		return fmt.Errorf("memory: event %s: %w", id, domain.ErrNotFound)
	}
	e.Kickoff = kickoff
	e.UpdatedAt = s.db.now().UTC()
	s.db.events[id] = e
	return nil
}

// SaveOdds writes the event's odds columns and appends the history entry
// under one lock.
func (s *EventStore) SaveOdds(_ context.Context, e domain.CanonicalEvent, entry domain.OddsHistoryEntry) (domain.OddsHistoryEntry, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	cur, ok := s.db.events[e.EventID]
	if !ok {
		return domain.OddsHistoryEntry{}, fmt.Errorf("memory: event %s: %w", e.EventID, domain.ErrNotFound)
	}
	// Only the odds columns are written; the kickoff may have been tightened
	// since e was loaded.
	fresh := copyEvent(e)
	cur.OddsData = fresh.OddsData
	cur.BestOdds = fresh.BestOdds
	cur.UpdatedAt = e.UpdatedAt
	s.db.events[e.EventID] = cur

	entry.ID = s.db.nextID()
	entry.Odds = copyOdds(entry.Odds)
	s.db.history = append(s.db.history, entry)
	return entry, nil
}

// OddsHistoryStore implements domain.OddsHistoryStore.
type OddsHistoryStore struct {
	db *DB
}

// ListByEvent returns the odds history of an event, newest first.
func (s *OddsHistoryStore) ListByEvent(_ context.Context, eventID, bookmakerCode string, opts domain.ListOpts) ([]domain.OddsHistoryEntry, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var out []domain.OddsHistoryEntry
	for _, h := range s.db.history {
		if h.EventID != eventID {
			continue
		}
		if bookmakerCode != "" && h.BookmakerCode != bookmakerCode {
			continue
		}
		if !inWindow(h.RecordedAt, opts.Since, opts.Until) {
			continue
		}
		out = append(out, h)
	}
	sortByTimeDesc(out, func(h domain.OddsHistoryEntry) time.Time { return h.RecordedAt })
	lo, hi := page(len(out), opts.Offset, opts.Limit)
	return out[lo:hi], nil
}

// ListBefore returns history entries recorded before the cutoff.
func (s *OddsHistoryStore) ListBefore(_ context.Context, before time.Time) ([]domain.OddsHistoryEntry, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var out []domain.OddsHistoryEntry
	for _, h := range s.db.history {
		if h.RecordedAt.Before(before) {
			out = append(out, h)
		}
	}
	return out, nil
}
