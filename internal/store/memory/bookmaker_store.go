package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/alanyoungcy/oddsbot/internal/domain"
)

var _ domain.BookmakerStore = (*BookmakerStore)(nil)

// BookmakerStore implements domain.BookmakerStore.
type BookmakerStore struct {
	db *DB
}

// Upsert creates the bookmaker or updates its name, kind and active flag.
// Run status is left untouched.
func (s *BookmakerStore) Upsert(_ context.Context, b domain.Bookmaker) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	cur, ok := s.db.bookmakers[b.Code]
	if !ok {
		cur = domain.Bookmaker{Code: b.Code, Status: domain.BookmakerIdle}
	}
	cur.Name = b.Name
	cur.Kind = b.Kind
	cur.Active = b.Active
	cur.UpdatedAt = s.db.now().UTC()
	s.db.bookmakers[b.Code] = cur
	return nil
}

// Get returns the bookmaker with the given code.
func (s *BookmakerStore) Get(_ context.Context, code string) (domain.Bookmaker, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	b, ok := s.db.bookmakers[code]
	if !ok {
		return domain.Bookmaker{}, fmt.Errorf("memory: bookmaker %s: %w", code, domain.ErrNotFound)
	}
	return b, nil
}

// List returns all bookmakers ordered by code.
func (s *BookmakerStore) List(_ context.Context) ([]domain.Bookmaker, error) {
	return s.list(false), nil
}

// ListActive returns the active bookmakers ordered by code.
func (s *BookmakerStore) ListActive(_ context.Context) ([]domain.Bookmaker, error) {
	return s.list(true), nil
}

func (s *BookmakerStore) list(activeOnly bool) []domain.Bookmaker {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	out := make([]domain.Bookmaker, 0, len(s.db.bookmakers))
	for _, b := range s.db.bookmakers {
		if activeOnly && !b.Active {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// SetStatus updates the run status of a bookmaker.
func (s *BookmakerStore) SetStatus(_ context.Context, code string, status domain.BookmakerStatus) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	b, ok := s.db.bookmakers[code]
	if !ok {
		return fmt.Errorf("memory: bookmaker %s: %w", code, domain.ErrNotFound)
	}
	b.Status = status
	b.UpdatedAt = s.db.now().UTC()
	s.db.bookmakers[code] = b
	return nil
}

// RecordRun stores the outcome of an ingestion run. Event count and
// payload size only change on success.
func (s *BookmakerStore) RecordRun(_ context.Context, code string, r domain.RunReport) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	b, ok := s.db.bookmakers[code]
	if !ok {
		return fmt.Errorf("memory: bookmaker %s: %w", code, domain.ErrNotFound)
	}
	ranAt, next := r.RanAt, r.NextRunAt
	b.Status = r.Status
	b.LastError = r.Error
	b.LastRunAt = &ranAt
	b.NextRunAt = &next
	if r.Status == domain.BookmakerOK {
		b.LastEventCount = r.EventCount
		b.LastPayloadSize = r.PayloadSize
	}
	b.UpdatedAt = s.db.now().UTC()
	s.db.bookmakers[code] = b
	return nil
}
