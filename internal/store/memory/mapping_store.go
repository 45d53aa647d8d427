package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/oddsbot/internal/domain"
)

var (
	_ domain.MappingStore  = (*MappingStore)(nil)
	_ domain.UnmappedStore = (*UnmappedStore)(nil)
)

// MappingStore implements domain.MappingStore.
type MappingStore struct {
	db *DB
}

// Get returns the mapping of a bookmaker's external id.
func (s *MappingStore) Get(_ context.Context, bookmakerCode, externalID string) (domain.EventMapping, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	m, ok := s.db.mappings[mappingKey{bookmakerCode, externalID}]
	if !ok {
		return domain.EventMapping{}, fmt.Errorf("memory: mapping %s/%s: %w", bookmakerCode, externalID, domain.ErrNotFound)
	}
	return m, nil
}

// FindByProviderID returns mappings that carry the shared provider id.
func (s *MappingStore) FindByProviderID(_ context.Context, providerID string) ([]domain.EventMapping, error) {
	return s.filter(func(m domain.EventMapping) bool { return m.ProviderID == providerID }), nil
}

// FindCandidates returns mappings with matchKey whose kickoff lies in
// [from, to].
func (s *MappingStore) FindCandidates(_ context.Context, matchKey string, from, to time.Time) ([]domain.EventMapping, error) {
	return s.filter(func(m domain.EventMapping) bool {
		return m.MatchKey == matchKey && !m.Kickoff.Before(from) && !m.Kickoff.After(to)
	}), nil
}

// ListByEvent returns every mapping onto an event.
func (s *MappingStore) ListByEvent(_ context.Context, eventID string) ([]domain.EventMapping, error) {
	return s.filter(func(m domain.EventMapping) bool { return m.EventID == eventID }), nil
}

// Upsert stores m, replacing the mapping of the same bookmaker id.
func (s *MappingStore) Upsert(_ context.Context, m domain.EventMapping) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	s.db.mappings[mappingKey{m.BookmakerCode, m.ExternalID}] = m
	return nil
}

func (s *MappingStore) filter(keep func(domain.EventMapping) bool) []domain.EventMapping {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var out []domain.EventMapping
	for _, m := range s.db.mappings {
		if keep(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BookmakerCode != out[j].BookmakerCode {
			return out[i].BookmakerCode < out[j].BookmakerCode
		}
		return out[i].ExternalID < out[j].ExternalID
	})
	return out
}

// UnmappedStore implements domain.UnmappedStore.
type UnmappedStore struct {
	db *DB
}

// Add stores r, replacing an earlier record for the same bookmaker id.
func (s *UnmappedStore) Add(_ context.Context, r domain.UnmappedRecord) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for i, cur := range s.db.unmapped {
		if cur.Record.BookmakerCode == r.Record.BookmakerCode && cur.Record.ExternalID == r.Record.ExternalID {
			r.ID = cur.ID
			s.db.unmapped[i] = r
			return nil
		}
	}
	r.ID = s.db.nextID()
	s.db.unmapped = append(s.db.unmapped, r)
	return nil
}

// List returns held records, newest first.
func (s *UnmappedStore) List(_ context.Context, opts domain.ListOpts) ([]domain.UnmappedRecord, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var out []domain.UnmappedRecord
	for _, r := range s.db.unmapped {
		if inWindow(r.CreatedAt, opts.Since, opts.Until) {
			out = append(out, r)
		}
	}
	sortByTimeDesc(out, func(r domain.UnmappedRecord) time.Time { return r.CreatedAt })
	lo, hi := page(len(out), opts.Offset, opts.Limit)
	return out[lo:hi], nil
}
