package memory

import (
	"context"
	"time"

	"github.com/alanyoungcy/oddsbot/internal/domain"
)

var (
	_ domain.TournamentMarginStore = (*TournamentMarginStore)(nil)
	_ domain.HeartbeatStore        = (*HeartbeatStore)(nil)
	_ domain.AuditStore            = (*AuditStore)(nil)
)

// TournamentMarginStore implements domain.TournamentMarginStore.
type TournamentMarginStore struct {
	db *DB
}

// Append adds margin points.
func (s *TournamentMarginStore) Append(_ context.Context, points []domain.TournamentMarginPoint) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for _, p := range points {
		p.ID = s.db.nextID()
		s.db.margins = append(s.db.margins, p)
	}
	return nil
}

// List returns margin points matching the filter, newest first.
func (s *TournamentMarginStore) List(_ context.Context, f domain.TournamentFilter) ([]domain.TournamentMarginPoint, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var out []domain.TournamentMarginPoint
	for _, p := range s.db.margins {
		if f.Country != "" && p.Country != f.Country {
			continue
		}
		if f.Tournament != "" && p.Tournament != f.Tournament {
			continue
		}
		if f.BookmakerCode != "" && p.BookmakerCode != f.BookmakerCode {
			continue
		}
		if !inWindow(p.RecordedAt, f.Since, f.Until) {
			continue
		}
		out = append(out, p)
	}
	sortByTimeDesc(out, func(p domain.TournamentMarginPoint) time.Time { return p.RecordedAt })
	_, hi := page(len(out), 0, f.Limit)
	return out[:hi], nil
}

// ListBefore returns margin points recorded before the cutoff.
func (s *TournamentMarginStore) ListBefore(_ context.Context, before time.Time) ([]domain.TournamentMarginPoint, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var out []domain.TournamentMarginPoint
	for _, p := range s.db.margins {
		if p.RecordedAt.Before(before) {
			out = append(out, p)
		}
	}
	return out, nil
}

// HeartbeatStore implements domain.HeartbeatStore.
type HeartbeatStore struct {
	db *DB
}

// AppendSample stores one status sample and assigns its id.
func (s *HeartbeatStore) AppendSample(_ context.Context, sample domain.HeartbeatSample) (domain.HeartbeatSample, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	sample.ID = s.db.nextID()
	s.db.samples = append(s.db.samples, sample)
	return sample, nil
}

// ListSamples returns the samples of an event in the order they were taken.
// An empty bookmakerCode matches every bookmaker.
func (s *HeartbeatStore) ListSamples(_ context.Context, eventID, bookmakerCode string, opts domain.ListOpts) ([]domain.HeartbeatSample, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var out []domain.HeartbeatSample
	for _, sm := range s.db.samples {
		if sm.EventID != eventID {
			continue
		}
		if bookmakerCode != "" && sm.BookmakerCode != bookmakerCode {
			continue
		}
		if !inWindow(sm.SampledAt, opts.Since, opts.Until) {
			continue
		}
		out = append(out, sm)
	}
	lo, hi := page(len(out), opts.Offset, opts.Limit)
	return out[lo:hi], nil
}

// ListSamplesBefore returns samples taken before the cutoff.
func (s *HeartbeatStore) ListSamplesBefore(_ context.Context, before time.Time) ([]domain.HeartbeatSample, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var out []domain.HeartbeatSample
	for _, sm := range s.db.samples {
		if sm.SampledAt.Before(before) {
			out = append(out, sm)
		}
	}
	return out, nil
}

// AppendStats stores a stats snapshot.
func (s *HeartbeatStore) AppendStats(_ context.Context, st domain.HeartbeatStats) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	st.ID = s.db.nextID()
	s.db.stats = append(s.db.stats, st)
	return nil
}

// ListStats returns the stats snapshots of an event, newest first.
func (s *HeartbeatStore) ListStats(_ context.Context, eventID, bookmakerCode string, opts domain.ListOpts) ([]domain.HeartbeatStats, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var out []domain.HeartbeatStats
	for _, st := range s.db.stats {
		if st.EventID != eventID {
			continue
		}
		if bookmakerCode != "" && st.BookmakerCode != bookmakerCode {
			continue
		}
		if !inWindow(st.ComputedAt, opts.Since, opts.Until) {
			continue
		}
		out = append(out, st)
	}
	sortByTimeDesc(out, func(st domain.HeartbeatStats) time.Time { return st.ComputedAt })
	lo, hi := page(len(out), opts.Offset, opts.Limit)
	return out[lo:hi], nil
}

// AuditStore implements domain.AuditStore.
type AuditStore struct {
	db *DB
}

// Log appends an audit entry.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	s.db.audit = append(s.db.audit, domain.AuditEntry{
		ID:        s.db.nextID(),
		Event:     event,
		Detail:    detail,
		CreatedAt: s.db.now().UTC(),
	})
	return nil
}

// List returns audit entries, newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var out []domain.AuditEntry
	for _, a := range s.db.audit {
		if inWindow(a.CreatedAt, opts.Since, opts.Until) {
			out = append(out, a)
		}
	}
	sortByTimeDesc(out, func(a domain.AuditEntry) time.Time { return a.CreatedAt })
	lo, hi := page(len(out), opts.Offset, opts.Limit)
	return out[lo:hi], nil
}
