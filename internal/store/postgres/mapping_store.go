package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/oddsbot/internal/domain"
)

// MappingStore implements domain.MappingStore.
type MappingStore struct {
	pool *pgxpool.Pool
}

// NewMappingStore creates a MappingStore on pool.
func NewMappingStore(pool *pgxpool.Pool) *MappingStore {
	return &MappingStore{pool: pool}
}

const mappingCols = `bookmaker_code, external_id, event_id, match_key, tournament_key,
	provider_id, kickoff, confidence, updated_at`

func scanMapping(row pgx.Row) (domain.EventMapping, error) {
	var m domain.EventMapping
	err := row.Scan(
		&m.BookmakerCode, &m.ExternalID, &m.EventID, &m.MatchKey, &m.TournamentKey,
		&m.ProviderID, &m.Kickoff, &m.Confidence, &m.UpdatedAt,
	)
	return m, err
}

// Get returns the mapping for a bookmaker-local id.
func (s *MappingStore) Get(ctx context.Context, bookmakerCode, externalID string) (domain.EventMapping, error) {
	m, err := scanMapping(s.pool.QueryRow(ctx,
		`SELECT `+mappingCols+` FROM event_mappings WHERE bookmaker_code = $1 AND external_id = $2`,
		bookmakerCode, externalID))
	if err != nil {
		return domain.EventMapping{}, fmt.Errorf("postgres: get mapping %s/%s: %w", bookmakerCode, externalID, mapErr(err))
	}
	return m, nil
}

// FindByProviderID returns mappings sharing a provider id.
func (s *MappingStore) FindByProviderID(ctx context.Context, providerID string) ([]domain.EventMapping, error) {
	return s.query(ctx,
		`SELECT `+mappingCols+` FROM event_mappings WHERE provider_id = $1
		 ORDER BY bookmaker_code, external_id`, providerID)
}

// FindCandidates returns mappings with matchKey and kickoff in [from, to].
func (s *MappingStore) FindCandidates(ctx context.Context, matchKey string, from, to time.Time) ([]domain.EventMapping, error) {
	return s.query(ctx,
		`SELECT `+mappingCols+` FROM event_mappings
		 WHERE match_key = $1 AND kickoff >= $2 AND kickoff <= $3
		 ORDER BY bookmaker_code, external_id`, matchKey, from, to)
}

// ListByEvent returns every mapping onto eventID.
func (s *MappingStore) ListByEvent(ctx context.Context, eventID string) ([]domain.EventMapping, error) {
	return s.query(ctx,
		`SELECT `+mappingCols+` FROM event_mappings WHERE event_id = $1
		 ORDER BY bookmaker_code, external_id`, eventID)
}

// Upsert inserts or replaces the mapping for (bookmaker, external id).
func (s *MappingStore) Upsert(ctx context.Context, m domain.EventMapping) error {
	const query = `
		INSERT INTO event_mappings (
			bookmaker_code, external_id, event_id, match_key, tournament_key,
			provider_id, kickoff, confidence, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (bookmaker_code, external_id) DO UPDATE SET
			event_id       = EXCLUDED.event_id,
			match_key      = EXCLUDED.match_key,
			tournament_key = EXCLUDED.tournament_key,
			provider_id    = EXCLUDED.provider_id,
			kickoff        = EXCLUDED.kickoff,
			confidence     = EXCLUDED.confidence,
			updated_at     = NOW()`
	_, err := s.pool.Exec(ctx, query,
		m.BookmakerCode, m.ExternalID, m.EventID, m.MatchKey, m.TournamentKey,
		m.ProviderID, m.Kickoff, m.Confidence,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert mapping %s/%s: %w", m.BookmakerCode, m.ExternalID, err)
	}
	return nil
}

func (s *MappingStore) query(ctx context.Context, query string, args ...any) ([]domain.EventMapping, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list mappings: %w", err)
	}
	defer rows.Close()

	var out []domain.EventMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan mapping: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list mappings rows: %w", err)
	}
	return out, nil
}

// UnmappedStore implements domain.UnmappedStore. The raw record is stored
// as JSONB.
type UnmappedStore struct {
	pool *pgxpool.Pool
}

// NewUnmappedStore creates an UnmappedStore on pool.
func NewUnmappedStore(pool *pgxpool.Pool) *UnmappedStore {
	return &UnmappedStore{pool: pool}
}

// Add stores r, replacing an earlier record for the same bookmaker id.
func (s *UnmappedStore) Add(ctx context.Context, r domain.UnmappedRecord) error {
	recJSON, err := json.Marshal(r.Record)
	if err != nil {
		return fmt.Errorf("postgres: marshal unmapped record: %w", err)
	}
	candidates := r.CandidateIDs
	if candidates == nil {
		candidates = []string{}
	}
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	const query = `
		INSERT INTO unmapped_records (bookmaker_code, external_id, record, reason, candidate_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (bookmaker_code, external_id) DO UPDATE SET
			record        = EXCLUDED.record,
			reason        = EXCLUDED.reason,
			candidate_ids = EXCLUDED.candidate_ids,
			created_at    = EXCLUDED.created_at`
	if _, err := s.pool.Exec(ctx, query,
		r.Record.BookmakerCode, r.Record.ExternalID, recJSON, r.Reason, candidates, createdAt,
	); err != nil {
		return fmt.Errorf("postgres: add unmapped %s/%s: %w", r.Record.BookmakerCode, r.Record.ExternalID, err)
	}
	return nil
}

// List returns held records newest first.
func (s *UnmappedStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.UnmappedRecord, error) {
	query, args := window(`SELECT id, record, reason, candidate_ids, created_at FROM unmapped_records WHERE 1=1`,
		nil, "created_at", opts.Since, opts.Until)
	query += " ORDER BY created_at DESC, id DESC"
	query, args = paginate(query, args, opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unmapped: %w", err)
	}
	defer rows.Close()

	var out []domain.UnmappedRecord
	for rows.Next() {
		var r domain.UnmappedRecord
		var recJSON []byte
		if err := rows.Scan(&r.ID, &recJSON, &r.Reason, &r.CandidateIDs, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan unmapped: %w", err)
		}
		if err := json.Unmarshal(recJSON, &r.Record); err != nil {
			return nil, fmt.Errorf("postgres: decode unmapped record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list unmapped rows: %w", err)
	}
	return out, nil
}

var (
	_ domain.MappingStore  = (*MappingStore)(nil)
	_ domain.UnmappedStore = (*UnmappedStore)(nil)
)
