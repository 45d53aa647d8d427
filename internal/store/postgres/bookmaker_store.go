package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/oddsbot/internal/domain"
)

// BookmakerStore implements domain.BookmakerStore.
type BookmakerStore struct {
	pool *pgxpool.Pool
}

// NewBookmakerStore creates a BookmakerStore on pool.
func NewBookmakerStore(pool *pgxpool.Pool) *BookmakerStore {
	return &BookmakerStore{pool: pool}
}

const bookmakerCols = `code, name, kind, active, status, last_error,
	last_run_at, next_run_at, last_event_count, last_payload_size, updated_at`

func scanBookmaker(row pgx.Row) (domain.Bookmaker, error) {
	var b domain.Bookmaker
	var status string
	err := row.Scan(
		&b.Code, &b.Name, &b.Kind, &b.Active, &status, &b.LastError,
		&b.LastRunAt, &b.NextRunAt, &b.LastEventCount, &b.LastPayloadSize, &b.UpdatedAt,
	)
	if err != nil {
		return domain.Bookmaker{}, err
	}
	b.Status = domain.BookmakerStatus(status)
	return b, nil
}

// Upsert writes the configuration-owned columns. Run health columns are
// left as they are.
func (s *BookmakerStore) Upsert(ctx context.Context, b domain.Bookmaker) error {
	const query = `
		INSERT INTO bookmakers (code, name, kind, active, status, updated_at)
		VALUES ($1, $2, $3, $4, 'Idle', NOW())
		ON CONFLICT (code) DO UPDATE SET
			name       = EXCLUDED.name,
			kind       = EXCLUDED.kind,
			active     = EXCLUDED.active,
			updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, b.Code, b.Name, b.Kind, b.Active); err != nil {
		return fmt.Errorf("postgres: upsert bookmaker %s: %w", b.Code, err)
	}
	return nil
}

// Get returns the bookmaker with code.
func (s *BookmakerStore) Get(ctx context.Context, code string) (domain.Bookmaker, error) {
	b, err := scanBookmaker(s.pool.QueryRow(ctx,
		`SELECT `+bookmakerCols+` FROM bookmakers WHERE code = $1`, code))
	if err != nil {
		return domain.Bookmaker{}, fmt.Errorf("postgres: get bookmaker %s: %w", code, mapErr(err))
	}
	return b, nil
}

// List returns every bookmaker ordered by code.
func (s *BookmakerStore) List(ctx context.Context) ([]domain.Bookmaker, error) {
	return s.list(ctx, `SELECT `+bookmakerCols+` FROM bookmakers ORDER BY code`)
}

// ListActive returns active bookmakers ordered by code.
func (s *BookmakerStore) ListActive(ctx context.Context) ([]domain.Bookmaker, error) {
	return s.list(ctx, `SELECT `+bookmakerCols+` FROM bookmakers WHERE active ORDER BY code`)
}

func (s *BookmakerStore) list(ctx context.Context, query string) ([]domain.Bookmaker, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bookmakers: %w", err)
	}
	defer rows.Close()

	var out []domain.Bookmaker
	for rows.Next() {
		b, err := scanBookmaker(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bookmaker: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bookmakers rows: %w", err)
	}
	return out, nil
}

// SetStatus updates the status only.
func (s *BookmakerStore) SetStatus(ctx context.Context, code string, status domain.BookmakerStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bookmakers SET status = $2, updated_at = NOW() WHERE code = $1`, code, string(status))
	if err != nil {
		return fmt.Errorf("postgres: set bookmaker status %s: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: bookmaker %s: %w", code, domain.ErrNotFound)
	}
	return nil
}

// RecordRun writes the outcome of one run. Event count and payload size
// only change on a successful run.
func (s *BookmakerStore) RecordRun(ctx context.Context, code string, r domain.RunReport) error {
	const query = `
		UPDATE bookmakers SET
			status            = $2,
			last_error        = $3,
			last_run_at       = $4,
			next_run_at       = $5,
			last_event_count  = CASE WHEN $2 = 'OK' THEN $6 ELSE last_event_count END,
			last_payload_size = CASE WHEN $2 = 'OK' THEN $7 ELSE last_payload_size END,
			updated_at        = NOW()
		WHERE code = $1`
	tag, err := s.pool.Exec(ctx, query,
		code, string(r.Status), r.Error, r.RanAt, r.NextRunAt, r.EventCount, r.PayloadSize)
	if err != nil {
		return fmt.Errorf("postgres: record run %s: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: bookmaker %s: %w", code, domain.ErrNotFound)
	}
	return nil
}

var _ domain.BookmakerStore = (*BookmakerStore)(nil)
