package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/oddsbot/internal/domain"
)

// TournamentMarginStore implements domain.TournamentMarginStore.
type TournamentMarginStore struct {
	pool *pgxpool.Pool
}

// NewTournamentMarginStore creates a TournamentMarginStore on pool.
func NewTournamentMarginStore(pool *pgxpool.Pool) *TournamentMarginStore {
	return &TournamentMarginStore{pool: pool}
}

// Append inserts points in one batch.
func (s *TournamentMarginStore) Append(ctx context.Context, points []domain.TournamentMarginPoint) error {
	if len(points) == 0 {
		return nil
	}

	const query = `
		INSERT INTO tournament_margins (
			country, tournament, bookmaker_code, avg_margin_pct, event_count, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6)`
	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(query, p.Country, p.Tournament, p.BookmakerCode, p.AvgMarginPct, p.EventCount, p.RecordedAt)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range points {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: append tournament margin %d: %w", i, err)
		}
	}
	return nil
}

const marginCols = `id, country, tournament, bookmaker_code, avg_margin_pct, event_count, recorded_at`

// List returns points matching f, newest first.
func (s *TournamentMarginStore) List(ctx context.Context, f domain.TournamentFilter) ([]domain.TournamentMarginPoint, error) {
	query := `SELECT ` + marginCols + ` FROM tournament_margins WHERE 1=1`
	var args []any
	for _, c := range []struct{ col, val string }{
		{"country", f.Country},
		{"tournament", f.Tournament},
		{"bookmaker_code", f.BookmakerCode},
	} {
		if c.val != "" {
			args = append(args, c.val)
			query += fmt.Sprintf(" AND %s = $%d", c.col, len(args))
		}
	}
	query, args = window(query, args, "recorded_at", f.Since, f.Until)
	query += " ORDER BY recorded_at DESC, id DESC"
	query, args = paginate(query, args, f.Limit, 0)
	return s.query(ctx, query, args...)
}

// ListBefore returns points recorded before the cutoff.
func (s *TournamentMarginStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TournamentMarginPoint, error) {
	return s.query(ctx, `SELECT `+marginCols+` FROM tournament_margins WHERE recorded_at < $1 ORDER BY id`, before)
}

func (s *TournamentMarginStore) query(ctx context.Context, query string, args ...any) ([]domain.TournamentMarginPoint, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tournament margins: %w", err)
	}
	defer rows.Close()

	var out []domain.TournamentMarginPoint
	for rows.Next() {
		var p domain.TournamentMarginPoint
		if err := rows.Scan(&p.ID, &p.Country, &p.Tournament, &p.BookmakerCode,
			&p.AvgMarginPct, &p.EventCount, &p.RecordedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan tournament margin: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list tournament margins rows: %w", err)
	}
	return out, nil
}

// HeartbeatStore implements domain.HeartbeatStore.
type HeartbeatStore struct {
	pool *pgxpool.Pool
}

// NewHeartbeatStore creates a HeartbeatStore on pool.
func NewHeartbeatStore(pool *pgxpool.Pool) *HeartbeatStore {
	return &HeartbeatStore{pool: pool}
}

const sampleCols = `id, event_id, bookmaker_code, state, clock, reason, sampled_at`

// AppendSample inserts one sample and returns it with its id.
func (s *HeartbeatStore) AppendSample(ctx context.Context, sample domain.HeartbeatSample) (domain.HeartbeatSample, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO heartbeat_samples (event_id, bookmaker_code, state, clock, reason, sampled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		sample.EventID, sample.BookmakerCode, string(sample.State), sample.Clock, sample.Reason, sample.SampledAt,
	).Scan(&sample.ID)
	if err != nil {
		return domain.HeartbeatSample{}, fmt.Errorf("postgres: append heartbeat sample %s: %w", sample.EventID, err)
	}
	return sample, nil
}

// ListSamples returns samples in time order, optionally for one bookmaker.
func (s *HeartbeatStore) ListSamples(ctx context.Context, eventID, bookmakerCode string, opts domain.ListOpts) ([]domain.HeartbeatSample, error) {
	query := `SELECT ` + sampleCols + ` FROM heartbeat_samples WHERE event_id = $1`
	args := []any{eventID}
	if bookmakerCode != "" {
		args = append(args, bookmakerCode)
		query += fmt.Sprintf(" AND bookmaker_code = $%d", len(args))
	}
	query, args = window(query, args, "sampled_at", opts.Since, opts.Until)
	query += " ORDER BY sampled_at, id"
	query, args = paginate(query, args, opts.Limit, opts.Offset)
	return s.samples(ctx, query, args...)
}

// ListSamplesBefore returns samples taken before the cutoff.
func (s *HeartbeatStore) ListSamplesBefore(ctx context.Context, before time.Time) ([]domain.HeartbeatSample, error) {
	return s.samples(ctx, `SELECT `+sampleCols+` FROM heartbeat_samples WHERE sampled_at < $1 ORDER BY id`, before)
}

func (s *HeartbeatStore) samples(ctx context.Context, query string, args ...any) ([]domain.HeartbeatSample, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list heartbeat samples: %w", err)
	}
	defer rows.Close()

	var out []domain.HeartbeatSample
	for rows.Next() {
		var h domain.HeartbeatSample
		var state string
		if err := rows.Scan(&h.ID, &h.EventID, &h.BookmakerCode, &state, &h.Clock, &h.Reason, &h.SampledAt); err != nil {
			return nil, fmt.Errorf("postgres: scan heartbeat sample: %w", err)
		}
		h.State = domain.HeartbeatState(state)
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list heartbeat samples rows: %w", err)
	}
	return out, nil
}

// AppendStats inserts one stats snapshot.
func (s *HeartbeatStore) AppendStats(ctx context.Context, st domain.HeartbeatStats) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO heartbeat_stats (
			event_id, bookmaker_code, uptime_pct,
			available_minutes, suspended_minutes, total_minutes,
			available_samples, suspended_samples, unknown_samples,
			day_key, week_key, month_key, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		st.EventID, st.BookmakerCode, st.UptimePct,
		st.AvailableMinutes, st.SuspendedMinutes, st.TotalMinutes,
		st.AvailableSamples, st.SuspendedSamples, st.UnknownSamples,
		st.DayKey, st.WeekKey, st.MonthKey, st.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append heartbeat stats %s: %w", st.EventID, err)
	}
	return nil
}

// ListStats returns snapshots newest first.
func (s *HeartbeatStore) ListStats(ctx context.Context, eventID, bookmakerCode string, opts domain.ListOpts) ([]domain.HeartbeatStats, error) {
	query := `SELECT id, event_id, bookmaker_code, uptime_pct,
		available_minutes, suspended_minutes, total_minutes,
		available_samples, suspended_samples, unknown_samples,
		day_key, week_key, month_key, computed_at
		FROM heartbeat_stats WHERE event_id = $1`
	args := []any{eventID}
	if bookmakerCode != "" {
		args = append(args, bookmakerCode)
		query += fmt.Sprintf(" AND bookmaker_code = $%d", len(args))
	}
	query, args = window(query, args, "computed_at", opts.Since, opts.Until)
	query += " ORDER BY computed_at DESC, id DESC"
	query, args = paginate(query, args, opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list heartbeat stats: %w", err)
	}
	defer rows.Close()

	var out []domain.HeartbeatStats
	for rows.Next() {
		var st domain.HeartbeatStats
		if err := rows.Scan(
			&st.ID, &st.EventID, &st.BookmakerCode, &st.UptimePct,
			&st.AvailableMinutes, &st.SuspendedMinutes, &st.TotalMinutes,
			&st.AvailableSamples, &st.SuspendedSamples, &st.UnknownSamples,
			&st.DayKey, &st.WeekKey, &st.MonthKey, &st.ComputedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan heartbeat stats: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list heartbeat stats rows: %w", err)
	}
	return out, nil
}

var (
	_ domain.TournamentMarginStore = (*TournamentMarginStore)(nil)
	_ domain.HeartbeatStore        = (*HeartbeatStore)(nil)
)
