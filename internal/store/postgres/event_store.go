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

// EventStore implements domain.EventStore. odds_data and best_odds are
// JSONB columns.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore on pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventCols = `event_id, sport, home_team, away_team, country, tournament,
	kickoff, odds_data, best_odds, created_at, updated_at`

func scanEvent(row pgx.Row) (domain.CanonicalEvent, error) {
	var e domain.CanonicalEvent
	var oddsJSON, bestJSON []byte
	err := row.Scan(
		&e.EventID, &e.Sport, &e.HomeTeam, &e.AwayTeam, &e.Country, &e.Tournament,
		&e.Kickoff, &oddsJSON, &bestJSON, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return domain.CanonicalEvent{}, err
	}
	if err := json.Unmarshal(oddsJSON, &e.OddsData); err != nil {
		return domain.CanonicalEvent{}, fmt.Errorf("decode odds_data: %w", err)
	}
	if err := json.Unmarshal(bestJSON, &e.BestOdds); err != nil {
		return domain.CanonicalEvent{}, fmt.Errorf("decode best_odds: %w", err)
	}
	if e.OddsData == nil {
		e.OddsData = map[string]domain.OutcomeOdds{}
	}
	return e, nil
}

func encodeOdds(e domain.CanonicalEvent) (oddsJSON, bestJSON []byte, err error) {
	data := e.OddsData
	if data == nil {
		data = map[string]domain.OutcomeOdds{}
	}
	best := e.BestOdds
	if best == nil {
		best = domain.BestOdds{}
	}
	if oddsJSON, err = json.Marshal(data); err != nil {
		return nil, nil, fmt.Errorf("encode odds_data: %w", err)
	}
	if bestJSON, err = json.Marshal(best); err != nil {
		return nil, nil, fmt.Errorf("encode best_odds: %w", err)
	}
	return oddsJSON, bestJSON, nil
}

// Create inserts e. A taken id yields domain.ErrAlreadyExists.
func (s *EventStore) Create(ctx context.Context, e domain.CanonicalEvent) error {
	oddsJSON, bestJSON, err := encodeOdds(e)
	if err != nil {
		return fmt.Errorf("postgres: create event %s: %w", e.EventID, err)
	}
	const query = `
		INSERT INTO events (
			event_id, sport, home_team, away_team, country, tournament,
			kickoff, odds_data, best_odds, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())`
	_, err = s.pool.Exec(ctx, query,
		e.EventID, e.Sport, e.HomeTeam, e.AwayTeam, e.Country, e.Tournament,
		e.Kickoff, oddsJSON, bestJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: create event %s: %w", e.EventID, mapErr(err))
	}
	return nil
}

// Get returns the event with id.
func (s *EventStore) Get(ctx context.Context, id string) (domain.CanonicalEvent, error) {
	e, err := scanEvent(s.pool.QueryRow(ctx, `SELECT `+eventCols+` FROM events WHERE event_id = $1`, id))
	if err != nil {
		return domain.CanonicalEvent{}, fmt.Errorf("postgres: get event %s: %w", id, mapErr(err))
	}
	return e, nil
}

// List returns events matching f ordered by kickoff.
func (s *EventStore) List(ctx context.Context, f domain.EventFilter) ([]domain.CanonicalEvent, error) {
	query := `SELECT ` + eventCols + ` FROM events WHERE 1=1`
	var args []any
	if f.Country != "" {
		args = append(args, f.Country)
		query += fmt.Sprintf(" AND country = $%d", len(args))
	}
	if f.Tournament != "" {
		args = append(args, f.Tournament)
		query += fmt.Sprintf(" AND tournament = $%d", len(args))
	}
	query, args = window(query, args, "kickoff", f.From, f.To)
	query += " ORDER BY kickoff, event_id"
	query, args = paginate(query, args, f.Limit, f.Offset)
	return s.query(ctx, query, args...)
}

// ListLive returns events with kickoff in (at-window, at].
func (s *EventStore) ListLive(ctx context.Context, at time.Time, window time.Duration) ([]domain.CanonicalEvent, error) {
	return s.query(ctx,
		`SELECT `+eventCols+` FROM events WHERE kickoff > $1 AND kickoff <= $2 ORDER BY event_id`,
		at.Add(-window), at)
}

func (s *EventStore) query(ctx context.Context, query string, args ...any) ([]domain.CanonicalEvent, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var out []domain.CanonicalEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return out, nil
}

// UpdateKickoff moves the event's kickoff.
func (s *EventStore) UpdateKickoff(ctx context.Context, id string, kickoff time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE events SET kickoff = $2, updated_at = NOW() WHERE event_id = $1`, id, kickoff)
	if err != nil {
		return fmt.Errorf("postgres: update kickoff %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: event %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// SaveOdds writes the event's odds columns and appends the history entry in
// one transaction.
func (s *EventStore) SaveOdds(ctx context.Context, e domain.CanonicalEvent, entry domain.OddsHistoryEntry) (domain.OddsHistoryEntry, error) {
	oddsJSON, bestJSON, err := encodeOdds(e)
	if err != nil {
		return domain.OddsHistoryEntry{}, fmt.Errorf("postgres: save odds %s: %w", e.EventID, err)
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE events SET odds_data = $2, best_odds = $3, updated_at = NOW() WHERE event_id = $1`,
			e.EventID, oddsJSON, bestJSON)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
		return tx.QueryRow(ctx, `
			INSERT INTO odds_history (
				event_id, bookmaker_code, home_odds, draw_odds, away_odds,
				margin, margin_pct, recorded_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id`,
			entry.EventID, entry.BookmakerCode,
			entry.Odds.Home, entry.Odds.Draw, entry.Odds.Away,
			entry.Margin, entry.MarginPct, entry.RecordedAt,
		).Scan(&entry.ID)
	})
	if err != nil {
		return domain.OddsHistoryEntry{}, fmt.Errorf("postgres: save odds %s: %w", e.EventID, err)
	}
	return entry, nil
}

// OddsHistoryStore implements domain.OddsHistoryStore.
type OddsHistoryStore struct {
	pool *pgxpool.Pool
}

// NewOddsHistoryStore creates an OddsHistoryStore on pool.
func NewOddsHistoryStore(pool *pgxpool.Pool) *OddsHistoryStore {
	return &OddsHistoryStore{pool: pool}
}

const historyCols = `id, event_id, bookmaker_code, home_odds, draw_odds, away_odds,
	margin, margin_pct, recorded_at`

func scanHistory(row pgx.Row) (domain.OddsHistoryEntry, error) {
	var h domain.OddsHistoryEntry
	err := row.Scan(
		&h.ID, &h.EventID, &h.BookmakerCode,
		&h.Odds.Home, &h.Odds.Draw, &h.Odds.Away,
		&h.Margin, &h.MarginPct, &h.RecordedAt,
	)
	return h, err
}

// ListByEvent returns the event's history newest first, optionally for one
// bookmaker.
func (s *OddsHistoryStore) ListByEvent(ctx context.Context, eventID, bookmakerCode string, opts domain.ListOpts) ([]domain.OddsHistoryEntry, error) {
	query := `SELECT ` + historyCols + ` FROM odds_history WHERE event_id = $1`
	args := []any{eventID}
	if bookmakerCode != "" {
		args = append(args, bookmakerCode)
		query += fmt.Sprintf(" AND bookmaker_code = $%d", len(args))
	}
	query, args = window(query, args, "recorded_at", opts.Since, opts.Until)
	query += " ORDER BY recorded_at DESC, id DESC"
	query, args = paginate(query, args, opts.Limit, opts.Offset)
	return s.query(ctx, query, args...)
}

// ListBefore returns every entry recorded before the cutoff, oldest first.
func (s *OddsHistoryStore) ListBefore(ctx context.Context, before time.Time) ([]domain.OddsHistoryEntry, error) {
	return s.query(ctx,
		`SELECT `+historyCols+` FROM odds_history WHERE recorded_at < $1 ORDER BY id`, before)
}

func (s *OddsHistoryStore) query(ctx context.Context, query string, args ...any) ([]domain.OddsHistoryEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list odds history: %w", err)
	}
	defer rows.Close()

	var out []domain.OddsHistoryEntry
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan odds history: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list odds history rows: %w", err)
	}
	return out, nil
}

var (
	_ domain.EventStore       = (*EventStore)(nil)
	_ domain.OddsHistoryStore = (*OddsHistoryStore)(nil)
)
