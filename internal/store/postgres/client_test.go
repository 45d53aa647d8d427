package postgres

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/oddsbot/internal/domain"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  ClientConfig{DSN: "postgres://u:p@db/x", Host: "ignored"},
			want: "postgres://u:p@db/x",
		},
		{
			name: "defaults",
			cfg:  ClientConfig{Host: "localhost", User: "odds", Password: "pw", Database: "oddsbot"},
			want: "postgres://odds:pw@localhost:5432/oddsbot?sslmode=disable",
		},
		{
			name: "port and ssl",
			cfg:  ClientConfig{Host: "db", Port: 6543, User: "u", Password: "p", Database: "d", SSLMode: "require"},
			want: "postgres://u:p@db:6543/d?sslmode=require",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Errorf("DSN = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMapErr(t *testing.T) {
	if err := mapErr(pgx.ErrNoRows); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("ErrNoRows -> %v", err)
	}
	wrapped := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	if err := mapErr(wrapped); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("unique violation -> %v", err)
	}
	other := &pgconn.PgError{Code: "23503"}
	if err := mapErr(other); err != other {
		t.Errorf("other pg error changed: %v", err)
	}
}

func TestWindowAndPaginate(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)

	q, args := window("SELECT 1 WHERE event_id = $1", []any{"evt"}, "recorded_at", &since, &until)
	q, args = paginate(q, args, 10, 20)

	want := "SELECT 1 WHERE event_id = $1 AND recorded_at >= $2 AND recorded_at < $3 LIMIT $4 OFFSET $5"
	if q != want {
		t.Errorf("query = %q\nwant    %q", q, want)
	}
	if len(args) != 5 || args[3] != 10 || args[4] != 20 {
		t.Errorf("args = %v", args)
	}

	q, args = paginate("SELECT 1", nil, 0, 0)
	if q != "SELECT 1" || len(args) != 0 {
		t.Errorf("no-op paginate changed query: %q %v", q, args)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/001_init.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Error("empty migration")
	}
}
