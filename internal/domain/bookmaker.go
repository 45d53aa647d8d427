package domain

import "time"

// BookmakerStatus is the health state shown to operators.
type BookmakerStatus string

const (
	BookmakerIdle    BookmakerStatus = "Idle"
	BookmakerRunning BookmakerStatus = "Running"
	BookmakerOK      BookmakerStatus = "OK"
	BookmakerError   BookmakerStatus = "Error"
)

// Bookmaker is an independent odds source. Rows are created from
// configuration and only the orchestrator mutates the run metadata.
type Bookmaker struct {
	Code            string          `json:"code"`
	Name            string          `json:"name"`
	Active          bool            `json:"active"`
	Kind            string          `json:"kind"`
	Status          BookmakerStatus `json:"status"`
	LastError       string          `json:"last_error,omitempty"`
	LastRunAt       *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt       *time.Time      `json:"next_run_at,omitempty"`
	LastEventCount  int             `json:"last_event_count"`
	LastPayloadSize int64           `json:"last_payload_size"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// RunReport is the outcome of one orchestrator run, written back onto the
// bookmaker row.
type RunReport struct {
	Status      BookmakerStatus
	Error       string
	RanAt       time.Time
	NextRunAt   time.Time
	EventCount  int
	PayloadSize int64
}
