package domain

import "time"

// HeartbeatState is the tradability of an in-play market at one poll.
type HeartbeatState string

const (
	HeartbeatAvailable HeartbeatState = "available"
	HeartbeatSuspended HeartbeatState = "suspended"
	HeartbeatUnknown   HeartbeatState = "unknown"
)

// HeartbeatSample is one append-only poll result.
type HeartbeatSample struct {
	ID            int64          `json:"id"`
	EventID       string         `json:"event_id"`
	BookmakerCode string         `json:"bookmaker_code"`
	State         HeartbeatState `json:"state"`
	Clock         string         `json:"clock,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	SampledAt     time.Time      `json:"sampled_at"`
}

// HeartbeatStats is a persisted snapshot of uptime aggregates. Unknown
// samples are counted but never enter the minute figures.
type HeartbeatStats struct {
	ID               int64     `json:"id"`
	EventID          string    `json:"event_id"`
	BookmakerCode    string    `json:"bookmaker_code"`
	UptimePct        float64   `json:"uptime_pct"`
	AvailableMinutes float64   `json:"available_minutes"`
	SuspendedMinutes float64   `json:"suspended_minutes"`
	TotalMinutes     float64   `json:"total_minutes"`
	AvailableSamples int       `json:"available_samples"`
	SuspendedSamples int       `json:"suspended_samples"`
	UnknownSamples   int       `json:"unknown_samples"`
	DayKey           string    `json:"day_key"`
	WeekKey          string    `json:"week_key"`
	MonthKey         string    `json:"month_key"`
	ComputedAt       time.Time `json:"computed_at"`
}
