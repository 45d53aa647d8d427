package domain

import "time"

// OddsHistoryEntry is an immutable snapshot of one bookmaker's odds for one
// event. Margin and MarginPct are nil when the triple is incomplete.
type OddsHistoryEntry struct {
	ID            int64       `json:"id"`
	EventID       string      `json:"event_id"`
	BookmakerCode string      `json:"bookmaker_code"`
	Odds          OutcomeOdds `json:"odds"`
	Margin        *float64    `json:"margin,omitempty"`
	MarginPct     *float64    `json:"margin_pct,omitempty"`
	RecordedAt    time.Time   `json:"recorded_at"`
}

// TournamentMarginPoint is one append-only point of a tournament margin
// trend line.
type TournamentMarginPoint struct {
	ID            int64     `json:"id"`
	Country       string    `json:"country"`
	Tournament    string    `json:"tournament"`
	BookmakerCode string    `json:"bookmaker_code"`
	AvgMarginPct  float64   `json:"avg_margin_pct"`
	EventCount    int       `json:"event_count"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// TournamentFilter narrows tournament margin queries.
type TournamentFilter struct {
	Country       string
	Tournament    string
	BookmakerCode string
	Since         *time.Time
	Until         *time.Time
	Limit         int
}
