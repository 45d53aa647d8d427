package domain

import "time"

// Outcome names one leg of a 1X2 market.
type Outcome string

const (
	OutcomeHome Outcome = "home"
	OutcomeDraw Outcome = "draw"
	OutcomeAway Outcome = "away"
)

// Outcomes lists the legs in display order.
var Outcomes = []Outcome{OutcomeHome, OutcomeDraw, OutcomeAway}

// OutcomeOdds holds decimal odds per leg. A nil leg was not offered.
type OutcomeOdds struct {
	Home *float64 `json:"home,omitempty"`
	Draw *float64 `json:"draw,omitempty"`
	Away *float64 `json:"away,omitempty"`
}

// NewOutcomeOdds builds a complete triple.
func NewOutcomeOdds(home, draw, away float64) OutcomeOdds {
	return OutcomeOdds{Home: &home, Draw: &draw, Away: &away}
}

// Leg returns the price for o and whether it is usable (present and > 0).
func (o OutcomeOdds) Leg(out Outcome) (float64, bool) {
	var p *float64
	switch out {
	case OutcomeHome:
		p = o.Home
	case OutcomeDraw:
		p = o.Draw
	case OutcomeAway:
		p = o.Away
	}
	if p == nil || *p <= 0 {
		return 0, false
	}
	return *p, true
}

// Complete reports whether all three legs are usable.
func (o OutcomeOdds) Complete() bool {
	for _, out := range Outcomes {
		if _, ok := o.Leg(out); !ok {
			return false
		}
	}
	return true
}

// RawMatchRecord is one adapter row. It only lives for one ingestion cycle.
type RawMatchRecord struct {
	BookmakerCode string      `json:"bookmaker_code"`
	ExternalID    string      `json:"external_id"`
	ProviderID    string      `json:"provider_id,omitempty"`
	Sport         string      `json:"sport"`
	HomeTeam      string      `json:"home_team"`
	AwayTeam      string      `json:"away_team"`
	Country       string      `json:"country"`
	Tournament    string      `json:"tournament"`
	Kickoff       time.Time   `json:"kickoff"`
	Odds          OutcomeOdds `json:"odds"`
}

// BestPrice is the best price for one outcome and who offers it.
type BestPrice struct {
	Price     float64 `json:"price"`
	Bookmaker string  `json:"bookmaker"`
}

// BestOdds maps each outcome to its best price. Outcomes no bookmaker
// offers are absent.
type BestOdds map[Outcome]BestPrice

// CanonicalEvent is the single representation of one real-world match.
type CanonicalEvent struct {
	EventID    string                 `json:"event_id"`
	Sport      string                 `json:"sport"`
	HomeTeam   string                 `json:"home_team"`
	AwayTeam   string                 `json:"away_team"`
	Country    string                 `json:"country"`
	Tournament string                 `json:"tournament"`
	Kickoff    time.Time              `json:"kickoff"`
	OddsData   map[string]OutcomeOdds `json:"odds_data"`
	BestOdds   BestOdds               `json:"best_odds"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// EventMapping links a bookmaker-local id to a canonical event.
type EventMapping struct {
	BookmakerCode string    `json:"bookmaker_code"`
	ExternalID    string    `json:"external_id"`
	EventID       string    `json:"event_id"`
	MatchKey      string    `json:"match_key"`
	TournamentKey string    `json:"tournament_key"`
	ProviderID    string    `json:"provider_id,omitempty"`
	Kickoff       time.Time `json:"kickoff"`
	Confidence    float64   `json:"confidence"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// UnmappedRecord is a raw record held back for manual curation.
type UnmappedRecord struct {
	ID           int64          `json:"id"`
	Record       RawMatchRecord `json:"record"`
	Reason       string         `json:"reason"`
	CandidateIDs []string       `json:"candidate_ids"`
	CreatedAt    time.Time      `json:"created_at"`
}

// EventFilter narrows event listings.
type EventFilter struct {
	Country    string
	Tournament string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}
