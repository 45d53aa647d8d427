package domain

import "context"

// BookmakerAdapter fetches one sport's raw match records for a bookmaker.
// Failures are reported as *AdapterError.
type BookmakerAdapter interface {
	Scrape(ctx context.Context, bookmakerCode string) ([]RawMatchRecord, error)
}

// StatusReading is one market-status poll. Available is nil when the
// bookmaker did not say.
type StatusReading struct {
	Available *bool
	Clock     string
	Reason    string
	Ended     bool
}

// State maps the reading onto the heartbeat state machine.
func (r StatusReading) State() HeartbeatState {
	switch {
	case r.Available == nil:
		return HeartbeatUnknown
	case *r.Available:
		return HeartbeatAvailable
	default:
		return HeartbeatSuspended
	}
}

// MarketStatusAdapter polls the tradability of an in-play market.
type MarketStatusAdapter interface {
	PollStatus(ctx context.Context, eventID, bookmakerCode string) (StatusReading, error)
}
