package odds

import (
	"sort"
	"time"

	"github.com/alanyoungcy/oddsbot/internal/domain"
)

// Contribution is one event's margin observed for a bookmaker in a cycle.
type Contribution struct {
	Country       string
	Tournament    string
	BookmakerCode string
	EventID       string
	MarginPct     *float64
}

type tournamentKey struct {
	country, tournament, bookmaker string
}

// TournamentMargins averages MarginPct per (country, tournament, bookmaker).
// Contributions without a margin are ignored and an event counts once per
// group. Points are returned sorted by country, tournament, bookmaker.
func TournamentMargins(contribs []Contribution, at time.Time) []domain.TournamentMarginPoint {
	type acc struct {
		sum    float64
		events map[string]bool
	}
	groups := make(map[tournamentKey]*acc)

	for _, c := range contribs {
		if c.MarginPct == nil {
			continue
		}
		k := tournamentKey{c.Country, c.Tournament, c.BookmakerCode}
		a, ok := groups[k]
		if !ok {
			a = &acc{events: make(map[string]bool)}
			groups[k] = a
		}
		if a.events[c.EventID] {
			continue
		}
		a.events[c.EventID] = true
		a.sum += *c.MarginPct
	}

	points := make([]domain.TournamentMarginPoint, 0, len(groups))
	for k, a := range groups {
		n := len(a.events)
		points = append(points, domain.TournamentMarginPoint{
			Country:       k.country,
			Tournament:    k.tournament,
			BookmakerCode: k.bookmaker,
			AvgMarginPct:  a.sum / float64(n),
			EventCount:    n,
			RecordedAt:    at,
		})
	}

	sort.Slice(points, func(i, j int) bool {
		a, b := points[i], points[j]
		if a.Country != b.Country {
			return a.Country < b.Country
		}
		if a.Tournament != b.Tournament {
			return a.Tournament < b.Tournament
		}
		return a.BookmakerCode < b.BookmakerCode
	})
	return points
}
