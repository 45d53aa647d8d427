// Package odds holds the pure 1X2 odds arithmetic: bookmaker margin
// (overround), best price per outcome and the tournament margin roll-up.
package odds

import (
	"sort"

	"github.com/alanyoungcy/oddsbot/internal/domain"
)

// Margin returns the reciprocal sum of the three legs and the margin as a
// percentage. ok is false when any leg is missing or non-positive.
func Margin(o domain.OutcomeOdds) (margin, pct float64, ok bool) {
	if !o.Complete() {
		return 0, 0, false
	}
	for _, out := range domain.Outcomes {
		p, _ := o.Leg(out)
		margin += 1 / p
	}
	return margin, (margin - 1) * 100, true
}

// MarginPtrs is Margin in the nullable shape stored on history rows.
func MarginPtrs(o domain.OutcomeOdds) (margin, pct *float64) {
	m, p, ok := Margin(o)
	if !ok {
		return nil, nil
	}
	return &m, &p
}

// BestOdds picks the highest usable price per outcome across bookmakers.
// Bookmakers are visited in code order and only a strictly higher price
// replaces the current best, so ties go to the lowest code and the result
// does not depend on map order or arrival order.
func BestOdds(data map[string]domain.OutcomeOdds) domain.BestOdds {
	codes := make([]string, 0, len(data))
	for code := range data {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	best := domain.BestOdds{}
	for _, code := range codes {
		o := data[code]
		for _, out := range domain.Outcomes {
			p, ok := o.Leg(out)
			if !ok {
				continue
			}
			if cur, seen := best[out]; !seen || p > cur.Price {
				best[out] = domain.BestPrice{Price: p, Bookmaker: code}
			}
		}
	}
	return best
}
