// Package heartbeat polls in-play market availability and turns the samples
// into uptime statistics.
package heartbeat

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/oddsbot/internal/domain"
)

// Tally counts samples per state.
type Tally struct {
	Available int
	Suspended int
	Unknown   int
}

// Add counts one sample.
func (t *Tally) Add(s domain.HeartbeatState) {
	switch s {
	case domain.HeartbeatAvailable:
		t.Available++
	case domain.HeartbeatSuspended:
		t.Suspended++
	default:
		t.Unknown++
	}
}

// Total is the number of samples of any state.
func (t Tally) Total() int { return t.Available + t.Suspended + t.Unknown }

// ComputeStats converts a tally into uptime figures. Each sample stands for
// one poll interval. Unknown samples are excluded from uptime and minutes.
// Bucket keys come from at, the snapshot's own timestamp.
func ComputeStats(t Tally, interval time.Duration, at time.Time) domain.HeartbeatStats {
	known := t.Available + t.Suspended
	minutes := interval.Minutes()

	var uptime float64
	if known > 0 {
		uptime = float64(t.Available) / float64(known) * 100
	}

	day, week, month := BucketKeys(at)
	return domain.HeartbeatStats{
		UptimePct:        uptime,
		AvailableMinutes: float64(t.Available) * minutes,
		SuspendedMinutes: float64(t.Suspended) * minutes,
		TotalMinutes:     float64(known) * minutes,
		AvailableSamples: t.Available,
		SuspendedSamples: t.Suspended,
		UnknownSamples:   t.Unknown,
		DayKey:           day,
		WeekKey:          week,
		MonthKey:         month,
		ComputedAt:       at,
	}
}

// BucketKeys returns the day, ISO week and month keys of at in UTC.
func BucketKeys(at time.Time) (day, week, month string) {
	at = at.UTC()
	y, w := at.ISOWeek()
	return at.Format("2006-01-02"), fmt.Sprintf("%04d-W%02d", y, w), at.Format("2006-01")
}
