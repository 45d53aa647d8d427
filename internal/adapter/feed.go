// Package adapter provides the bookmaker adapters that turn odds feeds into
// raw match records, and the market-status adapter used by the heartbeat
// monitor.
package adapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/oddsbot/internal/domain"
	"github.com/alanyoungcy/oddsbot/internal/resolver"
)

// FeedRow is one row of the flat 1X2 feed format the scrapers emit.
type FeedRow struct {
	EventID         flexString      `json:"eventId"`
	OriginalEventID flexString      `json:"originalEventId,omitempty"`
	ProviderID      flexString      `json:"providerId,omitempty"`
	Sport           string          `json:"sport,omitempty"`
	Country         string          `json:"country"`
	Tournament      string          `json:"tournament"`
	Event           string          `json:"event"`
	Home            string          `json:"home,omitempty"`
	Away            string          `json:"away,omitempty"`
	Market          string          `json:"market,omitempty"`
	HomeOdds        json.RawMessage `json:"home_odds"`
	DrawOdds        json.RawMessage `json:"draw_odds"`
	AwayOdds        json.RawMessage `json:"away_odds"`
	StartTime       string          `json:"start_time"`
}

// flexString accepts a JSON string or number. Some feeds emit numeric ids.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = flexString(n.String())
	return nil
}

var errMarketSkipped = errors.New("not a 1X2 market")

// sportRadarPrefix marks a SportRadar match id such as "sr:match:50850679".
// Bookmakers on the SportRadar feed share these ids, which lets the resolver
// match their listings without comparing names.
const sportRadarPrefix = "sr:match:"

// FeedFormat describes how one bookmaker's feed is read.
type FeedFormat struct {
	// Location is applied to kickoffs without a zone. Nil means UTC.
	Location *time.Location
	// ProviderEventIDs marks feeds whose numeric eventId is the SportRadar
	// match number, as betPawa's widget ids are.
	ProviderEventIDs bool
}

// kickoffLayouts are tried in order. Layouts without a zone are read in the
// bookmaker's configured timezone.
var kickoffLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// DecodeFeed parses a JSON array of feed rows. A body that is not an array
// is a schema error for the whole batch. Rows that cannot be read are
// dropped and logged; rows for other markets are skipped.
func DecodeFeed(bookmaker string, body []byte, format FeedFormat, logger *slog.Logger) ([]domain.RawMatchRecord, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, domain.NewSchemaError(bookmaker, errors.New("feed body is not a JSON array"))
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, domain.NewSchemaError(bookmaker, fmt.Errorf("decode feed: %w", err))
	}
	if format.Location == nil {
		format.Location = time.UTC
	}

	records := make([]domain.RawMatchRecord, 0, len(raw))
	dropped, skipped := 0, 0
	for i, item := range raw {
		var row FeedRow
		if err := json.Unmarshal(item, &row); err != nil {
			dropped++
			logger.Warn("feed row rejected",
				slog.String("bookmaker", bookmaker),
				slog.Int("row", i),
				slog.String("error", err.Error()),
			)
			continue
		}
		rec, err := row.toRecord(bookmaker, format)
		if errors.Is(err, errMarketSkipped) {
			skipped++
			continue
		}
		if err != nil {
			dropped++
			logger.Warn("feed row rejected",
				slog.String("bookmaker", bookmaker),
				slog.Int("row", i),
				slog.String("event_id", string(row.EventID)),
				slog.String("error", err.Error()),
			)
			continue
		}
		records = append(records, rec)
	}

	if dropped > 0 || skipped > 0 {
		logger.Info("feed decoded",
			slog.String("bookmaker", bookmaker),
			slog.Int("records", len(records)),
			slog.Int("dropped", dropped),
			slog.Int("skipped", skipped),
		)
	}
	return records, nil
}

func (r FeedRow) toRecord(bookmaker string, format FeedFormat) (domain.RawMatchRecord, error) {
	if m := strings.ToUpper(strings.TrimSpace(r.Market)); m != "" && !strings.HasPrefix(m, "1X2") {
		return domain.RawMatchRecord{}, errMarketSkipped
	}

	id := strings.TrimSpace(string(r.EventID))
	if id == "" {
		id = strings.TrimSpace(string(r.OriginalEventID))
	}
	if id == "" {
		return domain.RawMatchRecord{}, errors.New("missing eventId")
	}

	home, away := strings.TrimSpace(r.Home), strings.TrimSpace(r.Away)
	if home == "" || away == "" {
		var ok bool
		home, away, ok = resolver.SplitEventName(r.Event)
		if !ok {
			return domain.RawMatchRecord{}, fmt.Errorf("cannot split event name %q", r.Event)
		}
	}

	kickoff, err := parseKickoff(r.StartTime, format.Location)
	if err != nil {
		return domain.RawMatchRecord{}, err
	}

	var odds domain.OutcomeOdds
	if odds.Home, err = parseOdd(r.HomeOdds); err != nil {
		return domain.RawMatchRecord{}, fmt.Errorf("home_odds: %w", err)
	}
	if odds.Draw, err = parseOdd(r.DrawOdds); err != nil {
		return domain.RawMatchRecord{}, fmt.Errorf("draw_odds: %w", err)
	}
	if odds.Away, err = parseOdd(r.AwayOdds); err != nil {
		return domain.RawMatchRecord{}, fmt.Errorf("away_odds: %w", err)
	}

	sport := strings.ToLower(strings.TrimSpace(r.Sport))
	if sport == "" {
		sport = "football"
	}

	return domain.RawMatchRecord{
		BookmakerCode: bookmaker,
		ExternalID:    id,
		ProviderID:    r.providerID(format.ProviderEventIDs),
		Sport:         sport,
		HomeTeam:      home,
		AwayTeam:      away,
		Country:       strings.TrimSpace(r.Country),
		Tournament:    strings.TrimSpace(r.Tournament),
		Kickoff:       kickoff.UTC(),
		Odds:          odds,
	}, nil
}

// providerID returns the SportRadar match number of the row, or "". An
// explicit providerId wins, then an sr:match: id in originalEventId or
// eventId, then a numeric eventId when the feed is known to carry them.
func (r FeedRow) providerID(eventIDIsProvider bool) string {
	if id := strings.TrimSpace(string(r.ProviderID)); id != "" {
		return strings.TrimPrefix(id, sportRadarPrefix)
	}
	for _, raw := range []flexString{r.OriginalEventID, r.EventID} {
		id := strings.TrimSpace(string(raw))
		if digits, ok := strings.CutPrefix(id, sportRadarPrefix); ok && isDigits(digits) {
			return digits
		}
	}
	if id := strings.TrimSpace(string(r.EventID)); eventIDIsProvider && isDigits(id) {
		return id
	}
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func parseKickoff(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("missing start_time")
	}
	for _, layout := range kickoffLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable start_time %q", s)
}

// parseOdd accepts a JSON number, a numeric string, an empty string or null.
// Empty and null mean the leg was not offered.
func parseOdd(raw json.RawMessage) (*float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var text string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, nil
		}
	} else {
		text = string(raw)
	}

	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("not a number: %q", text)
	}
	return &v, nil
}
