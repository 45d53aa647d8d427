// Package resolver maps bookmaker-local match records onto canonical
// cross-bookmaker events.
package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/oddsbot/internal/domain"
)

// Resolution methods.
const (
	MethodMapping  = "mapping"
	MethodProvider = "provider"
	MethodMatch    = "match"
	MethodCreated  = "created"
)

// DefaultTolerance is the kickoff window within which two records of the
// same fixture are considered the same match.
const DefaultTolerance = 90 * time.Minute

// Resolution is the outcome of resolving one raw record.
type Resolution struct {
	EventID    string
	Created    bool
	Confidence float64
	Method     string
}

// Config tunes the resolver.
type Config struct {
	Tolerance time.Duration
	Aliases   map[string]string
}

// Resolver assigns canonical event ids. It is safe for concurrent use.
type Resolver struct {
	events    domain.EventStore
	mappings  domain.MappingStore
	unmapped  domain.UnmappedStore
	norm      *Normalizer
	tolerance time.Duration
	logger    *slog.Logger
	now       func() time.Time

	keyMu sync.Mutex
	keys  map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a Resolver.
func New(cfg Config, events domain.EventStore, mappings domain.MappingStore, unmapped domain.UnmappedStore, logger *slog.Logger) *Resolver {
	tol := cfg.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}
	return &Resolver{
		events:    events,
		mappings:  mappings,
		unmapped:  unmapped,
		norm:      NewNormalizer(cfg.Aliases),
		tolerance: tol,
		logger:    logger.With(slog.String("component", "resolver")),
		now:       time.Now,
		keys:      make(map[string]*keyLock),
	}
}

// Normalizer exposes the resolver's name normalizer.
func (r *Resolver) Normalizer() *Normalizer { return r.norm }

// Resolve returns the canonical event id for rec, creating the event when no
// existing one matches. Records with two or more equally plausible
// candidates are stored as unmapped and domain.ErrResolutionAmbiguous is
// returned.
func (r *Resolver) Resolve(ctx context.Context, rec domain.RawMatchRecord) (Resolution, error) {
	if rec.BookmakerCode == "" || rec.ExternalID == "" {
		return Resolution{}, errors.New("resolver: record has no bookmaker or external id")
	}
	if rec.HomeTeam == "" || rec.AwayTeam == "" || rec.Kickoff.IsZero() {
		return Resolution{}, fmt.Errorf("resolver: %s/%s: record has no teams or kickoff", rec.BookmakerCode, rec.ExternalID)
	}

	matchKey := r.norm.MatchKey(rec.Sport, rec.HomeTeam, rec.AwayTeam)
	tournamentKey := r.norm.Tournament(rec.Tournament)

	unlock := r.lockKey(matchKey)
	defer unlock()

	// Fast path: this bookmaker id was resolved before.
	m, err := r.mappings.Get(ctx, rec.BookmakerCode, rec.ExternalID)
	switch {
	case err == nil && m.MatchKey == matchKey:
		return r.attach(ctx, rec, m.EventID, MethodMapping, matchKey, tournamentKey, false)
	case err == nil:
		r.logger.WarnContext(ctx, "external id reused for a different fixture",
			slog.String("bookmaker", rec.BookmakerCode),
			slog.String("external_id", rec.ExternalID),
			slog.String("old_key", m.MatchKey),
			slog.String("new_key", matchKey),
		)
	case !errors.Is(err, domain.ErrNotFound):
		return Resolution{}, fmt.Errorf("resolver: load mapping: %w", err)
	}

	if rec.ProviderID != "" {
		byProvider, err := r.mappings.FindByProviderID(ctx, rec.ProviderID)
		if err != nil {
			return Resolution{}, fmt.Errorf("resolver: find by provider id: %w", err)
		}
		if ids := eventIDs(byProvider); len(ids) == 1 {
			return r.attach(ctx, rec, ids[0], MethodProvider, matchKey, tournamentKey, false)
		}
	}

	cands, err := r.mappings.FindCandidates(ctx, matchKey,
		rec.Kickoff.Add(-r.tolerance), rec.Kickoff.Add(r.tolerance))
	if err != nil {
		return Resolution{}, fmt.Errorf("resolver: find candidates: %w", err)
	}

	// A bookmaker that already lists another id under an event is offering
	// a different fixture, such as the second leg of a double-header.
	groups := filterGroups(groupByEvent(cands), func(g candidateGroup) bool {
		return !g.listsOther(rec.BookmakerCode, rec.ExternalID)
	})
	switch len(groups) {
	case 0:
		return r.create(ctx, rec, matchKey, tournamentKey)
	case 1:
		return r.attach(ctx, rec, groups[0].eventID, MethodMatch, matchKey, tournamentKey, false)
	}

	picked := filterGroups(groups, func(g candidateGroup) bool {
		return g.tournaments[tournamentKey]
	})
	if len(picked) == 1 {
		return r.attach(ctx, rec, picked[0].eventID, MethodMatch, matchKey, tournamentKey, false)
	}
	// The kickoff tie-break stays inside the record's tournament whenever
	// that tournament matched anything.
	remaining := groups
	if len(picked) > 1 {
		remaining = picked
	}
	if exact := filterGroups(remaining, func(g candidateGroup) bool {
		return g.hasKickoff(rec.Kickoff)
	}); len(exact) == 1 {
		return r.attach(ctx, rec, exact[0].eventID, MethodMatch, matchKey, tournamentKey, false)
	}

	return Resolution{}, r.holdAmbiguous(ctx, rec, remaining)
}

func (r *Resolver) holdAmbiguous(ctx context.Context, rec domain.RawMatchRecord, groups []candidateGroup) error {
	ids := make([]string, len(groups))
	for i, g := range groups {
		ids[i] = g.eventID
	}
	err := r.unmapped.Add(ctx, domain.UnmappedRecord{
		Record:       rec,
		Reason:       fmt.Sprintf("%d candidate events within %s", len(ids), r.tolerance),
		CandidateIDs: ids,
		CreatedAt:    r.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("resolver: hold unmapped record: %w", err)
	}
	return fmt.Errorf("resolver: %s/%s: %w", rec.BookmakerCode, rec.ExternalID, domain.ErrResolutionAmbiguous)
}

// create inserts a new canonical event under a deterministic id. When the id
// is taken by the same fixture (a concurrent resolver or a lost mapping) the
// existing event is reused; when it belongs to a different fixture the
// tournament and then the kickoff time are mixed into the hash.
func (r *Resolver) create(ctx context.Context, rec domain.RawMatchRecord, matchKey, tournamentKey string) (Resolution, error) {
	kickoff := rec.Kickoff.UTC()
	salts := []string{
		kickoff.Format("2006-01-02"),
		kickoff.Format("2006-01-02") + "|" + tournamentKey,
		kickoff.Format("2006-01-02") + "|" + tournamentKey + "|" + kickoff.Format("15:04"),
	}

	now := r.now().UTC()
	for _, salt := range salts {
		id := EventID(matchKey, salt)
		err := r.events.Create(ctx, domain.CanonicalEvent{
			EventID:    id,
			Sport:      sportOf(matchKey),
			HomeTeam:   rec.HomeTeam,
			AwayTeam:   rec.AwayTeam,
			Country:    rec.Country,
			Tournament: rec.Tournament,
			Kickoff:    kickoff,
			OddsData:   map[string]domain.OutcomeOdds{},
			BestOdds:   domain.BestOdds{},
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		if err == nil {
			return r.attach(ctx, rec, id, MethodCreated, matchKey, tournamentKey, true)
		}
		if !errors.Is(err, domain.ErrAlreadyExists) {
			return Resolution{}, fmt.Errorf("resolver: create event: %w", err)
		}

		existing, err := r.events.Get(ctx, id)
		if err != nil {
			return Resolution{}, fmt.Errorf("resolver: load colliding event: %w", err)
		}
		same, err := r.sameFixture(ctx, existing, rec, matchKey)
		if err != nil {
			return Resolution{}, err
		}
		if same {
			return r.attach(ctx, rec, id, MethodMatch, matchKey, tournamentKey, false)
		}
		r.logger.DebugContext(ctx, "event id collision, salting",
			slog.String("event_id", id),
			slog.String("match_key", matchKey),
		)
	}
	return Resolution{}, fmt.Errorf("resolver: no free event id for %s at %s", matchKey, kickoff.Format(time.RFC3339))
}

func (r *Resolver) sameFixture(ctx context.Context, e domain.CanonicalEvent, rec domain.RawMatchRecord, matchKey string) (bool, error) {
	if r.norm.MatchKey(e.Sport, e.HomeTeam, e.AwayTeam) != matchKey {
		return false, nil
	}
	if absDuration(e.Kickoff.Sub(rec.Kickoff)) > r.tolerance {
		return false, nil
	}
	ms, err := r.mappings.ListByEvent(ctx, e.EventID)
	if err != nil {
		return false, fmt.Errorf("resolver: list mappings of %s: %w", e.EventID, err)
	}
	g := groupByEvent(ms)
	return len(g) == 0 || !g[0].listsOther(rec.BookmakerCode, rec.ExternalID), nil
}

// attach upserts the mapping for rec and tightens the event kickoff to the
// latest observation.
func (r *Resolver) attach(ctx context.Context, rec domain.RawMatchRecord, eventID, method, matchKey, tournamentKey string, created bool) (Resolution, error) {
	e, err := r.events.Get(ctx, eventID)
	if err != nil {
		return Resolution{}, fmt.Errorf("resolver: load event %s: %w", eventID, err)
	}

	confidence := 1.0
	if !created {
		confidence = r.confidence(e, rec, tournamentKey)
	}

	kickoff := rec.Kickoff.UTC()
	err = r.mappings.Upsert(ctx, domain.EventMapping{
		BookmakerCode: rec.BookmakerCode,
		ExternalID:    rec.ExternalID,
		EventID:       eventID,
		MatchKey:      matchKey,
		TournamentKey: tournamentKey,
		ProviderID:    rec.ProviderID,
		Kickoff:       kickoff,
		Confidence:    confidence,
		UpdatedAt:     r.now().UTC(),
	})
	if err != nil {
		return Resolution{}, fmt.Errorf("resolver: upsert mapping: %w", err)
	}

	if !e.Kickoff.Equal(kickoff) {
		if err := r.events.UpdateKickoff(ctx, eventID, kickoff); err != nil {
			return Resolution{}, fmt.Errorf("resolver: update kickoff: %w", err)
		}
	}

	return Resolution{EventID: eventID, Created: created, Confidence: confidence, Method: method}, nil
}

// confidence decays linearly with the kickoff gap down to 0.5 at the
// tolerance edge and loses 0.1 when the tournaments disagree.
func (r *Resolver) confidence(e domain.CanonicalEvent, rec domain.RawMatchRecord, tournamentKey string) float64 {
	delta := absDuration(e.Kickoff.Sub(rec.Kickoff))
	c := 1 - 0.5*math.Min(1, float64(delta)/float64(r.tolerance))
	if r.norm.Tournament(e.Tournament) != tournamentKey {
		c -= 0.1
	}
	return math.Max(0.1, math.Round(c*1000)/1000)
}

// lockKey serializes resolution of one fixture inside this process so two
// bookmakers reporting a new match at once do not race on creation.
func (r *Resolver) lockKey(key string) func() {
	r.keyMu.Lock()
	kl, ok := r.keys[key]
	if !ok {
		kl = &keyLock{}
		r.keys[key] = kl
	}
	kl.refs++
	r.keyMu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		r.keyMu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(r.keys, key)
		}
		r.keyMu.Unlock()
	}
}

// EventID derives the deterministic canonical id for a fixture.
func EventID(matchKey, salt string) string {
	sum := sha256.Sum256([]byte(matchKey + "|" + salt))
	return "evt_" + hex.EncodeToString(sum[:12])
}

type candidateGroup struct {
	eventID     string
	tournaments map[string]bool
	kickoffs    []time.Time
	externalIDs map[string]string
}

// listsOther reports whether bookmaker maps a different external id onto
// this event.
func (g candidateGroup) listsOther(bookmaker, externalID string) bool {
	id, ok := g.externalIDs[bookmaker]
	return ok && id != externalID
}

func (g candidateGroup) hasKickoff(t time.Time) bool {
	for _, k := range g.kickoffs {
		if k.Equal(t) {
			return true
		}
	}
	return false
}

func groupByEvent(ms []domain.EventMapping) []candidateGroup {
	idx := make(map[string]int)
	var groups []candidateGroup
	for _, m := range ms {
		i, ok := idx[m.EventID]
		if !ok {
			i = len(groups)
			idx[m.EventID] = i
			groups = append(groups, candidateGroup{
				eventID:     m.EventID,
				tournaments: map[string]bool{},
				externalIDs: map[string]string{},
			})
		}
		groups[i].tournaments[m.TournamentKey] = true
		groups[i].externalIDs[m.BookmakerCode] = m.ExternalID
		groups[i].kickoffs = append(groups[i].kickoffs, m.Kickoff)
	}
	sort.Slice(groups, func(a, b int) bool { return groups[a].eventID < groups[b].eventID })
	return groups
}

func filterGroups(groups []candidateGroup, keep func(candidateGroup) bool) []candidateGroup {
	var out []candidateGroup
	for _, g := range groups {
		if keep(g) {
			out = append(out, g)
		}
	}
	return out
}

func eventIDs(ms []domain.EventMapping) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, m := range ms {
		if !seen[m.EventID] {
			seen[m.EventID] = true
			ids = append(ids, m.EventID)
		}
	}
	sort.Strings(ids)
	return ids
}

func sportOf(matchKey string) string {
	sport, _, _ := strings.Cut(matchKey, "|")
	return sport
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
