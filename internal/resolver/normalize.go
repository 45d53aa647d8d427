package resolver

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// clubAffixes are dropped wherever they appear as a whole token so
// "Arsenal FC", "FC Arsenal" and "Arsenal" share a key.
var clubAffixes = map[string]bool{
	"fc": true, "afc": true, "cf": true, "sc": true, "ac": true, "fk": true,
	"sk": true, "cd": true, "ud": true, "ssc": true, "bk": true, "nk": true,
	"rc": true, "ksk": true, "sfc": true, "if": true,
}

// tokenAbbrev expands abbreviations that bookmakers use inconsistently.
var tokenAbbrev = map[string]string{
	"utd": "united",
	"st":  "saint",
	"&":   "and",
}

// DefaultAliases maps normalized spellings onto one canonical spelling.
// Keys and values are already in normalized form.
var DefaultAliases = map[string]string{
	"spurs":                "tottenham hotspur",
	"tottenham":            "tottenham hotspur",
	"wolves":               "wolverhampton wanderers",
	"wolverhampton":        "wolverhampton wanderers",
	"psg":                  "paris saint germain",
	"paris sg":             "paris saint germain",
	"inter":                "internazionale",
	"inter milan":          "internazionale",
	"bayern munich":        "bayern",
	"bayern munchen":       "bayern",
	"atletico":             "atletico madrid",
	"newcastle":            "newcastle united",
	"west ham":             "west ham united",
	"brighton":             "brighton and hove albion",
	"nottm forest":         "nottingham forest",
	"borussia dortmund":    "dortmund",
	"bvb":                  "dortmund",
	"racing avellaneda":    "racing club",
	"estudiantes la plata": "estudiantes de la plata",
}

// Normalizer canonicalizes team and tournament names.
type Normalizer struct {
	aliases map[string]string
}

// NewNormalizer returns a Normalizer using DefaultAliases overlaid with
// extra. Keys and values of extra are normalized before use.
func NewNormalizer(extra map[string]string) *Normalizer {
	n := &Normalizer{aliases: make(map[string]string, len(DefaultAliases)+len(extra))}
	for k, v := range DefaultAliases {
		n.aliases[k] = v
	}
	for k, v := range extra {
		n.aliases[n.team(k, false)] = n.team(v, false)
	}
	return n
}

var defaultNormalizer = NewNormalizer(nil)

// NormalizeTeam normalizes a team name with the default alias table.
func NormalizeTeam(name string) string {
	return defaultNormalizer.Team(name)
}

// Team returns the canonical form of a team name.
func (n *Normalizer) Team(name string) string {
	return n.team(name, true)
}

func (n *Normalizer) team(name string, withAliases bool) string {
	tokens := tokenize(name)
	if len(tokens) == 0 {
		return ""
	}

	out := make([]string, 0, len(tokens))
	for i, tok := range tokens {
		if exp, ok := tokenAbbrev[tok]; ok {
			tok = exp
		}
		if i == 0 && tok == "man" && len(tokens) > 1 {
			tok = "manchester"
		}
		if clubAffixes[tok] {
			continue
		}
		out = append(out, tok)
	}
	if len(out) == 0 {
		// The whole name was affixes ("FC"); keep it rather than return "".
		out = tokens
	}

	s := strings.Join(out, " ")
	if withAliases {
		if canon, ok := n.aliases[s]; ok {
			return canon
		}
	}
	return s
}

// Tournament returns the comparison key of a tournament name.
func (n *Normalizer) Tournament(name string) string {
	return strings.Join(tokenize(name), " ")
}

// MatchKey is the cross-bookmaker identity of a fixture without its time.
func (n *Normalizer) MatchKey(sport, home, away string) string {
	sport = strings.ToLower(strings.TrimSpace(sport))
	if sport == "" {
		sport = "football"
	}
	return sport + "|" + n.Team(home) + "|" + n.Team(away)
}

// tokenize strips diacritics, case-folds and splits on anything that is not
// a letter, digit or ampersand.
func tokenize(s string) []string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)
	return strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '&'
	})
}

// eventSeparators are tried in order. Word separators are matched case
// insensitively and need surrounding spaces.
var eventSeparators = []string{" - ", " – ", " — ", " vs. ", " vs ", " v ", " @ "}

// SplitEventName splits a combined fixture name such as "Home - Away",
// "Home vs Away" or "Home v Away".
func SplitEventName(name string) (home, away string, ok bool) {
	name = strings.TrimSpace(name)
	lower := strings.ToLower(name)
	if len(lower) != len(name) {
		lower = name
	}
	for _, sep := range eventSeparators {
		i := strings.Index(lower, sep)
		if i < 0 {
			continue
		}
		home = strings.TrimSpace(name[:i])
		away = strings.TrimSpace(name[i+len(sep):])
		if home == "" || away == "" {
			return "", "", false
		}
		return home, away, true
	}
	return "", "", false
}
