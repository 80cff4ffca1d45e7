package sports

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Registry resolves team identifiers (3-letter codes, full names, free-text
// fragments) to canonical team names. The built-in table covers the EPL;
// additional aliases are merged in from configuration, so promoted or
// relegated teams are a config change rather than a code change.
type Registry struct {
	mu      sync.RWMutex
	byAlias map[string]string // normalized alias -> canonical name
}

// NewRegistry creates a registry seeded with the built-in EPL table.
func NewRegistry() *Registry {
	r := &Registry{byAlias: make(map[string]string)}
	for canonical, aliases := range eplTeams {
		r.addLocked(canonical, canonical)
		for _, a := range aliases {
			r.addLocked(a, canonical)
		}
	}
	return r
}

// Add registers an alias for a canonical team name.
func (r *Registry) Add(alias, canonical string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLocked(alias, canonical)
}

// Merge registers a whole alias table (alias -> canonical).
func (r *Registry) Merge(aliases map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for alias, canonical := range aliases {
		r.addLocked(alias, canonical)
	}
}

func (r *Registry) addLocked(alias, canonical string) {
	if alias == "" || canonical == "" {
		return
	}
	r.byAlias[normalizeName(alias)] = canonical
}

// Resolve maps a raw team identifier to its canonical name. Resolution
// order: exact alias hit, case/accent-folded exact, substring containment
// in either direction. A miss returns the input verbatim with ok=false;
// the record is kept, not dropped.
//
// Resolution is deterministic: the same input always yields the same
// canonical name, so match keys derived from it are stable across calls.
func (r *Registry) Resolve(name string) (string, bool) {
	raw := strings.TrimSpace(name)
	if raw == "" {
		return raw, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	key := normalizeName(raw)
	if canonical, ok := r.byAlias[key]; ok {
		return canonical, true
	}

	// Substring containment either direction. Short tokens would match
	// almost anything, so require at least 4 characters. Ambiguous inputs
	// ("united" sits inside several aliases) must not pick up map iteration
	// order: the longest matching alias wins, canonical name as tie-break.
	if len(key) >= 4 {
		bestAlias, bestCanonical := "", ""
		for alias, canonical := range r.byAlias {
			if len(alias) < 4 {
				continue
			}
			if !strings.Contains(alias, key) && !strings.Contains(key, alias) {
				continue
			}
			if len(alias) > len(bestAlias) ||
				(len(alias) == len(bestAlias) && canonical < bestCanonical) {
				bestAlias, bestCanonical = alias, canonical
			}
		}
		if bestCanonical != "" {
			return bestCanonical, true
		}
	}

	return raw, false
}

// normalizeName normalizes a team identifier for matching: lowercase,
// accents stripped, punctuation removed, FC/AFC suffixes dropped, spaces
// collapsed.
func normalizeName(name string) string {
	name = strings.ToLower(name)

	// Remove accents
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	name, _, _ = transform.String(t, name)

	// Strip punctuation
	name = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			return r
		}
		return ' '
	}, name)

	// Remove common suffixes
	name = " " + name + " "
	name = strings.ReplaceAll(name, " fc ", " ")
	name = strings.ReplaceAll(name, " afc ", " ")

	return strings.Join(strings.Fields(name), " ")
}

// eplTeams maps canonical names to their known aliases: the 3-letter codes
// used in Kalshi and Polymarket tickers plus common short names. Union of
// the code tables both upstream feeds use.
var eplTeams = map[string][]string{
	"Arsenal":           {"ars", "arsenal fc"},
	"Aston Villa":       {"avl", "ast", "villa"},
	"Bournemouth":       {"bou", "afc bournemouth"},
	"Brentford":         {"bre"},
	"Brighton":          {"bha", "bri", "bhah", "brighton and hove albion", "brighton & hove albion"},
	"Burnley":           {"bur"},
	"Chelsea":           {"che", "cfc"},
	"Crystal Palace":    {"cry", "pal", "cpl", "cpa", "palace"},
	"Everton":           {"eve"},
	"Fulham":            {"ful"},
	"Ipswich Town":      {"ips", "ipswich"},
	"Leeds United":      {"lee", "leeds"},
	"Leicester City":    {"lei", "leicester"},
	"Liverpool":         {"liv", "lfc"},
	"Luton Town":        {"lut", "luton"},
	"Manchester City":   {"mci", "mac", "man city"},
	"Manchester United": {"mun", "man", "man united", "man utd"},
	"Newcastle United":  {"new", "newcastle"},
	"Nottingham Forest": {"nfo", "not", "forest"},
	"Sheffield United":  {"shu", "she", "sheffield utd"},
	"Southampton":       {"sou"},
	"Sunderland":        {"sun"},
	"Tottenham":         {"tot", "spurs", "tottenham hotspur"},
	"West Ham":          {"whu", "wes", "west ham united"},
	"Wolves":            {"wol", "wolverhampton", "wolverhampton wanderers"},
}
