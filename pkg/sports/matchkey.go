package sports

import (
	"strings"
	"time"
)

// MatchKey derives the canonical key grouping records about the same
// fixture. Team tokens are sorted lexicographically before joining, so two
// records with swapped home/away order produce the same key. The date is
// truncated to the UTC calendar day; two reports a minute apart on either
// side of midnight in some local zone still agree.
//
// Unresolved team names flow through normalization untouched otherwise:
// the key stays deterministic even when it cannot merge across sources.
func MatchKey(team1, team2 string, date time.Time) string {
	a := keyToken(team1)
	b := keyToken(team2)
	if b < a {
		a, b = b, a
	}
	return a + "_" + b + "_" + date.UTC().Format("2006-01-02")
}

// keyToken reduces a team name to a stable key fragment.
func keyToken(name string) string {
	return strings.ReplaceAll(normalizeName(name), " ", "-")
}

// ReferenceTeam returns the fixture's reference side: the team whose key
// token sorts first. Sources that stream one contract per outcome are
// reduced to this side so a fixture's per-source probabilities all price
// the same event.
func ReferenceTeam(team1, team2 string) string {
	if keyToken(team2) < keyToken(team1) {
		return team2
	}
	return team1
}

// TruncateDay truncates a timestamp to its UTC calendar day.
func TruncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
