// Package sports normalizes heterogeneous EPL market payloads into a common
// shape and resolves the identity of the fixture each one refers to.
package sports

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/phenomenon0/epl-edge/pkg/feed"
)

// NormalizedMarket is the common shape every producer payload is reduced to.
// Probability is always in [0,1] regardless of the source's native unit.
type NormalizedMarket struct {
	Source   feed.SourceID `json:"source"`
	MatchKey string        `json:"match_key"`

	// Canonical team names where alias resolution succeeded, the raw
	// producer strings where it did not.
	Team1 string `json:"team1"`
	Team2 string `json:"team2"`

	// EventDate is truncated to the UTC calendar day.
	EventDate time.Time `json:"event_date"`

	Probability decimal.Decimal `json:"implied_probability"`
	Volume      decimal.Decimal `json:"volume"`

	// Outcome names which side the probability prices, when the producer
	// tags contracts per outcome. Tagged records always carry the
	// fixture's reference team; the opposite-side contract is filtered
	// during normalization.
	Outcome string `json:"outcome,omitempty"`

	// Unresolved marks records whose team names fell back to raw strings.
	// They still aggregate within their source but may not merge across
	// sources.
	Unresolved bool `json:"unresolved,omitempty"`

	// LastUpdated is set by the aggregator to the arrival time of the last
	// update that changed this record. Producer timestamps are not trusted
	// for ordering.
	LastUpdated time.Time `json:"last_updated"`
}

// Same reports whether two records carry identical market content.
// LastUpdated is excluded: it tracks arrival, not content.
func (m NormalizedMarket) Same(o NormalizedMarket) bool {
	return m.Source == o.Source &&
		m.MatchKey == o.MatchKey &&
		m.Team1 == o.Team1 &&
		m.Team2 == o.Team2 &&
		m.EventDate.Equal(o.EventDate) &&
		m.Probability.Equal(o.Probability) &&
		m.Volume.Equal(o.Volume) &&
		m.Outcome == o.Outcome &&
		m.Unresolved == o.Unresolved
}
