package aggregate

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/phenomenon0/epl-edge/pkg/feed"
	"github.com/phenomenon0/epl-edge/pkg/sports"
)

// ComparisonRecord joins per-source probabilities for one fixture. Derived
// on demand from a snapshot, never stored.
type ComparisonRecord struct {
	MatchKey  string    `json:"match_key"`
	Team1     string    `json:"team1"`
	Team2     string    `json:"team2"`
	EventDate time.Time `json:"event_date"`

	// Probabilities holds each source's implied probability for the fixture.
	Probabilities map[feed.SourceID]decimal.Decimal `json:"per_source_probability"`

	// MaxDiscrepancy is the largest pairwise |p_i - p_j| across present
	// sources. Zero when fewer than two sources report - insufficient
	// data, not an error.
	MaxDiscrepancy decimal.Decimal `json:"max_discrepancy"`
}

// Compare groups a snapshot by match key and computes discrepancies.
// Output order is match-key lexical, so identical snapshots always produce
// identical output regardless of map iteration.
func Compare(snapshot []sports.NormalizedMarket) []ComparisonRecord {
	grouped := make(map[string][]sports.NormalizedMarket)
	for _, m := range snapshot {
		grouped[m.MatchKey] = append(grouped[m.MatchKey], m)
	}

	records := make([]ComparisonRecord, 0, len(grouped))
	for key, group := range grouped {
		rec := ComparisonRecord{
			MatchKey:      key,
			Team1:         group[0].Team1,
			Team2:         group[0].Team2,
			EventDate:     group[0].EventDate,
			Probabilities: make(map[feed.SourceID]decimal.Decimal, len(group)),
		}
		for _, m := range group {
			rec.Probabilities[m.Source] = m.Probability
		}
		rec.MaxDiscrepancy = maxDiscrepancy(rec.Probabilities)
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].MatchKey < records[j].MatchKey
	})
	return records
}

// maxDiscrepancy computes max |p_i - p_j| over all source pairs.
func maxDiscrepancy(probs map[feed.SourceID]decimal.Decimal) decimal.Decimal {
	if len(probs) < 2 {
		return decimal.Zero
	}

	values := make([]decimal.Decimal, 0, len(probs))
	for _, p := range probs {
		values = append(values, p)
	}

	max := decimal.Zero
	for i := 0; i < len(values); i++ {
		for j := i + 1; j < len(values); j++ {
			d := values[i].Sub(values[j]).Abs()
			if d.GreaterThan(max) {
				max = d
			}
		}
	}
	return max
}

// Discrepancies extracts the MaxDiscrepancy column, in record order.
func Discrepancies(records []ComparisonRecord) []decimal.Decimal {
	out := make([]decimal.Decimal, len(records))
	for i, r := range records {
		out[i] = r.MaxDiscrepancy
	}
	return out
}
