package aggregate

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/phenomenon0/epl-edge/pkg/feed"
	"github.com/phenomenon0/epl-edge/pkg/sports"
)

func TestCompare_GroupsByMatchKey(t *testing.T) {
	snapshot := []sports.NormalizedMarket{
		market(feed.SourceModel, "arsenal_chelsea_2025-11-08", "0.48"),
		market(feed.SourceKalshi, "arsenal_chelsea_2025-11-08", "0.42"),
		market(feed.SourceManifold, "arsenal_chelsea_2025-11-08", "0.455"),
		market(feed.SourceKalshi, "everton_liverpool_2025-11-08", "0.60"),
	}

	records := Compare(snapshot)
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	rec := records[0]
	if rec.MatchKey != "arsenal_chelsea_2025-11-08" {
		t.Fatalf("first record key = %q", rec.MatchKey)
	}
	if len(rec.Probabilities) != 3 {
		t.Errorf("Probabilities has %d sources, want 3", len(rec.Probabilities))
	}
	// max |p_i - p_j| over {0.48, 0.42, 0.455} is 0.48 - 0.42.
	if !rec.MaxDiscrepancy.Equal(decimal.RequireFromString("0.06")) {
		t.Errorf("MaxDiscrepancy = %s, want 0.06", rec.MaxDiscrepancy)
	}
}

func TestCompare_SingleSourceIsZero(t *testing.T) {
	records := Compare([]sports.NormalizedMarket{
		market(feed.SourceKalshi, "arsenal_chelsea_2025-11-08", "0.42"),
	})

	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if !records[0].MaxDiscrepancy.IsZero() {
		t.Errorf("single-source MaxDiscrepancy = %s, want 0", records[0].MaxDiscrepancy)
	}
}

func TestCompare_EmptySnapshot(t *testing.T) {
	if records := Compare(nil); len(records) != 0 {
		t.Errorf("empty snapshot produced %d records", len(records))
	}
}

func TestCompare_DiscrepancyBounds(t *testing.T) {
	tests := []struct {
		name  string
		probs []string
		want  string
	}{
		{"identical probabilities", []string{"0.50", "0.50", "0.50"}, "0"},
		{"full spread", []string{"0", "1"}, "1"},
		{"two sources", []string{"0.30", "0.70"}, "0.4"},
	}

	sourceOrder := []feed.SourceID{feed.SourceModel, feed.SourceKalshi, feed.SourceManifold}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var snapshot []sports.NormalizedMarket
			for i, p := range tt.probs {
				snapshot = append(snapshot, market(sourceOrder[i], "arsenal_chelsea_2025-11-08", p))
			}

			records := Compare(snapshot)
			got := records[0].MaxDiscrepancy
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("MaxDiscrepancy = %s, want %s", got, tt.want)
			}
			if got.IsNegative() || got.GreaterThan(decimal.NewFromInt(1)) {
				t.Errorf("MaxDiscrepancy %s outside [0,1]", got)
			}
		})
	}
}

func TestCompare_OutputOrderStable(t *testing.T) {
	snapshot := []sports.NormalizedMarket{
		market(feed.SourceKalshi, "everton_liverpool_2025-11-08", "0.60"),
		market(feed.SourceKalshi, "arsenal_chelsea_2025-11-08", "0.42"),
		market(feed.SourceKalshi, "tottenham_west-ham_2025-11-09", "0.55"),
	}

	first := Compare(snapshot)
	for i := 0; i < 10; i++ {
		again := Compare(snapshot)
		for j := range first {
			if again[j].MatchKey != first[j].MatchKey {
				t.Fatalf("record order unstable at %d", j)
			}
		}
	}

	keys := []string{first[0].MatchKey, first[1].MatchKey, first[2].MatchKey}
	want := []string{
		"arsenal_chelsea_2025-11-08",
		"everton_liverpool_2025-11-08",
		"tottenham_west-ham_2025-11-09",
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("record %d key = %q, want %q", i, keys[i], want[i])
		}
	}
}

// A source streaming one contract per outcome of the same game must not
// ping-pong its cell between p(home) and p(away): only the reference-side
// contract reaches the table, so discrepancies compare like sides.
func TestCompare_PerOutcomeContractsSameSide(t *testing.T) {
	registry := sports.NewRegistry()
	normalizer := sports.NewNormalizer(registry, nil, nil)
	agg := New(Config{}, nil, nil)

	ingest := func(src feed.SourceID, unit feed.Unit, data string) {
		t.Helper()
		env := feed.Envelope{Type: feed.TypeMarketUpdate, Data: []byte(data)}
		m, err := normalizer.Normalize(src, unit, env)
		if err != nil {
			t.Fatalf("%s: Normalize: %v", src, err)
		}
		if m != nil {
			agg.Ingest(*m)
		}
	}

	ingest(feed.SourceModel, feed.UnitProbability,
		`{"team1_full": "Chelsea", "team2_full": "Wolves",
		  "date": "2025-11-08",
		  "pricing": {"implied_probability": 0.60}}`)
	ingest(feed.SourceKalshi, feed.UnitCents,
		`{"ticker": "KXEPLGAME-25NOV08CFCWOL-CFC",
		  "team1": "CFC", "team2": "WOL", "prop": "CFC", "date": "25NOV08",
		  "pricing": {"current_price": 64}}`)
	ingest(feed.SourceKalshi, feed.UnitCents,
		`{"ticker": "KXEPLGAME-25NOV08CFCWOL-WOL",
		  "team1": "CFC", "team2": "WOL", "prop": "WOL", "date": "25NOV08",
		  "pricing": {"current_price": 30}}`)

	records := Compare(agg.Snapshot())
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}

	rec := records[0]
	if !rec.Probabilities[feed.SourceKalshi].Equal(decimal.RequireFromString("0.64")) {
		t.Errorf("kalshi probability = %s, want 0.64 (reference side, not the last contract)",
			rec.Probabilities[feed.SourceKalshi])
	}
	if !rec.MaxDiscrepancy.Equal(decimal.RequireFromString("0.04")) {
		t.Errorf("MaxDiscrepancy = %s, want 0.04", rec.MaxDiscrepancy)
	}
}

// Full pipeline: three sources report the same fixture with different team
// spellings, orders, units, and timestamps around midnight; all three land
// in a single comparison record.
func TestCompare_CrossSourceScenario(t *testing.T) {
	registry := sports.NewRegistry()
	normalizer := sports.NewNormalizer(registry, nil, nil)
	agg := New(Config{}, nil, nil)

	ingest := func(src feed.SourceID, unit feed.Unit, data string) {
		t.Helper()
		env := feed.Envelope{Type: feed.TypeMarketUpdate, Data: []byte(data)}
		m, err := normalizer.Normalize(src, unit, env)
		if err != nil {
			t.Fatalf("%s: Normalize: %v", src, err)
		}
		agg.Ingest(*m)
	}

	ingest(feed.SourceModel, feed.UnitProbability,
		`{"team1_full": "Arsenal", "team2_full": "Chelsea",
		  "date": "2025-11-08T23:58:00Z",
		  "pricing": {"implied_probability": 0.48}}`)
	ingest(feed.SourceKalshi, feed.UnitCents,
		`{"ticker": "KXEPLGAME-25NOV08CFCARS-ARS",
		  "team1": "CFC", "team2": "ARS", "date": "25NOV08",
		  "pricing": {"current_price": 42}}`)
	ingest(feed.SourceManifold, feed.UnitProbability,
		`{"team1_full": "Chelsea FC", "team2_full": "Arsenal FC",
		  "date": "2025-11-08",
		  "pricing": {"implied_probability": 0.455}}`)

	records := Compare(agg.Snapshot())
	if len(records) != 1 {
		t.Fatalf("got %d comparison records, want 1 merged fixture", len(records))
	}

	rec := records[0]
	if rec.MatchKey != "arsenal_chelsea_2025-11-08" {
		t.Errorf("MatchKey = %q", rec.MatchKey)
	}
	if len(rec.Probabilities) != 3 {
		t.Errorf("Probabilities has %d sources, want 3", len(rec.Probabilities))
	}
	if !rec.Probabilities[feed.SourceKalshi].Equal(decimal.RequireFromString("0.42")) {
		t.Errorf("kalshi probability = %s, want 0.42", rec.Probabilities[feed.SourceKalshi])
	}
	if !rec.MaxDiscrepancy.Equal(decimal.RequireFromString("0.06")) {
		t.Errorf("MaxDiscrepancy = %s, want 0.06", rec.MaxDiscrepancy)
	}
	if !rec.EventDate.Equal(time.Date(2025, 11, 8, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("EventDate = %v", rec.EventDate)
	}
}
