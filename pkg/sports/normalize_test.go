package sports

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/phenomenon0/epl-edge/pkg/feed"
)

func marketEnvelope(t *testing.T, data string) feed.Envelope {
	t.Helper()
	return feed.Envelope{Type: feed.TypeMarketUpdate, Data: json.RawMessage(data)}
}

func TestNormalizer_CentsToProbability(t *testing.T) {
	n := NewNormalizer(NewRegistry(), nil, nil)

	env := marketEnvelope(t, `{
		"team1": "ARS", "team2": "CHE",
		"date": "2025-11-08",
		"pricing": {"current_price": 42},
		"trading_stats": {"volume": 15000}
	}`)

	m, err := n.Normalize(feed.SourceKalshi, feed.UnitCents, env)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !m.Probability.Equal(decimal.RequireFromString("0.42")) {
		t.Errorf("Probability = %s, want 0.42", m.Probability)
	}
	if m.Team1 != "Arsenal" || m.Team2 != "Chelsea" {
		t.Errorf("teams = %q, %q", m.Team1, m.Team2)
	}
	if m.Unresolved {
		t.Error("known codes marked unresolved")
	}
	if !m.Volume.Equal(decimal.NewFromInt(15000)) {
		t.Errorf("Volume = %s, want 15000", m.Volume)
	}
}

func TestNormalizer_ProbabilityPassthrough(t *testing.T) {
	n := NewNormalizer(NewRegistry(), nil, nil)

	env := marketEnvelope(t, `{
		"team1_full": "Liverpool", "team2_full": "Everton",
		"date": "2025-11-08",
		"pricing": {"implied_probability": 0.55}
	}`)

	m, err := n.Normalize(feed.SourceManifold, feed.UnitProbability, env)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !m.Probability.Equal(decimal.RequireFromString("0.55")) {
		t.Errorf("Probability = %s, want 0.55", m.Probability)
	}
}

func TestNormalizer_PriceFieldPrecedence(t *testing.T) {
	n := NewNormalizer(NewRegistry(), nil, nil)

	tests := []struct {
		name    string
		pricing string
		want    string
	}{
		{
			name:    "implied probability wins",
			pricing: `{"implied_probability": 61, "current_price": 40}`,
			want:    "0.61",
		},
		{
			name:    "current price over yes price",
			pricing: `{"current_price": 40, "yes_price": 50}`,
			want:    "0.4",
		},
		{
			name:    "bid ask midpoint as last resort",
			pricing: `{"yes_bid": 40, "yes_ask": 44}`,
			want:    "0.42",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := marketEnvelope(t, `{
				"team1": "ARS", "team2": "CHE",
				"date": "2025-11-08",
				"pricing": `+tt.pricing+`
			}`)
			m, err := n.Normalize(feed.SourceKalshi, feed.UnitCents, env)
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if !m.Probability.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("Probability = %s, want %s", m.Probability, tt.want)
			}
		})
	}
}

func TestNormalizer_SkipsNonMarketEnvelopes(t *testing.T) {
	n := NewNormalizer(NewRegistry(), nil, nil)

	for _, typ := range []string{feed.TypeStatus, feed.TypeError, feed.TypeRaw} {
		env := feed.Envelope{Type: typ, Message: "connected"}
		m, err := n.Normalize(feed.SourceKalshi, feed.UnitCents, env)
		if m != nil || err != nil {
			t.Errorf("type %q: got (%v, %v), want (nil, nil)", typ, m, err)
		}
	}
}

func TestNormalizer_FiltersSubMarkets(t *testing.T) {
	n := NewNormalizer(NewRegistry(), nil, nil)

	// Outcome code pricing something other than either team.
	env := marketEnvelope(t, `{
		"team1": "ARS", "team2": "CHE",
		"prop": "TIE",
		"date": "2025-11-08",
		"pricing": {"current_price": 30}
	}`)

	m, err := n.Normalize(feed.SourceKalshi, feed.UnitCents, env)
	if m != nil || err != nil {
		t.Errorf("sub-market: got (%v, %v), want (nil, nil)", m, err)
	}

	// A moneyline outcome on the fixture's reference side survives tagged.
	env = marketEnvelope(t, `{
		"team1": "ARS", "team2": "CHE",
		"prop": "ARS",
		"date": "2025-11-08",
		"pricing": {"current_price": 70}
	}`)

	m, err = n.Normalize(feed.SourceKalshi, feed.UnitCents, env)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if m.Outcome != "Arsenal" {
		t.Errorf("Outcome = %q, want Arsenal", m.Outcome)
	}
}

func TestNormalizer_KeepsOneSidePerFixture(t *testing.T) {
	n := NewNormalizer(NewRegistry(), nil, nil)

	// Per-outcome contract streams carry both sides of the same game.
	// Only the reference side may survive, or the two contracts would
	// overwrite each other downstream.
	side := func(prop string, price int) *NormalizedMarket {
		t.Helper()
		env := marketEnvelope(t, fmt.Sprintf(`{
			"team1": "CFC", "team2": "WOL",
			"prop": %q,
			"date": "2025-11-08",
			"pricing": {"current_price": %d}
		}`, prop, price))
		m, err := n.Normalize(feed.SourceKalshi, feed.UnitCents, env)
		if err != nil {
			t.Fatalf("Normalize(prop=%s): %v", prop, err)
		}
		return m
	}

	chelsea := side("CFC", 64)
	if chelsea == nil {
		t.Fatal("reference-side contract was filtered")
	}
	if chelsea.Outcome != "Chelsea" {
		t.Errorf("Outcome = %q, want Chelsea", chelsea.Outcome)
	}

	if wolves := side("WOL", 30); wolves != nil {
		t.Errorf("opposite-side contract survived: %+v", wolves)
	}
}

func TestNormalizer_TickerFallback(t *testing.T) {
	n := NewNormalizer(NewRegistry(), nil, nil)

	env := marketEnvelope(t, `{
		"ticker": "KXEPLGAME-25NOV08CFCWOL-CFC",
		"pricing": {"yes_price": 64}
	}`)

	m, err := n.Normalize(feed.SourceKalshi, feed.UnitCents, env)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if m.Team1 != "Chelsea" || m.Team2 != "Wolves" {
		t.Errorf("teams = %q, %q, want Chelsea, Wolves", m.Team1, m.Team2)
	}
	want := time.Date(2025, 11, 8, 0, 0, 0, 0, time.UTC)
	if !m.EventDate.Equal(want) {
		t.Errorf("EventDate = %v, want %v", m.EventDate, want)
	}
}

func TestNormalizer_UnresolvedTeamsKept(t *testing.T) {
	n := NewNormalizer(NewRegistry(), nil, nil)

	env := marketEnvelope(t, `{
		"team1_full": "FC Nowhere", "team2_full": "Arsenal",
		"date": "2025-11-08",
		"pricing": {"implied_probability": 0.5}
	}`)

	m, err := n.Normalize(feed.SourceModel, feed.UnitProbability, env)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !m.Unresolved {
		t.Error("record with unknown team not marked unresolved")
	}
	if m.Team1 != "FC Nowhere" {
		t.Errorf("Team1 = %q, want raw name kept", m.Team1)
	}
	if m.MatchKey == "" {
		t.Error("unresolved record lost its match key")
	}
}

func TestNormalizer_MalformedPayloads(t *testing.T) {
	n := NewNormalizer(NewRegistry(), nil, nil)

	tests := []struct {
		name    string
		data    string
		unit    feed.Unit
		wantErr error
	}{
		{
			name:    "no teams",
			data:    `{"date": "2025-11-08", "pricing": {"current_price": 42}}`,
			unit:    feed.UnitCents,
			wantErr: ErrNoTeams,
		},
		{
			name:    "no price",
			data:    `{"team1": "ARS", "team2": "CHE", "date": "2025-11-08", "pricing": {}}`,
			unit:    feed.UnitCents,
			wantErr: ErrNoPrice,
		},
		{
			name:    "no date",
			data:    `{"team1": "ARS", "team2": "CHE", "pricing": {"current_price": 42}}`,
			unit:    feed.UnitCents,
			wantErr: ErrNoDate,
		},
		{
			name:    "probability above one",
			data:    `{"team1": "ARS", "team2": "CHE", "date": "2025-11-08", "pricing": {"implied_probability": 1.4}}`,
			unit:    feed.UnitProbability,
			wantErr: ErrOutOfRange,
		},
		{
			name:    "undeclared unit",
			data:    `{"team1": "ARS", "team2": "CHE", "date": "2025-11-08", "pricing": {"current_price": 42}}`,
			unit:    feed.Unit("furlongs"),
			wantErr: ErrUnknownUnit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := marketEnvelope(t, tt.data)
			m, err := n.Normalize(feed.SourceKalshi, tt.unit, env)
			if m != nil {
				t.Errorf("got record %+v, want nil", m)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizer_DateFormats(t *testing.T) {
	n := NewNormalizer(NewRegistry(), nil, nil)

	want := time.Date(2025, 11, 8, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		data string
	}{
		{"iso date", `{"team1": "ARS", "team2": "CHE", "date": "2025-11-08", "pricing": {"current_price": 42}}`},
		{"rfc3339", `{"team1": "ARS", "team2": "CHE", "date": "2025-11-08T15:00:00Z", "pricing": {"current_price": 42}}`},
		{"display date", `{"team1": "ARS", "team2": "CHE", "date_formatted": "Nov 8, 2025", "pricing": {"current_price": 42}}`},
		{"ticker date", `{"team1": "ARS", "team2": "CHE", "date": "25NOV08", "pricing": {"current_price": 42}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := n.Normalize(feed.SourceKalshi, feed.UnitCents, marketEnvelope(t, tt.data))
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if !m.EventDate.Equal(want) {
				t.Errorf("EventDate = %v, want %v", m.EventDate, want)
			}
		})
	}
}
