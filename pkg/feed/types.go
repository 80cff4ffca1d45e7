// Package feed consumes market data producers: long-lived subprocesses and
// polled HTTP endpoints that emit newline-delimited JSON envelopes. Producers
// are treated as opaque; this package only implements their output contract.
package feed

import "encoding/json"

// SourceID identifies a market data producer.
type SourceID string

const (
	SourceModel    SourceID = "model"    // internal prediction model
	SourceKalshi   SourceID = "kalshi"   // Kalshi EPL game markets
	SourceManifold SourceID = "manifold" // Manifold matchweek markets
)

// Unit declares how a producer expresses prices. Units are configured per
// source and branched on explicitly; they are never inferred from the data.
type Unit string

const (
	UnitCents       Unit = "cents"       // 0-100 price-in-cents convention
	UnitProbability Unit = "probability" // already a 0-1 probability
)

// Envelope types emitted by producers.
const (
	TypeMarketUpdate = "market_update"
	TypeStatus       = "status"
	TypeError        = "error"
	TypeRaw          = "raw"
)

// Envelope is one line of producer output. Status and error lines describe
// connection lifecycle, not data. Lines that fail to parse are forwarded as
// TypeRaw with the original line in Message.
type Envelope struct {
	Type      string          `json:"type"`
	Timestamp float64         `json:"timestamp,omitempty"` // epoch milliseconds, informational only
	Message   string          `json:"message,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// MarketData is the payload of a market_update envelope. Fields are sparse;
// different producers fill different subsets.
type MarketData struct {
	Ticker   string `json:"ticker,omitempty"`
	MarketID string `json:"market_id,omitempty"`

	// Date fields. Producers emit one or more of: ISO dates, RFC3339
	// timestamps, Kalshi YYMMMDD ticker dates, or "Nov 8, 2025" display
	// dates.
	Date          string `json:"date,omitempty"`
	DateFormatted string `json:"date_formatted,omitempty"`

	// Team identifiers: 3-letter codes and/or full names.
	Team1     string `json:"team1,omitempty"`
	Team1Full string `json:"team1_full,omitempty"`
	Team2     string `json:"team2,omitempty"`
	Team2Full string `json:"team2_full,omitempty"`

	// Prop identifies the outcome a contract pays on (a team code for
	// moneyline markets). Producers also emit sub-markets (totals, props)
	// under other codes.
	Prop           string `json:"prop,omitempty"`
	PropFull       string `json:"prop_full,omitempty"`
	BetDescription string `json:"bet_description,omitempty"`

	Pricing      Pricing      `json:"pricing"`
	TradingStats TradingStats `json:"trading_stats"`
}

// Pricing carries whichever price fields the producer knows. Interpretation
// depends on the source's declared Unit.
type Pricing struct {
	CurrentPrice       *float64 `json:"current_price,omitempty"`
	YesPrice           *float64 `json:"yes_price,omitempty"`
	YesBid             *float64 `json:"yes_bid,omitempty"`
	YesAsk             *float64 `json:"yes_ask,omitempty"`
	ImpliedProbability *float64 `json:"implied_probability,omitempty"`
}

// TradingStats carries volume/liquidity figures.
type TradingStats struct {
	Volume       float64 `json:"volume"`
	OpenInterest float64 `json:"open_interest"`
}

// Market decodes the envelope's Data as MarketData. Returns an error for
// non-market envelopes or malformed payloads.
func (e *Envelope) Market() (*MarketData, error) {
	if e.Type != TypeMarketUpdate {
		return nil, ErrNotMarketUpdate
	}
	var md MarketData
	if err := json.Unmarshal(e.Data, &md); err != nil {
		return nil, err
	}
	return &md, nil
}
