package sports

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/phenomenon0/epl-edge/pkg/feed"
	"github.com/phenomenon0/epl-edge/pkg/metrics"
)

// Normalization errors. All of them are recoverable: the caller skips the
// record and keeps the stream alive.
var (
	ErrNoTeams     = errors.New("payload carries no team identifiers")
	ErrNoPrice     = errors.New("payload carries no usable price field")
	ErrNoDate      = errors.New("payload carries no parseable event date")
	ErrOutOfRange  = errors.New("implied probability outside [0,1]")
	ErrUnknownUnit = errors.New("source has no declared price unit")
)

// Normalizer turns raw producer envelopes into NormalizedMarket records.
// It is a pure transform apart from the observability side channels.
type Normalizer struct {
	registry *Registry
	log      *zap.Logger
	metrics  *metrics.BoardMetrics
}

// NewNormalizer creates a normalizer. log and m may be nil.
func NewNormalizer(registry *Registry, log *zap.Logger, m *metrics.BoardMetrics) *Normalizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Normalizer{registry: registry, log: log, metrics: m}
}

// Normalize produces zero or one NormalizedMarket from an envelope.
// (nil, nil) means the envelope is not a market record this system tracks:
// status/error/raw lines, or sub-markets filtered by policy. A non-nil
// error means the payload was malformed; the stream continues either way.
func (n *Normalizer) Normalize(src feed.SourceID, unit feed.Unit, env feed.Envelope) (*NormalizedMarket, error) {
	if env.Type != feed.TypeMarketUpdate {
		return nil, nil
	}

	md, err := env.Market()
	if err != nil {
		return nil, fmt.Errorf("decode market payload: %w", err)
	}

	team1, team2, tickerDate := n.teamFields(md)
	if team1 == "" || team2 == "" {
		return nil, ErrNoTeams
	}

	date, err := n.eventDate(md, tickerDate)
	if err != nil {
		return nil, err
	}

	canon1, ok1 := n.registry.Resolve(team1)
	canon2, ok2 := n.registry.Resolve(team2)
	unresolved := !ok1 || !ok2
	if unresolved {
		n.log.Warn("unresolved team alias",
			zap.String("source", string(src)),
			zap.String("team1", team1), zap.Bool("team1_resolved", ok1),
			zap.String("team2", team2), zap.Bool("team2_resolved", ok2))
		if n.metrics != nil {
			n.metrics.RecordUnresolvedAlias(string(src))
		}
	}

	// Sub-market filter: a non-empty outcome code that is not one of the
	// two teams prices something other than the moneyline. Sources that
	// stream one contract per outcome would otherwise feed both sides of
	// the same fixture into one aggregator slot, so only the contract on
	// the fixture's reference side is kept.
	outcome := ""
	if md.Prop != "" {
		resolved, _ := n.registry.Resolve(md.Prop)
		switch resolved {
		case canon1, canon2:
			if resolved != ReferenceTeam(canon1, canon2) {
				return nil, nil
			}
			outcome = resolved
		default:
			return nil, nil
		}
	}

	prob, err := n.probability(md, unit)
	if err != nil {
		return nil, err
	}

	return &NormalizedMarket{
		Source:      src,
		MatchKey:    MatchKey(canon1, canon2, date),
		Team1:       canon1,
		Team2:       canon2,
		EventDate:   TruncateDay(date),
		Probability: prob,
		Volume:      decimal.NewFromFloat(md.TradingStats.Volume),
		Outcome:     outcome,
		Unresolved:  unresolved,
	}, nil
}

// teamFields extracts the two team identifiers, preferring full names, then
// codes, then the embedded ticker shape. The third return is a date string
// recovered from the ticker, if any.
func (n *Normalizer) teamFields(md *feed.MarketData) (string, string, string) {
	t1 := firstNonEmpty(md.Team1Full, md.Team1)
	t2 := firstNonEmpty(md.Team2Full, md.Team2)
	if t1 != "" && t2 != "" {
		return t1, t2, ""
	}

	if tk, ok := parseGameTicker(md.Ticker); ok {
		return firstNonEmpty(t1, tk.team1), firstNonEmpty(t2, tk.team2), tk.date
	}
	return t1, t2, ""
}

// eventDate parses the first date field that yields a calendar day.
func (n *Normalizer) eventDate(md *feed.MarketData, tickerDate string) (time.Time, error) {
	for _, s := range []string{md.Date, md.DateFormatted, tickerDate} {
		if s == "" {
			continue
		}
		if t, ok := parseEventDate(s); ok {
			return t, nil
		}
	}
	return time.Time{}, ErrNoDate
}

// probability selects a price field and converts it to [0,1] according to
// the source's declared unit. Units are branched on explicitly; a source
// without one is a configuration error, not something to guess around.
func (n *Normalizer) probability(md *feed.MarketData, unit feed.Unit) (decimal.Decimal, error) {
	var raw float64
	switch {
	case md.Pricing.ImpliedProbability != nil:
		raw = *md.Pricing.ImpliedProbability
	case md.Pricing.CurrentPrice != nil:
		raw = *md.Pricing.CurrentPrice
	case md.Pricing.YesPrice != nil:
		raw = *md.Pricing.YesPrice
	case md.Pricing.YesBid != nil && md.Pricing.YesAsk != nil:
		raw = (*md.Pricing.YesBid + *md.Pricing.YesAsk) / 2
	default:
		return decimal.Zero, ErrNoPrice
	}

	p := decimal.NewFromFloat(raw)
	switch unit {
	case feed.UnitCents:
		p = p.Div(decimal.NewFromInt(100))
	case feed.UnitProbability:
		// already 0-1
	default:
		return decimal.Zero, ErrUnknownUnit
	}

	if p.IsNegative() || p.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrOutOfRange, p)
	}
	return p, nil
}

// gameTicker is the decomposed form of a Kalshi-style EPL game ticker,
// e.g. KXEPLGAME-25NOV08CFCWOL-CFC: a YYMMMDD date followed by two 3-letter
// team codes, with the outcome code as the final segment.
type gameTicker struct {
	date  string
	team1 string
	team2 string
	prop  string
}

func parseGameTicker(ticker string) (gameTicker, bool) {
	parts := strings.Split(ticker, "-")
	if len(parts) < 2 {
		return gameTicker{}, false
	}

	dateTeams := parts[1]
	if len(dateTeams) != 13 { // 7 date chars + two 3-letter codes
		return gameTicker{}, false
	}

	tk := gameTicker{
		date:  dateTeams[:7],
		team1: dateTeams[7:10],
		team2: dateTeams[10:13],
	}
	if len(parts) >= 3 {
		tk.prop = parts[2]
	}
	return tk, true
}

// eventDateFormats are tried in order. The producer mix emits ISO dates,
// RFC3339 timestamps, display dates, and Kalshi YYMMMDD ticker dates.
var eventDateFormats = []string{
	time.RFC3339,
	"2006-01-02",
	"Jan 2, 2006",
	"06Jan02", // YYMMMDD after case folding
}

func parseEventDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range eventDateFormats {
		candidate := s
		if layout == "06Jan02" {
			if len(s) != 7 {
				continue
			}
			// Ticker dates arrive uppercased: 25NOV08.
			candidate = s[:2] + strings.ToUpper(s[2:3]) + strings.ToLower(s[3:5]) + s[5:]
		}
		if t, err := time.Parse(layout, candidate); err == nil {
			return TruncateDay(t), true
		}
	}
	return time.Time{}, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
