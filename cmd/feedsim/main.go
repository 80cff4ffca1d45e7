// feedsim emits the producer NDJSON contract on stdout with random-walk
// prices over a fixed EPL fixture catalog. It stands in for the real
// scrapers in local runs and integration tests.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/phenomenon0/epl-edge/pkg/sports"
)

var (
	sourceName = flag.String("source", "kalshi", "Source flavor: kalshi, manifold, model")
	unit       = flag.String("unit", "cents", "Price unit: cents or probability")
	interval   = flag.Duration("interval", 2*time.Second, "Delay between update batches")
	count      = flag.Int("count", 0, "Number of batches to emit (0 = run until killed)")
	seed       = flag.Int64("seed", 0, "RNG seed (0 = time-based)")
)

// fixture is one simulated EPL match.
type fixture struct {
	home, homeCode string
	away, awayCode string
	daysAhead      int
	prob           float64 // current home-win probability, random-walked
}

func catalog() []*fixture {
	return []*fixture{
		{home: "Arsenal", homeCode: "ARS", away: "Chelsea", awayCode: "CHE", daysAhead: 1, prob: 0.55},
		{home: "Liverpool", homeCode: "LIV", away: "Manchester City", awayCode: "MCI", daysAhead: 1, prob: 0.48},
		{home: "Tottenham", homeCode: "TOT", away: "West Ham", awayCode: "WHU", daysAhead: 2, prob: 0.61},
		{home: "Newcastle United", homeCode: "NEW", away: "Everton", awayCode: "EVE", daysAhead: 2, prob: 0.66},
		{home: "Brighton", homeCode: "BHA", away: "Fulham", awayCode: "FUL", daysAhead: 3, prob: 0.52},
	}
}

func main() {
	flag.Parse()

	rngSeed := *seed
	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(rngSeed))

	enc := json.NewEncoder(os.Stdout)

	emit(enc, map[string]interface{}{
		"type":      "status",
		"message":   fmt.Sprintf("%s simulator connected", *sourceName),
		"timestamp": epoch(),
	})

	fixtures := catalog()
	for batch := 0; *count == 0 || batch < *count; batch++ {
		if batch > 0 {
			time.Sleep(*interval)
		}
		for _, f := range fixtures {
			f.prob = clamp(f.prob+rng.NormFloat64()*0.01, 0.02, 0.98)
			if *sourceName == "kalshi" {
				// Kalshi streams one contract per outcome of each game.
				emit(enc, kalshiUpdate(f, f.homeCode, f.prob, rng))
				emit(enc, kalshiUpdate(f, f.awayCode, 1-f.prob, rng))
			} else {
				emit(enc, marketUpdate(f, rng))
			}
		}
	}

	emit(enc, map[string]interface{}{
		"type":      "status",
		"message":   "simulator finished",
		"timestamp": epoch(),
	})
}

// kalshiUpdate builds one side contract in the real feed's shape,
// e.g. KXEPLGAME-25NOV08ARSCHE-ARS.
func kalshiUpdate(f *fixture, side string, prob float64, rng *rand.Rand) map[string]interface{} {
	date := time.Now().UTC().AddDate(0, 0, f.daysAhead)
	tickerDate := strings.ToUpper(date.Format("06Jan02"))

	price := prob
	if *unit == "cents" {
		price = prob * 100
	}

	return map[string]interface{}{
		"type":      "market_update",
		"timestamp": epoch(),
		"data": map[string]interface{}{
			"ticker": fmt.Sprintf("KXEPLGAME-%s%s%s-%s", tickerDate, f.homeCode, f.awayCode, side),
			"team1":  f.homeCode,
			"team2":  f.awayCode,
			"prop":   side,
			"date":   tickerDate,
			"pricing": map[string]interface{}{
				"implied_probability": round4(price),
			},
			"trading_stats": map[string]interface{}{
				"volume":        float64(1000 + rng.Intn(50000)),
				"open_interest": float64(rng.Intn(20000)),
			},
		},
	}
}

func marketUpdate(f *fixture, rng *rand.Rand) map[string]interface{} {
	date := time.Now().UTC().AddDate(0, 0, f.daysAhead)

	// Untagged sources price the fixture's reference side, like the
	// surviving kalshi contract, so the board compares like for like.
	prob := f.prob
	if sports.ReferenceTeam(f.home, f.away) == f.away {
		prob = 1 - f.prob
	}

	price := prob
	if *unit == "cents" {
		price = prob * 100
	}

	return map[string]interface{}{
		"type":      "market_update",
		"timestamp": epoch(),
		"data": map[string]interface{}{
			"team1_full": f.home,
			"team2_full": f.away,
			"date":       date.Format("2006-01-02"),
			"pricing": map[string]interface{}{
				"implied_probability": round4(price),
			},
			"trading_stats": map[string]interface{}{
				"volume":        float64(1000 + rng.Intn(50000)),
				"open_interest": float64(rng.Intn(20000)),
			},
		},
	}
}

func emit(enc *json.Encoder, v interface{}) {
	_ = enc.Encode(v)
}

func epoch() float64 {
	return float64(time.Now().UnixMilli())
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round4(v float64) float64 {
	return float64(int(v*10000+0.5)) / 10000
}
