// edgectl queries a running edged and prints its board as tables.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/phenomenon0/epl-edge/pkg/aggregate"
	"github.com/phenomenon0/epl-edge/pkg/api"
	"github.com/phenomenon0/epl-edge/pkg/sports"
)

var addr = flag.String("addr", "http://127.0.0.1:8080", "edged base URL")

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: edgectl [-addr URL] COMMAND

Commands:
  comparisons   cross-source probability comparison per fixture
  markets       every tracked market, one row per (source, fixture)
  sources       producer connection states
`)
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
	}

	var err error
	switch flag.Arg(0) {
	case "comparisons":
		err = showComparisons()
	case "markets":
		err = showMarkets()
	case "sources":
		err = showSources()
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "edgectl: %v\n", err)
		os.Exit(1)
	}
}

func fetch(path string, out interface{}) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(*addr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func showComparisons() error {
	var records []aggregate.ComparisonRecord
	if err := fetch("/api/v1/comparisons", &records); err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Fixture", "Date", "Model", "Kalshi", "Manifold", "MaxDiff")

	for _, rec := range records {
		table.Append(
			fmt.Sprintf("%s v %s", rec.Team1, rec.Team2),
			rec.EventDate.Format("2006-01-02"),
			probCell(rec, "model"),
			probCell(rec, "kalshi"),
			probCell(rec, "manifold"),
			rec.MaxDiscrepancy.StringFixed(4),
		)
	}
	table.Render()

	fmt.Printf("%d fixtures\n", len(records))
	return nil
}

func probCell(rec aggregate.ComparisonRecord, source string) string {
	for src, p := range rec.Probabilities {
		if string(src) == source {
			return p.StringFixed(4)
		}
	}
	return "-"
}

func showMarkets() error {
	var markets []sports.NormalizedMarket
	if err := fetch("/api/v1/markets", &markets); err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Source", "Fixture", "Date", "Prob", "Volume", "Updated")

	for _, m := range markets {
		table.Append(
			string(m.Source),
			fmt.Sprintf("%s v %s", m.Team1, m.Team2),
			m.EventDate.Format("2006-01-02"),
			m.Probability.StringFixed(4),
			m.Volume.StringFixed(0),
			m.LastUpdated.Format("15:04:05"),
		)
	}
	table.Render()

	fmt.Printf("%d markets\n", len(markets))
	return nil
}

func showSources() error {
	var statuses []api.SourceStatus
	if err := fetch("/api/v1/sources", &statuses); err != nil {
		return err
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Source < statuses[j].Source })

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Source", "State", "Last Output")

	for _, st := range statuses {
		last := "-"
		if !st.LastOutput.IsZero() {
			last = st.LastOutput.Format(time.RFC3339)
		}
		table.Append(string(st.Source), st.State, last)
	}
	table.Render()
	return nil
}
