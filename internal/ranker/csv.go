package ranker

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
)

// Ingestion reads the tab-delimited exports the ranking run is fed with:
// a per-ticker universe list, weekly high/low/VWAP aggregate rows, and
// per-expiration implied-volatility rows. All numeric columns arrive as text
// and are parsed per row so one bad line never sinks the run.

type aggregateRow struct {
	Ticker    string `csv:"ticker"`
	Timestamp string `csv:"timestamp"`
	Open      string `csv:"open"`
	High      string `csv:"high"`
	Low       string `csv:"low"`
	Close     string `csv:"close"`
	VWAP      string `csv:"vwap"`
}

type ivRow struct {
	Ticker        string `csv:"ticker"`
	IV            string `csv:"iv"`
	Volume        string `csv:"volume"`
	OpenInterest  string `csv:"open_interest"`
	SecondsToExpr string `csv:"seconds_to_expr"`
	SpreadScore   string `csv:"spread_score"`
}

type universeRow struct {
	Ticker string `csv:"ticker"`
}

func tabReader(in io.Reader) gocsv.CSVReader {
	r := csv.NewReader(in)
	r.Comma = '\t'
	r.FieldsPerRecord = -1
	return r
}

// ReadTickerList reads a one-column ticker list.
func ReadTickerList(in io.Reader) ([]string, error) {
	var rows []universeRow
	if err := gocsv.UnmarshalCSVWithoutHeaders(tabReader(in), &rows); err != nil {
		return nil, fmt.Errorf("reading ticker list: %w", err)
	}
	tickers := make([]string, 0, len(rows))
	for _, row := range rows {
		if t := strings.TrimSpace(row.Ticker); t != "" {
			tickers = append(tickers, t)
		}
	}
	return tickers, nil
}

func readAggregateRows(in io.Reader) ([]aggregateRow, error) {
	var rows []aggregateRow
	if err := gocsv.UnmarshalCSVWithoutHeaders(tabReader(in), &rows); err != nil {
		return nil, fmt.Errorf("reading aggregate rows: %w", err)
	}
	return rows, nil
}

func readIVRows(in io.Reader) ([]ivRow, error) {
	var rows []ivRow
	if err := gocsv.UnmarshalCSVWithoutHeaders(tabReader(in), &rows); err != nil {
		return nil, fmt.Errorf("reading IV rows: %w", err)
	}
	return rows, nil
}

// parsePercent parses "43.5%" or "43.5" into 43.5.
func parsePercent(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s), "%"), 64)
}
