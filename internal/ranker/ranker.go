// Package ranker turns raw weekly range samples and implied-volatility rows
// into a ranked ticker list by outlier-adjusted z-score.
package ranker

import (
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// ConsistencyConstant scales median absolute deviations so a normal
// distribution's +-3.5 sigma boundary maps to a threshold of 1.
const ConsistencyConstant = 3.5 / 0.6745

const secondsPerYear = 365 * 86400

// DefaultRangeWeights weight the chronological weekly samples, (i+9)^2, so
// recent weeks count roughly five times the oldest.
var DefaultRangeWeights = func() []float64 {
	w := make([]float64, 13)
	for i := range w {
		w[i] = float64((i + 9) * (i + 9))
	}
	return w
}()

// Sample is one weekly range observation, in percent of VWAP.
type Sample struct {
	Timestamp int64
	Range     float64
}

// Ticker accumulates everything the ranking derives for one symbol.
type Ticker struct {
	Symbol  string
	Samples []Sample
	// Kept marks the samples surviving outlier rejection, aligned with
	// Samples.
	Kept []bool

	IV            float64
	HasIV         bool
	Volume        string
	OpenInterest  string
	SecondsToExpr float64
	SpreadScore   float64

	Avg             float64
	Stdev           float64
	AvgNoOutliers   float64
	StdevNoOutliers float64

	ExpectedRange         float64
	WeightedAvg           float64
	WeightedAvgNoOutliers float64

	ZScore           float64
	ZScoreNoOutliers float64
}

// Context is the per-run ranking state, built fresh each scheduling cycle.
type Context struct {
	logger  *logrus.Logger
	weights []float64

	order   []string
	tickers map[string]*Ticker

	prevClose  float64
	prevTicker string
}

// NewContext creates an empty ranking context.
func NewContext(logger *logrus.Logger, weights []float64) *Context {
	if len(weights) == 0 {
		weights = DefaultRangeWeights
	}
	return &Context{
		logger:  logger,
		weights: weights,
		tickers: make(map[string]*Ticker),
	}
}

// Get returns the accumulated state for a symbol, or nil.
func (c *Context) Get(symbol string) *Ticker {
	return c.tickers[symbol]
}

// Tickers returns the accumulated tickers in ingestion order.
func (c *Context) Tickers() []*Ticker {
	out := make([]*Ticker, 0, len(c.order))
	for _, s := range c.order {
		out = append(out, c.tickers[s])
	}
	return out
}

func (c *Context) ticker(symbol string) *Ticker {
	t, ok := c.tickers[symbol]
	if !ok {
		t = &Ticker{Symbol: symbol}
		c.tickers[symbol] = t
		c.order = append(c.order, symbol)
	}
	return t
}

// IngestAggregate reads weekly aggregate rows for tickers in the universe.
// When the target expiration is not in the current week, the previous row's
// close bridges into the next row's high/low so a still-open week's range is
// not double counted. Malformed rows are logged and skipped.
func (c *Context) IngestAggregate(in io.Reader, universe map[string]bool, exprThisWeek bool) error {
	rows, err := readAggregateRows(in)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if !universe[row.Ticker] {
			continue
		}
		ts, err := strconv.ParseInt(row.Timestamp, 10, 64)
		if err != nil {
			c.logger.Warnf("aggregate row for %s: bad timestamp %q, skipping", row.Ticker, row.Timestamp)
			continue
		}
		hi, err1 := strconv.ParseFloat(row.High, 64)
		lo, err2 := strconv.ParseFloat(row.Low, 64)
		vw, err3 := strconv.ParseFloat(row.VWAP, 64)
		cl, err4 := strconv.ParseFloat(row.Close, 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || vw == 0 {
			c.logger.Warnf("aggregate row for %s @%d: malformed numeric fields, skipping", row.Ticker, ts)
			continue
		}

		if c.prevTicker == row.Ticker && c.prevClose != 0 && !exprThisWeek {
			hi = math.Max(hi, c.prevClose)
			lo = math.Min(lo, c.prevClose)
		}
		t := c.ticker(row.Ticker)
		t.Samples = append(t.Samples, Sample{Timestamp: ts, Range: (hi - lo) / vw * 100})

		c.prevClose = cl
		c.prevTicker = row.Ticker
	}
	return nil
}

// IngestIVs attaches implied-volatility rows to tickers already holding
// range samples. Rows for unknown tickers are ignored.
func (c *Context) IngestIVs(in io.Reader) error {
	rows, err := readIVRows(in)
	if err != nil {
		return err
	}
	for _, row := range rows {
		t, ok := c.tickers[row.Ticker]
		if !ok {
			continue
		}
		iv, err1 := parsePercent(row.IV)
		ste, err2 := strconv.ParseFloat(row.SecondsToExpr, 64)
		ss, err3 := strconv.ParseFloat(row.SpreadScore, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			c.logger.Warnf("IV row for %s: malformed numeric fields, skipping", row.Ticker)
			continue
		}
		t.IV = iv
		t.HasIV = true
		t.Volume = row.Volume
		t.OpenInterest = row.OpenInterest
		t.SecondsToExpr = ste
		t.SpreadScore = ss
	}
	return nil
}

// RemoveOutliers applies the median-absolute-deviation test per ticker. A
// zero MAD (all samples identical) keeps everything.
func (c *Context) RemoveOutliers() {
	for _, t := range c.Tickers() {
		t.Kept = rejectOutliers(t.Samples, ConsistencyConstant)
	}
}

func rejectOutliers(samples []Sample, m float64) []bool {
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.Range
	}
	med := median(values)

	devs := make([]float64, len(values))
	for i, v := range values {
		devs[i] = math.Abs(v - med)
	}
	mdev := median(devs)

	kept := make([]bool, len(values))
	for i := range values {
		s := 0.0
		if mdev != 0 {
			s = devs[i] / mdev
		}
		kept[i] = s < m
	}
	return kept
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// AddStatistics computes mean and sample standard deviation over the full
// and outlier-adjusted sample sets. Tickers with fewer than two surviving
// samples cannot produce a deviation and are dropped with a warning.
func (c *Context) AddStatistics() {
	for _, t := range c.Tickers() {
		full := t.rangeValues(false)
		kept := t.rangeValues(true)
		if len(full) < 2 || len(kept) < 2 {
			c.logger.Warnf("%s: %d samples after outlier rejection, too few to rank", t.Symbol, len(kept))
			c.drop(t.Symbol)
			continue
		}
		t.Avg = stat.Mean(full, nil)
		t.Stdev = math.Sqrt(stat.Variance(full, nil))
		t.AvgNoOutliers = stat.Mean(kept, nil)
		t.StdevNoOutliers = math.Sqrt(stat.Variance(kept, nil))
	}
}

func (c *Context) drop(symbol string) {
	delete(c.tickers, symbol)
	for i, s := range c.order {
		if s == symbol {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func (t *Ticker) rangeValues(keptOnly bool) []float64 {
	var out []float64
	for i, s := range t.Samples {
		if keptOnly && (len(t.Kept) <= i || !t.Kept[i]) {
			continue
		}
		out = append(out, s.Range)
	}
	return out
}

// AddWeightedAverages computes recency-weighted averages, weights applied in
// chronological sample order. Tickers with more samples than weights are
// dropped with a warning rather than mis-weighted.
func (c *Context) AddWeightedAverages() {
	for _, t := range c.Tickers() {
		if len(t.Samples) > len(c.weights) {
			c.logger.Warnf("%s: %d samples exceed %d weights, dropping", t.Symbol, len(t.Samples), len(c.weights))
			c.drop(t.Symbol)
			continue
		}
		var sumAll, countAll, sumKept, countKept float64
		for i, s := range t.Samples {
			w := c.weights[i]
			sumAll += s.Range * w
			countAll += w
			if len(t.Kept) > i && t.Kept[i] {
				sumKept += s.Range * w
				countKept += w
			}
		}
		if countAll > 0 {
			t.WeightedAvg = sumAll / countAll
		}
		if countKept > 0 {
			t.WeightedAvgNoOutliers = sumKept / countKept
		}
	}
}

// AddExpectedRanges derives the IV-implied expected move over the remaining
// time to expiration.
func (c *Context) AddExpectedRanges() {
	for _, t := range c.Tickers() {
		if t.HasIV {
			t.ExpectedRange = 2 * t.IV * math.Sqrt(t.SecondsToExpr/secondsPerYear)
		}
	}
}

// AddZScores scores realized weighted range against the IV-implied expected
// range in standard deviations. Tickers without an IV sample get no score.
func (c *Context) AddZScores() {
	for _, t := range c.Tickers() {
		if !t.HasIV {
			continue
		}
		if t.Stdev != 0 {
			t.ZScore = (t.WeightedAvg - t.ExpectedRange) / t.Stdev
		}
		if t.StdevNoOutliers != 0 {
			t.ZScoreNoOutliers = (t.WeightedAvgNoOutliers - t.ExpectedRange) / t.StdevNoOutliers
		}
	}
}

// Top returns the ranked symbols, descending by outlier-adjusted z-score.
// Tickers lacking an IV sample are excluded. Ties keep ingestion order.
func (c *Context) Top() []string {
	var ranked []*Ticker
	for _, t := range c.Tickers() {
		if t.HasIV {
			ranked = append(ranked, t)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].ZScoreNoOutliers > ranked[j].ZScoreNoOutliers
	})
	symbols := make([]string, len(ranked))
	for i, t := range ranked {
		symbols[i] = t.Symbol
	}
	return symbols
}

// Rank runs the full derivation over what has been ingested and returns the
// ranked symbols.
func (c *Context) Rank() []string {
	c.RemoveOutliers()
	c.AddStatistics()
	c.AddWeightedAverages()
	c.AddExpectedRanges()
	c.AddZScores()
	return c.Top()
}

// ReportRow is the full statistics column set for one ranked ticker.
type ReportRow struct {
	Symbol                string  `json:"symbol"`
	IV                    float64 `json:"iv"`
	Volume                string  `json:"volume"`
	OpenInterest          string  `json:"open_interest"`
	SpreadScore           float64 `json:"spread_score"`
	Avg                   float64 `json:"avg"`
	Stdev                 float64 `json:"stdev"`
	AvgNoOutliers         float64 `json:"avg_no_outliers"`
	StdevNoOutliers       float64 `json:"stdev_no_outliers"`
	WeightedAvg           float64 `json:"weighted_avg"`
	WeightedAvgNoOutliers float64 `json:"weighted_avg_no_outliers"`
	ExpectedRange         float64 `json:"expected_range"`
	ZScore                float64 `json:"z_score"`
	ZScoreNoOutliers      float64 `json:"z_score_no_outliers"`
}

// Report renders the derived statistics in ranked order. Call after Rank.
func (c *Context) Report() []ReportRow {
	symbols := c.Top()
	rows := make([]ReportRow, 0, len(symbols))
	for _, symbol := range symbols {
		t := c.tickers[symbol]
		rows = append(rows, ReportRow{
			Symbol:                t.Symbol,
			IV:                    t.IV,
			Volume:                t.Volume,
			OpenInterest:          t.OpenInterest,
			SpreadScore:           t.SpreadScore,
			Avg:                   t.Avg,
			Stdev:                 t.Stdev,
			AvgNoOutliers:         t.AvgNoOutliers,
			StdevNoOutliers:       t.StdevNoOutliers,
			WeightedAvg:           t.WeightedAvg,
			WeightedAvgNoOutliers: t.WeightedAvgNoOutliers,
			ExpectedRange:         t.ExpectedRange,
			ZScore:                t.ZScore,
			ZScoreNoOutliers:      t.ZScoreNoOutliers,
		})
	}
	return rows
}
