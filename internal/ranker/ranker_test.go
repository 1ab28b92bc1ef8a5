package ranker

import (
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// aggregate rows: ticker, timestamp, open, high, low, close, vwap.
const aaplAggregate = "AAPL\t1000\t100\t105.0\t100\t102\t100\n" +
	"AAPL\t2000\t100\t105.2\t100\t102\t100\n" +
	"AAPL\t3000\t100\t140.0\t100\t102\t100\n"

// IV rows: ticker, iv, volume, open interest, seconds-to-expr, spread score.
const aaplIV = "AAPL\t20.0%\t1200\t3400\t432000\t0.031\n"

func ingest(t *testing.T, ctx *Context, aggregate, ivs string, exprThisWeek bool) {
	t.Helper()
	universe := map[string]bool{"AAPL": true, "MSFT": true}
	require.NoError(t, ctx.IngestAggregate(strings.NewReader(aggregate), universe, exprThisWeek))
	if ivs != "" {
		require.NoError(t, ctx.IngestIVs(strings.NewReader(ivs)))
	}
}

func TestOutlierRejectionExcludesFarSample(t *testing.T) {
	ctx := NewContext(testLogger(), []float64{1, 1, 1})
	ingest(t, ctx, aaplAggregate, aaplIV, true)

	ranked := ctx.Rank()
	require.Equal(t, []string{"AAPL"}, ranked)

	aapl := ctx.Get("AAPL")
	require.NotNil(t, aapl)
	assert.Equal(t, []bool{true, true, false}, aapl.Kept)
	assert.InDelta(t, 5.1, aapl.AvgNoOutliers, 1e-9)
	assert.InDelta(t, 5.1, aapl.WeightedAvgNoOutliers, 1e-9)
	// The full set still carries the outlier.
	assert.InDelta(t, (5.0+5.2+40.0)/3, aapl.Avg, 1e-9)
}

func TestZeroMADKeepsAllSamples(t *testing.T) {
	kept := rejectOutliers([]Sample{
		{Timestamp: 1, Range: 5},
		{Timestamp: 2, Range: 5},
		{Timestamp: 3, Range: 5},
	}, ConsistencyConstant)
	assert.Equal(t, []bool{true, true, true}, kept)
}

func TestSingleSampleTickerIsDropped(t *testing.T) {
	ctx := NewContext(testLogger(), nil)
	ingest(t, ctx, "AAPL\t1000\t100\t105\t100\t102\t100\n", aaplIV, true)

	assert.Empty(t, ctx.Rank())
	assert.Nil(t, ctx.Get("AAPL"))
}

func TestPrevCloseBridgesOpenWeek(t *testing.T) {
	// Second row's high (103) is below the previous close (107): with the
	// expiration in a later week the close bridges in and widens the range.
	aggregate := "AAPL\t1000\t100\t105\t100\t107\t100\n" +
		"AAPL\t2000\t100\t103\t100\t102\t100\n"

	bridged := NewContext(testLogger(), nil)
	ingest(t, bridged, aggregate, "", false)
	assert.InDelta(t, 7.0, bridged.Get("AAPL").Samples[1].Range, 1e-9)

	sameWeek := NewContext(testLogger(), nil)
	ingest(t, sameWeek, aggregate, "", true)
	assert.InDelta(t, 3.0, sameWeek.Get("AAPL").Samples[1].Range, 1e-9)
}

func TestBridgingDoesNotCrossTickers(t *testing.T) {
	aggregate := "AAPL\t1000\t100\t105\t100\t200\t100\n" +
		"MSFT\t1000\t100\t103\t100\t102\t100\n"
	ctx := NewContext(testLogger(), nil)
	ingest(t, ctx, aggregate, "", false)
	assert.InDelta(t, 3.0, ctx.Get("MSFT").Samples[0].Range, 1e-9)
}

func TestMalformedAggregateRowsAreSkipped(t *testing.T) {
	aggregate := "AAPL\t1000\t100\t105\t100\t102\t100\n" +
		"AAPL\tnot-a-number\t100\t105\t100\t102\t100\n" +
		"AAPL\t3000\t100\tgarbage\t100\t102\t100\n" +
		"AAPL\t4000\t100\t106\t100\t102\t100\n"
	ctx := NewContext(testLogger(), nil)
	ingest(t, ctx, aggregate, "", true)
	require.NotNil(t, ctx.Get("AAPL"))
	assert.Len(t, ctx.Get("AAPL").Samples, 2)
}

func TestTickersOutsideUniverseIgnored(t *testing.T) {
	ctx := NewContext(testLogger(), nil)
	require.NoError(t, ctx.IngestAggregate(
		strings.NewReader("TSLA\t1000\t100\t105\t100\t102\t100\n"),
		map[string]bool{"AAPL": true}, true))
	assert.Nil(t, ctx.Get("TSLA"))
}

func TestNoIVMeansNoRanking(t *testing.T) {
	aggregate := aaplAggregate +
		"MSFT\t1000\t100\t104\t100\t102\t100\n" +
		"MSFT\t2000\t100\t106\t100\t102\t100\n"
	ctx := NewContext(testLogger(), []float64{1, 1, 1})
	ingest(t, ctx, aggregate, aaplIV, true)

	// MSFT has samples but no IV row: excluded from the ranking while its
	// statistics still exist.
	assert.Equal(t, []string{"AAPL"}, ctx.Rank())
	assert.NotNil(t, ctx.Get("MSFT"))
}

func TestRankingIsDeterministicAndDescending(t *testing.T) {
	aggregate := "AAPL\t1000\t100\t105.0\t100\t102\t100\n" +
		"AAPL\t2000\t100\t105.2\t100\t102\t100\n" +
		"MSFT\t1000\t100\t110.0\t100\t102\t100\n" +
		"MSFT\t2000\t100\t110.4\t100\t102\t100\n"
	ivs := "AAPL\t20.0%\t1\t1\t432000\t0.03\n" +
		"MSFT\t20.0%\t1\t1\t432000\t0.03\n"

	var prev []string
	for i := 0; i < 5; i++ {
		ctx := NewContext(testLogger(), []float64{1, 1})
		ingest(t, ctx, aggregate, ivs, true)
		ranked := ctx.Rank()
		require.Len(t, ranked, 2)
		if prev != nil {
			assert.Equal(t, prev, ranked)
		}
		prev = ranked
	}
	// MSFT's realized range clears the same expected range by more standard
	// deviations.
	assert.Equal(t, "MSFT", prev[0])
}

func TestExpectedRangeFormula(t *testing.T) {
	ctx := NewContext(testLogger(), []float64{1, 1, 1})
	ingest(t, ctx, aaplAggregate, aaplIV, true)
	ctx.Rank()

	// 2 * 20 * sqrt(432000 / (365*86400))
	assert.InDelta(t, 4.6816, ctx.Get("AAPL").ExpectedRange, 1e-3)
}

func TestDefaultRangeWeightsFavorRecency(t *testing.T) {
	require.Len(t, DefaultRangeWeights, 13)
	assert.Equal(t, 81.0, DefaultRangeWeights[0])
	assert.Equal(t, 441.0, DefaultRangeWeights[12])
}

func TestReportCarriesStatisticsInRankedOrder(t *testing.T) {
	aggregate := "AAPL\t1000\t100\t105.0\t100\t102\t100\n" +
		"AAPL\t2000\t100\t105.2\t100\t102\t100\n" +
		"MSFT\t1000\t100\t110.0\t100\t102\t100\n" +
		"MSFT\t2000\t100\t110.4\t100\t102\t100\n"
	ivs := "AAPL\t20.0%\t1200\t3400\t432000\t0.03\n" +
		"MSFT\t20.0%\t900\t2100\t432000\t0.03\n"
	ctx := NewContext(testLogger(), []float64{1, 1})
	ingest(t, ctx, aggregate, ivs, true)
	ctx.Rank()

	rows := ctx.Report()
	require.Len(t, rows, 2)
	assert.Equal(t, "MSFT", rows[0].Symbol)
	assert.Equal(t, "AAPL", rows[1].Symbol)

	msft := rows[0]
	assert.Equal(t, 20.0, msft.IV)
	assert.Equal(t, "900", msft.Volume)
	assert.Equal(t, "2100", msft.OpenInterest)
	assert.InDelta(t, 0.03, msft.SpreadScore, 1e-9)
	assert.InDelta(t, 10.2, msft.Avg, 1e-9)
	assert.InDelta(t, ctx.Get("MSFT").ZScoreNoOutliers, msft.ZScoreNoOutliers, 1e-9)
}

func TestReadTickerList(t *testing.T) {
	tickers, err := ReadTickerList(strings.NewReader("AAPL\nMSFT\n\nTSLA\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT", "TSLA"}, tickers)
}
