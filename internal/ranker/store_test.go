package ranker

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/stamford_condor/internal/storage"
)

func testRankStore(t *testing.T) *Store {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	return NewStore(store)
}

func TestSaveRunRoundTripsRankingAndReport(t *testing.T) {
	s := testRankStore(t)
	rows := []ReportRow{{Symbol: "AAPL", IV: 20, ZScoreNoOutliers: 1.5}}
	require.NoError(t, s.SaveRun("2026-09-04", []string{"AAPL"}, rows, false))

	ranking, ok, err := s.Ranking("2026-09-04")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"AAPL"}, ranking.Symbols)
	assert.False(t, ranking.DailyLane)
	assert.False(t, ranking.RankedAt.IsZero())

	got, ok, err := s.Report("2026-09-04")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rows, got)

	latest, ok, err := s.LatestExpr()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2026-09-04", latest)
}

func TestLatestExprTracksMostRecentRun(t *testing.T) {
	s := testRankStore(t)
	require.NoError(t, s.SaveRun("2026-09-04", []string{"AAPL"}, nil, false))
	require.NoError(t, s.SaveRun("2026-09-03", []string{"SPY"}, nil, true))

	latest, ok, err := s.LatestExpr()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2026-09-03", latest)

	ranking, ok, err := s.Ranking("2026-09-03")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ranking.DailyLane)
}

func TestMissingRunsReportAbsent(t *testing.T) {
	s := testRankStore(t)

	_, ok, err := s.Ranking("2026-09-04")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.Report("2026-09-04")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.LatestExpr()
	require.NoError(t, err)
	assert.False(t, ok)
}
