package scheduler

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/stamford_condor/internal/broker"
	"github.com/eddiefleurent/stamford_condor/internal/calendar"
	"github.com/eddiefleurent/stamford_condor/internal/storage"
)

// sessionHours serves a synthetic week: Mon 2026-08-31 through Fri
// 2026-09-04 open 13:30-20:00 UTC.
func sessionHours(isoDate string) *broker.MarketHours {
	openDays := map[string]bool{
		"2026-08-31": true,
		"2026-09-01": true,
		"2026-09-02": true,
		"2026-09-03": true,
		"2026-09-04": true,
	}
	if !openDays[isoDate] {
		return &broker.MarketHours{IsOpen: false}
	}
	day, _ := time.Parse(calendar.ISODate, isoDate)
	return &broker.MarketHours{
		IsOpen:   true,
		OpensAt:  day.Add(13*time.Hour + 30*time.Minute),
		ClosesAt: day.Add(20 * time.Hour),
	}
}

func newTestCalendar(t *testing.T, now time.Time) *calendar.Calendar {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	mock := &broker.MockBroker{
		GetMarketHoursFunc: func(ctx context.Context, isoDate string) (*broker.MarketHours, error) {
			return sessionHours(isoDate), nil
		},
		GetExpirationsFunc: func(ctx context.Context, ticker string) ([]string, error) {
			return []string{"2026-09-02", "2026-09-03", "2026-09-04"}, nil
		},
	}
	cal := calendar.New(mock, store, logger, "AAPL", "SPY")
	cal.WithNow(func() time.Time { return now })
	return cal
}

func TestTakeSnapshotMidSession(t *testing.T) {
	// Wednesday 15:00 UTC, 90 market minutes after open.
	cal := newTestCalendar(t, time.Date(2026, 9, 2, 15, 0, 0, 0, time.UTC))

	snap, err := TakeSnapshot(context.Background(), cal)
	require.NoError(t, err)

	assert.True(t, snap.OpenNow)
	assert.Equal(t, 90, snap.MinutesElapsed)
	assert.Equal(t, 300, snap.MinutesRemaining)
	assert.Equal(t, 0, snap.MinutesAfterClose)
	assert.Equal(t, 0, snap.MinutesBeforeOpen)
	// Rest of Wednesday plus all of Thursday, the next daily expiration.
	assert.Equal(t, 690, snap.MinutesToNextDailyClose)
}

func TestTakeSnapshotAfterClose(t *testing.T) {
	// Wednesday 20:10 UTC, ten minutes past the close.
	cal := newTestCalendar(t, time.Date(2026, 9, 2, 20, 10, 0, 0, time.UTC))

	snap, err := TakeSnapshot(context.Background(), cal)
	require.NoError(t, err)

	assert.False(t, snap.OpenNow)
	assert.Equal(t, 10, snap.MinutesAfterClose)
	assert.Equal(t, 0, snap.MinutesRemaining)
}

func TestTakeSnapshotClosedDay(t *testing.T) {
	// Saturday: every counter stays -1 and nothing can match.
	cal := newTestCalendar(t, time.Date(2026, 9, 5, 15, 0, 0, 0, time.UTC))

	snap, err := TakeSnapshot(context.Background(), cal)
	require.NoError(t, err)

	assert.False(t, snap.OpenNow)
	assert.Equal(t, -1, snap.MinutesElapsed)
	assert.Equal(t, -1, snap.MinutesToNextDailyClose)
	assert.Empty(t, Due(DefaultJobs(), snap))
}

func TestDueMatchesExactMinuteOnly(t *testing.T) {
	jobs := []Job{
		{Module: "strangler", Action: "buy", BeforeClose: 6, Active: true},
		{Module: "strangler", Action: "open_sells", AfterOpen: 4, Active: true},
	}

	assert.Empty(t, Due(jobs, &Snapshot{MinutesRemaining: 7, MinutesElapsed: 3}))

	due := Due(jobs, &Snapshot{MinutesRemaining: 6, MinutesElapsed: 3})
	require.Len(t, due, 1)
	assert.Equal(t, "strangler.buy", due[0].Name())
}

func TestDueSkipsInactiveJobs(t *testing.T) {
	jobs := []Job{{Module: "iv", Action: "run", BeforeClose: 18}}
	assert.Empty(t, Due(jobs, &Snapshot{MinutesRemaining: 18}))
}

func TestDueKeepsTableOrder(t *testing.T) {
	jobs := []Job{
		{Module: "a", Action: "x", BeforeClose: 5, Active: true},
		{Module: "b", Action: "y", BeforeClose: 5, Active: true},
	}
	due := Due(jobs, &Snapshot{MinutesRemaining: 5})
	require.Len(t, due, 2)
	assert.Equal(t, "a.x", due[0].Name())
	assert.Equal(t, "b.y", due[1].Name())
}

func TestDueEveryRequiresOpenMarket(t *testing.T) {
	jobs := []Job{{Module: "strangler", Action: "log_active", Every: 60, Active: true}}

	assert.Len(t, Due(jobs, &Snapshot{OpenNow: true, MinutesElapsed: 120}), 1)
	assert.Empty(t, Due(jobs, &Snapshot{OpenNow: true, MinutesElapsed: 121}))
	assert.Empty(t, Due(jobs, &Snapshot{OpenNow: false, MinutesElapsed: 120}))
}

func TestDueBeforeExprDaily(t *testing.T) {
	jobs := []Job{{Module: "condorer_daily", Action: "buy", BeforeExprDaily: 391, Active: true}}
	assert.Len(t, Due(jobs, &Snapshot{MinutesToNextDailyClose: 391}), 1)
	assert.Empty(t, Due(jobs, &Snapshot{MinutesToNextDailyClose: -1}))
}
