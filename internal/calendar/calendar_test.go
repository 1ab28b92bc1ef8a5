package calendar

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
	"github.com/eddiefleurent/stamford_condor/internal/storage"
)

// sessionHours serves a synthetic week: Mon 2026-08-31 through Fri
// 2026-09-04 open 13:30-20:00 UTC, everything else closed.
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
	day, _ := time.Parse(ISODate, isoDate)
	return &broker.MarketHours{
		IsOpen:   true,
		OpensAt:  day.Add(13*time.Hour + 30*time.Minute),
		ClosesAt: day.Add(20 * time.Hour),
	}
}

func newTestCalendar(t *testing.T, mock *broker.MockBroker) *Calendar {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cal := New(mock, store, logger, "AAPL", "SPY")
	// Wednesday mid-session.
	cal.WithNow(func() time.Time {
		return time.Date(2026, 9, 2, 15, 0, 0, 0, time.UTC)
	})
	return cal
}

func hoursMock() *broker.MockBroker {
	return &broker.MockBroker{
		GetMarketHoursFunc: func(ctx context.Context, isoDate string) (*broker.MarketHours, error) {
			return sessionHours(isoDate), nil
		},
	}
}

func TestMarketSecondsInDay(t *testing.T) {
	cal := newTestCalendar(t, hoursMock())

	open, err := cal.MarketSecondsInDay(context.Background(), "2026-09-02")
	require.NoError(t, err)
	assert.Equal(t, NormalDailyMarketSeconds, open)

	closed, err := cal.MarketSecondsInDay(context.Background(), "2026-09-05")
	require.NoError(t, err)
	assert.Equal(t, 0, closed)
}

func TestMarketSecondsBetween(t *testing.T) {
	cal := newTestCalendar(t, hoursMock())
	ctx := context.Background()

	// From Wednesday 15:00 (1.5h after open) to Friday close: the rest of
	// Wednesday plus two full sessions.
	from := time.Date(2026, 9, 2, 15, 0, 0, 0, time.UTC)
	to := time.Date(2026, 9, 4, 20, 0, 0, 0, time.UTC)
	got, err := cal.MarketSecondsBetween(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, 18000+2*NormalDailyMarketSeconds, got)

	// Reversed range is zero, not negative.
	got, err = cal.MarketSecondsBetween(ctx, to, from)
	require.NoError(t, err)
	assert.Equal(t, 0, got)

	// Weekend-only range contributes nothing.
	got, err = cal.MarketSecondsBetween(ctx,
		time.Date(2026, 9, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 9, 6, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, got)
}

func TestMarketSecondsUntilExprSpansClosedDays(t *testing.T) {
	cal := newTestCalendar(t, hoursMock())

	// Monday open to Friday close is five full sessions regardless of the
	// weekend before it.
	from := time.Date(2026, 8, 31, 13, 30, 0, 0, time.UTC)
	got, err := cal.MarketSecondsUntilExpr(context.Background(), "2026-09-04", from)
	require.NoError(t, err)
	assert.Equal(t, 5*NormalDailyMarketSeconds, got)
}

func TestRemainingMarketSecondsRoundTrip(t *testing.T) {
	cal := newTestCalendar(t, hoursMock())
	ctx := context.Background()

	// One full session of market seconds before Friday close lands exactly
	// on Friday open.
	at, err := cal.TimeUntilExprFromMarketSeconds(ctx, NormalDailyMarketSeconds, "2026-09-04")
	require.NoError(t, err)
	assert.True(t, at.Equal(time.Date(2026, 9, 4, 13, 30, 0, 0, time.UTC)), "got %s", at)

	// A session and a half lands mid-Thursday.
	at, err = cal.TimeUntilExprFromMarketSeconds(ctx, NormalDailyMarketSeconds*3/2, "2026-09-04")
	require.NoError(t, err)
	assert.True(t, at.Equal(time.Date(2026, 9, 3, 16, 45, 0, 0, time.UTC)), "got %s", at)
}

func TestEjectSecondsAdjustedOutsideBufferUntouched(t *testing.T) {
	cal := newTestCalendar(t, hoursMock())

	// An hour before close is well outside a 3 minute buffer.
	adjusted, err := cal.EjectSecondsAdjusted(context.Background(), 3600, "2026-09-04", 3)
	require.NoError(t, err)
	assert.Equal(t, 3601, adjusted)
}

func TestEjectSecondsAdjustedPushesOutOfBuffer(t *testing.T) {
	cal := newTestCalendar(t, hoursMock())
	ctx := context.Background()

	// Computed eject 2 minutes before close with a 3 minute buffer moves to
	// 3 minutes before close, plus the guard second.
	adjusted, err := cal.EjectSecondsAdjusted(ctx, 120, "2026-09-04", 3)
	require.NoError(t, err)
	assert.Equal(t, 181, adjusted)

	at, err := cal.TimeUntilExprFromMarketSeconds(ctx, adjusted, "2026-09-04")
	require.NoError(t, err)
	closesAt := time.Date(2026, 9, 4, 20, 0, 0, 0, time.UTC)
	assert.True(t, at.Equal(closesAt.Add(-181*time.Second)), "got %s", at)
}

func TestMarketDaysUntil(t *testing.T) {
	cal := newTestCalendar(t, hoursMock())

	// Wednesday to Friday: Wednesday and Thursday are counted, Friday is
	// excluded.
	days, err := cal.MarketDaysUntil(context.Background(), "2026-09-04")
	require.NoError(t, err)
	assert.Equal(t, 2, days)
}

func TestExpirationsAreCached(t *testing.T) {
	calls := 0
	mock := hoursMock()
	mock.GetExpirationsFunc = func(ctx context.Context, ticker string) ([]string, error) {
		calls++
		return []string{"2026-09-04", "2026-09-11", "2026-09-18", "2026-09-25"}, nil
	}
	cal := newTestCalendar(t, mock)
	ctx := context.Background()

	first, err := cal.AllUnexpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-09-04", "2026-09-11", "2026-09-18", "2026-09-25"}, first)

	_, err = cal.AllUnexpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	current, err := cal.CurrentExpr(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-09-04", current)
	next, err := cal.NextExpr(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-09-11", next)

	monthly, err := cal.CurrentMonthlyExpr(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-09-18", monthly)
}

func TestExpireCurrentDropsToday(t *testing.T) {
	mock := hoursMock()
	mock.GetExpirationsFunc = func(ctx context.Context, ticker string) ([]string, error) {
		return []string{"2026-09-02", "2026-09-04"}, nil
	}
	cal := newTestCalendar(t, mock)
	ctx := context.Background()

	current, err := cal.CurrentExpr(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-09-02", current)

	require.NoError(t, cal.ExpireCurrent())
	current, err = cal.CurrentExpr(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-09-04", current)
}

func TestIsExtraShortWeek(t *testing.T) {
	// Monday and Thursday holidays leave three sessions in the expiration
	// week, below the four-session threshold.
	mock := &broker.MockBroker{
		GetMarketHoursFunc: func(ctx context.Context, isoDate string) (*broker.MarketHours, error) {
			if isoDate == "2026-08-31" || isoDate == "2026-09-03" {
				return &broker.MarketHours{IsOpen: false}, nil
			}
			return sessionHours(isoDate), nil
		},
	}
	cal := newTestCalendar(t, mock)

	short, err := cal.IsExtraShortWeek(context.Background(), "2026-09-04")
	require.NoError(t, err)
	assert.True(t, short)

	normal := newTestCalendar(t, hoursMock())
	short, err = normal.IsExtraShortWeek(context.Background(), "2026-09-04")
	require.NoError(t, err)
	assert.False(t, short)
}

func TestWeekOfMonth(t *testing.T) {
	week, err := WeekOfMonth("2026-09-01")
	require.NoError(t, err)
	assert.Equal(t, 1, week)

	week, err = WeekOfMonth("2026-09-07")
	require.NoError(t, err)
	assert.Equal(t, 2, week)

	week, err = WeekOfMonth("2026-09-30")
	require.NoError(t, err)
	assert.Equal(t, 5, week)
}
