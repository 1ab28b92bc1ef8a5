package pipeline

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/stamford_condor/internal/broker"
	"github.com/eddiefleurent/stamford_condor/internal/calendar"
	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/eddiefleurent/stamford_condor/internal/retry"
	"github.com/eddiefleurent/stamford_condor/internal/storage"
	"github.com/eddiefleurent/stamford_condor/internal/util"
)

var testTicks = util.Ticks{CutoffPrice: 3.0, AboveTick: 0.05, BelowTick: 0.01}

// weekdayHours opens every weekday 13:30-20:00 UTC.
func weekdayHours(isoDate string) *broker.MarketHours {
	day, err := time.Parse(calendar.ISODate, isoDate)
	if err != nil {
		return &broker.MarketHours{IsOpen: false}
	}
	if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		return &broker.MarketHours{IsOpen: false}
	}
	return &broker.MarketHours{
		IsOpen:   true,
		OpensAt:  day.Add(13*time.Hour + 30*time.Minute),
		ClosesAt: day.Add(20 * time.Hour),
	}
}

type recordingSink struct {
	infos  []string
	warns  []string
	fatals []string
}

func (s *recordingSink) Info(msg string)  { s.infos = append(s.infos, msg) }
func (s *recordingSink) Warn(msg string)  { s.warns = append(s.warns, msg) }
func (s *recordingSink) Fatal(msg string) { s.fatals = append(s.fatals, msg) }

type fixture struct {
	mock      *broker.MockBroker
	sink      *recordingSink
	orders    *storage.OrderRepo
	strangles *storage.StrangleRepo
	condors   *storage.CondorRepo
	pending   *storage.PendingSellCache
	cal       *calendar.Calendar
	pipe      *Pipeline

	// snaps backs GetOrder: tests mutate it to simulate fills.
	snaps map[string]*models.Order
}

func fastTimings() Timings {
	cfg := retry.Config{Attempts: 3, Delay: time.Millisecond}
	return Timings{Fill: cfg, Accept: cfg, CloseFill: cfg, CondorFill: cfg, DailyFill: cfg, EjectFill: cfg}
}

func newFixture(t *testing.T, mock *broker.MockBroker) *fixture {
	t.Helper()
	f := &fixture{mock: mock, sink: &recordingSink{}, snaps: make(map[string]*models.Order)}

	if mock.GetMarketHoursFunc == nil {
		mock.GetMarketHoursFunc = func(ctx context.Context, isoDate string) (*broker.MarketHours, error) {
			return weekdayHours(isoDate), nil
		}
	}
	if mock.GetExpirationsFunc == nil {
		mock.GetExpirationsFunc = func(ctx context.Context, ticker string) ([]string, error) {
			return []string{"2026-09-03", "2026-09-04", "2026-09-11"}, nil
		}
	}
	if mock.GetOrderFunc == nil {
		mock.GetOrderFunc = func(ctx context.Context, orderID string) (*models.Order, error) {
			if o, ok := f.snaps[orderID]; ok {
				return o, nil
			}
			return nil, fmt.Errorf("no snapshot scripted for %s", orderID)
		}
	}

	store, err := storage.NewStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f.cal = calendar.New(mock, store, logger, "AAPL", "SPY")
	// Wednesday mid-session.
	f.cal.WithNow(func() time.Time {
		return time.Date(2026, 9, 2, 15, 0, 0, 0, time.UTC)
	})

	f.orders = storage.NewOrderRepo(store)
	f.strangles = storage.NewStrangleRepo(store)
	f.condors = storage.NewCondorRepo(store)
	f.pending = storage.NewPendingSellCache(store)

	f.pipe = New(Deps{
		Broker:    mock,
		Calendar:  f.cal,
		Orders:    f.orders,
		Strangles: f.strangles,
		Condors:   f.condors,
		Pending:   f.pending,
		Sink:      f.sink,
		Logger:    logger,
		Rank: func(ctx context.Context, expr string) ([]string, error) {
			return []string{"AAPL"}, nil
		},
		DailyRank: func(ctx context.Context, expr string) ([]string, error) {
			return []string{"SPY"}, nil
		},
		Strangle: StrangleParams{
			ROIMultiplier:      30,
			StrikeMultiplier:   30,
			MaxBid:             3.0,
			Slack:              1,
			EjectTimeRatio:     0.5,
			MinutesBeforeClose: 30,
		},
		Condor: CondorParams{
			MultiplierBuy:            30,
			MultiplierSell:           10,
			MaxCollateral:            12,
			MinCreditCollateralRatio: 25,
			MaxQuantity:              5,
			TargetROI:                15,
			BuySlack:                 0,
			SellSlack:                5,
		},
		DailyCondor: CondorParams{
			MultiplierBuy:            30,
			MultiplierSell:           10,
			MaxCollateral:            6,
			MinCreditCollateralRatio: 20,
			MaxQuantity:              2,
			TargetROI:                15,
			BuySlack:                 0,
			SellSlack:                5,
		},
		Timings: fastTimings(),
	})
	return f
}

func filledSnap(id string, qty, premium float64) *models.Order {
	return &models.Order{
		ID:                id,
		State:             models.OrderFilled,
		ProcessedQuantity: qty,
		ProcessedPremium:  premium,
		UpdatedAt:         time.Date(2026, 9, 2, 15, 0, 0, 0, time.UTC),
	}
}

func workingSnap(id string) *models.Order {
	return &models.Order{
		ID:        id,
		State:     models.OrderConfirmed,
		UpdatedAt: time.Date(2026, 9, 2, 15, 0, 0, 0, time.UTC),
	}
}

func TestStrangleExprsHonorDTEWindow(t *testing.T) {
	mock := &broker.MockBroker{
		GetExpirationsFunc: func(ctx context.Context, ticker string) ([]string, error) {
			return []string{"2026-09-03", "2026-09-04", "2026-09-11", "2026-09-25"}, nil
		},
	}
	f := newFixture(t, mock)

	exprs, err := f.pipe.StrangleExprs(context.Background())
	require.NoError(t, err)
	// Thursday is 1 market day out, Friday 2, next Friday 7; the 25th at 17
	// market days falls outside the window.
	assert.Equal(t, []string{"2026-09-03", "2026-09-04", "2026-09-11"}, exprs)

	condorExprs, err := f.pipe.CondorExprs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-09-03", "2026-09-04"}, condorExprs)
}

func TestStrangleExprsStopAtExtraShortWeek(t *testing.T) {
	mock := &broker.MockBroker{
		GetExpirationsFunc: func(ctx context.Context, ticker string) ([]string, error) {
			return []string{"2026-09-04", "2026-09-11"}, nil
		},
		GetMarketHoursFunc: func(ctx context.Context, isoDate string) (*broker.MarketHours, error) {
			// The week of the 11th loses Monday through Wednesday.
			if isoDate >= "2026-09-07" && isoDate <= "2026-09-09" {
				return &broker.MarketHours{IsOpen: false}, nil
			}
			return weekdayHours(isoDate), nil
		},
	}
	f := newFixture(t, mock)

	exprs, err := f.pipe.StrangleExprs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-09-04"}, exprs)
}
