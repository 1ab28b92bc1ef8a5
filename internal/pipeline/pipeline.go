// Package pipeline executes the trading lifecycles: strangle buy, sell
// placement, and close; condor buy, sell-limit placement, and close. Every
// stage is idempotent against storage so a crashed cycle can be re-run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/stamford_condor/internal/broker"
	"github.com/eddiefleurent/stamford_condor/internal/calendar"
	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/eddiefleurent/stamford_condor/internal/notify"
	"github.com/eddiefleurent/stamford_condor/internal/retry"
	"github.com/eddiefleurent/stamford_condor/internal/selector"
	"github.com/eddiefleurent/stamford_condor/internal/storage"
)

// ErrNoPlays means selection produced no candidate. The run aborts after a
// fatal alert; there is nothing to retry until quotes change.
var ErrNoPlays = errors.New("no plays found")

// RankFunc produces ranked tickers for an expiration, best first.
type RankFunc func(ctx context.Context, expr string) ([]string, error)

// Days-to-expiration windows each strategy opens positions in.
const (
	strangleDTEMin = 1
	strangleDTEMax = 9
	condorDTEMin   = 1
	condorDTEMax   = 6
)

// StrangleParams carries the strangle strategy knobs.
type StrangleParams struct {
	// ROIMultiplier sets the sell price target over collected premium.
	ROIMultiplier float64
	// StrikeMultiplier drives strike selection.
	StrikeMultiplier float64
	MaxBid           float64
	Slack            float64
	// EjectTimeRatio scales market-seconds-to-expiration into the eject
	// deadline.
	EjectTimeRatio float64
	// MinutesBeforeClose keeps the eject deadline out of the final minutes
	// of a session.
	MinutesBeforeClose int
}

// CondorParams carries one condor lane's knobs. The weekly and daily lanes
// hold separate instances.
type CondorParams struct {
	MultiplierBuy            float64
	MultiplierSell           float64
	MaxCollateral            float64
	MinCreditCollateralRatio float64
	MaxQuantity              float64
	TargetROI                float64
	BuySlack                 float64
	SellSlack                float64
}

func (p CondorParams) selectorConfig() selector.CondorConfig {
	return selector.CondorConfig{
		MultiplierBuy:            p.MultiplierBuy,
		MultiplierSell:           p.MultiplierSell,
		MaxCollateral:            p.MaxCollateral,
		MinCreditCollateralRatio: p.MinCreditCollateralRatio,
		MaxQuantity:              p.MaxQuantity,
	}
}

// Timings are the confirmation polling loops. Tests shrink them.
type Timings struct {
	// Fill waits for a strangle buy leg to fill.
	Fill retry.Config
	// Accept waits for a freshly placed sell to be working.
	Accept retry.Config
	// CloseFill waits for ejected sells to fill near the deadline.
	CloseFill retry.Config
	// CondorFill waits for the opening spread, one slack rung.
	CondorFill retry.Config
	// DailyFill is CondorFill for the daily lane, which has far less time.
	DailyFill retry.Config
	// EjectFill waits for one rung of the condor eject price walk.
	EjectFill retry.Config
}

// DefaultTimings mirrors the brokerage's fill latencies.
func DefaultTimings() Timings {
	return Timings{
		Fill:       retry.Config{Attempts: 5, Delay: 10 * time.Second, DelayFirst: true},
		Accept:     retry.Config{Attempts: 5, Delay: 10 * time.Second, DelayFirst: true},
		CloseFill:  retry.Config{Attempts: 19, Delay: 3 * time.Second, DelayFirst: true},
		CondorFill: retry.Config{Attempts: 100, Delay: 10 * time.Second, DelayFirst: true},
		DailyFill:  retry.Config{Attempts: 10, Delay: 10 * time.Second, DelayFirst: true},
		EjectFill:  retry.Config{Attempts: 5, Delay: 10 * time.Second, DelayFirst: true},
	}
}

// Deps wires a Pipeline.
type Deps struct {
	Broker    broker.Broker
	Calendar  *calendar.Calendar
	Orders    *storage.OrderRepo
	Strangles *storage.StrangleRepo
	Condors   *storage.CondorRepo
	Pending   *storage.PendingSellCache
	Sink      notify.Sink
	Logger    *logrus.Logger
	Rank      RankFunc
	// DailyRank feeds the daily-expiration condor lane, typically a fixed
	// index ticker.
	DailyRank RankFunc

	Strangle    StrangleParams
	Condor      CondorParams
	DailyCondor CondorParams
	Timings     Timings
}

// Pipeline executes the strategy lifecycles against one broker and store.
type Pipeline struct {
	broker    broker.Broker
	cal       *calendar.Calendar
	orders    *storage.OrderRepo
	strangles *storage.StrangleRepo
	condors   *storage.CondorRepo
	pending   *storage.PendingSellCache
	sink      notify.Sink
	logger    *logrus.Logger
	rank      RankFunc
	dailyRank RankFunc

	strangleCfg StrangleParams
	condorCfg   CondorParams
	dailyCfg    CondorParams
	timings     Timings

	locks keyLocks
}

// New creates a Pipeline. Zero Timings fall back to the defaults.
func New(d Deps) *Pipeline {
	if d.Timings.Fill.Attempts == 0 {
		d.Timings = DefaultTimings()
	}
	return &Pipeline{
		broker:      d.Broker,
		cal:         d.Calendar,
		orders:      d.Orders,
		strangles:   d.Strangles,
		condors:     d.Condors,
		pending:     d.Pending,
		sink:        d.Sink,
		logger:      d.Logger,
		rank:        d.Rank,
		dailyRank:   d.DailyRank,
		strangleCfg: d.Strangle,
		condorCfg:   d.Condor,
		dailyCfg:    d.DailyCondor,
		timings:     d.Timings,
	}
}

// StrangleExprs returns the unexpired expirations inside the strangle DTE
// window. An extra-short week ends the scan: holiday weeks distort the
// range statistics the strategy prices on.
func (p *Pipeline) StrangleExprs(ctx context.Context) ([]string, error) {
	exprs, err := p.cal.AllUnexpired(ctx)
	if err != nil {
		return nil, err
	}
	var res []string
	for _, expr := range exprs {
		days, err := p.cal.MarketDaysUntil(ctx, expr)
		if err != nil {
			return nil, err
		}
		if days < strangleDTEMin {
			continue
		}
		if days > strangleDTEMax {
			break
		}
		short, err := p.cal.IsExtraShortWeek(ctx, expr)
		if err != nil {
			return nil, err
		}
		if short {
			break
		}
		res = append(res, expr)
	}
	return res, nil
}

// CondorExprs returns the unexpired expirations inside the condor DTE
// window.
func (p *Pipeline) CondorExprs(ctx context.Context) ([]string, error) {
	exprs, err := p.cal.AllUnexpired(ctx)
	if err != nil {
		return nil, err
	}
	var res []string
	for _, expr := range exprs {
		days, err := p.cal.MarketDaysUntil(ctx, expr)
		if err != nil {
			return nil, err
		}
		if days < condorDTEMin {
			continue
		}
		if days > condorDTEMax {
			break
		}
		res = append(res, expr)
	}
	return res, nil
}

// getOrder loads an order from storage, falling back to the brokerage for
// IDs placed outside this process.
func (p *Pipeline) getOrder(ctx context.Context, id string) (*models.Order, error) {
	if id == "" {
		return nil, fmt.Errorf("empty order ID")
	}
	o, ok, err := p.orders.Get(id)
	if err != nil {
		return nil, err
	}
	if ok {
		return o, nil
	}
	o, err = p.broker.GetOrder(ctx, id)
	if err != nil || o == nil {
		return nil, fmt.Errorf("order %s not found: %w", id, err)
	}
	if err := p.orders.Save(o); err != nil {
		return nil, err
	}
	return o, nil
}

// syncOrder refreshes a non-terminal order from the brokerage and persists
// the snapshot.
func (p *Pipeline) syncOrder(ctx context.Context, o *models.Order) error {
	if o.State.IsTerminal() {
		return nil
	}
	snap, err := p.broker.GetOrder(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("sync order %s: %w", o.ID, err)
	}
	if snap == nil {
		return fmt.Errorf("sync order %s: brokerage returned nothing", o.ID)
	}
	if err := o.ApplySnapshot(snap); err != nil {
		return err
	}
	return p.orders.Save(o)
}
