package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/stamford_condor/internal/broker"
	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/eddiefleurent/stamford_condor/internal/notify"
	"github.com/eddiefleurent/stamford_condor/internal/retry"
	"github.com/eddiefleurent/stamford_condor/internal/selector"
	"github.com/eddiefleurent/stamford_condor/internal/storage"
	"github.com/eddiefleurent/stamford_condor/internal/util"
)

// BuyStrangle selects and opens one strangle for the expiration. Both buy
// legs submit concurrently so the asks have less time to slide. Filled legs
// are cached for the open-sells stage on the next market day.
func (p *Pipeline) BuyStrangle(ctx context.Context, expr string) error {
	tickers, err := p.rank(ctx, expr)
	if err != nil {
		return fmt.Errorf("strangle buy %s: %w", expr, err)
	}

	sel := selector.NewStrangleSelector(p.broker, p.logger, selector.StrangleConfig{
		Multiplier: p.strangleCfg.StrikeMultiplier,
		MaxBid:     p.strangleCfg.MaxBid,
		Slack:      p.strangleCfg.Slack,
	})
	play, err := sel.Select(ctx, expr, tickers, func(ticker string) (bool, error) {
		_, held, err := p.strangles.Get(ticker, expr)
		return held, err
	})
	if err != nil {
		return fmt.Errorf("strangle buy %s: %w", expr, err)
	}
	if play == nil {
		p.sink.Fatal(fmt.Sprintf("strangle buy %s: could not find any plays", expr))
		return fmt.Errorf("strangle buy %s: %w", expr, ErrNoPlays)
	}

	var callOrd, putOrd *models.Order
	var callErr, putErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		callOrd, callErr = p.buyToOpen(gctx, play.Ticker, expr, models.Call, play.Call)
		return nil
	})
	g.Go(func() error {
		putOrd, putErr = p.buyToOpen(gctx, play.Ticker, expr, models.Put, play.Put)
		return nil
	})
	_ = g.Wait()

	if callOrd == nil && putOrd == nil {
		p.sink.Fatal(fmt.Sprintf("strangle buy %s %s: failed to create orders for both legs", play.Ticker, expr))
		return fmt.Errorf("strangle buy %s: both legs failed: %v / %v", expr, callErr, putErr)
	}
	if callOrd == nil || putOrd == nil {
		return p.handleOneLeggedOpen(ctx, play.Ticker, expr, callOrd, putOrd)
	}

	callFilled := p.confirmFilled(ctx, callOrd, p.timings.Fill)
	putFilled := p.confirmFilled(ctx, putOrd, p.timings.Fill)
	if callFilled && putFilled {
		if err := p.pending.Put(&storage.PendingSell{
			Ticker:  play.Ticker,
			Expr:    expr,
			CallOID: callOrd.ID,
			PutOID:  putOrd.ID,
		}); err != nil {
			return fmt.Errorf("strangle buy %s: caching filled legs: %w", expr, err)
		}
		debit := callOrd.ProcessedPremium + putOrd.ProcessedPremium
		p.sink.Info(notify.StrangleOpened(&models.Strangle{Ticker: play.Ticker, Expr: expr}, debit))
		return nil
	}
	return p.handleUnfilledOpen(ctx, play.Ticker, expr, callOrd, putOrd)
}

func (p *Pipeline) buyToOpen(ctx context.Context, ticker, expr string,
	optionType models.OptionType, leg selector.StrangleLeg) (*models.Order, error) {
	o, err := p.broker.SubmitLegOrder(ctx, broker.LegOrderRequest{
		Ticker:     ticker,
		Expr:       expr,
		OptionType: optionType,
		Strike:     leg.Strike,
		Price:      leg.Price,
		Quantity:   leg.Quantity,
		Direction:  models.Debit,
		Effect:     "open",
		TIF:        "gfd",
	})
	if err != nil || o == nil {
		return nil, err
	}
	o.Ticks = leg.Ticks
	if err := p.orders.Save(o); err != nil {
		return nil, err
	}
	return o, nil
}

// handleOneLeggedOpen cancels the leg that did open. A failed cancel or a
// fill on the open leg means capital moved on half a position: record a
// failed strangle for manual review.
func (p *Pipeline) handleOneLeggedOpen(ctx context.Context, ticker, expr string, callOrd, putOrd *models.Order) error {
	live := callOrd
	if live == nil {
		live = putOrd
	}

	cancelled, cancelErr := p.broker.CancelOrder(ctx, live.ID)
	if syncErr := p.syncOrder(ctx, live); syncErr != nil {
		p.logger.Errorf("strangle buy %s %s: syncing surviving leg: %v", ticker, expr, syncErr)
	}

	if cancelled && cancelErr == nil && live.NoContractsFilled() {
		p.sink.Fatal(fmt.Sprintf("strangle buy %s %s: one leg failed to open, other cancelled clean", ticker, expr))
		return fmt.Errorf("strangle buy %s %s: one-sided submission", ticker, expr)
	}

	s, err := p.strangles.FindOrCreate(ticker, expr, func() *models.Strangle {
		return &models.Strangle{BuyCallOID: orderID(callOrd), BuyPutOID: orderID(putOrd)}
	})
	if err == nil {
		err = p.strangles.Fail(s)
	}
	if err != nil {
		p.logger.Errorf("strangle buy %s %s: recording failed position: %v", ticker, expr, err)
	}
	p.sink.Fatal(fmt.Sprintf("strangle buy %s %s: one leg open with fills or failed cancel, marked failed", ticker, expr))
	return fmt.Errorf("strangle buy %s %s: one-sided position, manual review", ticker, expr)
}

// handleUnfilledOpen runs when confirmation timed out on at least one leg.
// With zero contracts filled both legs cancel and nothing opens; any fill or
// unconfirmed cancel leaves live exposure, so the position is recorded
// failed.
func (p *Pipeline) handleUnfilledOpen(ctx context.Context, ticker, expr string, callOrd, putOrd *models.Order) error {
	clean := callOrd.NoContractsFilled() && putOrd.NoContractsFilled()
	if clean {
		for _, o := range []*models.Order{callOrd, putOrd} {
			cancelled, cancelErr := p.broker.CancelOrder(ctx, o.ID)
			if syncErr := p.syncOrder(ctx, o); syncErr != nil {
				p.logger.Errorf("strangle buy %s %s: syncing %s after cancel: %v", ticker, expr, o.ID, syncErr)
			}
			if !cancelled || cancelErr != nil || !o.NoContractsFilled() {
				p.logger.Errorf("strangle buy %s %s: cancel of %s not confirmed: %v", ticker, expr, o.ID, cancelErr)
				clean = false
			}
		}
	}
	if clean {
		p.sink.Fatal(fmt.Sprintf("strangle buy %s %s: no contracts filled, cancelled both legs", ticker, expr))
		return fmt.Errorf("strangle buy %s %s: fill timeout", ticker, expr)
	}

	s, err := p.strangles.FindOrCreate(ticker, expr, func() *models.Strangle {
		return &models.Strangle{BuyCallOID: callOrd.ID, BuyPutOID: putOrd.ID}
	})
	if err == nil {
		err = p.strangles.Fail(s)
	}
	if err != nil {
		p.logger.Errorf("strangle buy %s %s: recording failed position: %v", ticker, expr, err)
	}
	p.sink.Fatal(fmt.Sprintf("strangle buy %s %s: fills or unconfirmed cancels on open, marked failed", ticker, expr))
	return fmt.Errorf("strangle buy %s %s: open not unwound clean, manual review", ticker, expr)
}

func orderID(o *models.Order) string {
	if o == nil {
		return ""
	}
	return o.ID
}

func (p *Pipeline) confirmFilled(ctx context.Context, o *models.Order, cfg retry.Config) bool {
	err := retry.Poll(ctx, cfg, func(ctx context.Context) (bool, error) {
		if err := p.syncOrder(ctx, o); err != nil {
			return false, err
		}
		return o.IsFilled(), nil
	})
	if err != nil && !errors.Is(err, retry.ErrExhausted) {
		p.logger.Errorf("confirming fill of %s: %v", o.ID, err)
	}
	return err == nil
}

func (p *Pipeline) confirmAccepted(ctx context.Context, o *models.Order) bool {
	err := retry.Poll(ctx, p.timings.Accept, func(ctx context.Context) (bool, error) {
		if err := p.syncOrder(ctx, o); err != nil {
			return false, err
		}
		return o.IsAccepted(), nil
	})
	if err != nil && !errors.Is(err, retry.ErrExhausted) {
		p.logger.Errorf("confirming acceptance of %s: %v", o.ID, err)
	}
	return err == nil
}

type pendingWork struct {
	entry       *storage.PendingSell
	call, put   *models.Order
	secondsLeft int
}

// OpenSells places sell orders for every cached filled buy pair, positions
// with the least market time to expiration first. The cache entry survives
// until the strangle closes, so a pair whose submission was never
// acknowledged is submitted again on the next run: placement is
// at-least-once, and a crash between submit and confirm can leave an extra
// working sell for manual cleanup.
func (p *Pipeline) OpenSells(ctx context.Context) error {
	entries, err := p.pending.All()
	if err != nil {
		return fmt.Errorf("open sells: %w", err)
	}

	var work []pendingWork
	for _, e := range entries {
		call, err := p.getOrder(ctx, e.CallOID)
		if err != nil {
			p.logger.Warnf("open sells %s %s: %v", e.Ticker, e.Expr, err)
			continue
		}
		put, err := p.getOrder(ctx, e.PutOID)
		if err != nil {
			p.logger.Warnf("open sells %s %s: %v", e.Ticker, e.Expr, err)
			continue
		}
		callLeft, err := p.cal.MarketSecondsUntilExpr(ctx, e.Expr, call.CreatedAt)
		if err != nil {
			return fmt.Errorf("open sells %s %s: %w", e.Ticker, e.Expr, err)
		}
		putLeft, err := p.cal.MarketSecondsUntilExpr(ctx, e.Expr, put.CreatedAt)
		if err != nil {
			return fmt.Errorf("open sells %s %s: %w", e.Ticker, e.Expr, err)
		}
		work = append(work, pendingWork{
			entry:       e,
			call:        call,
			put:         put,
			secondsLeft: min(callLeft, putLeft),
		})
	}
	sort.SliceStable(work, func(i, j int) bool {
		return work[i].secondsLeft < work[j].secondsLeft
	})

	for _, w := range work {
		if err := p.openSellPair(ctx, w); err != nil {
			p.logger.Errorf("open sells %s %s: %v", w.entry.Ticker, w.entry.Expr, err)
		}
	}
	return nil
}

func (p *Pipeline) openSellPair(ctx context.Context, w pendingWork) error {
	sellCall, err := p.sellToClose(ctx, w.call)
	if err != nil || sellCall == nil {
		return fmt.Errorf("call sell not created: %w", err)
	}
	sellPut, err := p.sellToClose(ctx, w.put)
	if err != nil || sellPut == nil {
		return fmt.Errorf("put sell not created: %w", err)
	}

	if !p.confirmAccepted(ctx, sellCall) || !p.confirmAccepted(ctx, sellPut) {
		return fmt.Errorf("sells not accepted by the brokerage")
	}

	s, err := p.strangles.FindOrCreate(w.entry.Ticker, w.entry.Expr, func() *models.Strangle {
		eject, err := p.ejectSeconds(ctx, w.entry.Expr, w.call, w.put)
		if err != nil {
			p.logger.Errorf("open sells %s %s: eject deadline: %v", w.entry.Ticker, w.entry.Expr, err)
		}
		return &models.Strangle{
			BuyCallOID:     w.call.ID,
			BuyPutOID:      w.put.ID,
			EjectSecToExpr: eject,
		}
	})
	if err != nil {
		return err
	}
	if err := p.strangles.AppendSell(s, models.Call, sellCall.ID, p.cal.Now()); err != nil {
		return err
	}
	if err := p.strangles.AppendSell(s, models.Put, sellPut.ID, p.cal.Now()); err != nil {
		return err
	}
	if s.State == models.StranglePending {
		return p.strangles.Activate(s)
	}
	return nil
}

// sellToClose prices one closing sell at the best of the target-ROI price,
// the live bid, and intrinsic value, snapped to the tick grid and lowered by
// the configured slack to bias toward a fill.
func (p *Pipeline) sellToClose(ctx context.Context, o *models.Order) (*models.Order, error) {
	price := p.multiplierSellPrice(o)
	price = math.Max(price, p.bidSellPrice(ctx, o))
	price = math.Max(price, p.intrinsicValue(ctx, o))

	price = o.Ticks.Snap(price) - p.strangleCfg.Slack*o.Ticks.Increment(price)
	price = util.RoundToCents(price)

	sell, err := p.broker.SubmitLegOrder(ctx, broker.LegOrderRequest{
		Ticker:     o.Ticker,
		Expr:       o.Expr(),
		OptionType: o.OptionType(),
		Strike:     o.Strike(),
		Price:      price,
		Quantity:   o.ProcessedQuantity,
		Direction:  models.Credit,
		Effect:     "close",
		TIF:        "gtc",
	})
	if err != nil || sell == nil {
		return nil, err
	}
	sell.Ticks = o.Ticks
	if err := p.orders.Save(sell); err != nil {
		return nil, err
	}
	return sell, nil
}

func (p *Pipeline) multiplierSellPrice(o *models.Order) float64 {
	if o.ProcessedQuantity <= 0 {
		return 0
	}
	return 2 * (1 + p.strangleCfg.ROIMultiplier/100) * o.ProcessedPremium / o.ProcessedQuantity / 100
}

// bidSellPrice reads the live bid at the leg's strike; the below tick is the
// floor when no quote comes back.
func (p *Pipeline) bidSellPrice(ctx context.Context, o *models.Order) float64 {
	chain, err := p.broker.GetOptionChainByStrike(ctx, o.Ticker, o.Expr(), o.Strike())
	if err != nil {
		p.logger.Warnf("bid price for %s: %v", o.HumanID(), err)
		return o.Ticks.BelowTick
	}
	row := broker.ChainRowFor(chain, o.OptionType(), o.Strike())
	if row == nil {
		return o.Ticks.BelowTick
	}
	return util.RoundToCents(row.Bid)
}

func (p *Pipeline) intrinsicValue(ctx context.Context, o *models.Order) float64 {
	quote, err := p.broker.GetQuote(ctx, o.Ticker)
	if err != nil || quote == 0 {
		if err != nil {
			p.logger.Warnf("intrinsic value for %s: %v", o.HumanID(), err)
		}
		return o.Ticks.BelowTick
	}
	if o.OptionType() == models.Call {
		return quote - o.Strike()
	}
	return o.Strike() - quote
}

func (p *Pipeline) ejectSeconds(ctx context.Context, expr string, callOrd, putOrd *models.Order) (int, error) {
	createdAt := callOrd.CreatedAt
	if putOrd.CreatedAt.Before(createdAt) {
		createdAt = putOrd.CreatedAt
	}
	seconds, err := p.cal.MarketSecondsUntilExpr(ctx, expr, createdAt)
	if err != nil {
		return 0, err
	}
	return p.cal.EjectSecondsAdjusted(ctx,
		int(float64(seconds)*p.strangleCfg.EjectTimeRatio), expr, p.strangleCfg.MinutesBeforeClose)
}
