package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/eddiefleurent/stamford_condor/internal/broker"
	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/eddiefleurent/stamford_condor/internal/notify"
	"github.com/eddiefleurent/stamford_condor/internal/retry"
	"github.com/eddiefleurent/stamford_condor/internal/util"
)

// stranglePosition is one strangle with its orders freshly synced.
type stranglePosition struct {
	s               *models.Strangle
	buyCall, buyPut *models.Order
	sellCalls       []*models.Order
	sellPuts        []*models.Order
}

func (pos *stranglePosition) sells(side models.OptionType) []*models.Order {
	if side == models.Call {
		return pos.sellCalls
	}
	return pos.sellPuts
}

func (pos *stranglePosition) mostRecentSell(side models.OptionType) *models.Order {
	s := pos.sells(side)
	if len(s) == 0 {
		return nil
	}
	return s[len(s)-1]
}

func (pos *stranglePosition) sideFilled(side models.OptionType) bool {
	if side == models.Call {
		return models.SellSideFilled(pos.buyCall, pos.sellCalls)
	}
	return models.SellSideFilled(pos.buyPut, pos.sellPuts)
}

func (pos *stranglePosition) allSellsFilled() bool {
	return pos.sideFilled(models.Call) && pos.sideFilled(models.Put)
}

func (p *Pipeline) loadStranglePosition(ctx context.Context, s *models.Strangle) (*stranglePosition, error) {
	pos := &stranglePosition{s: s}

	var err error
	if pos.buyCall, err = p.getOrder(ctx, s.BuyCallOID); err != nil {
		return nil, fmt.Errorf("strangle %s: %w", s.Key(), err)
	}
	if pos.buyPut, err = p.getOrder(ctx, s.BuyPutOID); err != nil {
		return nil, fmt.Errorf("strangle %s: %w", s.Key(), err)
	}

	for _, side := range []models.OptionType{models.Call, models.Put} {
		oids, err := p.strangles.SellOIDs(s, side)
		if err != nil {
			return nil, fmt.Errorf("strangle %s: %w", s.Key(), err)
		}
		for _, oid := range oids {
			o, err := p.getOrder(ctx, oid)
			if err != nil {
				return nil, fmt.Errorf("strangle %s: %w", s.Key(), err)
			}
			if err := p.syncOrder(ctx, o); err != nil {
				return nil, err
			}
			if side == models.Call {
				pos.sellCalls = append(pos.sellCalls, o)
			} else {
				pos.sellPuts = append(pos.sellPuts, o)
			}
		}
	}
	return pos, nil
}

// CloseStrangle runs one close cycle for a position under its advisory
// lock. A winning side ejects the other immediately; past the eject
// deadline both sides eject. Either way the close only commits once every
// sell is confirmed filled.
func (p *Pipeline) CloseStrangle(ctx context.Context, s *models.Strangle) error {
	unlock := p.locks.lock(s.Key())
	defer unlock()

	pos, err := p.loadStranglePosition(ctx, s)
	if err != nil {
		return err
	}

	handled, err := p.closeIfFilled(ctx, pos)
	if err != nil {
		return err
	}
	if handled {
		if p.confirmSellsFilled(ctx, s) {
			return p.closeOut(ctx, s, models.ResultFilled)
		}
		return nil
	}

	ejectAt, err := p.cal.TimeUntilExprFromMarketSeconds(ctx, s.EjectSecToExpr, s.Expr)
	if err != nil {
		return fmt.Errorf("strangle %s: eject deadline: %w", s.Key(), err)
	}
	s.EjectAt = ejectAt
	if p.cal.Now().After(ejectAt) {
		if err := p.ejectSide(ctx, pos, models.Call); err != nil {
			p.logger.Errorf("strangle %s: ejecting call side: %v", s.Key(), err)
		}
		if err := p.ejectSide(ctx, pos, models.Put); err != nil {
			p.logger.Errorf("strangle %s: ejecting put side: %v", s.Key(), err)
		}
		if p.confirmSellsFilled(ctx, s) {
			return p.closeOut(ctx, s, models.ResultEjected)
		}
	}
	return nil
}

// closeIfFilled reports whether one side already won. Both sides filling at
// their limits is possible but vanishingly rare; a single winner ejects the
// loser at the bid.
func (p *Pipeline) closeIfFilled(ctx context.Context, pos *stranglePosition) (bool, error) {
	callFilled := pos.sideFilled(models.Call)
	putFilled := pos.sideFilled(models.Put)
	switch {
	case callFilled && putFilled:
		return true, nil
	case callFilled:
		return true, p.ejectSide(ctx, pos, models.Put)
	case putFilled:
		return true, p.ejectSide(ctx, pos, models.Call)
	}
	return false, nil
}

func (p *Pipeline) ejectSide(ctx context.Context, pos *stranglePosition, side models.OptionType) error {
	o := pos.mostRecentSell(side)
	if o == nil {
		p.logger.Warnf("strangle %s: no %s sell to eject", pos.s.Key(), side)
		return nil
	}
	return p.eject(ctx, pos.s, o, side)
}

// eject cancels a working sell and re-quotes it at the live bid shaved by
// slack, floored at the below tick. A sell already quoting the below tick
// has nowhere lower to go and is left alone.
func (p *Pipeline) eject(ctx context.Context, s *models.Strangle, o *models.Order, side models.OptionType) error {
	if o.Price == o.Ticks.BelowTick {
		return nil
	}
	cancelled, err := p.broker.CancelOrder(ctx, o.ID)
	if err != nil || !cancelled {
		p.logger.Warnf("strangle %s: failed to cancel %s, skipping eject: %v", s.Key(), o.ID, err)
		return nil
	}
	if err := p.syncOrder(ctx, o); err != nil {
		p.logger.Warnf("strangle %s: syncing cancelled sell %s: %v", s.Key(), o.ID, err)
	}

	chain, err := p.broker.GetOptionChainByStrike(ctx, o.Ticker, o.Expr(), o.Strike())
	if err != nil {
		return fmt.Errorf("eject quote for %s: %w", o.HumanID(), err)
	}
	row := broker.ChainRowFor(chain, o.OptionType(), o.Strike())
	if row == nil {
		return fmt.Errorf("eject quote for %s: no chain row", o.HumanID())
	}

	quantity := o.Quantity - o.ProcessedQuantity
	if quantity <= 0 {
		return nil
	}
	price := util.RoundToCents(math.Max(row.Ticks.BelowTick, row.Bid-p.strangleCfg.Slack*row.Ticks.BelowTick))

	sell, err := p.broker.SubmitLegOrder(ctx, broker.LegOrderRequest{
		Ticker:     o.Ticker,
		Expr:       o.Expr(),
		OptionType: o.OptionType(),
		Strike:     o.Strike(),
		Price:      price,
		Quantity:   quantity,
		Direction:  models.Credit,
		Effect:     "close",
		TIF:        "gtc",
	})
	if err != nil || sell == nil {
		return fmt.Errorf("eject sell for %s not created: %w", o.HumanID(), err)
	}
	sell.Ticks = row.Ticks
	if err := p.orders.Save(sell); err != nil {
		return err
	}
	p.logger.Infof("strangle %s: ejected %s at %.2f", s.Key(), o.HumanID(), price)
	return p.strangles.AppendSell(s, side, sell.ID, p.cal.Now())
}

func (p *Pipeline) confirmSellsFilled(ctx context.Context, s *models.Strangle) bool {
	err := retry.Poll(ctx, p.timings.CloseFill, func(ctx context.Context) (bool, error) {
		pos, err := p.loadStranglePosition(ctx, s)
		if err != nil {
			return false, err
		}
		return pos.allSellsFilled(), nil
	})
	if err != nil && !errors.Is(err, retry.ErrExhausted) {
		p.logger.Errorf("strangle %s: confirming sells: %v", s.Key(), err)
	}
	return err == nil
}

func (p *Pipeline) closeOut(ctx context.Context, s *models.Strangle, result models.StrangleResult) error {
	pos, err := p.loadStranglePosition(ctx, s)
	if err != nil {
		return err
	}
	if err := p.strangles.Close(s, result); err != nil {
		return err
	}
	if err := p.pending.Delete(s.Expr, s.Ticker); err != nil {
		p.logger.Warnf("strangle %s: dropping pending-sell cache: %v", s.Key(), err)
	}
	debit := pos.buyCall.ProcessedPremium + pos.buyPut.ProcessedPremium
	credit := models.SellProcessedPremium(pos.sellCalls) + models.SellProcessedPremium(pos.sellPuts)
	p.sink.Info(notify.StrangleClosed(s, debit, credit))
	return nil
}

// CloseActiveStrangles runs a close cycle over every active position,
// nearest eject deadline first. Per-position errors are logged so one bad
// position can not block the rest.
func (p *Pipeline) CloseActiveStrangles(ctx context.Context) error {
	active, err := p.strangles.ByState(models.StrangleActive)
	if err != nil {
		return fmt.Errorf("close strangles: %w", err)
	}
	for _, s := range active {
		if s.EjectAt, err = p.cal.TimeUntilExprFromMarketSeconds(ctx, s.EjectSecToExpr, s.Expr); err != nil {
			return fmt.Errorf("close strangles: %w", err)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].EjectAt.Before(active[j].EjectAt)
	})
	for _, s := range active {
		if err := p.CloseStrangle(ctx, s); err != nil {
			p.logger.Errorf("close strangle %s: %v", s.Key(), err)
		}
	}
	return nil
}
