package pipeline

import (
	"context"
	"fmt"

	"github.com/eddiefleurent/stamford_condor/internal/broker"
	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/eddiefleurent/stamford_condor/internal/notify"
	"github.com/eddiefleurent/stamford_condor/internal/retry"
	"github.com/eddiefleurent/stamford_condor/internal/selector"
	"github.com/eddiefleurent/stamford_condor/internal/util"
)

// BuyCondor opens one condor on the weekly lane.
func (p *Pipeline) BuyCondor(ctx context.Context, expr string) error {
	return p.buyCondor(ctx, expr, p.condorCfg, p.rank, p.timings.CondorFill)
}

// BuyDailyCondor opens one condor on the next daily expiration. The lane
// shares the buy machinery but gets its own parameters and a much shorter
// fill window.
func (p *Pipeline) BuyDailyCondor(ctx context.Context) error {
	expr, err := p.cal.NextExprDailies(ctx)
	if err != nil {
		return fmt.Errorf("daily condor buy: %w", err)
	}
	return p.buyCondor(ctx, expr, p.dailyCfg, p.dailyRank, p.timings.DailyFill)
}

// buyCondor walks the slack ladder: select at the current slack, submit the
// four-leg spread, and wait for a fill. An unfilled rung cancels and steps
// the slack, conceding more of the credit to get filled.
func (p *Pipeline) buyCondor(ctx context.Context, expr string, cfg CondorParams,
	rank RankFunc, fill retry.Config) error {
	tickers, err := rank(ctx, expr)
	if err != nil {
		return fmt.Errorf("condor buy %s: %w", expr, err)
	}
	sel := selector.NewCondorSelector(p.broker, p.logger, cfg.selectorConfig())

	for slack := cfg.BuySlack; slack <= 2; slack++ {
		play, err := sel.Select(ctx, expr, slack, tickers, func(ticker string) (bool, error) {
			_, held, err := p.condors.Get(ticker, expr)
			return held, err
		}, false)
		if err != nil {
			return fmt.Errorf("condor buy %s: %w", expr, err)
		}
		if play == nil {
			p.sink.Fatal(fmt.Sprintf("condor buy %s: could not find any plays", expr))
			return fmt.Errorf("condor buy %s: %w", expr, ErrNoPlays)
		}

		o, err := p.broker.SubmitSpreadOrder(ctx, broker.SpreadOrderRequest{
			Ticker:    play.Ticker,
			Legs:      play.Legs(),
			Direction: models.Credit,
			Price:     util.RoundToCents(play.CreditWithSlack),
			Quantity:  play.Quantity,
			TIF:       "gfd",
		})
		if err != nil || o == nil {
			p.sink.Fatal(fmt.Sprintf("condor buy %s %s: spread order not created", play.Ticker, expr))
			return fmt.Errorf("condor buy %s %s: submission failed: %w", play.Ticker, expr, err)
		}
		o.Ticks = play.Ticks
		if err := p.orders.Save(o); err != nil {
			return fmt.Errorf("condor buy %s: %w", expr, err)
		}

		if p.confirmFilled(ctx, o, fill) {
			return p.initCondor(ctx, expr, cfg, play, o)
		}

		if _, err := p.broker.CancelOrder(ctx, o.ID); err != nil {
			p.logger.Errorf("condor buy %s %s: cancelling unfilled %s: %v", play.Ticker, expr, o.ID, err)
		}
		p.logger.Infof("condor buy %s %s: not filled at slack %.0f, stepping", play.Ticker, expr, slack)
	}

	p.sink.Fatal(fmt.Sprintf("condor buy %s: slack ladder exhausted without a fill", expr))
	return fmt.Errorf("condor buy %s: slack ladder exhausted", expr)
}

func (p *Pipeline) initCondor(ctx context.Context, expr string, cfg CondorParams,
	play *selector.CondorPlay, o *models.Order) error {
	credit := 0.0
	if o.ProcessedQuantity > 0 {
		credit = util.RoundToCents(o.ProcessedPremium / o.ProcessedQuantity / 100)
	}
	enterPrice, err := p.broker.GetQuote(ctx, play.Ticker)
	if err != nil {
		p.logger.Warnf("condor buy %s %s: entry quote: %v", play.Ticker, expr, err)
	}

	c, err := p.condors.FindOrCreate(&models.Condor{
		Ticker:         play.Ticker,
		Expr:           expr,
		OID:            o.ID,
		Credit:         credit,
		Collateral:     play.Collateral,
		MultiplierBuy:  cfg.MultiplierBuy,
		MultiplierSell: cfg.MultiplierSell,
		TargetROI:      cfg.TargetROI,
		EnterPrice:     enterPrice,
	})
	if err != nil {
		return fmt.Errorf("condor buy %s %s: %w", play.Ticker, expr, err)
	}
	if err := p.condors.BuyFilled(c); err != nil {
		p.logger.Errorf("condor buy %s: %v", c.Key(), err)
		return nil
	}
	p.sink.Info(notify.CondorOpened(c))
	return nil
}

// SetSellLimits places the closing spread for every buy_filled condor at
// its target exit debit. Opened the following day to stay clear of
// pattern-day-trading rules.
func (p *Pipeline) SetSellLimits(ctx context.Context) error {
	condors, err := p.condors.ByState(models.CondorBuyFilled)
	if err != nil {
		return fmt.Errorf("condor sell limits: %w", err)
	}
	for _, c := range condors {
		buyO, err := p.getOrder(ctx, c.OID)
		if err != nil {
			p.logger.Warnf("condor sell limits %s: %v", c.Key(), err)
			continue
		}
		o, err := p.broker.SubmitSpreadOrder(ctx, broker.SpreadOrderRequest{
			Ticker:    c.Ticker,
			Legs:      closingLegs(buyO),
			Direction: models.Debit,
			Price:     util.RoundToCents(c.TargetExitPrice()),
			Quantity:  buyO.ProcessedQuantity,
			TIF:       "gtc",
		})
		if err != nil || o == nil {
			p.logger.Errorf("condor sell limits %s: close spread not created: %v", c.Key(), err)
			continue
		}
		o.Ticks = buyO.Ticks
		if err := p.orders.Save(o); err != nil {
			return fmt.Errorf("condor sell limits %s: %w", c.Key(), err)
		}
		c.SellOID = o.ID
		if err := p.condors.Save(c); err != nil {
			return fmt.Errorf("condor sell limits %s: %w", c.Key(), err)
		}
		if err := p.condors.SellConfirmed(c); err != nil {
			p.logger.Errorf("condor sell limits %s: %v", c.Key(), err)
		}
	}
	return nil
}

// CloseCondors settles every sell_confirmed condor: a filled closing spread
// closes the position; on expiration day an unfilled one walks its price up
// from the live eject quote until it fills or collateral is reached, at
// which point the position closes as a total loss.
func (p *Pipeline) CloseCondors(ctx context.Context) error {
	condors, err := p.condors.ByState(models.CondorSellConfirmed)
	if err != nil {
		return fmt.Errorf("condor close: %w", err)
	}
	for _, c := range condors {
		unlock := p.locks.lock(c.Key())
		err := p.closeCondor(ctx, c)
		unlock()
		if err != nil {
			p.logger.Errorf("condor close %s: %v", c.Key(), err)
		}
	}
	return nil
}

func (p *Pipeline) closeCondor(ctx context.Context, c *models.Condor) error {
	sellO, err := p.getOrder(ctx, c.SellOID)
	if err != nil {
		return err
	}
	if err := p.syncOrder(ctx, sellO); err != nil {
		return err
	}
	if sellO.IsFilled() {
		return p.closeCondorOut(c, sellO.ActualPrice())
	}
	if c.Expr != p.cal.Today() {
		return nil
	}

	buyO, err := p.getOrder(ctx, c.OID)
	if err != nil {
		return err
	}
	start, err := p.condorEjectPrice(ctx, c, buyO)
	if err != nil {
		p.logger.Warnf("condor close %s: eject quote unavailable, retrying next cycle: %v", c.Key(), err)
		return nil
	}

	for price := util.RoundToCents(start - p.condorCfg.SellSlack/100); price < c.Collateral; price = util.RoundToCents(price + 0.01) {
		cancelled, err := p.broker.CancelOrder(ctx, c.SellOID)
		if err != nil || !cancelled {
			p.logger.Warnf("condor close %s: failed to cancel %s, skipping: %v", c.Key(), c.SellOID, err)
			break
		}
		o, err := p.broker.SubmitSpreadOrder(ctx, broker.SpreadOrderRequest{
			Ticker:    c.Ticker,
			Legs:      closingLegs(buyO),
			Direction: models.Debit,
			Price:     price,
			Quantity:  buyO.ProcessedQuantity,
			TIF:       "gfd",
		})
		if err != nil || o == nil {
			p.logger.Warnf("condor close %s: re-quote at %.2f not created: %v", c.Key(), price, err)
			continue
		}
		o.Ticks = buyO.Ticks
		if err := p.orders.Save(o); err != nil {
			return err
		}
		c.SellOID = o.ID
		if err := p.condors.Save(c); err != nil {
			return err
		}
		if p.confirmFilled(ctx, o, p.timings.EjectFill) {
			return p.closeCondorOut(c, o.ActualPrice())
		}
	}

	if c.State != models.CondorClosed {
		c.TotalLoss = true
		if err := p.condors.Close(c); err != nil {
			return err
		}
		p.sink.Info(notify.CondorClosed(c, 0))
	}
	return nil
}

func (p *Pipeline) closeCondorOut(c *models.Condor, debit float64) error {
	if err := p.condors.Close(c); err != nil {
		return err
	}
	p.sink.Info(notify.CondorClosed(c, debit))
	return nil
}

// condorEjectPrice marks the closing spread to market: sum the bids of the
// legs being sold back and subtract the asks of those being bought back,
// capped at collateral.
func (p *Pipeline) condorEjectPrice(ctx context.Context, c *models.Condor, buyO *models.Order) (float64, error) {
	price := 0.0
	for _, leg := range buyO.Legs {
		chain, err := p.broker.GetOptionChainByStrike(ctx, c.Ticker, c.Expr, leg.Strike)
		if err != nil {
			return 0, err
		}
		row := broker.ChainRowFor(chain, leg.OptionType, leg.Strike)
		if row == nil {
			return 0, fmt.Errorf("no quote for %s $%.2f %s", c.Ticker, leg.Strike, leg.OptionType)
		}
		switch leg.Side {
		case "sell":
			price += row.Bid
		case "buy":
			price -= row.Ask
		}
	}
	if price > c.Collateral {
		price = c.Collateral
	}
	return util.RoundToCents(price), nil
}

// closingLegs flips an opening spread into its closing counterpart.
func closingLegs(o *models.Order) []models.Leg {
	legs := make([]models.Leg, len(o.Legs))
	for i, l := range o.Legs {
		side := "buy"
		if l.Side == "buy" {
			side = "sell"
		}
		legs[i] = models.Leg{
			Expr:       l.Expr,
			OptionType: l.OptionType,
			Strike:     l.Strike,
			Side:       side,
			Effect:     "close",
		}
	}
	return legs
}
