package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/eddiefleurent/stamford_condor/internal/notify"
)

// PublishWeekResults sends the end-of-week summary for positions that
// closed on today's expiration. Runs after the close on expiration days
// only.
func (p *Pipeline) PublishWeekResults(ctx context.Context) error {
	isExpr, err := p.cal.IsTodayAnExprDate(ctx)
	if err != nil {
		return fmt.Errorf("week results: %w", err)
	}
	if !isExpr {
		return nil
	}
	expr := p.cal.Today()

	var lines []string
	var net float64

	strangles, err := p.strangles.ByState(models.StrangleClosed)
	if err != nil {
		return fmt.Errorf("week results: %w", err)
	}
	for _, s := range strangles {
		if s.Expr != expr {
			continue
		}
		pos, err := p.loadStranglePosition(ctx, s)
		if err != nil {
			p.logger.Warnf("week results %s: %v", s.Key(), err)
			continue
		}
		debit := pos.buyCall.ProcessedPremium + pos.buyPut.ProcessedPremium
		credit := models.SellProcessedPremium(pos.sellCalls) + models.SellProcessedPremium(pos.sellPuts)
		profit := credit - debit
		net += profit
		lines = append(lines, fmt.Sprintf("strangle %s %s: $%+.2f", s.Ticker, s.Result, profit))
	}

	condors, err := p.condors.ByState(models.CondorClosed)
	if err != nil {
		return fmt.Errorf("week results: %w", err)
	}
	for _, c := range condors {
		if c.Expr != expr {
			continue
		}
		profit, err := p.condorProfit(ctx, c)
		if err != nil {
			p.logger.Warnf("week results %s: %v", c.Key(), err)
			continue
		}
		net += profit
		label := "condor"
		if c.TotalLoss {
			label = "condor total-loss"
		}
		lines = append(lines, fmt.Sprintf("%s %s: $%+.2f", label, c.Ticker, profit))
	}

	p.sink.Info(notify.WeekResults(expr, lines, net))
	return nil
}

// condorProfit is collected premium minus what the close paid back; a
// total loss gives back the full collateral instead.
func (p *Pipeline) condorProfit(ctx context.Context, c *models.Condor) (float64, error) {
	buyO, err := p.getOrder(ctx, c.OID)
	if err != nil {
		return 0, err
	}
	if c.TotalLoss {
		return buyO.ProcessedPremium - c.Collateral*buyO.ProcessedQuantity*100, nil
	}
	if c.SellOID == "" {
		return buyO.ProcessedPremium, nil
	}
	sellO, err := p.getOrder(ctx, c.SellOID)
	if err != nil {
		return 0, err
	}
	return buyO.ProcessedPremium - sellO.ProcessedPremium, nil
}

// LogActivePositions writes a status line per open position, nearest
// strangle eject deadline first.
func (p *Pipeline) LogActivePositions(ctx context.Context) error {
	active, err := p.strangles.ByState(models.StrangleActive)
	if err != nil {
		return fmt.Errorf("active positions: %w", err)
	}
	for _, s := range active {
		if s.EjectAt, err = p.cal.TimeUntilExprFromMarketSeconds(ctx, s.EjectSecToExpr, s.Expr); err != nil {
			return fmt.Errorf("active positions: %w", err)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].EjectAt.Before(active[j].EjectAt)
	})
	for _, s := range active {
		p.logger.Infof("active strangle %s, ejects at %s", s.Key(), s.EjectAt.Format("2006-01-02 15:04"))
	}

	for _, state := range []models.CondorState{models.CondorBuyFilled, models.CondorSellConfirmed} {
		condors, err := p.condors.ByState(state)
		if err != nil {
			return fmt.Errorf("active positions: %w", err)
		}
		for _, c := range condors {
			p.logger.Infof("condor %s %s, credit $%.2f on $%.2f collateral", c.Key(), state, c.Credit, c.Collateral)
		}
	}
	return nil
}
