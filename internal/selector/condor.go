// Package selector picks the strike pairs for a candidate play from an
// option-chain snapshot, subject to collateral, liquidity, and cost-symmetry
// constraints.
package selector

import (
	"context"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/stamford_condor/internal/broker"
	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/eddiefleurent/stamford_condor/internal/util"
)

// CondorLeg is one selected condor leg with the quotes it was chosen on.
type CondorLeg struct {
	Strike float64
	Ask    float64
	Bid    float64
	Mark   float64
}

// CondorSide is the buy/sell pair on one side of a condor.
type CondorSide struct {
	Buy    CondorLeg
	Sell   CondorLeg
	Credit float64
}

// CondorPlay is a fully derived condor candidate ready for sizing and
// submission.
type CondorPlay struct {
	Ticker string
	Expr   string
	Call   CondorSide
	Put    CondorSide
	Ticks  util.Ticks

	Collateral            float64
	Credit                float64
	CreditCollateralRatio float64
	CreditWithSlack       float64
	CreditWithSlackRatio  float64

	MultiplierBuy  float64
	MultiplierSell float64
	Quantity       float64
}

// Legs renders the play as the four spread legs of an opening credit order.
func (p *CondorPlay) Legs() []models.Leg {
	return []models.Leg{
		{Expr: p.Expr, OptionType: models.Call, Strike: p.Call.Sell.Strike, Side: "sell", Effect: "open"},
		{Expr: p.Expr, OptionType: models.Call, Strike: p.Call.Buy.Strike, Side: "buy", Effect: "open"},
		{Expr: p.Expr, OptionType: models.Put, Strike: p.Put.Sell.Strike, Side: "sell", Effect: "open"},
		{Expr: p.Expr, OptionType: models.Put, Strike: p.Put.Buy.Strike, Side: "buy", Effect: "open"},
	}
}

// CloseLegs renders the play's closing debit spread.
func (p *CondorPlay) CloseLegs() []models.Leg {
	return []models.Leg{
		{Expr: p.Expr, OptionType: models.Call, Strike: p.Call.Sell.Strike, Side: "buy", Effect: "close"},
		{Expr: p.Expr, OptionType: models.Call, Strike: p.Call.Buy.Strike, Side: "sell", Effect: "close"},
		{Expr: p.Expr, OptionType: models.Put, Strike: p.Put.Sell.Strike, Side: "buy", Effect: "close"},
		{Expr: p.Expr, OptionType: models.Put, Strike: p.Put.Buy.Strike, Side: "sell", Effect: "close"},
	}
}

// CondorConfig carries the condor selection parameters.
type CondorConfig struct {
	MultiplierBuy            float64
	MultiplierSell           float64
	MaxCollateral            float64
	MinCreditCollateralRatio float64
	MaxQuantity              float64
	MaxPlays                 int
}

// CondorSelector scans ranked tickers for the best condor play.
type CondorSelector struct {
	broker broker.Broker
	logger *logrus.Logger
	cfg    CondorConfig
}

// NewCondorSelector creates a CondorSelector.
func NewCondorSelector(b broker.Broker, logger *logrus.Logger, cfg CondorConfig) *CondorSelector {
	if cfg.MaxPlays == 0 {
		cfg.MaxPlays = 100
	}
	return &CondorSelector{broker: b, logger: logger, cfg: cfg}
}

// Select walks the ranked tickers and returns the first candidate that
// survives validation and sizing. The skip callback filters tickers that
// already hold a position. In dry-run mode validation and sizing are
// reported but never enforced, and no play is returned.
func (s *CondorSelector) Select(ctx context.Context, expr string, slack float64,
	tickers []string, skip func(ticker string) (bool, error), dryRun bool) (*CondorPlay, error) {
	if len(tickers) > s.cfg.MaxPlays {
		tickers = tickers[:s.cfg.MaxPlays]
	}
	for _, ticker := range tickers {
		if skip != nil {
			held, err := skip(ticker)
			if err != nil {
				return nil, err
			}
			if held {
				continue
			}
		}
		play, err := s.OptimalStrikes(ctx, ticker, expr, slack)
		if err != nil {
			return nil, err
		}
		if play == nil {
			continue
		}
		if !dryRun && !s.Validate(play) {
			continue
		}
		play.Quantity = math.Min(s.cfg.MaxQuantity, math.Floor(s.cfg.MaxCollateral/play.Collateral))
		if play.Quantity <= 0 {
			continue
		}
		if dryRun {
			s.logger.Infof("dry run: %s %s credit %.2f collateral %.2f ratio %.1f%%",
				ticker, expr, play.Credit, play.Collateral, play.CreditCollateralRatio)
			continue
		}
		return play, nil
	}
	return nil, nil
}

// OptimalStrikes scans the chain for the strike pair per side optimizing the
// target-ROI breakeven, then derives credit, collateral, and ratios. Returns
// nil when the chain cannot produce a four-leg play.
func (s *CondorSelector) OptimalStrikes(ctx context.Context, ticker, expr string, slack float64) (*CondorPlay, error) {
	chain, err := s.broker.GetOptionChain(ctx, ticker, expr)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, nil
	}

	roiBuy := (1 + s.cfg.MultiplierBuy/100) * 2
	roiSell := (1 + s.cfg.MultiplierSell/100) * 2

	play := &CondorPlay{
		Ticker:         ticker,
		Expr:           expr,
		MultiplierBuy:  s.cfg.MultiplierBuy,
		MultiplierSell: s.cfg.MultiplierSell,
	}

	bestCallBuy, bestCallSell := math.MaxFloat64, math.MaxFloat64
	bestPutBuy, bestPutSell := 0.0, 0.0
	haveCallBuy, haveCallSell, havePutBuy, havePutSell := false, false, false, false

	var strikes []float64
	quotes := map[models.OptionType]map[float64]CondorLeg{
		models.Call: {},
		models.Put:  {},
	}

	for _, row := range chain {
		if row.Incomplete {
			s.logger.Warnf("optimal strikes: bad chain row - %s $%.2f", ticker, row.Strike)
			continue
		}
		leg := CondorLeg{Strike: row.Strike, Ask: row.Ask, Bid: row.Bid, Mark: row.Mark}
		if _, seen := quotes[row.Type][row.Strike]; !seen {
			if _, other := quotes[otherType(row.Type)][row.Strike]; !other {
				strikes = append(strikes, row.Strike)
			}
		}
		quotes[row.Type][row.Strike] = leg
		play.Ticks = row.Ticks

		switch row.Type {
		case models.Call:
			if target := row.Strike + roiBuy*row.Mark; target < bestCallBuy {
				bestCallBuy = target
				play.Call.Buy = leg
				haveCallBuy = true
			}
			if target := row.Strike + roiSell*row.Mark; target < bestCallSell {
				bestCallSell = target
				play.Call.Sell = leg
				haveCallSell = true
			}
		case models.Put:
			if target := row.Strike - roiBuy*row.Mark; target > bestPutBuy {
				bestPutBuy = target
				play.Put.Buy = leg
				havePutBuy = true
			}
			if target := row.Strike - roiSell*row.Mark; target > bestPutSell {
				bestPutSell = target
				play.Put.Sell = leg
				havePutSell = true
			}
		}
	}

	if !haveCallBuy || !haveCallSell || !havePutBuy || !havePutSell {
		return nil, nil
	}

	sort.Float64s(strikes)

	// Coarse chains can collapse buy and sell onto one strike; push the
	// buy leg one rung further out, or give up at the ladder's end.
	if play.Call.Buy.Strike == play.Call.Sell.Strike {
		i := indexOf(strikes, play.Call.Buy.Strike)
		if i < 0 || i == len(strikes)-1 {
			s.logger.Warnf("%s call leg: sell target is highest strike", ticker)
			return nil, nil
		}
		shifted, ok := quotes[models.Call][strikes[i+1]]
		if !ok {
			s.logger.Warnf("%s call leg: no call quote at shifted strike %.2f", ticker, strikes[i+1])
			return nil, nil
		}
		play.Call.Buy = shifted
	}
	if play.Put.Buy.Strike == play.Put.Sell.Strike {
		i := indexOf(strikes, play.Put.Buy.Strike)
		if i <= 0 {
			s.logger.Warnf("%s put leg: sell target is lowest strike", ticker)
			return nil, nil
		}
		shifted, ok := quotes[models.Put][strikes[i-1]]
		if !ok {
			s.logger.Warnf("%s put leg: no put quote at shifted strike %.2f", ticker, strikes[i-1])
			return nil, nil
		}
		play.Put.Buy = shifted
	}

	play.Collateral = math.Max(
		play.Call.Buy.Strike-play.Call.Sell.Strike,
		play.Put.Sell.Strike-play.Put.Buy.Strike,
	)
	play.Call.Credit = util.RoundToCents(play.Call.Sell.Bid - play.Call.Buy.Ask)
	play.Put.Credit = util.RoundToCents(play.Put.Sell.Bid - play.Put.Buy.Ask)
	play.Credit = play.Call.Credit + play.Put.Credit
	play.CreditCollateralRatio = play.Credit / play.Collateral * 100
	play.CreditWithSlack = play.Credit - slack*play.Collateral/100
	play.CreditWithSlackRatio = play.CreditWithSlack / play.Collateral * 100

	return play, nil
}

// Validate applies the collateral cap and the credit/collateral floor.
func (s *CondorSelector) Validate(p *CondorPlay) bool {
	return p.Collateral <= s.cfg.MaxCollateral &&
		p.CreditCollateralRatio >= s.cfg.MinCreditCollateralRatio
}

func otherType(t models.OptionType) models.OptionType {
	if t == models.Call {
		return models.Put
	}
	return models.Call
}

func indexOf(sorted []float64, v float64) int {
	for i, s := range sorted {
		if s == v {
			return i
		}
	}
	return -1
}

