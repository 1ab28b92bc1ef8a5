package selector

import (
	"context"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/stamford_condor/internal/broker"
	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/eddiefleurent/stamford_condor/internal/util"
)

// Liquidity constants shared by the strangle validations.
const (
	// maxBidAskRatio bounds (ask - bid) / (ask + padding).
	maxBidAskRatio = 0.112
	askPadding     = 0.10
	// maxCostRatio bounds the asymmetry between the two legs' total cost.
	maxCostRatio = 0.112
)

// StrangleLeg is one selected strangle buy leg. Price is the ask padded by
// the configured slack ticks, biasing toward a complete fill.
type StrangleLeg struct {
	Strike   float64
	Price    float64
	Bid      float64
	Mark     float64
	Ticks    util.Ticks
	Quantity float64
}

// StranglePlay is a derived strangle candidate: one call and one put leg,
// each bought independently.
type StranglePlay struct {
	Ticker string
	Expr   string
	Call   StrangleLeg
	Put    StrangleLeg
}

// StrangleConfig carries the strangle selection parameters.
type StrangleConfig struct {
	Multiplier float64
	MaxBid     float64
	Slack      float64
	MaxPlays   int
}

// StrangleSelector scans ranked tickers for the best strangle play.
type StrangleSelector struct {
	broker broker.Broker
	logger *logrus.Logger
	cfg    StrangleConfig
}

// NewStrangleSelector creates a StrangleSelector.
func NewStrangleSelector(b broker.Broker, logger *logrus.Logger, cfg StrangleConfig) *StrangleSelector {
	if cfg.MaxPlays == 0 {
		cfg.MaxPlays = 50
	}
	return &StrangleSelector{broker: b, logger: logger, cfg: cfg}
}

// Select walks the ranked tickers and returns the first candidate passing
// the liquidity validations, with per-leg quantities sized to the bid
// budget. The skip callback filters tickers already holding a position.
func (s *StrangleSelector) Select(ctx context.Context, expr string,
	tickers []string, skip func(ticker string) (bool, error)) (*StranglePlay, error) {
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
		play, err := s.OptimalStrikes(ctx, ticker, expr)
		if err != nil {
			return nil, err
		}
		if play == nil || !s.Validate(play) {
			continue
		}
		play.Call.Quantity = math.Round(s.cfg.MaxBid / play.Call.Price)
		play.Put.Quantity = math.Round(s.cfg.MaxBid / play.Put.Price)
		if play.Call.Quantity <= 0 || play.Put.Quantity <= 0 {
			continue
		}
		return play, nil
	}
	return nil, nil
}

// OptimalStrikes scans the chain for the call minimizing strike + roi*mark
// and the put maximizing strike - roi*mark. Returns nil when either side has
// no candidate.
func (s *StrangleSelector) OptimalStrikes(ctx context.Context, ticker, expr string) (*StranglePlay, error) {
	chain, err := s.broker.GetOptionChain(ctx, ticker, expr)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, nil
	}

	roi := (1 + s.cfg.Multiplier/100) * 2

	play := &StranglePlay{Ticker: ticker, Expr: expr}
	bestCall := math.MaxFloat64
	bestPut := 0.0
	haveCall, havePut := false, false

	for _, row := range chain {
		if row.Incomplete {
			s.logger.Warnf("optimal strikes: bad chain row - %s $%.2f", ticker, row.Strike)
			continue
		}

		price := util.RoundToCents(row.Ask + s.cfg.Slack*row.Ticks.Increment(row.Ask))
		leg := StrangleLeg{
			Strike: row.Strike,
			Price:  price,
			Bid:    row.Bid,
			Mark:   row.Mark,
			Ticks:  row.Ticks,
		}

		switch row.Type {
		case models.Call:
			if target := row.Strike + roi*row.Mark; target < bestCall {
				bestCall = target
				play.Call = leg
				haveCall = true
			}
		case models.Put:
			if target := row.Strike - roi*row.Mark; target > bestPut {
				bestPut = target
				play.Put = leg
				havePut = true
			}
		}
	}

	if !haveCall || !havePut {
		return nil, nil
	}
	return play, nil
}

// Validate applies the bid budget, per-leg spread, and cross-leg cost
// symmetry checks.
func (s *StrangleSelector) Validate(p *StranglePlay) bool {
	return p.Call.Price <= s.cfg.MaxBid &&
		p.Put.Price <= s.cfg.MaxBid &&
		validBidAskRatio(p.Call.Bid, p.Call.Price) &&
		validBidAskRatio(p.Put.Bid, p.Put.Price) &&
		s.validCostRatio(p.Call.Price, p.Put.Price)
}

func validBidAskRatio(bid, ask float64) bool {
	return (ask-bid)/(ask+askPadding) <= maxBidAskRatio
}

// validCostRatio requires the total spent on each leg, at the sized
// quantities, to be within the asymmetry bound of one another.
func (s *StrangleSelector) validCostRatio(callAsk, putAsk float64) bool {
	totalCall := math.Round(s.cfg.MaxBid/callAsk) * callAsk
	totalPut := math.Round(s.cfg.MaxBid/putAsk) * putAsk
	costMax := math.Max(totalCall, totalPut)
	costMin := math.Min(totalCall, totalPut)
	if costMax == 0 {
		return false
	}
	return 1-costMin/costMax <= maxCostRatio
}
