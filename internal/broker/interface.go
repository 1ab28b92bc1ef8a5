// Package broker defines the brokerage contract the trading engine consumes
// and the HTTP client implementing it.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/eddiefleurent/stamford_condor/internal/util"
)

// APIError is a transport-level failure from the brokerage. Business-logic
// "no" answers (not filled yet, no order created) are returned as nil values
// without an error, so callers can tell the two apart.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("brokerage API error (status %d): %s", e.Status, e.Message)
}

// IsPermanentAPIError reports whether the error is a 4xx (except 429) that
// retrying will not fix.
func IsPermanentAPIError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != 429
	}
	return false
}

// ChainRow is one option-chain entry for a ticker+expiration.
type ChainRow struct {
	Type   models.OptionType `json:"type"`
	Strike float64           `json:"strike_price"`
	Bid    float64           `json:"bid_price"`
	Ask    float64           `json:"ask_price"`
	Mark   float64           `json:"mark_price"`
	Ticks  util.Ticks        `json:"min_ticks"`
	// Incomplete marks a row whose numeric fields could not be parsed.
	// Consumers log and skip these instead of failing the scan.
	Incomplete bool `json:"-"`
}

// MarketHours is the session schedule for one calendar date.
type MarketHours struct {
	IsOpen   bool      `json:"is_open"`
	OpensAt  time.Time `json:"opens_at"`
	ClosesAt time.Time `json:"closes_at"`
}

// LegOrderRequest submits one single-leg limit order.
type LegOrderRequest struct {
	Ticker     string
	Expr       string
	OptionType models.OptionType
	Strike     float64
	Price      float64
	Quantity   float64
	Direction  models.Direction
	Effect     string // open | close
	TIF        string // gfd | gtc
}

// SpreadOrderRequest submits a multi-leg spread as one order.
type SpreadOrderRequest struct {
	Ticker    string
	Legs      []models.Leg
	Direction models.Direction
	Price     float64
	Quantity  float64
	TIF       string
}

// Broker is the brokerage contract. A nil order with a nil error means the
// brokerage declined without a transport failure.
type Broker interface {
	SubmitLegOrder(ctx context.Context, req LegOrderRequest) (*models.Order, error)
	SubmitSpreadOrder(ctx context.Context, req SpreadOrderRequest) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	GetOptionChain(ctx context.Context, ticker, expr string) ([]ChainRow, error)
	GetOptionChainByStrike(ctx context.Context, ticker, expr string, strike float64) ([]ChainRow, error)
	GetQuote(ctx context.Context, ticker string) (float64, error)
	GetMarketHours(ctx context.Context, isoDate string) (*MarketHours, error)
	GetExpirations(ctx context.Context, ticker string) ([]string, error)
}

// ChainRowFor returns the chain row matching a type at a strike, or nil.
func ChainRowFor(rows []ChainRow, optionType models.OptionType, strike float64) *ChainRow {
	for i := range rows {
		if rows[i].Type == optionType && !rows[i].Incomplete &&
			rows[i].Strike > strike-1e-4 && rows[i].Strike < strike+1e-4 {
			return &rows[i]
		}
	}
	return nil
}
