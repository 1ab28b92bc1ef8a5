package models

import "time"

// CondorState is the index-backed lifecycle state of a condor.
type CondorState string

const (
	// CondorUnfilled means the opening spread order is working.
	CondorUnfilled CondorState = "unfilled"
	// CondorBuyFilled means the opening spread filled.
	CondorBuyFilled CondorState = "buy_filled"
	// CondorSellConfirmed means the closing spread order is working.
	CondorSellConfirmed CondorState = "sell_confirmed"
	// CondorClosed is terminal.
	CondorClosed CondorState = "closed"
	// CondorFailed is terminal, reachable from any state on an
	// irrecoverable error.
	CondorFailed CondorState = "failed"
)

// AllCondorStates lists every state index a condor key may occupy.
var AllCondorStates = []CondorState{
	CondorUnfilled,
	CondorBuyFilled,
	CondorSellConfirmed,
	CondorClosed,
	CondorFailed,
}

// Condor is a four-leg position keyed by (ticker, expiration). All four legs
// open as a single spread order and close as a single spread order, so it
// carries one buy order ID and at most one sell order ID.
type Condor struct {
	Ticker         string    `json:"ticker"`
	Expr           string    `json:"expr"`
	OID            string    `json:"oid"`
	SellOID        string    `json:"sell_oid,omitempty"`
	Credit         float64   `json:"credit"`
	Collateral     float64   `json:"collateral"`
	MultiplierBuy  float64   `json:"multiplier_buy"`
	MultiplierSell float64   `json:"multiplier_sell"`
	TargetROI      float64   `json:"target_roi"`
	EnterPrice     float64   `json:"enter_price"`
	TotalLoss      bool      `json:"total_loss,omitempty"`
	CreatedAt      time.Time `json:"created_at"`

	// State is the snapshot of index membership at load time.
	State CondorState `json:"-"`
}

// Key returns the natural key of the position.
func (c *Condor) Key() string {
	return PositionKey(c.Ticker, c.Expr)
}

// CanSellConfirm reports whether the sell_confirmed transition is valid
// from the given state.
func (s CondorState) CanSellConfirm() bool {
	return s == CondorBuyFilled
}

// CanClose reports whether the close transition is valid from the given
// state. Closing from anywhere else is a recoverable inconsistency that
// callers log instead of applying.
func (s CondorState) CanClose() bool {
	return s == CondorBuyFilled || s == CondorSellConfirmed
}

// TargetExitPrice returns the debit at which the closing spread should be
// bought back so the position realizes its target ROI on collateral.
func (c *Condor) TargetExitPrice() float64 {
	return (c.Credit*(100+c.TargetROI) - c.TargetROI*c.Collateral) / 100
}
