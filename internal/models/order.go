// Package models provides the value types and state rules for orders and
// multi-leg positions.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/util"
)

// OrderState represents the brokerage-reported state of a single order.
type OrderState string

const (
	// OrderUnconfirmed is the initial state right after submission.
	OrderUnconfirmed OrderState = "unconfirmed"
	// OrderQueued means the order is accepted but not yet working.
	OrderQueued OrderState = "queued"
	// OrderConfirmed means the order is working at the exchange.
	OrderConfirmed OrderState = "confirmed"
	// OrderPartiallyFilled means some but not all contracts executed.
	OrderPartiallyFilled OrderState = "partially_filled"
	// OrderFilled is terminal: all contracts executed.
	OrderFilled OrderState = "filled"
	// OrderRejected is terminal: the brokerage refused the order.
	OrderRejected OrderState = "rejected"
	// OrderCancelled is terminal: the order was cancelled before filling.
	OrderCancelled OrderState = "cancelled"
	// OrderFailed is terminal: the brokerage reported an internal failure.
	OrderFailed OrderState = "failed"
)

// TerminalOrderStates lists the states an order never leaves.
var TerminalOrderStates = []OrderState{
	OrderFilled,
	OrderRejected,
	OrderCancelled,
	OrderFailed,
}

// IsTerminal reports whether the state is final.
func (s OrderState) IsTerminal() bool {
	for _, t := range TerminalOrderStates {
		if s == t {
			return true
		}
	}
	return false
}

// OptionType is the contract type of a leg.
type OptionType string

const (
	// Call option contract.
	Call OptionType = "call"
	// Put option contract.
	Put OptionType = "put"
)

// Direction is the net premium direction of an order.
type Direction string

const (
	// Debit orders pay premium.
	Debit Direction = "debit"
	// Credit orders collect premium.
	Credit Direction = "credit"
)

// Leg is one option contract within an order.
type Leg struct {
	Expr       string     `json:"expiration_date"`
	OptionType OptionType `json:"option_type"`
	Strike     float64    `json:"strike_price"`
	Side       string     `json:"side"`            // buy | sell
	Effect     string     `json:"position_effect"` // open | close
}

// Order is one brokerage order, single- or multi-leg. Mutable fields are
// overwritten from the brokerage snapshot on re-sync; terminal orders are
// never touched again.
type Order struct {
	ID                string     `json:"id"`
	Ticker            string     `json:"ticker"`
	Direction         Direction  `json:"direction"`
	State             OrderState `json:"state"`
	Price             float64    `json:"price"`
	Quantity          float64    `json:"quantity"`
	PendingQuantity   float64    `json:"pending_quantity"`
	ProcessedQuantity float64    `json:"processed_quantity"`
	Premium           float64    `json:"premium"`
	ProcessedPremium  float64    `json:"processed_premium"`
	Ticks             util.Ticks `json:"min_ticks"`
	Legs              []Leg      `json:"legs"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Expr returns the expiration date shared by the order's legs.
func (o *Order) Expr() string {
	if len(o.Legs) == 0 {
		return ""
	}
	return o.Legs[0].Expr
}

// OptionType returns the contract type of a single-leg order.
func (o *Order) OptionType() OptionType {
	if len(o.Legs) != 1 {
		return ""
	}
	return o.Legs[0].OptionType
}

// Strike returns the strike of a single-leg order.
func (o *Order) Strike() float64 {
	if len(o.Legs) != 1 {
		return 0
	}
	return o.Legs[0].Strike
}

// IsFilled reports whether every contract executed.
func (o *Order) IsFilled() bool { return o.State == OrderFilled }

// IsConfirmed reports whether the order is working at the exchange.
func (o *Order) IsConfirmed() bool { return o.State == OrderConfirmed }

// IsPartiallyFilled reports whether some contracts executed.
func (o *Order) IsPartiallyFilled() bool { return o.State == OrderPartiallyFilled }

// IsCancelled reports whether the order was cancelled.
func (o *Order) IsCancelled() bool { return o.State == OrderCancelled }

// IsAccepted reports whether the order is live or has executed contracts.
// Used to confirm a freshly submitted sell was not rejected outright.
func (o *Order) IsAccepted() bool {
	return o.IsConfirmed() || o.IsFilled() || o.IsPartiallyFilled()
}

// NoContractsFilled reports whether zero contracts executed, meaning the
// order can be cancelled without any capital having moved.
func (o *Order) NoContractsFilled() bool {
	return !o.IsFilled() && !o.IsPartiallyFilled() && o.ProcessedQuantity == 0
}

// ActualPrice returns the average per-contract execution price in dollars,
// or zero before any fill.
func (o *Order) ActualPrice() float64 {
	if o.ProcessedQuantity <= 0 {
		return 0
	}
	return o.ProcessedPremium / o.ProcessedQuantity / 100
}

// ApplySnapshot overwrites the mutable fields from a fresh brokerage
// snapshot. Terminal orders and shrinking fill counts are refused: the
// brokerage is authoritative, but state never moves backward.
func (o *Order) ApplySnapshot(snap *Order) error {
	if o.State.IsTerminal() {
		return fmt.Errorf("order %s: refusing snapshot onto terminal state %s", o.ID, o.State)
	}
	if snap.ProcessedQuantity < o.ProcessedQuantity {
		return fmt.Errorf("order %s: processed quantity regressed %.0f -> %.0f",
			o.ID, o.ProcessedQuantity, snap.ProcessedQuantity)
	}
	o.State = snap.State
	o.Price = snap.Price
	o.Premium = snap.Premium
	o.Quantity = snap.Quantity
	o.PendingQuantity = snap.PendingQuantity
	o.ProcessedQuantity = snap.ProcessedQuantity
	o.ProcessedPremium = snap.ProcessedPremium
	o.UpdatedAt = snap.UpdatedAt
	return nil
}

// HumanID renders a short description like "2026-09-04 AAPL $150 CALL" for
// logs and notifications.
func (o *Order) HumanID() string {
	if len(o.Legs) != 1 {
		return fmt.Sprintf("%s %s spread", o.Expr(), o.Ticker)
	}
	strike := o.Strike()
	s := fmt.Sprintf("$%.2f", strike)
	if strike == float64(int64(strike)) {
		s = fmt.Sprintf("$%d", int64(strike))
	}
	return strings.Join([]string{
		o.Expr(), o.Ticker, s, strings.ToUpper(string(o.OptionType())),
	}, " ")
}

// PositionKey joins a ticker and expiration into the natural key shared by
// strangles and condors.
func PositionKey(ticker, expr string) string {
	return ticker + ":" + expr
}

// SplitPositionKey is the inverse of PositionKey.
func SplitPositionKey(key string) (ticker, expr string, err error) {
	parts := strings.SplitN(key, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed position key %q", key)
	}
	return parts[0], parts[1], nil
}
