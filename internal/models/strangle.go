package models

import "time"

// StrangleState is the index-backed lifecycle state of a strangle.
// Membership in the state index, not a struct field, is the source of truth;
// the field on the struct is a loaded snapshot.
type StrangleState string

const (
	// StranglePending means buy legs are open but not yet both filled.
	StranglePending StrangleState = "pending"
	// StrangleActive means both buy legs filled and sells are being managed.
	StrangleActive StrangleState = "active"
	// StrangleClosed is terminal.
	StrangleClosed StrangleState = "closed"
	// StrangleFailed is terminal: an unrecoverable execution error occurred
	// and the position needs manual review.
	StrangleFailed StrangleState = "failed"
)

// AllStrangleStates lists every state index a strangle key may occupy.
var AllStrangleStates = []StrangleState{
	StranglePending,
	StrangleActive,
	StrangleClosed,
	StrangleFailed,
}

// StrangleResult records how an active strangle ended.
type StrangleResult string

const (
	// ResultFilled means both sell sides filled at their limit prices.
	ResultFilled StrangleResult = "filled"
	// ResultEjected means the position was force-closed at walked prices.
	ResultEjected StrangleResult = "ejected"
)

// Strangle is a two-leg position keyed by (ticker, expiration). The buy
// order IDs are immutable once set; sell orders accumulate per side in a
// chronological sequence owned by storage.
type Strangle struct {
	Ticker         string         `json:"ticker"`
	Expr           string         `json:"expr"`
	BuyCallOID     string         `json:"buy_call_oid"`
	BuyPutOID      string         `json:"buy_put_oid"`
	EjectSecToExpr int            `json:"eject_sec_to_expr"`
	Result         StrangleResult `json:"result,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`

	// State is the snapshot of index membership at load time.
	State StrangleState `json:"-"`
	// EjectAt is derived from EjectSecToExpr by the calendar at load time.
	EjectAt time.Time `json:"-"`
}

// Key returns the natural key of the position.
func (s *Strangle) Key() string {
	return PositionKey(s.Ticker, s.Expr)
}

// SellProcessedQuantity sums executed contracts across one side's sell
// sequence. A side's position may close across multiple partial sells or
// eject attempts.
func SellProcessedQuantity(sells []*Order) float64 {
	var total float64
	for _, o := range sells {
		total += o.ProcessedQuantity
	}
	return total
}

// SellProcessedPremium sums collected premium across one side's sells.
func SellProcessedPremium(sells []*Order) float64 {
	var total float64
	for _, o := range sells {
		total += o.ProcessedPremium
	}
	return total
}

// SellSideFilled reports whether a side's sell sequence has closed exactly
// the quantity the buy leg filled. Sold quantity never exceeds bought
// quantity; equality means the side is flat.
func SellSideFilled(buy *Order, sells []*Order) bool {
	if buy == nil {
		return false
	}
	return SellProcessedQuantity(sells) >= buy.ProcessedQuantity && buy.ProcessedQuantity > 0
}
