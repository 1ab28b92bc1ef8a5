package storage

import (
	"fmt"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/models"
)

const (
	strangleKeyPrefix   = "strangles:"
	strangleIndexPrefix = "strangle_index:"
	sellOrdersPrefix    = "sell_orders:"
)

func strangleIndexKey(state models.StrangleState) string {
	return strangleIndexPrefix + string(state)
}

// sellOrdersKey builds the per-side sell sequence key, e.g.
// "sell_orders:calls:AAPL:2026-09-04".
func sellOrdersKey(side models.OptionType, positionKey string) string {
	return sellOrdersPrefix + string(side) + "s:" + positionKey
}

// StrangleRepo persists strangles, their state indexes, and the per-side
// sell order sequences. Index membership is the source of truth for state;
// the struct field is filled in at load time.
type StrangleRepo struct {
	store Interface
}

// NewStrangleRepo creates a StrangleRepo on the given store.
func NewStrangleRepo(store Interface) *StrangleRepo {
	return &StrangleRepo{store: store}
}

// FindOrCreate returns the strangle at (ticker, expr), creating it in the
// pending index if absent. Repeat calls with the same key are idempotent and
// never clobber an existing position.
func (r *StrangleRepo) FindOrCreate(ticker, expr string, build func() *models.Strangle) (*models.Strangle, error) {
	if existing, ok, err := r.Get(ticker, expr); err != nil || ok {
		return existing, err
	}

	s := build()
	s.Ticker = ticker
	s.Expr = expr
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if err := r.store.Set(strangleKeyPrefix+s.Key(), s); err != nil {
		return nil, err
	}
	if err := r.store.SAdd(strangleIndexKey(models.StranglePending), s.Key()); err != nil {
		return nil, err
	}
	s.State = models.StranglePending
	return s, nil
}

// Get loads a strangle and resolves its state from index membership.
func (r *StrangleRepo) Get(ticker, expr string) (*models.Strangle, bool, error) {
	key := models.PositionKey(ticker, expr)
	var s models.Strangle
	ok, err := r.store.Get(strangleKeyPrefix+key, &s)
	if err != nil || !ok {
		return nil, ok, err
	}
	state, err := r.stateOf(key)
	if err != nil {
		return nil, false, err
	}
	s.State = state
	return &s, true, nil
}

// Save stores the strangle value without touching its indexes.
func (r *StrangleRepo) Save(s *models.Strangle) error {
	return r.store.Set(strangleKeyPrefix+s.Key(), s)
}

// Activate moves a pending strangle into the active index.
func (r *StrangleRepo) Activate(s *models.Strangle) error {
	if err := r.move(s.Key(), models.StranglePending, models.StrangleActive); err != nil {
		return err
	}
	s.State = models.StrangleActive
	return nil
}

// Close moves an active strangle into the closed index and records how it
// ended.
func (r *StrangleRepo) Close(s *models.Strangle, result models.StrangleResult) error {
	if err := r.move(s.Key(), models.StrangleActive, models.StrangleClosed); err != nil {
		return err
	}
	s.State = models.StrangleClosed
	s.Result = result
	return r.Save(s)
}

// Fail moves a strangle into the failed index from whatever state it holds.
func (r *StrangleRepo) Fail(s *models.Strangle) error {
	current, err := r.stateOf(s.Key())
	if err != nil {
		return err
	}
	if current == models.StrangleFailed {
		return nil
	}
	if current == "" {
		if err := r.store.SAdd(strangleIndexKey(models.StrangleFailed), s.Key()); err != nil {
			return err
		}
	} else if err := r.store.MoveIndex(s.Key(), strangleIndexKey(current), strangleIndexKey(models.StrangleFailed)); err != nil {
		return err
	}
	s.State = models.StrangleFailed
	return nil
}

// ByState loads every strangle in one state index, ordered by key.
func (r *StrangleRepo) ByState(state models.StrangleState) ([]*models.Strangle, error) {
	keys, err := r.store.SMembers(strangleIndexKey(state))
	if err != nil {
		return nil, err
	}
	strangles := make([]*models.Strangle, 0, len(keys))
	for _, key := range keys {
		ticker, expr, err := models.SplitPositionKey(key)
		if err != nil {
			return nil, err
		}
		s, ok, err := r.Get(ticker, expr)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("strangle index %s references missing position %s", state, key)
		}
		strangles = append(strangles, s)
	}
	return strangles, nil
}

// AppendSell records a sell order ID in the side's chronological sequence.
func (r *StrangleRepo) AppendSell(s *models.Strangle, side models.OptionType, orderID string, at time.Time) error {
	return r.store.ZAdd(sellOrdersKey(side, s.Key()), float64(at.UnixNano()), orderID)
}

// SellOIDs returns the side's sell order IDs in submission order.
func (r *StrangleRepo) SellOIDs(s *models.Strangle, side models.OptionType) ([]string, error) {
	return r.store.ZRange(sellOrdersKey(side, s.Key()))
}

// RemoveSell drops a sell order ID from the side's sequence. Used when a
// cancelled eject quote is replaced by a re-priced one.
func (r *StrangleRepo) RemoveSell(s *models.Strangle, side models.OptionType, orderID string) error {
	return r.store.ZRem(sellOrdersKey(side, s.Key()), orderID)
}

func (r *StrangleRepo) move(key string, from, to models.StrangleState) error {
	if err := r.store.MoveIndex(key, strangleIndexKey(from), strangleIndexKey(to)); err != nil {
		return fmt.Errorf("strangle %s %s -> %s: %w (%v)", key, from, to, ErrInvalidTransition, err)
	}
	return nil
}

func (r *StrangleRepo) stateOf(key string) (models.StrangleState, error) {
	for _, state := range models.AllStrangleStates {
		ok, err := r.store.SIsMember(strangleIndexKey(state), key)
		if err != nil {
			return "", err
		}
		if ok {
			return state, nil
		}
	}
	return "", nil
}
