package storage

import (
	"fmt"
	"sort"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/models"
)

const (
	condorKeyPrefix   = "condors:"
	condorIndexPrefix = "condor_index:"
)

func condorIndexKey(state models.CondorState) string {
	return condorIndexPrefix + string(state)
}

// CondorRepo persists condors and their state indexes.
type CondorRepo struct {
	store Interface
}

// NewCondorRepo creates a CondorRepo on the given store.
func NewCondorRepo(store Interface) *CondorRepo {
	return &CondorRepo{store: store}
}

// FindOrCreate returns the condor at (ticker, expr), creating it in the
// unfilled index if absent. An existing condor wins over the candidate.
func (r *CondorRepo) FindOrCreate(candidate *models.Condor) (*models.Condor, error) {
	if existing, ok, err := r.Get(candidate.Ticker, candidate.Expr); err != nil || ok {
		return existing, err
	}

	if candidate.CreatedAt.IsZero() {
		candidate.CreatedAt = time.Now()
	}
	if err := r.store.Set(condorKeyPrefix+candidate.Key(), candidate); err != nil {
		return nil, err
	}
	if err := r.store.SAdd(condorIndexKey(models.CondorUnfilled), candidate.Key()); err != nil {
		return nil, err
	}
	candidate.State = models.CondorUnfilled
	return candidate, nil
}

// Get loads a condor and resolves its state from index membership.
func (r *CondorRepo) Get(ticker, expr string) (*models.Condor, bool, error) {
	key := models.PositionKey(ticker, expr)
	var c models.Condor
	ok, err := r.store.Get(condorKeyPrefix+key, &c)
	if err != nil || !ok {
		return nil, ok, err
	}
	state, err := r.stateOf(key)
	if err != nil {
		return nil, false, err
	}
	c.State = state
	return &c, true, nil
}

// Save stores the condor value without touching its indexes.
func (r *CondorRepo) Save(c *models.Condor) error {
	return r.store.Set(condorKeyPrefix+c.Key(), c)
}

// BuyFilled moves an unfilled condor into the buy_filled index.
func (r *CondorRepo) BuyFilled(c *models.Condor) error {
	if err := r.move(c.Key(), models.CondorUnfilled, models.CondorBuyFilled); err != nil {
		return err
	}
	c.State = models.CondorBuyFilled
	return nil
}

// SellConfirmed moves a buy_filled condor into the sell_confirmed index.
func (r *CondorRepo) SellConfirmed(c *models.Condor) error {
	if !c.State.CanSellConfirm() {
		return fmt.Errorf("condor %s sell_confirmed from %s: %w", c.Key(), c.State, ErrInvalidTransition)
	}
	if err := r.move(c.Key(), models.CondorBuyFilled, models.CondorSellConfirmed); err != nil {
		return err
	}
	c.State = models.CondorSellConfirmed
	return nil
}

// Close moves a condor into the closed index. Valid only from buy_filled or
// sell_confirmed.
func (r *CondorRepo) Close(c *models.Condor) error {
	if !c.State.CanClose() {
		return fmt.Errorf("condor %s close from %s: %w", c.Key(), c.State, ErrInvalidTransition)
	}
	if err := r.move(c.Key(), c.State, models.CondorClosed); err != nil {
		return err
	}
	c.State = models.CondorClosed
	return r.Save(c)
}

// Fail moves a condor into the failed index from whatever state it holds.
func (r *CondorRepo) Fail(c *models.Condor) error {
	current, err := r.stateOf(c.Key())
	if err != nil {
		return err
	}
	if current == models.CondorFailed {
		return nil
	}
	if current == "" {
		if err := r.store.SAdd(condorIndexKey(models.CondorFailed), c.Key()); err != nil {
			return err
		}
	} else if err := r.store.MoveIndex(c.Key(), condorIndexKey(current), condorIndexKey(models.CondorFailed)); err != nil {
		return err
	}
	c.State = models.CondorFailed
	return nil
}

// ByState loads every condor in one state index, oldest first.
func (r *CondorRepo) ByState(state models.CondorState) ([]*models.Condor, error) {
	keys, err := r.store.SMembers(condorIndexKey(state))
	if err != nil {
		return nil, err
	}
	condors := make([]*models.Condor, 0, len(keys))
	for _, key := range keys {
		ticker, expr, err := models.SplitPositionKey(key)
		if err != nil {
			return nil, err
		}
		c, ok, err := r.Get(ticker, expr)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("condor index %s references missing position %s", state, key)
		}
		condors = append(condors, c)
	}
	sort.Slice(condors, func(i, j int) bool {
		return condors[i].CreatedAt.Before(condors[j].CreatedAt)
	})
	return condors, nil
}

func (r *CondorRepo) move(key string, from, to models.CondorState) error {
	if err := r.store.MoveIndex(key, condorIndexKey(from), condorIndexKey(to)); err != nil {
		return fmt.Errorf("condor %s %s -> %s: %w (%v)", key, from, to, ErrInvalidTransition, err)
	}
	return nil
}

func (r *CondorRepo) stateOf(key string) (models.CondorState, error) {
	for _, state := range models.AllCondorStates {
		ok, err := r.store.SIsMember(condorIndexKey(state), key)
		if err != nil {
			return "", err
		}
		if ok {
			return state, nil
		}
	}
	return "", nil
}
