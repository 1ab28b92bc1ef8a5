package storage

import (
	"fmt"

	"github.com/eddiefleurent/stamford_condor/internal/models"
)

const orderKeyPrefix = "orders:"

// OrderRepo persists brokerage order snapshots by order ID.
type OrderRepo struct {
	store Interface
}

// NewOrderRepo creates an OrderRepo on the given store.
func NewOrderRepo(store Interface) *OrderRepo {
	return &OrderRepo{store: store}
}

// Save stores the order snapshot.
func (r *OrderRepo) Save(o *models.Order) error {
	if o.ID == "" {
		return fmt.Errorf("saving order without an ID")
	}
	return r.store.Set(orderKeyPrefix+o.ID, o)
}

// Get loads an order by ID. The bool reports presence.
func (r *OrderRepo) Get(id string) (*models.Order, bool, error) {
	var o models.Order
	ok, err := r.store.Get(orderKeyPrefix+id, &o)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &o, true, nil
}

// GetAll loads a batch of orders, skipping IDs that are not stored.
func (r *OrderRepo) GetAll(ids []string) ([]*models.Order, error) {
	orders := make([]*models.Order, 0, len(ids))
	for _, id := range ids {
		o, ok, err := r.Get(id)
		if err != nil {
			return nil, err
		}
		if ok {
			orders = append(orders, o)
		}
	}
	return orders, nil
}
