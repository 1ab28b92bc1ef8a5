package storage

import (
	"strings"
	"time"
)

const pendingSellPrefix = "pending_orders:"

// PendingSell is a cached pair of filled strangle buy legs waiting for their
// sell orders to be opened.
type PendingSell struct {
	Ticker    string    `json:"ticker"`
	Expr      string    `json:"expr"`
	CallOID   string    `json:"call_oid"`
	PutOID    string    `json:"put_oid"`
	CreatedAt time.Time `json:"created_at"`
}

func pendingSellKey(expr, ticker string) string {
	return pendingSellPrefix + expr + ":" + ticker
}

// PendingSellCache is the FIFO cache bridging the strangle buy and
// open-sells pipeline stages.
type PendingSellCache struct {
	store Interface
}

// NewPendingSellCache creates a PendingSellCache on the given store.
func NewPendingSellCache(store Interface) *PendingSellCache {
	return &PendingSellCache{store: store}
}

// Put stores (or overwrites) the entry for (expr, ticker).
func (c *PendingSellCache) Put(p *PendingSell) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	return c.store.Set(pendingSellKey(p.Expr, p.Ticker), p)
}

// All returns every cached entry, ordered by key (expiration, then ticker).
func (c *PendingSellCache) All() ([]*PendingSell, error) {
	keys, err := c.store.Keys(pendingSellPrefix)
	if err != nil {
		return nil, err
	}
	entries := make([]*PendingSell, 0, len(keys))
	for _, key := range keys {
		var p PendingSell
		ok, err := c.store.Get(key, &p)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		// Backfill from the key for entries written before these fields
		// were persisted.
		if p.Expr == "" || p.Ticker == "" {
			rest := strings.TrimPrefix(key, pendingSellPrefix)
			if idx := strings.LastIndex(rest, ":"); idx > 0 {
				p.Expr = rest[:idx]
				p.Ticker = rest[idx+1:]
			}
		}
		entries = append(entries, &p)
	}
	return entries, nil
}

// Delete drops the entry for (expr, ticker). Missing entries are not an
// error.
func (c *PendingSellCache) Delete(expr, ticker string) error {
	return c.store.Delete(pendingSellKey(expr, ticker))
}
