package ranker

import (
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/storage"
)

const (
	rankingPrefix = "ranking:"
	reportPrefix  = "ranking_report:"
	latestKey     = "ranking:latest"
)

// Ranking is a persisted ranking run for one expiration.
type Ranking struct {
	Expr      string    `json:"expr"`
	Symbols   []string  `json:"symbols"`
	RankedAt  time.Time `json:"ranked_at"`
	DailyLane bool      `json:"daily_lane,omitempty"`
}

// Store persists ranking runs and their statistics reports so the buy jobs
// and the dashboard read the same snapshot the ranking job produced.
type Store struct {
	store storage.Interface
}

// NewStore creates a Store on the given persistence backend.
func NewStore(store storage.Interface) *Store {
	return &Store{store: store}
}

// SaveRun persists a ranking and its report for expr and marks it latest.
func (s *Store) SaveRun(expr string, symbols []string, rows []ReportRow, daily bool) error {
	ranking := &Ranking{
		Expr:      expr,
		Symbols:   symbols,
		RankedAt:  time.Now(),
		DailyLane: daily,
	}
	if err := s.store.Set(rankingPrefix+expr, ranking); err != nil {
		return err
	}
	if err := s.store.Set(reportPrefix+expr, rows); err != nil {
		return err
	}
	return s.store.Set(latestKey, expr)
}

// Ranking returns the persisted ranking for expr. The bool reports presence.
func (s *Store) Ranking(expr string) (*Ranking, bool, error) {
	var ranking Ranking
	ok, err := s.store.Get(rankingPrefix+expr, &ranking)
	if err != nil || !ok {
		return nil, false, err
	}
	return &ranking, true, nil
}

// Report returns the persisted report rows for expr.
func (s *Store) Report(expr string) ([]ReportRow, bool, error) {
	var rows []ReportRow
	ok, err := s.store.Get(reportPrefix+expr, &rows)
	if err != nil || !ok {
		return nil, false, err
	}
	return rows, true, nil
}

// LatestExpr returns the expiration of the most recent ranking run.
func (s *Store) LatestExpr() (string, bool, error) {
	var expr string
	ok, err := s.store.Get(latestKey, &expr)
	if err != nil || !ok {
		return "", false, err
	}
	return expr, true, nil
}
