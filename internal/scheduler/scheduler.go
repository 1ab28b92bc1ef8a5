// Package scheduler decides, once per minute, which pipeline actions are
// due. Jobs are data; the process maps module/action pairs to code.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/calendar"
)

// Job is one scheduled action. Exactly one predicate field is set; the
// predicates are positive minute counts matched by exact equality against
// the snapshot, so a missed minute is a missed run.
type Job struct {
	Module string
	Action string
	Active bool

	// BeforeClose fires N market minutes before today's close.
	BeforeClose int
	// AfterClose fires N wall-clock minutes after today's close.
	AfterClose int
	// AfterOpen fires N market minutes after today's open.
	AfterOpen int
	// BeforeOpen fires N wall-clock minutes before today's open.
	BeforeOpen int
	// BeforeExprDaily fires N market minutes before the next daily
	// expiration's close. Spans days, so it can fire the afternoon before.
	BeforeExprDaily int
	// Every fires each N market minutes while the market is open.
	Every int
}

// Name renders module.action for logs.
func (j Job) Name() string { return j.Module + "." + j.Action }

// DefaultJobs is the priority-ordered job table. Activity flags come from
// config at startup; the zero table keeps only calendar maintenance on.
func DefaultJobs() []Job {
	return []Job{
		{Module: "strangler", Action: "buy", BeforeClose: 6},
		{Module: "iv", Action: "run", BeforeClose: 18},
		{Module: "strangler", Action: "open_sells", AfterOpen: 4},
		{Module: "strangler", Action: "log_active", Every: 60},
		{Module: "strangler", Action: "eow_results", AfterClose: 5},
		{Module: "calendar", Action: "expire_current_expr", AfterClose: 15, Active: true},
		{Module: "iv", Action: "run_condor", BeforeClose: 150, Active: true},
		{Module: "condorer", Action: "buy", BeforeClose: 135, Active: true},
		{Module: "condorer", Action: "set_sell_limits", AfterOpen: 1, Active: true},
		{Module: "condorer", Action: "close", BeforeClose: 120, Active: true},
		{Module: "condorer_daily", Action: "buy", BeforeExprDaily: 391, Active: true},
	}
}

// Snapshot is the calendar state one evaluation tick sees. Minute fields are
// -1 on days the market never opens, which matches no positive predicate.
type Snapshot struct {
	OpenNow bool

	MinutesElapsed          int
	MinutesRemaining        int
	MinutesAfterClose       int
	MinutesBeforeOpen       int
	MinutesToNextDailyClose int
}

// TakeSnapshot derives the minute counters for the current tick.
func TakeSnapshot(ctx context.Context, cal *calendar.Calendar) (*Snapshot, error) {
	snap := &Snapshot{
		MinutesElapsed:          -1,
		MinutesRemaining:        -1,
		MinutesAfterClose:       -1,
		MinutesBeforeOpen:       -1,
		MinutesToNextDailyClose: -1,
	}
	today := cal.Today()
	now := cal.Now()

	opensAt, open, err := cal.OpensAt(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("scheduler snapshot: %w", err)
	}
	if !open {
		return snap, nil
	}
	closesAt, _, err := cal.ClosesAt(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("scheduler snapshot: %w", err)
	}

	if snap.OpenNow, err = cal.IsOpenNow(ctx); err != nil {
		return nil, fmt.Errorf("scheduler snapshot: %w", err)
	}
	if snap.MinutesElapsed, err = marketMinutes(ctx, cal, opensAt, now); err != nil {
		return nil, err
	}
	if snap.MinutesRemaining, err = marketMinutes(ctx, cal, now, closesAt); err != nil {
		return nil, err
	}

	afterClose, err := cal.SecondsAfterClose(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("scheduler snapshot: %w", err)
	}
	snap.MinutesAfterClose = int(math.Max(afterClose, 0)) / 60

	beforeOpen, err := cal.SecondsBeforeOpen(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("scheduler snapshot: %w", err)
	}
	snap.MinutesBeforeOpen = int(math.Max(beforeOpen, 0)) / 60

	nextDaily, err := cal.NextExprDailies(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler snapshot: %w", err)
	}
	dailyClose, closed, err := cal.ClosesAt(ctx, nextDaily)
	if err != nil {
		return nil, fmt.Errorf("scheduler snapshot: %w", err)
	}
	if closed {
		if snap.MinutesToNextDailyClose, err = marketMinutes(ctx, cal, now, dailyClose); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func marketMinutes(ctx context.Context, cal *calendar.Calendar, from, to time.Time) (int, error) {
	seconds, err := cal.MarketSecondsBetween(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("scheduler snapshot: %w", err)
	}
	return seconds / 60, nil
}

// Due returns the active jobs whose predicate matches the snapshot, in
// table (priority) order.
func Due(jobs []Job, snap *Snapshot) []Job {
	var due []Job
	for _, j := range jobs {
		if !j.Active {
			continue
		}
		if matches(j, snap) {
			due = append(due, j)
		}
	}
	return due
}

func matches(j Job, snap *Snapshot) bool {
	switch {
	case j.BeforeClose > 0:
		return j.BeforeClose == snap.MinutesRemaining
	case j.AfterClose > 0:
		return j.AfterClose == snap.MinutesAfterClose
	case j.AfterOpen > 0:
		return j.AfterOpen == snap.MinutesElapsed
	case j.BeforeOpen > 0:
		return j.BeforeOpen == snap.MinutesBeforeOpen
	case j.BeforeExprDaily > 0:
		return j.BeforeExprDaily == snap.MinutesToNextDailyClose
	case j.Every > 0:
		return snap.OpenNow && snap.MinutesElapsed >= 0 && snap.MinutesElapsed%j.Every == 0
	}
	return false
}
