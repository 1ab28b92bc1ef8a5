// Package calendar converts between wall-clock time and market seconds
// (time counted only while the exchange is in session) and caches the
// expiration-date and session-hours lookups behind it.
package calendar

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/stamford_condor/internal/broker"
	"github.com/eddiefleurent/stamford_condor/internal/storage"
)

const (
	// ISODate is the date layout used across the brokerage API and store.
	ISODate = "2006-01-02"

	// NormalDailyMarketSeconds is a regular 6.5 hour session.
	NormalDailyMarketSeconds = 23400

	weeklyExprUnexpiredKey = "expr_dates:unexpired"
	weeklyExprAllKey       = "expr_dates:all"
	weeklyExprFetchedKey   = "expr_dates:fetched_at"
	dailyExprUnexpiredKey  = "expr_dates_day:unexpired"
	dailyExprAllKey        = "expr_dates_day:all"
	dailyExprFetchedKey    = "expr_dates_day:fetched_at"
	marketHoursPrefix      = "market_hours:"

	exprFetchTTL = 7 * 24 * time.Hour
)

// Calendar answers market-time questions, hitting the brokerage only on
// cache misses. The weekly ticker anchors the weekly expiration universe and
// the daily ticker anchors the daily-expiration universe.
type Calendar struct {
	broker       broker.Broker
	store        storage.Interface
	logger       *logrus.Logger
	weeklyTicker string
	dailyTicker  string
	now          func() time.Time
}

// New creates a Calendar.
func New(b broker.Broker, store storage.Interface, logger *logrus.Logger, weeklyTicker, dailyTicker string) *Calendar {
	return &Calendar{
		broker:       b,
		store:        store,
		logger:       logger,
		weeklyTicker: weeklyTicker,
		dailyTicker:  dailyTicker,
		now:          time.Now,
	}
}

// WithNow overrides the clock. Tests only.
func (c *Calendar) WithNow(now func() time.Time) *Calendar {
	c.now = now
	return c
}

// Today returns the current UTC date in ISO form.
func (c *Calendar) Today() string {
	return c.now().UTC().Format(ISODate)
}

// Now returns the current UTC time.
func (c *Calendar) Now() time.Time {
	return c.now().UTC()
}

// ============ Expiration dates ============

// AllUnexpired returns the sorted unexpired weekly expiration dates,
// refreshing from the brokerage when the cache is stale or empty.
func (c *Calendar) AllUnexpired(ctx context.Context) ([]string, error) {
	return c.unexpired(ctx, c.weeklyTicker, weeklyExprUnexpiredKey, weeklyExprAllKey, weeklyExprFetchedKey)
}

// AllUnexpiredDailies is AllUnexpired for the daily-expiration universe.
func (c *Calendar) AllUnexpiredDailies(ctx context.Context) ([]string, error) {
	return c.unexpired(ctx, c.dailyTicker, dailyExprUnexpiredKey, dailyExprAllKey, dailyExprFetchedKey)
}

func (c *Calendar) unexpired(ctx context.Context, ticker, setKey, allKey, fetchedKey string) ([]string, error) {
	var fetchedAt time.Time
	ok, err := c.store.Get(fetchedKey, &fetchedAt)
	if err != nil {
		return nil, err
	}
	fresh := ok && c.now().Sub(fetchedAt) < exprFetchTTL

	members, err := c.store.SMembers(setKey)
	if err != nil {
		return nil, err
	}
	if fresh && len(members) > 0 {
		return members, nil
	}

	exprs, err := c.broker.GetExpirations(ctx, ticker)
	if err != nil {
		return nil, fmt.Errorf("fetching expirations for %s: %w", ticker, err)
	}
	c.logger.Debugf("refreshed %d expiration dates for %s", len(exprs), ticker)
	for _, e := range exprs {
		if err := c.store.SAdd(setKey, e); err != nil {
			return nil, err
		}
		if err := c.store.SAdd(allKey, e); err != nil {
			return nil, err
		}
	}
	if err := c.store.Set(fetchedKey, c.now()); err != nil {
		return nil, err
	}
	sorted := append([]string(nil), exprs...)
	sort.Strings(sorted)
	return sorted, nil
}

// ExpireCurrent drops today's date from the unexpired weekly set.
func (c *Calendar) ExpireCurrent() error {
	return c.store.SRem(weeklyExprUnexpiredKey, c.Today())
}

// ExpireCurrentDailies drops today's date from the unexpired daily set.
func (c *Calendar) ExpireCurrentDailies() error {
	return c.store.SRem(dailyExprUnexpiredKey, c.Today())
}

// CurrentExpr returns the nearest unexpired weekly expiration.
func (c *Calendar) CurrentExpr(ctx context.Context) (string, error) {
	return c.nthUnexpired(ctx, c.AllUnexpired, 0)
}

// NextExpr returns the weekly expiration after the current one.
func (c *Calendar) NextExpr(ctx context.Context) (string, error) {
	return c.nthUnexpired(ctx, c.AllUnexpired, 1)
}

// CurrentExprDailies returns the nearest unexpired daily expiration.
func (c *Calendar) CurrentExprDailies(ctx context.Context) (string, error) {
	return c.nthUnexpired(ctx, c.AllUnexpiredDailies, 0)
}

// NextExprDailies returns the daily expiration after the current one.
func (c *Calendar) NextExprDailies(ctx context.Context) (string, error) {
	return c.nthUnexpired(ctx, c.AllUnexpiredDailies, 1)
}

func (c *Calendar) nthUnexpired(ctx context.Context, src func(context.Context) ([]string, error), n int) (string, error) {
	exprs, err := src(ctx)
	if err != nil {
		return "", err
	}
	if len(exprs) <= n {
		return "", fmt.Errorf("only %d unexpired expirations cached, need index %d", len(exprs), n)
	}
	return exprs[n], nil
}

// CurrentMonthlyExpr returns the third expiration of the current month, the
// conventional monthly expiration.
func (c *Calendar) CurrentMonthlyExpr(ctx context.Context) (string, error) {
	if _, err := c.AllUnexpired(ctx); err != nil {
		return "", err
	}
	all, err := c.store.SMembers(weeklyExprAllKey)
	if err != nil {
		return "", err
	}
	prefix := c.now().UTC().Format("2006-01")
	var month []string
	for _, e := range all {
		if strings.HasPrefix(e, prefix) {
			month = append(month, e)
		}
	}
	sort.Strings(month)
	if len(month) < 3 {
		return "", fmt.Errorf("only %d expirations known for %s", len(month), prefix)
	}
	return month[2], nil
}

// IsTodayAnExprDate reports whether today appears in the known weekly
// expiration dates.
func (c *Calendar) IsTodayAnExprDate(ctx context.Context) (bool, error) {
	if _, err := c.AllUnexpired(ctx); err != nil {
		return false, err
	}
	return c.store.SIsMember(weeklyExprAllKey, c.Today())
}

// ============ Market hours ============

// MarketHours returns the cached session schedule for a date, fetching and
// caching on miss.
func (c *Calendar) MarketHours(ctx context.Context, isoDate string) (*broker.MarketHours, error) {
	var cached broker.MarketHours
	ok, err := c.store.Get(marketHoursPrefix+isoDate, &cached)
	if err != nil {
		return nil, err
	}
	if ok {
		return &cached, nil
	}

	hours, err := c.broker.GetMarketHours(ctx, isoDate)
	if err != nil {
		return nil, fmt.Errorf("fetching market hours for %s: %w", isoDate, err)
	}
	if err := c.store.Set(marketHoursPrefix+isoDate, hours); err != nil {
		return nil, err
	}
	return hours, nil
}

// IsOpenOn reports whether the market has a session on the date.
func (c *Calendar) IsOpenOn(ctx context.Context, isoDate string) (bool, error) {
	hours, err := c.MarketHours(ctx, isoDate)
	if err != nil {
		return false, err
	}
	return hours.IsOpen, nil
}

// OpensAt returns the session open for a date. The bool is false on closed
// days.
func (c *Calendar) OpensAt(ctx context.Context, isoDate string) (time.Time, bool, error) {
	hours, err := c.MarketHours(ctx, isoDate)
	if err != nil || !hours.IsOpen {
		return time.Time{}, false, err
	}
	return hours.OpensAt, true, nil
}

// ClosesAt returns the session close for a date. The bool is false on closed
// days.
func (c *Calendar) ClosesAt(ctx context.Context, isoDate string) (time.Time, bool, error) {
	hours, err := c.MarketHours(ctx, isoDate)
	if err != nil || !hours.IsOpen {
		return time.Time{}, false, err
	}
	return hours.ClosesAt, true, nil
}

// IsOpenNow reports whether the market is currently in session.
func (c *Calendar) IsOpenNow(ctx context.Context) (bool, error) {
	hours, err := c.MarketHours(ctx, c.Today())
	if err != nil {
		return false, err
	}
	if !hours.IsOpen {
		return false, nil
	}
	now := c.Now()
	return !now.Before(hours.OpensAt) && now.Before(hours.ClosesAt), nil
}

// SecondsAfterClose returns how long ago the session on the date closed.
// Negative before the close.
func (c *Calendar) SecondsAfterClose(ctx context.Context, isoDate string) (float64, error) {
	closesAt, ok, err := c.ClosesAt(ctx, isoDate)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("market closed on %s", isoDate)
	}
	return c.Now().Sub(closesAt).Seconds(), nil
}

// SecondsBeforeOpen returns how long until the session on the date opens.
// Negative after the open.
func (c *Calendar) SecondsBeforeOpen(ctx context.Context, isoDate string) (float64, error) {
	opensAt, ok, err := c.OpensAt(ctx, isoDate)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("market closed on %s", isoDate)
	}
	return opensAt.Sub(c.Now()).Seconds(), nil
}

// ============ Market seconds arithmetic ============

// MarketSecondsInDay returns the session length for a date, zero on closed
// days.
func (c *Calendar) MarketSecondsInDay(ctx context.Context, isoDate string) (int, error) {
	hours, err := c.MarketHours(ctx, isoDate)
	if err != nil {
		return 0, err
	}
	if !hours.IsOpen {
		return 0, nil
	}
	return int(hours.ClosesAt.Sub(hours.OpensAt).Seconds()), nil
}

// MarketDaysUntil counts the open days in [today, isoDate).
func (c *Calendar) MarketDaysUntil(ctx context.Context, isoDate string) (int, error) {
	target, err := time.Parse(ISODate, isoDate)
	if err != nil {
		return 0, fmt.Errorf("parsing date %q: %w", isoDate, err)
	}
	today, _ := time.Parse(ISODate, c.Today())

	days := 0
	for d := today; d.Before(target); d = d.AddDate(0, 0, 1) {
		open, err := c.IsOpenOn(ctx, d.Format(ISODate))
		if err != nil {
			return 0, err
		}
		if open {
			days++
		}
	}
	return days, nil
}

// MarketSecondsBetween counts in-session seconds from one instant to
// another. It walks whole days, then subtracts the overhang before the start
// instant on the first day and after the end instant on the last day.
func (c *Calendar) MarketSecondsBetween(ctx context.Context, from, to time.Time) (int, error) {
	from, to = from.UTC(), to.UTC()
	if from.After(to) {
		return 0, nil
	}

	fromDate := from.Format(ISODate)
	toDate := to.Format(ISODate)
	openAt, fromOpen, err := c.OpensAt(ctx, fromDate)
	if err != nil {
		return 0, err
	}
	closeAt, toOpen, err := c.ClosesAt(ctx, toDate)
	if err != nil {
		return 0, err
	}

	seconds := 0
	start, _ := time.Parse(ISODate, fromDate)
	end, _ := time.Parse(ISODate, toDate)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		isoDay := d.Format(ISODate)
		daySeconds, err := c.MarketSecondsInDay(ctx, isoDay)
		if err != nil {
			return 0, err
		}
		if daySeconds == 0 {
			continue
		}
		if isoDay == fromDate && fromOpen && from.After(openAt) {
			overhang := int(from.Sub(openAt).Seconds())
			if overhang > daySeconds {
				overhang = daySeconds
			}
			seconds -= overhang
		}
		if isoDay == toDate && toOpen && to.Before(closeAt) {
			overhang := int(closeAt.Sub(to).Seconds())
			if overhang > daySeconds {
				overhang = daySeconds
			}
			seconds -= overhang
		}
		seconds += daySeconds
	}
	if seconds < 0 {
		seconds = 0
	}
	return seconds, nil
}

// MarketSecondsUntilExpr counts in-session seconds from an instant to the
// close of the expiration date.
func (c *Calendar) MarketSecondsUntilExpr(ctx context.Context, expr string, from time.Time) (int, error) {
	closesAt, ok, err := c.ClosesAt(ctx, expr)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("expiration %s is not a market day", expr)
	}
	return c.MarketSecondsBetween(ctx, from, closesAt)
}

// TotalMarketSecondsInExprWeek counts the in-session seconds of the trading
// week ending at the expiration close.
func (c *Calendar) TotalMarketSecondsInExprWeek(ctx context.Context, expr string) (int, error) {
	exprDay, err := time.Parse(ISODate, expr)
	if err != nil {
		return 0, fmt.Errorf("parsing expiration %q: %w", expr, err)
	}
	closesAt, ok, err := c.ClosesAt(ctx, expr)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("expiration %s is not a market day", expr)
	}
	return c.MarketSecondsBetween(ctx, exprDay.AddDate(0, 0, -5), closesAt)
}

// IsExtraShortWeek reports whether the expiration week has fewer than four
// full sessions, typically a holiday week.
func (c *Calendar) IsExtraShortWeek(ctx context.Context, expr string) (bool, error) {
	total, err := c.TotalMarketSecondsInExprWeek(ctx, expr)
	if err != nil {
		return false, err
	}
	return total < NormalDailyMarketSeconds*4, nil
}

// RemainingMarketSecondsToTime resolves "N market seconds before an instant"
// to a wall-clock time, walking backward day by day.
func (c *Calendar) RemainingMarketSecondsToTime(ctx context.Context, seconds int, to time.Time) (time.Time, error) {
	to = to.UTC()

	if closesAt, ok, err := c.ClosesAt(ctx, to.Format(ISODate)); err != nil {
		return time.Time{}, err
	} else if ok {
		seconds += int(closesAt.Sub(to).Seconds())
	}

	d, _ := time.Parse(ISODate, to.Format(ISODate))
	for seconds > 0 {
		daySeconds, err := c.MarketSecondsInDay(ctx, d.Format(ISODate))
		if err != nil {
			return time.Time{}, err
		}
		seconds -= daySeconds
		d = d.AddDate(0, 0, -1)
	}
	d = d.AddDate(0, 0, 1)

	opensAt, ok, err := c.OpensAt(ctx, d.Format(ISODate))
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, fmt.Errorf("landed on closed day %s resolving market seconds", d.Format(ISODate))
	}
	return opensAt.Add(time.Duration(-seconds) * time.Second), nil
}

// TimeUntilExprFromMarketSeconds resolves "N market seconds before the
// expiration close" to a wall-clock time.
func (c *Calendar) TimeUntilExprFromMarketSeconds(ctx context.Context, seconds int, expr string) (time.Time, error) {
	closesAt, ok, err := c.ClosesAt(ctx, expr)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, fmt.Errorf("expiration %s is not a market day", expr)
	}
	return c.RemainingMarketSecondsToTime(ctx, seconds, closesAt)
}

// EjectSecondsAdjusted nudges an eject offset so the resulting wall-clock
// time never lands inside the last minutesBeforeClose minutes of a session.
// A shortfall pushes the eject earlier by exactly that amount; the extra
// second keeps the adjusted instant strictly outside the buffer.
func (c *Calendar) EjectSecondsAdjusted(ctx context.Context, seconds int, expr string, minutesBeforeClose int) (int, error) {
	ejectAt, err := c.TimeUntilExprFromMarketSeconds(ctx, seconds, expr)
	if err != nil {
		return 0, err
	}
	closesAt, ok, err := c.ClosesAt(ctx, ejectAt.Format(ISODate))
	if err != nil {
		return 0, err
	}
	if ok {
		minutesToClose := int(closesAt.Sub(ejectAt).Seconds()) / 60
		if minutesToClose < minutesBeforeClose {
			seconds += (minutesBeforeClose - minutesToClose) * 60
		}
	}
	return seconds + 1, nil
}

// ExpiresThisWeek reports whether the expiration falls in the current
// calendar week of the month.
func (c *Calendar) ExpiresThisWeek(expr string) (bool, error) {
	exprWeek, err := WeekOfMonth(expr)
	if err != nil {
		return false, err
	}
	thisWeek, err := WeekOfMonth(c.Today())
	if err != nil {
		return false, err
	}
	return exprWeek == thisWeek, nil
}

// WeekOfMonth returns which calendar row (Monday-first) of the month a date
// falls in, 1-based.
func WeekOfMonth(isoDate string) (int, error) {
	d, err := time.Parse(ISODate, isoDate)
	if err != nil {
		return 0, fmt.Errorf("parsing date %q: %w", isoDate, err)
	}
	first := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
	// Monday-first weekday index of the 1st.
	offset := (int(first.Weekday()) + 6) % 7
	return (d.Day()+offset-1)/7 + 1, nil
}
