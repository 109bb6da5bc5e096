// Package calendar is the single authority for trading-day and session-hours
// queries. No other component may hard-code market hours or holidays.
package calendar

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Day describes one calendar row: whether it's a trading day, and its
// regular/early-close hours when it is.
type Day struct {
	Date          time.Time
	IsHoliday     bool
	RegularOpen   time.Time
	RegularClose  time.Time
	EarlyClose    *time.Time
	ExchangeGroup string
}

// Store is the persistence contract for the holiday/early-close table,
// loaded once at process start and refreshable on demand.
type Store interface {
	LoadDays(ctx context.Context, exchangeGroup string) ([]Day, error)
}

// Calendar answers is-trading-day / open / close / early-close / next-trading-day
// queries for one exchange group. It caches the full table in memory; callers
// never see disk I/O after the first Refresh.
type Calendar struct {
	store         Store
	exchangeGroup string
	log           zerolog.Logger

	mu   sync.RWMutex
	days map[string]Day // keyed by date.Format("2006-01-02")
}

// New constructs a Calendar for one exchange group and loads its table.
func New(ctx context.Context, store Store, exchangeGroup string, log zerolog.Logger) (*Calendar, error) {
	c := &Calendar{
		store:         store,
		exchangeGroup: exchangeGroup,
		log:           log.With().Str("component", "calendar").Str("exchange_group", exchangeGroup).Logger(),
	}
	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Refresh reloads the table from the store and swaps the cache atomically.
func (c *Calendar) Refresh(ctx context.Context) error {
	days, err := c.store.LoadDays(ctx, c.exchangeGroup)
	if err != nil {
		return fmt.Errorf("calendar: load days: %w", err)
	}
	m := make(map[string]Day, len(days))
	for _, d := range days {
		m[dateKey(d.Date)] = d
	}
	c.mu.Lock()
	c.days = m
	c.mu.Unlock()
	c.log.Info().Int("days", len(m)).Msg("calendar refreshed")
	return nil
}

func dateKey(t time.Time) string { return t.Format("2006-01-02") }

func (c *Calendar) lookup(date time.Time) (Day, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.days[dateKey(date)]
	return d, ok
}

// IsTradingDay reports whether date is a trading day: present in the table
// and not flagged a holiday. Dates absent from the table (weekends are never
// loaded) are treated as non-trading.
func (c *Calendar) IsTradingDay(date time.Time) bool {
	d, ok := c.lookup(date)
	return ok && !d.IsHoliday
}

// RegularOpen returns the regular session open instant for date, or the zero
// time and false if date is not a trading day.
func (c *Calendar) RegularOpen(date time.Time) (time.Time, bool) {
	d, ok := c.lookup(date)
	if !ok || d.IsHoliday {
		return time.Time{}, false
	}
	return d.RegularOpen, true
}

// RegularClose returns the effective close for date: the early-close time if
// one is set, otherwise the regular close. Callers that specifically need to
// know whether today is an early-close day should use EarlyClose.
func (c *Calendar) RegularClose(date time.Time) (time.Time, bool) {
	d, ok := c.lookup(date)
	if !ok || d.IsHoliday {
		return time.Time{}, false
	}
	if d.EarlyClose != nil {
		return *d.EarlyClose, true
	}
	return d.RegularClose, true
}

// EarlyClose returns the early-close instant for date, if the day has one.
func (c *Calendar) EarlyClose(date time.Time) (time.Time, bool) {
	d, ok := c.lookup(date)
	if !ok || d.IsHoliday || d.EarlyClose == nil {
		return time.Time{}, false
	}
	return *d.EarlyClose, true
}

// NextTradingDay returns the date n trading days after date (n must be >= 1).
// It walks the cached table in date order; dates beyond the cached horizon
// are never returned; the cache changes only when Refresh swaps it.
func (c *Calendar) NextTradingDay(date time.Time, n int) (time.Time, bool) {
	if n <= 0 {
		return date, true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.days))
	for k := range c.days {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := dateKey(date)
	found := 0
	for _, k := range keys {
		if k <= start {
			continue
		}
		d := c.days[k]
		if d.IsHoliday {
			continue
		}
		found++
		if found == n {
			return d.Date, true
		}
	}
	return time.Time{}, false
}

// sqlStore is the modernc.org/sqlite-backed reference Store implementation,
// grounded on internal/clientdata.Repository's load/validate pattern.
type sqlStore struct {
	db *sql.DB
}

// NewSQLStore wraps a *sql.DB holding a `trading_calendar` table with columns
// (date, is_holiday, regular_open, regular_close, early_close_time, exchange_group).
func NewSQLStore(db *sql.DB) Store {
	return &sqlStore{db: db}
}

func (s *sqlStore) LoadDays(ctx context.Context, exchangeGroup string) ([]Day, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, is_holiday, regular_open, regular_close, early_close_time
		FROM trading_calendar
		WHERE exchange_group = ?
		ORDER BY date`, exchangeGroup)
	if err != nil {
		return nil, fmt.Errorf("calendar: query trading_calendar: %w", err)
	}
	defer rows.Close()

	var out []Day
	for rows.Next() {
		var (
			dateStr, openStr, closeStr string
			earlyStr                   sql.NullString
			isHoliday                  bool
		)
		if err := rows.Scan(&dateStr, &isHoliday, &openStr, &closeStr, &earlyStr); err != nil {
			return nil, fmt.Errorf("calendar: scan row: %w", err)
		}
		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			return nil, fmt.Errorf("calendar: parse date %q: %w", dateStr, err)
		}
		d := Day{
			Date:          date,
			IsHoliday:     isHoliday,
			ExchangeGroup: exchangeGroup,
		}
		if !isHoliday {
			d.RegularOpen, err = time.Parse(time.RFC3339, openStr)
			if err != nil {
				return nil, fmt.Errorf("calendar: parse regular_open %q: %w", openStr, err)
			}
			d.RegularClose, err = time.Parse(time.RFC3339, closeStr)
			if err != nil {
				return nil, fmt.Errorf("calendar: parse regular_close %q: %w", closeStr, err)
			}
			if earlyStr.Valid && earlyStr.String != "" {
				t, err := time.Parse(time.RFC3339, earlyStr.String)
				if err != nil {
					return nil, fmt.Errorf("calendar: parse early_close_time %q: %w", earlyStr.String, err)
				}
				d.EarlyClose = &t
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
