// Package store defines the historical bar store contract and ships a
// modernc.org/sqlite-backed reference implementation.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/marketsession/internal/bar"
)

// BarStore is the external historical bar store collaborator. Bars are
// unique on (symbol, interval, timestamp); writes are idempotent upserts.
type BarStore interface {
	GetBars(ctx context.Context, symbol string, iv bar.Interval, start, end time.Time) ([]bar.Bar, error)
	BulkUpsert(ctx context.Context, symbol string, iv bar.Interval, bars []bar.Bar) error
	DateRange(ctx context.Context, symbol string, iv bar.Interval) (min, max time.Time, ok bool, err error)
	HasData(ctx context.Context, symbol string, iv bar.Interval, start, end time.Time) (bool, error)
}

// SQLStore implements BarStore against a single `bars` table with columns
// (symbol, interval, ts, open, high, low, close, volume), unique on
// (symbol, interval, ts).
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps a *sql.DB. Callers are responsible for migrating the
// `bars` table before use (see Migrate).
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Migrate creates the `bars` table if it does not already exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bars (
			symbol   TEXT NOT NULL,
			interval TEXT NOT NULL,
			ts       INTEGER NOT NULL,
			open     REAL NOT NULL,
			high     REAL NOT NULL,
			low      REAL NOT NULL,
			close    REAL NOT NULL,
			volume   REAL NOT NULL,
			PRIMARY KEY (symbol, interval, ts)
		)`)
	if err != nil {
		return fmt.Errorf("store: migrate bars table: %w", err)
	}
	return nil
}

// GetBars returns bars for (symbol, interval) within [start, end], ordered
// by timestamp ascending.
func (s *SQLStore) GetBars(ctx context.Context, symbol string, iv bar.Interval, start, end time.Time) ([]bar.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume FROM bars
		WHERE symbol = ? AND interval = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC`, symbol, iv.String(), start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("store: query bars: %w", err)
	}
	defer rows.Close()

	var out []bar.Bar
	for rows.Next() {
		var ts int64
		var b bar.Bar
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("store: scan bar row: %w", err)
		}
		b.Timestamp = time.Unix(ts, 0).UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

// BulkUpsert idempotently inserts or replaces bars for (symbol, interval).
// Duplicate (symbol, interval, ts) rows overwrite the prior value.
func (s *SQLStore) BulkUpsert(ctx context.Context, symbol string, iv bar.Interval, bars []bar.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (symbol, interval, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, interval, ts) DO UPDATE SET
			open=excluded.open, high=excluded.high, low=excluded.low,
			close=excluded.close, volume=excluded.volume`)
	if err != nil {
		return fmt.Errorf("store: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, symbol, iv.String(), b.Timestamp.Unix(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			return fmt.Errorf("store: upsert bar %s@%s: %w", symbol, b.Timestamp, err)
		}
	}
	return tx.Commit()
}

// DateRange returns the min/max timestamp on file for (symbol, interval).
// ok is false when no rows exist.
func (s *SQLStore) DateRange(ctx context.Context, symbol string, iv bar.Interval) (time.Time, time.Time, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT MIN(ts), MAX(ts) FROM bars WHERE symbol = ? AND interval = ?`, symbol, iv.String())
	var minTS, maxTS sql.NullInt64
	if err := row.Scan(&minTS, &maxTS); err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("store: date range: %w", err)
	}
	if !minTS.Valid || !maxTS.Valid {
		return time.Time{}, time.Time{}, false, nil
	}
	return time.Unix(minTS.Int64, 0).UTC(), time.Unix(maxTS.Int64, 0).UTC(), true, nil
}

// HasData reports whether any bar exists for (symbol, interval) in [start, end].
func (s *SQLStore) HasData(ctx context.Context, symbol string, iv bar.Interval, start, end time.Time) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM bars WHERE symbol = ? AND interval = ? AND ts >= ? AND ts <= ?)`,
		symbol, iv.String(), start.Unix(), end.Unix())
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("store: has data: %w", err)
	}
	return exists, nil
}
