// Package db wraps the SQLite handle trade and order records persist to.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Database wraps the SQL handle for easier swapping/testing.
type Database struct {
	DB *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	instrument TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity TEXT NOT NULL,
	entry_price TEXT NOT NULL,
	exit_price TEXT NOT NULL,
	realized_pnl TEXT NOT NULL,
	fees TEXT NOT NULL,
	close_reason TEXT NOT NULL,
	opened_at INTEGER NOT NULL,
	closed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	exchange_order_id TEXT NOT NULL,
	instrument TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity TEXT NOT NULL,
	status TEXT NOT NULL,
	submitted_at INTEGER NOT NULL
);
`

// New opens (and creates if needed) the SQLite database at path and runs
// the schema migration. Absence of a usable path is a startup error; an
// existing database with a stale schema is not handled (the module never
// renames or drops columns across versions).
func New(path string) (*Database, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1) // SQLite prefers single writer.
	sqlDB.SetConnMaxLifetime(time.Hour)

	if _, err := sqlDB.Exec(schema); err != nil {
		return nil, fmt.Errorf("run schema migration: %w", err)
	}

	return &Database{DB: sqlDB}, nil
}

// InsertTrade appends a closed-position record. Inserts are idempotent on
// id: a retry of the same closure does not double-count.
func (d *Database) InsertTrade(ctx context.Context, t TradeRecord) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (id, instrument, side, quantity, entry_price, exit_price, realized_pnl, fees, close_reason, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		t.ID, t.Instrument, t.Side, t.Quantity, t.EntryPrice, t.ExitPrice, t.RealizedPnL, t.Fees, t.CloseReason, t.OpenedAt.Unix(), t.ClosedAt.Unix())
	return err
}

// TradeRecord is a closed position persisted for later analysis by the
// optimization agent.
type TradeRecord struct {
	ID          string
	Instrument  string
	Side        string
	Quantity    string
	EntryPrice  string
	ExitPrice   string
	RealizedPnL string
	Fees        string
	CloseReason string
	OpenedAt    time.Time
	ClosedAt    time.Time
}

// OrderRecord is one order's persisted state, upserted on every status
// transition so the table always reflects the latest known state.
type OrderRecord struct {
	ID              string
	ExchangeOrderID string
	Instrument      string
	Side            string
	Quantity        string
	Status          string
	SubmittedAt     time.Time
}

// UpsertOrder writes an order record; for a prior row with the same id it
// updates only the exchange order id and the status.
func (d *Database) UpsertOrder(ctx context.Context, o OrderRecord) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (id, exchange_order_id, instrument, side, quantity, status, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			exchange_order_id = excluded.exchange_order_id,
			status = excluded.status`,
		o.ID, o.ExchangeOrderID, o.Instrument, o.Side, o.Quantity, o.Status, o.SubmittedAt.Unix())
	return err
}

// OrderByID returns the persisted record for id, if present.
func (d *Database) OrderByID(ctx context.Context, id string) (OrderRecord, bool, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, exchange_order_id, instrument, side, quantity, status, submitted_at
		FROM orders WHERE id = ?`, id)
	var o OrderRecord
	var submittedAt int64
	if err := row.Scan(&o.ID, &o.ExchangeOrderID, &o.Instrument, &o.Side, &o.Quantity, &o.Status, &submittedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return OrderRecord{}, false, nil
		}
		return OrderRecord{}, false, err
	}
	o.SubmittedAt = time.Unix(submittedAt, 0)
	return o, true, nil
}

// RecentTrades returns the most recent limit trade records, newest first.
func (d *Database) RecentTrades(ctx context.Context, limit int) ([]TradeRecord, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, instrument, side, quantity, entry_price, exit_price, realized_pnl, fees, close_reason, opened_at, closed_at
		FROM trades ORDER BY closed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var t TradeRecord
		var openedAt, closedAt int64
		if err := rows.Scan(&t.ID, &t.Instrument, &t.Side, &t.Quantity, &t.EntryPrice, &t.ExitPrice, &t.RealizedPnL, &t.Fees, &t.CloseReason, &openedAt, &closedAt); err != nil {
			return nil, err
		}
		t.OpenedAt = time.Unix(openedAt, 0)
		t.ClosedAt = time.Unix(closedAt, 0)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Close releases the underlying DB handle.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
