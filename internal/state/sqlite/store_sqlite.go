package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"bfx-trade-bot/internal/bitfinex"
	"bfx-trade-bot/internal/state"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS executed_orders (
		order_id INTEGER NOT NULL,
		ts_ns INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		amount TEXT NOT NULL,
		price TEXT NOT NULL,
		market INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS executed_orders_ts ON executed_orders (ts_ns)`,
	`CREATE TABLE IF NOT EXISTS cancelled_orders (id INTEGER PRIMARY KEY)`,
	`CREATE TABLE IF NOT EXISTS movements (
		id INTEGER PRIMARY KEY,
		currency TEXT NOT NULL,
		method TEXT NOT NULL,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		fee TEXT NOT NULL,
		status TEXT NOT NULL,
		description TEXT NOT NULL,
		ts_ns INTEGER NOT NULL
	)`,
}

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordExecution appends an executed order. Rows are never updated.
func (s *Store) RecordExecution(ctx context.Context, e state.Execution) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executed_orders (order_id, ts_ns, symbol, side, amount, price, market) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.OrderID, e.Timestamp.UnixNano(), e.Symbol, e.Side, e.Amount.String(), e.Price.String(), e.Market,
	)
	return err
}

// Executions returns executions with since <= ts < until, oldest first.
func (s *Store) Executions(ctx context.Context, since, until time.Time) ([]state.Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT order_id, ts_ns, symbol, side, amount, price, market FROM executed_orders WHERE ts_ns >= ? AND ts_ns < ? ORDER BY ts_ns, rowid`,
		since.UnixNano(), until.UnixNano(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []state.Execution
	for rows.Next() {
		var (
			e             state.Execution
			tsNS          int64
			amount, price string
		)
		if err := rows.Scan(&e.OrderID, &tsNS, &e.Symbol, &e.Side, &amount, &price, &e.Market); err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(0, tsNS).UTC()
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		if e.Price, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkCancelRequested adds id to the set of orders the bot asked to cancel.
func (s *Store) MarkCancelRequested(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO cancelled_orders (id) VALUES (?)`, id)
	return err
}

func (s *Store) CancelRequested(ctx context.Context, id int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM cancelled_orders WHERE id = ?`, id).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SaveMovements stores deposits and withdrawals. A known id only has its
// status updated.
func (s *Store) SaveMovements(ctx context.Context, movements []bitfinex.Movement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO movements (id, currency, method, type, amount, fee, status, description, ts_ns) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, m := range movements {
		if _, err := stmt.ExecContext(ctx, m.ID, m.Currency, m.Method, m.Type, m.Amount.String(), m.Fee.String(), m.Status, m.Description, m.Timestamp.UnixNano()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Movements(ctx context.Context, currency string) ([]bitfinex.Movement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, currency, method, type, amount, fee, status, description, ts_ns FROM movements WHERE currency = ? ORDER BY ts_ns, id`, currency)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []bitfinex.Movement
	for rows.Next() {
		var (
			m           bitfinex.Movement
			amount, fee string
			tsNS        int64
		)
		if err := rows.Scan(&m.ID, &m.Currency, &m.Method, &m.Type, &amount, &fee, &m.Status, &m.Description, &tsNS); err != nil {
			return nil, err
		}
		if m.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		if m.Fee, err = decimal.NewFromString(fee); err != nil {
			return nil, err
		}
		m.Timestamp = time.Unix(0, tsNS).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}
