package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"bfx-trade-bot/internal/config"
	"bfx-trade-bot/internal/state"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// BalanceSnapshot is one wallet line of the periodic account value log.
type BalanceSnapshot struct {
	Time      time.Time
	Currency  string
	Amount    decimal.Decimal
	Available decimal.Decimal
	Price     decimal.Decimal
	Value     decimal.Decimal
}

// Writer mirrors executions and account values into TimescaleDB. Writes are
// queued and dropped when the queue is full; the local ledger stays the source of truth.
type Writer struct {
	db          *sql.DB
	log         *zap.Logger
	schema      string
	executions  chan state.Execution
	balances    chan BalanceSnapshot
	started     atomic.Bool
	dropExec    atomic.Uint64
	dropBalance atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, log, cfg.Schema, cfg.QueueSize)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, log *zap.Logger, schema string, queueSize int) *Writer {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "public"
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		db:         db,
		log:        log,
		schema:     schema,
		executions: make(chan state.Execution, queueSize),
		balances:   make(chan BalanceSnapshot, queueSize),
	}
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueExecution(e state.Execution) {
	if w == nil {
		return
	}
	select {
	case w.executions <- e:
	default:
		if w.dropExec.Add(1) == 1 {
			w.log.Warn("timescale execution queue full")
		}
	}
}

func (w *Writer) EnqueueBalance(snap BalanceSnapshot) {
	if w == nil {
		return
	}
	select {
	case w.balances <- snap:
	default:
		if w.dropBalance.Add(1) == 1 {
			w.log.Warn("timescale balance queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-w.executions:
			w.writeExecution(ctx, e)
		case snap := <-w.balances:
			w.writeBalance(ctx, snap)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		order_id BIGINT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		price NUMERIC NOT NULL,
		market BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (ts, order_id)
	)`, w.table("executed_orders"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		currency TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		available NUMERIC NOT NULL,
		price NUMERIC NOT NULL,
		value NUMERIC NOT NULL
	)`, w.table("account_value"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"executed_orders", "account_value"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeExecution(ctx context.Context, e state.Execution) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, order_id, symbol, side, amount, price, market
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7
	)
	ON CONFLICT (ts, order_id) DO NOTHING`, w.table("executed_orders"))
	if _, err := w.db.ExecContext(ctx, query,
		e.Timestamp.UTC(),
		e.OrderID,
		e.Symbol,
		e.Side,
		e.Amount.String(),
		e.Price.String(),
		e.Market,
	); err != nil {
		w.log.Warn("timescale execution insert failed", zap.Int64("order_id", e.OrderID), zap.Error(err))
	}
}

func (w *Writer) writeBalance(ctx context.Context, snap BalanceSnapshot) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, currency, amount, available, price, value
	) VALUES (
		$1,$2,$3,$4,$5,$6
	)`, w.table("account_value"))
	if _, err := w.db.ExecContext(ctx, query,
		snap.Time.UTC(),
		snap.Currency,
		snap.Amount.String(),
		snap.Available.String(),
		snap.Price.String(),
		snap.Value.String(),
	); err != nil {
		w.log.Warn("timescale balance insert failed", zap.String("currency", snap.Currency), zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
