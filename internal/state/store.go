package state

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store is a small key/value store for process state that must survive a restart.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Execution is one row of the append-only executed orders ledger.
type Execution struct {
	OrderID   int64
	Timestamp time.Time
	Symbol    string
	Side      string
	Amount    decimal.Decimal
	Price     decimal.Decimal
	Market    bool
}

// SideTotal aggregates executions of one side, optionally per symbol.
type SideTotal struct {
	Symbol string
	Side   string
	Count  int
	Value  decimal.Decimal
}
