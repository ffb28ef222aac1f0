package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"strconv"
	"time"

	"bfx-trade-bot/internal/bitfinex"
	"bfx-trade-bot/internal/state"

	"github.com/dgraph-io/badger/v3"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	kvPrefix        = "kv:"
	execPrefix      = "exec:"
	cancelPrefix    = "cancel:"
	movementsPrefix = "mov:"
)

// Store keeps bot state in BadgerDB. Executions and movements are keyed by
// big-endian timestamps so prefix iteration returns them oldest first.
type Store struct {
	db *badger.DB
}

type executionRecord struct {
	OrderID int64  `msgpack:"id"`
	TSNS    int64  `msgpack:"ts"`
	Symbol  string `msgpack:"symbol"`
	Side    string `msgpack:"side"`
	Amount  string `msgpack:"amount"`
	Price   string `msgpack:"price"`
	Market  bool   `msgpack:"market"`
}

type movementRecord struct {
	ID          int64  `msgpack:"id"`
	Currency    string `msgpack:"currency"`
	Method      string `msgpack:"method"`
	Type        string `msgpack:"type"`
	Amount      string `msgpack:"amount"`
	Fee         string `msgpack:"fee"`
	Status      string `msgpack:"status"`
	Description string `msgpack:"description"`
	TSNS        int64  `msgpack:"ts"`
}

func New(path string) (*Store, error) {
	return open(badger.DefaultOptions(path))
}

// NewInMemory opens a store that keeps nothing on disk.
func NewInMemory() (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true))
}

func open(opts badger.Options) (*Store, error) {
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	value, ok, err := s.get([]byte(kvPrefix + key))
	return string(value), ok, err
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(kvPrefix+key), []byte(value))
	})
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(kvPrefix + key))
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) RecordExecution(ctx context.Context, e state.Execution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := executionRecord{
		OrderID: e.OrderID,
		TSNS:    e.Timestamp.UnixNano(),
		Symbol:  e.Symbol,
		Side:    e.Side,
		Amount:  e.Amount.String(),
		Price:   e.Price.String(),
		Market:  e.Market,
	}
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(orderedKey(execPrefix, rec.TSNS, rec.OrderID), data)
	})
}

// Executions returns executions with since <= ts < until, oldest first.
func (s *Store) Executions(ctx context.Context, since, until time.Time) ([]state.Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := orderedKey(execPrefix, since.UnixNano(), 0)
	var out []state.Execution
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(start); it.ValidForPrefix([]byte(execPrefix)); it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var rec executionRecord
			if err := msgpack.Unmarshal(data, &rec); err != nil {
				return err
			}
			if rec.TSNS >= until.UnixNano() {
				break
			}
			e := state.Execution{
				OrderID:   rec.OrderID,
				Timestamp: time.Unix(0, rec.TSNS).UTC(),
				Symbol:    rec.Symbol,
				Side:      rec.Side,
				Market:    rec.Market,
			}
			if e.Amount, err = decimal.NewFromString(rec.Amount); err != nil {
				return err
			}
			if e.Price, err = decimal.NewFromString(rec.Price); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (s *Store) MarkCancelRequested(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(cancelKey(id), []byte{1})
	})
}

func (s *Store) CancelRequested(ctx context.Context, id int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, ok, err := s.get(cancelKey(id))
	return ok, err
}

// SaveMovements stores deposits and withdrawals. Re-saving an id overwrites it.
func (s *Store) SaveMovements(ctx context.Context, movements []bitfinex.Movement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, m := range movements {
			data, err := msgpack.Marshal(movementRecord{
				ID:          m.ID,
				Currency:    m.Currency,
				Method:      m.Method,
				Type:        m.Type,
				Amount:      m.Amount.String(),
				Fee:         m.Fee.String(),
				Status:      m.Status,
				Description: m.Description,
				TSNS:        m.Timestamp.UnixNano(),
			})
			if err != nil {
				return err
			}
			key := orderedKey(movementsPrefix+m.Currency+":", m.Timestamp.UnixNano(), m.ID)
			if err := txn.Set(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Movements(ctx context.Context, currency string) ([]bitfinex.Movement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := []byte(movementsPrefix + currency + ":")
	var out []bitfinex.Movement
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var rec movementRecord
			if err := msgpack.Unmarshal(data, &rec); err != nil {
				return err
			}
			m := bitfinex.Movement{
				ID:          rec.ID,
				Currency:    rec.Currency,
				Method:      rec.Method,
				Type:        rec.Type,
				Status:      rec.Status,
				Description: rec.Description,
				Timestamp:   time.Unix(0, rec.TSNS).UTC(),
			}
			if m.Amount, err = decimal.NewFromString(rec.Amount); err != nil {
				return err
			}
			if m.Fee, err = decimal.NewFromString(rec.Fee); err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	return out, err
}

func (s *Store) get(key []byte) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// orderedKey appends a sign-flipped big-endian timestamp and id to prefix.
func orderedKey(prefix string, tsNS, id int64) []byte {
	key := make([]byte, 0, len(prefix)+16)
	key = append(key, prefix...)
	key = binary.BigEndian.AppendUint64(key, uint64(tsNS)^(1<<63))
	key = binary.BigEndian.AppendUint64(key, uint64(id)^(1<<63))
	return key
}

func cancelKey(id int64) []byte {
	return []byte(cancelPrefix + strconv.FormatInt(id, 10))
}
