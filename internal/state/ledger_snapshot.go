package state

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"bfx-trade-bot/internal/bitfinex"
	"bfx-trade-bot/internal/ledger"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

const LedgerSnapshotKey = "tradebot:ledger"

type ledgerRecord struct {
	Orders []orderRecord `msgpack:"orders"`
	Pairs  [][2]int64    `msgpack:"pairs"`
	SaveMS int64         `msgpack:"saved_ms"`
}

type orderRecord struct {
	ID          int64  `msgpack:"id"`
	Symbol      string `msgpack:"symbol"`
	Side        string `msgpack:"side"`
	Type        string `msgpack:"type"`
	Price       string `msgpack:"price,omitempty"`
	AvgPrice    string `msgpack:"avg_price,omitempty"`
	Original    string `msgpack:"original"`
	Remaining   string `msgpack:"remaining"`
	Executed    string `msgpack:"executed"`
	IsLive      bool   `msgpack:"live"`
	IsCancelled bool   `msgpack:"cancelled"`
	TimestampNS int64  `msgpack:"ts"`
}

func LoadLedgerSnapshot(ctx context.Context, store Store) (ledger.Snapshot, bool, error) {
	if store == nil {
		return ledger.Snapshot{}, false, nil
	}
	raw, ok, err := store.Get(ctx, LedgerSnapshotKey)
	if err != nil {
		return ledger.Snapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return ledger.Snapshot{}, false, nil
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return ledger.Snapshot{}, false, err
	}
	var rec ledgerRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return ledger.Snapshot{}, false, err
	}
	snap := ledger.Snapshot{Pairs: rec.Pairs}
	for _, o := range rec.Orders {
		order, err := o.toOrder()
		if err != nil {
			return ledger.Snapshot{}, false, err
		}
		snap.Orders = append(snap.Orders, order)
	}
	return snap, true, nil
}

func SaveLedgerSnapshot(ctx context.Context, store Store, snap ledger.Snapshot) error {
	if store == nil {
		return nil
	}
	rec := ledgerRecord{Pairs: snap.Pairs, SaveMS: time.Now().UnixMilli()}
	for _, order := range snap.Orders {
		rec.Orders = append(rec.Orders, newOrderRecord(order))
	}
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return err
	}
	return store.Set(ctx, LedgerSnapshotKey, base64.StdEncoding.EncodeToString(data))
}

func newOrderRecord(o bitfinex.Order) orderRecord {
	rec := orderRecord{
		ID:          o.ID,
		Symbol:      o.Symbol,
		Side:        string(o.Side),
		Type:        string(o.Type),
		Original:    o.OriginalAmount.String(),
		Remaining:   o.RemainingAmount.String(),
		Executed:    o.ExecutedAmount.String(),
		IsLive:      o.IsLive,
		IsCancelled: o.IsCancelled,
	}
	if o.Price.Valid {
		rec.Price = o.Price.Decimal.String()
	}
	if o.AvgExecutionPrice.Valid {
		rec.AvgPrice = o.AvgExecutionPrice.Decimal.String()
	}
	if !o.Timestamp.IsZero() {
		rec.TimestampNS = o.Timestamp.UnixNano()
	}
	return rec
}

func (r orderRecord) toOrder() (bitfinex.Order, error) {
	order := bitfinex.Order{
		ID:          r.ID,
		Symbol:      r.Symbol,
		Side:        bitfinex.Side(r.Side),
		Type:        bitfinex.OrderType(r.Type),
		IsLive:      r.IsLive,
		IsCancelled: r.IsCancelled,
	}
	var err error
	if order.OriginalAmount, err = decimal.NewFromString(r.Original); err != nil {
		return order, err
	}
	if order.RemainingAmount, err = decimal.NewFromString(r.Remaining); err != nil {
		return order, err
	}
	if order.ExecutedAmount, err = decimal.NewFromString(r.Executed); err != nil {
		return order, err
	}
	if r.Price != "" {
		price, err := decimal.NewFromString(r.Price)
		if err != nil {
			return order, err
		}
		order.Price = decimal.NewNullDecimal(price)
	}
	if r.AvgPrice != "" {
		price, err := decimal.NewFromString(r.AvgPrice)
		if err != nil {
			return order, err
		}
		order.AvgExecutionPrice = decimal.NewNullDecimal(price)
	}
	if r.TimestampNS != 0 {
		order.Timestamp = time.Unix(0, r.TimestampNS).UTC()
	}
	return order, nil
}
