package walletstats

import (
	"context"
	"math"
	"sort"
	"strings"
	"testing"
	"time"

	"bfx-trade-bot/internal/bitfinex"
	"bfx-trade-bot/internal/state/sqlite"
	"bfx-trade-bot/internal/stats"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeExchange struct {
	balances  []bitfinex.Balance
	movements []bitfinex.Movement
	prices    map[string]decimal.Decimal
	calls     int
}

func (f *fakeExchange) Balances(context.Context) ([]bitfinex.Balance, error) {
	return f.balances, nil
}

func (f *fakeExchange) Movements(_ context.Context, currency string, since, until time.Time) ([]bitfinex.Movement, error) {
	f.calls++
	var out []bitfinex.Movement
	for _, m := range f.movements {
		ts := m.Timestamp.Unix()
		if m.Currency == currency && ts >= since.Unix() && ts <= until.Unix() {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > bitfinex.MovementsLimit {
		out = out[:bitfinex.MovementsLimit]
	}
	return out, nil
}

func (f *fakeExchange) Ticker(_ context.Context, symbol string) (bitfinex.Ticker, error) {
	return bitfinex.Ticker{Symbol: symbol, LastPrice: f.prices[strings.ToUpper(symbol)]}, nil
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

var t0 = time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)

func deposit(id int64, currency, amount string, at time.Time) bitfinex.Movement {
	return bitfinex.Movement{ID: id, Currency: currency, Type: "DEPOSIT", Status: "COMPLETED", Amount: decimal.RequireFromString(amount), Timestamp: at}
}

func TestRunComputesReturnPerCurrencyAndTotal(t *testing.T) {
	ex := &fakeExchange{
		balances: []bitfinex.Balance{
			{Wallet: bitfinex.WalletFunding, Currency: "usd", Amount: decimal.NewFromInt(1100)},
			{Wallet: bitfinex.WalletExchange, Currency: "btc", Amount: decimal.NewFromInt(1)},
		},
		movements: []bitfinex.Movement{
			deposit(1, "USD", "1000", t0),
			deposit(2, "BTC", "1", t0),
			{ID: 3, Currency: "USD", Type: "DEPOSIT", Status: "CANCELED", Amount: decimal.NewFromInt(5000), Timestamp: t0.Add(stats.Day)},
		},
		prices: map[string]decimal.Decimal{"BTCUSD": decimal.NewFromInt(100)},
	}
	s := New(ex, openStore(t), zap.NewNop())
	ctx := context.Background()
	rows, err := s.Run(ctx, Options{Since: t0, Until: t0.Add(stats.Year), Fiat: "usd"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected BTC, USD and total rows, got %+v", rows)
	}
	if rows[0].Currency != "BTC" || math.Abs(rows[0].Yearly) > 1e-6 {
		t.Fatalf("unexpected BTC row %+v", rows[0])
	}
	if rows[1].Currency != "USD" || math.Abs(rows[1].Yearly-0.10) > 1e-6 || rows[1].Flows != 2 {
		t.Fatalf("unexpected USD row %+v", rows[1])
	}
	if rows[2].Currency != Total || !rows[2].Value.Equal(decimal.NewFromInt(1200)) {
		t.Fatalf("unexpected total row %+v", rows[2])
	}
	if math.Abs(rows[2].Yearly-(1200.0/1100-1)) > 1e-6 {
		t.Fatalf("unexpected total xirr %v", rows[2].Yearly)
	}

	calls := ex.calls
	if _, err := s.Run(ctx, Options{Since: t0, Until: t0.Add(stats.Year), Fiat: "usd"}); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if ex.calls != calls {
		t.Fatalf("expected fetched ranges to be reused, got %d extra calls", ex.calls-calls)
	}
}

func TestFetchPagesThroughHistory(t *testing.T) {
	ex := &fakeExchange{
		balances: []bitfinex.Balance{{Wallet: bitfinex.WalletExchange, Currency: "usd", Amount: decimal.NewFromInt(1)}},
	}
	for i := 0; i < 1500; i++ {
		ex.movements = append(ex.movements, deposit(int64(i+1), "USD", "1", t0.Add(time.Duration(i)*time.Minute)))
	}
	store := openStore(t)
	s := New(ex, store, zap.NewNop())
	ctx := context.Background()
	until := t0.Add(2 * stats.Day)
	if err := s.fetch(ctx, "USD", t0.Unix(), until.Unix()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if ex.calls != 2 {
		t.Fatalf("expected two pages, got %d calls", ex.calls)
	}
	got, err := store.Movements(ctx, "USD")
	if err != nil {
		t.Fatalf("movements: %v", err)
	}
	if len(got) != 1500 {
		t.Fatalf("expected 1500 stored movements, got %d", len(got))
	}
	fetched, err := s.loadFetched(ctx, "USD")
	if err != nil {
		t.Fatalf("load fetched: %v", err)
	}
	if !fetched.Covers(t0.Unix(), until.Unix()) {
		t.Fatalf("expected full coverage, got %+v", fetched.Ranges)
	}
}

func TestFlowsSkipsOutOfRange(t *testing.T) {
	movements := []bitfinex.Movement{
		deposit(1, "USD", "10", t0.Add(-time.Hour)),
		deposit(2, "USD", "10", t0.Add(time.Hour)),
		{ID: 3, Currency: "USD", Type: "WITHDRAWAL", Status: "COMPLETED", Amount: decimal.NewFromInt(4), Timestamp: t0.Add(2 * time.Hour)},
	}
	flows := Flows(movements, decimal.NewFromInt(2), t0, t0.Add(stats.Day))
	if len(flows) != 2 || flows[0].Amount != -20 || flows[1].Amount != 8 {
		t.Fatalf("unexpected flows %+v", flows)
	}
}

func TestPendingMovementRefetchedOnceCompleted(t *testing.T) {
	later := t0.Add(time.Hour)
	ex := &fakeExchange{
		balances: []bitfinex.Balance{{Wallet: bitfinex.WalletExchange, Currency: "usd", Amount: decimal.NewFromInt(1650)}},
		movements: []bitfinex.Movement{
			deposit(1, "USD", "1000", t0),
			{ID: 2, Currency: "USD", Type: "DEPOSIT", Status: "PENDING", Amount: decimal.NewFromInt(500), Timestamp: later},
		},
	}
	store := openStore(t)
	s := New(ex, store, zap.NewNop())
	ctx := context.Background()
	opts := Options{Since: t0, Until: t0.Add(stats.Year), Fiat: "usd"}

	rows, err := s.Run(ctx, opts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rows) != 1 || rows[0].Flows != 2 {
		t.Fatalf("expected pending deposit to be left out, got %+v", rows)
	}
	fetched, err := s.loadFetched(ctx, "USD")
	if err != nil {
		t.Fatalf("load fetched: %v", err)
	}
	if fetched.Covers(later.Unix(), later.Unix()) {
		t.Fatalf("second with a pending deposit marked as fetched: %+v", fetched.Ranges)
	}

	ex.movements[1].Status = "COMPLETED"
	rows, err = s.Run(ctx, opts)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(rows) != 1 || rows[0].Flows != 3 {
		t.Fatalf("expected completed deposit to count, got %+v", rows)
	}
	if math.Abs(rows[0].Yearly-0.10) > 1e-3 {
		t.Fatalf("expected about 10%% yearly, got %v", rows[0].Yearly)
	}
	fetched, err = s.loadFetched(ctx, "USD")
	if err != nil {
		t.Fatalf("load fetched: %v", err)
	}
	if !fetched.Covers(t0.Unix(), opts.Until.Unix()) {
		t.Fatalf("expected full coverage once settled, got %+v", fetched.Ranges)
	}
}
