package tradebot

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"bfx-trade-bot/internal/alerts"
	"bfx-trade-bot/internal/bitfinex"
	"bfx-trade-bot/internal/state"
	"bfx-trade-bot/internal/timescale"

	"github.com/shopspring/decimal"
)

var (
	errNotFound       = &bitfinex.APIError{Status: 400, Message: "No such order found."}
	errNotCancellable = &bitfinex.APIError{Status: 400, Message: "Order could not be cancelled."}
	errNotEnough      = &bitfinex.APIError{Status: 400, Message: "Invalid order: not enough exchange balance for 1 ETCUSD at 9.9"}
	errRateLimit      = &bitfinex.APIError{Status: 429, Message: "ERR_RATE_LIMIT"}
)

type placement struct {
	Symbol string
	Side   bitfinex.Side
	Amount decimal.Decimal
	Price  decimal.Decimal
	Market bool
}

type fakeExchange struct {
	nextID      int64
	orders      map[int64]bitfinex.Order
	balances    []bitfinex.Balance
	placements  []placement
	cancels     []int64
	statusCalls map[int64]int

	activeErrs []error
	statusErrs map[int64][]error
	// statusAlways is returned for every status lookup when set.
	statusAlways error
	cancelErrs   map[int64][]error
	cancelAlways map[int64]error
	placeErrs    map[bitfinex.Side]error
	marketPrice  decimal.Decimal
	// onStatus runs before every status lookup.
	onStatus func(id int64)
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		nextID:       100,
		orders:       make(map[int64]bitfinex.Order),
		statusCalls:  make(map[int64]int),
		statusErrs:   make(map[int64][]error),
		cancelErrs:   make(map[int64][]error),
		cancelAlways: make(map[int64]error),
		placeErrs:    make(map[bitfinex.Side]error),
	}
}

func (f *fakeExchange) setBalance(currency string, amount, available string) {
	for i := range f.balances {
		if f.balances[i].Currency == currency {
			f.balances = append(f.balances[:i], f.balances[i+1:]...)
			break
		}
	}
	f.balances = append(f.balances, bitfinex.Balance{
		Wallet:    bitfinex.WalletExchange,
		Currency:  currency,
		Amount:    decimal.RequireFromString(amount),
		Available: decimal.RequireFromString(available),
	})
}

func (f *fakeExchange) Balances(context.Context) ([]bitfinex.Balance, error) {
	out := make([]bitfinex.Balance, len(f.balances))
	copy(out, f.balances)
	return out, nil
}

func (f *fakeExchange) ActiveOrders(context.Context) ([]bitfinex.Order, error) {
	if len(f.activeErrs) > 0 {
		err := f.activeErrs[0]
		f.activeErrs = f.activeErrs[1:]
		return nil, err
	}
	var out []bitfinex.Order
	for _, o := range f.orders {
		if o.IsLive {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeExchange) OrderStatus(_ context.Context, id int64) (bitfinex.Order, error) {
	f.statusCalls[id]++
	if f.onStatus != nil {
		f.onStatus(id)
	}
	if f.statusAlways != nil {
		return bitfinex.Order{}, f.statusAlways
	}
	if errs := f.statusErrs[id]; len(errs) > 0 {
		f.statusErrs[id] = errs[1:]
		return bitfinex.Order{}, errs[0]
	}
	o, ok := f.orders[id]
	if !ok {
		return bitfinex.Order{}, errNotFound
	}
	return o, nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, id int64) error {
	f.cancels = append(f.cancels, id)
	if err := f.cancelAlways[id]; err != nil {
		return err
	}
	if errs := f.cancelErrs[id]; len(errs) > 0 {
		f.cancelErrs[id] = errs[1:]
		return errs[0]
	}
	o, ok := f.orders[id]
	if !ok {
		return errNotFound
	}
	o.IsLive = false
	o.IsCancelled = true
	f.orders[id] = o
	return nil
}

func (f *fakeExchange) PlaceLimitOrder(_ context.Context, symbol string, amount, price decimal.Decimal, side bitfinex.Side) (bitfinex.Order, error) {
	f.placements = append(f.placements, placement{Symbol: symbol, Side: side, Amount: amount, Price: price})
	if err := f.placeErrs[side]; err != nil {
		return bitfinex.Order{}, err
	}
	f.nextID++
	o := bitfinex.Order{
		ID:              f.nextID,
		Symbol:          symbol,
		Side:            side,
		Type:            bitfinex.TypeExchangeLimit,
		Price:           decimal.NewNullDecimal(price),
		OriginalAmount:  amount,
		RemainingAmount: amount,
		ExecutedAmount:  decimal.Zero,
		IsLive:          true,
		Timestamp:       time.Unix(1700000000+f.nextID, 0).UTC(),
	}
	f.orders[o.ID] = o
	return o, nil
}

// PlaceMarketOrder fills immediately at marketPrice.
func (f *fakeExchange) PlaceMarketOrder(_ context.Context, symbol string, amount decimal.Decimal, side bitfinex.Side) (bitfinex.Order, error) {
	f.placements = append(f.placements, placement{Symbol: symbol, Side: side, Amount: amount, Market: true})
	f.nextID++
	o := bitfinex.Order{
		ID:                f.nextID,
		Symbol:            symbol,
		Side:              side,
		Type:              bitfinex.TypeExchangeMarket,
		OriginalAmount:    amount,
		ExecutedAmount:    amount,
		AvgExecutionPrice: decimal.NewNullDecimal(f.marketPrice),
		Timestamp:         time.Unix(1700000000+f.nextID, 0).UTC(),
	}
	f.orders[o.ID] = o
	return o, nil
}

func (f *fakeExchange) fill(id int64, price string) {
	o := f.orders[id]
	o.IsLive = false
	o.ExecutedAmount = o.OriginalAmount
	o.RemainingAmount = decimal.Zero
	o.AvgExecutionPrice = decimal.NewNullDecimal(decimal.RequireFromString(price))
	f.orders[id] = o
}

func (f *fakeExchange) cancelExternally(id int64) {
	o := f.orders[id]
	o.IsLive = false
	o.IsCancelled = true
	f.orders[id] = o
}

func (f *fakeExchange) limitPlacements() []placement {
	var out []placement
	for _, p := range f.placements {
		if !p.Market {
			out = append(out, p)
		}
	}
	return out
}

type fakePrices map[string]decimal.Decimal

func (p fakePrices) LastPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	return p[symbol], nil
}

type fakeSink struct {
	executions      []state.Execution
	cancelRequested map[int64]bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{cancelRequested: make(map[int64]bool)}
}

func (s *fakeSink) RecordExecution(_ context.Context, e state.Execution) error {
	s.executions = append(s.executions, e)
	return nil
}

func (s *fakeSink) Executions(_ context.Context, since, until time.Time) ([]state.Execution, error) {
	var out []state.Execution
	for _, e := range s.executions {
		if !e.Timestamp.Before(since) && e.Timestamp.Before(until) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeSink) MarkCancelRequested(_ context.Context, id int64) error {
	s.cancelRequested[id] = true
	return nil
}

func (s *fakeSink) CancelRequested(_ context.Context, id int64) (bool, error) {
	return s.cancelRequested[id], nil
}

type fakeNotifier struct {
	events []alerts.Event
}

func (n *fakeNotifier) Notify(_ context.Context, ev alerts.Event) error {
	n.events = append(n.events, ev)
	return nil
}

func (n *fakeNotifier) find(substr string) (alerts.Event, bool) {
	for _, ev := range n.events {
		if strings.Contains(ev.Text, substr) {
			return ev, true
		}
	}
	return alerts.Event{}, false
}

type fakeMirror struct {
	executions []state.Execution
	balances   []timescale.BalanceSnapshot
}

func (m *fakeMirror) EnqueueExecution(e state.Execution) { m.executions = append(m.executions, e) }
func (m *fakeMirror) EnqueueBalance(snap timescale.BalanceSnapshot) { m.balances = append(m.balances, snap) }

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]string)}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *memoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) Close() error { return nil }

type sleepRecorder struct {
	calls []time.Duration
	// stopAfter cancels the run once this many sleeps happened when > 0.
	stopAfter int
	cancel    context.CancelFunc
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	if s.stopAfter > 0 && len(s.calls) >= s.stopAfter && s.cancel != nil {
		s.cancel()
	}
	return ctx.Err()
}

func (s *sleepRecorder) count(d time.Duration) int {
	n := 0
	for _, c := range s.calls {
		if c == d {
			n++
		}
	}
	return n
}
