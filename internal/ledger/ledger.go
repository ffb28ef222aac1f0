package ledger

import (
	"sort"
	"sync"

	"bfx-trade-bot/internal/bitfinex"
)

// Ledger holds the watched orders and the pairing between orders created
// together. Pairings are symmetric: A->B exists iff B->A exists.
type Ledger struct {
	mu     sync.Mutex
	orders map[int64]bitfinex.Order
	pairs  map[int64]int64
}

// Snapshot is a copy of the ledger contents. Each pair appears once.
type Snapshot struct {
	Orders []bitfinex.Order
	Pairs  [][2]int64
}

func New() *Ledger {
	return &Ledger{
		orders: make(map[int64]bitfinex.Order),
		pairs:  make(map[int64]int64),
	}
}

// Watch adds or replaces the snapshot for order.ID.
func (l *Ledger) Watch(order bitfinex.Order) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.orders[order.ID] = order
}

// Unwatch removes the order and any pairing it is part of.
func (l *Ledger) Unwatch(id int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.orders, id)
	l.unpairLocked(id)
}

func (l *Ledger) IsWatched(id int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.orders[id]
	return ok
}

func (l *Ledger) Get(id int64) (bitfinex.Order, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	order, ok := l.orders[id]
	return order, ok
}

// Pair links a and b, dropping any earlier pairing of either.
func (l *Ledger) Pair(a, b int64) {
	if a == b {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unpairLocked(a)
	l.unpairLocked(b)
	l.pairs[a] = b
	l.pairs[b] = a
}

// Unpair removes both sides of the pairing of id and returns the sibling.
func (l *Ledger) Unpair(id int64) (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unpairLocked(id)
}

func (l *Ledger) unpairLocked(id int64) (int64, bool) {
	other, ok := l.pairs[id]
	if !ok {
		return 0, false
	}
	delete(l.pairs, id)
	delete(l.pairs, other)
	return other, true
}

func (l *Ledger) PairedWith(id int64) (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	other, ok := l.pairs[id]
	return other, ok
}

// All returns the watched orders ordered by id.
func (l *Ledger) All() []bitfinex.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allLocked()
}

func (l *Ledger) allLocked() []bitfinex.Order {
	out := make([]bitfinex.Order, 0, len(l.orders))
	for _, order := range l.orders {
		out = append(out, order)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *Ledger) IDs() []int64 {
	orders := l.All()
	ids := make([]int64, len(orders))
	for i, order := range orders {
		ids[i] = order.ID
	}
	return ids
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.orders)
}

// CountSymbol returns how many watched orders belong to symbol.
func (l *Ledger) CountSymbol(symbol string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, order := range l.orders {
		if order.Symbol == symbol {
			n++
		}
	}
	return n
}

func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap := Snapshot{Orders: l.allLocked()}
	for a, b := range l.pairs {
		if a < b {
			snap.Pairs = append(snap.Pairs, [2]int64{a, b})
		}
	}
	sort.Slice(snap.Pairs, func(i, j int) bool { return snap.Pairs[i][0] < snap.Pairs[j][0] })
	return snap
}

// Restore replaces the ledger contents. Pairs whose members are not both
// among the restored orders are dropped.
func (l *Ledger) Restore(snap Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.orders = make(map[int64]bitfinex.Order, len(snap.Orders))
	l.pairs = make(map[int64]int64, len(snap.Pairs)*2)
	for _, order := range snap.Orders {
		l.orders[order.ID] = order
	}
	for _, pair := range snap.Pairs {
		a, b := pair[0], pair[1]
		_, okA := l.orders[a]
		_, okB := l.orders[b]
		if !okA || !okB || a == b {
			continue
		}
		l.unpairLocked(a)
		l.unpairLocked(b)
		l.pairs[a] = b
		l.pairs[b] = a
	}
}
