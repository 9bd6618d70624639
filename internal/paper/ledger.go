package paper

import (
	"context"
	"sync"

	"fxbot-go/internal/execution"
)

// Ledger stores the most recent terminal orders in memory for quick inspection.
type Ledger struct {
	mu     sync.Mutex
	limit  int
	orders []execution.Order
}

// NewLedger creates an empty ledger keeping at most limit orders (unbounded when limit <= 0).
func NewLedger(limit int) *Ledger {
	if limit < 0 {
		limit = 0
	}
	return &Ledger{limit: limit, orders: make([]execution.Order, 0, limit)}
}

// SaveTrade appends an order, evicting the oldest once the limit is reached.
func (l *Ledger) SaveTrade(_ context.Context, o execution.Order) error {
	l.mu.Lock()
	if l.limit > 0 && len(l.orders) == l.limit {
		copy(l.orders, l.orders[1:])
		l.orders = l.orders[:len(l.orders)-1]
	}
	l.orders = append(l.orders, o)
	l.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the recorded orders.
func (l *Ledger) Snapshot() []execution.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]execution.Order, len(l.orders))
	copy(out, l.orders)
	return out
}

// Count returns how many orders ended in the given status.
func (l *Ledger) Count(status execution.Status) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, o := range l.orders {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Reset clears all stored orders.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.orders = l.orders[:0]
	l.mu.Unlock()
}
