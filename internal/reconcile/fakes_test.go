package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ariefcatur/go-tiffin-subscriptions/internal/subscriptions"
)

type memOrders struct {
	mu     sync.Mutex
	orders map[int64]*subscriptions.Order
	calls  int
}

func (m *memOrders) GetOrder(_ context.Context, id int64) (*subscriptions.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, subscriptions.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

type availKey struct {
	sub  int64
	date string
}

type memCatalog struct {
	available map[availKey][]int64
	items     map[int64]subscriptions.MenuItem
}

func (m *memCatalog) AvailableItemIDs(_ context.Context, sub int64, date string) ([]int64, error) {
	return append([]int64{}, m.available[availKey{sub, date}]...), nil
}

func (m *memCatalog) ItemDetails(_ context.Context, ids []int64) ([]subscriptions.MenuItem, error) {
	out := []subscriptions.MenuItem{}
	for _, id := range ids {
		if it, ok := m.items[id]; ok {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// memLedger keeps one row per key; a nil payload is a skipped meal.
type memLedger struct {
	mu        sync.Mutex
	rows      map[subscriptions.MealKey][]subscriptions.ItemSelection
	clearErr  error
	recordErr error
	writes    int
}

func newLedger() *memLedger {
	return &memLedger{rows: map[subscriptions.MealKey][]subscriptions.ItemSelection{}}
}

func (m *memLedger) ClearOptOut(_ context.Context, k subscriptions.MealKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.clearErr != nil {
		return m.clearErr
	}
	delete(m.rows, k)
	return nil
}

func (m *memLedger) RecordConfirmedSelection(_ context.Context, k subscriptions.MealKey, items []subscriptions.ItemSelection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.recordErr != nil {
		return m.recordErr
	}
	delete(m.rows, k)
	m.rows[k] = append([]subscriptions.ItemSelection{}, items...)
	return nil
}

func (m *memLedger) row(k subscriptions.MealKey) ([]subscriptions.ItemSelection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[k]
	return r, ok
}

// memSelections mirrors SelectionRepo: a read, then a full overwrite. With
// lock set the read and write are serialized per store like a row lock.
type memSelections struct {
	mu        sync.Mutex
	rowLock   sync.Mutex
	lock      bool
	data      map[int64]subscriptions.Selection
	afterRead func(orderID int64)
	writeErr  error
	writes    int
}

func (m *memSelections) ReplaceForDate(_ context.Context, orderID int64, date string, items []subscriptions.ItemSelection) (subscriptions.Selection, error) {
	if m.lock {
		m.rowLock.Lock()
		defer m.rowLock.Unlock()
	}

	m.mu.Lock()
	cur, ok := m.data[orderID]
	snapshot := append(subscriptions.Selection{}, cur...)
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, subscriptions.ErrNotFound)
	}

	if m.afterRead != nil {
		m.afterRead(orderID)
	}

	next, err := subscriptions.ReplaceForDate(snapshot, date, items)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return nil, m.writeErr
	}
	m.writes++
	m.data[orderID] = next
	return next, nil
}

func (m *memSelections) get(orderID int64) subscriptions.Selection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[orderID]
}
