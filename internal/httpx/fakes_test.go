package httpx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ariefcatur/go-tiffin-subscriptions/internal/kitchen"
	"github.com/ariefcatur/go-tiffin-subscriptions/internal/reconcile"
	"github.com/ariefcatur/go-tiffin-subscriptions/internal/subscriptions"
	kafkago "github.com/segmentio/kafka-go"
)

type fakeLedger struct {
	owners map[int64]string // active subscriptions
	rows   map[subscriptions.MealKey]*subscriptions.OptOutRecord
	err    error
	gets   int

	afterGet func() // runs once the row has been read
}

func newLedger() *fakeLedger {
	return &fakeLedger{
		owners: map[int64]string{42: "u-1"},
		rows:   map[subscriptions.MealKey]*subscriptions.OptOutRecord{},
	}
}

func (l *fakeLedger) VerifyActive(_ context.Context, sub int64, user string) error {
	if l.err != nil {
		return l.err
	}
	if l.owners[sub] != user {
		return fmt.Errorf("subscription %d: %w", sub, subscriptions.ErrNotFound)
	}
	return nil
}

func (l *fakeLedger) SetOptOut(ctx context.Context, k subscriptions.MealKey) error {
	if err := l.VerifyActive(ctx, k.SubscriptionID, k.UserID); err != nil {
		return err
	}
	if r, ok := l.rows[k]; ok {
		r.Skipped = true
		r.CreatedAt = time.Now()
		return nil
	}
	l.rows[k] = &subscriptions.OptOutRecord{ID: int64(len(l.rows) + 1), SubscriptionID: k.SubscriptionID, UserID: k.UserID,
		Date: k.Date, MealTime: k.MealTime, Skipped: true, CreatedAt: time.Now()}
	return nil
}

func (l *fakeLedger) confirm(k subscriptions.MealKey, items []subscriptions.ItemSelection) {
	l.rows[k] = &subscriptions.OptOutRecord{ID: int64(len(l.rows) + 1), SubscriptionID: k.SubscriptionID, UserID: k.UserID,
		Date: k.Date, MealTime: k.MealTime, SelectedItems: items, CreatedAt: time.Now()}
}

func (l *fakeLedger) ClearOptOut(_ context.Context, k subscriptions.MealKey) error {
	if l.err != nil {
		return l.err
	}
	delete(l.rows, k)
	return nil
}

func (l *fakeLedger) Get(_ context.Context, k subscriptions.MealKey) (*subscriptions.OptOutRecord, error) {
	l.gets++
	if l.err != nil {
		return nil, l.err
	}
	r, ok := l.rows[k]
	var cp subscriptions.OptOutRecord
	if ok {
		cp = *r
	}
	if hook := l.afterGet; hook != nil {
		l.afterGet = nil
		hook()
	}
	if !ok {
		return nil, subscriptions.ErrNotFound
	}
	return &cp, nil
}

func (l *fakeLedger) QueryByPlan(_ context.Context, planID int64) ([]subscriptions.PlanOptOut, error) {
	if l.err != nil {
		return nil, l.err
	}
	out := []subscriptions.PlanOptOut{}
	for _, r := range l.rows {
		out = append(out, subscriptions.PlanOptOut{OptOutRecord: *r, OrderID: r.SubscriptionID, PlanID: planID})
	}
	return out, nil
}

type fakeReconciler struct {
	got    reconcile.ConfirmInput
	res    reconcile.ConfirmResult
	err    error
	ledger *fakeLedger // when set, a successful confirmation records res.Items
}

func (f *fakeReconciler) ConfirmSelection(_ context.Context, in reconcile.ConfirmInput) (reconcile.ConfirmResult, error) {
	f.got = in
	if f.err == nil && f.ledger != nil && len(f.res.Items) > 0 {
		f.ledger.confirm(f.res.Key, f.res.Items)
	}
	return f.res, f.err
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []kafkago.Message
}

func (p *recordingPublisher) Publish(key, value []byte, headers ...kafkago.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, kafkago.Message{Key: key, Value: value, Headers: headers})
}

type fakeOrders struct {
	created  []subscriptions.NewOrder
	byUser   map[string][]subscriptions.Order
	status   map[int64]subscriptions.OrderStatus
	deleteFn func(id int64, user string) error
}

func (f *fakeOrders) Create(_ context.Context, n subscriptions.NewOrder) (int64, error) {
	if err := n.Validate(); err != nil {
		return 0, err
	}
	f.created = append(f.created, n)
	return int64(100 + len(f.created)), nil
}

func (f *fakeOrders) ListByUser(_ context.Context, user string) ([]subscriptions.Order, error) {
	return append([]subscriptions.Order{}, f.byUser[user]...), nil
}

func (f *fakeOrders) ListByPlan(_ context.Context, planID int64) ([]subscriptions.Order, error) {
	var out []subscriptions.Order
	for _, os := range f.byUser {
		for _, o := range os {
			if o.PlanID == planID {
				out = append(out, o)
			}
		}
	}
	return out, nil
}

func (f *fakeOrders) UpdateStatus(_ context.Context, id int64, to subscriptions.OrderStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", subscriptions.ErrValidation, to)
	}
	from, ok := f.status[id]
	if !ok {
		return subscriptions.ErrNotFound
	}
	if !subscriptions.CanTransition(from, to) {
		return fmt.Errorf("%w: order %d cannot move from %s to %s", subscriptions.ErrConflict, id, from, to)
	}
	f.status[id] = to
	return nil
}

func (f *fakeOrders) Delete(_ context.Context, id int64, user string) error {
	return f.deleteFn(id, user)
}

type fakePlans struct {
	plans map[int64]subscriptions.Plan
	err   error
}

func (f *fakePlans) Get(_ context.Context, id int64) (*subscriptions.Plan, error) {
	p, ok := f.plans[id]
	if !ok {
		return nil, fmt.Errorf("plan %d: %w", id, subscriptions.ErrNotFound)
	}
	return &p, nil
}

func (f *fakePlans) Delete(context.Context, int64) error { return f.err }

type fakeProjector struct{ slot kitchen.Slot }

func (f *fakeProjector) Projection(_ context.Context, date, mealTime string) (kitchen.Slot, error) {
	s := f.slot
	s.Date, s.MealTime = date, mealTime
	return s, nil
}
