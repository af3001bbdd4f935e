package reconcile

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-tiffin-subscriptions/internal/metrics"
	"github.com/ariefcatur/go-tiffin-subscriptions/internal/subscriptions"
	"go.uber.org/zap"
)

type Orders interface {
	GetOrder(ctx context.Context, id int64) (*subscriptions.Order, error)
}

type Catalog interface {
	AvailableItemIDs(ctx context.Context, subscriptionID int64, date string) ([]int64, error)
	ItemDetails(ctx context.Context, ids []int64) ([]subscriptions.MenuItem, error)
}

type Ledger interface {
	ClearOptOut(ctx context.Context, k subscriptions.MealKey) error
	RecordConfirmedSelection(ctx context.Context, k subscriptions.MealKey, items []subscriptions.ItemSelection) error
}

type Selections interface {
	ReplaceForDate(ctx context.Context, orderID int64, date string, items []subscriptions.ItemSelection) (subscriptions.Selection, error)
}

const (
	opClearOptOut     = "clear_opt_out"
	opRecordSelection = "record_confirmed_selection"
)

type Service struct {
	Orders     Orders
	Catalog    Catalog
	Ledger     Ledger
	Selections Selections

	MealTime   string // stamped on confirmed items and used as the ledger key
	BestEffort BestEffort
	Log        *zap.Logger
	Metrics    *metrics.Metrics
}

// New wires a Service with the best-effort policy logging to log and counting
// into m. m may be nil.
func New(o Orders, c Catalog, l Ledger, s Selections, mealTime string, log *zap.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	svc := &Service{
		Orders:     o,
		Catalog:    c,
		Ledger:     l,
		Selections: s,
		MealTime:   mealTime,
		Log:        log.Named("reconcile"),
		Metrics:    m,
	}
	svc.BestEffort = BestEffort{Log: svc.Log}
	if m != nil {
		svc.BestEffort.Failures = m.BestEffortFailures
	}
	return svc
}

type ConfirmInput struct {
	OrderID int64
	Date    string
	ItemIDs []int64
}

func (in ConfirmInput) Validate() error {
	if in.OrderID <= 0 || in.Date == "" {
		return fmt.Errorf("%w: order_id and date are required", subscriptions.ErrValidation)
	}
	_, err := subscriptions.ParseDate(in.Date)
	return err
}

type ConfirmResult struct {
	Key           subscriptions.MealKey
	OptedOutCount int
	SelectedCount int
	Items         []subscriptions.ItemSelection // resolved items written for the date
	Selection     subscriptions.Selection       // the order's full list after the write
	Skipped       []string                      // best-effort ops that failed
}

// ConfirmSelection records the items chosen for one date of an order.
//
// The order's ledger key for the date is reset and, when any item resolves,
// replaced by a row carrying the resolved items. The order's selected items
// for the date are then swapped for the same list. Ledger failures are
// tolerated; only a failure of the final selection write is returned.
func (s *Service) ConfirmSelection(ctx context.Context, in ConfirmInput) (ConfirmResult, error) {
	if err := in.Validate(); err != nil {
		return ConfirmResult{}, err
	}

	order, err := s.Orders.GetOrder(ctx, in.OrderID)
	if err != nil {
		return ConfirmResult{}, err
	}

	selected := dedup(in.ItemIDs)
	available, err := s.Catalog.AvailableItemIDs(ctx, order.ID, in.Date)
	if err != nil {
		return ConfirmResult{}, err
	}
	optedOut := difference(available, selected)

	// resolve before the first write so a failed read leaves no trace
	details, err := s.Catalog.ItemDetails(ctx, selected)
	if err != nil {
		return ConfirmResult{}, err
	}
	mealTime := s.mealTime()
	items := make([]subscriptions.ItemSelection, 0, len(details))
	for _, d := range details {
		items = append(items, d.For(in.Date, mealTime))
	}

	res := ConfirmResult{
		Key: subscriptions.MealKey{
			SubscriptionID: order.ID,
			UserID:         order.UserID,
			Date:           in.Date,
			MealTime:       mealTime,
		},
		OptedOutCount: len(optedOut),
		SelectedCount: len(selected),
		Items:         items,
	}

	if err := s.BestEffort.Do(ctx, opClearOptOut, func(ctx context.Context) error {
		return s.Ledger.ClearOptOut(ctx, res.Key)
	}); err != nil {
		res.Skipped = append(res.Skipped, opClearOptOut)
	}

	if len(items) > 0 {
		if err := s.BestEffort.Do(ctx, opRecordSelection, func(ctx context.Context) error {
			return s.Ledger.RecordConfirmedSelection(ctx, res.Key, items)
		}); err != nil {
			res.Skipped = append(res.Skipped, opRecordSelection)
		}
	}

	sel, err := s.Selections.ReplaceForDate(ctx, order.ID, in.Date, items)
	if err != nil {
		s.Log.Error("save selected items failed", zap.Int64("order_id", order.ID), zap.String("date", in.Date), zap.Error(err))
		s.count("error")
		return ConfirmResult{}, err
	}
	res.Selection = sel

	if len(res.Skipped) > 0 {
		s.count("degraded")
	} else {
		s.count("ok")
	}
	return res, nil
}

func (s *Service) mealTime() string {
	if s.MealTime == "" {
		return "lunch"
	}
	return s.MealTime
}

func (s *Service) count(outcome string) {
	if s.Metrics != nil {
		s.Metrics.Confirmations.WithLabelValues(outcome).Inc()
	}
}

func dedup(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// difference returns the ids in a that are not in b.
func difference(a, b []int64) []int64 {
	in := make(map[int64]bool, len(b))
	for _, id := range b {
		in[id] = true
	}
	var out []int64
	for _, id := range dedup(a) {
		if !in[id] {
			out = append(out, id)
		}
	}
	return out
}
