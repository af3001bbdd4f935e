package reconcile

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-tiffin-subscriptions/internal/metrics"
	"github.com/ariefcatur/go-tiffin-subscriptions/internal/subscriptions"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fixture struct {
	svc        *Service
	orders     *memOrders
	catalog    *memCatalog
	ledger     *memLedger
	selections *memSelections
	logs       *observer.ObservedLogs
	metrics    *metrics.Metrics
}

const jan1Entry = `{"id":1,"name":"Poha","price":30,"type":"veg","date":"2025-01-01","meal_time":"lunch"}`

// newFixture seeds order #42 owned by u-1 with one Jan-01 entry, and a
// Jan-02 menu offering items 5, 6 and 7.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	m := metrics.New(nil)

	sel, err := subscriptions.ParseSelection([]byte("[" + jan1Entry + "]"))
	require.NoError(t, err)

	f := &fixture{
		orders: &memOrders{orders: map[int64]*subscriptions.Order{
			42: {ID: 42, UserID: "u-1", PlanID: 7, Status: subscriptions.StatusActive, SelectedItems: sel},
		}},
		catalog: &memCatalog{
			available: map[availKey][]int64{
				{42, "2025-01-02"}: {5, 6, 7},
				{42, "2025-01-03"}: {5, 8},
			},
			items: map[int64]subscriptions.MenuItem{
				5: {ID: 5, Name: "Dal", Price: 40, Type: "veg"},
				6: {ID: 6, Name: "Roti", Price: 10, Type: "veg"},
				7: {ID: 7, Name: "Rice", Price: 20, Type: "veg"},
				8: {ID: 8, Name: "Paneer", Price: 60, Type: "veg"},
			},
		},
		ledger:     newLedger(),
		selections: &memSelections{lock: true, data: map[int64]subscriptions.Selection{42: sel}},
		logs:       logs,
		metrics:    m,
	}
	f.svc = New(f.orders, f.catalog, f.ledger, f.selections, "lunch", zap.New(core), m)
	return f
}

func key(date string) subscriptions.MealKey {
	return subscriptions.MealKey{SubscriptionID: 42, UserID: "u-1", Date: date, MealTime: "lunch"}
}

func TestConfirmSelection_MergesDateAndRecordsLedger(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.ConfirmSelection(context.Background(), ConfirmInput{OrderID: 42, Date: "2025-01-02", ItemIDs: []int64{5, 6}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.OptedOutCount)
	assert.Equal(t, 2, res.SelectedCount)
	assert.Empty(t, res.Skipped)

	stored := f.selections.get(42)
	require.Len(t, stored, 3)
	assert.Equal(t, jan1Entry, string(stored[0]))
	items, err := stored.Items()
	require.NoError(t, err)
	assert.Equal(t, subscriptions.ItemSelection{ID: 5, Name: "Dal", Price: 40, Type: "veg", Date: "2025-01-02", MealTime: "lunch"}, items[1])
	assert.Equal(t, int64(6), items[2].ID)

	row, ok := f.ledger.row(key("2025-01-02"))
	require.True(t, ok)
	require.Len(t, row, 2)
	assert.Equal(t, "Dal", row[0].Name)
	assert.Equal(t, "Roti", row[1].Name)
	assert.Len(t, f.ledger.rows, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Confirmations.WithLabelValues("ok")))
}

func TestConfirmSelection_Idempotent(t *testing.T) {
	f := newFixture(t)
	in := ConfirmInput{OrderID: 42, Date: "2025-01-02", ItemIDs: []int64{5, 6}}

	first, err := f.svc.ConfirmSelection(context.Background(), in)
	require.NoError(t, err)
	afterFirst := string(f.selections.get(42).Encode())
	rowFirst, _ := f.ledger.row(key("2025-01-02"))

	second, err := f.svc.ConfirmSelection(context.Background(), in)
	require.NoError(t, err)
	rowSecond, _ := f.ledger.row(key("2025-01-02"))

	assert.Equal(t, afterFirst, string(f.selections.get(42).Encode()))
	assert.Equal(t, rowFirst, rowSecond)
	assert.Equal(t, first.OptedOutCount, second.OptedOutCount)
	assert.Equal(t, first.SelectedCount, second.SelectedCount)
}

func TestConfirmSelection_AllAvailableSelected(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.ConfirmSelection(context.Background(), ConfirmInput{OrderID: 42, Date: "2025-01-02", ItemIDs: []int64{7, 5, 6}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.OptedOutCount)
	assert.Equal(t, 3, res.SelectedCount)
}

func TestConfirmSelection_EmptySelectionClearsKeyWithoutPayload(t *testing.T) {
	f := newFixture(t)
	f.ledger.rows[key("2025-01-02")] = nil // previously skipped

	res, err := f.svc.ConfirmSelection(context.Background(), ConfirmInput{OrderID: 42, Date: "2025-01-02", ItemIDs: []int64{}})
	require.NoError(t, err)
	assert.Equal(t, 3, res.OptedOutCount)
	assert.Equal(t, 0, res.SelectedCount)

	_, ok := f.ledger.row(key("2025-01-02"))
	assert.False(t, ok, "no payload row is written for an empty selection")
	assert.Equal(t, 1, f.ledger.writes, "only the reset ran")
	assert.Equal(t, "["+jan1Entry+"]", string(f.selections.get(42).Encode()))
}

func TestConfirmSelection_ReplacesPreviousDateEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ConfirmSelection(ctx, ConfirmInput{OrderID: 42, Date: "2025-01-02", ItemIDs: []int64{5, 6}})
	require.NoError(t, err)
	_, err = f.svc.ConfirmSelection(ctx, ConfirmInput{OrderID: 42, Date: "2025-01-02", ItemIDs: []int64{7}})
	require.NoError(t, err)

	items, err := f.selections.get(42).Items()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(1), items[0].ID)
	assert.Equal(t, int64(7), items[1].ID)

	row, _ := f.ledger.row(key("2025-01-02"))
	require.Len(t, row, 1, "payload is replaced, never merged")
	assert.Equal(t, int64(7), row[0].ID)
}

func TestConfirmSelection_UnresolvableIDsDropped(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.ConfirmSelection(context.Background(), ConfirmInput{OrderID: 42, Date: "2025-01-02", ItemIDs: []int64{5, 99, 5}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.SelectedCount)
	assert.Equal(t, 2, res.OptedOutCount)
	require.Len(t, res.Items, 1)
	assert.Equal(t, int64(5), res.Items[0].ID)
	assert.Len(t, f.selections.get(42), 2)
}

func TestConfirmSelection_UnknownOrderHasNoSideEffects(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ConfirmSelection(context.Background(), ConfirmInput{OrderID: 404, Date: "2025-01-02", ItemIDs: []int64{5}})
	require.ErrorIs(t, err, subscriptions.ErrNotFound)
	assert.Zero(t, f.ledger.writes)
	assert.Zero(t, f.selections.writes)
}

func TestConfirmSelection_ValidatesBeforeStorage(t *testing.T) {
	f := newFixture(t)

	for _, in := range []ConfirmInput{
		{Date: "2025-01-02"},
		{OrderID: 42},
		{OrderID: 42, Date: "02/01/2025"},
	} {
		_, err := f.svc.ConfirmSelection(context.Background(), in)
		require.ErrorIs(t, err, subscriptions.ErrValidation)
	}
	assert.Zero(t, f.orders.calls)
}

func TestConfirmSelection_LedgerFailuresAreBestEffort(t *testing.T) {
	f := newFixture(t)
	f.ledger.clearErr = assert.AnError
	f.ledger.recordErr = assert.AnError

	res, err := f.svc.ConfirmSelection(context.Background(), ConfirmInput{OrderID: 42, Date: "2025-01-02", ItemIDs: []int64{5}})
	require.NoError(t, err)
	assert.Equal(t, []string{"clear_opt_out", "record_confirmed_selection"}, res.Skipped)
	assert.Len(t, f.selections.get(42), 2, "the selection write still happens")

	warned := f.logs.FilterMessage("best-effort write failed").All()
	require.Len(t, warned, 2)
	assert.Equal(t, "clear_opt_out", warned[0].ContextMap()["op"])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.BestEffortFailures.WithLabelValues("record_confirmed_selection")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Confirmations.WithLabelValues("degraded")))
}

func TestConfirmSelection_FinalWriteFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	f.selections.writeErr = subscriptions.ErrPersistence

	_, err := f.svc.ConfirmSelection(context.Background(), ConfirmInput{OrderID: 42, Date: "2025-01-02", ItemIDs: []int64{5}})
	require.ErrorIs(t, err, subscriptions.ErrPersistence)
	assert.Equal(t, 1, f.logs.FilterMessage("save selected items failed").Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Confirmations.WithLabelValues("error")))
}

func datesOf(t *testing.T, sel subscriptions.Selection) map[string]int {
	t.Helper()
	out := map[string]int{}
	for _, e := range sel {
		var entry struct {
			Date string `json:"date"`
		}
		require.NoError(t, json.Unmarshal(e, &entry))
		out[entry.Date]++
	}
	return out
}

func confirmBoth(t *testing.T, f *fixture) {
	t.Helper()
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, in := range []ConfirmInput{
		{OrderID: 42, Date: "2025-01-02", ItemIDs: []int64{5, 6}},
		{OrderID: 42, Date: "2025-01-03", ItemIDs: []int64{8}},
	} {
		wg.Add(1)
		go func(i int, in ConfirmInput) {
			defer wg.Done()
			_, errs[i] = f.svc.ConfirmSelection(context.Background(), in)
		}(i, in)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
}

func TestConfirmSelection_UnlockedConcurrentDatesLoseAnUpdate(t *testing.T) {
	f := newFixture(t)
	f.selections.lock = false

	// hold both writers after their read until both have read
	var reads sync.WaitGroup
	reads.Add(2)
	f.selections.afterRead = func(int64) {
		reads.Done()
		reads.Wait()
	}

	confirmBoth(t, f)

	dates := datesOf(t, f.selections.get(42))
	assert.Equal(t, 1, dates["2025-01-01"])
	lost := (dates["2025-01-02"] == 0) != (dates["2025-01-03"] == 0)
	assert.True(t, lost, "exactly one date's update survives, got %v", dates)

	// the ledger is keyed per date and keeps both
	_, ok2 := f.ledger.row(key("2025-01-02"))
	_, ok3 := f.ledger.row(key("2025-01-03"))
	assert.True(t, ok2 && ok3)
}

func TestConfirmSelection_LockedConcurrentDatesKeepBoth(t *testing.T) {
	f := newFixture(t)
	f.selections.lock = true

	// stall the first writer after its read so the second one queues on the lock
	var once sync.Once
	f.selections.afterRead = func(int64) {
		once.Do(func() { time.Sleep(50 * time.Millisecond) })
	}

	confirmBoth(t, f)

	dates := datesOf(t, f.selections.get(42))
	assert.Equal(t, map[string]int{"2025-01-01": 1, "2025-01-02": 2, "2025-01-03": 1}, dates)
}

func TestDifference(t *testing.T) {
	assert.Equal(t, []int64{7}, difference([]int64{5, 6, 7}, []int64{5, 6}))
	assert.Empty(t, difference([]int64{5}, []int64{5, 9}))
	assert.Equal(t, []int64{5, 6}, difference([]int64{5, 6, 5}, nil))
}
