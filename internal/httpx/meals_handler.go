package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ariefcatur/go-tiffin-subscriptions/internal/metrics"
	"github.com/ariefcatur/go-tiffin-subscriptions/internal/reconcile"
	"github.com/ariefcatur/go-tiffin-subscriptions/internal/redisx"
	"github.com/ariefcatur/go-tiffin-subscriptions/internal/subscriptions"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type MealLedger interface {
	SetOptOut(ctx context.Context, k subscriptions.MealKey) error
	VerifyActive(ctx context.Context, subscriptionID int64, userID string) error
	ClearOptOut(ctx context.Context, k subscriptions.MealKey) error
	Get(ctx context.Context, k subscriptions.MealKey) (*subscriptions.OptOutRecord, error)
	QueryByPlan(ctx context.Context, planID int64) ([]subscriptions.PlanOptOut, error)
}

type Reconciler interface {
	ConfirmSelection(ctx context.Context, in reconcile.ConfirmInput) (reconcile.ConfirmResult, error)
}

type MealsHandler struct {
	Ledger     MealLedger
	Reconciler Reconciler
	Cache      *redisx.StatusCache
	Producer   Publisher
	Service    string
	Timeout    time.Duration
	Log        *zap.Logger
	Metrics    *metrics.Metrics
}

const (
	actionOptIn  = "opt_in"
	actionOptOut = "opt_out"
)

type ToggleResp struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type ConfirmResp struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	OptedOutCount int    `json:"opted_out_count"`
	SelectedCount int    `json:"selected_count"`
}

type MealStatusResp struct {
	Success        bool                          `json:"success"`
	SubscriptionID int64                         `json:"subscription_id"`
	Date           string                        `json:"date"`
	MealTime       string                        `json:"meal_time"`
	State          subscriptions.MealState       `json:"state"`
	SelectedItems  []subscriptions.ItemSelection `json:"selected_items,omitempty"`
	UpdatedAt      *time.Time                    `json:"updated_at,omitempty"`
}

func (h *MealsHandler) Register(r *chi.Mux) {
	r.Post("/subscriptions/optinoptout", h.toggle)
	r.Post("/subscriptions/order-items", h.confirm)
	r.Get("/subscriptions/{subscriptionID}/meals", h.mealStatus)
	r.Get("/subscriptions/plans/{planID}/opt-outs", h.planOptOuts)
}

func (h *MealsHandler) timeout() time.Duration {
	if h.Timeout <= 0 {
		return 5 * time.Second
	}
	return h.Timeout
}

func (h *MealsHandler) toggle(w http.ResponseWriter, r *http.Request) {
	f, err := readFields(r)
	if err != nil {
		writeError(w, h.Log, err, "")
		return
	}
	subID, err := f.int64("subscription_id")
	if err != nil {
		writeError(w, h.Log, err, "")
		return
	}
	key := subscriptions.MealKey{SubscriptionID: subID, UserID: f["user_id"], Date: f["date"], MealTime: f["meal_time"]}
	action := f["action"]
	if subID <= 0 || key.UserID == "" || key.Date == "" || key.MealTime == "" || action == "" {
		writeFail(w, http.StatusBadRequest, "All fields are required (subscription_id, user_id, date, meal_time, action)")
		return
	}
	if action != actionOptIn && action != actionOptOut {
		writeFail(w, http.StatusBadRequest, "Invalid action. Must be opt_in or opt_out")
		return
	}
	if err := key.Validate(); err != nil {
		writeError(w, h.Log, err, "")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()

	resp := ToggleResp{Success: true, Status: string(subscriptions.MealSkipped), Message: "Meal skipped"}
	state := subscriptions.MealSkipped
	if action == actionOptOut {
		err = h.Ledger.SetOptOut(ctx, key)
	} else {
		resp.Status, resp.Message, state = string(subscriptions.MealActive), "Meal active", subscriptions.MealActive
		if err = h.Ledger.VerifyActive(ctx, key.SubscriptionID, key.UserID); err == nil {
			err = h.Ledger.ClearOptOut(ctx, key)
		}
	}
	if err != nil {
		h.countToggle(action, outcomeOf(err))
		writeError(w, h.Log, err, "Subscription not found or inactive")
		return
	}
	h.countToggle(action, "ok")

	h.invalidate(ctx, key)
	publishMealState(h.Producer, h.Service, middleware.GetReqID(r.Context()), subscriptions.MealStatePayload{
		SubscriptionID: key.SubscriptionID,
		UserID:         key.UserID,
		Date:           key.Date,
		MealTime:       key.MealTime,
		State:          state,
	})
	writeJSON(w, http.StatusOK, resp)
}

func (h *MealsHandler) confirm(w http.ResponseWriter, r *http.Request) {
	f, err := readFields(r)
	if err != nil {
		writeError(w, h.Log, err, "")
		return
	}
	if f["order_id"] == "" || f["date"] == "" {
		writeFail(w, http.StatusBadRequest, "Order ID and date are required.")
		return
	}
	orderID, err := f.int64("order_id")
	if err != nil {
		writeError(w, h.Log, err, "")
		return
	}
	ids, err := subscriptions.ParseItemIDs(f["selected_item_ids"])
	if err != nil {
		writeError(w, h.Log, err, "")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()

	res, err := h.Reconciler.ConfirmSelection(ctx, reconcile.ConfirmInput{OrderID: orderID, Date: f["date"], ItemIDs: ids})
	if err != nil {
		writeError(w, h.Log, err, "Order not found.")
		return
	}

	h.invalidate(ctx, res.Key)
	state := subscriptions.MealActive
	if len(res.Items) > 0 {
		state = subscriptions.MealConfirmed
	}
	publishMealState(h.Producer, h.Service, middleware.GetReqID(r.Context()), subscriptions.MealStatePayload{
		SubscriptionID: res.Key.SubscriptionID,
		UserID:         res.Key.UserID,
		Date:           res.Key.Date,
		MealTime:       res.Key.MealTime,
		State:          state,
		Items:          res.Items,
	})
	writeJSON(w, http.StatusOK, ConfirmResp{
		Success:       true,
		Message:       "Order updated successfully",
		OptedOutCount: res.OptedOutCount,
		SelectedCount: res.SelectedCount,
	})
}

func (h *MealsHandler) mealStatus(w http.ResponseWriter, r *http.Request) {
	subID, err := pathID(chi.URLParam(r, "subscriptionID"))
	if err != nil {
		writeError(w, h.Log, err, "")
		return
	}
	q := r.URL.Query()
	key := subscriptions.MealKey{SubscriptionID: subID, UserID: q.Get("user_id"), Date: q.Get("date"), MealTime: q.Get("meal_time")}
	if err := key.Validate(); err != nil {
		writeError(w, h.Log, err, "")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()

	// 1) cache
	cacheKey := redisx.MealStatusKey(key.SubscriptionID, key.UserID, key.Date, key.MealTime)
	if b, ok := h.Cache.Get(ctx, cacheKey); ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(b)
		return
	}

	// 2) ledger; a toggle landing while we read bumps the generation and the fill is skipped
	gen := h.Cache.Generation(ctx, cacheKey)
	resp := MealStatusResp{Success: true, SubscriptionID: key.SubscriptionID, Date: key.Date, MealTime: key.MealTime, State: subscriptions.MealActive}
	rec, err := h.Ledger.Get(ctx, key)
	switch {
	case errors.Is(err, subscriptions.ErrNotFound):
	case err != nil:
		writeError(w, h.Log, err, "")
		return
	default:
		resp.State = rec.State()
		if resp.State == subscriptions.MealConfirmed {
			resp.SelectedItems = rec.SelectedItems
		}
		resp.UpdatedAt = &rec.CreatedAt
	}

	b, err := json.Marshal(resp)
	if err != nil {
		writeError(w, h.Log, err, "")
		return
	}
	if err := h.Cache.SetIfUnchanged(ctx, cacheKey, gen, b); err != nil {
		h.logger().Warn("status cache set", zap.String("key", cacheKey), zap.Error(err))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (h *MealsHandler) planOptOuts(w http.ResponseWriter, r *http.Request) {
	planID, err := pathID(chi.URLParam(r, "planID"))
	if err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid plan ID")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()

	rows, err := h.Ledger.QueryByPlan(ctx, planID)
	if err != nil {
		writeError(w, h.Log, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "opt_outs": rows})
}

func (h *MealsHandler) invalidate(ctx context.Context, k subscriptions.MealKey) {
	key := redisx.MealStatusKey(k.SubscriptionID, k.UserID, k.Date, k.MealTime)
	if err := h.Cache.Invalidate(ctx, key); err != nil {
		h.logger().Warn("status cache invalidate", zap.String("key", key), zap.Error(err))
	}
}

func (h *MealsHandler) logger() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func (h *MealsHandler) countToggle(action, outcome string) {
	if h.Metrics != nil {
		h.Metrics.OptToggles.WithLabelValues(action, outcome).Inc()
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, subscriptions.ErrNotFound):
		return "not_found"
	case errors.Is(err, subscriptions.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
