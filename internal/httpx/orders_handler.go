package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/go-tiffin-subscriptions/internal/subscriptions"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type OrderStore interface {
	Create(ctx context.Context, n subscriptions.NewOrder) (int64, error)
	ListByUser(ctx context.Context, userID string) ([]subscriptions.Order, error)
	ListByPlan(ctx context.Context, planID int64) ([]subscriptions.Order, error)
	UpdateStatus(ctx context.Context, id int64, to subscriptions.OrderStatus) error
	Delete(ctx context.Context, id int64, userID string) error
}

type PlanStore interface {
	Get(ctx context.Context, id int64) (*subscriptions.Plan, error)
	Delete(ctx context.Context, id int64) error
}

type OrdersHandler struct {
	Orders  OrderStore
	Plans   PlanStore
	Timeout time.Duration
	Log     *zap.Logger
}

type CreateOrderResp struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	OrderID int64  `json:"order_id"`
}

type OrdersResp struct {
	Success bool                  `json:"success"`
	Orders  []subscriptions.Order `json:"orders"`
}

type PlanOrdersResp struct {
	Success bool                  `json:"success"`
	Plan    *subscriptions.Plan   `json:"plan"`
	Orders  []subscriptions.Order `json:"orders"`
}

type messageResp struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/subscriptions/orders", h.createOrder)
	r.Get("/subscriptions/orders", h.listUserOrders)
	r.Patch("/subscriptions/orders/{orderID}/status", h.updateStatus)
	r.Delete("/subscriptions/orders/{orderID}", h.deleteOrder)
	r.Get("/subscriptions/plans/{planID}/orders", h.listPlanOrders)
	r.Delete("/subscriptions/plans/{planID}", h.deletePlan)
}

func (h *OrdersHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	d := h.Timeout
	if d <= 0 {
		d = 5 * time.Second
	}
	return context.WithTimeout(r.Context(), d)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	f, err := readFields(r)
	if err != nil {
		writeError(w, h.Log, err, "")
		return
	}
	n := subscriptions.NewOrder{
		UserID:        f["user_id"],
		StartDate:     f["start_date"],
		EndDate:       f["end_date"],
		CustomerName:  f["customer_name"],
		CustomerEmail: f["customer_email"],
		CustomerPhone: f["customer_phone"],
	}
	if n.PlanID, err = f.int64("plan_id"); err != nil {
		writeError(w, h.Log, err, "")
		return
	}
	if n.MessID, err = f.int64("mess_id"); err != nil {
		writeError(w, h.Log, err, "")
		return
	}
	if n.TotalAmount, err = f.float("total_amount"); err != nil {
		writeError(w, h.Log, err, "")
		return
	}
	if raw, ok := f["selected_items"]; ok && raw != "" {
		if n.SelectedItems, err = subscriptions.ParseSelection([]byte(raw)); err != nil {
			writeFail(w, http.StatusBadRequest, "Invalid JSON format for selected items")
			return
		}
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	id, err := h.Orders.Create(ctx, n)
	if err != nil {
		writeError(w, h.Log, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, CreateOrderResp{Success: true, Message: "Subscription order created successfully", OrderID: id})
}

func (h *OrdersHandler) listUserOrders(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeFail(w, http.StatusBadRequest, "User ID is required")
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	orders, err := h.Orders.ListByUser(ctx, userID)
	if err != nil {
		writeError(w, h.Log, err, "")
		return
	}
	writeJSON(w, http.StatusOK, OrdersResp{Success: true, Orders: orders})
}

func (h *OrdersHandler) listPlanOrders(w http.ResponseWriter, r *http.Request) {
	planID, err := pathID(chi.URLParam(r, "planID"))
	if err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid plan ID")
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	plan, err := h.Plans.Get(ctx, planID)
	if err != nil {
		writeError(w, h.Log, err, "Plan not found")
		return
	}
	orders, err := h.Orders.ListByPlan(ctx, planID)
	if err != nil {
		writeError(w, h.Log, err, "")
		return
	}
	writeJSON(w, http.StatusOK, PlanOrdersResp{Success: true, Plan: plan, Orders: orders})
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, h.Log, err, "")
		return
	}
	f, err := readFields(r)
	if err != nil {
		writeError(w, h.Log, err, "")
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	if err := h.Orders.UpdateStatus(ctx, orderID, subscriptions.OrderStatus(f["status"])); err != nil {
		writeError(w, h.Log, err, "Order not found")
		return
	}
	writeJSON(w, http.StatusOK, messageResp{Success: true, Message: "Order status updated"})
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, h.Log, err, "")
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeFail(w, http.StatusBadRequest, "Order ID and user ID are required")
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	if err := h.Orders.Delete(ctx, orderID, userID); err != nil {
		writeError(w, h.Log, err, "Order not found or unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, messageResp{Success: true, Message: "Subscription order deleted successfully"})
}

func (h *OrdersHandler) deletePlan(w http.ResponseWriter, r *http.Request) {
	planID, err := pathID(chi.URLParam(r, "planID"))
	if err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid plan ID")
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	if err := h.Plans.Delete(ctx, planID); err != nil {
		writeError(w, h.Log, err, "Plan not found")
		return
	}
	writeJSON(w, http.StatusOK, messageResp{Success: true, Message: "Plan deleted successfully"})
}
