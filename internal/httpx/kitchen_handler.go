package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/go-tiffin-subscriptions/internal/kitchen"
	"github.com/ariefcatur/go-tiffin-subscriptions/internal/subscriptions"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Projector interface {
	Projection(ctx context.Context, date, mealTime string) (kitchen.Slot, error)
}

type KitchenHandler struct {
	Kitchen Projector
	Log     *zap.Logger
}

func (h *KitchenHandler) Register(r *chi.Mux) {
	r.Get("/kitchen/{date}/{mealTime}", h.slot)
}

func (h *KitchenHandler) slot(w http.ResponseWriter, r *http.Request) {
	date, err := subscriptions.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, h.Log, err, "")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	slot, err := h.Kitchen.Projection(ctx, date, chi.URLParam(r, "mealTime"))
	if err != nil {
		writeError(w, h.Log, err, "")
		return
	}
	writeJSON(w, http.StatusOK, slot)
}
