package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-tiffin-subscriptions/internal/subscriptions"
	"go.uber.org/zap"
)

type errorResp struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFail(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResp{Success: false, Message: msg})
}

// writeError maps domain errors to a status. notFound replaces the message of
// ErrNotFound; server errors are logged and never echoed.
func writeError(w http.ResponseWriter, log *zap.Logger, err error, notFound string) {
	switch {
	case errors.Is(err, subscriptions.ErrValidation):
		writeFail(w, http.StatusBadRequest, clientMessage(err, subscriptions.ErrValidation))
	case errors.Is(err, subscriptions.ErrNotFound):
		writeFail(w, http.StatusNotFound, notFound)
	case errors.Is(err, subscriptions.ErrConflict):
		writeFail(w, http.StatusConflict, clientMessage(err, subscriptions.ErrConflict))
	default:
		if log != nil {
			log.Error("request failed", zap.Error(err))
		}
		writeFail(w, http.StatusInternalServerError, "Server error")
	}
}

func clientMessage(err, sentinel error) string {
	msg := err.Error()
	if i := strings.Index(msg, sentinel.Error()+": "); i >= 0 {
		return msg[i+len(sentinel.Error())+2:]
	}
	return msg
}
