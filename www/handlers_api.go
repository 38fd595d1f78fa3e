package www

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

func (h *Handlers) apiHealthCheck(w http.ResponseWriter, r *http.Request) {
	dbOK := h.engine.DB().Ping(r.Context()) == nil
	status := "ok"
	code := http.StatusOK
	if !dbOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":    status,
		"database":  dbOK,
		"messaging": h.engine.MessagingConnected(),
	})
}

func (h *Handlers) apiAdminStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	byStatus, err := h.engine.DB().CountByStatus(ctx)
	if err != nil {
		h.log.Error("count by status", zap.Error(err))
		h.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	pending, err := h.engine.DB().CountPendingOutbox(ctx)
	if err != nil {
		h.log.Error("count outbox", zap.Error(err))
		h.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, map[string]any{
		"orders_by_status": byStatus,
		"outbox_pending":   pending,
		"active_cached":    h.engine.Orders().ActiveCount(ctx),
		"ws_clients":       h.hub.ClientCount(),
		"ws_rooms":         h.hub.RoomCount(),
		"messaging":        h.engine.MessagingConnected(),
	})
}

func (h *Handlers) jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{"error": msg, "status": code})
}
