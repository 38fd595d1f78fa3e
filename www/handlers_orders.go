package www

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"meatmarket/engine"
	"meatmarket/protocol"
	"meatmarket/store"
)

func orderIDParam(r *http.Request) protocol.OrderID {
	return protocol.OrderID(chi.URLParam(r, "orderID"))
}

func (h *Handlers) handleOrderChannel(w http.ResponseWriter, r *http.Request) {
	id := orderIDParam(r)
	h.hub.Serve(w, r, id, func(ctx context.Context) (*protocol.Order, error) {
		o, ok, err := h.engine.Orders().Lookup(ctx, id)
		if err != nil || !ok {
			return nil, err
		}
		return &o, nil
	})
}

func (h *Handlers) apiGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.engine.Orders().Get(r.Context(), orderIDParam(r))
	if errors.Is(err, store.ErrNotFound) {
		h.jsonError(w, "order not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("get order", zap.Error(err))
		h.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, o)
}

func (h *Handlers) apiOrderHistory(w http.ResponseWriter, r *http.Request) {
	id := orderIDParam(r)
	if _, ok, err := h.engine.Orders().Lookup(r.Context(), id); err != nil || !ok {
		if err != nil {
			h.jsonError(w, "internal error", http.StatusInternalServerError)
			return
		}
		h.jsonError(w, "order not found", http.StatusNotFound)
		return
	}
	hist, err := h.engine.DB().ListHistory(r.Context(), id)
	if err != nil {
		h.log.Error("list history", zap.Error(err))
		h.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if hist == nil {
		hist = []store.HistoryEntry{}
	}
	h.jsonOK(w, hist)
}

type statusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

func (h *Handlers) apiSetOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	status := protocol.ParseStage(req.Status)
	err := h.engine.SetStatus(r.Context(), orderIDParam(r), status, h.getUsername(r), req.Note)
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": status.String()})
	case errors.Is(err, store.ErrNotFound):
		h.jsonError(w, "order not found", http.StatusNotFound)
	case errors.Is(err, engine.ErrInvalidTransition):
		h.jsonError(w, err.Error(), http.StatusConflict)
	default:
		h.log.Error("set status", zap.Error(err))
		h.jsonError(w, "internal error", http.StatusInternalServerError)
	}
}
