package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"meatmarket/protocol"
)

const handleTimeout = 10 * time.Second

// Handler adapts the engine to protocol.MessageHandler for the bus ingestor.
type Handler struct {
	e *Engine
}

func (e *Engine) Handler() *Handler { return &Handler{e: e} }

// Filter accepts messages addressed to pushd or broadcast.
func (h *Handler) Filter(hdr *protocol.RawHeader) bool {
	return hdr.Dst.Role == "" || hdr.Dst.Role == protocol.RolePushd
}

func (h *Handler) HandleOrderCreated(env *protocol.Envelope, p *protocol.OrderCreated) {
	if p.Order.ID == "" || p.Order.Status.IsZero() {
		h.e.log.Warn("order.created without id or status", zap.String("msg_id", env.ID))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()
	h.apply(ctx, p.Order, "bus", "")
}

func (h *Handler) HandleOrderStatusChanged(env *protocol.Envelope, p *protocol.OrderStatusChanged) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	var o protocol.Order
	if p.Order != nil {
		o = *p.Order
		if !p.Status.IsZero() {
			o.Status = p.Status
		}
		if p.Seq > 0 {
			o.Seq = p.Seq
		}
		if !p.UpdatedAt.IsZero() {
			o.UpdatedAt = p.UpdatedAt
		}
	} else {
		o = h.merge(ctx, p.OrderID, p.Status, p.Seq, p.UpdatedAt)
	}
	if o.ID == "" || o.Status.IsZero() {
		h.e.log.Warn("order.status_changed without id or status", zap.String("msg_id", env.ID))
		return
	}
	h.apply(ctx, o, "bus", "")
}

func (h *Handler) HandleOrderCancelled(env *protocol.Envelope, p *protocol.OrderCancelled) {
	if p.OrderID == "" {
		h.e.log.Warn("order.cancelled without id", zap.String("msg_id", env.ID))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()
	o := h.merge(ctx, p.OrderID, protocol.StageCancelled, p.Seq, p.UpdatedAt)
	h.apply(ctx, o, "bus", p.Reason)
}

// HandleStatusOverride applies an admin override on top of the stored
// snapshot. The sequence is left alone so the next upstream transition still
// wins; the fresh UpdatedAt lets the override beat the equal-seq snapshot.
func (h *Handler) HandleStatusOverride(env *protocol.Envelope, p *protocol.StatusOverride) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	current, ok, err := h.e.orders.Lookup(ctx, p.OrderID)
	if err != nil {
		h.e.log.Error("override lookup failed", zap.String("order_id", string(p.OrderID)), zap.Error(err))
		return
	}
	if !ok {
		h.e.log.Warn("override for unknown order", zap.String("order_id", string(p.OrderID)))
		return
	}
	if !protocol.CanTransition(current.Status, p.Status) {
		h.e.log.Warn("override rejected",
			zap.String("order_id", string(p.OrderID)),
			zap.Stringer("from", current.Status),
			zap.Stringer("to", p.Status))
		return
	}
	o := current
	o.Status = p.Status
	o.UpdatedAt = h.e.now().UTC()
	h.apply(ctx, o, "admin:"+p.Actor, p.Note)
}

// merge builds a full snapshot from a stage-only update and the stored order.
// A missing seq keeps the stored one and a missing timestamp is stamped with
// the arrival time, so the update still lands and later ones stay ordered.
func (h *Handler) merge(ctx context.Context, id protocol.OrderID, status protocol.Stage, seq int64, updatedAt time.Time) protocol.Order {
	o := protocol.Order{ID: id}
	current, ok, err := h.e.orders.Lookup(ctx, id)
	if err != nil {
		h.e.log.Warn("merge lookup failed", zap.String("order_id", string(id)), zap.Error(err))
	} else if ok {
		o = current
	}
	o.Status = status
	if seq > 0 {
		o.Seq = seq
	}
	if updatedAt.IsZero() {
		updatedAt = h.e.now().UTC()
	}
	o.UpdatedAt = updatedAt
	return o
}

func (h *Handler) apply(ctx context.Context, o protocol.Order, source, note string) {
	if _, err := h.e.ApplyStatus(ctx, o, source, note); err != nil {
		h.e.log.Error("apply failed", zap.String("order_id", string(o.ID)), zap.Error(err))
	}
}
