package protocol

import (
	"encoding/json"

	"go.uber.org/zap"
)

// FilterFunc returns true if the message should be processed.
type FilterFunc func(hdr *RawHeader) bool

// MessageHandler defines callbacks for all bus message types.
type MessageHandler interface {
	HandleOrderCreated(env *Envelope, p *OrderCreated)
	HandleOrderStatusChanged(env *Envelope, p *OrderStatusChanged)
	HandleOrderCancelled(env *Envelope, p *OrderCancelled)
	HandleStatusOverride(env *Envelope, p *StatusOverride)
}

// Ingestor performs two-phase decode and dispatches to a MessageHandler.
type Ingestor struct {
	handler MessageHandler
	filter  FilterFunc
	log     *zap.Logger
}

// NewIngestor creates an ingestor with the given handler and filter.
// A nil logger discards diagnostics.
func NewIngestor(handler MessageHandler, filter FilterFunc, log *zap.Logger) *Ingestor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ingestor{
		handler: handler,
		filter:  filter,
		log:     log.Named("protocol"),
	}
}

// HandleRaw is the entry point for raw message bytes from the messaging layer.
func (ing *Ingestor) HandleRaw(data []byte) {
	// Phase 1: routing header only
	var hdr RawHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		ing.log.Warn("header decode error", zap.Error(err))
		return
	}

	if IsExpiredHeader(&hdr) {
		ing.log.Debug("dropping expired message", zap.String("id", hdr.ID), zap.String("type", hdr.Type))
		return
	}

	if ing.filter != nil && !ing.filter(&hdr) {
		return
	}

	// Phase 2: full envelope
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		ing.log.Warn("envelope decode error", zap.Error(err))
		return
	}

	switch env.Type {
	case TypeOrderCreated:
		decodeAndCall(ing, ing.handler.HandleOrderCreated, &env)
	case TypeOrderStatusChanged:
		decodeAndCall(ing, ing.handler.HandleOrderStatusChanged, &env)
	case TypeOrderCancelled:
		decodeAndCall(ing, ing.handler.HandleOrderCancelled, &env)
	case TypeStatusOverride:
		decodeAndCall(ing, ing.handler.HandleStatusOverride, &env)
	default:
		ing.log.Warn("unknown message type", zap.String("type", env.Type))
	}
}

// decodeAndCall unmarshals the payload and calls the handler method.
func decodeAndCall[T any](ing *Ingestor, fn func(*Envelope, *T), env *Envelope) {
	var p T
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		ing.log.Warn("payload decode error", zap.String("type", env.Type), zap.Error(err))
		return
	}
	fn(env, &p)
}
