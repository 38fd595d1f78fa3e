package engine

import "go.uber.org/zap"

func (e *Engine) wireEventHandlers() {
	e.Events.Subscribe(func(evt Event) {
		ev := evt.Payload.(OrderUpdatedEvent)
		prev := ""
		if ev.Previous != nil {
			prev = ev.Previous.Status.String()
		}
		e.log.Info("order updated",
			zap.String("order_id", string(ev.Order.ID)),
			zap.String("from", prev),
			zap.Stringer("to", ev.Order.Status),
			zap.Int64("seq", ev.Order.Seq),
			zap.String("source", ev.Source))
	}, EventOrderUpdated)

	e.Events.Subscribe(func(evt Event) {
		ev := evt.Payload.(OrderStaleEvent)
		e.log.Debug("stale snapshot ignored",
			zap.String("order_id", string(ev.Incoming.ID)),
			zap.Int64("seq", ev.Incoming.Seq),
			zap.Int64("current_seq", ev.Current.Seq),
			zap.String("source", ev.Source))
	}, EventOrderStale)

	e.Events.Subscribe(func(evt Event) {
		ev := evt.Payload.(ConnectionEvent)
		if evt.Type == EventMessagingConnected {
			e.log.Info(ev.Detail)
		} else {
			e.log.Warn(ev.Detail)
		}
	}, EventMessagingConnected, EventMessagingDisconnected)
}
