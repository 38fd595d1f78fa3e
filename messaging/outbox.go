package messaging

import (
	"context"
	"time"

	"go.uber.org/zap"

	"meatmarket/store"
)

const (
	outboxBatch      = 50
	outboxMaxRetries = 10
	outboxRetention  = 24 * time.Hour
)

// Publisher is the sending half of Client.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// OutboxDrainer periodically sends pending outbox messages.
type OutboxDrainer struct {
	db        *store.DB
	pub       Publisher
	interval  time.Duration
	log       *zap.Logger
	lastPurge time.Time
}

func NewOutboxDrainer(db *store.DB, pub Publisher, interval time.Duration, log *zap.Logger) *OutboxDrainer {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &OutboxDrainer{db: db, pub: pub, interval: interval, log: log.Named("outbox")}
}

// Run drains on every tick until ctx is done.
func (d *OutboxDrainer) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.Drain(ctx)
		}
	}
}

// Drain publishes one batch of pending messages and returns how many were sent.
func (d *OutboxDrainer) Drain(ctx context.Context) int {
	msgs, err := d.db.ListPendingOutbox(ctx, outboxBatch, outboxMaxRetries)
	if err != nil {
		d.log.Error("list pending", zap.Error(err))
		return 0
	}
	sent := 0
	for _, msg := range msgs {
		if err := d.pub.Publish(ctx, msg.Topic, "", msg.Payload); err != nil {
			d.log.Warn("publish failed",
				zap.String("topic", msg.Topic),
				zap.Int64("id", msg.ID),
				zap.Int("retries", msg.Retries+1),
				zap.Error(err))
			if err := d.db.IncrementOutboxRetries(ctx, msg.ID); err != nil {
				d.log.Error("increment retries", zap.Int64("id", msg.ID), zap.Error(err))
			}
			continue
		}
		if err := d.db.AckOutbox(ctx, msg.ID); err != nil {
			d.log.Error("ack", zap.Int64("id", msg.ID), zap.Error(err))
			continue
		}
		sent++
	}
	if time.Since(d.lastPurge) > time.Hour {
		d.lastPurge = time.Now()
		if n, err := d.db.PurgeSentOutbox(ctx, time.Now().Add(-outboxRetention)); err != nil {
			d.log.Warn("purge", zap.Error(err))
		} else if n > 0 {
			d.log.Debug("purged sent messages", zap.Int64("count", n))
		}
	}
	return sent
}
