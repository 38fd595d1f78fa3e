package messaging

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meatmarket/config"
	"meatmarket/store"
)

type fakePublisher struct {
	mu    sync.Mutex
	sent  []string
	failN int
}

func (p *fakePublisher) Publish(_ context.Context, topic, _ string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failN > 0 {
		p.failN--
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, topic+":"+string(payload))
	return nil
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "outbox.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOutboxDrainAcksAndRetries(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	require.NoError(t, db.EnqueueOutbox(ctx, "override", []byte(`a`), "order.status_override"))
	require.NoError(t, db.EnqueueOutbox(ctx, "override", []byte(`b`), "order.status_override"))

	pub := &fakePublisher{failN: 1}
	d := NewOutboxDrainer(db, pub, 0, nil)

	assert.Equal(t, 1, d.Drain(ctx))
	n, err := db.CountPendingOutbox(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, 1, d.Drain(ctx))
	assert.Equal(t, []string{"override:b", "override:a"}, pub.sent)

	n, err = db.CountPendingOutbox(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

type fakeSubscriber struct {
	handlers map[string]Handler
}

func (s *fakeSubscriber) Subscribe(topic string, h Handler) error {
	s.handlers[topic] = h
	return nil
}

type rawRecorder struct{ got [][]byte }

func (r *rawRecorder) HandleRaw(data []byte) { r.got = append(r.got, data) }

func TestConsumerRoutesTopics(t *testing.T) {
	sub := &fakeSubscriber{handlers: map[string]Handler{}}
	rec := &rawRecorder{}
	c := NewConsumer(sub, rec, nil, "status", "", "override")
	require.NoError(t, c.Start())
	assert.Len(t, sub.handlers, 2)

	sub.handlers["status"]([]byte("x"))
	sub.handlers["override"]([]byte("y"))
	assert.Equal(t, [][]byte{[]byte("x"), []byte("y")}, rec.got)
}

func TestClientNotConnected(t *testing.T) {
	c := NewClient(&config.MessagingConfig{Backend: "kafka"}, nil)
	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.Publish(context.Background(), "t", "", nil), ErrNotConnected)
	assert.ErrorIs(t, c.Subscribe("t", func([]byte) {}), ErrNotConnected)

	bad := NewClient(&config.MessagingConfig{Backend: "carrier-pigeon"}, nil)
	assert.Error(t, bad.Connect(context.Background()))
	c.Close()
}
