package laststatus

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meatmarket/config"
	"meatmarket/protocol"
	"meatmarket/store"
)

type memCache struct {
	mu     sync.Mutex
	orders map[protocol.OrderID]protocol.Order
	fail   bool

	// beforeSet and beforeAdd run once ahead of the next write, standing in
	// for another writer that wins the race.
	beforeSet func()
	beforeAdd func()
}

func newMemCache() *memCache { return &memCache{orders: map[protocol.OrderID]protocol.Order{}} }

func (c *memCache) SetOrder(_ context.Context, o protocol.Order) error {
	if fn := c.beforeSet; fn != nil {
		c.beforeSet = nil
		fn()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("redis down")
	}
	if cur, ok := c.orders[o.ID]; ok && !protocol.Newer(o, cur) {
		return nil
	}
	c.orders[o.ID] = o
	return nil
}

func (c *memCache) AddOrder(_ context.Context, o protocol.Order) error {
	if fn := c.beforeAdd; fn != nil {
		c.beforeAdd = nil
		fn()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("redis down")
	}
	if _, ok := c.orders[o.ID]; !ok {
		c.orders[o.ID] = o
	}
	return nil
}

func (c *memCache) GetOrder(_ context.Context, id protocol.OrderID) (*protocol.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return nil, errors.New("redis down")
	}
	o, ok := c.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (c *memCache) ActiveIDs(context.Context) ([]protocol.OrderID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []protocol.OrderID
	for id, o := range c.orders {
		if !o.Status.IsTerminal() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestApplyWritesThrough(t *testing.T) {
	ctx := context.Background()
	cache := newMemCache()
	m := NewManager(testDB(t), cache, nil)

	res, err := m.Apply(ctx, protocol.Order{ID: "1", Status: protocol.StageCutting, Seq: 2}, "bus", "")
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, protocol.StageCutting, cache.orders["1"].Status)

	res, err = m.Apply(ctx, protocol.Order{ID: "1", Status: protocol.StagePending, Seq: 1}, "bus", "")
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, protocol.StageCutting, cache.orders["1"].Status, "stale write leaves cache alone")
	assert.Equal(t, 1, m.ActiveCount(ctx))
}

func TestGetFallsBackToSQLAndBackfills(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	_, err := db.ApplyOrder(ctx, protocol.Order{ID: "7", Status: protocol.StagePacking}, "bus", "")
	require.NoError(t, err)

	cache := newMemCache()
	m := NewManager(db, cache, nil)

	o, err := m.Get(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, protocol.StagePacking, o.Status)
	_, cached := cache.orders["7"]
	assert.True(t, cached)

	cache.fail = true
	o, err = m.Get(ctx, "7")
	require.NoError(t, err, "cache outage falls back to SQL")
	assert.Equal(t, protocol.StagePacking, o.Status)

	_, ok, err := m.Lookup(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackfillKeepsConcurrentApply(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	_, err := db.ApplyOrder(ctx, protocol.Order{ID: "5", Status: protocol.StageConfirmed, Seq: 1}, "bus", "")
	require.NoError(t, err)

	cache := newMemCache()
	m := NewManager(db, cache, nil)
	cache.beforeAdd = func() {
		_, err := m.Apply(ctx, protocol.Order{ID: "5", Status: protocol.StageCutting, Seq: 2}, "bus", "")
		require.NoError(t, err)
	}

	o, err := m.Get(ctx, "5")
	require.NoError(t, err)
	assert.Equal(t, int64(1), o.Seq, "the read returns what SQL held")

	o, err = m.Get(ctx, "5")
	require.NoError(t, err)
	assert.Equal(t, protocol.StageCutting, o.Status)
	assert.Equal(t, int64(2), o.Seq)
}

func TestReorderedApplyKeepsNewerCacheEntry(t *testing.T) {
	ctx := context.Background()
	cache := newMemCache()
	m := NewManager(testDB(t), cache, nil)

	cache.beforeSet = func() {
		_, err := m.Apply(ctx, protocol.Order{ID: "6", Status: protocol.StageDelivered, Seq: 2}, "bus", "")
		require.NoError(t, err)
	}
	_, err := m.Apply(ctx, protocol.Order{ID: "6", Status: protocol.StageOutForDelivery, Seq: 1}, "bus", "")
	require.NoError(t, err)

	o, err := m.Get(ctx, "6")
	require.NoError(t, err)
	assert.Equal(t, protocol.StageDelivered, o.Status)
	assert.Equal(t, 0, m.ActiveCount(ctx))
}

func TestReplaces(t *testing.T) {
	cached := []byte(`{"id":"1","status":"CUTTING","seq":3}`)
	assert.True(t, replaces(protocol.Order{ID: "1", Status: protocol.StagePacking, Seq: 4}, cached, false))
	assert.False(t, replaces(protocol.Order{ID: "1", Status: protocol.StageConfirmed, Seq: 2}, cached, false))
	assert.False(t, replaces(protocol.Order{ID: "1", Status: protocol.StageCutting, Seq: 3}, cached, false))
	assert.False(t, replaces(protocol.Order{ID: "1", Status: protocol.StagePacking, Seq: 4}, cached, true))
	assert.True(t, replaces(protocol.Order{ID: "1", Status: protocol.StagePacking}, []byte("garbage"), false))
}

func TestWithoutCache(t *testing.T) {
	ctx := context.Background()
	m := NewManager(testDB(t), nil, nil)
	_, err := m.Apply(ctx, protocol.Order{ID: "3", Status: protocol.StageDelivered}, "admin", "")
	require.NoError(t, err)
	o, err := m.Get(ctx, "3")
	require.NoError(t, err)
	assert.Equal(t, protocol.StageDelivered, o.Status)
	assert.Equal(t, -1, m.ActiveCount(ctx))
	assert.NoError(t, m.SyncCacheFromSQL(ctx, 10))
}

func TestSyncCacheFromSQL(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	for _, id := range []protocol.OrderID{"a", "b"} {
		_, err := db.ApplyOrder(ctx, protocol.Order{ID: id, Status: protocol.StageConfirmed}, "bus", "")
		require.NoError(t, err)
	}
	cache := newMemCache()
	m := NewManager(db, cache, nil)
	require.NoError(t, m.SyncCacheFromSQL(ctx, 100))
	assert.Len(t, cache.orders, 2)
}
