// Package laststatus keeps the latest snapshot of every order: SQL is the
// record, Redis a write-through cache that reads prefer.
package laststatus

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"meatmarket/protocol"
	"meatmarket/store"
)

// Cache is the subset of RedisStore the manager needs. Writes happen outside
// the SQL transaction, so SetOrder must ignore a snapshot that protocol.Newer
// ranks below the cached one, and AddOrder must not overwrite anything.
type Cache interface {
	SetOrder(ctx context.Context, o protocol.Order) error
	AddOrder(ctx context.Context, o protocol.Order) error
	GetOrder(ctx context.Context, id protocol.OrderID) (*protocol.Order, error)
	ActiveIDs(ctx context.Context) ([]protocol.OrderID, error)
}

type Manager struct {
	db    *store.DB
	cache Cache
	log   *zap.Logger
}

// NewManager wires the manager. cache may be nil to run on SQL alone.
func NewManager(db *store.DB, cache Cache, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{db: db, cache: cache, log: log.Named("laststatus")}
}

// Apply writes o through to SQL and, if it was newer, to the cache.
func (m *Manager) Apply(ctx context.Context, o protocol.Order, source, note string) (store.ApplyResult, error) {
	res, err := m.db.ApplyOrder(ctx, o, source, note)
	if err != nil {
		return res, err
	}
	if res.Applied {
		m.refresh(ctx, res.Current)
	}
	return res, nil
}

// Get reads from the cache, falling back to SQL and backfilling the cache.
func (m *Manager) Get(ctx context.Context, id protocol.OrderID) (protocol.Order, error) {
	if m.cache != nil {
		o, err := m.cache.GetOrder(ctx, id)
		if err == nil && o != nil {
			return *o, nil
		}
		if err != nil {
			m.log.Warn("cache read failed", zap.String("order_id", string(id)), zap.Error(err))
		}
	}
	o, err := m.db.GetOrder(ctx, id)
	if err != nil {
		return o, err
	}
	// A concurrent Apply may have cached a newer snapshot since the read.
	if m.cache != nil {
		if err := m.cache.AddOrder(ctx, o); err != nil {
			m.log.Warn("cache backfill failed", zap.String("order_id", string(id)), zap.Error(err))
		}
	}
	return o, nil
}

// Lookup is Get with a not-found result folded into ok.
func (m *Manager) Lookup(ctx context.Context, id protocol.OrderID) (protocol.Order, bool, error) {
	o, err := m.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return protocol.Order{}, false, nil
	}
	if err != nil {
		return protocol.Order{}, false, err
	}
	return o, true, nil
}

// ActiveCount returns the number of in-progress orders known to the cache,
// or -1 when there is no cache.
func (m *Manager) ActiveCount(ctx context.Context) int {
	if m.cache == nil {
		return -1
	}
	ids, err := m.cache.ActiveIDs(ctx)
	if err != nil {
		return -1
	}
	return len(ids)
}

// SyncCacheFromSQL loads the most recent orders into the cache. Called on startup.
func (m *Manager) SyncCacheFromSQL(ctx context.Context, limit int) error {
	if m.cache == nil {
		return nil
	}
	orders, err := m.db.ListOrders(ctx, limit)
	if err != nil {
		return err
	}
	for _, o := range orders {
		if err := m.cache.SetOrder(ctx, o); err != nil {
			return err
		}
	}
	m.log.Info("cache warmed", zap.Int("orders", len(orders)))
	return nil
}

func (m *Manager) refresh(ctx context.Context, o protocol.Order) {
	if m.cache == nil {
		return
	}
	if err := m.cache.SetOrder(ctx, o); err != nil {
		m.log.Warn("cache write failed", zap.String("order_id", string(o.ID)), zap.Error(err))
	}
}
