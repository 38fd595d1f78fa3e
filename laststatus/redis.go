package laststatus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"meatmarket/protocol"
)

// RedisStore caches the latest snapshot per order.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore returns a cache whose entries expire after ttl (0 keeps them).
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func orderKey(id protocol.OrderID) string {
	return "meatmarket:order:" + string(id)
}

const activeOrdersKey = "meatmarket:orders:active"

// maxWriteAttempts bounds retries when another writer touches the key
// between the read and the write.
const maxWriteAttempts = 5

// SetOrder stores o unless the cached snapshot is newer, and tracks whether
// the order is still in progress.
func (r *RedisStore) SetOrder(ctx context.Context, o protocol.Order) error {
	return r.write(ctx, o, false)
}

// AddOrder stores o only when nothing is cached for it yet.
func (r *RedisStore) AddOrder(ctx context.Context, o protocol.Order) error {
	return r.write(ctx, o, true)
}

func (r *RedisStore) write(ctx context.Context, o protocol.Order, onlyIfAbsent bool) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	key := orderKey(o.ID)
	txf := func(tx *redis.Tx) error {
		cached, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		case !replaces(o, cached, onlyIfAbsent):
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			if o.Status.IsTerminal() {
				pipe.SRem(ctx, activeOrdersKey, string(o.ID))
			} else {
				pipe.SAdd(ctx, activeOrdersKey, string(o.ID))
			}
			return nil
		})
		return err
	}
	for i := 0; i < maxWriteAttempts; i++ {
		err = r.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("cache write %s: %w", o.ID, err)
}

// replaces reports whether o should overwrite the cached encoding. An
// unreadable entry is always replaced.
func replaces(o protocol.Order, cached []byte, onlyIfAbsent bool) bool {
	if onlyIfAbsent {
		return false
	}
	var cur protocol.Order
	if err := json.Unmarshal(cached, &cur); err != nil {
		return true
	}
	return protocol.Newer(o, cur)
}

// GetOrder returns nil without error on a cache miss.
func (r *RedisStore) GetOrder(ctx context.Context, id protocol.OrderID) (*protocol.Order, error) {
	data, err := r.client.Get(ctx, orderKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var o protocol.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *RedisStore) ActiveIDs(ctx context.Context) ([]protocol.OrderID, error) {
	members, err := r.client.SMembers(ctx, activeOrdersKey).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]protocol.OrderID, len(members))
	for i, m := range members {
		ids[i] = protocol.OrderID(m)
	}
	return ids, nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
