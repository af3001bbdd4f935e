package redisx

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Claim sets key if absent and reports whether this caller set it.
func Claim(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, "1", ttl).Result()
}

// StatusCache is a read-through cache of small JSON documents. Redis errors
// are treated as misses; the database stays the source of truth.
type StatusCache struct {
	R   *redis.Client
	TTL time.Duration
}

func (c *StatusCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil || c.R == nil {
		return nil, false
	}
	b, err := c.R.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return b, true
}

func (c *StatusCache) ttl() time.Duration {
	if c.TTL <= 0 {
		return TTLStatusCache
	}
	return c.TTL
}

// Generation returns the write generation of key. Read it before loading the
// value from the database and pass it to SetIfUnchanged.
func (c *StatusCache) Generation(ctx context.Context, key string) int64 {
	if c == nil || c.R == nil {
		return 0
	}
	n, err := c.R.Get(ctx, generationKey(key)).Int64()
	if err != nil {
		return 0
	}
	return n
}

// SetIfUnchanged stores value unless key was invalidated after gen was read.
// A lost race is not an error; the next read fills the cache.
func (c *StatusCache) SetIfUnchanged(ctx context.Context, key string, gen int64, value []byte) error {
	if c == nil || c.R == nil {
		return nil
	}
	gk := generationKey(key)
	err := c.R.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, gk).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, value, c.ttl())
			return nil
		})
		return err
	}, gk)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

// Invalidate drops key and bumps its generation so a read that started
// before the write cannot put the old value back.
func (c *StatusCache) Invalidate(ctx context.Context, key string) error {
	if c == nil || c.R == nil {
		return nil
	}
	gk := generationKey(key)
	_, err := c.R.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.Incr(ctx, gk)
		pipe.Expire(ctx, gk, c.ttl())
		return nil
	})
	return err
}
