package pettycash

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const balanceKeyPrefix = "pettycash:balance"

// Cache stores fund balances in Redis under per-fund versioned keys.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the balance cache.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current balance version of a fund.
func (c *Cache) Version(ctx context.Context, fundID int64) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, versionKey(fundID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return ver, err
}

// Balance returns the cached balance or populates it using loader.
func (c *Cache) Balance(ctx context.Context, fundID int64, loader func(context.Context) (decimal.Decimal, error)) (decimal.Decimal, error) {
	if loader == nil {
		return decimal.Zero, errors.New("pettycash: balance loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	ver, err := c.Version(ctx, fundID)
	if err != nil {
		return decimal.Zero, err
	}
	key := fmt.Sprintf("%s:%d:%d", balanceKeyPrefix, fundID, ver)
	raw, err := c.client.Get(ctx, key).Result()
	if err == nil {
		return decimal.NewFromString(raw)
	}
	if !errors.Is(err, redis.Nil) {
		return decimal.Zero, err
	}
	value, err, _ := c.group.Do(key, func() (interface{}, error) {
		balance, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, balance.StringFixed(2), c.ttl).Err(); err != nil {
			return nil, err
		}
		return balance, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return value.(decimal.Decimal), nil
}

// Invalidate bumps the fund version so the next read recomputes the balance.
func (c *Cache) Invalidate(ctx context.Context, fundID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, versionKey(fundID)).Err()
}

func versionKey(fundID int64) string {
	return fmt.Sprintf("%s:version:%d", balanceKeyPrefix, fundID)
}
