package ratelimit

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// NewFixedWindowStore wires a limiter store backed by Redis.
func NewFixedWindowStore(rdb *redis.Client, prefix string) (limiter.Store, error) {
	return limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: prefix})
}

// FixedWindow counts events per calendar window. It is cheaper than Limiter and used for
// endpoints where bursts at a window edge are acceptable.
type FixedWindow struct {
	Store limiter.Store
}

func (f FixedWindow) Allow(ctx context.Context, key string, window time.Duration, limit int) (bool, int, time.Time, error) {
	if f.Store == nil || limit <= 0 || window <= 0 {
		return true, limit, time.Now().Add(window), nil
	}
	res, err := limiter.New(f.Store, limiter.Rate{Period: window, Limit: int64(limit)}).Get(ctx, key)
	if err != nil {
		return false, 0, time.Time{}, err
	}
	return !res.Reached, int(res.Remaining), time.Unix(res.Reset, 0), nil
}
