package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Limiter = (*Redis)(nil)

// Redis counts requests per key in fixed windows:
//
//	INCR   ratelimit:{name}:{key}:{window index}
//	EXPIRE ratelimit:{name}:{key}:{window index} {window}
//
// Both commands go out in one MULTI/EXEC so a counter never outlives its window.
type Redis struct {
	client redis.Cmdable
	name   string
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewRedis allows limit requests per window for each key. name separates
// the counters of different policies (e.g. "auth" and "write").
func NewRedis(client redis.Cmdable, name string, limit int, window time.Duration) *Redis {
	if window <= 0 {
		window = time.Minute
	}
	return &Redis{
		client: client,
		name:   name,
		limit:  int64(limit),
		window: window,
		now:    time.Now,
	}
}

func (l *Redis) Allow(ctx context.Context, key string) (bool, error) {
	slot := l.now().UnixNano() / int64(l.window)
	k := "ratelimit:" + l.name + ":" + key + ":" + strconv.FormatInt(slot, 10)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.Expire(ctx, k, l.window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis: %w", err)
	}
	return incr.Val() <= l.limit, nil
}
