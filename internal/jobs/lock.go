package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"
)

// Locker elects a single runner among instances.
// TryLock returns ok=false when somebody else holds key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// RedisLock is a Locker built on SET NX with a TTL. The TTL bounds how long
// a crashed holder can block the others.
type RedisLock struct {
	client redis.Cmdable
	logger *slog.Logger
}

func NewRedisLock(client redis.Cmdable, logger *slog.Logger) *RedisLock {
	return &RedisLock{client: client, logger: logger}
}

// unlockScript deletes the key only if it still holds our token, so a
// holder whose TTL lapsed cannot release somebody else's lock.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *RedisLock) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := xid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("jobs: redis lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := unlockScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Warn("releasing redis lock failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
	return release, true, nil
}
