package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only while it still carries our token, so a
// lock that expired and was re-taken by someone else is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lock shared by every replica pointing at the same redis.
type Redis struct {
	client     redis.UniversalClient
	ttl        time.Duration
	retries    int
	retryDelay time.Duration
	logger     *zap.Logger
}

func NewRedis(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *Redis {
	return &Redis{
		client:     client,
		ttl:        ttl,
		retries:    30,
		retryDelay: 100 * time.Millisecond,
		logger:     logger,
	}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := "lock:" + key
	token := uuid.New().String()

	acquired := false
	for i := 0; i < r.retries; i++ {
		ok, err := r.client.SetNX(ctx, lockKey, token, r.ttl).Result()
		if err != nil {
			r.logger.Error("failed to acquire lock redis error", zap.String("key", lockKey), zap.Error(err))
		}
		if ok {
			acquired = true
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.retryDelay):
		}
	}
	if !acquired {
		return nil, fmt.Errorf("lock %s: %w", key, ErrBusy)
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// the request context may already be cancelled
		relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(relCtx, r.client, []string{lockKey}, token).Err(); err != nil {
			r.logger.Warn("failed to release lock", zap.String("key", lockKey), zap.Error(err))
		}
	}, nil
}
