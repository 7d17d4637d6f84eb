package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"carewatch-backend/pkg/log"
)

const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

var ErrNotAcquired = errors.New("lock not acquired")

type redisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// Redis is a distributed keyed lock shared by engine replicas.
// A holder that crashes loses the lock after TTL.
type Redis struct {
	client redisClient
	prefix string
	ttl    time.Duration
	poll   time.Duration
	logger log.Logger
}

func NewRedis(client redisClient, ttl time.Duration, logger log.Logger) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Redis{client: client, prefix: "carewatch:lock:", ttl: ttl, poll: 25 * time.Millisecond, logger: logger}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := r.prefix + key
	token := uuid.NewString()
	wait := r.poll
	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock.Redis.Lock: %w", err)
		}
		if ok {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-timer.C:
		}
		if wait < time.Second {
			wait *= 2
		}
	}
	return func() {
		// Released even when ctx is already done.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := r.client.Eval(releaseCtx, releaseScript, []string{redisKey}, token).Err(); err != nil {
			r.logger.Warnf(ctx, "lock.Redis.Unlock: key=%s: %v", key, err)
		}
	}, nil
}
