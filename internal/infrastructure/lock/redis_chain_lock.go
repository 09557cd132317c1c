package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"negotiation-engine/internal/domain"
	"negotiation-engine/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// RedisChainLock serializes chain writers across service instances. Each
// holder owns a random token; the key expires after ttl unless the holder's
// keepalive extends it.
type RedisChainLock struct {
	client     *redis.Client
	prefix     string
	ttl        time.Duration
	retryEvery time.Duration
	log        logger.Logger
}

func NewRedisChainLock(client *redis.Client, prefix string, ttl, retryEvery time.Duration, log logger.Logger) *RedisChainLock {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if retryEvery <= 0 {
		retryEvery = 25 * time.Millisecond
	}
	return &RedisChainLock{
		client:     client,
		prefix:     prefix,
		ttl:        ttl,
		retryEvery: retryEvery,
		log:        log,
	}
}

func (l *RedisChainLock) key(k string) string {
	return l.prefix + ":lock:" + k
}

// Lock polls SETNX until it wins or ctx is done.
func (l *RedisChainLock) Lock(ctx context.Context, k string) (func(), error) {
	key := l.key(k)
	token := uuid.New().String()

	ticker := time.NewTicker(l.retryEvery)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", domain.ErrLockTimeout, ctx.Err())
			}
			return nil, fmt.Errorf("%w: acquire %s: %w", domain.ErrUnavailable, key, err)
		}
		if ok {
			break
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", domain.ErrLockTimeout, ctx.Err())
		}
	}

	stop := make(chan struct{})
	go l.keepAlive(key, token, stop)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				l.log.Warn("Failed to release chain lock", "key", key, "error", err)
			}
		})
	}, nil
}

// keepAlive refreshes the key at a third of its ttl until stop closes or the
// token no longer owns the key.
func (l *RedisChainLock) keepAlive(key, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		n, err := extendScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int64()
		cancel()

		if err != nil || n == 0 {
			l.log.Warn("Lost chain lock", "key", key, "error", err)
			return
		}
	}
}
