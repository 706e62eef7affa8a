// Package lock serializes reply reconciliation runs, across replicas when
// Redis is configured and within the process otherwise.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"cold-outreach-go/internal/config"
)

// ErrHeld is returned by Acquire when another run holds the lock.
var ErrHeld = errors.New("run lock is held")

// Unlock releases an acquired lock.
type Unlock func(ctx context.Context) error

// Locker hands out a single lease at a time.
type Locker interface {
	Acquire(ctx context.Context) (Unlock, error)
}

// Local is an in-process lock.
type Local struct {
	mu sync.Mutex
}

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) Acquire(ctx context.Context) (Unlock, error) {
	if !l.mu.TryLock() {
		return nil, ErrHeld
	}
	var once sync.Once
	return func(context.Context) error {
		once.Do(l.mu.Unlock)
		return nil
	}, nil
}

// Deletes the key only if it still holds our token, so an expired lease
// never releases a lock taken over by another replica.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Pushes the TTL out only while the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a lease stored under a single key with a TTL. The holder renews
// the lease every third of the TTL until it unlocks, so a run longer than
// the TTL keeps the lock.
type Redis struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedis connects to Redis and checks the connection.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	return &Redis{client: client, key: cfg.LockKey, ttl: ttl}, nil
}

func (r *Redis) Acquire(ctx context.Context) (Unlock, error) {
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, r.key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrHeld
	}

	renewCtx, stopRenew := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(renewCtx, r.ttl/3, func(ctx context.Context) (bool, error) {
			n, err := extendScript.Run(ctx, r.client, []string{r.key}, token, r.ttl.Milliseconds()).Int64()
			return n == 1, err
		})
	}()

	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(func() {
			stopRenew()
			<-done
		})
		if err := releaseScript.Run(ctx, r.client, []string{r.key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to release run lock: %w", err)
		}
		return nil
	}, nil
}

// keepAlive calls extend every interval until ctx is done or extend reports
// the lease is gone. Transient errors are logged and retried on the next tick.
func keepAlive(ctx context.Context, interval time.Duration, extend func(ctx context.Context) (bool, error)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		held, err := extend(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logrus.WithError(err).Warn("Failed to renew run lock")
			continue
		}
		if !held {
			logrus.Warn("Run lock lease was lost before the run finished")
			return
		}
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
