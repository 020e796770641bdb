// Package redis provides a multi-process lock factory and a kv.Store on Redis.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/codewandler/esengine/core/es"
)

const (
	defaultLockTTL   = 30 * time.Second
	defaultRetry     = 25 * time.Millisecond
	defaultKeyPrefix = "esengine:lock:"
)

var (
	// release and extend only touch the key while it still holds our token
	releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

type LockConfig struct {
	Log *slog.Logger
	// TTL bounds how long a crashed holder blocks others. Held locks are
	// extended every TTL/3 until released.
	TTL           time.Duration
	RetryInterval time.Duration
	KeyPrefix     string
}

// LockFactory hands out exclusive locks stored as Redis keys with a random
// owner token.
type LockFactory struct {
	client goredis.UniversalClient
	log    *slog.Logger
	ttl    time.Duration
	retry  time.Duration
	prefix string
}

func NewLockFactory(client goredis.UniversalClient, cfg LockConfig) *LockFactory {
	f := &LockFactory{
		client: client,
		log:    cfg.Log,
		ttl:    cfg.TTL,
		retry:  cfg.RetryInterval,
		prefix: cfg.KeyPrefix,
	}
	if f.log == nil {
		f.log = slog.Default()
	}
	f.log = f.log.With(slog.String("lock", "redis"))
	if f.ttl <= 0 {
		f.ttl = defaultLockTTL
	}
	if f.retry <= 0 {
		f.retry = defaultRetry
	}
	if f.prefix == "" {
		f.prefix = defaultKeyPrefix
	}
	return f
}

// Acquire polls until the key is free or ctx is done.
func (f *LockFactory) Acquire(ctx context.Context, key string) (es.Lock, error) {
	var (
		redisKey = f.prefix + key
		token    = uuid.NewString()
		ticker   *time.Ticker
	)
	for {
		ok, err := f.client.SetNX(ctx, redisKey, token, f.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		if ticker == nil {
			ticker = time.NewTicker(f.retry)
			defer ticker.Stop()
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	l := &lock{
		factory:  f,
		key:      key,
		redisKey: redisKey,
		token:    token,
		stop:     make(chan struct{}),
	}
	l.wg.Add(1)
	go l.keepAlive()
	return l, nil
}

type lock struct {
	factory  *LockFactory
	key      string
	redisKey string
	token    string

	once sync.Once
	stop chan struct{}
	wg   sync.WaitGroup
}

func (l *lock) Key() string { return l.key }

func (l *lock) keepAlive() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.factory.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.factory.ttl/3)
			n, err := extendScript.Run(ctx, l.factory.client, []string{l.redisKey}, l.token, l.factory.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.factory.log.Warn("lock extend failed", slog.String("key", l.key), slog.Any("error", err))
				continue
			}
			if n == 0 {
				l.factory.log.Warn("lock lost", slog.String("key", l.key))
				return
			}
		}
	}
}

func (l *lock) Release(ctx context.Context) error {
	released := false
	l.once.Do(func() {
		released = true
		close(l.stop)
	})
	if !released {
		return es.ErrLockNotHeld
	}
	l.wg.Wait()

	n, err := releaseScript.Run(ctx, l.factory.client, []string{l.redisKey}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s expired", es.ErrLockNotHeld, l.key)
	}
	return nil
}

var _ es.LockFactory = (*LockFactory)(nil)
