/*
Package redis provides a Redis-backed generic.Locker so several engine
processes sharing one database serialize work per employee.

LOCK PROTOCOL:
  Lock:   SET leave:lock:<key> <token> NX PX <ttl>, polled until it
          succeeds or ctx is done.
  Unlock: delete the key only if it still holds our token (Lua), so an
          expired lock taken over by another process is never released
          by the old holder.

  The TTL bounds how long a crashed holder blocks others. The store's
  version checks still catch anything that slips past an expired lock.
*/
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
)

const lockPrefix = "leave:lock:"

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Options configures the connection and lock timing.
type Options struct {
	Addr     string
	Password string
	DB       int

	TTL          time.Duration // lock expiry; default 10s
	PollInterval time.Duration // retry interval while contended; default 25ms
}

// Locker implements generic.Locker on Redis.
type Locker struct {
	rdb    *goredis.Client
	ttl    time.Duration
	poll   time.Duration
	logger *zap.Logger
}

var _ generic.Locker = (*Locker)(nil)

// Connect dials Redis and checks it answers.
func Connect(ctx context.Context, opts Options, logger *zap.Logger) (*Locker, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis connect %s: %w", opts.Addr, err)
	}

	logger.Info("redis connected", zap.String("addr", opts.Addr))
	return NewLocker(rdb, opts, logger), nil
}

// NewLocker wraps an existing client.
func NewLocker(rdb *goredis.Client, opts Options, logger *zap.Logger) *Locker {
	l := &Locker{rdb: rdb, ttl: opts.TTL, poll: opts.PollInterval, logger: logger}
	if l.ttl <= 0 {
		l.ttl = 10 * time.Second
	}
	if l.poll <= 0 {
		l.poll = 25 * time.Millisecond
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	return l
}

// Client exposes the connection for other Redis-backed components
// (the API rate limiter shares it).
func (l *Locker) Client() *goredis.Client { return l.rdb }

func (l *Locker) Close() error { return l.rdb.Close() }

// Lock blocks until key is held or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := lockPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.rdb.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("acquire %s: %w", redisKey, err)
		}
		if ok {
			return l.unlocker(redisKey, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, generic.ErrLockTimeout
		case <-ticker.C:
		}
	}
}

func (l *Locker) unlocker(redisKey, token string) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true

		// The caller's context may already be cancelled; release anyway.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.rdb, []string{redisKey}, token).Err(); err != nil {
			l.logger.Warn("redis lock release failed", zap.String("key", redisKey), zap.Error(err))
		}
	}
}
