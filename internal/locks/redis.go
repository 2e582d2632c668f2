package locks

import (
	"context"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"invoice-reconciliation-engine/pkg/logger"
)

// DefaultLockTTL bounds how long a crashed holder can block an invoice
const DefaultLockTTL = 2 * time.Minute

// RedisLocker is a Locker shared by every process using the same Redis
type RedisLocker struct {
	client *redislock.Client
	prefix string
	ttl    time.Duration
	logger logger.Logger
}

// NewRedisLocker creates a locker on top of an existing client. Keys are
// stored under prefix.
func NewRedisLocker(rdb redis.UniversalClient, prefix string, ttl time.Duration, log logger.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &RedisLocker{
		client: redislock.New(rdb),
		prefix: prefix,
		ttl:    ttl,
		logger: log.WithComponent("locks"),
	}
}

// DialRedis connects to addr and checks the connection
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, errors.Wrapf(err, "ping redis at %s", addr)
	}
	return rdb, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	lock, err := l.client.Obtain(ctx, l.prefix+key, l.ttl, nil)
	if err == redislock.ErrNotObtained {
		return nil, errors.Wrapf(ErrLockHeld, "key %s", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "obtain lock %s", key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release must not be cut short by a cancelled request context
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lock.Release(releaseCtx); err != nil && err != redislock.ErrLockNotHeld {
				l.logger.WithError(err).WithField("key", key).Warn("Failed to release lock")
			}
		})
	}, nil
}
