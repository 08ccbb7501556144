package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrNotObtained is returned when a Redis lock could not be acquired
// before the retry budget ran out.
var ErrNotObtained = errors.New("could not obtain lock")

// Redis is a Locker shared by every client pointed at the same Redis.
type Redis struct {
	client *redislock.Client
	ttl    time.Duration
	retry  time.Duration
	logger logrus.FieldLogger
}

// RedisOptions configures a Redis locker.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Retry    time.Duration
}

// NewRedis connects to Redis and returns a locker. The caller owns the
// returned client and should Close it.
func NewRedis(ctx context.Context, opts RedisOptions, logger logrus.FieldLogger) (*Redis, *redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("connecting to redis %s: %w", opts.Addr, err)
	}
	return NewRedisFromClient(rdb, opts.TTL, opts.Retry, logger), rdb, nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(rdb redislock.RedisClient, ttl, retry time.Duration, logger logrus.FieldLogger) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if retry <= 0 {
		retry = 100 * time.Millisecond
	}
	return &Redis{client: redislock.New(rdb), ttl: ttl, retry: retry, logger: logger}
}

// Lock obtains key with linear backoff. Waiting stops after one TTL or
// when ctx is done, whichever comes first.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	obtainCtx, cancel := context.WithTimeout(ctx, r.ttl)
	defer cancel()

	lock, err := r.client.Obtain(obtainCtx, key, r.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(r.retry),
	})
	if errors.Is(err, redislock.ErrNotObtained) || (errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil) {
		return nil, fmt.Errorf("locking %s: %w", key, ErrNotObtained)
	}
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", key, err)
	}

	return func() {
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			r.logger.WithError(err).WithField("key", key).Warn("failed to release redis lock")
		}
	}, nil
}
