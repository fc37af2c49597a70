// Package writelock serializes ledger writes across replicas that share one
// database.
package writelock

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultKey = "purchaseledger:write"

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	ErrNotAcquired = errors.New("write_lock_not_acquired")
	ErrInvalidTTL  = errors.New("write_lock_ttl_invalid")
	ErrNoClient    = errors.New("write_lock_client_not_configured")
)

const (
	releaseTimeout  = 2 * time.Second
	defaultMaxWait  = 30 * time.Second
	initialInterval = 20 * time.Millisecond
)

// Locker grants exclusive write access until release is called.
type Locker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// Noop is used when a single process owns the database.
type Noop struct{}

func (Noop) Acquire(context.Context) (func(), error) { return func() {}, nil }

type RedisLocker struct {
	client  *redis.Client
	script  *redis.Script
	log     *zap.Logger
	key     string
	ttl     time.Duration
	maxWait time.Duration
}

type Options struct {
	Key string
	// TTL bounds how long a crashed holder blocks other replicas.
	TTL     time.Duration
	MaxWait time.Duration
}

func NewRedisLocker(client *redis.Client, log *zap.Logger, opts Options) (*RedisLocker, error) {
	if client == nil {
		return nil, ErrNoClient
	}
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.TTL <= 0 {
		return nil, ErrInvalidTTL
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = defaultMaxWait
	}
	return &RedisLocker{
		client:  client,
		script:  redis.NewScript(lockReleaseScript),
		log:     log.Named("writelock"),
		key:     opts.Key,
		ttl:     opts.TTL,
		maxWait: opts.MaxWait,
	}, nil
}

// TryLock makes one attempt and returns the owner token on success.
func (l *RedisLocker) TryLock(ctx context.Context) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Acquire retries with exponential backoff until the lock is held, ctx is
// done or MaxWait elapses.
func (l *RedisLocker) Acquire(ctx context.Context) (func(), error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initialInterval
	policy.MaxInterval = time.Second

	token, err := backoff.Retry(ctx, func() (string, error) {
		token, ok, err := l.TryLock(ctx)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", ErrNotAcquired
		}
		return token, nil
	}, backoff.WithBackOff(policy), backoff.WithMaxElapsedTime(l.maxWait))
	if err != nil {
		return nil, err
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := l.Release(releaseCtx, token); err != nil {
			l.log.Warn("write lock release failed, waiting for ttl", zap.Error(err))
		}
	}, nil
}

// Release deletes the lock only if token still owns it.
func (l *RedisLocker) Release(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{l.key}, token).Err()
}
