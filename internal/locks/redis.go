package locks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrLockTimeout = errors.New("lock wait timed out")
	ErrLockLost    = errors.New("lock lost before release")
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a Locker shared by every API replica and the worker.
// A lock expires after ttl so a crashed holder cannot wedge an escrow; a live
// holder extends it every ttl/3 until it unlocks.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	poll   time.Duration
	log    *zap.Logger
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, log *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{
		client: client,
		prefix: "escrowd:lock:",
		ttl:    ttl,
		poll:   50 * time.Millisecond,
		log:    log,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := l.prefix + key

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrLockTimeout, ctx.Err())
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := l.keepAlive(stop, key, l.ttl/3, func() (bool, error) {
			rctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			defer cancel()
			n, err := extendScript.Run(rctx, l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int()
			return n == 1, err
		})
		if err != nil {
			l.log.Error("escrow lock expired while held", zap.String("key", key), zap.Error(err))
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// Release must not depend on the caller's context, which may be done.
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, l.client, []string{redisKey}, token).Err(); err != nil {
				l.log.Warn("failed to release lock", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}

// keepAlive calls extend every interval until stop is closed. It returns
// ErrLockLost once extend reports the token is gone. Extend errors are
// retried on the next tick.
func (l *RedisLocker) keepAlive(stop <-chan struct{}, key string, every time.Duration, extend func() (bool, error)) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return nil
		case <-t.C:
		}
		held, err := extend()
		if err != nil {
			l.log.Warn("failed to extend lock", zap.String("key", key), zap.Error(err))
			continue
		}
		if !held {
			return ErrLockLost
		}
	}
}
