package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"ticketing-settlement/pkg/config"
	"ticketing-settlement/pkg/errutil"
	"ticketing-settlement/pkg/rediskey"
	"ticketing-settlement/pkg/util"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("lock", fx.Provide(ProvideLocker))

// ReasonInProgress is returned when a lock could not be acquired in time.
const ReasonInProgress = "SETTLEMENT_IN_PROGRESS"

// Locker serializes writers per key. Acquire waits until the lock is free,
// the wait budget is spent, or ctx is done.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// Key names the lock for one subject, e.g. "event:<id>".
func Key(scope, id string) string {
	return scope + ":" + id
}

// Release frees a held lock. It is safe to call more than once.
type Release func()

type Options struct {
	TTL  time.Duration
	Wait time.Duration
	Poll time.Duration
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 30 * time.Second
	}
	if o.Wait <= 0 {
		o.Wait = 5 * time.Second
	}
	if o.Poll <= 0 {
		o.Poll = 50 * time.Millisecond
	}
	return o
}

type LockerParams struct {
	fx.In
	Config *config.Config
	Redis  *redis.Client `optional:"true"`
}

func ProvideLocker(p LockerParams) Locker {
	opts := Options{TTL: p.Config.Settlement.LockTTL, Wait: p.Config.Settlement.LockWait}
	if p.Redis == nil {
		zap.L().Warn("[Lock] redis not provided, using in-process locks")
		return NewLocalLocker(opts)
	}
	return NewRedisLocker(p.Redis, opts)
}

func inProgress(key string, err error) error {
	return errutil.Conflict("another settlement for this subject is in progress", err,
		errutil.WithReason(ReasonInProgress),
		errutil.WithDetails(errutil.Detail{Field: "lock", Message: key}),
	)
}

// RedisLocker implements Locker with SET NX PX and a compare-and-delete
// release, so a holder whose TTL expired cannot free someone else's lock.
type RedisLocker struct {
	rdb  *redis.Client
	opts Options
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewRedisLocker(rdb *redis.Client, opts Options) *RedisLocker {
	return &RedisLocker{rdb: rdb, opts: opts.withDefaults()}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (Release, error) {
	token, err := util.HexToken(16)
	if err != nil {
		return nil, err
	}

	redisKey := rediskey.NamespaceKey(rediskey.LockPrefix, key)
	deadline := time.Now().Add(l.opts.Wait)

	for {
		ok, err := l.rdb.SetNX(ctx, redisKey, token, l.opts.TTL).Result()
		if err != nil {
			return nil, errutil.ServiceUnavailable("lock backend unavailable", err)
		}
		if ok {
			break
		}

		if time.Now().After(deadline) {
			return nil, inProgress(key, nil)
		}

		select {
		case <-ctx.Done():
			return nil, inProgress(key, ctx.Err())
		case <-time.After(l.opts.Poll):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// release must survive a cancelled request context
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.rdb, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				zap.L().Error("[Lock] failed to release lock", zap.String("key", redisKey), zap.Error(err))
			}
		})
	}, nil
}

// LocalLocker implements Locker for a single process.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
	opts  Options
}

func NewLocalLocker(opts Options) *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{}), opts: opts.withDefaults()}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (Release, error) {
	ch := l.slot(key)

	timer := time.NewTimer(l.opts.Wait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
	case <-timer.C:
		return nil, inProgress(key, nil)
	case <-ctx.Done():
		return nil, inProgress(key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}, nil
}
