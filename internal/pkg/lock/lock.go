package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrNotAcquired 锁已被其他调用者持有
var ErrNotAcquired = errors.New("lock not acquired")

// 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker 基于 SETNX 的分布式锁
type Locker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewLocker(client *redis.Client, prefix string, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Locker{client: client, prefix: prefix, ttl: ttl}
}

// Lock 持有中的锁
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// Key 返回锁的 Redis 键
func (l *Locker) Key(name string) string {
	return l.prefix + name
}

// Acquire 尝试获取锁，不等待
func (l *Locker) Acquire(ctx context.Context, name string) (*Lock, error) {
	key := l.Key(name)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &Lock{client: l.client, key: key, token: token}, nil
}

// AcquireWait 在 wait 时间内重试获取锁
func (l *Locker) AcquireWait(ctx context.Context, name string, wait time.Duration) (*Lock, error) {
	deadline := time.Now().Add(wait)
	for {
		lk, err := l.Acquire(ctx, name)
		if !errors.Is(err, ErrNotAcquired) || time.Now().After(deadline) {
			return lk, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Release 释放锁；锁已过期或被他人持有时什么也不做
func (lk *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, lk.client, []string{lk.key}, lk.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lock %s: %w", lk.key, err)
	}
	return nil
}
