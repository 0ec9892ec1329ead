package xredis

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLeaseLost 续期失败或被别的实例抢走
var ErrLeaseLost = errors.New("xredis: lease lost")

// 是自己的就续期，一次往返完成
const renewScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("pexpire", KEYS[1], ARGV[2])
else
    return 0
end
`

// Lease 长期持有的 DistLock：同一个 key 同一时刻只有一个实例持有，持有者定期续期。
// Held 只看本地记录的有效期，不访问 redis，可以放在写路径上
type Lease struct {
	lock *DistLock
	ttl  time.Duration
	now  func() time.Time

	// 最近一次成功抢到/续上时，发请求之前的时间 + ttl
	validUntil atomic.Int64
}

func NewLease(rdb redis.Cmdable, key string, ttl time.Duration) *Lease {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	l := &Lease{lock: NewDistLock(rdb, key, ttl), ttl: ttl, now: time.Now}
	l.lock.token = fmt.Sprintf("%s-%d", uuid.NewString(), time.Now().UnixNano())
	return l
}

func (l *Lease) ID() string { return l.lock.token }

func (l *Lease) Key() string { return l.lock.key }

// TryAcquire 抢不到时检查是不是自己的，是就续期
func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	start := l.now()
	ok, err := l.lock.TryLock(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		n, err := l.lock.client.Eval(ctx, renewScript, []string{l.lock.key}, l.lock.token, l.ttl.Milliseconds()).Int64()
		if err != nil {
			return false, err
		}
		ok = n == 1
	}
	if ok {
		l.validUntil.Store(start.Add(l.ttl).UnixNano())
	} else {
		l.validUntil.Store(0)
	}
	return ok, nil
}

// Held 本地视角下租约还在有效期内
func (l *Lease) Held() bool {
	return l.now().UnixNano() < l.validUntil.Load()
}

// Acquire 阻塞直到拿到租约，每 every 试一次；redis 暂时不可用时继续等
func (l *Lease) Acquire(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = l.ttl / 3
	}
	for {
		if ok, err := l.TryAcquire(ctx); err == nil && ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(every):
		}
	}
}

// Keep 每 ttl/3 续期一次。被抢走，或者一直续不上直到本地有效期过去，返回 ErrLeaseLost；
// ctx 结束时主动释放
func (l *Lease) Keep(ctx context.Context) error {
	t := time.NewTicker(l.ttl / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			relCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = l.Release(relCtx)
			return ctx.Err()
		case <-t.C:
		}
		ok, err := l.TryAcquire(ctx)
		switch {
		case err != nil:
			if !l.Held() {
				return fmt.Errorf("%w: %v", ErrLeaseLost, err)
			}
		case !ok:
			return ErrLeaseLost
		}
	}
}

// Release 退出时主动让出
func (l *Lease) Release(ctx context.Context) error {
	l.validUntil.Store(0)
	_, err := l.lock.Unlock(ctx)
	return err
}
