package sigauth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var ErrReplayed = errors.New("sigauth: request signature already used")

// ReplayCache Mark 第一次见到 key 返回 true，ttl 内再来返回 false
type ReplayCache interface {
	Mark(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MemoryReplayCache 单进程用，过期项在 Mark 时顺带清理
type MemoryReplayCache struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	now       func() time.Time
	lastSweep time.Time
}

func NewMemoryReplayCache(now func() time.Time) *MemoryReplayCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryReplayCache{seen: make(map[string]time.Time), now: now}
}

func (m *MemoryReplayCache) Mark(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if now.Sub(m.lastSweep) >= ttl {
		for k, exp := range m.seen {
			if !now.Before(exp) {
				delete(m.seen, k)
			}
		}
		m.lastSweep = now
	}
	if exp, ok := m.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.seen[key] = now.Add(ttl)
	return true, nil
}

func (m *MemoryReplayCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

// CheckReplay 把 digest 记进 cache，见过的返回 ErrReplayed
func CheckReplay(ctx context.Context, cache ReplayCache, digest common.Hash, ttl time.Duration) error {
	ok, err := cache.Mark(ctx, digest.Hex(), ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrReplayed
	}
	return nil
}
