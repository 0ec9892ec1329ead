package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"gopherheir.com/pkg/clock"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Store 每个 key 一个令牌桶，key 一般是签名地址或者客户端 ip
type Store struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    rate.Limit
	burst   int
	idle    time.Duration
	clock   clock.Clock
}

type StoreOption func(*Store)

// WithStoreClock 令牌补充和空闲回收都按这个时钟算
func WithStoreClock(clk clock.Clock) StoreOption {
	return func(s *Store) { s.clock = clk }
}

func NewStore(r rate.Limit, burst int, idle time.Duration, opts ...StoreOption) *Store {
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	s := &Store{
		buckets: make(map[string]*bucket, 1024),
		rate:    r,
		burst:   burst,
		idle:    idle,
		clock:   clock.System(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Allow 消耗一个令牌，桶空了返回 false
func (s *Store) Allow(key string) bool {
	now := s.clock.Now()

	s.mu.Lock()
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(s.rate, s.burst)}
		s.buckets[key] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)
	s.mu.Unlock()
	return allowed
}

// Len 当前跟踪的 key 数
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// StartJanitor 定期回收空闲的桶，ctx 结束退出
func (s *Store) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

func (s *Store) sweep() int {
	cut := s.clock.Now().Add(-s.idle)

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, b := range s.buckets {
		if b.lastSeen.Before(cut) {
			delete(s.buckets, k)
			n++
		}
	}
	return n
}
