package service

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/encoding/json"
	"gopherheir.com/internal/custody"
	"gopherheir.com/internal/custody/outbox"
	"gopherheir.com/pkg/metrics"
)

type HistoryCache interface {
	Get(ctx context.Context, addr common.Address, page, limit int) (*HistoryPage, bool, error)
	Set(ctx context.Context, addr common.Address, page, limit int, p *HistoryPage, ttl time.Duration) error
	Invalidate(ctx context.Context, addr common.Address) error
}

// 一个账户一个 hash，field 是分页参数；失效时整键删除
type redisHistoryCache struct {
	client redis.Cmdable
}

func NewRedisHistoryCache(c redis.Cmdable) HistoryCache {
	return &redisHistoryCache{client: c}
}

func (r *redisHistoryCache) Get(ctx context.Context, addr common.Address, page, limit int) (*HistoryPage, bool, error) {
	start := time.Now()
	b, err := r.client.HGet(ctx, historyKey(addr), pageField(page, limit)).Bytes()
	observeCmd("hget", start, err)
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var p HistoryPage
	if err := json.Unmarshal(b, &p); err != nil {
		// 缓存脏了就删掉，避免持续命中错误
		_ = r.client.Del(ctx, historyKey(addr)).Err()
		return nil, false, err
	}
	return &p, true, nil
}

func (r *redisHistoryCache) Set(ctx context.Context, addr common.Address, page, limit int, p *HistoryPage, ttl time.Duration) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	key := historyKey(addr)
	start := time.Now()
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, pageField(page, limit), b)
		// 加入随机时间，防止同时过期
		pipe.Expire(ctx, key, withJitter(ttl, 300*time.Millisecond))
		return nil
	})
	observeCmd("hset", start, err)
	return err
}

func (r *redisHistoryCache) Invalidate(ctx context.Context, addr common.Address) error {
	start := time.Now()
	err := r.client.Del(ctx, historyKey(addr)).Err()
	observeCmd("del", start, err)
	return err
}

func observeCmd(cmd string, start time.Time, err error) {
	status := "ok"
	switch {
	case err == redis.Nil:
		status = "miss"
	case err != nil:
		status = "error"
	}
	metrics.RedisCmdDuration.WithLabelValues(cmd, status).Observe(time.Since(start).Seconds())
}

func historyKey(addr common.Address) string {
	return "custody:hist:" + addr.Hex()
}

func pageField(page, limit int) string {
	return fmt.Sprintf("%d:%d", page, limit)
}

func withJitter(ttl time.Duration, jitter time.Duration) time.Duration {
	if ttl <= 0 || jitter <= 0 {
		return ttl
	}
	// [0, jitter) 的随机
	return ttl + time.Duration(rand.Int63n(int64(jitter)))
}

// invalidatingSink 投影写成功后删掉该账户的历史缓存
type invalidatingSink struct {
	next  outbox.Sink
	cache HistoryCache
}

func InvalidateOnProject(next outbox.Sink, cache HistoryCache) outbox.Sink {
	if cache == nil {
		return next
	}
	return &invalidatingSink{next: next, cache: cache}
}

func (s *invalidatingSink) Name() string { return s.next.Name() }

func (s *invalidatingSink) Handle(ctx context.Context, ev custody.Event) error {
	if err := s.next.Handle(ctx, ev); err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, ev.Account)
}
