package xredis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// SeenSet 一次性标记：同一个 key 在 ttl 内只有第一次 Mark 返回 true。多实例共享
type SeenSet struct {
	rdb    redis.Cmdable
	prefix string
}

func NewSeenSet(rdb redis.Cmdable, prefix string) *SeenSet {
	return &SeenSet{rdb: rdb, prefix: prefix}
}

func (s *SeenSet) Mark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, s.prefix+key, 1, ttl).Result()
}
