package viewcount

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	countKeyPrefix = "shotnews:views:news:"
	trendingKey    = "shotnews:views:trending"
)

// Counter tracks per-article view counts and a trending ZSET in redis.
type Counter struct {
	rdb *redis.Client
}

func NewCounter(rdb *redis.Client) *Counter {
	return &Counter{rdb: rdb}
}

// Incr 累加一次浏览，同时更新热门榜单。
func (c *Counter) Incr(ctx context.Context, newsID uint) (int64, error) {
	if c == nil || c.rdb == nil {
		return 0, nil
	}
	member := strconv.FormatUint(uint64(newsID), 10)
	views, err := c.rdb.Incr(ctx, countKeyPrefix+member).Result()
	if err != nil {
		return 0, fmt.Errorf("viewcount incr: %w", err)
	}
	if err := c.rdb.ZIncrBy(ctx, trendingKey, 1, member).Err(); err != nil {
		return views, fmt.Errorf("viewcount zincrby: %w", err)
	}
	return views, nil
}

// Get 返回某篇新闻在 Redis 中的浏览计数（不存在返回 0）。
func (c *Counter) Get(ctx context.Context, newsID uint) (int64, error) {
	if c == nil || c.rdb == nil {
		return 0, nil
	}
	member := strconv.FormatUint(uint64(newsID), 10)
	raw, err := c.rdb.Get(ctx, countKeyPrefix+member).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("viewcount get: %w", err)
	}
	views, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("viewcount parse: %w", err)
	}
	return views, nil
}

// Top 返回浏览量最高的 n 篇新闻 ID（降序）。
func (c *Counter) Top(ctx context.Context, n int) ([]uint, error) {
	if c == nil || c.rdb == nil || n <= 0 {
		return nil, nil
	}
	members, err := c.rdb.ZRevRange(ctx, trendingKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("viewcount zrevrange: %w", err)
	}
	ids := make([]uint, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}

// Remove 删除某篇新闻的计数与榜单记录（新闻被删除时调用）。
func (c *Counter) Remove(ctx context.Context, newsID uint) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	member := strconv.FormatUint(uint64(newsID), 10)
	if err := c.rdb.Del(ctx, countKeyPrefix+member).Err(); err != nil {
		return fmt.Errorf("viewcount del: %w", err)
	}
	if err := c.rdb.ZRem(ctx, trendingKey, member).Err(); err != nil {
		return fmt.Errorf("viewcount zrem: %w", err)
	}
	return nil
}
