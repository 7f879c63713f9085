package artifacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ContentCache stores fetched bodies keyed by CID. Content under a CID never
// changes, so a hit is authoritative.
type ContentCache interface {
	Get(ctx context.Context, cid string) ([]byte, bool, error)
	Set(ctx context.Context, cid string, data []byte) error
}

// RedisCache implements ContentCache on Redis.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a cache on an existing client. A zero ttl keeps
// entries until evicted.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: "goldeval:ipfs:", ttl: ttl}
}

// NewRedisCacheFromURL parses a redis:// URL such as
// redis://:password@localhost:6379/0.
func NewRedisCacheFromURL(url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("artifacts: redis url: %w", err)
	}
	return NewRedisCache(redis.NewClient(opts), ttl), nil
}

func (c *RedisCache) Get(ctx context.Context, cid string) ([]byte, bool, error) {
	b, err := c.client.Get(ctx, c.prefix+cid).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *RedisCache) Set(ctx context.Context, cid string, data []byte) error {
	return c.client.Set(ctx, c.prefix+cid, data, c.ttl).Err()
}

// Close releases the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// CachingFetcher consults a ContentCache before delegating. Cache errors are
// logged and otherwise ignored.
type CachingFetcher struct {
	next   Fetcher
	cache  ContentCache
	logger *slog.Logger
}

// NewCachingFetcher wraps next with cache.
func NewCachingFetcher(next Fetcher, cache ContentCache) *CachingFetcher {
	return &CachingFetcher{
		next:   next,
		cache:  cache,
		logger: slog.Default().With("component", "ipfs_cache"),
	}
}

func (f *CachingFetcher) Fetch(ctx context.Context, cid string) ([]byte, error) {
	data, ok, err := f.cache.Get(ctx, cid)
	switch {
	case err != nil:
		f.logger.WarnContext(ctx, "content cache read failed", "cid", cid, "error", err)
	case ok:
		return data, nil
	}

	data, err = f.next.Fetch(ctx, cid)
	if err != nil {
		return nil, err
	}
	if err := f.cache.Set(ctx, cid, data); err != nil {
		f.logger.WarnContext(ctx, "content cache write failed", "cid", cid, "error", err)
	}
	return data, nil
}
