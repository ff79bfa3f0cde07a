package podcast

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisCachePrefix = "podpdf:audio"

// RedisCacheConfig configures a RedisCache.
type RedisCacheConfig struct {
	Addr     string
	Password string
	Prefix   string
	// TTL of each entry; zero keeps entries until their document is dropped.
	TTL time.Duration
}

// RedisCache shares synthesized audio between service replicas.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects a RedisCache. The connection is established lazily.
func NewRedisCache(cfg RedisCacheConfig) (*RedisCache, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	prefix := strings.TrimRight(strings.TrimSpace(cfg.Prefix), ":")
	if prefix == "" {
		prefix = defaultRedisCachePrefix
	}
	ttl := cfg.TTL
	if ttl < 0 {
		ttl = 0
	}
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		prefix: prefix,
		ttl:    ttl,
	}, nil
}

func (c *RedisCache) Get(ctx context.Context, key CacheKey) (string, bool, error) {
	src, err := c.client.Get(ctx, c.redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return src, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key CacheKey, src string) error {
	return c.client.Set(ctx, c.redisKey(key), src, c.ttl).Err()
}

func (c *RedisCache) DropDocument(ctx context.Context, documentID string) error {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil
	}
	iter := c.client.Scan(ctx, 0, c.prefix+":"+documentID+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) redisKey(key CacheKey) string {
	return c.prefix + ":" + key.String()
}
