package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	registrycache "github.com/chirino/chat-service/internal/registry/cache"
	"github.com/chirino/chat-service/internal/security"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = 5 * time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.UserCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: CHAT_SERVICE_REDIS_URL is required")
	}
	return LoadFromURLWithTTL(ctx, cfg.RedisURL, cfg.CacheUserTTL)
}

// LoadFromURLWithTTL creates a user cache from a Redis URL with a default entry TTL.
func LoadFromURLWithTTL(ctx context.Context, redisURL string, ttl time.Duration) (registrycache.UserCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisUserCache{client: client, ttl: ttl}, nil
}

type redisUserCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func userKey(externalID string) string {
	return "chat-user:" + externalID
}

func (c *redisUserCache) Available() bool {
	return true
}

func (c *redisUserCache) Get(ctx context.Context, externalID string) (*model.User, error) {
	data, err := c.client.Get(ctx, userKey(externalID)).Bytes()
	if err == goredis.Nil {
		recordMiss()
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var user model.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, err
	}
	recordHit()
	return &user, nil
}

func (c *redisUserCache) Set(ctx context.Context, user model.User, ttl time.Duration) error {
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, userKey(user.ExternalID), data, ttl).Err()
}

func (c *redisUserCache) Remove(ctx context.Context, externalID string) error {
	return c.client.Del(ctx, userKey(externalID)).Err()
}

func recordHit() { security.RecordCacheLookup("redis", true) }

func recordMiss() { security.RecordCacheLookup("redis", false) }

var _ registrycache.UserCache = (*redisUserCache)(nil)
