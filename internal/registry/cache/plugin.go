package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/chat-service/internal/model"
)

type userCacheKey struct{}

// WithUserCacheContext returns a new context carrying the given UserCache.
func WithUserCacheContext(ctx context.Context, c UserCache) context.Context {
	return context.WithValue(ctx, userCacheKey{}, c)
}

// UserCacheFromContext retrieves the UserCache from the context.
// Returns nil if none was set.
func UserCacheFromContext(ctx context.Context) UserCache {
	c, _ := ctx.Value(userCacheKey{}).(UserCache)
	return c
}

// UserCache caches resolved users keyed by identity-provider external id.
type UserCache interface {
	Available() bool
	Get(ctx context.Context, externalID string) (*model.User, error)
	Set(ctx context.Context, user model.User, ttl time.Duration) error
	Remove(ctx context.Context, externalID string) error
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (UserCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
