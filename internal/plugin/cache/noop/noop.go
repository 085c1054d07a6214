package noop

import (
	"context"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.UserCache, error) {
			return &noopUserCache{}, nil
		},
	})
}

type noopUserCache struct{}

func (n *noopUserCache) Available() bool { return false }
func (n *noopUserCache) Get(_ context.Context, _ string) (*model.User, error) {
	return nil, nil
}
func (n *noopUserCache) Set(_ context.Context, _ model.User, _ time.Duration) error {
	return nil
}
func (n *noopUserCache) Remove(_ context.Context, _ string) error { return nil }

var _ cache.UserCache = (*noopUserCache)(nil)
