package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
)

// ResolveUser maps an authenticated identity to its local user, creating it on first sight.
// Users deleted by the identity provider fail with ErrUserDeleted and are never cached.
func (c *Chat) ResolveUser(ctx context.Context, profile registrystore.UserProfile) (*model.User, error) {
	if c.users != nil && c.users.Available() {
		if u, err := c.users.Get(ctx, profile.ExternalID); err == nil && u != nil && u.DeletedAt == nil {
			return u, nil
		}
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()
	u, err := c.store.EnsureUser(ctx, profile)
	if err != nil {
		return nil, err
	}
	if u.DeletedAt != nil {
		return nil, fmt.Errorf("resolve %s: %w", profile.ExternalID, registrystore.ErrUserDeleted)
	}
	c.cacheUser(ctx, u)
	return u, nil
}

// SearchUsersInput is the query for finding other users.
type SearchUsersInput struct {
	Query string `validate:"max=80"`
}

// SearchUsers finds users other than the caller by display name or email.
func (c *Chat) SearchUsers(ctx context.Context, callerID uuid.UUID, in SearchUsersInput) ([]model.User, error) {
	in.Query = strings.TrimSpace(in.Query)
	if err := c.check(in); err != nil {
		return nil, err
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()
	return c.store.SearchUsers(ctx, callerID, in.Query, c.searchLimit)
}

// SyncUser applies an identity-provider profile change.
func (c *Chat) SyncUser(ctx context.Context, profile registrystore.UserProfile) (*model.User, error) {
	bctx, cancel := c.bound(ctx)
	defer cancel()
	u, err := c.store.UpsertUser(bctx, profile)
	if err != nil {
		return nil, err
	}
	c.forgetUser(ctx, profile.ExternalID)
	return u, nil
}

// DeleteUser soft-marks the user with the given external id.
func (c *Chat) DeleteUser(ctx context.Context, externalID string) error {
	bctx, cancel := c.bound(ctx)
	defer cancel()
	if err := c.store.MarkUserDeleted(bctx, externalID); err != nil {
		return err
	}
	c.forgetUser(ctx, externalID)
	return nil
}

func (c *Chat) cacheUser(ctx context.Context, u *model.User) {
	if c.users == nil || !c.users.Available() {
		return
	}
	if err := c.users.Set(ctx, *u, c.userTTL); err != nil {
		log.Warn("User cache: set failed", "externalId", u.ExternalID, "err", err)
	}
}

func (c *Chat) forgetUser(ctx context.Context, externalID string) {
	if c.users == nil || !c.users.Available() {
		return
	}
	if err := c.users.Remove(ctx, externalID); err != nil {
		log.Warn("User cache: remove failed", "externalId", externalID, "err", err)
	}
}
