package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/cursor"
	"github.com/chirino/chat-service/internal/fanout"
	registrycache "github.com/chirino/chat-service/internal/registry/cache"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/go-playground/validator/v10"
)

// Chat implements the chat operations on top of a ChatStore. Every mutation that
// commits is followed by a fan-out plan handed to the Notifier.
type Chat struct {
	store    registrystore.ChatStore
	users    registrycache.UserCache
	notifier fanout.Notifier
	cursors  *cursor.Codec
	validate *validator.Validate

	timeout       time.Duration
	userTTL       time.Duration
	listLimit     int
	archivedLimit int
	searchLimit   int
}

// NewChat wires a Chat. A nil cache disables user caching.
func NewChat(cfg *config.Config, store registrystore.ChatStore, users registrycache.UserCache, notifier fanout.Notifier, cursors *cursor.Codec) *Chat {
	c := &Chat{
		store:         store,
		users:         users,
		notifier:      notifier,
		cursors:       cursors,
		validate:      validator.New(),
		timeout:       cfg.StoreTimeout,
		userTTL:       cfg.CacheUserTTL,
		listLimit:     cfg.ConversationListLimit,
		archivedLimit: cfg.ArchivedListLimit,
		searchLimit:   cfg.UserSearchLimit,
	}
	if c.listLimit <= 0 {
		c.listLimit = 50
	}
	if c.archivedLimit <= 0 {
		c.archivedLimit = 100
	}
	if c.searchLimit <= 0 {
		c.searchLimit = 50
	}
	return c
}

// Store returns the underlying store.
func (c *Chat) Store() registrystore.ChatStore { return c.store }

// bound applies the store timeout to ctx.
func (c *Chat) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Chat) publish(ctx context.Context, plan *fanout.Plan) {
	if c.notifier == nil || plan == nil || len(plan.Deliveries()) == 0 {
		return
	}
	c.notifier.Notify(ctx, plan.Deliveries())
}

// check runs struct validation and converts the first failure into a ValidationError.
func (c *Chat) check(v any) error {
	err := c.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &registrystore.ValidationError{Field: jsonName(fe.Field()), Message: describe(fe)}
	}
	return &registrystore.ValidationError{Field: "body", Message: err.Error()}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	case "url":
		return "must be a URL"
	}
	return fmt.Sprintf("failed %q validation", fe.Tag())
}

func jsonName(field string) string {
	if field == "" {
		return field
	}
	if strings.HasSuffix(field, "ID") {
		field = strings.TrimSuffix(field, "ID") + "Id"
	} else if strings.HasSuffix(field, "URL") {
		field = strings.TrimSuffix(field, "URL") + "Url"
	}
	return strings.ToLower(field[:1]) + field[1:]
}
