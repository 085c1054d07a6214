package postgres_test

import (
	"context"
	"testing"

	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/plugin/store/postgres"
	registrymigrate "github.com/chirino/chat-service/internal/registry/migrate"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/testutil/testcontainer"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (registrystore.ChatStore, context.Context) {
	t.Helper()

	dbURL := testcontainer.Postgres(t)

	cfg := config.DefaultConfig()
	cfg.DBURL = dbURL
	ctx := config.WithContext(context.Background(), &cfg)

	// Ensure postgres store plugin is registered
	_ = postgres.ForceImport

	err := registrymigrate.RunAll(ctx)
	require.NoError(t, err)

	loader, err := registrystore.Select("postgres")
	require.NoError(t, err)

	store, err := loader(ctx)
	require.NoError(t, err)

	return store, ctx
}

func TestConversationScenario(t *testing.T) {
	store, ctx := setupTestStore(t)

	alice, err := store.EnsureUser(ctx, registrystore.UserProfile{ExternalID: "alice", DisplayName: "Alice"})
	require.NoError(t, err)
	bob, err := store.EnsureUser(ctx, registrystore.UserProfile{ExternalID: "bob", DisplayName: "Bob"})
	require.NoError(t, err)

	conv, created, err := store.CreateDirect(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	require.True(t, created)
	again, _, err := store.CreateDirect(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)

	hi := "hi"
	_, err = store.AppendMessage(ctx, registrystore.AppendRequest{ConversationID: conv.ID, AuthorID: alice.ID, Kind: model.MessageText, Body: &hi})
	require.NoError(t, err)
	n, err := store.UnreadCount(ctx, conv.ID, bob.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	hey := "hey"
	sent, err := store.AppendMessage(ctx, registrystore.AppendRequest{ConversationID: conv.ID, AuthorID: bob.ID, Kind: model.MessageText, Body: &hey})
	require.NoError(t, err)
	n, err = store.UnreadCount(ctx, conv.ID, bob.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	read, err := store.MarkRead(ctx, conv.ID, alice.ID, sent.Message.ID)
	require.NoError(t, err)
	assert.True(t, read.Advanced)
	n, err = store.UnreadCount(ctx, conv.ID, alice.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, store.MarkUnread(ctx, conv.ID, alice.ID))
	unread, err := store.IsConversationUnread(ctx, conv.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, unread)

	page, err := store.FetchPage(ctx, registrystore.PageRequest{ConversationID: conv.ID, RequesterID: alice.ID, Limit: 1})
	require.NoError(t, err)
	require.True(t, page.HasMore)
	older, err := store.FetchPage(ctx, registrystore.PageRequest{ConversationID: conv.ID, RequesterID: alice.ID, Limit: 1, Before: page.Next})
	require.NoError(t, err)
	require.Len(t, older.Items, 1)
	assert.Equal(t, "hi", *older.Items[0].Body)
	assert.False(t, older.HasMore)

	_, err = store.Leave(ctx, conv.ID, alice.ID)
	require.NoError(t, err)
	_, err = store.FetchPage(ctx, registrystore.PageRequest{ConversationID: conv.ID, RequesterID: alice.ID})
	var notFound *registrystore.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestUnknownMemberIsValidationError(t *testing.T) {
	store, ctx := setupTestStore(t)

	alice, err := store.EnsureUser(ctx, registrystore.UserProfile{ExternalID: "alice", DisplayName: "Alice"})
	require.NoError(t, err)
	_, err = store.CreateGroup(ctx, registrystore.CreateGroupRequest{CreatorID: alice.ID, Title: "Team", MemberIDs: []uuid.UUID{uuid.New()}})
	var validation *registrystore.ValidationError
	require.ErrorAs(t, err, &validation)
}
