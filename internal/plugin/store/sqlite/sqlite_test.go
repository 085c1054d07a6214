package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/plugin/store/sqlite"
	registrymigrate "github.com/chirino/chat-service/internal/registry/migrate"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (registrystore.ChatStore, context.Context) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = "file:" + t.Name() + "?mode=memory&cache=shared&_foreign_keys=on"
	ctx := config.WithContext(context.Background(), &cfg)

	_ = sqlite.ForceImport
	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select("sqlite")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)
	return store, ctx
}

func TestLoaderSharesMigratedDatabase(t *testing.T) {
	store, ctx := setupTestStore(t)

	alice, err := store.EnsureUser(ctx, registrystore.UserProfile{ExternalID: "alice", DisplayName: "Alice"})
	require.NoError(t, err)
	bob, err := store.EnsureUser(ctx, registrystore.UserProfile{ExternalID: "bob", DisplayName: "Bob"})
	require.NoError(t, err)

	conv, created, err := store.CreateDirect(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, model.ConversationDirect, conv.Kind)
}

func TestDuplicateUserIsConflict(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = "file:" + t.Name() + "?mode=memory&cache=shared"
	ctx := config.WithContext(context.Background(), &cfg)
	require.NoError(t, registrymigrate.RunAll(ctx))

	db, err := sqlite.Open(cfg.DBURL)
	require.NoError(t, err)

	now := time.Now().UTC()
	u := model.User{ID: uuid.New(), ExternalID: "dup", DisplayName: "Dup", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.Create(&u).Error)
	err = db.Create(&model.User{ID: uuid.New(), ExternalID: "dup", DisplayName: "Dup", CreatedAt: now, UpdatedAt: now}).Error
	require.Error(t, err)

	var conflict *registrystore.ConflictError
	require.ErrorAs(t, sqlite.Classify("insert user", err), &conflict)
}
