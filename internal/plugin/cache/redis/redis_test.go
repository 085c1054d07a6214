package redis

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/testutil/testcontainer"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRedisUserCache(t *testing.T) {
	ctx := context.Background()
	c, err := LoadFromURLWithTTL(ctx, testcontainer.Redis(t), time.Minute)
	require.NoError(t, err)
	require.True(t, c.Available())

	got, err := c.Get(ctx, "alice")
	require.NoError(t, err)
	require.Nil(t, got)

	user := model.User{ID: uuid.New(), ExternalID: "alice", DisplayName: "Alice"}
	require.NoError(t, c.Set(ctx, user, 0))

	got, err = c.Get(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, user.ID, got.ID)
	require.Equal(t, "Alice", got.DisplayName)

	require.NoError(t, c.Remove(ctx, "alice"))
	got, err = c.Get(ctx, "alice")
	require.NoError(t, err)
	require.Nil(t, got)
}
