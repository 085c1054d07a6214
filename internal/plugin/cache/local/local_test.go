package local

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestLocalCache(t *testing.T) {
	ctx := context.Background()
	c, err := New(1000, 100, time.Minute)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	got, err := c.Get(ctx, "bob")
	require.NoError(t, err)
	require.Nil(t, got)

	user := model.User{ID: uuid.New(), ExternalID: "bob", DisplayName: "Bob"}
	require.NoError(t, c.Set(ctx, user, 0))
	got, err = c.Get(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, user.ID, got.ID)

	require.NoError(t, c.Remove(ctx, "bob"))
	got, err = c.Get(ctx, "bob")
	require.NoError(t, err)
	require.Nil(t, got)
}
