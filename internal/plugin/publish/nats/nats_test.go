package nats

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/testutil/testcontainer"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNATSPublisherRoundTrip(t *testing.T) {
	ctx := context.Background()
	pub, err := Connect(testcontainer.NATS(t), "chat.")
	require.NoError(t, err)
	defer pub.Close()

	userID := uuid.New()
	channel := model.UserChannel(userID)
	sub, err := pub.Subscribe(ctx, channel, model.UserChannel(uuid.New()))
	require.NoError(t, err)
	defer sub.Close()

	convID := uuid.New()
	env, err := model.NewEnvelope(channel, model.ParticipantRemoved{ConversationID: convID, UserID: userID})
	require.NoError(t, err)
	require.NoError(t, pub.Publish(ctx, env))

	select {
	case got := <-sub.C():
		require.Equal(t, model.EventParticipantRemoved, got.Event)
		ev, err := got.Decode()
		require.NoError(t, err)
		require.Equal(t, &model.ParticipantRemoved{ConversationID: convID, UserID: userID}, ev)
	case <-time.After(5 * time.Second):
		t.Fatal("no envelope received")
	}
}
