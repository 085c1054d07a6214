package redis

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/model"
	registrypublish "github.com/chirino/chat-service/internal/registry/publish"
	"github.com/chirino/chat-service/internal/testutil/testcontainer"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRedisPublisherRoundTrip(t *testing.T) {
	ctx := context.Background()
	pub, err := Connect(ctx, testcontainer.Redis(t))
	require.NoError(t, err)
	defer pub.Close()

	convID := uuid.New()
	channel := model.ConversationChannel(convID)
	sub, err := pub.Subscribe(ctx, channel)
	require.NoError(t, err)
	defer sub.Close()

	env, err := model.NewEnvelope(channel, model.ConversationDeleted{ConversationID: convID})
	require.NoError(t, err)
	require.NoError(t, pub.Publish(ctx, env))

	select {
	case got := <-sub.C():
		require.Equal(t, channel, got.Channel)
		ev, err := got.Decode()
		require.NoError(t, err)
		require.Equal(t, &model.ConversationDeleted{ConversationID: convID}, ev)
	case <-time.After(5 * time.Second):
		t.Fatal("no envelope received")
	}
}

func TestRedisSubscribersShareOneRedisSubscription(t *testing.T) {
	ctx := context.Background()
	pub, err := Connect(ctx, testcontainer.Redis(t))
	require.NoError(t, err)
	defer pub.Close()

	convID := uuid.New()
	channel := model.ConversationChannel(convID)
	first, err := pub.Subscribe(ctx, channel)
	require.NoError(t, err)
	second, err := pub.Subscribe(ctx, channel, model.UserChannel(uuid.New()))
	require.NoError(t, err)

	numSub := func() int64 {
		counts, err := pub.client.PubSubNumSub(ctx, channelPrefix+channel).Result()
		require.NoError(t, err)
		return counts[channelPrefix+channel]
	}
	require.Equal(t, int64(1), numSub())

	env, err := model.NewEnvelope(channel, model.ConversationDeleted{ConversationID: convID})
	require.NoError(t, err)
	require.NoError(t, pub.Publish(ctx, env))
	for _, sub := range []registrypublish.Subscription{first, second} {
		select {
		case got := <-sub.C():
			require.Equal(t, channel, got.Channel)
		case <-time.After(5 * time.Second):
			t.Fatal("no envelope received")
		}
	}

	// The channel stays subscribed while any local subscriber needs it.
	require.NoError(t, first.Close())
	require.NoError(t, pub.Publish(ctx, env))
	select {
	case got := <-second.C():
		require.Equal(t, channel, got.Channel)
	case <-time.After(5 * time.Second):
		t.Fatal("remaining subscriber stopped receiving")
	}
	require.Equal(t, int64(1), numSub())

	require.NoError(t, second.Close())
	require.Eventually(t, func() bool { return numSub() == 0 }, 5*time.Second, 50*time.Millisecond)
}

func TestRedisResubscribeAfterRelease(t *testing.T) {
	ctx := context.Background()
	pub, err := Connect(ctx, testcontainer.Redis(t))
	require.NoError(t, err)
	defer pub.Close()

	channel := model.UserChannel(uuid.New())
	sub, err := pub.Subscribe(ctx, channel)
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	sub, err = pub.Subscribe(ctx, channel)
	require.NoError(t, err)
	defer sub.Close()

	env, err := model.NewEnvelope(channel, model.ConversationDeleted{ConversationID: uuid.New()})
	require.NoError(t, err)
	require.NoError(t, pub.Publish(ctx, env))
	select {
	case got := <-sub.C():
		require.Equal(t, channel, got.Channel)
	case <-time.After(5 * time.Second):
		t.Fatal("no envelope received after resubscribing")
	}
}
