package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/model"
	registrypublish "github.com/chirino/chat-service/internal/registry/publish"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyPublisher struct {
	mu        sync.Mutex
	failFirst int
	calls     int
	published []model.Envelope
	block     chan struct{}
}

func (p *flakyPublisher) Publish(ctx context.Context, env model.Envelope) error {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failFirst {
		return errors.New("transport down")
	}
	p.published = append(p.published, env)
	return nil
}

func (p *flakyPublisher) Subscribe(context.Context, ...string) (registrypublish.Subscription, error) {
	return nil, errors.New("not supported")
}

func (p *flakyPublisher) Close() error { return nil }

func (p *flakyPublisher) snapshot() (int, []model.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls, append([]model.Envelope(nil), p.published...)
}

func TestPlanDeduplicatesRecipients(t *testing.T) {
	conv := uuid.New()
	a, b := uuid.New(), uuid.New()
	ev := model.ConversationUpdated{ConversationID: conv}

	var plan Plan
	plan.Conversation(conv, ev).Users([]uuid.UUID{a, b, a}, ev)
	plan.Conversation(conv, model.ParticipantRemoved{ConversationID: conv, UserID: a})
	plan.Conversation(conv, model.ParticipantRemoved{ConversationID: conv, UserID: b})
	plan.Conversation(conv, model.ParticipantRemoved{ConversationID: conv, UserID: b})

	got := plan.Deliveries()
	require.Len(t, got, 5)
	assert.Equal(t, model.ConversationChannel(conv), got[0].Channel)
	assert.Equal(t, model.UserChannel(a), got[1].Channel)
	assert.Equal(t, model.UserChannel(b), got[2].Channel)
	assert.Equal(t, model.ParticipantRemoved{ConversationID: conv, UserID: a}, got[3].Event)
	assert.Equal(t, model.ParticipantRemoved{ConversationID: conv, UserID: b}, got[4].Event)
}

func TestDispatcherRetriesThenPublishes(t *testing.T) {
	pub := &flakyPublisher{failFirst: 2}
	d := NewDispatcher(pub, Options{Workers: 1, MaxAttempts: 3, RetryBackoff: time.Millisecond})

	conv := uuid.New()
	d.Notify(context.Background(), []Delivery{{Channel: model.ConversationChannel(conv), Event: model.ConversationDeleted{ConversationID: conv}}})
	require.NoError(t, d.Close(context.Background()))

	calls, published := pub.snapshot()
	assert.Equal(t, 3, calls)
	require.Len(t, published, 1)
	assert.Equal(t, model.EventConversationDeleted, published[0].Event)
}

func TestDispatcherGivesUpAfterMaxAttempts(t *testing.T) {
	pub := &flakyPublisher{failFirst: 10}
	d := NewDispatcher(pub, Options{Workers: 1, MaxAttempts: 2, RetryBackoff: time.Millisecond})

	d.Notify(context.Background(), []Delivery{{Channel: "user-x", Event: model.ConversationCreated{}}})
	require.NoError(t, d.Close(context.Background()))

	calls, published := pub.snapshot()
	assert.Equal(t, 2, calls)
	assert.Empty(t, published)
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	pub := &flakyPublisher{block: make(chan struct{})}
	d := NewDispatcher(pub, Options{Workers: 1, QueueSize: 2, PublishTimeout: time.Minute})

	deliveries := make([]Delivery, 10)
	for i := range deliveries {
		deliveries[i] = Delivery{Channel: "user-x", Event: model.ConversationUpdated{ConversationID: uuid.New()}}
	}
	start := time.Now()
	d.Notify(context.Background(), deliveries)
	assert.Less(t, time.Since(start), time.Second, "Notify must not block on a stalled transport")

	close(pub.block)
	require.NoError(t, d.Close(context.Background()))
	_, published := pub.snapshot()
	// One in flight with the worker plus at most the queue capacity.
	assert.LessOrEqual(t, len(published), 3)
	assert.NotEmpty(t, published)
}

func TestNotifyAfterCloseIsIgnored(t *testing.T) {
	pub := &flakyPublisher{}
	d := NewDispatcher(pub, Options{Workers: 1})
	require.NoError(t, d.Close(context.Background()))

	d.Notify(context.Background(), []Delivery{{Channel: "user-x", Event: model.ConversationCreated{}}})
	calls, _ := pub.snapshot()
	assert.Zero(t, calls)
}
