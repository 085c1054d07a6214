package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyLess(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	low := uuid.MustParse("00000000-0000-7000-8000-000000000001")
	high := uuid.MustParse("00000000-0000-7000-8000-000000000002")

	assert.True(t, Key{CreatedAt: t0, ID: high}.Less(Key{CreatedAt: t0.Add(time.Microsecond), ID: low}))
	assert.True(t, Key{CreatedAt: t0, ID: low}.Less(Key{CreatedAt: t0, ID: high}))
	assert.False(t, Key{CreatedAt: t0, ID: high}.Less(Key{CreatedAt: t0, ID: high}))
}

func TestPreview(t *testing.T) {
	body := "hello"
	empty := ""
	assert.Equal(t, "", Preview(nil))
	assert.Equal(t, "hello", Preview(&Message{Kind: MessageText, Body: &body}))
	assert.Equal(t, "[IMAGE]", Preview(&Message{Kind: MessageText, Body: &body, HasImage: true}))
	assert.Equal(t, "• hello", Preview(&Message{Kind: MessageSystem, Body: &body}))
	assert.Equal(t, "[SYSTEM]", Preview(&Message{Kind: MessageSystem, Body: &empty}))
}

func TestPairKeyIsOrderIndependent(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	assert.Equal(t, PairKey(a, b), PairKey(b, a))
}

func TestEnvelopeDecode(t *testing.T) {
	convID := uuid.New()
	env, err := NewEnvelope(ConversationChannel(convID), ParticipantRemoved{ConversationID: convID, UserID: convID})
	require.NoError(t, err)
	assert.Equal(t, EventParticipantRemoved, env.Event)

	ev, err := env.Decode()
	require.NoError(t, err)
	removed, ok := ev.(*ParticipantRemoved)
	require.True(t, ok)
	assert.Equal(t, convID, removed.ConversationID)

	_, err = Envelope{Event: "message:edited", Data: []byte("{}")}.Decode()
	require.Error(t, err)
}

func TestParseConversationChannel(t *testing.T) {
	id := uuid.New()
	got, ok := ParseConversationChannel(ConversationChannel(id))
	require.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = ParseConversationChannel(UserChannel(id))
	assert.False(t, ok)
}
