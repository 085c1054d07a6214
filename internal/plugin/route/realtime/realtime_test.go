package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/plugin/publish/memory"
	"github.com/chirino/chat-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type membership map[uuid.UUID]bool

func (m membership) IsActiveParticipant(_ context.Context, _ uuid.UUID, conversationID uuid.UUID) (bool, error) {
	return m[conversationID], nil
}

type harness struct {
	hub  *memory.Hub
	user *model.User
	ws   *websocket.Conn
}

func dial(t *testing.T, members membership) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := memory.NewHub()
	t.Cleanup(func() { _ = hub.Close() })
	user := &model.User{ID: uuid.New(), ExternalID: "alice"}

	r := gin.New()
	fakeAuth := func(c *gin.Context) {
		c.Set(security.ContextKeyUser, user)
		c.Next()
	}
	MountRoutes(r, NewHandler(members, hub, nil), fakeAuth)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/realtime", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return &harness{hub: hub, user: user, ws: ws}
}

func (h *harness) publish(t *testing.T, channel string, ev model.Event) {
	t.Helper()
	env, err := model.NewEnvelope(channel, ev)
	require.NoError(t, err)
	require.NoError(t, h.hub.Publish(context.Background(), env))
}

func (h *harness) readEnvelope(t *testing.T) model.Envelope {
	t.Helper()
	require.NoError(t, h.ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env model.Envelope
	require.NoError(t, h.ws.ReadJSON(&env))
	return env
}

func (h *harness) readReply(t *testing.T) Reply {
	t.Helper()
	require.NoError(t, h.ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var r Reply
	require.NoError(t, h.ws.ReadJSON(&r))
	return r
}

func TestPersonalChannelIsAlwaysSubscribed(t *testing.T) {
	h := dial(t, membership{})
	conv := uuid.New()

	h.publish(t, model.UserChannel(h.user.ID), model.ConversationCreated{ConversationID: conv})

	env := h.readEnvelope(t)
	assert.Equal(t, model.UserChannel(h.user.ID), env.Channel)
	assert.Equal(t, model.EventConversationCreated, env.Event)
}

func TestSubscribeRequiresMembership(t *testing.T) {
	member, stranger := uuid.New(), uuid.New()
	h := dial(t, membership{member: true})

	require.NoError(t, h.ws.WriteJSON(Frame{Action: "subscribe", ConversationID: stranger}))
	reply := h.readReply(t)
	assert.Equal(t, "error", reply.Type)
	assert.Equal(t, stranger, reply.ConversationID)

	require.NoError(t, h.ws.WriteJSON(Frame{Action: "subscribe", ConversationID: member}))
	reply = h.readReply(t)
	assert.Equal(t, "ack", reply.Type)

	h.publish(t, model.ConversationChannel(member), model.ConversationUpdated{ConversationID: member})
	env := h.readEnvelope(t)
	assert.Equal(t, model.ConversationChannel(member), env.Channel)
	assert.Equal(t, model.EventConversationUpdated, env.Event)

	require.NoError(t, h.ws.WriteJSON(Frame{Action: "dance"}))
	assert.Equal(t, "error", h.readReply(t).Type)
}

func TestRevokedEvents(t *testing.T) {
	me, other, conv := uuid.New(), uuid.New(), uuid.New()
	cn := &conn{user: me}
	envelope := func(channel string, ev model.Event) model.Envelope {
		env, err := model.NewEnvelope(channel, ev)
		require.NoError(t, err)
		return env
	}

	assert.True(t, cn.revoked(envelope(model.ConversationChannel(conv), model.ParticipantRemoved{ConversationID: conv, UserID: me})))
	assert.False(t, cn.revoked(envelope(model.ConversationChannel(conv), model.ParticipantRemoved{ConversationID: conv, UserID: other})))
	assert.True(t, cn.revoked(envelope(model.ConversationChannel(conv), model.ConversationDeleted{ConversationID: conv})))
	assert.False(t, cn.revoked(envelope(model.UserChannel(me), model.ConversationDeleted{ConversationID: conv})))
	assert.False(t, cn.revoked(envelope(model.ConversationChannel(conv), model.MessageNew{ConversationID: conv})))
}

func TestUpgradeRequiresWebsocket(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	user := &model.User{ID: uuid.New()}
	MountRoutes(r, NewHandler(membership{}, memory.NewHub(), nil), func(c *gin.Context) {
		c.Set(security.ContextKeyUser, user)
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/realtime", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
