package serve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestMaxBodySizeMiddleware_EnforcesLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(maxBodySizeMiddleware(4))
	router.POST("/v1/messages", readBodyLengthHandler)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader("0123456789"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestMaxBodySizeMiddleware_SkipsWebsocketUpgrade(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(maxBodySizeMiddleware(4))
	router.GET("/v1/realtime", readBodyLengthHandler)

	req := httptest.NewRequest(http.MethodGet, "/v1/realtime", strings.NewReader("0123456789"))
	req.Header.Set("Connection", "upgrade")
	req.Header.Set("Upgrade", "websocket")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "10", rec.Body.String())
}

func readBodyLengthHandler(c *gin.Context) {
	n, err := io.Copy(io.Discard, c.Request.Body)
	if err != nil {
		c.Status(http.StatusRequestEntityTooLarge)
		return
	}
	c.String(http.StatusOK, "%d", n)
}

type client struct {
	t     *testing.T
	base  string
	token string
}

func (c client) do(method, path string, body any, out any) int {
	c.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(c.t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	require.NoError(c.t, err)
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func readEnvelope(t *testing.T, ws *websocket.Conn) model.Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env model.Envelope
	require.NoError(t, ws.ReadJSON(&env))
	return env
}

func TestStartServer_DirectChatRoundTrip(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = "file:serve_roundtrip?mode=memory&cache=shared&_foreign_keys=on"
	cfg.CacheType = "local"
	cfg.PublisherType = "memory"
	cfg.Listener.Port = 0
	cfg.Listener.EnableTLS = false
	cfg.MetricsLabels = ""

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv, err := StartServer(config.WithContext(ctx, &cfg), &cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	})

	base := fmt.Sprintf("http://127.0.0.1:%d", srv.Running.Port)
	resp, err := http.Get(base + "/ready")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	alice := client{t: t, base: base, token: "alice"}
	bob := client{t: t, base: base, token: "bob"}
	var aliceUser, bobUser model.User
	require.Equal(t, http.StatusOK, alice.do(http.MethodGet, "/v1/users/me", nil, &aliceUser))
	require.Equal(t, http.StatusOK, bob.do(http.MethodGet, "/v1/users/me", nil, &bobUser))
	require.NotEqual(t, uuid.Nil, bobUser.ID)

	ws, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://127.0.0.1:%d/v1/realtime?access_token=bob", srv.Running.Port), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	var conv struct {
		ID uuid.UUID `json:"id"`
	}
	require.Equal(t, http.StatusCreated, alice.do(http.MethodPost, "/v1/conversations", map[string]any{"otherUserId": bobUser.ID}, &conv))
	env := readEnvelope(t, ws)
	require.Equal(t, model.EventConversationCreated, env.Event)
	require.Equal(t, model.UserChannel(bobUser.ID), env.Channel)

	// Asking again returns the same conversation without a second created event.
	var again struct {
		ID uuid.UUID `json:"id"`
	}
	require.Equal(t, http.StatusOK, alice.do(http.MethodPost, "/v1/conversations", map[string]any{"otherUserId": bobUser.ID}, &again))
	require.Equal(t, conv.ID, again.ID)

	var msg model.Message
	require.Equal(t, http.StatusCreated, alice.do(http.MethodPost, "/v1/messages", map[string]any{
		"conversationId": conv.ID,
		"body":           "hello bob",
	}, &msg))
	env = readEnvelope(t, ws)
	require.Equal(t, model.EventMessageNew, env.Event)
	require.Equal(t, model.UserChannel(bobUser.ID), env.Channel)

	var unread struct {
		Unread   int64 `json:"unread"`
		IsUnread bool  `json:"isUnread"`
	}
	require.Equal(t, http.StatusOK, bob.do(http.MethodGet, "/v1/conversations/"+conv.ID.String()+"/unread", nil, &unread))
	require.EqualValues(t, 1, unread.Unread)
	require.True(t, unread.IsUnread)

	var page struct {
		Items   []model.Message `json:"items"`
		HasMore bool            `json:"hasMore"`
	}
	require.Equal(t, http.StatusOK, bob.do(http.MethodGet, "/v1/messages?conversationId="+conv.ID.String(), nil, &page))
	require.Len(t, page.Items, 1)
	require.False(t, page.HasMore)

	var read struct {
		Advanced bool `json:"advanced"`
	}
	require.Equal(t, http.StatusOK, bob.do(http.MethodPost, "/v1/messages/read", map[string]any{
		"conversationId": conv.ID,
		"messageId":      msg.ID,
	}, &read))
	require.True(t, read.Advanced)

	require.Equal(t, http.StatusOK, bob.do(http.MethodGet, "/v1/conversations/"+conv.ID.String()+"/unread", nil, &unread))
	require.EqualValues(t, 0, unread.Unread)
	require.False(t, unread.IsUnread)

	// Outsiders cannot tell the conversation exists.
	carol := client{t: t, base: base, token: "carol"}
	require.Equal(t, http.StatusNotFound, carol.do(http.MethodGet, "/v1/messages?conversationId="+conv.ID.String(), nil, nil))
}
