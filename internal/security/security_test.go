package security

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubUsers struct {
	err      error
	profiles []registrystore.UserProfile
}

func (s *stubUsers) ResolveUser(_ context.Context, profile registrystore.UserProfile) (*model.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.profiles = append(s.profiles, profile)
	return &model.User{ID: uuid.New(), ExternalID: profile.ExternalID, DisplayName: profile.DisplayName}, nil
}

func authEngine(mode string, users UserResolver) *gin.Engine {
	cfg := config.DefaultConfig()
	cfg.Mode = mode
	r := gin.New()
	r.GET("/me", AuthMiddleware(NewTokenResolver(&cfg), users), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"externalId": GetUser(c).ExternalID})
	})
	return r
}

func TestAuthMiddleware_TestingModeUsesTokenAsExternalID(t *testing.T) {
	users := &stubUsers{}
	r := authEngine(config.ModeTesting, users)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer alice")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"externalId":"alice"}`, w.Body.String())
	require.Len(t, users.profiles, 1)
	assert.Equal(t, "alice", users.profiles[0].DisplayName)
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mode   string
		header string
		users  *stubUsers
		status int
	}{
		{"missing header", config.ModeTesting, "", &stubUsers{}, http.StatusUnauthorized},
		{"not bearer", config.ModeTesting, "Basic abc", &stubUsers{}, http.StatusUnauthorized},
		{"raw token in prod", config.ModeProd, "Bearer alice", &stubUsers{}, http.StatusUnauthorized},
		{"store unavailable", config.ModeTesting, "Bearer alice", &stubUsers{err: &registrystore.TransientError{Op: "ensure user", Err: errors.New("timeout")}}, http.StatusServiceUnavailable},
		{"deleted user", config.ModeTesting, "Bearer alice", &stubUsers{err: fmt.Errorf("resolve alice: %w", registrystore.ErrUserDeleted)}, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := authEngine(tc.mode, tc.users)
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestRateLimiter(t *testing.T) {
	l := NewRateLimiter(1, 2)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "buckets are per key")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("a"))

	now = now.Add(time.Hour)
	assert.True(t, l.Allow("c"))
	l.mu.Lock()
	_, stale := l.m["b"]
	l.mu.Unlock()
	assert.False(t, stale, "idle buckets are pruned")
}

func TestRateLimitMiddleware(t *testing.T) {
	user := &model.User{ID: uuid.New()}
	r := gin.New()
	r.POST("/send", func(c *gin.Context) { c.Set(ContextKeyUser, user) }, RateLimitMiddleware(NewRateLimiter(0.001, 1)), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	do := func() int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/send", nil))
		return w.Code
	}
	assert.Equal(t, http.StatusNoContent, do())
	assert.Equal(t, http.StatusTooManyRequests, do())
}

func TestWebhookVerifier(t *testing.T) {
	secret := "whsec_" + base64.StdEncoding.EncodeToString([]byte("super-secret-signing-key"))
	v, err := NewWebhookVerifier(secret)
	require.NoError(t, err)

	signed := func(msgID string, ts time.Time, body []byte) http.Header {
		sig, err := v.Sign(msgID, ts, body)
		require.NoError(t, err)
		h := http.Header{}
		h.Set("svix-id", msgID)
		h.Set("svix-timestamp", strconv.FormatInt(ts.Unix(), 10))
		// Rotated secrets produce several space separated signatures; any match is enough.
		h.Set("svix-signature", "v1,bm90LWl0 "+sig)
		return h
	}

	body := []byte(`{"type":"user.created"}`)
	h := signed("msg_1", time.Now(), body)
	require.NoError(t, v.Verify(h, body))

	assert.ErrorIs(t, v.Verify(h, []byte(`{"type":"user.deleted"}`)), ErrWebhookSignature)

	stale := signed("msg_2", time.Now().Add(-6*time.Minute), body)
	assert.ErrorIs(t, v.Verify(stale, body), ErrWebhookSignature)

	h.Del("svix-id")
	assert.ErrorIs(t, v.Verify(h, body), ErrWebhookSignature)

	other, err := NewWebhookVerifier("whsec_" + base64.StdEncoding.EncodeToString([]byte("another-signing-key!")))
	require.NoError(t, err)
	assert.ErrorIs(t, other.Verify(signed("msg_3", time.Now(), body), body), ErrWebhookSignature)

	_, err = NewWebhookVerifier("whsec_")
	assert.Error(t, err)
	_, err = NewWebhookVerifier("whsec_!!!")
	assert.Error(t, err)
}
