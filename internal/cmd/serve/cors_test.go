package serve

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestOriginPolicy_EmptyListAllowsAny(t *testing.T) {
	p := newOriginPolicy(" , ")
	require.True(t, p.allows("https://anything.example.com"))
	require.Nil(t, p.websocketCheck())
	require.Nil(t, newOriginPolicy("*").websocketCheck())
}

func TestOriginPolicy_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(newOriginPolicy("https://chat.example.com, https://admin.example.com").middleware())
	router.GET("/v1/conversations", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	t.Run("allowed origin is reflected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
		req.Header.Set("Origin", "https://admin.example.com")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "https://admin.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
		require.Equal(t, "Retry-After", rec.Header().Get("Access-Control-Expose-Headers"))
	})

	t.Run("unknown origin gets no cors headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight short-circuits", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/v1/conversations", nil)
		req.Header.Set("Origin", "https://chat.example.com")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusNoContent, rec.Code)
		require.Equal(t, "https://chat.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestOriginPolicy_WebsocketCheck(t *testing.T) {
	check := newOriginPolicy("https://chat.example.com").websocketCheck()
	require.NotNil(t, check)

	req := httptest.NewRequest(http.MethodGet, "/v1/realtime", nil)
	require.True(t, check(req), "same-origin and native clients carry no Origin header")
	req.Header.Set("Origin", "https://chat.example.com")
	require.True(t, check(req))
	req.Header.Set("Origin", "https://evil.example.com")
	require.False(t, check(req))
}
