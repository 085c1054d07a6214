package routeutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveError(t *testing.T, err error) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
	HandleError(c, err)
	return rec
}

func TestHandleError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", &registrystore.NotFoundError{Resource: "conversation", ID: "x"}, http.StatusNotFound, "not_found"},
		{"validation", &registrystore.ValidationError{Field: "title", Message: "required"}, http.StatusBadRequest, "validation_error"},
		{"conflict", &registrystore.ConflictError{Message: "taken"}, http.StatusConflict, "conflict"},
		{"forbidden", &registrystore.ForbiddenError{}, http.StatusForbidden, "forbidden"},
		{"wrapped transient", fmt.Errorf("send: %w", &registrystore.TransientError{Op: "insert", Err: errors.New("deadlock")}), http.StatusServiceUnavailable, "unavailable"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serveError(t, tc.err)
			require.Equal(t, tc.status, rec.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.code, body["code"])
		})
	}
}

func TestHandleError_TransientSetsRetryAfter(t *testing.T) {
	rec := serveError(t, &registrystore.TransientError{Op: "select", Err: errors.New("database is locked")})
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.NotContains(t, rec.Body.String(), "database is locked")
}

func TestHandleError_ValidationNamesField(t *testing.T) {
	rec := serveError(t, &registrystore.ValidationError{Field: "cursor", Message: "invalid cursor"})

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "cursor", body["field"])
}

func TestQueryInt(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/messages?limit=25", nil)
	n, ok := QueryInt(c, "limit", 30)
	require.True(t, ok)
	assert.Equal(t, 25, n)

	n, ok = QueryInt(c, "missing", 30)
	require.True(t, ok)
	assert.Equal(t, 30, n)

	rec = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/messages?limit=ten", nil)
	_, ok = QueryInt(c, "limit", 30)
	require.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"limit"`)
}
