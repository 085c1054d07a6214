// Package routeutil holds helpers shared by the HTTP route plugins.
package routeutil

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HandleError maps store and service errors onto HTTP responses.
func HandleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError
	var forbidden *registrystore.ForbiddenError
	var transient *registrystore.TransientError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"code": "conflict", "error": err.Error()})
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": err.Error()})
	case errors.As(err, &transient):
		log.Warn("Request failed with transient error", "path", c.FullPath(), "err", err)
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "unavailable", "error": "temporarily unavailable"})
	default:
		log.Error("Request failed", "path", c.FullPath(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal", "error": "internal server error"})
	}
}

// BadRequest writes a 400 for a malformed request body or parameter.
func BadRequest(c *gin.Context, field, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": msg, "field": field})
}

// UUIDParam parses a path parameter, writing a 400 when it is not a UUID.
func UUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		BadRequest(c, name, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// QueryInt reads an integer query parameter, writing a 400 when it is malformed.
func QueryInt(c *gin.Context, key string, def int) (int, bool) {
	v := c.Query(key)
	if v == "" {
		return def, true
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		BadRequest(c, key, "invalid "+key)
		return 0, false
	}
	return i, true
}
