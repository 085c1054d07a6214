package users

import (
	"net/http"

	"github.com/chirino/chat-service/internal/plugin/route/routeutil"
	"github.com/chirino/chat-service/internal/security"
	"github.com/chirino/chat-service/internal/service"
	"github.com/gin-gonic/gin"
)

// MountRoutes mounts the user routes.
func MountRoutes(r *gin.Engine, chat *service.Chat, auth gin.HandlerFunc) {
	g := r.Group("/v1/users", auth)

	g.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, security.GetUser(c))
	})
	g.GET("", func(c *gin.Context) {
		found, err := chat.SearchUsers(c.Request.Context(), security.GetUser(c).ID, service.SearchUsersInput{Query: c.Query("q")})
		if err != nil {
			routeutil.HandleError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": found})
	})
}
