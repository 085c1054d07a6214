package conversations

import (
	"net/http"

	"github.com/chirino/chat-service/internal/plugin/route/routeutil"
	"github.com/chirino/chat-service/internal/security"
	"github.com/chirino/chat-service/internal/service"
	"github.com/gin-gonic/gin"
)

// MountRoutes mounts conversation routes. Called after store initialization.
func MountRoutes(r *gin.Engine, chat *service.Chat, auth gin.HandlerFunc) {
	g := r.Group("/v1/conversations", auth)

	g.GET("", func(c *gin.Context) {
		listConversations(c, chat, false)
	})
	g.GET("/archived", func(c *gin.Context) {
		listConversations(c, chat, true)
	})
	g.POST("", func(c *gin.Context) {
		createConversation(c, chat)
	})
	g.GET("/:conversationId", func(c *gin.Context) {
		getConversation(c, chat)
	})
	g.PATCH("/:conversationId", func(c *gin.Context) {
		updateConversation(c, chat)
	})
	g.DELETE("/:conversationId", func(c *gin.Context) {
		deleteConversation(c, chat)
	})
	g.POST("/:conversationId/participants", func(c *gin.Context) {
		modifyParticipants(c, chat)
	})
	g.POST("/:conversationId/archive", func(c *gin.Context) {
		setArchived(c, chat, true)
	})
	g.DELETE("/:conversationId/archive", func(c *gin.Context) {
		setArchived(c, chat, false)
	})
	g.POST("/:conversationId/leave", func(c *gin.Context) {
		leave(c, chat)
	})
	g.POST("/:conversationId/mark-unread", func(c *gin.Context) {
		markUnread(c, chat)
	})
	g.GET("/:conversationId/unread", func(c *gin.Context) {
		unread(c, chat)
	})
}

func listConversations(c *gin.Context, chat *service.Chat, archived bool) {
	user := security.GetUser(c)
	items, err := chat.ListConversations(c.Request.Context(), user.ID, service.ListConversationsInput{
		Query:    c.Query("q"),
		Archived: archived,
	})
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func createConversation(c *gin.Context, chat *service.Chat) {
	user := security.GetUser(c)
	var req service.CreateConversationInput
	if err := c.ShouldBindJSON(&req); err != nil {
		routeutil.BadRequest(c, "body", err.Error())
		return
	}
	detail, created, err := chat.CreateConversation(c.Request.Context(), user.ID, req)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	if created {
		c.JSON(http.StatusCreated, detail)
	} else {
		c.JSON(http.StatusOK, detail)
	}
}

func getConversation(c *gin.Context, chat *service.Chat) {
	convID, ok := routeutil.UUIDParam(c, "conversationId")
	if !ok {
		return
	}
	detail, err := chat.GetConversation(c.Request.Context(), security.GetUser(c).ID, convID)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func updateConversation(c *gin.Context, chat *service.Chat) {
	convID, ok := routeutil.UUIDParam(c, "conversationId")
	if !ok {
		return
	}
	var req service.UpdateMetadataInput
	if err := c.ShouldBindJSON(&req); err != nil {
		routeutil.BadRequest(c, "body", err.Error())
		return
	}
	detail, err := chat.UpdateMetadata(c.Request.Context(), security.GetUser(c).ID, convID, req)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func deleteConversation(c *gin.Context, chat *service.Chat) {
	convID, ok := routeutil.UUIDParam(c, "conversationId")
	if !ok {
		return
	}
	if err := chat.DeleteConversation(c.Request.Context(), security.GetUser(c).ID, convID); err != nil {
		routeutil.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func modifyParticipants(c *gin.Context, chat *service.Chat) {
	convID, ok := routeutil.UUIDParam(c, "conversationId")
	if !ok {
		return
	}
	var req service.ModifyMembersInput
	if err := c.ShouldBindJSON(&req); err != nil {
		routeutil.BadRequest(c, "body", err.Error())
		return
	}
	change, err := chat.ModifyMembers(c.Request.Context(), security.GetUser(c).ID, convID, req)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversationId": convID,
		"added":          change.Added,
		"removed":        change.Removed,
		"members":        change.Members,
	})
}

func setArchived(c *gin.Context, chat *service.Chat, archived bool) {
	convID, ok := routeutil.UUIDParam(c, "conversationId")
	if !ok {
		return
	}
	if err := chat.SetArchived(c.Request.Context(), security.GetUser(c).ID, convID, archived); err != nil {
		routeutil.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func leave(c *gin.Context, chat *service.Chat) {
	convID, ok := routeutil.UUIDParam(c, "conversationId")
	if !ok {
		return
	}
	if err := chat.Leave(c.Request.Context(), security.GetUser(c).ID, convID); err != nil {
		routeutil.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func markUnread(c *gin.Context, chat *service.Chat) {
	convID, ok := routeutil.UUIDParam(c, "conversationId")
	if !ok {
		return
	}
	if err := chat.MarkUnread(c.Request.Context(), security.GetUser(c).ID, convID); err != nil {
		routeutil.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func unread(c *gin.Context, chat *service.Chat) {
	convID, ok := routeutil.UUIDParam(c, "conversationId")
	if !ok {
		return
	}
	state, err := chat.Unread(c.Request.Context(), security.GetUser(c).ID, convID)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}
