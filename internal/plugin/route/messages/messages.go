package messages

import (
	"net/http"

	"github.com/chirino/chat-service/internal/plugin/route/routeutil"
	"github.com/chirino/chat-service/internal/security"
	"github.com/chirino/chat-service/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MountRoutes mounts message routes. sendLimit guards message sends.
func MountRoutes(r *gin.Engine, chat *service.Chat, auth gin.HandlerFunc, sendLimit gin.HandlerFunc) {
	g := r.Group("/v1/messages", auth)

	g.GET("", func(c *gin.Context) {
		listMessages(c, chat)
	})
	g.POST("", sendLimit, func(c *gin.Context) {
		sendMessage(c, chat)
	})
	g.POST("/read", func(c *gin.Context) {
		markRead(c, chat)
	})
}

func listMessages(c *gin.Context, chat *service.Chat) {
	convID, err := uuid.Parse(c.Query("conversationId"))
	if err != nil {
		routeutil.BadRequest(c, "conversationId", "invalid conversationId")
		return
	}
	limit, ok := routeutil.QueryInt(c, "limit", 0)
	if !ok {
		return
	}
	page, err := chat.FetchPage(c.Request.Context(), security.GetUser(c).ID, service.FetchPageInput{
		ConversationID: convID,
		Limit:          limit,
		Cursor:         c.Query("cursor"),
	})
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func sendMessage(c *gin.Context, chat *service.Chat) {
	var req service.SendMessageInput
	if err := c.ShouldBindJSON(&req); err != nil {
		routeutil.BadRequest(c, "body", err.Error())
		return
	}
	msg, err := chat.SendMessage(c.Request.Context(), security.GetUser(c).ID, req)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func markRead(c *gin.Context, chat *service.Chat) {
	var req struct {
		ConversationID uuid.UUID `json:"conversationId"`
		MessageID      uuid.UUID `json:"messageId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		routeutil.BadRequest(c, "body", err.Error())
		return
	}
	if req.ConversationID == uuid.Nil || req.MessageID == uuid.Nil {
		routeutil.BadRequest(c, "messageId", "conversationId and messageId are required")
		return
	}
	res, err := chat.MarkRead(c.Request.Context(), security.GetUser(c).ID, req.ConversationID, req.MessageID)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversationId": res.ConversationID,
		"messageId":      res.MessageID,
		"seenAt":         res.SeenAt,
		"advanced":       res.Advanced,
	})
}
