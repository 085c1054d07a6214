package webhooks

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/plugin/route/routeutil"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/chirino/chat-service/internal/service"
	"github.com/gin-gonic/gin"
)

type emailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

type identityUser struct {
	ID                    string         `json:"id"`
	FirstName             *string        `json:"first_name"`
	LastName              *string        `json:"last_name"`
	ImageURL              *string        `json:"image_url"`
	PrimaryEmailAddressID *string        `json:"primary_email_address_id"`
	EmailAddresses        []emailAddress `json:"email_addresses"`
}

type identityEvent struct {
	Type string       `json:"type"`
	Data identityUser `json:"data"`
}

// MountRoutes mounts the identity-provider webhook. A nil verifier rejects every delivery.
func MountRoutes(r *gin.Engine, chat *service.Chat, verifier *security.WebhookVerifier) {
	r.POST("/v1/webhooks/identity", func(c *gin.Context) {
		handleIdentity(c, chat, verifier)
	})
}

func handleIdentity(c *gin.Context, chat *service.Chat, verifier *security.WebhookVerifier) {
	if verifier == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "not_configured", "error": "webhook secret is not configured"})
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		routeutil.BadRequest(c, "body", "unable to read body")
		return
	}
	if err := verifier.Verify(c.Request.Header, body); err != nil {
		log.Warn("Webhook rejected", "err", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_signature", "error": "invalid signature"})
		return
	}

	var evt identityEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		routeutil.BadRequest(c, "body", "invalid event payload")
		return
	}
	if evt.Data.ID == "" {
		routeutil.BadRequest(c, "data.id", "missing user id")
		return
	}

	switch evt.Type {
	case "user.created", "user.updated":
		_, err = chat.SyncUser(c.Request.Context(), profile(evt.Data))
	case "user.deleted":
		err = chat.DeleteUser(c.Request.Context(), evt.Data.ID)
	default:
		log.Debug("Webhook ignored", "type", evt.Type)
	}
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func profile(u identityUser) registrystore.UserProfile {
	var parts []string
	for _, p := range []*string{u.FirstName, u.LastName} {
		if p != nil && strings.TrimSpace(*p) != "" {
			parts = append(parts, strings.TrimSpace(*p))
		}
	}
	return registrystore.UserProfile{
		ExternalID:  u.ID,
		Email:       primaryEmail(u),
		DisplayName: strings.Join(parts, " "),
		ImageURL:    u.ImageURL,
	}
}

func primaryEmail(u identityUser) string {
	if u.PrimaryEmailAddressID != nil {
		for _, e := range u.EmailAddresses {
			if e.ID == *u.PrimaryEmailAddressID && e.EmailAddress != "" {
				return strings.ToLower(e.EmailAddress)
			}
		}
	}
	if len(u.EmailAddresses) > 0 && u.EmailAddresses[0].EmailAddress != "" {
		return strings.ToLower(u.EmailAddresses[0].EmailAddress)
	}
	return "user-" + u.ID + "@placeholder.local"
}
