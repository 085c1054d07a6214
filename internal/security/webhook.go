package security

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	svix "github.com/svix/svix-webhooks/go"
)

// ErrWebhookSignature is returned for webhook deliveries that fail verification.
var ErrWebhookSignature = errors.New("invalid webhook signature")

// WebhookVerifier checks identity-provider deliveries signed with the Svix scheme.
type WebhookVerifier struct {
	wh *svix.Webhook
}

// NewWebhookVerifier accepts a "whsec_" prefixed base64 signing secret.
func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if strings.TrimPrefix(secret, "whsec_") == "" {
		return nil, errors.New("webhook secret is empty")
	}
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, fmt.Errorf("webhook secret: %w", err)
	}
	return &WebhookVerifier{wh: wh}, nil
}

// Sign returns the svix-signature header value for a delivery.
func (v *WebhookVerifier) Sign(msgID string, ts time.Time, body []byte) (string, error) {
	return v.wh.Sign(msgID, ts, body)
}

// Verify checks the svix-id, svix-timestamp and svix-signature headers against body,
// including the timestamp tolerance.
func (v *WebhookVerifier) Verify(h http.Header, body []byte) error {
	if err := v.wh.Verify(body, h); err != nil {
		return fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}
	return nil
}
