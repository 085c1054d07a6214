package bdd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/chirino/chat-service/internal/security"
	"github.com/chirino/chat-service/internal/testutil/cucumber"
	"github.com/cucumber/godog"
	"github.com/google/uuid"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		w := &webhookSteps{s: s}
		ctx.Step(`^the identity provider sends a signed webhook:$`, w.sendSigned)
		ctx.Step(`^the identity provider sends a webhook signed with a wrong key:$`, w.sendForged)
	})
}

type webhookSteps struct {
	s *cucumber.TestScenario
}

func (w *webhookSteps) send(verifier *security.WebhookVerifier, doc *godog.DocString) error {
	body, err := w.s.Expand(doc.Content)
	if err != nil {
		return err
	}
	msgID := "msg_" + uuid.NewString()
	now := time.Now()
	sig, err := verifier.Sign(msgID, now, []byte(body))
	if err != nil {
		return err
	}
	session := w.s.Session()
	session.Header.Set("svix-id", msgID)
	session.Header.Set("svix-timestamp", fmt.Sprint(now.Unix()))
	session.Header.Set("svix-signature", sig)
	return w.s.SendRaw(http.MethodPost, "/v1/webhooks/identity", []byte(body))
}

func (w *webhookSteps) sendSigned(doc *godog.DocString) error {
	verifier, ok := w.s.Suite.Extra["webhookVerifier"].(*security.WebhookVerifier)
	if !ok {
		return fmt.Errorf("suite has no webhook verifier configured")
	}
	return w.send(verifier, doc)
}

func (w *webhookSteps) sendForged(doc *godog.DocString) error {
	forged, err := security.NewWebhookVerifier("whsec_Zm9yZ2VkLWtleS1mb3ItdGVzdGluZw==")
	if err != nil {
		return err
	}
	return w.send(forged, doc)
}
