package bdd

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/chirino/chat-service/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		a := &authSteps{s: s}
		ctx.Step(`^I am authenticated as user "([^"]*)"$`, a.iAmAuthenticatedAsUser)
		ctx.Step(`^the users? ((?:"[^"]*"(?:, | and )?)+) (?:exists?|signed in)$`, a.theUsersExist)
	})
}

type authSteps struct {
	s *cucumber.TestScenario
}

func (a *authSteps) iAmAuthenticatedAsUser(name string) error {
	a.s.SetUser(name)
	return nil
}

// theUsersExist signs each user in once so their local record exists, and stores the
// user id as ${<name>Id}.
func (a *authSteps) theUsersExist(list string) error {
	previous := a.s.CurrentUser
	defer func() { a.s.CurrentUser = previous }()

	for _, name := range quoted(list) {
		a.s.SetUser(name)
		if err := a.s.SendRaw(http.MethodGet, "/v1/users/me", nil); err != nil {
			return err
		}
		if code := a.s.Session().Resp.StatusCode; code != http.StatusOK {
			return fmt.Errorf("sign in %s: status %d: %s", name, code, a.s.Session().RespBytes)
		}
		id, err := a.s.Resolve("response.id")
		if err != nil {
			return err
		}
		a.s.Variables[name+"Id"] = id
	}
	return nil
}

func quoted(list string) []string {
	var out []string
	parts := strings.Split(list, `"`)
	for i := 1; i < len(parts); i += 2 {
		out = append(out, parts[i])
	}
	return out
}
