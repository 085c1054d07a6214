package cucumber

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

func init() {
	StepModules = append(StepModules, func(ctx *godog.ScenarioContext, s *TestScenario) {
		ctx.Step(`^the response code should be (\d+)$`, s.theResponseCodeShouldBe)
		ctx.Step(`^the response should match json:$`, s.theResponseShouldMatchJSONDoc)
		ctx.Step(`^the response should contain json:$`, s.theResponseShouldContainJSONDoc)
		ctx.Step(`^the response should contain "([^"]*)"$`, s.theResponseShouldContain)
		ctx.Step(`^I store the "([^"]*)" selection from the response as \${([^}]*)}$`, s.iStoreTheSelectionFromTheResponseAs)
		ctx.Step(`^the "(.*)" selection from the response should match "([^"]*)"$`, s.theSelectionFromTheResponseShouldMatch)
		ctx.Step(`^the "([^"]*)" selection from the response should match json:$`, s.theSelectionFromTheResponseShouldMatchJSON)
		ctx.Step(`^the response header "([^"]*)" should match "([^"]*)"$`, s.theResponseHeaderShouldMatch)
		ctx.Step(`^\${([^}]*)} is not empty$`, s.variableIsNotEmpty)
		ctx.Step(`^"([^"]*)" should match "([^"]*)"$`, s.textShouldMatchText)
	})
}

func (s *TestScenario) theResponseCodeShouldBe(expected int) error {
	session := s.Session()
	if session.Resp == nil {
		return fmt.Errorf("no HTTP response available")
	}
	if actual := session.Resp.StatusCode; expected != actual {
		return fmt.Errorf("expected response code to be: %d, but actual is: %d, body: %s", expected, actual, session.RespBytes)
	}
	return nil
}

func (s *TestScenario) responseBody() (string, error) {
	session := s.Session()
	if len(session.RespBytes) == 0 {
		return "", fmt.Errorf("got an empty response from server, expected a json body")
	}
	return string(session.RespBytes), nil
}

func (s *TestScenario) theResponseShouldMatchJSONDoc(expected *godog.DocString) error {
	body, err := s.responseBody()
	if err != nil {
		return err
	}
	return s.JSONMustMatch(body, expected.Content, true)
}

func (s *TestScenario) theResponseShouldContainJSONDoc(expected *godog.DocString) error {
	body, err := s.responseBody()
	if err != nil {
		return err
	}
	return s.JSONMustContain(body, expected.Content, true)
}

func (s *TestScenario) theResponseShouldContain(expected string) error {
	body := string(s.Session().RespBytes)
	if !strings.Contains(body, expected) {
		return fmt.Errorf("expected response to contain '%s', but it does not. Response body: %s", expected, body)
	}
	return nil
}

func (s *TestScenario) selectFromResponse(selector string) (any, error) {
	doc, err := s.Session().RespJSON()
	if err != nil {
		return nil, err
	}
	return Query(selector, doc)
}

func (s *TestScenario) iStoreTheSelectionFromTheResponseAs(selector, as string) error {
	value, err := s.selectFromResponse(selector)
	if err != nil {
		return err
	}
	s.Variables[as] = value
	return nil
}

func (s *TestScenario) theSelectionFromTheResponseShouldMatch(selector, expected string) error {
	actual, err := s.selectFromResponse(selector)
	if err != nil {
		return err
	}
	expected, err = s.Expand(expected)
	if err != nil {
		return err
	}
	got := "null"
	if actual != nil {
		if got, err = ToString(actual, selector); err != nil {
			return err
		}
	}
	if got != expected {
		return fmt.Errorf("selected JSON does not match. expected: %v, actual: %v", expected, got)
	}
	return nil
}

func (s *TestScenario) theSelectionFromTheResponseShouldMatchJSON(selector string, expected *godog.DocString) error {
	actual, err := s.selectFromResponse(selector)
	if err != nil {
		return err
	}
	b, err := json.Marshal(actual)
	if err != nil {
		return err
	}
	return s.JSONMustMatch(string(b), expected.Content, true)
}

func (s *TestScenario) theResponseHeaderShouldMatch(header, expected string) error {
	session := s.Session()
	expanded, err := s.Expand(expected)
	if err != nil {
		return err
	}
	if actual := session.Resp.Header.Get(header); expanded != actual {
		return fmt.Errorf("response header '%s' does not match expected: %v, actual: %v, body:\n%s", header, expanded, actual, session.RespBytes)
	}
	return nil
}

func (s *TestScenario) variableIsNotEmpty(name string) error {
	value, err := s.Resolve(name)
	if err != nil {
		return err
	}
	if value == nil || value == "" {
		return fmt.Errorf("variable ${%s} is empty", name)
	}
	return nil
}

func (s *TestScenario) textShouldMatchText(actual, expected string) error {
	expanded, err := s.Expand(expected)
	if err != nil {
		return err
	}
	if actual, err = s.Expand(actual); err != nil {
		return err
	}
	if expanded != actual {
		return fmt.Errorf("actual does not match expected, diff:\n%s", diff(expanded, actual))
	}
	return nil
}
