package cucumber

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cucumber/godog"
)

func init() {
	StepModules = append(StepModules, func(ctx *godog.ScenarioContext, s *TestScenario) {
		ctx.Step(`^I call (GET|POST|PUT|DELETE|PATCH) "([^"]*)"$`, s.sendHTTPRequest)
		ctx.Step(`^I call (GET|POST|PUT|DELETE|PATCH) "([^"]*)" with body:$`, s.SendHTTPRequestWithJSONBody)
		ctx.Step(`^I call (GET|POST|PUT|DELETE|PATCH) "([^"]*)" with query "([^"]*)"$`, s.iCallWithQuery)
		ctx.Step(`^I call (GET|POST|PUT|DELETE|PATCH) "([^"]*)" without authentication$`, s.iCallWithoutAuthentication)
		ctx.Step(`^I set the "([^"]*)" header to "([^"]*)"$`, s.iSetTheHeaderTo)
		ctx.Step(`^I wait up to "([^"]*)" seconds for a GET on "([^"]*)" response "([^"]*)" selection to match "([^"]*)"$`, s.iWaitForSelectionToMatch)
	})
}

func (s *TestScenario) sendHTTPRequest(method, path string) error {
	return s.SendHTTPRequestWithJSONBody(method, path, nil)
}

// SendHTTPRequestWithJSONBody sends a request as the current user. The body and path are
// expanded against the scenario variables first.
func (s *TestScenario) SendHTTPRequestWithJSONBody(method, path string, jsonTxt *godog.DocString) error {
	var body []byte
	if jsonTxt != nil {
		expanded, err := s.Expand(jsonTxt.Content)
		if err != nil {
			return err
		}
		body = []byte(expanded)
	}
	return s.SendRaw(method, path, body)
}

// SendRaw sends body unchanged and records the response in the current session.
func (s *TestScenario) SendRaw(method, path string, body []byte) error {
	session := s.Session()

	expandedPath, err := s.Expand(path)
	if err != nil {
		return err
	}
	fullURL := s.Suite.APIURL + expandedPath
	if u, err := url.Parse(expandedPath); err == nil && u.Scheme != "" {
		fullURL = expandedPath
	}

	session.Resp = nil
	session.SetRespBytes(nil)

	req, err := http.NewRequestWithContext(context.Background(), method, fullURL, bytes.NewReader(body))
	if err != nil {
		return err
	}

	// Session headers apply to the next request only.
	req.Header = session.Header
	session.Header = http.Header{}
	if req.Header.Get("Authorization") == "" && session.TestUser != nil && session.TestUser.Subject != "" {
		req.Header.Set("Authorization", "Bearer "+session.TestUser.Subject)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := session.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	session.Resp = resp
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	session.SetRespBytes(b)
	return nil
}

func (s *TestScenario) iCallWithQuery(method, path, queryString string) error {
	expandedQuery, err := s.Expand(queryString)
	if err != nil {
		return err
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return s.sendHTTPRequest(method, path+sep+expandedQuery)
}

func (s *TestScenario) iCallWithoutAuthentication(method, path string) error {
	session := s.Session()
	saved := session.TestUser
	session.TestUser = nil
	defer func() { session.TestUser = saved }()
	return s.sendHTTPRequest(method, path)
}

func (s *TestScenario) iSetTheHeaderTo(name, value string) error {
	expanded, err := s.Expand(value)
	if err != nil {
		return err
	}
	s.Session().Header.Set(name, expanded)
	return nil
}

func (s *TestScenario) iWaitForSelectionToMatch(timeout float64, path, selection, expected string) error {
	deadline := time.Now().Add(time.Duration(timeout * float64(time.Second)))
	var lastErr error
	for {
		lastErr = s.sendHTTPRequest(http.MethodGet, path)
		if lastErr == nil {
			if lastErr = s.theSelectionFromTheResponseShouldMatch(selection, expected); lastErr == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("condition not met after %.1f seconds: %w", timeout, lastErr)
		}
		time.Sleep(100 * time.Millisecond)
	}
}
