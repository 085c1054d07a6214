// Package cucumber provides a godog-based BDD test framework for driving the chat API over HTTP.
//
// Variables are scoped to the scenario. HTTP response state is stored in the user's session,
// so switching users switches the session.
//
// Variable resolution supports:
//   - ${variableName}           → scenario variable lookup
//   - ${response}               → full HTTP response body
//   - ${response.field}         → response body field via gojq
//   - ${variable.field}         → nested field access
//   - ${variable | pipe}        → pipe transformations (json, json_escape, string)
package cucumber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/cucumber/godog/colors"
	"github.com/itchyny/gojq"
	"github.com/pmezard/go-difflib/difflib"
)

func NewTestSuite() *TestSuite {
	return &TestSuite{
		APIURL: "http://localhost:8080",
		Extra:  map[string]interface{}{},
	}
}

func DefaultOptions() godog.Options {
	return godog.Options{
		Output:      colors.Colored(os.Stdout),
		Format:      "progress",
		Paths:       []string{"features"},
		Randomize:   time.Now().UTC().UnixNano(),
		Concurrency: 1,
	}
}

// ApplyReportOptions configures junit XML output when GODOG_REPORT_DIR is set.
// Returns a cleanup function that must be called (or deferred) after the test runs.
func ApplyReportOptions(opts *godog.Options, testName string) func() {
	reportDir := os.Getenv("GODOG_REPORT_DIR")
	if reportDir == "" {
		return func() {}
	}
	if err := os.MkdirAll(reportDir, 0755); err != nil {
		return func() {}
	}
	f, err := os.Create(filepath.Join(reportDir, strings.ReplaceAll(testName, "/", "-")+".xml"))
	if err != nil {
		return func() {}
	}
	opts.Output = f
	opts.Format = "junit"
	return func() { _ = f.Close() }
}

// TestDB gives steps direct access to the datastore behind the server under test.
type TestDB interface {
	// ClearAll wipes all data (called before each scenario).
	ClearAll(ctx context.Context) error
	// ExecSQL runs a raw SQL query and returns rows as maps.
	ExecSQL(ctx context.Context, query string) ([]map[string]interface{}, error)
}

// TestSuite holds state shared by every scenario of a run.
type TestSuite struct {
	APIURL   string
	Mu       sync.Mutex
	TestingT *testing.T
	Extra    map[string]interface{} // additional test-scoped objects (e.g. webhook verifier)
	DB       TestDB
}

// TestUser is an identity that talks to the API. In testing mode the bearer token is the
// user's external id.
type TestUser struct {
	Name    string
	Subject string
}

// TestScenario holds state for a single scenario. Not accessed concurrently.
type TestScenario struct {
	Suite       *TestSuite
	CurrentUser string
	sessions    map[string]*TestSession
	Variables   map[string]interface{}
	Users       map[string]*TestUser
}

func (s *TestScenario) Logf(format string, args ...any) {
	s.Suite.TestingT.Logf(format, args...)
}

func (s *TestScenario) User() *TestUser {
	return s.Users[s.CurrentUser]
}

// SetUser makes name the current user, creating it on first use.
func (s *TestScenario) SetUser(name string) *TestUser {
	if s.Users[name] == nil {
		s.Users[name] = &TestUser{Name: name, Subject: name}
	}
	s.CurrentUser = name
	return s.Users[name]
}

func (s *TestScenario) Session() *TestSession {
	result := s.sessions[s.CurrentUser]
	if result == nil {
		result = &TestSession{
			TestUser: s.User(),
			Client:   &http.Client{Timeout: 30 * time.Second},
			Header:   http.Header{},
		}
		s.sessions[s.CurrentUser] = result
	}
	return result
}

func diff(expected, actual string) string {
	d, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(expected),
		B:        difflib.SplitLines(actual),
		FromFile: "Expected",
		ToFile:   "Actual",
		Context:  1,
	})
	return d
}

func indent(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func (s *TestScenario) parseBoth(actual, expected string, expand bool) (any, any, error) {
	var actualParsed, expectedParsed any
	if err := json.Unmarshal([]byte(actual), &actualParsed); err != nil {
		return nil, nil, fmt.Errorf("error parsing actual json: %w\njson was:\n%s", err, actual)
	}
	if expand {
		var err error
		if expected, err = s.Expand(expected); err != nil {
			return nil, nil, err
		}
	}
	if strings.TrimSpace(expected) == "" {
		return nil, nil, fmt.Errorf("expected json not specified, actual json was:\n%s", indent(actualParsed))
	}
	if err := json.Unmarshal([]byte(expected), &expectedParsed); err != nil {
		return nil, nil, fmt.Errorf("error parsing expected json: %w\njson was:\n%s", err, expected)
	}
	return actualParsed, expectedParsed, nil
}

// JSONMustMatch requires actual and expected to be the same JSON document.
func (s *TestScenario) JSONMustMatch(actual, expected string, expand bool) error {
	a, e, err := s.parseBoth(actual, expected, expand)
	if err != nil {
		return err
	}
	if !reflect.DeepEqual(e, a) {
		return fmt.Errorf("actual does not match expected, diff:\n%s", diff(indent(e), indent(a)))
	}
	return nil
}

// JSONMustContain requires every field of expected to be present in actual.
func (s *TestScenario) JSONMustContain(actual, expected string, expand bool) error {
	a, e, err := s.parseBoth(actual, expected, expand)
	if err != nil {
		return err
	}
	if err := jsonSubset(e, a, ""); err != nil {
		return fmt.Errorf("actual does not contain expected.\n  mismatch: %s\n  expected:\n%s\n  actual:\n%s", err, indent(e), indent(a))
	}
	return nil
}

// jsonSubset checks that every field in expected exists in actual with a matching value.
// Arrays must have the same length; their elements are compared with subset semantics.
func jsonSubset(expected, actual interface{}, path string) error {
	at := "$" + path
	switch exp := expected.(type) {
	case nil:
		if actual != nil {
			return fmt.Errorf("at %s: expected null, got %v", at, actual)
		}
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return fmt.Errorf("at %s: expected object, got %T", at, actual)
		}
		for key, expVal := range exp {
			actVal, exists := act[key]
			if !exists {
				return fmt.Errorf("at %s: missing key %q", at, key)
			}
			if err := jsonSubset(expVal, actVal, path+"."+key); err != nil {
				return err
			}
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return fmt.Errorf("at %s: expected array, got %T", at, actual)
		}
		if len(exp) != len(act) {
			return fmt.Errorf("at %s: expected array length %d, got %d", at, len(exp), len(act))
		}
		for i := range exp {
			if err := jsonSubset(exp[i], act[i], fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	default:
		if !reflect.DeepEqual(expected, actual) {
			return fmt.Errorf("at %s: expected %v (%T), got %v (%T)", at, expected, expected, actual, actual)
		}
	}
	return nil
}

// Expand replaces ${var} in the string based on scenario variables.
func (s *TestScenario) Expand(value string, skippedVars ...string) (result string, rerr error) {
	return os.Expand(value, func(name string) string {
		if slices.Contains(skippedVars, name) {
			return "$" + name
		}
		res, err := s.ResolveString(name)
		if err != nil {
			rerr = err
			return ""
		}
		return res
	}), rerr
}

func (s *TestScenario) ResolveString(name string) (string, error) {
	value, err := s.Resolve(name)
	if err != nil {
		return "", err
	}
	return ToString(value, name)
}

func ToString(value interface{}, name string) (string, error) {
	switch value := value.(type) {
	case string:
		return value, nil
	case bool:
		return strconv.FormatBool(value), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", value), nil
	case float32, float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", value), "0"), "."), nil
	case nil:
		return "", nil
	case error:
		return "", fmt.Errorf("failed to evaluate selection: %s: %w", name, value)
	}
	b, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Query runs a gojq selector against doc and returns the first result.
func Query(selector string, doc any) (any, error) {
	query, err := gojq.Parse(selector)
	if err != nil {
		return nil, err
	}
	next, found := query.Run(doc).Next()
	if !found {
		return nil, fmt.Errorf("no node matches selector: %s", selector)
	}
	if err, ok := next.(error); ok {
		return nil, fmt.Errorf("selector %s: %w", selector, err)
	}
	return next, nil
}

func (s *TestScenario) Resolve(name string) (interface{}, error) {
	pipes := strings.Split(name, "|")
	for i := range pipes {
		pipes[i] = strings.TrimSpace(pipes[i])
	}
	name = pipes[0]
	pipes = pipes[1:]

	if len(name) >= 2 && name[0] == '"' && name[len(name)-1] == '"' {
		return pipeline(pipes, name[1:len(name)-1], nil)
	}

	if name == "response" || strings.HasPrefix(name, "response.") || strings.HasPrefix(name, "response[") {
		session := s.Session()
		doc, err := session.RespJSON()
		if err != nil || name == "response" {
			return pipeline(pipes, doc, err)
		}
		value, err := Query("."+name, map[string]interface{}{"response": doc})
		if err != nil {
			err = fmt.Errorf("field ${%s} not found in json response:\n%s", name, session.RespBytes)
		}
		return pipeline(pipes, value, err)
	}

	parts := strings.Split(name, ".")
	value, found := s.Variables[parts[0]]
	if !found {
		return pipeline(pipes, nil, fmt.Errorf("variable ${%s} not defined yet", parts[0]))
	}
	for _, part := range parts[1:] {
		var err error
		if value, err = SelectChild(value, part); err != nil {
			return pipeline(pipes, nil, err)
		}
	}
	return pipeline(pipes, value, nil)
}

// SelectChild navigates one level into a map, slice or struct.
func SelectChild(value any, path string) (any, error) {
	v := reflect.ValueOf(value)
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Map:
		key := reflect.ValueOf(path)
		if v.Type().Key() != key.Type() {
			return nil, fmt.Errorf("cannot select map key %s from %s", path, v.Type())
		}
		v = v.MapIndex(key)
		if !v.IsValid() {
			return nil, fmt.Errorf("map key %s not found", path)
		}
	case reflect.Slice:
		index, err := strconv.Atoi(path)
		if err != nil || index < 0 || index >= v.Len() {
			return nil, fmt.Errorf("slice index %s out of range", path)
		}
		v = v.Index(index)
	case reflect.Struct:
		f := v.FieldByName(path)
		if !f.IsValid() {
			return nil, fmt.Errorf("struct field %s not found", path)
		}
		v = f
	default:
		return nil, fmt.Errorf("can't navigate to '%s' on type of %s", path, v.Type())
	}
	return v.Interface(), nil
}

func pipeline(pipes []string, value any, err error) (any, error) {
	for _, pipe := range pipes {
		fn := PipeFunctions[pipe]
		if fn == nil {
			return nil, fmt.Errorf("unknown pipe: %s", pipe)
		}
		value, err = fn(value, err)
	}
	return value, err
}

var PipeFunctions = map[string]func(any, error) (any, error){
	"json": func(value any, err error) (any, error) {
		if err != nil {
			return value, err
		}
		buf := bytes.NewBuffer(nil)
		encoder := json.NewEncoder(buf)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(value); err != nil {
			return value, err
		}
		return buf.String(), nil
	},
	"json_escape": func(value any, err error) (any, error) {
		if err != nil {
			return value, err
		}
		data, err := json.Marshal(fmt.Sprintf("%v", value))
		if err != nil {
			return value, err
		}
		return strings.TrimSuffix(strings.TrimPrefix(string(data), `"`), `"`), nil
	},
	"string": func(value any, err error) (any, error) {
		if err != nil {
			return value, err
		}
		return fmt.Sprintf("%v", value), nil
	},
}

// TestSession holds the HTTP context for a user, like a browser.
type TestSession struct {
	TestUser  *TestUser
	Client    *http.Client
	Resp      *http.Response
	RespBytes []byte
	respJSON  interface{}
	Header    http.Header
}

// RespJSON returns the last HTTP response body as parsed JSON.
func (s *TestSession) RespJSON() (interface{}, error) {
	if s.respJSON == nil {
		if s.RespBytes == nil {
			return nil, fmt.Errorf("no response body")
		}
		if err := json.Unmarshal(s.RespBytes, &s.respJSON); err != nil {
			return nil, fmt.Errorf("error parsing response json: %w\njson was:\n%s", err, s.RespBytes)
		}
	}
	return s.respJSON, nil
}

func (s *TestSession) SetRespBytes(bytes []byte) {
	s.RespBytes = bytes
	s.respJSON = nil
}

// StepModules is the list of functions used to register steps with a godog.ScenarioContext.
var StepModules []func(ctx *godog.ScenarioContext, s *TestScenario)

func (suite *TestSuite) InitializeScenario(ctx *godog.ScenarioContext) {
	s := &TestScenario{
		Suite:     suite,
		Users:     map[string]*TestUser{},
		sessions:  map[string]*TestSession{},
		Variables: map[string]interface{}{},
	}

	ctx.Before(func(c context.Context, _ *godog.Scenario) (context.Context, error) {
		if suite.DB != nil {
			if err := suite.DB.ClearAll(c); err != nil {
				return c, err
			}
		}
		return c, nil
	})

	for _, module := range StepModules {
		module(ctx, s)
	}
}
