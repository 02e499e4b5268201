// Package cucumber is a godog step library for driving the HTTP API.
//
// Variables are scoped to the scenario and expanded with ${name} syntax:
//   - ${name}              → scenario variable
//   - ${name.field}        → nested field of a scenario variable
//   - ${response}          → last response body as JSON
//   - ${response.a.b[0]}   → gojq selection on the last response body
//   - ${value | pipe}      → pipe transformations (json, string)
//
// Every scenario starts with a fresh ${user} so scenarios never share state.
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
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/cucumber/godog/colors"
	"github.com/google/uuid"
	"github.com/itchyny/gojq"
	"github.com/pmezard/go-difflib/difflib"
)

// TestDB clears backend state between feature runs.
type TestDB interface {
	ClearAll(ctx context.Context) error
}

// TestSuite holds state shared by every scenario of a run.
type TestSuite struct {
	APIURL   string
	TestingT *testing.T
	DB       TestDB
	Extra    map[string]interface{}
}

// TestScenario holds state for a single scenario. Not accessed concurrently.
type TestScenario struct {
	Suite     *TestSuite
	Client    *http.Client
	Resp      *http.Response
	RespBytes []byte
	Variables map[string]interface{}
	respJSON  interface{}
}

// StepModules register steps with a godog.ScenarioContext.
var StepModules []func(ctx *godog.ScenarioContext, s *TestScenario)

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
		Concurrency: 4,
		Strict:      true,
	}
}

// ApplyReportOptions writes junit XML into $GODOG_REPORT_DIR when set. The
// returned cleanup closes the report file.
func ApplyReportOptions(opts *godog.Options, testName string) func() {
	reportDir := os.Getenv("GODOG_REPORT_DIR")
	if reportDir == "" {
		return func() {}
	}
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
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

func (suite *TestSuite) InitializeScenario(ctx *godog.ScenarioContext) {
	s := &TestScenario{
		Suite:  suite,
		Client: &http.Client{Timeout: 30 * time.Second},
		Variables: map[string]interface{}{
			"user":  "u-" + uuid.NewString()[:8],
			"today": time.Now().UTC().Format("2006-01-02"),
		},
	}
	ctx.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		if s.Resp != nil {
			_ = s.Resp.Body.Close()
		}
		return ctx, err
	})
	for _, module := range StepModules {
		module(ctx, s)
	}
}

func (s *TestScenario) Logf(format string, args ...any) {
	s.Suite.TestingT.Logf(format, args...)
}

// RespJSON returns the last HTTP response body as parsed JSON.
func (s *TestScenario) RespJSON() (interface{}, error) {
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

func (s *TestScenario) setResponse(resp *http.Response, body []byte) {
	if s.Resp != nil {
		_ = s.Resp.Body.Close()
	}
	s.Resp = resp
	s.RespBytes = body
	s.respJSON = nil
}

// Expand replaces ${var} references in value.
func (s *TestScenario) Expand(value string) (string, error) {
	var rerr error
	result := os.Expand(value, func(name string) string {
		res, err := s.ResolveString(name)
		if err != nil {
			rerr = err
			return ""
		}
		return res
	})
	return result, rerr
}

func (s *TestScenario) ResolveString(name string) (string, error) {
	value, err := s.Resolve(name)
	if err != nil {
		return "", err
	}
	return toString(value)
}

func toString(value interface{}) (string, error) {
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
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *TestScenario) Resolve(name string) (interface{}, error) {
	pipes := strings.Split(name, "|")
	for i := range pipes {
		pipes[i] = strings.TrimSpace(pipes[i])
	}
	name, pipes = pipes[0], pipes[1:]

	if name == "response" || strings.HasPrefix(name, "response.") || strings.HasPrefix(name, "response[") {
		value, err := s.selectResponse(name)
		return pipeline(pipes, value, err)
	}

	parts := strings.Split(name, ".")
	value, found := s.Variables[parts[0]]
	if !found {
		return pipeline(pipes, nil, fmt.Errorf("variable ${%s} not defined yet", parts[0]))
	}
	for _, part := range parts[1:] {
		var err error
		if value, err = selectChild(value, part); err != nil {
			return pipeline(pipes, nil, err)
		}
	}
	return pipeline(pipes, value, nil)
}

// selectResponse runs a gojq selection rooted at {"response": <body>}.
func (s *TestScenario) selectResponse(selector string) (interface{}, error) {
	body, err := s.RespJSON()
	if err != nil {
		return nil, err
	}
	query, err := gojq.Parse("." + selector)
	if err != nil {
		return nil, err
	}
	iter := query.Run(map[string]interface{}{"response": body})
	next, found := iter.Next()
	if !found {
		return nil, fmt.Errorf("selection %s not found in response:\n%s", selector, s.RespBytes)
	}
	if err, ok := next.(error); ok {
		return nil, fmt.Errorf("selection %s: %w", selector, err)
	}
	return next, nil
}

func selectChild(value any, path string) (any, error) {
	v := reflect.ValueOf(value)
	for v.Kind() == reflect.Ptr {
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
			return nil, fmt.Errorf("invalid slice index %s for %s", path, v.Type())
		}
		v = v.Index(index)
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
		buf := &bytes.Buffer{}
		encoder := json.NewEncoder(buf)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(value); err != nil {
			return value, err
		}
		return buf.String(), nil
	},
	"string": func(value any, err error) (any, error) {
		if err != nil {
			return value, err
		}
		return fmt.Sprintf("%v", value), nil
	},
	"length": func(value any, err error) (any, error) {
		if err != nil {
			return value, err
		}
		v := reflect.ValueOf(value)
		switch v.Kind() {
		case reflect.Slice, reflect.Map, reflect.String:
			return v.Len(), nil
		case reflect.Invalid:
			return 0, nil
		}
		return nil, fmt.Errorf("length: unsupported type %T", value)
	},
}

// JSONMustMatch compares actual and expected JSON documents exactly.
func (s *TestScenario) JSONMustMatch(actual, expected string) error {
	actualParsed, expectedParsed, err := s.parsePair(actual, expected)
	if err != nil {
		return err
	}
	if !reflect.DeepEqual(expectedParsed, actualParsed) {
		return fmt.Errorf("actual does not match expected, diff:\n%s", jsonDiff(expectedParsed, actualParsed))
	}
	return nil
}

// JSONMustContain checks that every field of expected is present in actual
// with a matching value. Arrays must have equal length.
func (s *TestScenario) JSONMustContain(actual, expected string) error {
	actualParsed, expectedParsed, err := s.parsePair(actual, expected)
	if err != nil {
		return err
	}
	if err := jsonSubset(expectedParsed, actualParsed, ""); err != nil {
		return fmt.Errorf("actual does not contain expected.\n  mismatch: %s\n  diff:\n%s", err, jsonDiff(expectedParsed, actualParsed))
	}
	return nil
}

func (s *TestScenario) parsePair(actual, expected string) (interface{}, interface{}, error) {
	var actualParsed interface{}
	if err := json.Unmarshal([]byte(actual), &actualParsed); err != nil {
		return nil, nil, fmt.Errorf("error parsing actual json: %w\njson was:\n%s", err, actual)
	}
	expanded, err := s.Expand(expected)
	if err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(expanded) == "" {
		return nil, nil, fmt.Errorf("expected json not specified, actual json was:\n%s", actual)
	}
	var expectedParsed interface{}
	if err := json.Unmarshal([]byte(expanded), &expectedParsed); err != nil {
		return nil, nil, fmt.Errorf("error parsing expected json: %w\njson was:\n%s", err, expanded)
	}
	return actualParsed, expectedParsed, nil
}

func jsonDiff(expected, actual interface{}) string {
	a, _ := json.MarshalIndent(expected, "", "  ")
	b, _ := json.MarshalIndent(actual, "", "  ")
	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(a)),
		B:        difflib.SplitLines(string(b)),
		FromFile: "Expected",
		ToFile:   "Actual",
		Context:  1,
	})
	return diff
}

func jsonSubset(expected, actual interface{}, path string) error {
	if expected == nil {
		if actual != nil {
			return fmt.Errorf("at %s: expected null, got %v", pathOrRoot(path), actual)
		}
		return nil
	}
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return fmt.Errorf("at %s: expected object, got %T", pathOrRoot(path), actual)
		}
		for key, expVal := range exp {
			actVal, exists := act[key]
			if !exists {
				return fmt.Errorf("at %s: missing key %q", pathOrRoot(path), key)
			}
			if err := jsonSubset(expVal, actVal, path+"."+key); err != nil {
				return err
			}
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return fmt.Errorf("at %s: expected array, got %T", pathOrRoot(path), actual)
		}
		if len(exp) != len(act) {
			return fmt.Errorf("at %s: expected array length %d, got %d", pathOrRoot(path), len(exp), len(act))
		}
		for i := range exp {
			if err := jsonSubset(exp[i], act[i], fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	default:
		if !reflect.DeepEqual(expected, actual) {
			return fmt.Errorf("at %s: expected %v (%T), got %v (%T)", pathOrRoot(path), expected, expected, actual, actual)
		}
	}
	return nil
}

func pathOrRoot(path string) string {
	if path == "" {
		return "$"
	}
	return "$" + path
}
