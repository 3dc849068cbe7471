// Package testutil provides shared helpers for IntakePipe tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/BTreeMap/IntakePipe/internal/catalog"
	"github.com/BTreeMap/IntakePipe/internal/flow"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

// TestingT is the subset of testing.TB the helpers use.
type TestingT interface {
	Helper()
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
}

// Envelope is models.APIResponse with the result left undecoded.
type Envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// NewTestEngine creates an engine over the default catalog and a fresh in-memory store.
func NewTestEngine(t TestingT, opts ...flow.Option) (*flow.Engine, *store.InMemoryStore) {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("failed to load default catalog: %v", err)
	}
	st := store.NewInMemoryStore()
	return flow.NewEngine(cat, st, opts...), st
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TestingT, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// DecodeEnvelope decodes a models.APIResponse body and checks its status field.
func DecodeEnvelope(t TestingT, rr *httptest.ResponseRecorder, expectedStatus models.APIStatus) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode JSON response %q: %v", rr.Body.String(), err)
		return env
	}
	if env.Status != string(expectedStatus) {
		t.Errorf("expected status '%s', got '%s' (message %q)", expectedStatus, env.Status, env.Message)
	}
	return env
}

// NewJSONRequest builds a request with a JSON body. A string body is sent verbatim.
func NewJSONRequest(t TestingT, method, url string, body any) *http.Request {
	t.Helper()
	var data []byte
	switch b := body.(type) {
	case nil:
	case string:
		data = []byte(b)
	default:
		data = MustMarshalJSON(t, b)
	}
	req := httptest.NewRequest(method, url, bytes.NewReader(data))
	if len(data) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// Serve runs req against h and returns the recorder.
func Serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// AssertContains fails when s does not contain sub.
func AssertContains(t TestingT, s, sub, context string) {
	t.Helper()
	if !strings.Contains(s, sub) {
		t.Errorf("%s: expected %q to contain %q", context, s, sub)
	}
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t TestingT, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t TestingT, data []byte, target any) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
