package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/store"
	"github.com/BTreeMap/IntakePipe/internal/testutil"
)

func newTestServer(t *testing.T, opts ...Option) (*Server, *store.InMemoryStore) {
	t.Helper()
	engine, st := testutil.NewTestEngine(t)
	return NewServer(engine, opts...), st
}

func do(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, testutil.Envelope) {
	t.Helper()
	rec := testutil.Serve(h, testutil.NewJSONRequest(t, method, path, body))
	var env testutil.Envelope
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		testutil.MustUnmarshalJSON(t, rec.Body.Bytes(), &env)
	}
	return rec, env
}

func startSession(t *testing.T, h http.Handler, hint string) models.StartSessionResponse {
	t.Helper()
	rec, env := do(t, h, http.MethodPost, "/onboarding/start", models.StartSessionRequest{TenantID: "t1", SubjectHint: hint})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200 on start, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp models.StartSessionResponse
	if err := json.Unmarshal(env.Result, &resp); err != nil {
		t.Fatalf("Failed to decode start result: %v", err)
	}
	return resp
}

func TestStartAndSubmit(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	start := startSession(t, h, "Smile Dental")
	if !strings.HasPrefix(start.SessionID, "sess_") {
		t.Errorf("Expected session id with sess_ prefix, got %q", start.SessionID)
	}
	if start.FirstPrompt == "" || start.TotalQuestions != 48 || start.Cursor != 0 {
		t.Errorf("Unexpected start response: %+v", start)
	}

	rec, env := do(t, h, http.MethodPost, "/onboarding/message", models.SubmitAnswerRequest{
		SessionID: start.SessionID,
		Message:   "Jane Doe",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var turn models.TurnResponse
	if err := json.Unmarshal(env.Result, &turn); err != nil {
		t.Fatalf("Failed to decode turn: %v", err)
	}
	if turn.Cursor != 1 || turn.Completed {
		t.Errorf("Expected cursor 1 and not completed, got %+v", turn)
	}

	rec, env = do(t, h, http.MethodGet, "/onboarding/status/"+start.SessionID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var status models.StatusResponse
	if err := json.Unmarshal(env.Result, &status); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if status.Cursor != 1 || status.ProgressPercent != 2 {
		t.Errorf("Expected cursor 1 at 2%%, got cursor %d at %d%%", status.Cursor, status.ProgressPercent)
	}
}

func TestBadRequests(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	tests := []struct {
		name     string
		path     string
		body     any
		contains string
	}{
		{"invalid json", "/onboarding/start", "{not json", "Invalid JSON"},
		{"missing tenant", "/onboarding/start", models.StartSessionRequest{SubjectHint: "x"}, "tenant_id failed required"},
		{"missing message", "/onboarding/message", models.SubmitAnswerRequest{SessionID: "sess_abc"}, "message failed required"},
		{"bad session prefix", "/onboarding/message", models.SubmitAnswerRequest{SessionID: "abc", Message: "hi"}, "session_id failed startswith=sess_"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, h, http.MethodPost, tt.path, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d", rec.Code)
			}
			if env.Status != string(models.APIStatusError) || !strings.Contains(env.Message, tt.contains) {
				t.Errorf("Expected error containing %q, got %+v", tt.contains, env)
			}
		})
	}
}

func TestUnknownSessionIsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec, _ := do(t, h, http.MethodGet, "/onboarding/status/sess_missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for status, got %d", rec.Code)
	}
	rec, _ = do(t, h, http.MethodPost, "/onboarding/message", models.SubmitAnswerRequest{SessionID: "sess_missing", Message: "hi"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for message, got %d", rec.Code)
	}
}

func TestCompleteIntakeThroughGeneratedAnswers(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	start := startSession(t, h, "Bright Clinic")

	var turn models.TurnResponse
	for i := 0; i < start.TotalQuestions; i++ {
		rec, env := do(t, h, http.MethodPost, "/onboarding/generate-answer", models.GenerateAnswerRequest{SessionID: start.SessionID})
		if rec.Code != http.StatusOK {
			t.Fatalf("generate-answer %d: expected 200, got %d: %s", i, rec.Code, rec.Body.String())
		}
		var gen models.GenerateAnswerResponse
		if err := json.Unmarshal(env.Result, &gen); err != nil {
			t.Fatalf("Failed to decode generated answer: %v", err)
		}

		rec, env = do(t, h, http.MethodPost, "/onboarding/message", models.SubmitAnswerRequest{SessionID: start.SessionID, Message: gen.Answer})
		if rec.Code != http.StatusOK {
			t.Fatalf("message %d: expected 200, got %d: %s", i, rec.Code, rec.Body.String())
		}
		turn = models.TurnResponse{}
		if err := json.Unmarshal(env.Result, &turn); err != nil {
			t.Fatalf("Failed to decode turn: %v", err)
		}
		if turn.Cursor != i+1 {
			t.Fatalf("Answer %q for %s was not accepted: %v", gen.Answer, gen.FieldName, turn.Messages)
		}
	}
	if !turn.Completed {
		t.Fatal("Expected intake to be completed")
	}

	rec, _ := do(t, h, http.MethodPost, "/onboarding/message", models.SubmitAnswerRequest{SessionID: start.SessionID, Message: "more"})
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 after completion, got %d", rec.Code)
	}
	rec, _ = do(t, h, http.MethodPost, "/onboarding/generate-answer", models.GenerateAnswerRequest{SessionID: start.SessionID})
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 for generate-answer after completion, got %d", rec.Code)
	}
}

func TestCRMSyncCompleteCallback(t *testing.T) {
	srv, st := newTestServer(t)
	srv = NewServer(srv.engine, WithExternalIDRecorder(st))
	h := srv.Handler()
	start := startSession(t, h, "Callback Clinic")

	rec, _ := do(t, h, http.MethodPost, "/webhooks/crm-sync-complete", models.CRMSyncCompleteRequest{SubjectID: start.SubjectID, ExternalID: "ghl_123"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	_, env := do(t, h, http.MethodGet, "/onboarding/status/"+start.SessionID, nil)
	var status models.StatusResponse
	if err := json.Unmarshal(env.Result, &status); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if status.ExternalID != "ghl_123" {
		t.Errorf("Expected external id ghl_123, got %q", status.ExternalID)
	}

	rec, _ = do(t, h, http.MethodPost, "/webhooks/crm-sync-complete", models.CRMSyncCompleteRequest{SubjectID: "subj_unknown", ExternalID: "x"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown subject, got %d", rec.Code)
	}
}

func TestCRMSyncCompleteNotConfigured(t *testing.T) {
	srv, _ := newTestServer(t)
	rec, _ := do(t, srv.Handler(), http.MethodPost, "/webhooks/crm-sync-complete", models.CRMSyncCompleteRequest{SubjectID: "s", ExternalID: "x"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, WithBackend(store.BackendMemory))
	rec, env := do(t, srv.Handler(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var health models.HealthResponse
	if err := json.Unmarshal(env.Result, &health); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if health.Questions != 48 || health.Stages != 4 || health.Store != store.BackendMemory {
		t.Errorf("Unexpected health response: %+v", health)
	}
}

func TestCORS(t *testing.T) {
	srv, _ := newTestServer(t, WithCORSOrigins([]string{"https://app.example.com"}))
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/onboarding/start", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204 for preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Expected origin echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Expected no CORS header for disallowed origin, got %q", got)
	}
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("intakepipe_up 1\n"))
	})
	srv, _ := newTestServer(t, WithMetricsHandler(metrics))
	rec, _ := do(t, srv.Handler(), http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "intakepipe_up") {
		t.Errorf("Expected metrics body, got %d %q", rec.Code, rec.Body.String())
	}
}

func listClients(t *testing.T, h http.Handler, query string) models.ClientListResponse {
	t.Helper()
	rec, env := do(t, h, http.MethodGet, "/clients?"+query, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200 for %q, got %d: %s", query, rec.Code, rec.Body.String())
	}
	var resp models.ClientListResponse
	if err := json.Unmarshal(env.Result, &resp); err != nil {
		t.Fatalf("Failed to decode client list: %v", err)
	}
	return resp
}

func TestClientsListAndDetail(t *testing.T) {
	engine, st := testutil.NewTestEngine(t)
	h := NewServer(engine, WithRecords(st)).Handler()

	first := startSession(t, h, "Sunrise Dental")
	startSession(t, h, "Harbor Health")
	startSession(t, h, "Sunrise Vision")
	rec, _ := do(t, h, http.MethodPost, "/onboarding/message", models.SubmitAnswerRequest{SessionID: first.SessionID, Message: "Jane Doe"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200 on message, got %d", rec.Code)
	}

	all := listClients(t, h, "tenant_id=t1")
	if all.Total != 3 || len(all.Clients) != 3 || all.Page != 1 || all.PageSize != store.DefaultPageSize {
		t.Fatalf("Unexpected list: %+v", all)
	}

	tests := []struct {
		query string
		total int
		count int
	}{
		{"tenant_id=t1&search=sunrise", 2, 2},
		{"tenant_id=t1&status=pending", 3, 3},
		{"tenant_id=t1&status=completed", 0, 0},
		{"tenant_id=t1&page=2&page_size=2", 3, 1},
		{"tenant_id=other", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp := listClients(t, h, tt.query)
			if resp.Total != tt.total || len(resp.Clients) != tt.count {
				t.Errorf("Expected total %d with %d clients, got %d with %d", tt.total, tt.count, resp.Total, len(resp.Clients))
			}
			if resp.Clients == nil {
				t.Error("Expected an empty list, not null")
			}
		})
	}

	rec, env := do(t, h, http.MethodGet, "/clients/"+first.SubjectID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200 for detail, got %d: %s", rec.Code, rec.Body.String())
	}
	var detail models.ClientDetail
	if err := json.Unmarshal(env.Result, &detail); err != nil {
		t.Fatalf("Failed to decode client detail: %v", err)
	}
	if detail.SubjectID != first.SubjectID || detail.PracticeName != "Sunrise Dental" {
		t.Errorf("Unexpected detail: %+v", detail.ClientSummary)
	}
	if detail.Cursor != 1 || detail.ProgressPercent != 2 || detail.TotalQuestions != 48 || detail.Completed {
		t.Errorf("Expected cursor 1 of 48 at 2%%, got %+v", detail.ClientSummary)
	}
	if detail.Answers["full_name"] != "Jane Doe" {
		t.Errorf("Expected full_name Jane Doe, got %v", detail.Answers["full_name"])
	}
	if len(detail.Messages) == 0 {
		t.Error("Expected the transcript in the detail")
	}

	rec, _ = do(t, h, http.MethodGet, "/clients/subj-missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown subject, got %d", rec.Code)
	}
}

func TestClientsBadQuery(t *testing.T) {
	engine, st := testutil.NewTestEngine(t)
	h := NewServer(engine, WithRecords(st)).Handler()

	tests := []struct {
		name     string
		query    string
		contains string
	}{
		{"missing tenant", "", "tenant_id failed required"},
		{"unknown status", "tenant_id=t1&status=archived", "status failed oneof"},
		{"page size too large", "tenant_id=t1&page_size=500", "page_size failed lte=100"},
		{"negative page", "tenant_id=t1&page=-1", "page failed gte=0"},
		{"non-numeric page", "tenant_id=t1&page=two", "page must be an integer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, h, http.MethodGet, "/clients?"+tt.query, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d", rec.Code)
			}
			if !strings.Contains(env.Message, tt.contains) {
				t.Errorf("Expected error containing %q, got %q", tt.contains, env.Message)
			}
		})
	}
}

func TestClientsNotConfigured(t *testing.T) {
	srv, _ := newTestServer(t)
	rec, _ := do(t, srv.Handler(), http.MethodGet, "/clients?tenant_id=t1", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without client records, got %d", rec.Code)
	}
}
