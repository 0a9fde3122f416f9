package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/AlsinafiAziz/metricpal-kiro/internal/enricher"
	"github.com/AlsinafiAziz/metricpal-kiro/internal/handler"
	"github.com/AlsinafiAziz/metricpal-kiro/internal/sink"
	"github.com/AlsinafiAziz/metricpal-kiro/internal/validation"
)

const apiKey = "mp_live_0123456789"

type fakeAuth struct {
	err     error
	limited bool
}

func (a *fakeAuth) Authenticate(_ context.Context, key string) (*validation.Workspace, error) {
	if a.err != nil {
		return nil, a.err
	}
	if key != apiKey {
		return nil, validation.ErrInvalidAPIKey
	}
	return &validation.Workspace{ID: "ws-1", Name: "Acme", APIKey: apiKey}, nil
}

func (a *fakeAuth) CheckRateLimit(context.Context, string) bool { return !a.limited }

type fakeForwarder struct {
	mu      sync.Mutex
	batches []sink.Batch
	err     error
}

func (f *fakeForwarder) Send(_ context.Context, b sink.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, b)
	return f.err
}

func (f *fakeForwarder) Batches() []sink.Batch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sink.Batch(nil), f.batches...)
}

type server struct {
	auth *fakeAuth
	fwd  *fakeForwarder
	srv  *httptest.Server
}

func newServer(t *testing.T, bodyLimit int64) *server {
	t.Helper()
	s := &server{auth: &fakeAuth{}, fwd: &fakeForwarder{}}
	h := handler.NewHTTPHandler(s.auth, enricher.NewEnricher(""), s.fwd, bodyLimit)
	s.srv = httptest.NewServer(h.Router([]string{"https://app.metricpal.com", "https://example.com"}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *server) post(t *testing.T, path, body string, header map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, s.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	return do(t, req)
}

func do(t *testing.T, req *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

const payload = `{
  "customerObject": {"website": "example.com", "apiKey": "` + apiKey + `", "version": "2.2.0"},
  "userObject": {"language": "en-US", "platform": "MacIntel", "uuid": "visitor-1",
    "sessionData": {"id": "s1", "startTime": "2026-03-01T12:00:00.000Z"}},
  "actionLog": [
    {"timestamp": "2026-03-01T12:00:00.000Z", "action_type": "enter-page", "url": "https://example.com/"},
    {"timestamp": "2026-03-01T12:00:03.000Z", "action_type": "onsubmit", "url": "https://example.com/", "properties": {"email": "ann@corp.io"}}
  ],
  "referrer": "https://google.com/"
}`

func TestCollectAccepted(t *testing.T) {
	s := newServer(t, 1<<20)

	for _, path := range []string{"/api/v1/collect", "/api/v1/collect/optimized"} {
		t.Run(path, func(t *testing.T) {
			resp, body := s.post(t, path, payload, map[string]string{"X-API-Key": apiKey, "X-Request-ID": "req_fixed"})
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, body %v", resp.StatusCode, body)
			}
			if body["success"] != true || body["requestId"] != "req_fixed" || body["message"] != "Events collected successfully" {
				t.Errorf("body = %v", body)
			}
			processed, _ := body["processed"].(map[string]any)
			if processed["eventCount"] != float64(2) || processed["workspaceId"] != "ws-1" {
				t.Errorf("processed = %v", processed)
			}
			if resp.Header.Get("X-Request-ID") != "req_fixed" {
				t.Errorf("request id header = %q", resp.Header.Get("X-Request-ID"))
			}
		})
	}

	batches := s.fwd.Batches()
	if len(batches) != 2 {
		t.Fatalf("forwarded %d batches", len(batches))
	}
	b := batches[0]
	if len(b.Events) != 2 || b.Events[0].WorkspaceID != "ws-1" || b.Events[0].Referrer != "https://google.com/" {
		t.Errorf("events = %+v", b.Events)
	}
	if len(b.Identities) != 1 || b.Identities[0].EmailDomain != "corp.io" {
		t.Errorf("identities = %+v", b.Identities)
	}
}

func TestCollectAPIKeyFromQuery(t *testing.T) {
	s := newServer(t, 1<<20)
	resp, body := s.post(t, "/api/v1/collect/optimized?api_key="+apiKey, payload, map[string]string{"Content-Type": "text/plain;charset=UTF-8"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}
	if id, _ := body["requestId"].(string); !strings.HasPrefix(id, "req_") || len(id) != 30 {
		t.Errorf("generated request id = %q", id)
	}
}

func TestCollectRejections(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*server)
		header map[string]string
		body   string
		status int
		code   string
	}{
		{"missing key", nil, nil, payload, http.StatusUnauthorized, handler.CodeMissingAPIKey},
		{"unknown key", nil, map[string]string{"X-API-Key": "mp_live_bogus"}, payload, http.StatusUnauthorized, handler.CodeInvalidAPIKey},
		{"auth backend down", func(s *server) { s.auth.err = errors.New("dial tcp: refused") }, map[string]string{"X-API-Key": apiKey}, payload, http.StatusInternalServerError, handler.CodeInternalError},
		{"rate limited", func(s *server) { s.auth.limited = true }, map[string]string{"X-API-Key": apiKey}, payload, http.StatusTooManyRequests, handler.CodeRateLimitExceeded},
		{"not json", nil, map[string]string{"X-API-Key": apiKey}, "hello", http.StatusBadRequest, handler.CodeInvalidPayload},
		{"array body", nil, map[string]string{"X-API-Key": apiKey}, "[]", http.StatusBadRequest, handler.CodeInvalidPayload},
		{"key mismatch", nil, map[string]string{"X-API-Key": apiKey}, strings.Replace(payload, `"apiKey": "`+apiKey, `"apiKey": "other`, 1), http.StatusUnauthorized, handler.CodeAPIKeyMismatch},
		{"bad action type", nil, map[string]string{"X-API-Key": apiKey}, strings.Replace(payload, "onsubmit", "onhover", 1), http.StatusBadRequest, handler.CodeValidationError},
		{"wrong type", nil, map[string]string{"X-API-Key": apiKey}, strings.Replace(payload, `"uuid": "visitor-1"`, `"uuid": 7`, 1), http.StatusBadRequest, handler.CodeValidationError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServer(t, 1<<20)
			if tt.setup != nil {
				tt.setup(s)
			}
			resp, body := s.post(t, "/api/v1/collect", tt.body, tt.header)
			if resp.StatusCode != tt.status || errorCode(body) != tt.code {
				t.Fatalf("got %d %q, want %d %q (%v)", resp.StatusCode, errorCode(body), tt.status, tt.code, body)
			}
			e := body["error"].(map[string]any)
			if e["requestId"] == "" || e["timestamp"] == "" || e["message"] == "" {
				t.Errorf("incomplete envelope %v", e)
			}
			if len(s.fwd.Batches()) != 0 {
				t.Error("rejected request was forwarded")
			}
		})
	}
}

func TestCollectValidationDetails(t *testing.T) {
	s := newServer(t, 1<<20)
	_, body := s.post(t, "/api/v1/collect", strings.Replace(payload, "onsubmit", "onhover", 1), map[string]string{"X-API-Key": apiKey})

	details := body["error"].(map[string]any)["details"].(map[string]any)
	errs := details["validationErrors"].([]any)
	first := errs[0].(map[string]any)
	if first["field"] != "actionLog[1].action_type" || first["value"] != "onhover" {
		t.Errorf("validation error = %v", first)
	}
}

func TestCollectForwardFailureStillSucceeds(t *testing.T) {
	s := newServer(t, 1<<20)
	s.fwd.err = errors.New("tinybird down")

	resp, body := s.post(t, "/api/v1/collect", payload, map[string]string{"X-API-Key": apiKey})
	if resp.StatusCode != http.StatusOK || body["success"] != true {
		t.Errorf("status = %d, body %v", resp.StatusCode, body)
	}
}

func TestCollectBodyLimit(t *testing.T) {
	s := newServer(t, 64)
	resp, body := s.post(t, "/api/v1/collect", payload, map[string]string{"X-API-Key": apiKey})
	if resp.StatusCode != http.StatusRequestEntityTooLarge || errorCode(body) != handler.CodePayloadTooLarge {
		t.Errorf("got %d %v", resp.StatusCode, body)
	}
}

func TestHealth(t *testing.T) {
	s := newServer(t, 1<<20)
	for path, service := range map[string]any{"/health": nil, "/api/v1/collect/health": "event-collection"} {
		req, _ := http.NewRequest(http.MethodGet, s.srv.URL+path, nil)
		resp, body := do(t, req)
		if resp.StatusCode != http.StatusOK || body["status"] != "healthy" || body["service"] != service {
			t.Errorf("%s: %d %v", path, resp.StatusCode, body)
		}
	}
}

func TestNotFound(t *testing.T) {
	s := newServer(t, 1<<20)
	req, _ := http.NewRequest(http.MethodGet, s.srv.URL+"/api/v2/nope", nil)
	resp, body := do(t, req)
	if resp.StatusCode != http.StatusNotFound || errorCode(body) != handler.CodeNotFound {
		t.Errorf("got %d %v", resp.StatusCode, body)
	}
}

func TestCORS(t *testing.T) {
	s := newServer(t, 1<<20)

	tests := []struct {
		origin string
		want   string
	}{
		{"https://example.com", "https://example.com"},
		{"https://evil.test", "https://app.metricpal.com"},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(http.MethodOptions, s.srv.URL+"/api/v1/collect", nil)
		req.Header.Set("Origin", tt.origin)
		req.Header.Set("Access-Control-Request-Method", "POST")
		resp, _ := do(t, req)

		if resp.StatusCode != http.StatusNoContent {
			t.Errorf("%s: preflight status = %d", tt.origin, resp.StatusCode)
		}
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("%s: allow origin = %q, want %q", tt.origin, got, tt.want)
		}
		if !strings.Contains(resp.Header.Get("Access-Control-Allow-Headers"), "X-API-Key") {
			t.Errorf("allow headers = %q", resp.Header.Get("Access-Control-Allow-Headers"))
		}
	}
}
