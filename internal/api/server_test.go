package api

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"OnchainAgent/internal/agent"
	xerrors "OnchainAgent/internal/errors"
	"OnchainAgent/internal/registry"
	"OnchainAgent/internal/storage"
	"OnchainAgent/internal/stream"
)

type stubStreamer struct {
	chunks []string
	err    error
	input  string
	convo  string
}

func (s *stubStreamer) OpenStream(_ context.Context, input, sessionKey string) (iter.Seq[string], error) {
	s.input, s.convo = input, sessionKey
	if s.err != nil {
		return nil, s.err
	}
	return func(yield func(string) bool) {
		for _, c := range s.chunks {
			if !yield(c) {
				return
			}
		}
	}, nil
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

type failingLister struct{}

func (failingLister) List(context.Context, registry.Kind) ([]string, error) {
	return nil, errors.New("disk full")
}

func readyHandle(t *testing.T) *agent.Handle {
	t.Helper()
	h := agent.NewHandle()
	if err := h.Init(func() (agent.Engine, error) {
		return agent.EngineFunc(func(context.Context, string, string) iter.Seq2[agent.StepEvent, error] {
			return func(func(agent.StepEvent, error) bool) {}
		}), nil
	}); err != nil {
		t.Fatalf("init handle: %v", err)
	}
	return h
}

func newTestServer(t *testing.T, deps Dependencies, opts ...Option) http.Handler {
	t.Helper()
	s := NewServer(":0", deps, opts...)
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return s.Handler()
}

func do(h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChatStreamsSSE(t *testing.T) {
	streamer := &stubStreamer{chunks: []string{
		stream.Format("hello", stream.EventAgent),
		stream.Format("Deployed", stream.EventTools, "deploy_token"),
	}}
	h := newTestServer(t, Dependencies{Streams: streamer})

	rec := do(h, http.MethodPost, "/api/chat", `{"input":" hi ","conversation_id":"c-1"}`, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %q", got)
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatal("expected generated request id")
	}
	if want := strings.Join(streamer.chunks, ""); rec.Body.String() != want {
		t.Fatalf("body = %q, want %q", rec.Body.String(), want)
	}
	if streamer.input != "hi" || streamer.convo != "c-1" {
		t.Fatalf("streamer got %q %q", streamer.input, streamer.convo)
	}
}

func TestChatValidation(t *testing.T) {
	h := newTestServer(t, Dependencies{Streams: &stubStreamer{}})
	cases := map[string]string{
		"missing input":           `{"conversation_id":"test-123"}`,
		"missing conversation_id": `{"input":"Hello"}`,
		"empty input":             `{"input":"","conversation_id":"test-123"}`,
		"malformed":               `{"input":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(h, http.MethodPost, "/api/chat", body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rec.Code)
			}
			var payload map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil || payload["error"] == "" {
				t.Fatalf("expected JSON error body, got %q", rec.Body.String())
			}
		})
	}
}

func TestChatEngineNotReady(t *testing.T) {
	streamer := &stubStreamer{err: xerrors.New(xerrors.CodeInitializationFailure, "智能体尚未初始化")}
	h := newTestServer(t, Dependencies{Streams: streamer})

	rec := do(h, http.MethodPost, "/api/chat", `{"input":"hi","conversation_id":"c"}`, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INITIALIZATION_FAILURE") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestContractListings(t *testing.T) {
	store := storage.NewMemoryStore()
	reg := registry.New(store)
	reg.Record(context.Background(), registry.KindToken, "0x5FbDB2315678afecb367f032d93F642f64180aa3")
	h := newTestServer(t, Dependencies{Contracts: reg})

	rec := do(h, http.MethodGet, "/tokens", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var tokens map[string][]string
	if err := json.Unmarshal(rec.Body.Bytes(), &tokens); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tokens["tokens"]) != 1 {
		t.Fatalf("tokens = %+v", tokens)
	}

	rec = do(h, http.MethodGet, "/nfts", "", nil)
	if strings.TrimSpace(rec.Body.String()) != `{"nfts":[]}` {
		t.Fatalf("nfts body = %s", rec.Body.String())
	}

	rec = do(newTestServer(t, Dependencies{Contracts: failingLister{}}), http.MethodGet, "/nfts", "", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, Dependencies{Database: storage.NewMemoryStore(), Engine: readyHandle(t)})
	rec := do(h, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := healthResponse{Status: "healthy", Database: "connected", Agent: "ready", Timestamp: "2026-01-02T03:04:05Z"}
	if got != want {
		t.Fatalf("health = %+v", got)
	}

	rec = do(newTestServer(t, Dependencies{Database: failingPinger{}, Engine: agent.NewHandle()}), http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"database":"disconnected"`) || !strings.Contains(rec.Body.String(), `"agent":"uninitialized"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestAuthentication(t *testing.T) {
	h := newTestServer(t, Dependencies{Contracts: registry.New(storage.NewMemoryStore())}, WithAuthToken("secret"))

	cases := []struct {
		header string
		status int
		reason string
	}{
		{"", http.StatusUnauthorized, "No Authorization header"},
		{"Bearer", http.StatusUnauthorized, "Invalid Authorization header format"},
		{"Basic secret", http.StatusUnauthorized, "Invalid authorization scheme"},
		{"Bearer wrong", http.StatusUnauthorized, "Invalid API key"},
		{"bearer secret", http.StatusOK, ""},
	}
	for _, tc := range cases {
		rec := do(h, http.MethodGet, "/tokens", "", map[string]string{"Authorization": tc.header})
		if rec.Code != tc.status {
			t.Fatalf("header %q: status = %d", tc.header, rec.Code)
		}
		if tc.reason != "" && !strings.Contains(rec.Body.String(), tc.reason) {
			t.Fatalf("header %q: body = %s", tc.header, rec.Body.String())
		}
	}

	if rec := do(h, http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("health must stay public, got %d", rec.Code)
	}
}

func TestRequestIDAndMetrics(t *testing.T) {
	h := newTestServer(t, Dependencies{}, WithMetrics(true))

	rec := do(h, http.MethodGet, "/health", "", map[string]string{requestIDHeader: "req-42"})
	if got := rec.Header().Get(requestIDHeader); got != "req-42" {
		t.Fatalf("request id = %q", got)
	}

	rec = do(h, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "onchain_agent_http_requests_total") {
		t.Fatalf("metrics status=%d body=%.200s", rec.Code, rec.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t, Dependencies{}, WithAllowedOrigins([]string{"https://app.example"}))
	rec := do(h, http.MethodOptions, "/api/chat", "", map[string]string{
		"Origin":                        "https://app.example",
		"Access-Control-Request-Method": http.MethodPost,
	})
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("allow origin = %q", got)
	}
}
