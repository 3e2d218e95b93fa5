package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"hzinstall/internal/history"
)

const testSecret = "test-secret-at-least-32-chars-long-here"

type testServer struct {
	*Server
	deploys atomic.Int32
	release chan struct{}
}

func setupTestServer(t *testing.T, hist *history.History) *testServer {
	t.Helper()
	ts := &testServer{}
	deploy := func(ctx context.Context) error {
		ts.deploys.Add(1)
		if ts.release != nil {
			<-ts.release
		}
		return nil
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts.Server = New("/opt/hetzner-web", "main", testSecret, deploy, hist, logger)
	ts.DisableRateLimit = true
	return ts
}

// wait blocks until every background run has finished.
func (ts *testServer) wait(t *testing.T) {
	t.Helper()
	if err := ts.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func webhookRequest(payload []byte, event, signature string) *http.Request {
	req := httptest.NewRequest("POST", "/hook", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	return req
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, rr.Body.String())
	}
	return response
}

func TestHandleWebhook_Rejections(t *testing.T) {
	payload := []byte(`{"ref":"refs/heads/main","after":"abc123"}`)

	tests := []struct {
		name        string
		req         func() *http.Request
		wantStatus  int
		wantField   string
		wantMessage string
	}{
		{
			"invalid signature",
			func() *http.Request {
				return webhookRequest(payload, "push", Sign(payload, "wrong-secret-32-chars-long-xxxxxxx"))
			},
			http.StatusForbidden, "error", "Invalid signature",
		},
		{
			"missing signature",
			func() *http.Request { return webhookRequest(payload, "push", "") },
			http.StatusForbidden, "error", "Invalid signature",
		},
		{
			"payload too large",
			func() *http.Request {
				large := make([]byte, MaxPayloadBytes+1)
				return webhookRequest(large, "push", Sign(large, testSecret))
			},
			http.StatusRequestEntityTooLarge, "error", "Payload too large",
		},
		{
			"invalid content type",
			func() *http.Request {
				req := webhookRequest(payload, "push", Sign(payload, testSecret))
				req.Header.Set("Content-Type", "text/plain")
				return req
			},
			http.StatusUnsupportedMediaType, "error", "Invalid content type",
		},
		{
			"non-push event",
			func() *http.Request { return webhookRequest(payload, "pull_request", Sign(payload, testSecret)) },
			http.StatusOK, "message", "Ignoring non-push event",
		},
		{
			"ping",
			func() *http.Request { return webhookRequest([]byte(`{"zen":"hi"}`), "ping", Sign([]byte(`{"zen":"hi"}`), testSecret)) },
			http.StatusOK, "message", "pong",
		},
		{
			"invalid json",
			func() *http.Request { return webhookRequest([]byte(`{not json`), "push", Sign([]byte(`{not json`), testSecret)) },
			http.StatusBadRequest, "error", "Invalid JSON payload",
		},
		{
			"other branch",
			func() *http.Request {
				p := []byte(`{"ref":"refs/heads/develop"}`)
				return webhookRequest(p, "push", Sign(p, testSecret))
			},
			http.StatusOK, "message", "Not target branch, skipping",
		},
		{
			"tag push",
			func() *http.Request {
				p := []byte(`{"ref":"refs/tags/main"}`)
				return webhookRequest(p, "push", Sign(p, testSecret))
			},
			http.StatusOK, "message", "Not target branch, skipping",
		},
		{
			"branch deleted",
			func() *http.Request {
				p := []byte(`{"ref":"refs/heads/main","deleted":true}`)
				return webhookRequest(p, "push", Sign(p, testSecret))
			},
			http.StatusOK, "message", "Branch deleted, skipping",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := setupTestServer(t, nil)

			rr := httptest.NewRecorder()
			srv.Router().ServeHTTP(rr, tt.req())
			srv.wait(t)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if got := decode(t, rr)[tt.wantField]; got != tt.wantMessage {
				t.Errorf("%s = %v, want %q", tt.wantField, got, tt.wantMessage)
			}
			if n := srv.deploys.Load(); n != 0 {
				t.Errorf("deploy ran %d times, want 0", n)
			}
		})
	}
}

func TestHandleWebhook_AcceptsPushToBranch(t *testing.T) {
	srv := setupTestServer(t, nil)

	payload := []byte(`{"ref":"refs/heads/main","after":"abc123"}`)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, webhookRequest(payload, "push", Sign(payload, testSecret)))
	srv.wait(t)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rr.Code, rr.Body.String())
	}
	response := decode(t, rr)
	if response["commit"] != "abc123" || response["target"] != "/opt/hetzner-web" {
		t.Errorf("response = %v", response)
	}
	if n := srv.deploys.Load(); n != 1 {
		t.Errorf("deploy ran %d times, want 1", n)
	}

	// The lock is released once the run finishes.
	if !srv.locks.TryLock(srv.Target) {
		t.Error("lock still held after the run finished")
	}
	srv.locks.Unlock(srv.Target)
}

func TestHandleWebhook_OverlappingPushRejected(t *testing.T) {
	hist, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("history.Open() error = %v", err)
	}
	defer hist.Close()

	srv := setupTestServer(t, hist)
	srv.release = make(chan struct{})
	router := srv.Router()

	payload := []byte(`{"ref":"refs/heads/main","after":"abc123"}`)
	first := httptest.NewRecorder()
	router.ServeHTTP(first, webhookRequest(payload, "push", Sign(payload, testSecret)))
	if first.Code != http.StatusAccepted {
		t.Fatalf("first status = %d, want 202", first.Code)
	}

	second := httptest.NewRecorder()
	router.ServeHTTP(second, webhookRequest(payload, "push", Sign(payload, testSecret)))
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want 429", second.Code)
	}
	if got := decode(t, second)["error"]; got != "Provisioning already in progress" {
		t.Errorf("error = %v", got)
	}

	close(srv.release)
	srv.wait(t)

	if n := srv.deploys.Load(); n != 1 {
		t.Errorf("deploy ran %d times, want 1", n)
	}

	latest, err := hist.Latest(context.Background(), srv.Target)
	if err != nil || latest == nil {
		t.Fatalf("Latest() = %v, %v", latest, err)
	}
	if latest.Status != history.StatusRejected || latest.Trigger != history.TriggerWebhook {
		t.Errorf("recorded = %+v, want a rejected webhook run", latest)
	}
}

func TestHandleWebhook_DeployFailureIsLogged(t *testing.T) {
	srv := setupTestServer(t, nil)
	var logs bytes.Buffer
	srv.Logger = slog.New(slog.NewTextHandler(&logs, nil))
	srv.Deploy = func(ctx context.Context) error { return errors.New("syncing repository: boom") }

	payload := []byte(`{"ref":"refs/heads/main"}`)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, webhookRequest(payload, "push", Sign(payload, testSecret)))
	srv.wait(t)

	if rr.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rr.Code)
	}
	if !bytes.Contains(logs.Bytes(), []byte("Provisioning failed")) {
		t.Errorf("failure not logged:\n%s", logs.String())
	}
}

func TestShutdown_CancelsRunningDeploy(t *testing.T) {
	srv := setupTestServer(t, nil)
	started := make(chan struct{})
	srv.Deploy = func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}

	payload := []byte(`{"ref":"refs/heads/main"}`)
	srv.Router().ServeHTTP(httptest.NewRecorder(), webhookRequest(payload, "push", Sign(payload, testSecret)))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := srv.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown() = %v, want deadline exceeded", err)
	}
}

func TestHandleHealth(t *testing.T) {
	srv := setupTestServer(t, nil)

	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest("GET", "/health", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
	response := decode(t, rr)
	if response["status"] != "ok" || response["target"] != "/opt/hetzner-web" || response["branch"] != "main" {
		t.Errorf("response = %v", response)
	}
	if response["history"] != false {
		t.Errorf("history = %v, want false", response["history"])
	}
}

func TestHandleStatus_NoHistory(t *testing.T) {
	srv := setupTestServer(t, nil)

	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest("GET", "/status", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
}

func TestHandleStatus_Success(t *testing.T) {
	hist, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("history.Open() error = %v", err)
	}
	defer hist.Close()

	duration := 1.5
	if _, err := hist.Record(context.Background(), &history.RunRecord{
		Target:          "/opt/hetzner-web",
		Branch:          "main",
		Trigger:         history.TriggerCLI,
		Status:          history.StatusSuccess,
		DurationSeconds: &duration,
	}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	srv := setupTestServer(t, hist)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest("GET", "/status", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	response := decode(t, rr)
	if response["target"] != "/opt/hetzner-web" {
		t.Errorf("target = %v", response["target"])
	}
	if response["latest_run"] == nil {
		t.Error("latest_run missing")
	}
	if recent, ok := response["recent_history"].([]any); !ok || len(recent) != 1 {
		t.Errorf("recent_history = %v", response["recent_history"])
	}
}

func TestRateLimit(t *testing.T) {
	srv := setupTestServer(t, nil)
	srv.DisableRateLimit = false
	router := srv.Router()

	var limited bool
	for i := 0; i < WebhookRateLimit+1; i++ {
		payload := []byte(`{"ref":"refs/heads/other"}`)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, webhookRequest(payload, "push", Sign(payload, testSecret)))
		if rr.Code == http.StatusTooManyRequests {
			limited = true
		}
	}
	if !limited {
		t.Errorf("%d webhook requests were not rate limited", WebhookRateLimit+1)
	}
}
