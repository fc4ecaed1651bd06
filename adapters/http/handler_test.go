package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fngate/fngate/adapters/clock"
	httpadapter "github.com/fngate/fngate/adapters/http"
	"github.com/fngate/fngate/adapters/idgen"
	"github.com/fngate/fngate/adapters/memory"
	"github.com/fngate/fngate/app"
	"github.com/fngate/fngate/domain/metering"
	"github.com/fngate/fngate/ports"
)

// captureQueue records submitted calls without processing them.
type captureQueue struct {
	mu    sync.Mutex
	calls []metering.Call
}

func (q *captureQueue) Submit(call metering.Call) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, call)
}

func (q *captureQueue) Errors() <-chan error { return nil }
func (q *captureQueue) Close() error         { return nil }

func (q *captureQueue) submitted() []metering.Call {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]metering.Call(nil), q.calls...)
}

type handlerFixture struct {
	handler   http.Handler
	engine    *memory.Engine
	artifacts *memory.ArtifactStore
	events    *memory.EventLog
	queue     *captureQueue
	worker    *app.BillingWorker
	clock     *clock.Fake
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	fakeClock := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	engine := memory.NewEngine()
	artifacts := memory.NewArtifactStore()
	events := memory.NewEventLog()
	queue := &captureQueue{}
	logger := zerolog.Nop()

	runner := app.NewSandboxRunner(app.SandboxDeps{
		Artifacts: artifacts,
		Engine:    engine,
		Clock:     fakeClock,
		IDGen:     idgen.NewSequential("exec_"),
		Logger:    logger,
	}, app.SandboxConfig{
		BaseImage:     "node:20-alpine",
		WorkspaceRoot: t.TempDir(),
	})

	worker := app.NewBillingWorker(app.BillingDeps{
		Events:    events,
		Usage:     memory.NewUsageStore(),
		Snapshots: memory.NewSnapshotStore(),
		Realtime:  memory.NewMetricsStore(time.Hour, fakeClock),
		Clock:     fakeClock,
		Logger:    logger,
	}, app.BillingConfig{Group: "billing", Consumer: "test"})

	h := httpadapter.NewHandler(httpadapter.HandlerDeps{
		Sandbox: runner,
		Worker:  worker,
		Meter:   queue,
		Events:  events,
		Clock:   fakeClock,
		Logger:  logger,
		Group:   "billing",
	})

	return &handlerFixture{
		handler:   h.Routes(),
		engine:    engine,
		artifacts: artifacts,
		events:    events,
		queue:     queue,
		worker:    worker,
		clock:     fakeClock,
	}
}

func (f *handlerFixture) invoke(t *testing.T, apiID, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/apis/"+apiID+"/invoke", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func identityHeaders() map[string]string {
	return map[string]string{
		httpadapter.HeaderUserID:    "user_1",
		httpadapter.HeaderAPIKeyRef: "key_abc",
		httpadapter.HeaderCodeRef:   "sha256:code1",
	}
}

func TestInvoke_Success(t *testing.T) {
	f := newHandlerFixture(t)
	f.artifacts.Put("sha256:code1", []byte(`module.exports = () => ({ok: true})`))
	f.engine.DefaultRun = memory.EngineRun{
		Result: ports.RunResult{
			ExitCode:       0,
			CombinedOutput: []byte("starting\n{\"ok\":true}"),
			MemoryPeak:     4 << 20,
		},
	}

	rec := f.invoke(t, "api_weather", `{"city":"Oslo"}`, identityHeaders())

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	var resp httpadapter.InvokeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Errorf("success = false, want true: %s", resp.Error)
	}
	if resp.ExecutionID != "exec_1" {
		t.Errorf("executionId = %q, want exec_1", resp.ExecutionID)
	}
	if string(resp.Response) != `{"ok":true}` {
		t.Errorf("response = %s", resp.Response)
	}
	if resp.Logs != "starting" {
		t.Errorf("logs = %q, want %q", resp.Logs, "starting")
	}

	calls := f.queue.submitted()
	if len(calls) != 1 {
		t.Fatalf("metered calls = %d, want 1", len(calls))
	}
	call := calls[0]
	if call.APIID != "api_weather" || call.UserID != "user_1" || call.APIKeyRef != "key_abc" {
		t.Errorf("call identity = %q/%q/%q", call.APIID, call.UserID, call.APIKeyRef)
	}
	if string(call.Request.Body) != `{"city":"Oslo"}` {
		t.Errorf("metered request body = %s", call.Request.Body)
	}
	if !call.Result.Success {
		t.Error("metered result not marked successful")
	}
}

func TestInvoke_MissingIdentityHeaders(t *testing.T) {
	f := newHandlerFixture(t)

	cases := []struct {
		name string
		drop string
	}{
		{name: "no user id", drop: httpadapter.HeaderUserID},
		{name: "no code ref", drop: httpadapter.HeaderCodeRef},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			headers := identityHeaders()
			delete(headers, tc.drop)

			rec := f.invoke(t, "api_1", "{}", headers)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			var resp httpadapter.ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if !strings.Contains(resp.Error, tc.drop) {
				t.Errorf("error = %q, want mention of %s", resp.Error, tc.drop)
			}
		})
	}

	if got := len(f.queue.submitted()); got != 0 {
		t.Errorf("rejected requests metered %d calls, want 0", got)
	}
}

func TestInvoke_FailureStatusCodes(t *testing.T) {
	f := newHandlerFixture(t)
	// No artifact stored: fetch fails and maps to 404.
	rec := f.invoke(t, "api_1", "{}", identityHeaders())

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var resp httpadapter.InvokeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Success {
		t.Error("fetch failure reported success")
	}
	if resp.ExecutionID == "" {
		t.Error("failed invocation has no execution id")
	}

	// Failed calls are still metered.
	if got := len(f.queue.submitted()); got != 1 {
		t.Errorf("metered calls = %d, want 1", got)
	}
}

func TestInvoke_StripsIdentityHeadersFromSandboxRequest(t *testing.T) {
	f := newHandlerFixture(t)
	f.artifacts.Put("sha256:code1", []byte("code"))

	headers := identityHeaders()
	headers["X-Custom"] = "keep-me"
	f.invoke(t, "api_1", "{}", headers)

	calls := f.queue.submitted()
	if len(calls) != 1 {
		t.Fatalf("metered calls = %d, want 1", len(calls))
	}
	req := calls[0].Request
	if _, ok := req.Headers[httpadapter.HeaderUserID]; ok {
		t.Error("identity header leaked into sandbox request")
	}
	if req.Headers["X-Custom"] != "keep-me" {
		t.Errorf("custom header = %q, want keep-me", req.Headers["X-Custom"])
	}
}

func TestWorkerStatus(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/billing/worker", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var status app.WorkerStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Running {
		t.Error("stopped worker reported running")
	}
	if status.Group != "billing" {
		t.Errorf("group = %q, want billing", status.Group)
	}
}

func TestBacklog(t *testing.T) {
	f := newHandlerFixture(t)
	f.events.Append(context.Background(), map[string]string{"k": "v"})
	f.events.Append(context.Background(), map[string]string{"k": "v"})

	req := httptest.NewRequest(http.MethodGet, "/v1/billing/backlog", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var backlog httpadapter.BacklogResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &backlog); err != nil {
		t.Fatalf("decode backlog: %v", err)
	}
	if backlog.StreamLength != 2 {
		t.Errorf("streamLength = %d, want 2", backlog.StreamLength)
	}
	if backlog.Pending != 0 {
		t.Errorf("pending = %d, want 0", backlog.Pending)
	}
}

func TestSandboxIntrospection(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/sandbox/limits", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("limits status = %d, want 200", rec.Code)
	}
	var limits map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &limits); err != nil {
		t.Fatalf("decode limits: %v", err)
	}
	if limits["timeoutMs"].(float64) <= 0 {
		t.Errorf("timeoutMs = %v, want > 0", limits["timeoutMs"])
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/sandbox/containers", nil)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("containers status = %d, want 200", rec.Code)
	}
	var containers map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &containers); err != nil {
		t.Fatalf("decode containers: %v", err)
	}
	if containers["live"] != 0 {
		t.Errorf("live = %d, want 0", containers["live"])
	}
}

func TestHealth(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}
