// Package http exposes the invocation endpoint and the read-only
// introspection surface over chi.
package http

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/fngate/fngate/adapters/metrics"
	"github.com/fngate/fngate/app"
	"github.com/fngate/fngate/domain/execution"
	"github.com/fngate/fngate/domain/metering"
	"github.com/fngate/fngate/ports"
)

// Gateway-supplied identity headers. FnGate sits behind a gateway that has
// already authenticated the caller; these headers carry the verdict.
const (
	HeaderUserID    = "X-User-ID"
	HeaderAPIKeyRef = "X-API-Key-Ref"
	HeaderCodeRef   = "X-Code-Ref"
)

// maxBodyBytes caps the accepted request body.
const maxBodyBytes = 10 << 20 // 10MB

// InvokeResponse is the wire shape of an invocation result.
type InvokeResponse struct {
	Success          bool            `json:"success"`
	ExecutionID      string          `json:"executionId"`
	Response         json.RawMessage `json:"response,omitempty"`
	Error            string          `json:"error,omitempty"`
	Logs             string          `json:"logs,omitempty"`
	ExecutionTimeMs  int64           `json:"executionTimeMs"`
	MemoryUsageBytes int64           `json:"memoryUsageBytes"`
}

// ErrorResponse is the wire shape of a request-level error.
type ErrorResponse struct {
	Error string `json:"error"`
}

// BacklogResponse reports the durable log's consumption state.
type BacklogResponse struct {
	StreamLength int64 `json:"streamLength"`
	Pending      int64 `json:"pending"`
}

// Handler wires the application services to HTTP.
type Handler struct {
	sandbox *app.SandboxRunner
	worker  *app.BillingWorker
	meter   ports.MeterQueue
	events  ports.EventLog
	clock   ports.Clock
	logger  zerolog.Logger

	collector *metrics.Collector
	group     string
}

// HandlerDeps contains dependencies for Handler.
type HandlerDeps struct {
	Sandbox   *app.SandboxRunner
	Worker    *app.BillingWorker
	Meter     ports.MeterQueue
	Events    ports.EventLog
	Clock     ports.Clock
	Logger    zerolog.Logger
	Collector *metrics.Collector
	Group     string
}

// NewHandler creates the HTTP handler.
func NewHandler(deps HandlerDeps) *Handler {
	return &Handler{
		sandbox:   deps.Sandbox,
		worker:    deps.Worker,
		meter:     deps.Meter,
		events:    deps.Events,
		clock:     deps.Clock,
		logger:    deps.Logger,
		collector: deps.Collector,
		group:     deps.Group,
	}
}

// Routes builds the router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/v1/apis/{apiID}/invoke", h.Invoke)

	r.Get("/v1/billing/worker", h.WorkerStatus)
	r.Get("/v1/billing/backlog", h.Backlog)
	r.Get("/v1/sandbox/limits", h.SandboxLimits)
	r.Get("/v1/sandbox/containers", h.SandboxContainers)

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Invoke runs tenant code for one call and reports the outcome. The
// response is always well-formed JSON: sandbox failures arrive as a
// failure result, never as a broken response.
func (h *Handler) Invoke(w http.ResponseWriter, r *http.Request) {
	apiID := chi.URLParam(r, "apiID")
	userID := r.Header.Get(HeaderUserID)
	codeRef := r.Header.Get(HeaderCodeRef)

	if userID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing " + HeaderUserID + " header"})
		return
	}
	if codeRef == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing " + HeaderCodeRef + " header"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Warn().Err(err).Msg("request body read failed")
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "unreadable request body"})
		return
	}

	req := execution.Request{
		Method:    r.Method,
		URL:       r.URL.Path,
		Headers:   flattenHeaders(r.Header),
		Query:     flattenQuery(r),
		Body:      body,
		Timestamp: h.clock.Now().UTC(),
	}

	start := h.clock.Now()
	result := h.sandbox.Execute(r.Context(), codeRef, req)

	status := result.StatusCode()
	writeJSON(w, status, InvokeResponse{
		Success:          result.Success,
		ExecutionID:      result.ExecutionID,
		Response:         result.Response,
		Error:            result.Error,
		Logs:             result.Logs,
		ExecutionTimeMs:  result.ExecutionTimeMs,
		MemoryUsageBytes: result.MemoryUsageBytes,
	})

	if h.collector != nil {
		h.collector.ExecutionsTotal.WithLabelValues(apiID, strconv.Itoa(status)).Inc()
		h.collector.ExecutionDuration.WithLabelValues(apiID).
			Observe(h.clock.Now().Sub(start).Seconds())
	}

	// Metering is fire and forget: the response above is already written.
	h.meter.Submit(metering.Call{
		APIID:           apiID,
		UserID:          userID,
		APIKeyRef:       r.Header.Get(HeaderAPIKeyRef),
		Request:         req,
		Result:          result,
		ResponseHeaders: map[string]string{"Content-Type": "application/json"},
		IPAddress:       clientIP(r),
		UserAgent:       r.UserAgent(),
	})
}

// WorkerStatus reports the billing worker's run state.
func (h *Handler) WorkerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.worker.Status())
}

// Backlog reports the event log length and the group's pending count.
func (h *Handler) Backlog(w http.ResponseWriter, r *http.Request) {
	length, err := h.events.Len(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("stream length lookup failed")
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "event log unavailable"})
		return
	}
	pending, err := h.events.PendingCount(r.Context(), h.group)
	if err != nil {
		h.logger.Error().Err(err).Msg("pending count lookup failed")
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "event log unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, BacklogResponse{StreamLength: length, Pending: pending})
}

// SandboxLimits reports the resource ceilings applied to every execution.
func (h *Handler) SandboxLimits(w http.ResponseWriter, r *http.Request) {
	limits := h.sandbox.Limits()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"memoryBytes": limits.MemoryBytes,
		"cpus":        limits.CPUQuota,
		"maxOpenFd":   limits.MaxOpenFD,
		"maxProcs":    limits.MaxProcs,
		"timeoutMs":   limits.Timeout.Milliseconds(),
	})
}

// SandboxContainers reports the number of live sandbox containers.
func (h *Handler) SandboxContainers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"live": h.sandbox.Live()})
}

// Health is the liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": h.clock.Now().UTC().Format(time.RFC3339)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// flattenHeaders keeps the first value of each header, dropping the
// identity headers the gateway added for FnGate itself.
func flattenHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for k, v := range header {
		if k == HeaderUserID || k == HeaderAPIKeyRef || k == HeaderCodeRef {
			continue
		}
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func flattenQuery(r *http.Request) map[string]string {
	query := r.URL.Query()
	if len(query) == 0 {
		return nil
	}
	out := make(map[string]string, len(query))
	for k, v := range query {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
