// Package execution provides the value types exchanged with the sandbox.
// All types are pure data - construction and parsing have no side effects.
package execution

import (
	"encoding/json"
	"time"
)

// Request carries one inbound call into the sandbox (immutable value type).
// It is serialized into the workspace so tenant code can read it.
type Request struct {
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers"`
	Query     map[string]string `json:"query"`
	Body      []byte            `json:"body"`
	Timestamp time.Time         `json:"timestamp"`
}

// FailureKind classifies sandbox failures.
type FailureKind string

const (
	FailureNone     FailureKind = ""
	FailureFetch    FailureKind = "fetch_failure"    // code could not be retrieved
	FailureBuild    FailureKind = "build_failure"    // runtime image build failed
	FailureTimeout  FailureKind = "timeout"          // wall-clock limit exceeded
	FailureCrash    FailureKind = "runtime_crash"    // nonzero exit
	FailureResource FailureKind = "resource_exceeded" // memory/CPU ceiling hit
)

// Result is the outcome of one sandboxed execution (immutable once returned).
// Every call gets a fresh ExecutionID; failures are encoded here, never
// raised to the caller.
type Result struct {
	ExecutionID      string          `json:"executionId"`
	Success          bool            `json:"success"`
	Response         json.RawMessage `json:"response,omitempty"`
	Error            string          `json:"error,omitempty"`
	Failure          FailureKind     `json:"failureKind,omitempty"`
	Logs             string          `json:"logs,omitempty"`
	ExecutionTimeMs  int64           `json:"executionTimeMs"`
	MemoryUsageBytes int64           `json:"memoryUsageBytes"`
}

// Failure builds a failed Result with the given kind and message.
func Failure(executionID string, kind FailureKind, message, logs string, elapsedMs int64) Result {
	return Result{
		ExecutionID:     executionID,
		Success:         false,
		Error:           message,
		Failure:         kind,
		Logs:            logs,
		ExecutionTimeMs: elapsedMs,
	}
}

// StatusCode maps a result to the HTTP status reported to the gateway.
func (r Result) StatusCode() int {
	if r.Success {
		return 200
	}
	switch r.Failure {
	case FailureTimeout:
		return 504
	case FailureFetch:
		return 404
	default:
		return 500
	}
}

// Limits describes the resource ceilings applied to every execution.
type Limits struct {
	MemoryBytes int64         // hard memory ceiling
	CPUQuota    float64       // CPUs worth of runtime (1.0 = one core)
	MaxOpenFD   int64         // file descriptor ulimit
	MaxProcs    int64         // process/thread ulimit
	Timeout     time.Duration // wall-clock execution timeout
}
