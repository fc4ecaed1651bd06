// Package metering provides usage record types, request/response sizing and
// the cost formula. All functions are pure - no side effects.
package metering

import (
	"errors"
	"time"
)

// Metadata carries arbitrary context attached to a usage record.
type Metadata map[string]string

// UsageRecord captures one metered invocation (immutable once persisted).
// Written by the meter service, read by the billing worker for snapshotting.
type UsageRecord struct {
	ID          string
	APIID       string
	UserID      string
	Endpoint    string
	Method      string
	Timestamp   time.Time
	DurationMs  int64
	BytesIn     int64
	BytesOut    int64
	StatusCode  int
	IPAddress   string
	UserAgent   string
	APIKeyRef   string
	ExecutionID string
	Cost        float64
	Metadata    Metadata
}

// Validation errors.
var (
	ErrMissingAPIID  = errors.New("usage record requires api id")
	ErrMissingUserID = errors.New("usage record requires user id")
	ErrNegativeCost  = errors.New("usage record cost must be >= 0")
	ErrNegativeTime  = errors.New("usage record duration must be >= 0")
)

// Validate checks the record invariants.
func (r UsageRecord) Validate() error {
	if r.APIID == "" {
		return ErrMissingAPIID
	}
	if r.UserID == "" {
		return ErrMissingUserID
	}
	if r.Cost < 0 {
		return ErrNegativeCost
	}
	if r.DurationMs < 0 {
		return ErrNegativeTime
	}
	return nil
}

// IsError reports whether the record represents a failed call.
func (r UsageRecord) IsError() bool {
	return r.StatusCode >= 400
}
