// Package billing provides the event wire codec, realtime counter types and
// windowed snapshot aggregation. All functions are pure - no side effects.
package billing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/fngate/fngate/domain/metering"
)

// Event field names on the wire. Events are a flat field map mirror of a
// usage record; the log assigns the entry ID at append time.
const (
	FieldAPIID       = "api_id"
	FieldUserID      = "user_id"
	FieldEndpoint    = "endpoint"
	FieldMethod      = "method"
	FieldTimestamp   = "timestamp"
	FieldDurationMs  = "duration_ms"
	FieldBytesIn     = "bytes_in"
	FieldBytesOut    = "bytes_out"
	FieldStatusCode  = "status_code"
	FieldIPAddress   = "ip_address"
	FieldUserAgent   = "user_agent"
	FieldAPIKey      = "api_key"
	FieldExecutionID = "execution_id"
	FieldCost        = "cost"
	FieldMetadata    = "metadata"
)

// EncodeEvent flattens a usage record into wire fields.
// This is a PURE function.
func EncodeEvent(r metering.UsageRecord) map[string]string {
	fields := map[string]string{
		FieldAPIID:       r.APIID,
		FieldUserID:      r.UserID,
		FieldEndpoint:    r.Endpoint,
		FieldMethod:      r.Method,
		FieldTimestamp:   r.Timestamp.UTC().Format(time.RFC3339Nano),
		FieldDurationMs:  strconv.FormatInt(r.DurationMs, 10),
		FieldBytesIn:     strconv.FormatInt(r.BytesIn, 10),
		FieldBytesOut:    strconv.FormatInt(r.BytesOut, 10),
		FieldStatusCode:  strconv.Itoa(r.StatusCode),
		FieldIPAddress:   r.IPAddress,
		FieldUserAgent:   r.UserAgent,
		FieldAPIKey:      r.APIKeyRef,
		FieldExecutionID: r.ExecutionID,
		FieldCost:        strconv.FormatFloat(r.Cost, 'f', -1, 64),
	}
	if len(r.Metadata) > 0 {
		if blob, err := json.Marshal(r.Metadata); err == nil {
			fields[FieldMetadata] = string(blob)
		}
	}
	return fields
}

// DecodeEvent reconstructs a usage record from wire fields. Numeric fields
// that fail to parse are treated as zero rather than failing the whole
// entry; the required identity fields are validated.
// This is a PURE function.
func DecodeEvent(fields map[string]string) (metering.UsageRecord, error) {
	r := metering.UsageRecord{
		APIID:       fields[FieldAPIID],
		UserID:      fields[FieldUserID],
		Endpoint:    fields[FieldEndpoint],
		Method:      fields[FieldMethod],
		IPAddress:   fields[FieldIPAddress],
		UserAgent:   fields[FieldUserAgent],
		APIKeyRef:   fields[FieldAPIKey],
		ExecutionID: fields[FieldExecutionID],
	}

	if ts := fields[FieldTimestamp]; ts != "" {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return metering.UsageRecord{}, fmt.Errorf("decode event timestamp %q: %w", ts, err)
		}
		r.Timestamp = parsed
	}

	r.DurationMs, _ = strconv.ParseInt(fields[FieldDurationMs], 10, 64)
	r.BytesIn, _ = strconv.ParseInt(fields[FieldBytesIn], 10, 64)
	r.BytesOut, _ = strconv.ParseInt(fields[FieldBytesOut], 10, 64)
	r.StatusCode, _ = strconv.Atoi(fields[FieldStatusCode])
	r.Cost, _ = strconv.ParseFloat(fields[FieldCost], 64)

	if blob := fields[FieldMetadata]; blob != "" {
		var md metering.Metadata
		if err := json.Unmarshal([]byte(blob), &md); err == nil {
			r.Metadata = md
		}
	}

	if err := r.Validate(); err != nil {
		return metering.UsageRecord{}, fmt.Errorf("decode event: %w", err)
	}
	return r, nil
}
