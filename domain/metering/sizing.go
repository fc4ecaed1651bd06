package metering

import (
	"encoding/json"

	"github.com/fngate/fngate/domain/execution"
)

// RequestSize returns the billable size of a request in bytes: the sum of
// the serialized URL, method, headers, body and query string lengths.
// This is a PURE function.
func RequestSize(req execution.Request) int64 {
	size := int64(len(req.URL)) + int64(len(req.Method)) + int64(len(req.Body))
	size += mapSize(req.Headers)
	size += mapSize(req.Query)
	return size
}

// ResponseSize returns the billable size of a response in bytes: serialized
// headers plus body. This is a PURE function.
func ResponseSize(headers map[string]string, body []byte) int64 {
	return mapSize(headers) + int64(len(body))
}

// mapSize measures a header/query map by its JSON serialization. An empty
// map contributes nothing.
func mapSize(m map[string]string) int64 {
	if len(m) == 0 {
		return 0
	}
	b, err := json.Marshal(m)
	if err != nil {
		return 0
	}
	return int64(len(b))
}
