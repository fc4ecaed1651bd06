package execution

import (
	"bytes"
	"encoding/json"
)

// ParseOutput splits combined sandbox output into a structured response and
// log text. The last top-level JSON object in the output is treated as the
// response; everything printed before it is log output. When no trailing
// JSON object exists, the whole output becomes an opaque text response.
// This is a PURE function.
func ParseOutput(output []byte) (response json.RawMessage, logs string) {
	trimmed := bytes.TrimRight(output, " \t\r\n")
	if len(trimmed) == 0 || trimmed[len(trimmed)-1] != '}' {
		return opaque(output), string(output)
	}

	// Try each '{' from the end; the candidate must decode as a single JSON
	// object extending to the end of the output.
	for i := len(trimmed) - 1; i >= 0; i-- {
		if trimmed[i] != '{' {
			continue
		}
		candidate := trimmed[i:]
		if !json.Valid(candidate) {
			continue
		}
		var raw json.RawMessage
		if err := json.Unmarshal(candidate, &raw); err != nil {
			continue
		}
		return raw, string(bytes.TrimRight(trimmed[:i], " \t\r\n"))
	}

	return opaque(output), string(output)
}

// opaque wraps raw text output as a JSON string so callers always receive
// valid JSON in Result.Response.
func opaque(output []byte) json.RawMessage {
	text := string(bytes.TrimSpace(output))
	if text == "" {
		return nil
	}
	b, err := json.Marshal(text)
	if err != nil {
		return nil
	}
	return b
}
