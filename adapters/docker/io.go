package docker

import (
	"encoding/json"
	"errors"
	"io"
)

// errOutputTruncated stops the stdcopy demultiplexer once the output
// budget is spent; it is not a real failure.
var errOutputTruncated = errors.New("container output truncated")

// limitWriter writes at most n bytes, then reports errOutputTruncated.
type limitWriter struct {
	w io.Writer
	n int64
}

func (lw *limitWriter) Write(p []byte) (int, error) {
	if lw.n <= 0 {
		return 0, errOutputTruncated
	}
	if int64(len(p)) > lw.n {
		p = p[:lw.n]
	}
	n, err := lw.w.Write(p)
	lw.n -= int64(n)
	if err != nil {
		return n, err
	}
	if lw.n <= 0 {
		return n, errOutputTruncated
	}
	return n, nil
}

func decodeJSON(r io.Reader, v interface{}) error {
	return json.NewDecoder(r).Decode(v)
}
