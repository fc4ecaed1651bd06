package metering_test

import (
	"testing"

	"github.com/fngate/fngate/domain/execution"
	"github.com/fngate/fngate/domain/metering"
)

func TestRequestSize(t *testing.T) {
	tests := []struct {
		name string
		req  execution.Request
		want int64
	}{
		{
			name: "empty request",
			req:  execution.Request{},
			want: 0,
		},
		{
			name: "method and url only",
			req:  execution.Request{Method: "POST", URL: "/v1/run"},
			want: 4 + 7,
		},
		{
			name: "body counted verbatim",
			req:  execution.Request{Method: "GET", Body: []byte("hello")},
			want: 3 + 5,
		},
		{
			// {"a":"b"} is 9 bytes serialized
			name: "headers serialized as json",
			req:  execution.Request{Headers: map[string]string{"a": "b"}},
			want: 9,
		},
		{
			name: "query serialized as json",
			req:  execution.Request{Query: map[string]string{"q": "x"}},
			want: 9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := metering.RequestSize(tt.req); got != tt.want {
				t.Errorf("RequestSize() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestResponseSize(t *testing.T) {
	if got := metering.ResponseSize(nil, nil); got != 0 {
		t.Errorf("empty response size = %d, want 0", got)
	}
	got := metering.ResponseSize(map[string]string{"a": "b"}, []byte("abc"))
	if got != 9+3 {
		t.Errorf("ResponseSize() = %d, want 12", got)
	}
}
