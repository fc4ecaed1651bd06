package metering

import "github.com/fngate/fngate/domain/execution"

// Call is the context of one completed invocation handed to the meter.
// It is constructed after the response has begun flushing; metering never
// sits on the response path.
type Call struct {
	APIID           string
	UserID          string
	APIKeyRef       string
	Request         execution.Request
	Result          execution.Result
	ResponseHeaders map[string]string
	IPAddress       string
	UserAgent       string
	Metadata        Metadata
}

// ResponseBody returns the bytes that were sent back for this call.
func (c Call) ResponseBody() []byte {
	if len(c.Result.Response) > 0 {
		return c.Result.Response
	}
	return []byte(c.Result.Error)
}
