package output

import (
	"strconv"
	"time"
)

// Special status values. Numeric HTTP codes are recorded as their decimal text.
const (
	// StatusIntercepted marks a 200 response carrying an interception proxy's
	// error page.
	StatusIntercepted = "error"
	// StatusError marks a probe that produced no HTTP response.
	StatusError = "ERROR"
)

// ProbeResult is the record of one sent (or failed) probe request.
type ProbeResult struct {
	Index           int           `json:"index"`
	Method          string        `json:"method"`
	URL             string        `json:"url"`
	Status          string        `json:"status"`
	Length          int           `json:"length"`
	ContentType     string        `json:"content_type,omitempty"`
	RequestHeaders  string        `json:"request_headers"`
	RequestBody     string        `json:"request_body,omitempty"`
	ResponseHeaders string        `json:"response_headers,omitempty"`
	Snippet         string        `json:"snippet,omitempty"`
	Elapsed         time.Duration `json:"elapsed"`

	Service   string `json:"service,omitempty"`
	Operation string `json:"operation,omitempty"`
	Namespace string `json:"namespace,omitempty"`

	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// StatusCode returns the numeric status, or 0 for non-numeric statuses.
func (r *ProbeResult) StatusCode() int {
	n, err := strconv.Atoi(r.Status)
	if err != nil {
		return 0
	}
	return n
}

// Failed reports whether the probe ended without an HTTP response.
func (r *ProbeResult) Failed() bool {
	return r.Status == StatusError
}

// RunResult is one complete run: what was probed and everything recorded.
type RunResult struct {
	ID          string         `json:"id"`
	Target      string         `json:"target"`
	Dialect     string         `json:"dialect"`
	Title       string         `json:"title,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at,omitempty"`
	Endpoints   int            `json:"endpoints"`
	Stats       Stats          `json:"stats"`
	Results     []*ProbeResult `json:"results"`
	ReportPath  string         `json:"report_path,omitempty"`
}

// Stats summarizes a run by status class.
type Stats struct {
	Total       int           `json:"total"`
	Success     int           `json:"2xx"`
	Redirect    int           `json:"3xx"`
	ClientError int           `json:"4xx"`
	ServerError int           `json:"5xx"`
	Intercepted int           `json:"intercepted"`
	Failed      int           `json:"failed"`
	Duration    time.Duration `json:"duration"`
}

// ComputeStats counts results by status class.
func ComputeStats(results []*ProbeResult) Stats {
	var s Stats
	for _, r := range results {
		s.Total++
		switch code := r.StatusCode(); {
		case r.Status == StatusIntercepted:
			s.Intercepted++
		case r.Failed():
			s.Failed++
		case code >= 200 && code < 300:
			s.Success++
		case code >= 300 && code < 400:
			s.Redirect++
		case code >= 400 && code < 500:
			s.ClientError++
		case code >= 500 && code < 600:
			s.ServerError++
		}
	}
	return s
}
