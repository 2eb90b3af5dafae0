// Package errors provides the error taxonomy shared by document loading, request
// synthesis and probing.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"unicode/utf8"
)

// Kind categorizes errors for propagation decisions.
type Kind int

const (
	// Unknown is an uncategorized error.
	Unknown Kind = iota
	// Document is a malformed or unrecognized API document. Fatal.
	Document
	// Config is an invalid operator configuration. Fatal.
	Config
	// Extraction is one operation that could not be normalized into an endpoint.
	Extraction
	// Build is a request that could not be constructed for one endpoint.
	Build
	// Serialization is a value tree that could not be encoded for its content type.
	Serialization
	// Transport is a network failure while sending a probe.
	Transport
	// Timeout is a probe or fetch that exceeded its deadline.
	Timeout
	// Fetch is a failure retrieving a document, catalog or detail page.
	Fetch
	// Cancelled is an operator interrupt.
	Cancelled
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case Document:
		return "document"
	case Config:
		return "config"
	case Extraction:
		return "extraction"
	case Build:
		return "build"
	case Serialization:
		return "serialization"
	case Transport:
		return "transport"
	case Timeout:
		return "timeout"
	case Fetch:
		return "fetch"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsFatal reports whether errors of this kind stop the whole run.
func (k Kind) IsFatal() bool {
	return k == Document || k == Config
}

// IsRetryable reports whether a retrieval failing with this kind may be retried.
// Probes are never retried regardless of kind.
func (k Kind) IsRetryable() bool {
	switch k {
	case Transport, Timeout, Fetch:
		return true
	default:
		return false
	}
}

// ProbeError is a categorized error carrying the target and the failing step.
type ProbeError struct {
	Kind       Kind
	URL        string
	Operation  string
	Message    string
	Cause      error
	StatusCode int
}

// Error implements the error interface.
func (e *ProbeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error during %s on %s: %s (caused by: %v)",
			e.Kind, e.Operation, e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error during %s on %s: %s", e.Kind, e.Operation, e.URL, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProbeError) Unwrap() error {
	return e.Cause
}

// Is matches another *ProbeError of the same Kind.
func (e *ProbeError) Is(target error) bool {
	t, ok := target.(*ProbeError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Short returns the simplified, human readable form used in reports.
func (e *ProbeError) Short() string {
	if e.Cause != nil {
		return Simplify(e.Cause.Error())
	}
	return Simplify(e.Message)
}

// New creates a ProbeError.
func New(kind Kind, url, operation, message string, cause error) *ProbeError {
	return &ProbeError{
		Kind:      kind,
		URL:       url,
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}

// NewDocumentError reports an unusable API document.
func NewDocumentError(source, message string, cause error) *ProbeError {
	return New(Document, source, "load", message, cause)
}

// NewConfigError reports an invalid configuration value.
func NewConfigError(field, message string) *ProbeError {
	return New(Config, "", field, message, nil)
}

// NewExtractionError reports an operation dropped during extraction.
func NewExtractionError(operation, message string) *ProbeError {
	return New(Extraction, "", operation, message, nil)
}

// NewBuildError reports a request that could not be built.
func NewBuildError(url, operation string, cause error) *ProbeError {
	return New(Build, url, operation, "request build failed", cause)
}

// NewSerializationError reports a body that could not be encoded.
func NewSerializationError(contentType string, cause error) *ProbeError {
	return New(Serialization, "", "encode", "cannot encode "+contentType+" body", cause)
}

// NewTransportError reports a network failure.
func NewTransportError(url, operation string, cause error) *ProbeError {
	return New(Transport, url, operation, "network failure", cause)
}

// NewTimeoutError reports an exceeded deadline.
func NewTimeoutError(url, operation string, cause error) *ProbeError {
	return New(Timeout, url, operation, "request timed out", cause)
}

// NewFetchError reports a retrieval failure, optionally with the HTTP status.
func NewFetchError(url string, statusCode int, cause error) *ProbeError {
	msg := "retrieval failed"
	if statusCode > 0 {
		msg = fmt.Sprintf("server returned %d", statusCode)
	}
	err := New(Fetch, url, "fetch", msg, cause)
	err.StatusCode = statusCode
	return err
}

// NewCancelledError reports an operator interrupt.
func NewCancelledError(url, operation string) *ProbeError {
	return New(Cancelled, url, operation, "cancelled", nil)
}

// Categorize classifies an I/O error raised while talking to url.
// Uncategorized failures are reported as Transport.
func Categorize(err error, url, operation string) *ProbeError {
	if err == nil {
		return nil
	}

	var pe *ProbeError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.Canceled) {
		return NewCancelledError(url, operation)
	}
	if isTimeout(err) {
		return NewTimeoutError(url, operation, err)
	}
	return NewTransportError(url, operation, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "timeout") || strings.Contains(s, "deadline exceeded")
}

// IsNetworkError reports whether err came from the network stack.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH)
}

// simplifyRules are checked in order against the lowercased message.
var simplifyRules = []struct {
	needles []string
	label   string
}{
	{[]string{"connection aborted", "software caused connection abort"}, "Connection aborted"},
	{[]string{"connection reset"}, "Connection reset"},
	{[]string{"timeout", "deadline exceeded"}, "timeout"},
	{[]string{"connection refused"}, "Connection refused"},
	{[]string{"name or service not known", "no such host"}, "DNS resolution failed"},
	{[]string{"no route to host"}, "No route to host"},
	{[]string{"network is unreachable"}, "Network unreachable"},
}

const maxShortMessage = 50

// Simplify maps a raw transport error message to a short label for reports.
func Simplify(msg string) string {
	if msg == "" {
		return "Unknown error"
	}
	lower := strings.ToLower(msg)
	for _, r := range simplifyRules {
		for _, n := range r.needles {
			if strings.Contains(lower, n) {
				return r.label
			}
		}
	}
	if utf8.RuneCountInString(msg) > maxShortMessage {
		return string([]rune(msg)[:maxShortMessage-3]) + "..."
	}
	return msg
}

// KindOf extracts the Kind from err, or Unknown.
func KindOf(err error) Kind {
	var pe *ProbeError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return Unknown
}

// IsFatal reports whether err must stop the run.
func IsFatal(err error) bool {
	return KindOf(err).IsFatal()
}

// IsRetryable reports whether a retrieval failing with err may be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProbeError
	if errors.As(err, &pe) {
		if pe.Kind == Fetch && pe.StatusCode > 0 {
			return pe.StatusCode == 429 || pe.StatusCode >= 500
		}
		return pe.Kind.IsRetryable()
	}
	return isTimeout(err) || IsNetworkError(err)
}

// StatusCode extracts the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var pe *ProbeError
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	return 0
}
