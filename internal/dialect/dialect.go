// Package dialect turns parsed API documents into endpoints and endpoints into
// concrete probe requests. Each document dialect has its own Strategy.
package dialect

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/PentesterFlow/APIFuzz/internal/catalog"
	"github.com/PentesterFlow/APIFuzz/internal/document"
	apierrors "github.com/PentesterFlow/APIFuzz/internal/errors"
	"github.com/PentesterFlow/APIFuzz/internal/logger"
	"github.com/PentesterFlow/APIFuzz/internal/synth"
)

// UserAgent is sent with every probe unless overridden.
const UserAgent = "APIFuzz/2.0"

// Endpoint is one probe target. Ref carries the dialect's own operation
// descriptor and is only interpreted by the Strategy that produced it.
type Endpoint struct {
	Index     int
	Method    string
	Path      string
	Operation string
	Ref       any
}

// Part is one multipart/form-data part. Parts without a Filename are plain form
// fields.
type Part struct {
	Name        string
	Filename    string
	ContentType string
	Data        []byte
}

// ProbeRequest is a fully formed request. Body and Parts are mutually exclusive.
type ProbeRequest struct {
	Endpoint    int
	Method      string
	URL         string
	Headers     map[string]string
	Query       url.Values
	Body        []byte
	Binary      bool
	ContentType string
	Parts       []Part

	Service   string
	Operation string
	Namespace string
}

// BodyText is the request body as recorded in reports: the text, or "<binary>"
// for byte payloads and multipart requests.
func (r *ProbeRequest) BodyText() string {
	if r.Binary || len(r.Parts) > 0 {
		return "<binary>"
	}
	return string(r.Body)
}

// Strategy extracts endpoints from one document and builds their requests.
// Build is safe for concurrent use once Extract has returned.
type Strategy interface {
	Dialect() document.Dialect
	Extract(ctx context.Context) ([]Endpoint, error)
	// Build returns the requests for one endpoint: one for every dialect except
	// ASMX, which may return two when namespaces disagree.
	Build(ep Endpoint) ([]*ProbeRequest, error)
	// Expand turns a declared schema into a value. REST dialects walk JSON
	// schema; SOAP dialects take a {"name", "type"} parameter descriptor and
	// return element text.
	Expand(schema map[string]any) any
}

// Options configures strategies. Unset sizes and timeouts fall back to the
// DefaultOptions values.
type Options struct {
	// BaseURL is scheme://host of the target; REST paths are joined to it.
	BaseURL string
	// ServiceURL is the ASMX service address.
	ServiceURL string
	Headers    map[string]string

	Synth         *synth.Synthesizer
	MaxProperties int
	Catalog       *catalog.Catalog

	// Fetcher retrieves ASMX detail pages. Nil disables detail fetching.
	Fetcher           document.Fetcher
	DetailConcurrency int
	DetailTimeout     time.Duration
	Breaker           *apierrors.CircuitBreaker

	// DualNamespace sends a second ASMX request with the URL-derived namespace
	// when it differs from the page namespace.
	DualNamespace bool
	Discovery     []DiscoveryMethod

	Logger *logger.Logger
}

// DefaultOptions returns options with ASMX dual requests enabled.
func DefaultOptions() Options {
	return Options{
		DetailConcurrency: 4,
		DetailTimeout:     10 * time.Second,
		DualNamespace:     true,
		Discovery:         DefaultDiscovery,
	}
}

func (o *Options) normalize() {
	if o.Synth == nil {
		o.Synth = synth.New(nil)
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
	if o.DetailConcurrency <= 0 {
		o.DetailConcurrency = 4
	}
	if o.DetailTimeout <= 0 {
		o.DetailTimeout = 10 * time.Second
	}
	if len(o.Discovery) == 0 {
		o.Discovery = DefaultDiscovery
	}
	headers := make(map[string]string, len(o.Headers))
	mergeHeaders(headers, o.Headers)
	o.Headers = headers
}

// setHeader stores value under name, replacing a header of the same name in
// any letter case.
func setHeader(h map[string]string, name, value string) {
	for k := range h {
		if k != name && strings.EqualFold(k, name) {
			delete(h, k)
		}
	}
	h[name] = value
}

// mergeHeaders writes src over dst in sorted key order.
func mergeHeaders(dst, src map[string]string) {
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		setHeader(dst, k, src[k])
	}
}

// New selects the Strategy for doc.
func New(doc document.Document, opts Options) (Strategy, error) {
	opts.normalize()
	log := opts.Logger.WithComponent("dialect")
	opts.Logger = log

	switch d := doc.(type) {
	case *document.RESTDocument:
		if opts.BaseURL == "" {
			return nil, apierrors.NewConfigError("url", "REST documents need a base URL")
		}
		if d.Dialect() == document.Swagger2 {
			return newSwagger2(d, opts), nil
		}
		return newOpenAPI3(d, opts), nil
	case *document.WSDLDocument:
		return newWSDL(d, opts), nil
	case *document.ASMXDocument:
		return newASMX(d, opts), nil
	}
	return nil, apierrors.NewDocumentError("", "unsupported document type", nil)
}
