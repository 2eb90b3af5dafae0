// Package http sends probe requests and retrieves API documents.
package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PentesterFlow/APIFuzz/internal/dialect"
	"github.com/PentesterFlow/APIFuzz/internal/errors"
	"github.com/PentesterFlow/APIFuzz/internal/output"
)

// interceptionMarker identifies an interception proxy's own error page.
const interceptionMarker = "Burp Suite"

// Config holds configuration for the probe executor.
type Config struct {
	Timeout             time.Duration
	Proxy               string
	SkipTLSVerify       bool
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	// MaxBodySize caps how much of a response is read. Zero reads everything.
	MaxBodySize int64
	// SnippetLength is the number of characters of the response kept in results.
	SnippetLength int
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:             30 * time.Second,
		SkipTLSVerify:       true,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxBodySize:         10 * 1024 * 1024,
		SnippetLength:       200,
	}
}

// Executor sends probe requests. It never retries.
type Executor struct {
	client  *http.Client
	snippet int
	maxBody int64
}

// NewExecutor creates an executor. An unparsable proxy is a config error.
func NewExecutor(config Config) (*Executor, error) {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.SnippetLength <= 0 {
		config.SnippetLength = 200
	}

	proxy := http.ProxyFromEnvironment
	if config.Proxy != "" {
		u, err := ParseProxy(config.Proxy)
		if err != nil {
			return nil, err
		}
		proxy = http.ProxyURL(u)
	}

	transport := &http.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		MaxConnsPerHost:       config.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.SkipTLSVerify,
		},
	}

	return &Executor{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		snippet: config.SnippetLength,
		maxBody: config.MaxBodySize,
	}, nil
}

// ParseProxy parses a proxy address. A bare host:port is taken as http.
func ParseProxy(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, errors.NewConfigError("proxy", "invalid proxy address: "+raw)
	}
	return u, nil
}

// Send performs one probe. The result is always non-nil: a transport failure
// yields a result with status ERROR together with the categorized error.
func (e *Executor) Send(ctx context.Context, req *dialect.ProbeRequest) (*output.ProbeResult, error) {
	result := &output.ProbeResult{
		Index:          req.Endpoint,
		Method:         req.Method,
		URL:            FullURL(req),
		RequestHeaders: headersJSON(req.Headers),
		RequestBody:    req.BodyText(),
		Service:        req.Service,
		Operation:      req.Operation,
		Namespace:      req.Namespace,
	}

	httpReq, err := e.newRequest(ctx, req, result.URL)
	if err != nil {
		pe := errors.NewBuildError(result.URL, req.Operation, err)
		return fail(result, pe), pe
	}

	start := time.Now()
	resp, err := e.client.Do(httpReq)
	if err != nil {
		result.Elapsed = time.Since(start)
		pe := errors.Categorize(err, result.URL, "send")
		return fail(result, pe), pe
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if e.maxBody > 0 {
		reader = io.LimitReader(resp.Body, e.maxBody)
	}
	body, err := io.ReadAll(reader)
	length := int64(len(body))
	if err == nil && e.maxBody > 0 && length == e.maxBody {
		// only the first maxBody bytes are kept; the rest is still counted
		var rest int64
		rest, err = io.Copy(io.Discard, resp.Body)
		length += rest
	}
	result.Elapsed = time.Since(start)
	if err != nil {
		pe := errors.Categorize(err, result.URL, "read")
		return fail(result, pe), pe
	}

	result.Status = ClassifyStatus(resp.StatusCode, body)
	result.Length = int(length)
	result.ContentType = resp.Header.Get("Content-Type")
	result.ResponseHeaders = responseHeadersJSON(resp.Header)
	result.Snippet = snippet(body, e.snippet)
	return result, nil
}

// ClassifyStatus renders a response status, reclassifying an intercepted 200.
func ClassifyStatus(code int, body []byte) string {
	if code == http.StatusOK && bytes.Contains(body, []byte(interceptionMarker)) {
		return output.StatusIntercepted
	}
	return strconv.Itoa(code)
}

// FullURL returns the request URL with its query values applied.
func FullURL(req *dialect.ProbeRequest) string {
	if len(req.Query) == 0 {
		return req.URL
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return req.URL
	}
	q := u.Query()
	for k, vs := range req.Query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (e *Executor) newRequest(ctx context.Context, req *dialect.ProbeRequest, target string) (*http.Request, error) {
	var (
		body        io.Reader
		contentType string
	)
	switch {
	case len(req.Parts) > 0:
		buf, ct, err := encodeMultipart(req.Parts)
		if err != nil {
			return nil, err
		}
		body, contentType = buf, ct
	case req.Body != nil:
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(req.Headers))
	for k := range req.Headers {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if strings.EqualFold(k, "Host") {
			httpReq.Host = req.Headers[k]
			continue
		}
		httpReq.Header.Set(k, req.Headers[k])
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	return httpReq, nil
}

// encodeMultipart writes parts as multipart/form-data and returns the body with
// its boundary-carrying content type.
func encodeMultipart(parts []dialect.Part) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for _, p := range parts {
		if p.Filename == "" {
			if err := w.WriteField(p.Name, string(p.Data)); err != nil {
				return nil, "", err
			}
			continue
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+escapeQuotes(p.Name)+`"; filename="`+escapeQuotes(p.Filename)+`"`)
		ct := p.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		pw, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := pw.Write(p.Data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

func fail(result *output.ProbeResult, err *errors.ProbeError) *output.ProbeResult {
	result.Status = output.StatusError
	result.Error = errors.Simplify(rootMessage(err))
	result.ErrorKind = err.Kind.String()
	return result
}

// rootMessage is the message of the innermost cause, which is what the
// simplification rules match against.
func rootMessage(err *errors.ProbeError) string {
	if err.Cause != nil {
		return err.Cause.Error()
	}
	return err.Message
}

func headersJSON(h map[string]string) string {
	if h == nil {
		h = map[string]string{}
	}
	b, _ := json.Marshal(h)
	return string(b)
}

func responseHeadersJSON(h http.Header) string {
	flat := make(map[string]string, len(h))
	for k, vs := range h {
		flat[k] = strings.Join(vs, ", ")
	}
	b, _ := json.Marshal(flat)
	return string(b)
}

// snippet returns the first n characters of body as text.
func snippet(body []byte, n int) string {
	s := strings.ToValidUTF8(string(body), "�")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// Close releases idle connections.
func (e *Executor) Close() {
	e.client.CloseIdleConnections()
}
