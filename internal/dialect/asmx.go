package dialect

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/PentesterFlow/APIFuzz/internal/document"
	apierrors "github.com/PentesterFlow/APIFuzz/internal/errors"
	"github.com/PentesterFlow/APIFuzz/internal/logger"
	"github.com/PentesterFlow/APIFuzz/internal/parser"
)

// DiscoveryMethod is one way of finding operation names on an ASMX help page.
type DiscoveryMethod int

const (
	DiscoverHeadings DiscoveryMethod = iota
	DiscoverBullets
	DiscoverListLinks
	DiscoverCells
	DiscoverQuery
)

// DefaultDiscovery is the order methods are tried in; the first one that finds
// anything wins.
var DefaultDiscovery = []DiscoveryMethod{
	DiscoverHeadings, DiscoverBullets, DiscoverListLinks, DiscoverCells, DiscoverQuery,
}

var discoveryNames = map[DiscoveryMethod]string{
	DiscoverHeadings:  "headings",
	DiscoverBullets:   "bullets",
	DiscoverListLinks: "links",
	DiscoverCells:     "cells",
	DiscoverQuery:     "query",
}

func (m DiscoveryMethod) String() string {
	if s, ok := discoveryNames[m]; ok {
		return s
	}
	return "unknown"
}

// ParseDiscoveryMethod parses a method name as printed by String.
func ParseDiscoveryMethod(s string) (DiscoveryMethod, error) {
	for m, name := range discoveryNames {
		if strings.EqualFold(s, name) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown discovery method %q", s)
}

// Labels that are page furniture rather than operation names, per method.
var (
	headingSkip  = skipSet("test", "soap 1.1", "soap 1.2", "http get", "http post")
	bulletSkip   = skipSet("service description", "wsdl", "服务说明", "operation", "description")
	listLinkSkip = skipSet("service description", "wsdl", "服务说明")
	cellSkip     = skipSet("operation", "description", "service description", "wsdl", "操作", "描述", "服务说明")
)

func skipSet(labels ...string) map[string]bool {
	m := make(map[string]bool, len(labels))
	for _, l := range labels {
		m[l] = true
	}
	return m
}

var bulletLine = regexp.MustCompile(`(?m)^[ \t]*[*-][ \t]+(\S[^\r\n]*)$`)

// DiscoverOperations finds operation names on a help page using methods in
// order. Names are deduplicated and must be longer than one character.
func DiscoverOperations(page *parser.Page, raw, serviceURL string, methods []DiscoveryMethod) []string {
	var found []string
	for _, m := range methods {
		switch m {
		case DiscoverHeadings:
			found = filterLabels(page.Headings, headingSkip)
		case DiscoverBullets:
			var lines []string
			for _, match := range bulletLine.FindAllStringSubmatch(raw, -1) {
				lines = append(lines, match[1])
			}
			found = filterLabels(lines, bulletSkip)
		case DiscoverListLinks:
			found = filterLabels(page.ListLinks, listLinkSkip)
		case DiscoverCells:
			found = filterLabels(page.Cells, cellSkip)
		case DiscoverQuery:
			if op := parser.OperationFromURL(serviceURL); op != "unknown" {
				found = []string{op}
			}
		}
		if len(found) > 0 {
			break
		}
	}

	seen := make(map[string]bool, len(found))
	out := make([]string, 0, len(found))
	for _, name := range found {
		if utf8.RuneCountInString(name) <= 1 || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func filterLabels(labels []string, skip map[string]bool) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l != "" && !skip[strings.ToLower(l)] {
			out = append(out, l)
		}
	}
	return out
}

// ASMXOperation is the Ref of ASMX endpoints.
type ASMXOperation struct {
	Name       string
	ServiceURL string
	// Page is the operation's detail page, or the index page when the detail
	// page could not be fetched.
	Page      string
	HasDetail bool
	// Namespace is the namespace declared by the service's pages.
	Namespace string
}

type asmxStrategy struct {
	doc     *document.ASMXDocument
	opts    Options
	values  *soapValues
	breaker *apierrors.CircuitBreaker
	log     *logger.Logger
	fetch   *logger.Logger
}

func newASMX(doc *document.ASMXDocument, opts Options) *asmxStrategy {
	if opts.ServiceURL == "" {
		opts.ServiceURL = doc.URL
	}
	cb := opts.Breaker
	if cb == nil {
		cb = apierrors.NewCircuitBreaker(apierrors.DefaultCircuitBreakerConfig())
	}
	return &asmxStrategy{
		doc:     doc,
		opts:    opts,
		values:  newSOAPValues(opts.Synth, nil),
		breaker: cb,
		log:     opts.Logger,
		fetch:   opts.Logger.WithComponent("fetch"),
	}
}

func (*asmxStrategy) Dialect() document.Dialect { return document.ASMX }

// Extract discovers operations on the index page and fetches their detail pages.
// Detail fetch failures leave the operation with the index page only.
func (s *asmxStrategy) Extract(ctx context.Context) ([]Endpoint, error) {
	p, err := parser.NewHTMLParser(s.opts.ServiceURL)
	if err != nil {
		return nil, apierrors.NewConfigError("url", "invalid service URL: "+s.opts.ServiceURL)
	}
	page, err := p.Parse(s.doc.HTML)
	if err != nil {
		return nil, apierrors.NewDocumentError(s.opts.ServiceURL, "cannot parse ASMX page", err)
	}

	names := DiscoverOperations(page, s.doc.HTML, s.opts.ServiceURL, s.opts.Discovery)
	details, first := s.fetchDetails(ctx, page.OperationLinks)
	if err := ctx.Err(); err != nil {
		return nil, apierrors.NewCancelledError(s.opts.ServiceURL, "extract")
	}

	nsSource := first
	if nsSource == "" {
		nsSource = s.doc.HTML
	}
	ns := PageNamespace(nsSource)

	eps := make([]Endpoint, 0, len(names))
	for _, name := range names {
		ref := &ASMXOperation{
			Name:       name,
			ServiceURL: s.opts.ServiceURL,
			Page:       s.doc.HTML,
			Namespace:  ns,
		}
		if d, ok := details[name]; ok {
			ref.Page, ref.HasDetail = d, true
		}
		eps = append(eps, Endpoint{
			Index:     len(eps),
			Method:    "POST",
			Path:      s.opts.ServiceURL,
			Operation: name,
			Ref:       ref,
		})
	}
	s.log.Debugf("discovered %d ASMX operations, %d detail pages", len(eps), len(details))
	return eps, nil
}

// fetchDetails retrieves detail pages with bounded concurrency. It returns the
// pages by operation and the first page retrieved in link order.
func (s *asmxStrategy) fetchDetails(ctx context.Context, links []parser.OperationLink) (map[string]string, string) {
	details := make(map[string]string)
	if s.opts.Fetcher == nil || len(links) == 0 {
		return details, ""
	}

	pages := make([]string, len(links))
	var g errgroup.Group
	g.SetLimit(s.opts.DetailConcurrency)
	for i, link := range links {
		g.Go(func() error {
			pages[i] = s.fetchDetail(ctx, link.URL)
			return nil
		})
	}
	_ = g.Wait()

	first := ""
	for i, link := range links {
		if pages[i] == "" {
			continue
		}
		if _, dup := details[link.Operation]; !dup {
			details[link.Operation] = pages[i]
		}
		if first == "" {
			first = pages[i]
		}
	}
	return details, first
}

func (s *asmxStrategy) fetchDetail(ctx context.Context, u string) string {
	var body []byte
	err := s.breaker.Execute(func() error {
		fctx, cancel := context.WithTimeout(ctx, s.opts.DetailTimeout)
		defer cancel()
		b, err := s.opts.Fetcher.Fetch(fctx, u)
		body = b
		return err
	})
	if err != nil {
		s.fetch.Event(logger.WarnLevel).Str("url", u).Str("result", "failed").Err(err).Msg("detail page")
		return ""
	}
	s.fetch.Event(logger.DebugLevel).Str("url", u).Str("result", "success").Msg("detail page")
	return string(body)
}

var (
	xmlnsAttr      = regexp.MustCompile(`xmlns="([^"]+)"`)
	namespaceAttr  = regexp.MustCompile(`(?i)Namespace="([^"]+)"`)
	namespaceLabel = []*regexp.Regexp{
		regexp.MustCompile(`(?i)命名空间[：:]\s*(\S+)`),
		regexp.MustCompile(`(?i)namespace[：:]\s*(\S+)`),
	}
)

const xhtmlNamespace = "http://www.w3.org/1999/xhtml"

// PageNamespace finds the service namespace on a help page: an xmlns attribute
// in the SOAP sample, the tempuri literal, a Namespace attribute or label, else
// tempuri.
func PageNamespace(content string) string {
	text := html.UnescapeString(content)

	for _, m := range xmlnsAttr.FindAllStringSubmatch(text, -1) {
		if m[1] != xhtmlNamespace {
			return m[1]
		}
	}
	if strings.Contains(text, tempuri) {
		return tempuri
	}
	if m := namespaceAttr.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	for _, re := range namespaceLabel {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return tempuri
}

// FallbackNamespace derives "scheme://host/<service>/" from the service URL,
// where service is the last path segment without its extension.
func FallbackNamespace(serviceURL string) string {
	u, err := url.Parse(serviceURL)
	if err != nil {
		return tempuri
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}
	base := u.Path[strings.LastIndex(u.Path, "/")+1:]
	service := strings.TrimSuffix(base, path.Ext(base))
	if service == "" {
		service = "Service"
	}
	return fmt.Sprintf("%s://%s/%s/", scheme, u.Hostname(), service)
}

// HostHeader returns the Host value for serviceURL with an explicit port.
func HostHeader(serviceURL string) string {
	u, err := url.Parse(serviceURL)
	if err != nil || u.Host == "" {
		return serviceURL
	}
	if u.Port() != "" {
		return u.Host
	}
	if u.Scheme == "https" {
		return u.Host + ":443"
	}
	return u.Host + ":80"
}

// Build returns the page-namespace request and, when enabled and the URL-derived
// namespace differs, a second request using that namespace.
func (s *asmxStrategy) Build(ep Endpoint) ([]*ProbeRequest, error) {
	op, ok := ep.Ref.(*ASMXOperation)
	if !ok {
		return nil, apierrors.NewBuildError(ep.Path, ep.Operation, errUnexpectedRef)
	}

	params := s.params(op)
	reqs := []*ProbeRequest{s.request(ep, op, params, op.Namespace)}
	if s.opts.DualNamespace {
		fb := FallbackNamespace(op.ServiceURL)
		if strings.TrimRight(op.Namespace, "/") != strings.TrimRight(fb, "/") {
			reqs = append(reqs, s.request(ep, op, params, fb))
		}
	}
	return reqs, nil
}

func (s *asmxStrategy) request(ep Endpoint, op *ASMXOperation, params []soapParam, ns string) *ProbeRequest {
	req := &ProbeRequest{
		Endpoint:    ep.Index,
		Method:      "POST",
		URL:         op.ServiceURL,
		ContentType: "text/xml; charset=utf-8",
		Headers: map[string]string{
			"Content-Type": "text/xml; charset=utf-8",
			"SOAPAction":   `"` + ns + op.Name + `"`,
			"Host":         HostHeader(op.ServiceURL),
			"User-Agent":   UserAgent,
		},
		Body:      []byte(asmxEnvelope(SanitizeOperation(op.Name), ns, params)),
		Service:   s.doc.ServiceName,
		Operation: op.Name,
		Namespace: ns,
	}
	mergeHeaders(req.Headers, s.opts.Headers)
	return req
}

type soapParam struct {
	Name  string
	Value string
}

// Expand returns the ASCII element text for a parameter descriptor whose type
// is a help-page label. Unknown labels are strings.
func (s *asmxStrategy) Expand(schema map[string]any) any {
	return asciiValue(s.values.forLabel(str(schema["type"])))
}

func (s *asmxStrategy) param(name, label string) soapParam {
	v, _ := s.Expand(paramSchema(name, label)).(string)
	return soapParam{Name: name, Value: v}
}

func asmxEnvelope(op, ns string, params []soapParam) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	b.WriteString(`<soap:Envelope xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"` + "\n")
	b.WriteString(`               xmlns:xsd="http://www.w3.org/2001/XMLSchema"` + "\n")
	b.WriteString(`               xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">` + "\n")
	b.WriteString("  <soap:Body>\n")
	fmt.Fprintf(&b, "    <%s xmlns=\"%s\">\n", op, ns)
	for _, p := range params {
		fmt.Fprintf(&b, "      <%s>%s</%s>\n", p.Name, p.Value, p.Name)
	}
	fmt.Fprintf(&b, "    </%s>\n", op)
	b.WriteString("  </soap:Body>\n</soap:Envelope>")
	return b.String()
}

// SanitizeOperation returns op when it is ASCII, otherwise a stand-in element
// name chosen from keywords in op.
func SanitizeOperation(op string) string {
	if isASCII(op) {
		return op
	}
	lower := strings.ToLower(op)
	switch {
	case strings.Contains(op, "参数"):
		return "parameters"
	case strings.Contains(lower, "username"):
		return "username"
	case strings.Contains(lower, "download"):
		return "download"
	case strings.Contains(lower, "create"):
		return "create"
	case strings.Contains(lower, "user"):
		return "user"
	}
	return "operation"
}

func asciiValue(v string) string {
	if isASCII(v) {
		return v
	}
	return "test_value"
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// operationParams maps operation-name keywords to likely parameters. The first
// keyword contained in the lowercased name wins.
var operationParams = []struct {
	keyword string
	params  []string
}{
	{"debug", []string{"debug", "level", "message"}},
	{"download", []string{"filename", "path", "url"}},
	{"execute", []string{"command", "sql", "script"}},
	{"get", []string{"id", "name", "key", "path"}},
	{"user", []string{"username", "password", "email"}},
	{"file", []string{"filename", "path", "content"}},
	{"log", []string{"message", "level", "timestamp"}},
}

var (
	sampleChild = regexp.MustCompile(`<([A-Za-z_][\w.\-]*)>([^<]*)</([A-Za-z_][\w.\-]*)>`)
	typeLabel   = regexp.MustCompile(`(?i)<font[^>]*color="#FF00FF"[^>]*>([^<]+)</font>\s+([^:<]+):([^<]*)`)
)

// params recovers the operation's parameters from its page: the SOAP request
// sample, then form inputs, then typed labels, then name keywords, then two
// generic parameters.
func (s *asmxStrategy) params(op *ASMXOperation) []soapParam {
	text := html.UnescapeString(op.Page)

	if ps := s.sampleParams(op.Name, text); len(ps) > 0 {
		return ps
	}
	if ps := s.inputParams(op); len(ps) > 0 {
		return ps
	}

	var ps []soapParam
	for _, m := range typeLabel.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(m[2])
		if name == "" || name == "返回值" {
			continue
		}
		ps = append(ps, s.param(name, m[1]))
	}
	if len(ps) > 0 {
		return ps
	}

	lower := strings.ToLower(op.Name)
	for _, rule := range operationParams {
		if !strings.Contains(lower, rule.keyword) {
			continue
		}
		for _, name := range rule.params {
			ps = append(ps, s.param(name, "string"))
		}
		return ps
	}

	return []soapParam{s.param("param1", "string"), s.param("param2", "string")}
}

// sampleParams reads "<name>type</name>" children of the operation element in
// the page's SOAP request sample.
func (s *asmxStrategy) sampleParams(op, text string) []soapParam {
	q := regexp.QuoteMeta(op)
	re, err := regexp.Compile(`(?is)<` + q + `\s[^>]*?xmlns="[^"]*"\s*>(.*?)</` + q + `\s*>`)
	if err != nil {
		return nil
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	var ps []soapParam
	for _, c := range sampleChild.FindAllStringSubmatch(m[1], -1) {
		typ := strings.TrimSpace(c[2])
		if c[1] != c[3] || typ == "" {
			continue
		}
		ps = append(ps, s.param(c[1], typ))
	}
	return ps
}

func (s *asmxStrategy) inputParams(op *ASMXOperation) []soapParam {
	p, err := parser.NewHTMLParser(op.ServiceURL)
	if err != nil {
		return nil
	}
	page, err := p.Parse(op.Page)
	if err != nil {
		return nil
	}
	var ps []soapParam
	for _, in := range page.Inputs {
		switch strings.ToLower(in.Name) {
		case "submit", "button":
			continue
		}
		if in.Type == "submit" || in.Type == "button" {
			continue
		}
		ps = append(ps, s.param(in.Name, "string"))
	}
	return ps
}
