package dialect

import (
	"context"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PentesterFlow/APIFuzz/internal/document"
	apierrors "github.com/PentesterFlow/APIFuzz/internal/errors"
	"github.com/PentesterFlow/APIFuzz/internal/logger"
	"github.com/PentesterFlow/APIFuzz/internal/schema"
)

// RESTOperation is the Ref of OpenAPI 3 and Swagger 2 endpoints.
type RESTOperation struct {
	Path   string
	Method string
	// Object is the operation object as found in the document.
	Object map[string]any
	// Parameters merges path-level and operation-level parameters; the operation
	// wins on (in, name) collisions.
	Parameters []map[string]any
}

// ID returns operationId, or "METHOD path".
func (o *RESTOperation) ID() string {
	if id, ok := o.Object["operationId"].(string); ok && id != "" {
		return id
	}
	return o.Method + " " + o.Path
}

// paramsIn returns the parameters declared in the given location.
func (o *RESTOperation) paramsIn(in string) []map[string]any {
	var out []map[string]any
	for _, p := range o.Parameters {
		if str(p["in"]) == in {
			out = append(out, p)
		}
	}
	return out
}

// restBase holds what both REST dialects share.
type restBase struct {
	doc    *document.RESTDocument
	opts   Options
	walker *schema.Walker
	defs   map[string]any
	log    *logger.Logger
	// prefix is joined between the base URL and each path.
	prefix string
}

func newRESTBase(doc *document.RESTDocument, opts Options, refPrefix string) restBase {
	w := schema.New(opts.Synth, refPrefix)
	w.MaxProperties = opts.MaxProperties
	w.Keys = doc.Keys
	return restBase{
		doc:    doc,
		opts:   opts,
		walker: w,
		defs:   doc.Definitions(),
		log:    opts.Logger,
	}
}

// Expand turns a schema into a value tree.
func (b *restBase) Expand(s map[string]any) any {
	return b.walker.Expand(s, b.defs)
}

// extract walks paths in lexical order and methods in document.Methods order.
func (b *restBase) extract(ctx context.Context) ([]Endpoint, error) {
	paths := b.doc.Map("paths")
	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var eps []Endpoint
	for _, path := range keys {
		if err := ctx.Err(); err != nil {
			return nil, apierrors.NewCancelledError("", "extract")
		}
		item, ok := paths[path].(map[string]any)
		if !ok {
			continue
		}
		shared := paramList(item["parameters"])
		for _, method := range document.Methods {
			obj, ok := item[strings.ToLower(method)].(map[string]any)
			if !ok {
				continue
			}
			op := &RESTOperation{
				Path:       path,
				Method:     method,
				Object:     obj,
				Parameters: mergeParams(shared, paramList(obj["parameters"])),
			}
			eps = append(eps, Endpoint{
				Index:     len(eps),
				Method:    method,
				Path:      path,
				Operation: op.ID(),
				Ref:       op,
			})
		}
	}

	b.log.Debugf("extracted %d operations from %d paths", len(eps), len(keys))
	return eps, nil
}

func paramList(v any) []map[string]any {
	list, _ := v.([]any)
	out := make([]map[string]any, 0, len(list))
	for _, p := range list {
		if m, ok := p.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func mergeParams(shared, own []map[string]any) []map[string]any {
	key := func(p map[string]any) string { return str(p["in"]) + "\x00" + str(p["name"]) }
	seen := make(map[string]bool, len(own))
	for _, p := range own {
		seen[key(p)] = true
	}
	out := make([]map[string]any, 0, len(shared)+len(own))
	for _, p := range shared {
		if !seen[key(p)] {
			out = append(out, p)
		}
	}
	return append(out, own...)
}

// resolveParam follows a parameter $ref into the document.
func (b *restBase) resolveParam(p map[string]any) map[string]any {
	ref, ok := p["$ref"].(string)
	if !ok {
		return p
	}
	var container map[string]any
	switch {
	case strings.HasPrefix(ref, "#/components/parameters/"):
		if comps := b.doc.Map("components"); comps != nil {
			container, _ = comps["parameters"].(map[string]any)
		}
	case strings.HasPrefix(ref, "#/parameters/"):
		container = b.doc.Map("parameters")
	}
	name := ref[strings.LastIndex(ref, "/")+1:]
	if resolved, ok := container[name].(map[string]any); ok {
		return resolved
	}
	return p
}

// paramValue synthesizes a value for one parameter. Parameters with a schema go
// through the walker; a schema without any type information is a string.
func (b *restBase) paramValue(p map[string]any) any {
	if s, ok := p["schema"].(map[string]any); ok {
		return b.Expand(stringByDefault(s))
	}
	typ := str(p["type"])
	if typ == "" {
		typ = "string"
	}
	items, _ := p["items"].(map[string]any)
	enum, _ := p["enum"].([]any)
	return b.opts.Synth.Value(typ, str(p["format"]), items, enum)
}

func stringByDefault(s map[string]any) map[string]any {
	for _, k := range []string{"type", "$ref", "allOf", "oneOf", "anyOf", "properties", "items"} {
		if _, ok := s[k]; ok {
			return s
		}
	}
	cp := make(map[string]any, len(s)+1)
	for k, v := range s {
		cp[k] = v
	}
	cp["type"] = "string"
	return cp
}

var placeholder = regexp.MustCompile(`\{([^}]+)\}`)

// bodyFunc fills the body of a POST, PUT, PATCH or DELETE request.
type bodyFunc func(op *RESTOperation, req *ProbeRequest) error

// build applies the REST request rules shared by both dialects.
func (b *restBase) build(ep Endpoint, body bodyFunc) ([]*ProbeRequest, error) {
	op, ok := ep.Ref.(*RESTOperation)
	if !ok {
		return nil, apierrors.NewBuildError(ep.Path, ep.Operation, errUnexpectedRef)
	}

	req := &ProbeRequest{
		Endpoint:  ep.Index,
		Method:    op.Method,
		Headers:   map[string]string{"User-Agent": UserAgent},
		Query:     url.Values{},
		Operation: op.ID(),
	}

	params := make([]map[string]any, 0, len(op.Parameters))
	for _, p := range op.Parameters {
		params = append(params, b.resolveParam(p))
	}

	pathValues := map[string]string{}
	for _, p := range params {
		if str(p["in"]) == "path" {
			pathValues[str(p["name"])] = url.PathEscape(Stringify(b.paramValue(p)))
		}
	}
	path := placeholder.ReplaceAllStringFunc(b.prefix+op.Path, func(m string) string {
		name := m[1 : len(m)-1]
		if v, ok := pathValues[name]; ok {
			return v
		}
		return url.PathEscape(Stringify(b.opts.Synth.Value("string", "", nil, nil)))
	})
	req.URL = strings.TrimRight(b.opts.BaseURL, "/") + path

	paramHeaders := map[string]string{}
	switch op.Method {
	case "HEAD", "OPTIONS":
		for _, p := range params {
			if str(p["in"]) == "header" && p["required"] == true {
				paramHeaders[str(p["name"])] = Stringify(b.paramValue(p))
			}
		}
	default:
		for _, p := range params {
			switch str(p["in"]) {
			case "query":
				addQuery(req.Query, str(p["name"]), b.paramValue(p))
			case "header":
				paramHeaders[str(p["name"])] = Stringify(b.paramValue(p))
			}
		}
		switch op.Method {
		case "GET":
			for _, p := range params {
				if str(p["in"]) != "body" {
					continue
				}
				name := str(p["name"])
				if name == "" {
					name = "param"
				}
				v := b.paramValue(p)
				if m, ok := v.(map[string]any); ok {
					for k, mv := range m {
						addQuery(req.Query, k, mv)
					}
				} else {
					addQuery(req.Query, name, v)
				}
			}
		case "POST", "PUT", "PATCH", "DELETE":
			if err := body(op, req); err != nil {
				return nil, apierrors.NewBuildError(req.URL, req.Operation, err)
			}
		}
	}

	if req.ContentType != "" {
		req.Headers["Content-Type"] = req.ContentType
	}
	mergeHeaders(req.Headers, paramHeaders)
	mergeHeaders(req.Headers, b.opts.Headers)
	return []*ProbeRequest{req}, nil
}

func addQuery(q url.Values, name string, v any) {
	if list, ok := v.([]any); ok {
		for _, item := range list {
			q.Add(name, Stringify(item))
		}
		return
	}
	q.Set(name, Stringify(v))
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
