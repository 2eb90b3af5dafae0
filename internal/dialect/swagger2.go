package dialect

import (
	"context"
	"strings"

	"github.com/PentesterFlow/APIFuzz/internal/document"
	"github.com/PentesterFlow/APIFuzz/internal/schema"
)

type swagger2 struct {
	restBase
	consumes []string
}

func newSwagger2(doc *document.RESTDocument, opts Options) *swagger2 {
	s := &swagger2{restBase: newRESTBase(doc, opts, schema.DefinitionsPrefix)}
	if bp := str(doc.Tree["basePath"]); bp != "" && bp != "/" {
		s.prefix = "/" + strings.Trim(bp, "/")
	}
	s.consumes = stringList(doc.Tree["consumes"])
	return s
}

func (*swagger2) Dialect() document.Dialect { return document.Swagger2 }

func (s *swagger2) Extract(ctx context.Context) ([]Endpoint, error) {
	return s.extract(ctx)
}

func (s *swagger2) Build(ep Endpoint) ([]*ProbeRequest, error) {
	return s.build(ep, s.body)
}

// contentType is the first of the operation's consumes, else the document's,
// else application/json.
func (s *swagger2) contentType(op *RESTOperation) string {
	if c := stringList(op.Object["consumes"]); len(c) > 0 {
		return c[0]
	}
	if len(s.consumes) > 0 {
		return s.consumes[0]
	}
	return "application/json"
}

func (s *swagger2) body(op *RESTOperation, req *ProbeRequest) error {
	var (
		bodyParams []map[string]any
		formParams []map[string]any
	)
	for _, p := range op.Parameters {
		p = s.resolveParam(p)
		switch str(p["in"]) {
		case "body":
			bodyParams = append(bodyParams, p)
		case "formData":
			formParams = append(formParams, p)
		}
	}

	ct := s.contentType(op)
	switch {
	case len(bodyParams) == 1:
		return s.encode(ct, s.paramValue(bodyParams[0]), req)
	case len(bodyParams) > 1:
		merged := make(map[string]any, len(bodyParams))
		for _, p := range bodyParams {
			name := str(p["name"])
			if name == "" {
				name = "param"
			}
			merged[name] = s.paramValue(p)
		}
		return s.encode(ct, merged, req)
	case len(formParams) > 0:
		return s.formBody(ct, formParams, req)
	}

	// Documents mixing in OpenAPI 3 style request bodies.
	if rb, ok := op.Object["requestBody"].(map[string]any); ok {
		if content, ok := rb["content"].(map[string]any); ok && len(content) > 0 {
			return s.encodeContent(content, req)
		}
	}
	defaultPayload().apply(req)
	return nil
}

// formBody encodes formData parameters. The declared type is kept when it is a
// form type; otherwise file parameters force multipart and the rest are
// url-encoded.
func (s *swagger2) formBody(ct string, params []map[string]any, req *ProbeRequest) error {
	fields := make(map[string]any, len(params))
	hasFile := false
	for _, p := range params {
		if str(p["type"]) == "file" {
			fields[str(p["name"])] = s.opts.Synth.Bytes("binary")
			hasFile = true
			continue
		}
		fields[str(p["name"])] = s.paramValue(p)
	}

	switch mediaType(ct) {
	case "multipart/form-data", "application/x-www-form-urlencoded":
	default:
		ct = "application/x-www-form-urlencoded"
		if hasFile {
			ct = "multipart/form-data"
		}
	}
	return s.encode(ct, fields, req)
}

func (s *swagger2) encode(ct string, mock any, req *ProbeRequest) error {
	p, err := encodeBody(ct, mock, s.opts.Synth)
	if err != nil {
		return err
	}
	p.apply(req)
	return nil
}

func stringList(v any) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
