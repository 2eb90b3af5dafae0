package dialect

import (
	"context"
	"strings"

	"github.com/PentesterFlow/APIFuzz/internal/document"
	"github.com/PentesterFlow/APIFuzz/internal/schema"
)

type openAPI3 struct {
	restBase
}

func newOpenAPI3(doc *document.RESTDocument, opts Options) *openAPI3 {
	return &openAPI3{restBase: newRESTBase(doc, opts, schema.ComponentsPrefix)}
}

func (*openAPI3) Dialect() document.Dialect { return document.OpenAPI3 }

func (s *openAPI3) Extract(ctx context.Context) ([]Endpoint, error) {
	return s.extract(ctx)
}

func (s *openAPI3) Build(ep Endpoint) ([]*ProbeRequest, error) {
	return s.build(ep, s.body)
}

func (s *openAPI3) body(op *RESTOperation, req *ProbeRequest) error {
	rb := s.requestBody(op.Object["requestBody"])
	content, _ := rb["content"].(map[string]any)
	if len(content) == 0 {
		defaultPayload().apply(req)
		return nil
	}
	return s.encodeContent(content, req)
}

// encodeContent encodes the schema of the first declared content type.
func (b *restBase) encodeContent(content map[string]any, req *ProbeRequest) error {
	ct := b.doc.Keys(content)[0]
	media, _ := content[ct].(map[string]any)
	sch, _ := media["schema"].(map[string]any)
	p, err := encodeBody(ct, b.Expand(sch), b.opts.Synth)
	if err != nil {
		return err
	}
	p.apply(req)
	return nil
}

// requestBody resolves a requestBody that may be a components reference.
func (s *openAPI3) requestBody(v any) map[string]any {
	rb, _ := v.(map[string]any)
	ref, ok := rb["$ref"].(string)
	if !ok || !strings.HasPrefix(ref, "#/components/requestBodies/") {
		return rb
	}
	comps := s.doc.Map("components")
	bodies, _ := comps["requestBodies"].(map[string]any)
	resolved, _ := bodies[strings.TrimPrefix(ref, "#/components/requestBodies/")].(map[string]any)
	return resolved
}
