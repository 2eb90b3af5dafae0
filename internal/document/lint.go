package document

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-openapi/loads"
	"github.com/go-openapi/spec"
)

// LintReport is the result of validating a REST document with a full OpenAPI
// library. Lint findings are advisory: probing proceeds regardless.
type LintReport struct {
	Warnings []string
	// Operations is the number of operations using a supported verb, as counted by
	// the library. Comparing it with the extracted endpoint count catches documents
	// the generic tree walk reads differently.
	Operations int
}

// Lint validates a REST document: OpenAPI 3 through kin-openapi, Swagger 2 through
// go-openapi/loads. Other dialects yield an empty report.
func Lint(ctx context.Context, doc Document) LintReport {
	rd, ok := doc.(*RESTDocument)
	if !ok {
		return LintReport{}
	}
	raw := rd.Raw
	if raw == nil {
		var err error
		if raw, err = json.Marshal(rd.Tree); err != nil {
			return LintReport{Warnings: []string{"cannot re-encode document: " + err.Error()}}
		}
	}
	if rd.Dialect() == Swagger2 {
		return lintSwagger2(rd.Tree)
	}
	return lintOpenAPI3(ctx, raw)
}

func lintOpenAPI3(ctx context.Context, raw []byte) LintReport {
	var rep LintReport

	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false
	loader.Context = ctx

	doc, err := loader.LoadFromData(raw)
	if err != nil {
		rep.Warnings = append(rep.Warnings, "openapi3 load: "+err.Error())
		return rep
	}
	if err := doc.Validate(loader.Context); err != nil {
		rep.Warnings = append(rep.Warnings, "openapi3 validate: "+err.Error())
	}
	if doc.Paths == nil {
		return rep
	}
	for _, item := range doc.Paths.Map() {
		for method := range item.Operations() {
			if SupportedMethod(method) {
				rep.Operations++
			}
		}
	}
	return rep
}

func lintSwagger2(tree map[string]any) LintReport {
	var rep LintReport

	raw, err := json.Marshal(tree)
	if err != nil {
		rep.Warnings = append(rep.Warnings, "swagger2 encode: "+err.Error())
		return rep
	}
	doc, err := loads.Analyzed(json.RawMessage(raw), "")
	if err != nil {
		rep.Warnings = append(rep.Warnings, "swagger2 load: "+err.Error())
		return rep
	}
	sw := doc.Spec()
	if sw.Swagger != "2.0" {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("swagger2: version field is %q", sw.Swagger))
	}
	if sw.Paths == nil || len(sw.Paths.Paths) == 0 {
		rep.Warnings = append(rep.Warnings, "swagger2: document declares no paths")
		return rep
	}
	for _, item := range sw.Paths.Paths {
		for _, op := range []*spec.Operation{item.Get, item.Post, item.Put, item.Delete, item.Patch, item.Head, item.Options} {
			if op != nil {
				rep.Operations++
			}
		}
	}
	return rep
}

// Methods are the supported HTTP verbs in extraction order.
var Methods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"}

// SupportedMethod reports whether m (upper case) is one of Methods.
func SupportedMethod(m string) bool {
	for _, s := range Methods {
		if s == m {
			return true
		}
	}
	return false
}
