package dialect

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/PentesterFlow/APIFuzz/internal/document"
	"github.com/PentesterFlow/APIFuzz/internal/synth"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.BaseURL = "http://api.local"
	opts.Synth = synth.New(synth.FixedPicker(0))
	return opts
}

func mustStrategy(t *testing.T, doc document.Document, opts Options) Strategy {
	t.Helper()
	s, err := New(doc, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func buildOne(t *testing.T, s Strategy, ep Endpoint) *ProbeRequest {
	t.Helper()
	reqs, err := s.Build(ep)
	if err != nil {
		t.Fatalf("Build(%s %s) error = %v", ep.Method, ep.Path, err)
	}
	if len(reqs) != 1 {
		t.Fatalf("Build(%s %s) = %d requests, want 1", ep.Method, ep.Path, len(reqs))
	}
	return reqs[0]
}

func findEndpoint(t *testing.T, eps []Endpoint, method, path string) Endpoint {
	t.Helper()
	for _, ep := range eps {
		if ep.Method == method && ep.Path == path {
			return ep
		}
	}
	t.Fatalf("endpoint %s %s not extracted", method, path)
	return Endpoint{}
}

func usersDoc() *document.RESTDocument {
	return document.NewRESTDocument(document.OpenAPI3, map[string]any{
		"openapi": "3.0.0",
		"paths": map[string]any{
			"/users/{id}": map[string]any{
				"get": map[string]any{
					"operationId": "getUser",
					"parameters": []any{
						map[string]any{"name": "id", "in": "path", "required": true, "schema": map[string]any{"type": "integer"}},
					},
				},
			},
			"/users": map[string]any{
				"post": map[string]any{
					"requestBody": map[string]any{
						"content": map[string]any{
							"application/json": map[string]any{
								"schema": map[string]any{
									"type": "object",
									"properties": map[string]any{
										"name": map[string]any{"type": "string"},
										"age":  map[string]any{"type": "integer"},
									},
								},
							},
						},
					},
				},
			},
		},
	})
}

// ============================================================================
// Extraction Tests
// ============================================================================

func TestOpenAPI3_UsersScenario(t *testing.T) {
	s := mustStrategy(t, usersDoc(), testOptions())

	eps, err := s.Extract(context.Background())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(eps) != 2 {
		t.Fatalf("Extract() = %d endpoints, want 2", len(eps))
	}
	for i, ep := range eps {
		if ep.Index != i {
			t.Errorf("eps[%d].Index = %d", i, ep.Index)
		}
	}

	get := buildOne(t, s, findEndpoint(t, eps, "GET", "/users/{id}"))
	if get.URL != "http://api.local/users/1" {
		t.Errorf("GET URL = %q, want http://api.local/users/1", get.URL)
	}
	if get.Body != nil {
		t.Errorf("GET body = %q, want none", get.Body)
	}
	if get.Operation != "getUser" {
		t.Errorf("GET Operation = %q, want getUser", get.Operation)
	}

	post := buildOne(t, s, findEndpoint(t, eps, "POST", "/users"))
	if post.ContentType != "application/json" {
		t.Errorf("POST ContentType = %q", post.ContentType)
	}
	body := gjson.ParseBytes(post.Body)
	if body.Get("name").Type != gjson.String {
		t.Errorf("name = %v, want a string", body.Get("name"))
	}
	if age := body.Get("age"); age.Type != gjson.Number || float64(age.Int()) != age.Num {
		t.Errorf("age = %v, want an integer", age)
	}
	if n := len(body.Map()); n != 2 {
		t.Errorf("body has %d keys, want 2", n)
	}
	if post.Operation != "POST /users" {
		t.Errorf("POST Operation = %q, want POST /users", post.Operation)
	}
}

func TestExtract_SupportedVerbsOnly(t *testing.T) {
	ops := map[string]any{}
	for _, m := range []string{"get", "post", "put", "delete", "patch", "head", "options", "trace", "connect"} {
		ops[m] = map[string]any{}
	}
	ops["parameters"] = []any{}
	doc := document.NewRESTDocument(document.OpenAPI3, map[string]any{
		"openapi": "3.0.0",
		"paths":   map[string]any{"/a": ops, "/b": map[string]any{"get": map[string]any{}}},
	})
	s := mustStrategy(t, doc, testOptions())

	eps, err := s.Extract(context.Background())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(eps) != 8 {
		t.Fatalf("Extract() = %d endpoints, want 8", len(eps))
	}
	want := []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"}
	for i, m := range want {
		if eps[i].Method != m || eps[i].Path != "/a" {
			t.Errorf("eps[%d] = %s %s, want %s /a", i, eps[i].Method, eps[i].Path, m)
		}
	}
}

func TestExtract_Cancelled(t *testing.T) {
	s := mustStrategy(t, usersDoc(), testOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Extract(ctx); err == nil {
		t.Error("Extract() with cancelled context should fail")
	}
}

func TestNew_RequiresBaseURL(t *testing.T) {
	opts := testOptions()
	opts.BaseURL = ""
	if _, err := New(usersDoc(), opts); err == nil {
		t.Error("New() without base URL should fail for REST documents")
	}
}

// ============================================================================
// Request Rule Tests
// ============================================================================

func paramDoc(method string, params []any, extra map[string]any) *document.RESTDocument {
	op := map[string]any{"parameters": params}
	for k, v := range extra {
		op[k] = v
	}
	return document.NewRESTDocument(document.OpenAPI3, map[string]any{
		"openapi": "3.0.0",
		"paths":   map[string]any{"/items/{itemId}": map[string]any{method: op}},
	})
}

var itemParams = []any{
	map[string]any{"name": "itemId", "in": "path", "schema": map[string]any{"type": "string"}},
	map[string]any{"name": "q", "in": "query", "schema": map[string]any{"type": "string"}},
	map[string]any{"name": "X-Trace", "in": "header", "schema": map[string]any{"type": "string"}},
	map[string]any{"name": "X-Key", "in": "header", "required": true, "schema": map[string]any{"type": "string", "enum": []any{"k1", "k2"}}},
}

func TestBuild_HeadAndOptions(t *testing.T) {
	for _, method := range []string{"head", "options"} {
		t.Run(method, func(t *testing.T) {
			s := mustStrategy(t, paramDoc(method, itemParams, nil), testOptions())
			eps, _ := s.Extract(context.Background())
			req := buildOne(t, s, eps[0])

			if req.URL != "http://api.local/items/test" {
				t.Errorf("URL = %q", req.URL)
			}
			if len(req.Query) != 0 {
				t.Errorf("Query = %v, want none", req.Query)
			}
			if _, ok := req.Headers["X-Trace"]; ok {
				t.Error("optional header param should be skipped")
			}
			if req.Headers["X-Key"] != "k1" {
				t.Errorf("X-Key = %q, want k1", req.Headers["X-Key"])
			}
			if req.Body != nil || req.Parts != nil {
				t.Error("HEAD/OPTIONS must not carry a body")
			}
		})
	}
}

func TestBuild_QueryAndHeaders(t *testing.T) {
	opts := testOptions()
	opts.Headers = map[string]string{"User-Agent": "custom", "X-Trace": "override"}
	s := mustStrategy(t, paramDoc("get", itemParams, nil), opts)
	eps, _ := s.Extract(context.Background())
	req := buildOne(t, s, eps[0])

	if req.Query.Get("q") != "test" {
		t.Errorf("q = %q, want test", req.Query.Get("q"))
	}
	if req.Headers["User-Agent"] != "custom" {
		t.Errorf("User-Agent = %q, extra headers should win", req.Headers["User-Agent"])
	}
	if req.Headers["X-Trace"] != "override" {
		t.Errorf("X-Trace = %q, extra headers should win over params", req.Headers["X-Trace"])
	}
}

func TestBuild_HeaderOverrideIgnoresCase(t *testing.T) {
	opts := testOptions()
	opts.Headers = map[string]string{"user-agent": "operator-agent", "x-trace": "override"}
	s := mustStrategy(t, paramDoc("get", itemParams, nil), opts)
	eps, _ := s.Extract(context.Background())

	for i := 0; i < 20; i++ {
		req := buildOne(t, s, eps[0])
		var agents, traces []string
		for k, v := range req.Headers {
			switch {
			case strings.EqualFold(k, "User-Agent"):
				agents = append(agents, v)
			case strings.EqualFold(k, "X-Trace"):
				traces = append(traces, v)
			}
		}
		if len(agents) != 1 || agents[0] != "operator-agent" {
			t.Fatalf("User-Agent values = %v, want [operator-agent]", agents)
		}
		if len(traces) != 1 || traces[0] != "override" {
			t.Fatalf("X-Trace values = %v, want [override]", traces)
		}
	}
}

func TestBuild_PathEscaping(t *testing.T) {
	params := []any{
		map[string]any{"name": "itemId", "in": "path", "schema": map[string]any{"type": "string", "enum": []any{"a b/c"}}},
	}
	s := mustStrategy(t, paramDoc("get", params, nil), testOptions())
	eps, _ := s.Extract(context.Background())
	req := buildOne(t, s, eps[0])

	if req.URL != "http://api.local/items/a%20b%2Fc" {
		t.Errorf("URL = %q, want escaped path value", req.URL)
	}
}

func TestBuild_PathLevelParamsMerged(t *testing.T) {
	doc := document.NewRESTDocument(document.OpenAPI3, map[string]any{
		"openapi": "3.0.0",
		"paths": map[string]any{
			"/items/{itemId}": map[string]any{
				"parameters": []any{
					map[string]any{"name": "itemId", "in": "path", "schema": map[string]any{"type": "integer"}},
					map[string]any{"name": "v", "in": "query", "schema": map[string]any{"type": "string", "enum": []any{"shared"}}},
				},
				"get": map[string]any{
					"parameters": []any{
						map[string]any{"name": "v", "in": "query", "schema": map[string]any{"type": "string", "enum": []any{"own"}}},
					},
				},
			},
		},
	})
	s := mustStrategy(t, doc, testOptions())
	eps, _ := s.Extract(context.Background())
	req := buildOne(t, s, eps[0])

	if req.URL != "http://api.local/items/1" {
		t.Errorf("URL = %q, path-level param not applied", req.URL)
	}
	if req.Query.Get("v") != "own" {
		t.Errorf("v = %q, operation parameter should win", req.Query.Get("v"))
	}
}

func bodyDoc(contentType string, sch map[string]any) *document.RESTDocument {
	return document.NewRESTDocument(document.OpenAPI3, map[string]any{
		"openapi": "3.0.0",
		"paths": map[string]any{
			"/upload": map[string]any{
				"post": map[string]any{
					"requestBody": map[string]any{
						"content": map[string]any{contentType: map[string]any{"schema": sch}},
					},
				},
			},
		},
	})
}

func TestBuild_ContentTypes(t *testing.T) {
	obj := map[string]any{
		"type":       "object",
		"properties": map[string]any{"title": map[string]any{"type": "string"}},
	}
	tests := []struct {
		ct         string
		wantBody   string
		wantBinary bool
	}{
		{"application/json", `{"title":"test"}`, false},
		{"application/vnd.api+json", `{"title":"test"}`, false},
		{"application/x-www-form-urlencoded", "title=test", false},
		{"application/octet-stream", "test_octet_stream", true},
		{"application/pdf", "%PDF-1.4\nFake PDF\n%%EOF", true},
		{"text/plain", "test plain text content", false},
		{"text/csv", "test plain text content", false},
		{"application/xml", "<test>content</test>", false},
		{"application/soap+xml", "<test>content</test>", false},
		{"application/vnd.custom", `{"title":"test"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.ct, func(t *testing.T) {
			s := mustStrategy(t, bodyDoc(tt.ct, obj), testOptions())
			eps, _ := s.Extract(context.Background())
			req := buildOne(t, s, eps[0])

			if string(req.Body) != tt.wantBody {
				t.Errorf("Body = %q, want %q", req.Body, tt.wantBody)
			}
			if req.Binary != tt.wantBinary {
				t.Errorf("Binary = %v, want %v", req.Binary, tt.wantBinary)
			}
			if req.ContentType != tt.ct || req.Headers["Content-Type"] != tt.ct {
				t.Errorf("ContentType = %q, header = %q, want %q", req.ContentType, req.Headers["Content-Type"], tt.ct)
			}
		})
	}
}

func TestBuild_NoDeclaredBody(t *testing.T) {
	s := mustStrategy(t, paramDoc("delete", nil, nil), testOptions())
	eps, _ := s.Extract(context.Background())
	req := buildOne(t, s, eps[0])

	if string(req.Body) != `{"default":"test"}` {
		t.Errorf("Body = %q, want default JSON object", req.Body)
	}
	if req.ContentType != "application/json" {
		t.Errorf("ContentType = %q", req.ContentType)
	}
}

func TestBuild_BinaryLeavesBase64InJSON(t *testing.T) {
	sch := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"avatar": map[string]any{"type": "string", "format": "binary"},
			"tags":   map[string]any{"type": "array", "items": map[string]any{"type": "string", "format": "binary"}},
		},
	}
	s := mustStrategy(t, bodyDoc("application/json", sch), testOptions())
	eps, _ := s.Extract(context.Background())
	req := buildOne(t, s, eps[0])

	body := gjson.ParseBytes(req.Body)
	for _, path := range []string{"avatar", "tags.0"} {
		v := body.Get(path)
		if v.Type != gjson.String {
			t.Fatalf("%s = %v, want a base64 string", path, v)
		}
		raw, err := base64.StdEncoding.DecodeString(v.String())
		if err != nil || string(raw) != "test_binary_data" {
			t.Errorf("%s decodes to %q (%v), want test_binary_data", path, raw, err)
		}
	}
}

func parseREST(t *testing.T, raw string) *document.RESTDocument {
	t.Helper()
	doc, err := document.Parse([]byte(raw), "")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	rd, ok := doc.(*document.RESTDocument)
	if !ok {
		t.Fatalf("Parse() = %T, want *RESTDocument", doc)
	}
	return rd
}

func TestBuild_FirstDeclaredContentType(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"json", `{"openapi": "3.0.0", "paths": {"/x": {"post": {"requestBody": {"content": {
			"application/xml": {"schema": {"type": "object", "properties": {"a": {"type": "string"}}}},
			"application/json": {"schema": {"type": "object", "properties": {"a": {"type": "string"}}}}
		}}}}}}`},
		{"yaml", `openapi: 3.0.0
paths:
  /x:
    post:
      requestBody:
        content:
          application/xml:
            schema: {type: object, properties: {a: {type: string}}}
          application/json:
            schema: {type: object, properties: {a: {type: string}}}
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustStrategy(t, parseREST(t, tt.raw), testOptions())
			eps, _ := s.Extract(context.Background())
			req := buildOne(t, s, eps[0])

			if req.ContentType != "application/xml" {
				t.Errorf("ContentType = %q, want application/xml", req.ContentType)
			}
			if !strings.HasPrefix(string(req.Body), "<") {
				t.Errorf("Body = %q, want an XML body", req.Body)
			}
		})
	}
}

func TestBuild_MaxPropertiesKeepsDeclarationOrder(t *testing.T) {
	doc := parseREST(t, `{"openapi": "3.0.0", "paths": {"/x": {"post": {"requestBody": {"content": {
		"application/json": {"schema": {"type": "object", "properties": {
			"zeta": {"type": "string"}, "mid": {"type": "integer"}, "alpha": {"type": "boolean"}
		}}}
	}}}}}}`)
	opts := testOptions()
	opts.MaxProperties = 2
	s := mustStrategy(t, doc, opts)
	eps, _ := s.Extract(context.Background())
	req := buildOne(t, s, eps[0])

	body := gjson.ParseBytes(req.Body)
	if !body.Get("zeta").Exists() || !body.Get("mid").Exists() || body.Get("alpha").Exists() {
		t.Errorf("body = %s, want zeta and mid only", req.Body)
	}
}

func TestBuild_RequestBodyRef(t *testing.T) {
	doc := document.NewRESTDocument(document.OpenAPI3, map[string]any{
		"openapi": "3.0.0",
		"components": map[string]any{
			"requestBodies": map[string]any{
				"Note": map[string]any{
					"content": map[string]any{"text/plain": map[string]any{}},
				},
			},
		},
		"paths": map[string]any{
			"/notes": map[string]any{
				"post": map[string]any{"requestBody": map[string]any{"$ref": "#/components/requestBodies/Note"}},
			},
		},
	})
	s := mustStrategy(t, doc, testOptions())
	eps, _ := s.Extract(context.Background())
	req := buildOne(t, s, eps[0])

	if string(req.Body) != "test plain text content" {
		t.Errorf("Body = %q, want the referenced text body", req.Body)
	}
}

// ============================================================================
// Multipart Tests
// ============================================================================

func TestEncodeBody_MultipartScenario(t *testing.T) {
	mock := map[string]any{"file": []byte{0x00, 0x01, 0xff}, "note": "hello"}

	p, err := encodeBody("multipart/form-data", mock, synth.New(synth.FixedPicker(0)))
	if err != nil {
		t.Fatalf("encodeBody() error = %v", err)
	}
	if p.body != nil {
		t.Errorf("multipart body = %q, want parts only", p.body)
	}
	if len(p.parts) != 2 {
		t.Fatalf("parts = %d, want 2", len(p.parts))
	}

	file, note := p.parts[0], p.parts[1]
	if file.Name != "file" || file.Filename != "file.bin" || file.ContentType != "application/octet-stream" {
		t.Errorf("file part = %+v", file)
	}
	if string(file.Data) != "\x00\x01\xff" {
		t.Errorf("file data = %v", file.Data)
	}
	if note.Name != "note" || note.Filename != "" || string(note.Data) != "hello" {
		t.Errorf("note part = %+v, want plain field hello", note)
	}
}

func TestBodyText(t *testing.T) {
	tests := []struct {
		name string
		req  ProbeRequest
		want string
	}{
		{"text", ProbeRequest{Body: []byte("a=b")}, "a=b"},
		{"binary", ProbeRequest{Body: []byte{1}, Binary: true}, "<binary>"},
		{"multipart", ProbeRequest{Parts: []Part{{Name: "x"}}}, "<binary>"},
		{"empty", ProbeRequest{}, ""},
	}
	for _, tt := range tests {
		if got := tt.req.BodyText(); got != tt.want {
			t.Errorf("%s: BodyText() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestStringify(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"x", "x"},
		{true, "true"},
		{123, "123"},
		{123.45, "123.45"},
		{[]byte("test"), "dGVzdA=="},
		{map[string]any{"key": "value"}, `{"key":"value"}`},
		{[]any{"item"}, `["item"]`},
	}
	for _, tt := range tests {
		if got := Stringify(tt.in); got != tt.want {
			t.Errorf("Stringify(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// ============================================================================
// Swagger 2 Tests
// ============================================================================

func petsDoc() *document.RESTDocument {
	return document.NewRESTDocument(document.Swagger2, map[string]any{
		"swagger":  "2.0",
		"basePath": "/v2/",
		"consumes": []any{"application/json"},
		"definitions": map[string]any{
			"Pet": map[string]any{
				"type":       "object",
				"properties": map[string]any{"name": map[string]any{"type": "string"}},
			},
		},
		"paths": map[string]any{
			"/pets": map[string]any{
				"post": map[string]any{
					"parameters": []any{
						map[string]any{"name": "pet", "in": "body", "schema": map[string]any{"$ref": "#/definitions/Pet"}},
					},
				},
				"get": map[string]any{
					"parameters": []any{
						map[string]any{"name": "filter", "in": "body", "schema": map[string]any{"$ref": "#/definitions/Pet"}},
						map[string]any{"name": "limit", "in": "query", "type": "integer", "format": "int32"},
					},
				},
			},
			"/pets/{petId}/photo": map[string]any{
				"put": map[string]any{
					"consumes": []any{"multipart/form-data"},
					"parameters": []any{
						map[string]any{"name": "petId", "in": "path", "type": "integer", "format": "int64"},
						map[string]any{"name": "photo", "in": "formData", "type": "file"},
						map[string]any{"name": "caption", "in": "formData", "type": "string"},
					},
				},
				"patch": map[string]any{
					"parameters": []any{
						map[string]any{"name": "caption", "in": "formData", "type": "string"},
					},
				},
			},
		},
	})
}

func TestSwagger2_BodyAndBasePath(t *testing.T) {
	s := mustStrategy(t, petsDoc(), testOptions())
	eps, err := s.Extract(context.Background())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(eps) != 4 {
		t.Fatalf("Extract() = %d endpoints, want 4", len(eps))
	}

	post := buildOne(t, s, findEndpoint(t, eps, "POST", "/pets"))
	if post.URL != "http://api.local/v2/pets" {
		t.Errorf("URL = %q, want basePath joined", post.URL)
	}
	if got := gjson.GetBytes(post.Body, "name").String(); got != "test" {
		t.Errorf("name = %q, single body param should be the schema value", got)
	}
}

func TestSwagger2_GetCollapsesBody(t *testing.T) {
	s := mustStrategy(t, petsDoc(), testOptions())
	eps, _ := s.Extract(context.Background())
	req := buildOne(t, s, findEndpoint(t, eps, "GET", "/pets"))

	if req.Body != nil {
		t.Errorf("GET body = %q, want none", req.Body)
	}
	if req.Query.Get("name") != "test" {
		t.Errorf("query name = %q, object body should flatten into query", req.Query.Get("name"))
	}
	if req.Query.Get("limit") != "123" {
		t.Errorf("query limit = %q, want 123", req.Query.Get("limit"))
	}
}

func TestSwagger2_FormData(t *testing.T) {
	s := mustStrategy(t, petsDoc(), testOptions())
	eps, _ := s.Extract(context.Background())

	put := buildOne(t, s, findEndpoint(t, eps, "PUT", "/pets/{petId}/photo"))
	if put.URL != "http://api.local/v2/pets/123456789/photo" {
		t.Errorf("URL = %q", put.URL)
	}
	if len(put.Parts) != 2 {
		t.Fatalf("parts = %+v, want caption and photo", put.Parts)
	}
	if put.Parts[1].Name != "photo" || put.Parts[1].Filename != "photo.bin" {
		t.Errorf("photo part = %+v, want file part", put.Parts[1])
	}

	patch := buildOne(t, s, findEndpoint(t, eps, "PATCH", "/pets/{petId}/photo"))
	if patch.ContentType != "application/x-www-form-urlencoded" || string(patch.Body) != "caption=test" {
		t.Errorf("PATCH = %q %q, want url-encoded form", patch.ContentType, patch.Body)
	}
}

func TestExpand_CircularRef(t *testing.T) {
	doc := document.NewRESTDocument(document.OpenAPI3, map[string]any{
		"openapi": "3.0.0",
		"components": map[string]any{
			"schemas": map[string]any{
				"A": map[string]any{
					"type":       "object",
					"properties": map[string]any{"child": map[string]any{"$ref": "#/components/schemas/A"}},
				},
			},
		},
		"paths": map[string]any{},
	})
	s := mustStrategy(t, doc, testOptions())

	v, ok := s.Expand(map[string]any{"$ref": "#/components/schemas/A"}).(map[string]any)
	if !ok {
		t.Fatalf("Expand() = %T, want object", v)
	}
	if v["child"] != "<circular-ref>" {
		t.Errorf("child = %v, want <circular-ref>", v["child"])
	}
}
