package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	apierrors "github.com/PentesterFlow/APIFuzz/internal/errors"
)

var asmxMarkers = []string{
	"SOAP 1.1", "SOAPAction:",
	"The following operations are supported",
	"支持下列操作",
	"Test form", "SOAP",
	"http://tempuri.org/",
	"WebService", "Namespace",
	".asmx", ".asmx?wsdl",
}

// IsASMXPage reports whether content looks like an ASP.NET web service index page:
// it has list or table structure and at least one ASMX marker.
func IsASMXPage(content string) bool {
	structured := false
	for _, s := range []string{"<li", "<td", "<h1", "* ", "- "} {
		if strings.Contains(content, s) {
			structured = true
			break
		}
	}
	if !structured {
		return false
	}
	for _, kw := range asmxMarkers {
		if strings.Contains(content, kw) {
			return true
		}
	}
	return false
}

// IsWSDL reports whether content is a WSDL 1.1 definitions document.
func IsWSDL(content string) bool {
	hasDefs := strings.Contains(content, "<definitions") || strings.Contains(content, ":definitions")
	return hasDefs && (strings.Contains(content, "xmlns:wsdl") || strings.Contains(content, NamespaceWSDL))
}

// Detect identifies the dialect of raw document content.
func Detect(raw []byte) (Dialect, error) {
	d, _, err := detect(raw)
	return d, err
}

// detect returns the dialect and, for JSON/YAML dialects, the decoded tree.
func detect(raw []byte) (Dialect, map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Unknown, nil, apierrors.NewDocumentError("", "empty document", nil)
	}

	if trimmed[0] == '{' {
		tree, err := decodeJSON(trimmed)
		if err != nil {
			return Unknown, nil, apierrors.NewDocumentError("", "invalid JSON document", err)
		}
		d, err := DetectTree(tree)
		return d, tree, err
	}

	content := string(trimmed)
	if IsWSDL(content) {
		return WSDL, nil, nil
	}
	if strings.Contains(content, "<") && IsASMXPage(content) {
		return ASMX, nil, nil
	}
	if tree, err := decodeYAML(trimmed); err == nil && tree != nil {
		d, derr := DetectTree(tree)
		if derr == nil || !IsASMXPage(content) {
			return d, tree, derr
		}
	}
	if IsASMXPage(content) {
		return ASMX, nil, nil
	}
	return Unknown, nil, apierrors.NewDocumentError("", "unrecognized document format (not JSON, YAML, WSDL or ASMX)", nil)
}

// DetectTree identifies the dialect of a decoded JSON/YAML document, first by its
// version field, then by structural keys.
func DetectTree(tree map[string]any) (Dialect, error) {
	if v, ok := tree["swagger"]; ok {
		if fmt.Sprint(v) == "2.0" {
			return Swagger2, nil
		}
		return Unknown, apierrors.NewDocumentError("", fmt.Sprintf("unsupported Swagger version: %v", v), nil)
	}
	if v, ok := tree["openapi"]; ok {
		if s, _ := v.(string); strings.HasPrefix(s, "3.") {
			return OpenAPI3, nil
		}
		return Unknown, apierrors.NewDocumentError("", fmt.Sprintf("unsupported OpenAPI version: %v", v), nil)
	}

	if comps, ok := tree["components"].(map[string]any); ok {
		for _, k := range []string{"schemas", "securitySchemes", "parameters", "responses"} {
			if _, ok := comps[k]; ok {
				return OpenAPI3, nil
			}
		}
	}
	if _, ok := tree["servers"].([]any); ok {
		return OpenAPI3, nil
	}
	for _, k := range []string{"definitions", "securityDefinitions", "host", "basePath", "schemes", "consumes", "produces"} {
		if _, ok := tree[k]; ok {
			return Swagger2, nil
		}
	}
	return Unknown, apierrors.NewDocumentError("", "cannot identify API document version", nil)
}

func decodeJSON(raw []byte) (map[string]any, error) {
	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func decodeYAML(raw []byte) (map[string]any, error) {
	var v any
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	tree, ok := normalize(v).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("yaml root is %T, not a mapping", v)
	}
	return tree, nil
}

// normalize converts YAML-decoded values into JSON-compatible ones: mapping keys
// become strings.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	default:
		return v
	}
}
