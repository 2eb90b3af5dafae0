// Package document loads API descriptions and tags them with their dialect.
package document

import (
	"fmt"
	"strings"
)

// Dialect is one of the supported document families.
type Dialect int

const (
	Unknown Dialect = iota
	OpenAPI3
	Swagger2
	WSDL
	ASMX
)

func (d Dialect) String() string {
	switch d {
	case OpenAPI3:
		return "openapi3"
	case Swagger2:
		return "swagger2"
	case WSDL:
		return "wsdl"
	case ASMX:
		return "asmx"
	default:
		return "unknown"
	}
}

// ParseDialect is the inverse of Dialect.String.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(s) {
	case "openapi3":
		return OpenAPI3, nil
	case "swagger2":
		return Swagger2, nil
	case "wsdl":
		return WSDL, nil
	case "asmx":
		return ASMX, nil
	}
	return Unknown, fmt.Errorf("unknown dialect %q", s)
}

// Info is the human readable identity of a document.
type Info struct {
	Title       string `json:"title"`
	APIVersion  string `json:"api_version"`
	SpecVersion string `json:"spec_version"`
}

// Document is a parsed, dialect-tagged API description. Implementations are
// *RESTDocument, *WSDLDocument and *ASMXDocument. Documents are immutable once
// parsed.
type Document interface {
	Dialect() Dialect
	Info() Info
	document()
}

// RESTDocument is an OpenAPI 3 or Swagger 2 document held as a generic tree.
type RESTDocument struct {
	dialect Dialect
	Tree    map[string]any
	Raw     []byte
	order   keyOrder
}

func (d *RESTDocument) Dialect() Dialect { return d.dialect }
func (*RESTDocument) document()          {}

// Info implements Document.
func (d *RESTDocument) Info() Info {
	info := Info{Title: "Unknown"}
	if m, ok := d.Tree["info"].(map[string]any); ok {
		if t, ok := m["title"].(string); ok && t != "" {
			info.Title = t
		}
		info.APIVersion = fmt.Sprint(valueOr(m["version"], ""))
	}
	key := "openapi"
	if d.dialect == Swagger2 {
		key = "swagger"
	}
	info.SpecVersion = fmt.Sprint(valueOr(d.Tree[key], "unknown"))
	return info
}

// Map returns the object stored under key, or nil.
func (d *RESTDocument) Map(key string) map[string]any {
	m, _ := d.Tree[key].(map[string]any)
	return m
}

// Keys returns the keys of m, a mapping of Tree, in the order the source
// declared them. Mappings with no recorded order, such as those of a tree
// built in code, come back sorted.
func (d *RESTDocument) Keys(m map[string]any) []string {
	if keys, ok := d.order.keys(m); ok {
		return keys
	}
	return SortedKeys(m)
}

// Definitions returns the named schema container of the dialect.
func (d *RESTDocument) Definitions() map[string]any {
	if d.dialect == Swagger2 {
		return d.Map("definitions")
	}
	comps := d.Map("components")
	if comps == nil {
		return nil
	}
	s, _ := comps["schemas"].(map[string]any)
	return s
}

// ASMXDocument is an ASP.NET web service index page.
type ASMXDocument struct {
	URL         string
	ServiceName string
	HTML        string
}

func (*ASMXDocument) Dialect() Dialect { return ASMX }
func (*ASMXDocument) document()        {}

// Info implements Document.
func (d *ASMXDocument) Info() Info {
	name := d.ServiceName
	if name == "" {
		name = "Unknown ASMX"
	}
	return Info{
		Title:       "ASMX Service: " + name,
		APIVersion:  "1.0",
		SpecVersion: "ASP.NET Web Service",
	}
}

// NewRESTDocument wraps an already decoded tree. Used by tests and by callers that
// build documents programmatically.
func NewRESTDocument(dialect Dialect, tree map[string]any) *RESTDocument {
	return &RESTDocument{dialect: dialect, Tree: tree}
}

func valueOr(v any, def any) any {
	if v == nil {
		return def
	}
	return v
}
