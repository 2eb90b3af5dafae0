// Package catalog reads interface-library type catalogs: XML files describing the
// services, operations and typed parameters behind a SOAP endpoint. The catalog
// supplies typed values for parameters the WSDL only declares as strings.
package catalog

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/PentesterFlow/APIFuzz/internal/document"
	apierrors "github.com/PentesterFlow/APIFuzz/internal/errors"
)

// Parameter flags.
const (
	FlagIn     = "In"
	FlagOut    = "Out"
	FlagResult = "Result"
)

// Parameter is one typed operation parameter.
type Parameter struct {
	Name     string
	DataType string
	Flag     string
	Required bool
}

// Operation is a catalog operation with its parameters split by direction.
type Operation struct {
	Service string
	Name    string
	UID     string
	Input   []Parameter
	Output  []Parameter
	Result  *Parameter
}

// Service groups operations.
type Service struct {
	Name       string
	UID        string
	Operations map[string]*Operation
}

// LibraryInfo describes the catalog root.
type LibraryInfo struct {
	Name    string
	UID     string
	Version string
}

// Mapping ties a catalog datatype to a standard type and its value pool.
type Mapping struct {
	StandardType string
	Values       []any
	Default      any
}

// Mappings are the known catalog datatypes.
var Mappings = map[string]Mapping{
	"String": {
		StandardType: "string",
		Values:       []any{"test_string", "", "admin", "<script>alert(1)</script>", "'OR 1=1--", strings.Repeat("A", 255)},
		Default:      "test_string",
	},
	"Integer": {
		StandardType: "integer",
		Values:       []any{1, 0, -1, 999999, -999999, 2147483647, -2147483648},
		Default:      1,
	},
	"Variant": {
		StandardType: "any",
		Values:       []any{"test_variant", 1, true, map[string]any{"key": "value"}, []any{"item1", "item2"}},
		Default:      "test_variant",
	},
	"Boolean": {
		StandardType: "boolean",
		Values:       []any{true, false, "true", "false", 1, 0},
		Default:      true,
	},
	"DateTime": {
		StandardType: "datetime",
		Values:       []any{"2024-01-01T12:00:00Z", "2024-12-31T23:59:59Z", "1900-01-01T00:00:00Z"},
		Default:      "2024-01-01T12:00:00Z",
	},
}

// Catalog is a parsed type catalog. It is read-only after Parse.
type Catalog struct {
	Library  LibraryInfo
	Services map[string]*Service
	// operations keyed "<service>_<operation>"
	operations map[string]*Operation
}

type xmlParameter struct {
	Name     string `xml:"Name,attr"`
	DataType string `xml:"DataType,attr"`
	Flag     string `xml:"Flag,attr"`
}

type xmlOperation struct {
	Name       string         `xml:"Name,attr"`
	UID        string         `xml:"UID,attr"`
	Parameters []xmlParameter `xml:"Parameters>Parameter"`
}

type xmlLibrary struct {
	Name     string `xml:"Name,attr"`
	UID      string `xml:"UID,attr"`
	Version  string `xml:"Version,attr"`
	Services []struct {
		Name       string `xml:"Name,attr"`
		UID        string `xml:"UID,attr"`
		Interfaces []struct {
			Operations []xmlOperation `xml:"Operations>Operation"`
		} `xml:"Interfaces>Interface"`
	} `xml:"Services>Service"`
}

// Parse decodes catalog XML.
func Parse(raw []byte) (*Catalog, error) {
	var lib xmlLibrary
	if err := document.NewXMLDecoder(raw).Decode(&lib); err != nil {
		return nil, apierrors.NewDocumentError("catalog", "invalid type catalog XML", err)
	}

	c := &Catalog{
		Library: LibraryInfo{
			Name:    valueOr(lib.Name, "Unknown"),
			UID:     lib.UID,
			Version: valueOr(lib.Version, "1.0"),
		},
		Services:   make(map[string]*Service),
		operations: make(map[string]*Operation),
	}

	for _, s := range lib.Services {
		if s.Name == "" {
			continue
		}
		svc := &Service{Name: s.Name, UID: s.UID, Operations: make(map[string]*Operation)}
		c.Services[s.Name] = svc
		for _, iface := range s.Interfaces {
			for _, o := range iface.Operations {
				if o.Name == "" {
					continue
				}
				op := &Operation{Service: s.Name, Name: o.Name, UID: o.UID}
				for _, p := range o.Parameters {
					param := Parameter{Name: p.Name, DataType: p.DataType, Flag: p.Flag, Required: p.Flag == FlagIn}
					switch p.Flag {
					case FlagIn:
						op.Input = append(op.Input, param)
					case FlagOut:
						op.Output = append(op.Output, param)
					case FlagResult:
						r := param
						op.Result = &r
					}
				}
				svc.Operations[o.Name] = op
				c.operations[key(s.Name, o.Name)] = op
			}
		}
	}
	return c, nil
}

// Load reads a catalog from a local file or, when source is an absolute URL,
// through f.
func Load(ctx context.Context, source string, f document.Fetcher) (*Catalog, error) {
	var (
		raw []byte
		err error
	)
	if isURL(source) {
		if f == nil {
			return nil, apierrors.NewConfigError("type", "no fetcher for catalog URL")
		}
		if raw, err = f.Fetch(ctx, source); err != nil {
			return nil, apierrors.NewFetchError(source, apierrors.StatusCode(err), err)
		}
	} else if raw, err = os.ReadFile(source); err != nil {
		return nil, apierrors.NewDocumentError(source, "cannot read type catalog", err)
	}

	c, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func key(service, operation string) string {
	return service + "_" + operation
}

// Operations returns every operation sorted by "<service>_<operation>".
func (c *Catalog) Operations() []*Operation {
	keys := make([]string, 0, len(c.operations))
	for k := range c.operations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Operation, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.operations[k])
	}
	return out
}

// Value returns the default value for a datatype, or "test_<name>" when the
// datatype is unknown.
func Value(datatype, name string) any {
	if m, ok := Mappings[datatype]; ok {
		return m.Default
	}
	if name != "" {
		return "test_" + name
	}
	return "test_value"
}

// ParamValue looks name up among the input parameters of every operation, in
// Operations order, and returns the value for the first match's datatype.
func (c *Catalog) ParamValue(name string) (any, bool) {
	if c == nil || name == "" {
		return nil, false
	}
	for _, op := range c.Operations() {
		for _, p := range op.Input {
			if p.Name == name {
				return Value(p.DataType, name), true
			}
		}
	}
	return nil, false
}

// MergePools adds every mapping's values into pools under its standard type,
// dropping duplicates. Keys that do not exist yet are created.
func MergePools(pools map[string][]any) {
	names := make([]string, 0, len(Mappings))
	for n := range Mappings {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		m := Mappings[n]
		pools[m.StandardType] = mergeUnique(pools[m.StandardType], m.Values)
	}
}

func mergeUnique(base, extra []any) []any {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]any, 0, len(base)+len(extra))
	for _, v := range append(append([]any(nil), base...), extra...) {
		k := fmt.Sprintf("%T:%v", v, v)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}

func valueOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
