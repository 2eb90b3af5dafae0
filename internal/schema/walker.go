// Package schema expands JSON-schema fragments from API documents into concrete
// value trees.
package schema

import (
	"sort"
	"strings"

	"github.com/PentesterFlow/APIFuzz/internal/synth"
)

// CircularRef is returned in place of a $ref already being expanded on the current path.
const CircularRef = "<circular-ref>"

// Ref prefixes of the supported document dialects.
const (
	ComponentsPrefix  = "#/components/schemas/"
	DefinitionsPrefix = "#/definitions/"
)

var leafTypes = map[string]bool{
	"string":  true,
	"integer": true,
	"number":  true,
	"boolean": true,
	"file":    true,
}

// Walker expands schemas. It is safe for concurrent use; all per-call state lives in
// the expansion.
type Walker struct {
	synth     *synth.Synthesizer
	refPrefix string

	// MaxProperties caps how many object properties are expanded, taken in
	// Keys order. Zero expands all.
	MaxProperties int
	// Keys lists the properties of a schema in declaration order. Nil sorts
	// them.
	Keys func(map[string]any) []string
}

// New returns a Walker resolving $ref values under refPrefix.
func New(s *synth.Synthesizer, refPrefix string) *Walker {
	return &Walker{synth: s, refPrefix: refPrefix}
}

// Expand turns schema into a value tree. defs is the dialect's named schema
// container (components.schemas or definitions). Leaves are strings, numbers,
// booleans, nil, []byte, map[string]any or []any.
func (w *Walker) Expand(schema map[string]any, defs map[string]any) any {
	e := expansion{w: w, defs: defs, visited: make(map[string]bool)}
	return e.expand(schema)
}

func (w *Walker) keys(m map[string]any) []string {
	if w.Keys != nil {
		return w.Keys(m)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type expansion struct {
	w       *Walker
	defs    map[string]any
	visited map[string]bool
}

func (e *expansion) expand(s map[string]any) any {
	if s == nil {
		s = map[string]any{}
	}

	if ref, ok := s["$ref"].(string); ok {
		if e.visited[ref] {
			return CircularRef
		}
		e.visited[ref] = true
		defer delete(e.visited, ref)
		return e.expand(e.resolve(ref))
	}

	if all, ok := s["allOf"].([]any); ok && len(all) > 0 {
		return e.expandAllOf(all)
	}
	for _, key := range []string{"oneOf", "anyOf"} {
		if alts, ok := s[key].([]any); ok && len(alts) > 0 {
			first, _ := alts[0].(map[string]any)
			return e.expand(first)
		}
	}

	typ := TypeOf(s)
	format, _ := s["format"].(string)
	enum, _ := s["enum"].([]any)

	switch {
	case leafTypes[typ]:
		return e.w.synth.Value(typ, format, nil, enum)
	case typ == "array":
		items, ok := s["items"].(map[string]any)
		if !ok {
			return []any{"test"}
		}
		return []any{e.expand(items)}
	case typ == "object":
		return e.expandObject(s)
	default:
		return e.w.synth.Value(typ, format, nil, enum)
	}
}

func (e *expansion) expandObject(s map[string]any) any {
	props, _ := s["properties"].(map[string]any)
	if len(props) == 0 {
		if ap, ok := s["additionalProperties"].(map[string]any); ok {
			return map[string]any{"key": e.expand(ap)}
		}
		return synth.DefaultObject()
	}

	keys := e.w.keys(props)
	if max := e.w.MaxProperties; max > 0 && len(keys) > max {
		keys = keys[:max]
	}

	out := make(map[string]any, len(keys))
	for _, k := range keys {
		sub, _ := props[k].(map[string]any)
		out[k] = e.expand(sub)
	}
	return out
}

// expandAllOf merges the object members of an allOf composition. A composition
// without object members expands as its first member.
func (e *expansion) expandAllOf(members []any) any {
	merged := map[string]any{}
	var first any
	for i, m := range members {
		ms, _ := m.(map[string]any)
		v := e.expand(ms)
		if i == 0 {
			first = v
		}
		if obj, ok := v.(map[string]any); ok {
			for k, val := range obj {
				merged[k] = val
			}
		}
	}
	if len(merged) == 0 {
		return first
	}
	return merged
}

func (e *expansion) resolve(ref string) map[string]any {
	name := strings.TrimPrefix(ref, e.w.refPrefix)
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	s, _ := e.defs[name].(map[string]any)
	return s
}

// TypeOf returns the declared type of s, defaulting to "object". A type list takes
// its first non-null entry.
func TypeOf(s map[string]any) string {
	switch t := s["type"].(type) {
	case string:
		if t != "" {
			return t
		}
	case []any:
		for _, v := range t {
			if name, ok := v.(string); ok && name != "null" {
				return name
			}
		}
	}
	return "object"
}
