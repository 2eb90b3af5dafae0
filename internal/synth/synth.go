// Package synth turns declared parameter types into concrete test values.
package synth

import "strings"

// Synthesizer produces test values from (type, format, enum) declarations.
// Value pools and enums are drawn through the injected Picker.
type Synthesizer struct {
	picker Picker
}

// New returns a Synthesizer using p, or a randomly seeded RandomPicker when p is nil.
func New(p Picker) *Synthesizer {
	if p == nil {
		p = NewRandomPicker(0)
	}
	return &Synthesizer{picker: p}
}

// Pick returns one element of pool, or nil for an empty pool.
func (s *Synthesizer) Pick(pool []any) any {
	if len(pool) == 0 {
		return nil
	}
	return pool[s.picker.Intn(len(pool))]
}

// Intn returns a picker-chosen index in [0, n).
func (s *Synthesizer) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return s.picker.Intn(n)
}

// PickString is Pick for string pools.
func (s *Synthesizer) PickString(pool []string) string {
	if len(pool) == 0 {
		return ""
	}
	return pool[s.picker.Intn(len(pool))]
}

// Sample returns the named sample value (for example "pdf" or "plain-text") and
// whether it exists. Byte samples are copied.
func (s *Synthesizer) Sample(name string) (any, bool) {
	v, ok := samples[name]
	if !ok {
		return nil, false
	}
	return clone(v), true
}

// Bytes returns the named byte sample, or the generic binary sample.
func (s *Synthesizer) Bytes(name string) []byte {
	if v, ok := samples[name].([]byte); ok {
		return append([]byte(nil), v...)
	}
	return append([]byte(nil), samples["binary"].([]byte)...)
}

// Value returns a test value for a declared type. items describes array elements
// and may be nil. A non-empty enum always wins.
func (s *Synthesizer) Value(typ, format string, items map[string]any, enum []any) any {
	if len(enum) > 0 {
		return s.Pick(enum)
	}

	typ = strings.ToLower(typ)
	switch typ {
	case "array":
		if items != nil {
			it, _ := items["type"].(string)
			f, _ := items["format"].(string)
			sub, _ := items["items"].(map[string]any)
			e, _ := items["enum"].([]any)
			return []any{s.Value(it, f, sub, e)}
		}
		return []any{"item"}
	case "file":
		return samples["file"]
	case "integer", "int":
		switch format {
		case "int32":
			return samples["int32"]
		case "int64", "long":
			return samples["int64"]
		}
		return samples["integer"]
	case "number":
		if format == "double" || format == "float" {
			return samples["double"]
		}
		return samples["number"]
	case "string":
		if format == "" {
			return samples["string"]
		}
		if key, ok := stringFormats[format]; ok {
			return clone(samples[key])
		}
		if v, ok := numericStringFormats[format]; ok {
			return v
		}
		return Fallback
	case "boolean", "bool":
		return true
	case "object":
		return DefaultObject()
	}

	if v, ok := samples[typ]; ok {
		return clone(v)
	}
	return Fallback
}

func clone(v any) any {
	if b, ok := v.([]byte); ok {
		return append([]byte(nil), b...)
	}
	return v
}
