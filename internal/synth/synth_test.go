package synth

import (
	"bytes"
	"reflect"
	"testing"

	fuzz "github.com/google/gofuzz"
)

// ============================================================================
// Lookup table
// ============================================================================

func TestValue_Table(t *testing.T) {
	s := New(FixedPicker(0))

	tests := []struct {
		typ, format string
		want        any
	}{
		{"string", "", "test"},
		{"string", "date", "2023-01-01"},
		{"string", "date-time", "2023-01-01T00:00:00Z"},
		{"string", "uuid", "123e4567-e89b-12d3-a456-426614174000"},
		{"string", "email", "test@example.com"},
		{"string", "password", "test_password"},
		{"string", "uri", "https://example.com"},
		{"string", "url", "https://example.com"},
		{"string", "byte", "dGVzdA=="},
		{"string", "ipv4", "192.168.1.1"},
		{"string", "ipv6", "2001:db8::1"},
		{"string", "int32", "123"},
		{"string", "int64", "123456789"},
		{"string", "double", "123.45"},
		{"string", "no-such-format", "test"},
		{"integer", "", 1},
		{"integer", "int32", 123},
		{"integer", "int64", 123456789},
		{"integer", "long", 123456789},
		{"int", "", 1},
		{"number", "", 1.23},
		{"number", "double", 123.45},
		{"number", "float", 123.45},
		{"boolean", "", true},
		{"file", "", "test_file.txt"},
		{"object", "", map[string]any{"key": "value"}},
		{"array", "", []any{"item"}},
		{"ipv4", "", "192.168.1.1"},
		{"mystery", "", "test"},
		{"", "", "test"},
	}

	for _, tt := range tests {
		got := s.Value(tt.typ, tt.format, nil, nil)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Value(%q, %q) = %#v, want %#v", tt.typ, tt.format, got, tt.want)
		}
	}
}

func TestValue_BinaryFormatIsBytes(t *testing.T) {
	s := New(FixedPicker(0))

	got, ok := s.Value("string", "binary", nil, nil).([]byte)
	if !ok {
		t.Fatalf("binary format should produce []byte, got %T", got)
	}
	if !bytes.Equal(got, []byte("test_binary_data")) {
		t.Errorf("binary = %q", got)
	}

	got[0] = 'X'
	again := s.Value("string", "binary", nil, nil).([]byte)
	if again[0] != 't' {
		t.Error("byte samples must be copied, not shared")
	}
}

func TestValue_ArrayItems(t *testing.T) {
	s := New(FixedPicker(0))
	items := map[string]any{"type": "integer", "format": "int32"}

	got := s.Value("array", "", items, nil)
	if !reflect.DeepEqual(got, []any{123}) {
		t.Errorf("array of int32 = %#v, want [123]", got)
	}

	nested := map[string]any{"type": "array", "items": map[string]any{"type": "boolean"}}
	got = s.Value("array", "", nested, nil)
	if !reflect.DeepEqual(got, []any{[]any{true}}) {
		t.Errorf("nested array = %#v", got)
	}
}

func TestSamples(t *testing.T) {
	s := New(FixedPicker(0))

	for _, name := range []string{"octet-stream", "pdf", "zip"} {
		v, ok := s.Sample(name)
		if !ok {
			t.Fatalf("Sample(%q) missing", name)
		}
		if _, isBytes := v.([]byte); !isBytes {
			t.Errorf("Sample(%q) = %T, want []byte", name, v)
		}
	}
	if v, _ := s.Sample("plain-text"); v != "test plain text content" {
		t.Errorf("plain-text = %v", v)
	}
	if _, ok := s.Sample("nope"); ok {
		t.Error("unknown sample should not exist")
	}
	if !bytes.HasPrefix(s.Bytes("zip"), []byte("PK\x03\x04")) {
		t.Error("zip stub should start with the zip magic")
	}
	if !bytes.Equal(s.Bytes("nope"), []byte("test_binary_data")) {
		t.Error("unknown byte sample falls back to binary")
	}
}

// ============================================================================
// Enums and pickers
// ============================================================================

func TestValue_EnumRespect(t *testing.T) {
	f := fuzz.New().NilChance(0).NumElements(1, 8)
	s := New(NewRandomPicker(42))

	for i := 0; i < 200; i++ {
		var members []string
		f.Fuzz(&members)
		enum := make([]any, len(members))
		for j, m := range members {
			enum[j] = m
		}

		for k := 0; k < 5; k++ {
			got := s.Value("string", "email", nil, enum)
			found := false
			for _, m := range enum {
				if got == m {
					found = true
					break
				}
			}
			if !found {
				t.Fatalf("Value() = %v, not a member of %v", got, enum)
			}
		}
	}
}

func TestValue_EnumFixedPicker(t *testing.T) {
	enum := []any{"a", "b", "c"}
	if got := New(FixedPicker(1)).Value("string", "", nil, enum); got != "b" {
		t.Errorf("Value() = %v, want b", got)
	}
	if got := New(FixedPicker(10)).Value("string", "", nil, enum); got != "c" {
		t.Errorf("clamped Value() = %v, want c", got)
	}
}

func TestRandomPicker_Range(t *testing.T) {
	p := NewRandomPicker(7)
	seen := map[int]bool{}
	for i := 0; i < 500; i++ {
		n := p.Intn(4)
		if n < 0 || n >= 4 {
			t.Fatalf("Intn(4) = %d out of range", n)
		}
		seen[n] = true
	}
	if len(seen) < 2 {
		t.Errorf("RandomPicker produced a single index %v", seen)
	}
	if p.Intn(1) != 0 || p.Intn(0) != 0 {
		t.Error("degenerate pools must return 0")
	}
}

func TestRandomPicker_SeedReproducible(t *testing.T) {
	a, b := NewRandomPicker(99), NewRandomPicker(99)
	for i := 0; i < 20; i++ {
		if x, y := a.Intn(1000), b.Intn(1000); x != y {
			t.Fatalf("draw %d differs: %d vs %d", i, x, y)
		}
	}
}

func TestPick(t *testing.T) {
	s := New(FixedPicker(2))
	if s.Pick(nil) != nil {
		t.Error("Pick(nil) should be nil")
	}
	if got := s.PickString([]string{"x", "y", "z"}); got != "z" {
		t.Errorf("PickString() = %q, want z", got)
	}
	if got := s.PickString(nil); got != "" {
		t.Errorf("PickString(nil) = %q", got)
	}
}
