package synth

// Named sample values. Keys are schema types, formats or media kinds.
var samples = map[string]any{
	"string":       "test",
	"integer":      1,
	"number":       1.23,
	"boolean":      true,
	"date":         "2023-01-01",
	"date-time":    "2023-01-01T00:00:00Z",
	"uuid":         "123e4567-e89b-12d3-a456-426614174000",
	"email":        "test@example.com",
	"password":     "test_password",
	"uri":          "https://example.com",
	"file":         "test_file.txt",
	"int32":        123,
	"int64":        123456789,
	"long":         123456789,
	"double":       123.45,
	"float":        123.45,
	"ipv4":         "192.168.1.1",
	"ipv6":         "2001:db8::1",
	"byte":         "dGVzdA==",
	"binary":       []byte("test_binary_data"),
	"octet-stream": []byte("test_octet_stream"),
	"pdf":          []byte("%PDF-1.4\nFake PDF\n%%EOF"),
	"zip":          []byte("PK\x03\x04\x14\x00\x00\x00\x08\x00"),
	"plain-text":   "test plain text content",
	"xml":          "<test>content</test>",
}

// Fallback is returned for anything the table does not know.
const Fallback = "test"

// DefaultObject is the placeholder for objects without declared properties.
func DefaultObject() map[string]any {
	return map[string]any{"key": "value"}
}

// stringFormats maps string formats to their sample key.
var stringFormats = map[string]string{
	"date":      "date",
	"date-time": "date-time",
	"uuid":      "uuid",
	"email":     "email",
	"uri":       "uri",
	"url":       "uri",
	"password":  "password",
	"byte":      "byte",
	"binary":    "binary",
	"ipv4":      "ipv4",
	"ipv6":      "ipv6",
}

// numericStringFormats are numeric formats declared on string types.
var numericStringFormats = map[string]string{
	"int32":  "123",
	"int64":  "123456789",
	"double": "123.45",
}
