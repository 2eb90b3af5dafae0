package dialect

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	apierrors "github.com/PentesterFlow/APIFuzz/internal/errors"
	"github.com/PentesterFlow/APIFuzz/internal/synth"
)

var errUnexpectedRef = errors.New("endpoint was not produced by this strategy")

// DefaultBody is sent when a body-carrying request declares no body.
var DefaultBody = map[string]any{"default": "test"}

// payload is an encoded request body.
type payload struct {
	body        []byte
	binary      bool
	contentType string
	parts       []Part
}

func (p payload) apply(req *ProbeRequest) {
	req.Body, req.Binary, req.ContentType, req.Parts = p.body, p.binary, p.contentType, p.parts
}

// encodeBody serializes mock as contentType.
func encodeBody(contentType string, mock any, s *synth.Synthesizer) (payload, error) {
	base := mediaType(contentType)
	p := payload{contentType: contentType}

	switch {
	case isJSON(base):
		b, err := marshalJSON(mock)
		if err != nil {
			return p, apierrors.NewSerializationError(contentType, err)
		}
		p.body = b
	case base == "application/x-www-form-urlencoded":
		p.body = []byte(formValues(mock).Encode())
	case base == "multipart/form-data":
		p.parts = multipartParts(mock)
	case base == "application/octet-stream":
		p.body, p.binary = s.Bytes("octet-stream"), true
	case base == "application/pdf":
		p.body, p.binary = s.Bytes("pdf"), true
	case base == "application/zip":
		p.body, p.binary = s.Bytes("zip"), true
	case isXML(base):
		p.body = []byte(sampleString(s, "xml"))
	case strings.HasPrefix(base, "text/"):
		p.body = []byte(sampleString(s, "plain-text"))
	default:
		if isEmpty(mock) {
			mock = DefaultBody
		}
		b, err := marshalJSON(mock)
		if err != nil {
			return p, apierrors.NewSerializationError(contentType, err)
		}
		p.body = b
	}
	return p, nil
}

// defaultPayload is the body of a request whose operation declares none.
func defaultPayload() payload {
	b, _ := json.Marshal(DefaultBody)
	return payload{body: b, contentType: "application/json"}
}

func sampleString(s *synth.Synthesizer, name string) string {
	v, _ := s.Sample(name)
	return Stringify(v)
}

// marshalJSON encodes mock with byte leaves base64-encoded. Leaves that still do
// not encode are replaced by their string form.
func marshalJSON(mock any) ([]byte, error) {
	data := binaryToString(mock)
	b, err := json.Marshal(data)
	if err == nil {
		return b, nil
	}
	return json.Marshal(sanitize(data))
}

func binaryToString(v any) any {
	switch t := v.(type) {
	case []byte:
		return base64.StdEncoding.EncodeToString(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = binaryToString(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = binaryToString(val)
		}
		return out
	}
	return v
}

func sanitize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = sanitize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = sanitize(val)
		}
		return out
	}
	if _, err := json.Marshal(v); err != nil {
		return fmt.Sprint(v)
	}
	return v
}

// formValues flattens the top level of mock. Non-object mocks yield no fields.
func formValues(mock any) url.Values {
	vals := url.Values{}
	if m, ok := mock.(map[string]any); ok {
		for k, v := range m {
			addQuery(vals, k, v)
		}
	}
	return vals
}

// multipartParts turns each top-level field of mock into a part: byte values
// become octet-stream files named "<field>.bin", everything else a form field.
func multipartParts(mock any) []Part {
	m, ok := mock.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]Part, 0, len(keys))
	for _, k := range keys {
		if b, ok := m[k].([]byte); ok {
			parts = append(parts, Part{
				Name:        k,
				Filename:    k + ".bin",
				ContentType: "application/octet-stream",
				Data:        b,
			})
			continue
		}
		parts = append(parts, Part{Name: k, Data: []byte(Stringify(m[k]))})
	}
	return parts
}

// Stringify renders a synthesized value for URLs, headers and form fields.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return base64.StdEncoding.EncodeToString(t)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any, []any:
		b, err := marshalJSON(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	case string:
		return t == ""
	}
	return false
}

// mediaType lowercases ct and drops its parameters.
func mediaType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

func isJSON(base string) bool {
	return base == "application/json" || strings.HasSuffix(base, "+json")
}

func isXML(base string) bool {
	return base == "application/xml" || base == "text/xml" || strings.HasSuffix(base, "+xml")
}
