package dialect

import (
	"strconv"
	"strings"

	"github.com/PentesterFlow/APIFuzz/internal/catalog"
	"github.com/PentesterFlow/APIFuzz/internal/document"
	"github.com/PentesterFlow/APIFuzz/internal/synth"
)

// soapPools returns fresh value pools keyed by XSD type name.
func soapPools() map[string][]any {
	return map[string][]any{
		"string":   {"test", "admin", "user", "guest", "null", "", strings.Repeat("a", 1000)},
		"int":      {1, 0, -1, 999999, -999999},
		"boolean":  {true, false},
		"double":   {1.0, 0.0, -1.0, 3.14159, 1e10, -1e10},
		"date":     {"2023-01-01", "2023-12-31", "1970-01-01", "2099-12-31"},
		"dateTime": {"2023-01-01T00:00:00Z", "2023-12-31T23:59:59Z"},
	}
}

// nameRule biases values toward what a parameter name suggests.
type nameRule struct {
	keywords []string
	values   []string
}

// nameRules are tried in order; the first rule with a keyword contained in the
// lowercased parameter name wins. The id rule's last value is replaced by a
// random number at pick time.
var nameRules = []nameRule{
	{[]string{"id", "uid", "guid"}, []string{"1", "12345", "test-id-001", ""}},
	{[]string{"url", "uri", "link", "address"}, []string{
		"http://example.com", "https://test.com/api", "ftp://files.example.com",
		"file:///etc/passwd", "javascript:alert(1)",
	}},
	{[]string{"email", "mail"}, []string{
		"test@example.com", "admin@test.com", "user+test@domain.co.uk", "invalid-email", "test@",
	}},
	{[]string{"path", "file", "dir", "folder"}, []string{
		"/tmp/test.txt", `C:\Users\test\file.txt`, "test/file.txt", "data/config.xml", "/home/user/document.pdf",
	}},
	{[]string{"status", "code", "state"}, []string{"0", "1", "200", "404", "500", "active", "inactive", "pending"}},
	{[]string{"user", "username", "account"}, []string{"admin", "user", "test", "guest", "demo_user", "test_account"}},
	{[]string{"data", "message", "content", "body"}, []string{
		`{"test": "data"}`, "<xml>test</xml>", "test message content", "sample data payload", strings.Repeat("A", 100),
	}},
}

// soapValues draws SOAP parameter values from typed pools.
type soapValues struct {
	synth   *synth.Synthesizer
	pools   map[string][]any
	catalog *catalog.Catalog
}

func newSOAPValues(s *synth.Synthesizer, c *catalog.Catalog) *soapValues {
	pools := soapPools()
	if c != nil {
		catalog.MergePools(pools)
	}
	return &soapValues{synth: s, pools: pools, catalog: c}
}

// pick returns a random member of the named pool rendered as text, or "test"
// when the pool does not exist.
func (v *soapValues) pick(pool string) string {
	values, ok := v.pools[pool]
	if !ok || len(values) == 0 {
		return "test"
	}
	return soapText(v.synth.Pick(values))
}

// forPart returns the value of a WSDL message part. A catalog match on the part
// name wins, then the XSD type, then the name heuristics.
func (v *soapValues) forPart(name, xsdType string) string {
	if xsdType == "" {
		return v.pick("string")
	}
	if val, ok := v.catalog.ParamValue(name); ok {
		return soapText(val)
	}

	switch typ := document.LocalName(xsdType); typ {
	case "string", "int", "double", "date", "dateTime":
		return v.pick(typ)
	case "float":
		return v.pick("double")
	case "boolean":
		return v.pick("boolean")
	default:
		return v.byName(name)
	}
}

// byName applies nameRules, falling back to the string pool.
func (v *soapValues) byName(name string) string {
	lower := strings.ToLower(name)
	for i, rule := range nameRules {
		for _, kw := range rule.keywords {
			if !strings.Contains(lower, kw) {
				continue
			}
			val := v.synth.PickString(rule.values)
			if i == 0 && val == "" {
				val = strconv.Itoa(1 + v.synth.Intn(99999))
			}
			return val
		}
	}
	return v.pick("string")
}

// forLabel maps a type label from an ASMX help page to a value.
func (v *soapValues) forLabel(label string) string {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "string", "str":
		return v.pick("string")
	case "int", "integer":
		return v.pick("int")
	case "boolean", "bool":
		return v.pick("boolean")
	case "double", "float":
		return v.pick("double")
	}
	return v.pick("string")
}

// paramSchema is the descriptor SOAP strategies expand: a parameter name and
// its declared type, either an XSD QName or a help-page label.
func paramSchema(name, typ string) map[string]any {
	return map[string]any{"name": name, "type": typ}
}

// soapText renders a pool value the way it appears inside an XML element.
func soapText(v any) string {
	switch t := v.(type) {
	case float64:
		s := strconv.FormatFloat(t, 'f', -1, 64)
		if !strings.ContainsAny(s, ".eEn") {
			s += ".0"
		}
		return s
	}
	return Stringify(v)
}
