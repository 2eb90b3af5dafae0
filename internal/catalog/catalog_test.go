package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func mustLoad(t *testing.T) *Catalog {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", "library.xml"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	c, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return c
}

// ============================================================================
// Parse Tests
// ============================================================================

func TestParse_Library(t *testing.T) {
	c := mustLoad(t)

	if c.Library.Name != "BillingLibrary" {
		t.Errorf("Library.Name = %q, want BillingLibrary", c.Library.Name)
	}
	if c.Library.Version != "2.1" {
		t.Errorf("Library.Version = %q, want 2.1", c.Library.Version)
	}
	if len(c.Services) != 1 {
		t.Errorf("len(Services) = %d, want 1 (nameless service skipped)", len(c.Services))
	}
}

func TestParse_Defaults(t *testing.T) {
	c, err := Parse([]byte(`<Library/>`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if c.Library.Name != "Unknown" || c.Library.Version != "1.0" {
		t.Errorf("Library = %+v, want Unknown/1.0", c.Library)
	}
	if len(c.Operations()) != 0 {
		t.Errorf("Operations() = %d, want 0", len(c.Operations()))
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse([]byte("<Library><Services>")); err == nil {
		t.Error("Parse() of truncated XML should fail")
	}
}

func TestParse_Parameters(t *testing.T) {
	c := mustLoad(t)

	op := c.Services["BillingService"].Operations["GetInvoice"]
	if op == nil {
		t.Fatal("GetInvoice not found")
	}
	if len(op.Input) != 3 {
		t.Errorf("len(Input) = %d, want 3", len(op.Input))
	}
	if len(op.Output) != 1 || op.Output[0].Name != "Total" {
		t.Errorf("Output = %+v, want [Total]", op.Output)
	}
	if op.Result == nil || op.Result.DataType != "String" {
		t.Errorf("Result = %+v, want String result", op.Result)
	}
	for _, p := range op.Input {
		if !p.Required {
			t.Errorf("input %s should be required", p.Name)
		}
	}
	if op.Output[0].Required {
		t.Error("output parameter should not be required")
	}
}

// ============================================================================
// Lookup Tests
// ============================================================================

func TestOperations_Grouped(t *testing.T) {
	c := mustLoad(t)

	ops := c.Operations()
	if len(ops) != 2 {
		t.Fatalf("len(Operations()) = %d, want 2", len(ops))
	}
	if ops[0].Name != "GetInvoice" || ops[1].Name != "Ping" {
		t.Errorf("Operations() = [%s %s], want [GetInvoice Ping]", ops[0].Name, ops[1].Name)
	}
	if got := len(c.Services["BillingService"].Operations); got != 2 {
		t.Errorf("len(BillingService.Operations) = %d, want 2", got)
	}
}

func TestValue(t *testing.T) {
	tests := []struct {
		datatype, name string
		want           any
	}{
		{"String", "x", "test_string"},
		{"Integer", "x", 1},
		{"Variant", "x", "test_variant"},
		{"Boolean", "x", true},
		{"DateTime", "x", "2024-01-01T12:00:00Z"},
		{"SessionToken", "Token", "test_Token"},
		{"SessionToken", "", "test_value"},
	}
	for _, tt := range tests {
		if got := Value(tt.datatype, tt.name); got != tt.want {
			t.Errorf("Value(%s, %s) = %v, want %v", tt.datatype, tt.name, got, tt.want)
		}
	}
}

func TestParamValue(t *testing.T) {
	c := mustLoad(t)

	if v, ok := c.ParamValue("InvoiceId"); !ok || v != 1 {
		t.Errorf("ParamValue(InvoiceId) = %v, %v; want 1, true", v, ok)
	}
	if v, ok := c.ParamValue("Token"); !ok || v != "test_Token" {
		t.Errorf("ParamValue(Token) = %v, %v; want test_Token, true", v, ok)
	}
	if _, ok := c.ParamValue("Total"); ok {
		t.Error("output parameters should not match")
	}
	var nilCatalog *Catalog
	if _, ok := nilCatalog.ParamValue("InvoiceId"); ok {
		t.Error("nil catalog should never match")
	}
}

func TestMergePools(t *testing.T) {
	pools := map[string][]any{
		"string":  {"test", "admin"},
		"boolean": {true, false},
	}
	MergePools(pools)

	if got := len(pools["string"]); got != 7 {
		t.Errorf("len(string pool) = %d, want 7 (admin deduped)", got)
	}
	if got := len(pools["boolean"]); got != 6 {
		t.Errorf("len(boolean pool) = %d, want 6", got)
	}
	for _, k := range []string{"integer", "any", "datetime"} {
		if len(pools[k]) == 0 {
			t.Errorf("pool %q not created", k)
		}
	}
}

// ============================================================================
// Load Tests
// ============================================================================

type stubFetcher struct {
	body []byte
	err  error
	url  string
}

func (s *stubFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	s.url = url
	return s.body, s.err
}

func TestLoad_File(t *testing.T) {
	c, err := Load(context.Background(), filepath.Join("testdata", "library.xml"), nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := c.Services["BillingService"].Operations["Ping"]; !ok {
		t.Error("Ping not loaded")
	}
}

func TestLoad_URL(t *testing.T) {
	raw, _ := os.ReadFile(filepath.Join("testdata", "library.xml"))
	f := &stubFetcher{body: raw}

	c, err := Load(context.Background(), "http://catalog.local/bin.xml", f)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if f.url != "http://catalog.local/bin.xml" {
		t.Errorf("fetched %q", f.url)
	}
	if c.Library.Name != "BillingLibrary" {
		t.Errorf("Library.Name = %q", c.Library.Name)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(context.Background(), filepath.Join("testdata", "missing.xml"), nil); err == nil {
		t.Error("missing file should fail")
	}
	if _, err := Load(context.Background(), "http://catalog.local/bin.xml", nil); err == nil {
		t.Error("URL without fetcher should fail")
	}
	f := &stubFetcher{err: errors.New("connection refused")}
	if _, err := Load(context.Background(), "http://catalog.local/bin.xml", f); err == nil {
		t.Error("fetch failure should propagate")
	}
}
