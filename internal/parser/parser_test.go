package parser

import (
	"testing"
)

// =============================================================================
// HTMLParser Tests
// =============================================================================

func TestNewHTMLParser(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{
			name:    "valid URL",
			baseURL: "https://example.com/Service.asmx",
			wantErr: false,
		},
		{
			name:    "invalid URL",
			baseURL: "://invalid",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewHTMLParser(tt.baseURL)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewHTMLParser() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && p == nil {
				t.Error("NewHTMLParser() returned nil parser")
			}
		})
	}
}

const helpPage = `
<html>
<body>
	<h1>UserService</h1>
	<h2>Test</h2>
	<ul>
		<li><a href="UserService.asmx?op=GetUser">GetUser</a></li>
		<li><a href="UserService.asmx?op=DeleteUser">DeleteUser</a> removes a user</li>
		<li><a href="UserService.asmx?op=GetUser">GetUser</a></li>
		<li>text first <a href="other.html">Other</a></li>
		<li><a href="javascript:void(0)?op=Bad">Bad</a></li>
	</ul>
	<table><tr><td>Operation</td><td> Ping </td><td></td></tr></table>
	<form>
		<input type="text" name="userId">
		<input type="submit" name="Invoke" value="Invoke">
		<input type="text">
	</form>
</body>
</html>`

func TestHTMLParser_Parse(t *testing.T) {
	p, _ := NewHTMLParser("http://svc.local/api/UserService.asmx")

	page, err := p.Parse(helpPage)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if page.Title != "UserService" {
		t.Errorf("Title = %q, want UserService", page.Title)
	}
	if len(page.Headings) != 1 || page.Headings[0] != "Test" {
		t.Errorf("Headings = %v, want [Test]", page.Headings)
	}
	// li whose first child is not an anchor is skipped
	if len(page.ListLinks) != 4 {
		t.Errorf("ListLinks = %v, want 4 entries", page.ListLinks)
	}
	if len(page.Cells) != 2 || page.Cells[1] != "Ping" {
		t.Errorf("Cells = %v, want [Operation Ping]", page.Cells)
	}
	if len(page.Inputs) != 2 {
		t.Errorf("Inputs = %v, want 2 named inputs", page.Inputs)
	}
}

func TestHTMLParser_OperationLinks(t *testing.T) {
	p, _ := NewHTMLParser("http://svc.local/api/UserService.asmx")

	page, err := p.Parse(helpPage)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := []OperationLink{
		{Operation: "GetUser", URL: "http://svc.local/api/UserService.asmx?op=GetUser"},
		{Operation: "DeleteUser", URL: "http://svc.local/api/UserService.asmx?op=DeleteUser"},
	}
	if len(page.OperationLinks) != len(want) {
		t.Fatalf("OperationLinks = %v, want %v", page.OperationLinks, want)
	}
	for i, l := range want {
		if page.OperationLinks[i] != l {
			t.Errorf("OperationLinks[%d] = %+v, want %+v", i, page.OperationLinks[i], l)
		}
	}
}

func TestOperationFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"http://a/S.asmx?op=Echo", "Echo"},
		{"http://a/S.asmx?op=", "unknown"},
		{"http://a/S.asmx", "unknown"},
		{"%zz", "unknown"},
	}
	for _, tt := range tests {
		if got := OperationFromURL(tt.url); got != tt.want {
			t.Errorf("OperationFromURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
