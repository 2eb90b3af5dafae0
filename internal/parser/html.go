// Package parser extracts structure from ASP.NET web service help pages.
package parser

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLParser parses service help pages relative to the service URL.
type HTMLParser struct {
	baseURL *url.URL
}

// NewHTMLParser creates a parser resolving links against baseURL.
func NewHTMLParser(baseURL string) (*HTMLParser, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	return &HTMLParser{baseURL: u}, nil
}

// Page holds the elements of a help page that operation discovery looks at.
// Text values are trimmed; empty ones are dropped.
type Page struct {
	Title     string
	Headings  []string
	ListLinks []string
	Cells     []string
	Inputs    []InputInfo
	// OperationLinks are the "?op=" detail links, resolved and deduplicated, in
	// page order.
	OperationLinks []OperationLink
}

// InputInfo is a named form input.
type InputInfo struct {
	Name string
	Type string
}

// OperationLink points at the detail page of one operation.
type OperationLink struct {
	Operation string
	URL       string
}

// Parse parses a help page.
func (p *HTMLParser) Parse(html string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	page := &Page{
		Headings:       make([]string, 0),
		ListLinks:      make([]string, 0),
		Cells:          make([]string, 0),
		Inputs:         make([]InputInfo, 0),
		OperationLinks: make([]OperationLink, 0),
	}

	page.Title = strings.TrimSpace(doc.Find("h1").First().Text())

	doc.Find("h2").Each(func(i int, s *goquery.Selection) {
		appendText(&page.Headings, s)
	})

	// Only anchors that open the list item count as operation entries.
	doc.Find("li").Each(func(i int, s *goquery.Selection) {
		if first := leadingNode(s); first != nil && first.Is("a") {
			appendText(&page.ListLinks, first)
		}
	})

	doc.Find("td").Each(func(i int, s *goquery.Selection) {
		appendText(&page.Cells, s)
	})

	doc.Find("input[name]").Each(func(i int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		if name = strings.TrimSpace(name); name == "" {
			return
		}
		typ, _ := s.Attr("type")
		page.Inputs = append(page.Inputs, InputInfo{Name: name, Type: strings.ToLower(typ)})
	})

	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !strings.Contains(href, "?op=") {
			return
		}
		resolved := p.resolveURL(href)
		if resolved == "" || seen[resolved] {
			return
		}
		seen[resolved] = true
		page.OperationLinks = append(page.OperationLinks, OperationLink{
			Operation: OperationFromURL(resolved),
			URL:       resolved,
		})
	})

	return page, nil
}

// leadingNode returns the first child node of s that is not blank text.
func leadingNode(s *goquery.Selection) *goquery.Selection {
	var first *goquery.Selection
	s.Contents().EachWithBreak(func(i int, c *goquery.Selection) bool {
		if goquery.NodeName(c) == "#text" && strings.TrimSpace(c.Text()) == "" {
			return true
		}
		first = c
		return false
	})
	return first
}

func appendText(dst *[]string, s *goquery.Selection) {
	if text := strings.TrimSpace(s.Text()); text != "" {
		*dst = append(*dst, text)
	}
}

// OperationFromURL returns the "op" query value of rawURL, or "unknown".
func OperationFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unknown"
	}
	if op := u.Query().Get("op"); op != "" {
		return op
	}
	return "unknown"
}

// resolveURL resolves a relative URL against the base URL.
func (p *HTMLParser) resolveURL(href string) string {
	if href == "" {
		return ""
	}

	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "data:") {
		return ""
	}

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}

	return p.baseURL.ResolveReference(ref).String()
}
