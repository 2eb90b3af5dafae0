package document

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	apierrors "github.com/PentesterFlow/APIFuzz/internal/errors"
)

// Fetcher retrieves remote content.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Parse detects the dialect of raw and builds the matching Document. origin is the
// URL the content came from; ASMX documents use it as their service URL.
func Parse(raw []byte, origin string) (Document, error) {
	dialect, tree, err := detect(raw)
	if err != nil {
		return nil, withSource(err, origin)
	}

	switch dialect {
	case OpenAPI3, Swagger2:
		return &RESTDocument{dialect: dialect, Tree: tree, Raw: raw, order: readKeyOrder(raw, tree)}, nil
	case WSDL:
		doc, err := ParseWSDL(raw)
		if err != nil {
			return nil, withSource(err, origin)
		}
		return doc, nil
	case ASMX:
		return ParseASMX(string(raw), origin), nil
	}
	return nil, apierrors.NewDocumentError(origin, "unsupported dialect", nil)
}

// ParseASMX wraps an ASMX index page. The service name is the first <h1>, falling
// back to the last path segment of serviceURL without ".asmx".
func ParseASMX(html, serviceURL string) *ASMXDocument {
	doc := &ASMXDocument{URL: serviceURL, HTML: html}
	if q, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		doc.ServiceName = strings.TrimSpace(q.Find("h1").First().Text())
	}
	if doc.ServiceName == "" {
		doc.ServiceName = ServiceNameFromURL(serviceURL)
	}
	return doc
}

// ServiceNameFromURL returns the last path segment of rawURL without its ".asmx"
// extension.
func ServiceNameFromURL(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	return strings.TrimSuffix(path.Base(strings.TrimRight(p, "/")), ".asmx")
}

// Load reads the document from file when it exists, otherwise fetches target.
func Load(ctx context.Context, file, target string, f Fetcher) (Document, error) {
	if file != "" {
		if raw, err := os.ReadFile(file); err == nil {
			return Parse(raw, target)
		} else if target == "" {
			return nil, apierrors.NewDocumentError(file, "cannot read document", err)
		}
	}
	if target == "" {
		return nil, apierrors.NewDocumentError("", "no document file or URL given", nil)
	}
	if f == nil {
		return nil, apierrors.NewDocumentError(target, "no fetcher configured", nil)
	}
	raw, err := f.Fetch(ctx, target)
	if err != nil {
		return nil, apierrors.NewDocumentError(target, "cannot retrieve document", err)
	}
	return Parse(raw, target)
}

// BaseURL returns scheme://host of target, the base that REST paths are joined to.
func BaseURL(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", apierrors.NewConfigError("url", "target must be an absolute URL: "+target)
	}
	return u.Scheme + "://" + u.Host, nil
}

func withSource(err error, source string) error {
	var pe *apierrors.ProbeError
	if errors.As(err, &pe) && pe.URL == "" {
		cp := *pe
		cp.URL = source
		return &cp
	}
	return err
}
