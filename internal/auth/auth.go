// Package auth turns operator credentials into headers attached to every probe
// and document fetch.
package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// AuthType represents the type of authentication.
type AuthType string

const (
	AuthTypeNone   AuthType = "none"
	AuthTypeBearer AuthType = "bearer"
	AuthTypeBasic  AuthType = "basic"
	AuthTypeAPIKey AuthType = "apikey"
	AuthTypeCookie AuthType = "cookie"
)

// DefaultAPIKeyHeader is used when an API key is given without a header name.
const DefaultAPIKeyHeader = "X-API-Key"

// Credentials holds authentication credentials.
type Credentials struct {
	Type         AuthType
	Username     string
	Password     string
	Token        string
	APIKeyHeader string
	APIKey       string
	// Cookies is a raw "name=value; name2=value2" cookie string.
	Cookies string
}

// Provider yields the headers for authenticated requests.
type Provider interface {
	// Authenticate checks the credentials before any request is sent.
	Authenticate(ctx context.Context) error

	// Headers returns headers to include in requests
	Headers() map[string]string

	Type() AuthType
}

// ParseType parses an auth type name. "jwt" and "token" are accepted for bearer.
func ParseType(s string) (AuthType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return AuthTypeNone, nil
	case "bearer", "jwt", "token":
		return AuthTypeBearer, nil
	case "basic":
		return AuthTypeBasic, nil
	case "apikey", "api-key", "api_key":
		return AuthTypeAPIKey, nil
	case "cookie", "session":
		return AuthTypeCookie, nil
	}
	return AuthTypeNone, fmt.Errorf("unknown auth type %q", s)
}

// NewProvider creates an authentication provider based on credentials.
func NewProvider(creds Credentials) (Provider, error) {
	switch creds.Type {
	case AuthTypeNone, "":
		return &NoAuth{}, nil
	case AuthTypeBearer:
		return NewBearerAuth(creds.Token), nil
	case AuthTypeBasic:
		return NewBasicAuth(creds.Username, creds.Password), nil
	case AuthTypeAPIKey:
		return NewAPIKeyAuth(creds.APIKeyHeader, creds.APIKey), nil
	case AuthTypeCookie:
		return NewCookieAuth(creds.Cookies), nil
	}
	return nil, fmt.Errorf("unsupported auth type %q", creds.Type)
}

// Merge returns auth headers overlaid with explicit headers; explicit ones win.
// Header names are compared case-insensitively and stored in canonical form.
func Merge(authHeaders, explicit map[string]string) map[string]string {
	out := make(map[string]string, len(authHeaders)+len(explicit))
	for _, h := range []map[string]string{authHeaders, explicit} {
		for _, k := range sortedKeys(h) {
			out[http.CanonicalHeaderKey(k)] = h[k]
		}
	}
	return out
}

func sortedKeys(h map[string]string) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NoAuth represents no authentication.
type NoAuth struct{}

func (n *NoAuth) Authenticate(ctx context.Context) error { return nil }
func (n *NoAuth) Headers() map[string]string            { return nil }
func (n *NoAuth) Type() AuthType                        { return AuthTypeNone }

// BasicAuth sends HTTP basic credentials.
type BasicAuth struct {
	username string
	password string
}

// NewBasicAuth creates a basic authentication provider.
func NewBasicAuth(username, password string) *BasicAuth {
	return &BasicAuth{username: username, password: password}
}

func (b *BasicAuth) Authenticate(ctx context.Context) error {
	if b.username == "" {
		return fmt.Errorf("basic auth requires a username")
	}
	return nil
}

// Headers returns the Authorization header.
func (b *BasicAuth) Headers() map[string]string {
	if b.username == "" {
		return nil
	}
	cred := base64.StdEncoding.EncodeToString([]byte(b.username + ":" + b.password))
	return map[string]string{"Authorization": "Basic " + cred}
}

func (b *BasicAuth) Type() AuthType { return AuthTypeBasic }

// APIKeyAuth sends a key in a fixed header.
type APIKeyAuth struct {
	header string
	key    string
}

// NewAPIKeyAuth creates an API key provider. An empty header name uses
// DefaultAPIKeyHeader.
func NewAPIKeyAuth(header, key string) *APIKeyAuth {
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	return &APIKeyAuth{header: header, key: key}
}

func (a *APIKeyAuth) Authenticate(ctx context.Context) error {
	if a.key == "" {
		return fmt.Errorf("API key auth requires a key")
	}
	return nil
}

func (a *APIKeyAuth) Headers() map[string]string {
	if a.key == "" {
		return nil
	}
	return map[string]string{a.header: a.key}
}

func (a *APIKeyAuth) Type() AuthType { return AuthTypeAPIKey }

// CookieAuth replays session cookies.
type CookieAuth struct {
	mu      sync.RWMutex
	cookies []*http.Cookie
}

// NewCookieAuth parses a raw cookie string such as "sid=abc; theme=dark".
func NewCookieAuth(raw string) *CookieAuth {
	cookies, _ := http.ParseCookie(raw)
	return &CookieAuth{cookies: cookies}
}

func (c *CookieAuth) Authenticate(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.cookies) == 0 {
		return fmt.Errorf("cookie auth requires at least one name=value cookie")
	}
	return nil
}

// Headers returns the Cookie header.
func (c *CookieAuth) Headers() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.cookies) == 0 {
		return nil
	}
	parts := make([]string, 0, len(c.cookies))
	for _, ck := range c.cookies {
		parts = append(parts, ck.Name+"="+ck.Value)
	}
	return map[string]string{"Cookie": strings.Join(parts, "; ")}
}

// AddCookie adds or replaces a cookie.
func (c *CookieAuth) AddCookie(cookie *http.Cookie) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, existing := range c.cookies {
		if existing.Name == cookie.Name {
			c.cookies[i] = cookie
			return
		}
	}
	c.cookies = append(c.cookies, cookie)
}

func (c *CookieAuth) Type() AuthType { return AuthTypeCookie }
