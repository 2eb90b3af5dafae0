package apifuzz

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/APIFuzz/internal/auth"
	"github.com/PentesterFlow/APIFuzz/internal/dialect"
	"github.com/PentesterFlow/APIFuzz/internal/output"
)

// DefaultProxy is used when a proxy is requested without an address.
const DefaultProxy = "http://127.0.0.1:8080"

// Config holds all fuzzer configuration.
type Config struct {
	// Target is the document URL, or the API base URL when File is a path
	// relative to the target host.
	Target string `json:"target" yaml:"target"`

	// File is a local document path tried before fetching.
	File string `json:"file" yaml:"file"`

	// Number of concurrent workers
	Threads int `json:"threads" yaml:"threads"`

	// Delay each worker sleeps before every request; 100ms by default, 0 disables pacing
	Delay time.Duration `json:"delay" yaml:"delay"`

	// Request timeout
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	Proxy string `json:"proxy" yaml:"proxy"`

	// Headers are added to every probe, overriding generated ones.
	Headers map[string]string `json:"headers" yaml:"headers"`

	// TypeCatalog is a path or URL of a type catalog used for SOAP values.
	TypeCatalog string `json:"type_catalog" yaml:"type_catalog"`

	Auth AuthConfig `json:"auth" yaml:"auth"`

	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`

	// MaxProperties caps properties per generated object; zero is unlimited.
	MaxProperties int `json:"max_properties" yaml:"max_properties"`

	// Seed fixes value selection; zero picks a random seed.
	Seed uint64 `json:"seed" yaml:"seed"`

	SOAP SOAPConfig `json:"soap" yaml:"soap"`

	Output OutputConfig `json:"output" yaml:"output"`

	State StateConfig `json:"state" yaml:"state"`

	// MetricsAddr exposes Prometheus metrics when set, e.g. ":9090".
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"`

	// Progress draws a progress bar on stderr.
	Progress bool `json:"progress" yaml:"progress"`

	// Verbose logging
	Verbose bool `json:"verbose" yaml:"verbose"`

	// Debug mode
	Debug bool `json:"debug" yaml:"debug"`
}

// AuthConfig holds credentials attached to every probe and document fetch.
type AuthConfig struct {
	// Type is none, bearer, basic, apikey or cookie.
	Type         string `json:"type" yaml:"type"`
	Username     string `json:"username,omitempty" yaml:"username,omitempty"`
	Password     string `json:"password,omitempty" yaml:"password,omitempty"`
	Token        string `json:"token,omitempty" yaml:"token,omitempty"`
	APIKeyHeader string `json:"api_key_header,omitempty" yaml:"api_key_header,omitempty"`
	APIKey       string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Cookies      string `json:"cookies,omitempty" yaml:"cookies,omitempty"`
}

// Credentials converts the configuration for the auth package.
func (a AuthConfig) Credentials() (auth.Credentials, error) {
	typ, err := auth.ParseType(a.Type)
	if err != nil {
		return auth.Credentials{}, err
	}
	return auth.Credentials{
		Type:         typ,
		Username:     a.Username,
		Password:     a.Password,
		Token:        a.Token,
		APIKeyHeader: a.APIKeyHeader,
		APIKey:       a.APIKey,
		Cookies:      a.Cookies,
	}, nil
}

// RateLimitConfig caps the aggregate request rate.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `json:"burst" yaml:"burst"`
}

// SOAPConfig tunes WSDL and ASMX probing.
type SOAPConfig struct {
	// DualNamespace sends a second ASMX request with the URL-derived
	// namespace when it differs from the page namespace.
	DualNamespace bool `json:"dual_namespace" yaml:"dual_namespace"`
	// DetailConcurrency bounds concurrent ASMX detail page fetches.
	DetailConcurrency int `json:"detail_concurrency" yaml:"detail_concurrency"`
	// Discovery lists ASMX operation discovery methods in priority order.
	Discovery []string `json:"discovery" yaml:"discovery"`
}

// OutputConfig selects the report format and destination.
type OutputConfig struct {
	Format string `json:"format" yaml:"format"`
	// Path of the report file; empty uses a timestamped default name.
	Path   string `json:"path" yaml:"path"`
	Pretty bool   `json:"pretty" yaml:"pretty"`
	// Stream writes records as they complete instead of in endpoint order.
	Stream bool `json:"stream" yaml:"stream"`
	// Quiet suppresses live result lines and the summary.
	Quiet   bool `json:"quiet" yaml:"quiet"`
	NoColor bool `json:"no_color" yaml:"no_color"`
}

// StateConfig controls run persistence.
type StateConfig struct {
	// Path of the bbolt database, or a directory for one file per run.
	// Empty keeps runs in memory only.
	Path string `json:"path" yaml:"path"`
}

// DefaultConfig returns a configuration with the command line defaults.
func DefaultConfig() *Config {
	return &Config{
		Threads: 1,
		Delay:   100 * time.Millisecond,
		Timeout: 30 * time.Second,
		Headers: map[string]string{},
		RateLimit: RateLimitConfig{
			Burst: 1,
		},
		SOAP: SOAPConfig{
			DualNamespace:     true,
			DetailConcurrency: 4,
		},
		Output: OutputConfig{
			Format: output.FormatCSV,
			Pretty: true,
		},
		Progress: true,
	}
}

// LoadFromFile loads configuration from a file (YAML or JSON) over the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	config.Headers = CanonicalHeaders(config.Headers)

	return config, nil
}

// SaveToFile saves configuration as JSON when path ends in ".json", YAML
// otherwise.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Target == "" && c.File == "" {
		return fmt.Errorf("target URL or document file is required")
	}

	if c.Threads < 1 {
		return fmt.Errorf("threads must be at least 1")
	}

	if c.Delay < 0 {
		return fmt.Errorf("delay must not be negative")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}

	if c.MaxProperties < 0 {
		return fmt.Errorf("max properties must not be negative")
	}

	if !output.ValidFormat(c.Output.Format) {
		return fmt.Errorf("unsupported output format %q", c.Output.Format)
	}

	if _, err := c.discovery(); err != nil {
		return err
	}

	if _, err := c.Auth.Credentials(); err != nil {
		return err
	}

	return nil
}

func (c *Config) discovery() ([]dialect.DiscoveryMethod, error) {
	methods := make([]dialect.DiscoveryMethod, 0, len(c.SOAP.Discovery))
	for _, name := range c.SOAP.Discovery {
		m, err := dialect.ParseDiscoveryMethod(name)
		if err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}
	return methods, nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	data, _ := json.Marshal(c)
	clone := &Config{}
	json.Unmarshal(data, clone)
	return clone
}

// SetHeader stores value under the canonical form of name, replacing the
// header in any other letter case.
func (c *Config) SetHeader(name, value string) {
	if c.Headers == nil {
		c.Headers = make(map[string]string)
	}
	c.Headers[http.CanonicalHeaderKey(name)] = value
}

// CanonicalHeaders rekeys h by canonical header names. Of two keys differing
// only in case, the one sorting last wins.
func CanonicalHeaders(h map[string]string) map[string]string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]string, len(h))
	for _, k := range keys {
		out[http.CanonicalHeaderKey(k)] = h[k]
	}
	return out
}

// ParseHeaders turns "Name: value" arguments into a header map keyed by
// canonical header names. Arguments without a colon are ignored; later
// duplicates win, whatever their case.
func ParseHeaders(args []string) map[string]string {
	headers := make(map[string]string, len(args))
	for _, h := range args {
		k, v, ok := strings.Cut(h, ":")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		headers[http.CanonicalHeaderKey(k)] = strings.TrimSpace(v)
	}
	return headers
}
