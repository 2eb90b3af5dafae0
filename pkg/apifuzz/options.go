package apifuzz

import (
	"io"
	"time"

	"github.com/PentesterFlow/APIFuzz/internal/dispatch"
	"github.com/PentesterFlow/APIFuzz/internal/document"
	"github.com/PentesterFlow/APIFuzz/internal/logger"
	"github.com/PentesterFlow/APIFuzz/internal/metrics"
	"github.com/PentesterFlow/APIFuzz/internal/state"
	"github.com/PentesterFlow/APIFuzz/internal/synth"
)

// Option is a functional option for configuring the Fuzzer.
type Option func(*Fuzzer) error

// WithConfig replaces the whole configuration. Options after it still apply.
func WithConfig(config *Config) Option {
	return func(f *Fuzzer) error {
		f.config = config.Clone()
		return nil
	}
}

// WithTarget sets the document or API URL.
func WithTarget(url string) Option {
	return func(f *Fuzzer) error {
		f.config.Target = url
		return nil
	}
}

// WithFile sets the local document path.
func WithFile(path string) Option {
	return func(f *Fuzzer) error {
		f.config.File = path
		return nil
	}
}

// WithThreads sets the number of workers.
func WithThreads(n int) Option {
	return func(f *Fuzzer) error {
		if n < 1 {
			n = 1
		}
		f.config.Threads = n
		return nil
	}
}

// WithDelay sets the per-worker delay before each request.
func WithDelay(d time.Duration) Option {
	return func(f *Fuzzer) error {
		f.config.Delay = d
		return nil
	}
}

// WithTimeout sets the request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(f *Fuzzer) error {
		f.config.Timeout = timeout
		return nil
	}
}

// WithProxy routes probes and document retrieval through proxy. An empty
// string selects DefaultProxy.
func WithProxy(proxy string) Option {
	return func(f *Fuzzer) error {
		if proxy == "" {
			proxy = DefaultProxy
		}
		f.config.Proxy = proxy
		return nil
	}
}

// WithHeader adds one extra header.
func WithHeader(key, value string) Option {
	return func(f *Fuzzer) error {
		f.config.SetHeader(key, value)
		return nil
	}
}

// WithHeaders adds extra headers.
func WithHeaders(headers map[string]string) Option {
	return func(f *Fuzzer) error {
		for k, v := range CanonicalHeaders(headers) {
			f.config.SetHeader(k, v)
		}
		return nil
	}
}

// WithAuth sets the credentials attached to probes and document fetches.
func WithAuth(a AuthConfig) Option {
	return func(f *Fuzzer) error {
		f.config.Auth = a
		return nil
	}
}

// WithTypeCatalog sets the type catalog path or URL.
func WithTypeCatalog(source string) Option {
	return func(f *Fuzzer) error {
		f.config.TypeCatalog = source
		return nil
	}
}

// WithRateLimit caps the aggregate request rate.
func WithRateLimit(rps float64, burst int) Option {
	return func(f *Fuzzer) error {
		f.config.RateLimit = RateLimitConfig{RequestsPerSecond: rps, Burst: burst}
		return nil
	}
}

// WithMaxProperties caps generated object sizes.
func WithMaxProperties(n int) Option {
	return func(f *Fuzzer) error {
		f.config.MaxProperties = n
		return nil
	}
}

// WithSeed fixes value selection.
func WithSeed(seed uint64) Option {
	return func(f *Fuzzer) error {
		f.config.Seed = seed
		return nil
	}
}

// WithOutput sets the report configuration.
func WithOutput(out OutputConfig) Option {
	return func(f *Fuzzer) error {
		f.config.Output = out
		return nil
	}
}

// WithStatePath persists runs at path.
func WithStatePath(path string) Option {
	return func(f *Fuzzer) error {
		f.config.State.Path = path
		return nil
	}
}

// WithMetricsAddr exposes Prometheus metrics on addr.
func WithMetricsAddr(addr string) Option {
	return func(f *Fuzzer) error {
		f.config.MetricsAddr = addr
		return nil
	}
}

// WithProgress toggles the progress bar.
func WithProgress(enabled bool) Option {
	return func(f *Fuzzer) error {
		f.config.Progress = enabled
		return nil
	}
}

// WithVerbose enables verbose logging.
func WithVerbose(verbose bool) Option {
	return func(f *Fuzzer) error {
		f.config.Verbose = verbose
		return nil
	}
}

// WithDebug enables debug logging.
func WithDebug(debug bool) Option {
	return func(f *Fuzzer) error {
		f.config.Debug = debug
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *logger.Logger) Option {
	return func(f *Fuzzer) error {
		f.log = l
		return nil
	}
}

// WithMetrics sets a custom metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(f *Fuzzer) error {
		f.metrics = m
		return nil
	}
}

// WithStore sets the run store, overriding State.Path.
func WithStore(s state.Store) Option {
	return func(f *Fuzzer) error {
		f.store = s
		return nil
	}
}

// WithPicker overrides the seeded value picker.
func WithPicker(p synth.Picker) Option {
	return func(f *Fuzzer) error {
		f.picker = p
		return nil
	}
}

// WithSender replaces the HTTP executor.
func WithSender(s dispatch.Sender) Option {
	return func(f *Fuzzer) error {
		f.sender = s
		return nil
	}
}

// WithFetcher replaces the document fetcher.
func WithFetcher(fetcher document.Fetcher) Option {
	return func(f *Fuzzer) error {
		f.fetcher = fetcher
		return nil
	}
}

// WithConsole writes live result lines and the summary to w.
func WithConsole(w io.Writer) Option {
	return func(f *Fuzzer) error {
		f.consoleOut = w
		return nil
	}
}

// WithProgressWriter draws the progress bar on w.
func WithProgressWriter(w io.Writer) Option {
	return func(f *Fuzzer) error {
		f.progressOut = w
		return nil
	}
}
