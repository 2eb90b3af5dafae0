// Package apifuzz drives a full probing run: it loads an API document, extracts
// its endpoints, sends one request per operation and reports what came back.
package apifuzz

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PentesterFlow/APIFuzz/internal/auth"
	"github.com/PentesterFlow/APIFuzz/internal/catalog"
	"github.com/PentesterFlow/APIFuzz/internal/dialect"
	"github.com/PentesterFlow/APIFuzz/internal/dispatch"
	"github.com/PentesterFlow/APIFuzz/internal/document"
	apierrors "github.com/PentesterFlow/APIFuzz/internal/errors"
	apihttp "github.com/PentesterFlow/APIFuzz/internal/http"
	"github.com/PentesterFlow/APIFuzz/internal/logger"
	"github.com/PentesterFlow/APIFuzz/internal/metrics"
	"github.com/PentesterFlow/APIFuzz/internal/output"
	"github.com/PentesterFlow/APIFuzz/internal/progress"
	"github.com/PentesterFlow/APIFuzz/internal/state"
	"github.com/PentesterFlow/APIFuzz/internal/synth"
)

// Fuzzer is the run orchestrator.
type Fuzzer struct {
	config *Config

	log      *logger.Logger
	metrics  *metrics.Collector
	store    state.Store
	manager  *state.Manager
	sender   dispatch.Sender
	executor *apihttp.Executor
	fetcher  document.Fetcher
	// ownFetcher is set when the fetcher was built from the configuration and
	// must be rebuilt when the auth headers change.
	ownFetcher bool
	picker   synth.Picker
	breaker  *apierrors.CircuitBreaker

	consoleOut  io.Writer
	progressOut io.Writer

	running   atomic.Bool
	closeOnce sync.Once
	now       func() time.Time
}

// Target is where the document comes from and where probes go.
type Target struct {
	// DocumentURL is fetched when File is empty or unreadable.
	DocumentURL string
	// File is a local document path.
	File string
	// BaseURL is scheme://host, or the target itself when the document is
	// named separately.
	BaseURL string
}

// DetectResult describes a document without probing it.
type DetectResult struct {
	Dialect   string              `json:"dialect"`
	Info      document.Info       `json:"info"`
	Endpoints int                 `json:"endpoints"`
	Lint      document.LintReport `json:"lint"`
	Target    Target              `json:"target"`
}

// New creates a Fuzzer.
func New(opts ...Option) (*Fuzzer, error) {
	f := &Fuzzer{
		config: DefaultConfig(),
		now:    time.Now,
	}

	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := f.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if f.log == nil {
		level := logger.InfoLevel
		if f.config.Debug {
			level = logger.DebugLevel
		} else if !f.config.Verbose {
			level = logger.WarnLevel
		}
		f.log = logger.New(logger.Config{
			Level:     level,
			Pretty:    true,
			Component: "apifuzz",
		})
	}

	if f.metrics == nil {
		f.metrics = metrics.New()
	}

	if f.store == nil && f.config.State.Path != "" {
		store, err := state.Open(f.config.State.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open state store: %w", err)
		}
		f.store = store
	}
	f.manager = state.NewManager(f.store)

	if f.sender == nil {
		ec := apihttp.DefaultConfig()
		ec.Timeout = f.config.Timeout
		ec.Proxy = f.config.Proxy
		ec.MaxConnsPerHost = f.config.Threads * 2
		executor, err := apihttp.NewExecutor(ec)
		if err != nil {
			return nil, err
		}
		f.executor = executor
		f.sender = executor
	}

	if f.picker == nil {
		f.picker = synth.NewRandomPicker(f.config.Seed)
	}

	f.breaker = apierrors.NewCircuitBreaker(apierrors.DefaultCircuitBreakerConfig())
	f.breaker.OnStateChange(func(from, to apierrors.CircuitState) {
		f.log.Warnf("detail fetch circuit %s -> %s", from, to)
	})

	if f.consoleOut == nil && !f.config.Output.Quiet {
		f.consoleOut = os.Stdout
	}
	if f.progressOut == nil && f.config.Progress {
		f.progressOut = os.Stderr
	}

	return f, nil
}

// Config returns a copy of the configuration in effect.
func (f *Fuzzer) Config() *Config {
	return f.config.Clone()
}

// Metrics returns the run metrics collector.
func (f *Fuzzer) Metrics() *metrics.Collector {
	return f.metrics
}

// Manager returns the run manager.
func (f *Fuzzer) Manager() *state.Manager {
	return f.manager
}

// ResolveTarget works out the document location and the probe base URL from a
// target URL and an optional document file.
//
// A target naming a document (.json, .yaml, .yml, .asmx or a ?wsdl query) is
// fetched as is and probes go to its scheme://host. Otherwise the target is
// the API base: a readable local file is used as the document, and any other
// file name is fetched relative to the target host.
func ResolveTarget(target, file string) (Target, error) {
	if target == "" {
		if file == "" {
			return Target{}, apierrors.NewConfigError("url", "target URL or document file is required")
		}
		return Target{File: file}, nil
	}

	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Target{}, apierrors.NewConfigError("url", "target must be an absolute URL: "+target)
	}
	host := u.Scheme + "://" + u.Host

	if file == "" || namesDocument(u) {
		return Target{DocumentURL: target, File: file, BaseURL: host}, nil
	}

	base := strings.TrimRight(target, "/")
	if _, err := os.Stat(file); err == nil {
		return Target{DocumentURL: target, File: file, BaseURL: base}, nil
	}
	return Target{DocumentURL: host + "/" + strings.TrimLeft(file, "/"), BaseURL: base}, nil
}

func namesDocument(u *url.URL) bool {
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".json", ".yaml", ".yml", ".asmx", ".wsdl":
		return true
	}
	return strings.Contains(strings.ToLower(u.RawQuery), "wsdl")
}

// Detect loads and lints the document and counts its endpoints without sending
// any probes.
func (f *Fuzzer) Detect(ctx context.Context) (*DetectResult, error) {
	headers, err := f.prepare(ctx)
	if err != nil {
		return nil, err
	}
	tgt, doc, err := f.load(ctx)
	if err != nil {
		return nil, err
	}
	strategy, err := f.strategy(ctx, tgt, doc, headers)
	if err != nil {
		return nil, err
	}
	eps, err := strategy.Extract(ctx)
	if err != nil {
		return nil, err
	}
	return &DetectResult{
		Dialect:   doc.Dialect().String(),
		Info:      doc.Info(),
		Endpoints: len(eps),
		Lint:      document.Lint(ctx, doc),
		Target:    tgt,
	}, nil
}

// Run probes every endpoint of the document once and writes the report. When
// ctx is cancelled the partial run is still saved and reported, and the
// cancellation error is returned alongside it.
func (f *Fuzzer) Run(ctx context.Context) (*output.RunResult, error) {
	if !f.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("fuzzer is already running")
	}
	defer f.running.Store(false)

	if f.config.MetricsAddr != "" {
		addr, err := f.metrics.Serve(f.config.MetricsAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to start metrics exporter: %w", err)
		}
		f.log.Infof("Metrics exposed on http://%s/metrics", addr)
	}

	headers, err := f.prepare(ctx)
	if err != nil {
		return nil, err
	}
	tgt, doc, err := f.load(ctx)
	if err != nil {
		return nil, err
	}
	dialectName := doc.Dialect().String()
	info := doc.Info()

	lint := document.Lint(ctx, doc)
	for _, w := range lint.Warnings {
		f.log.Warnf("document: %s", w)
	}

	strategy, err := f.strategy(ctx, tgt, doc, headers)
	if err != nil {
		return nil, err
	}
	eps, err := strategy.Extract(ctx)
	if err != nil {
		return nil, err
	}
	f.log.DocumentEvent(dialectName, info.Title, len(eps))
	if lint.Operations > 0 && lint.Operations != len(eps) {
		f.log.WithFields(map[string]interface{}{
			"dialect":   dialectName,
			"linted":    lint.Operations,
			"extracted": len(eps),
		}).Debug("document lint and extraction disagree on operation count")
	}

	source := tgt.DocumentURL
	if source == "" {
		source = tgt.File
	}
	run := f.manager.Start(source, dialectName, info.Title)
	log := f.log.WithRun(run.ID)
	f.metrics.SetEndpoints(len(eps))

	var stream *streamSink
	if f.config.Output.Stream {
		if stream, err = f.openStream(run); err != nil {
			return nil, err
		}
	}

	var console *output.Console
	if f.consoleOut != nil {
		console = output.NewConsole(f.consoleOut, f.config.Output.NoColor)
	}
	var bar *progress.Display
	if f.progressOut != nil {
		bar = progress.NewWithWriter(f.progressOut)
		bar.Start(source, len(eps))
	}

	d := dispatch.New(strategy, f.sender, dispatch.Config{
		Threads: f.config.Threads,
		Delay:   f.config.Delay,
		Rate:    f.config.RateLimit.RequestsPerSecond,
		Burst:   f.config.RateLimit.Burst,
		Logger:  log,
		OnEvent: func(ev dispatch.Event) {
			if ev.Result == nil {
				return
			}
			f.metrics.Observe(dialectName, ev.Result)
			if bar != nil {
				bar.Record(ev.State == dispatch.Failed)
			}
			if console != nil {
				console.PrintResult(ev.Result)
			}
			if stream != nil {
				stream.write(ev.Result, log)
			}
		},
	})

	f.metrics.SetActiveWorkers(f.config.Threads)
	results, runErr := d.Run(ctx, eps)
	f.metrics.SetActiveWorkers(0)

	if bar != nil {
		bar.Stop()
	}

	if err := f.manager.Finish(run, len(eps), results); err != nil {
		log.Errorf("failed to save run: %v", err)
	}

	if stream != nil {
		if err := stream.close(); err != nil {
			log.Errorf("failed to finish report: %v", err)
		}
		run.ReportPath = stream.path
	} else {
		reportPath, err := WriteReport(run, f.config.Output, f.now())
		if err != nil {
			return run, err
		}
		run.ReportPath = reportPath
	}

	if console != nil {
		console.PrintSummary(results)
	}
	if bar != nil {
		bar.PrintSummary(len(eps))
	}
	log.StatsEvent(f.metrics.Snapshot().Summary())
	log.Infof("Results saved to %s", run.ReportPath)

	return run, runErr
}

// prepare checks credentials and returns the headers every request carries. A
// fetcher built from the configuration is rebuilt to carry them too.
func (f *Fuzzer) prepare(ctx context.Context) (map[string]string, error) {
	creds, err := f.config.Auth.Credentials()
	if err != nil {
		return nil, apierrors.NewConfigError("auth", err.Error())
	}
	provider, err := auth.NewProvider(creds)
	if err != nil {
		return nil, apierrors.NewConfigError("auth", err.Error())
	}
	if err := provider.Authenticate(ctx); err != nil {
		return nil, apierrors.NewConfigError("auth", err.Error())
	}
	if provider.Type() != auth.AuthTypeNone {
		f.log.Infof("Using %s credentials", provider.Type())
	}
	headers := auth.Merge(provider.Headers(), f.config.Headers)

	if f.fetcher == nil || f.ownFetcher {
		fc := apihttp.DefaultFetcherConfig()
		fc.Timeout = f.config.Timeout
		fc.Proxy = f.config.Proxy
		fc.Headers = headers
		fc.Logger = f.log
		fetcher, err := apihttp.NewFetcher(fc)
		if err != nil {
			return nil, err
		}
		f.fetcher = fetcher
		f.ownFetcher = true
	}
	return headers, nil
}

func (f *Fuzzer) load(ctx context.Context) (Target, document.Document, error) {
	tgt, err := ResolveTarget(f.config.Target, f.config.File)
	if err != nil {
		return Target{}, nil, err
	}
	doc, err := document.Load(ctx, tgt.File, tgt.DocumentURL, f.fetcher)
	if err != nil {
		return tgt, nil, err
	}
	return tgt, doc, nil
}

func (f *Fuzzer) strategy(ctx context.Context, tgt Target, doc document.Document, headers map[string]string) (dialect.Strategy, error) {
	var cat *catalog.Catalog
	if f.config.TypeCatalog != "" {
		c, err := catalog.Load(ctx, f.config.TypeCatalog, f.fetcher)
		if err != nil {
			return nil, err
		}
		cat = c
		f.log.WithField("catalog", f.config.TypeCatalog).Debugf("type catalog loaded: %d operations", len(c.Operations()))
	}

	discovery, err := f.config.discovery()
	if err != nil {
		return nil, err
	}

	opts := dialect.DefaultOptions()
	opts.BaseURL = tgt.BaseURL
	opts.ServiceURL = tgt.DocumentURL
	opts.Headers = headers
	opts.Synth = synth.New(f.picker)
	opts.MaxProperties = f.config.MaxProperties
	opts.Catalog = cat
	opts.Fetcher = f.fetcher
	opts.DetailConcurrency = f.config.SOAP.DetailConcurrency
	opts.DetailTimeout = f.config.Timeout
	opts.Breaker = f.breaker
	opts.DualNamespace = f.config.SOAP.DualNamespace
	if len(discovery) > 0 {
		opts.Discovery = discovery
	}
	opts.Logger = f.log

	return dialect.New(doc, opts)
}

// Close releases the exporter, the store and idle connections.
func (f *Fuzzer) Close() error {
	var firstErr error
	f.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := f.metrics.Shutdown(ctx); err != nil {
			firstErr = err
		}
		if f.executor != nil {
			f.executor.Close()
		}
		if err := f.manager.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}

// streamSink writes records to the report file as they complete.
type streamSink struct {
	mu   sync.Mutex
	path string
	w    output.Writer
}

func (f *Fuzzer) openStream(run *output.RunResult) (*streamSink, error) {
	p := reportPath(run, f.config.Output, f.now())
	file, err := os.Create(p)
	if err != nil {
		return nil, fmt.Errorf("failed to create report file: %w", err)
	}
	w, err := output.NewWriter(file, output.Config{
		Format: f.config.Output.Format,
		Layout: output.LayoutFor(run.Dialect),
		Pretty: f.config.Output.Pretty,
		Stream: true,
	})
	if err != nil {
		file.Close()
		return nil, err
	}
	return &streamSink{path: p, w: w}, nil
}

func (s *streamSink) write(res *output.ProbeResult, log *logger.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.WriteResult(res); err != nil {
		log.Warnf("failed to write record: %v", err)
	}
}

func (s *streamSink) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		s.w.Close()
		return err
	}
	return s.w.Close()
}
