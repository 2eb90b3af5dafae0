package http

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/PentesterFlow/APIFuzz/internal/dialect"
	"github.com/PentesterFlow/APIFuzz/internal/errors"
	"github.com/PentesterFlow/APIFuzz/internal/logger"
)

// FetcherConfig configures document, catalog and detail-page retrieval.
type FetcherConfig struct {
	Timeout       time.Duration
	Proxy         string
	SkipTLSVerify bool
	Headers       map[string]string
	Retry         errors.RetryConfig
	Logger        *logger.Logger
}

// DefaultFetcherConfig returns the retrieval defaults.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		Timeout:       30 * time.Second,
		SkipTLSVerify: true,
		Retry:         errors.DefaultRetryConfig(),
	}
}

// Fetcher retrieves remote content over resty, retrying transient failures.
// It satisfies document.Fetcher.
type Fetcher struct {
	client  *resty.Client
	retrier *errors.Retrier
	log     *logger.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(config FetcherConfig) (*Fetcher, error) {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}

	client := resty.New().
		SetTimeout(config.Timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10)).
		SetTLSClientConfig(&tls.Config{InsecureSkipVerify: config.SkipTLSVerify}).
		SetHeader("User-Agent", dialect.UserAgent)

	if config.Proxy != "" {
		u, err := ParseProxy(config.Proxy)
		if err != nil {
			return nil, err
		}
		client.SetProxy(u.String())
	}
	client.SetHeaders(config.Headers)

	return &Fetcher{
		client:  client,
		retrier: errors.NewRetrier(config.Retry),
		log:     config.Logger.WithComponent("fetch"),
	}, nil
}

// Fetch returns the body of target. Responses with status 400 and above are
// errors; 429 and 5xx are retried.
func (f *Fetcher) Fetch(ctx context.Context, target string) ([]byte, error) {
	body, res := errors.DoWithResult(ctx, f.retrier, "fetch", target, func(ctx context.Context) ([]byte, error) {
		return f.get(ctx, target)
	})
	if !res.Success {
		f.log.Event(logger.DebugLevel).
			Str("url", target).
			Int("attempts", res.Attempts).
			Err(res.LastError).
			Msg("fetch failed")
		return nil, res.LastError
	}
	f.log.Event(logger.DebugLevel).
		Str("url", target).
		Int("attempts", res.Attempts).
		Int("bytes", len(body)).
		Msg("fetched")
	return body, nil
}

func (f *Fetcher) get(ctx context.Context, target string) ([]byte, error) {
	resp, err := f.client.R().SetContext(ctx).Get(target)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewCancelledError(target, "fetch")
		}
		return nil, errors.NewFetchError(target, 0, err)
	}
	if resp.StatusCode() >= 400 {
		return nil, errors.NewFetchError(target, resp.StatusCode(), nil)
	}
	return resp.Body(), nil
}
