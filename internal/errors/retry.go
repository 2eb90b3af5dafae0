package errors

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// RetryConfig configures retries of document, catalog and detail-page retrieval.
type RetryConfig struct {
	MaxRetries   int           // 0 = single attempt
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // fraction of the delay, 0-1
}

// DefaultRetryConfig returns the retrieval defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

// Retrier runs a retrieval with exponential backoff.
type Retrier struct {
	config RetryConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRetrier creates a Retrier.
func NewRetrier(config RetryConfig) *Retrier {
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	return &Retrier{
		config: config,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RetryResult describes a finished Do call.
type RetryResult struct {
	Attempts  int
	LastError error
	Duration  time.Duration
	Success   bool
}

// Do calls fn until it succeeds, returns a non-retryable error, exhausts MaxRetries
// or ctx is done.
func (r *Retrier) Do(ctx context.Context, operation, url string, fn func(ctx context.Context) error) *RetryResult {
	res := &RetryResult{}
	start := time.Now()
	delay := r.config.InitialDelay

	for attempt := 0; ; attempt++ {
		res.Attempts++
		err := fn(ctx)
		if err == nil {
			res.Success = true
			break
		}
		res.LastError = err

		if ctx.Err() != nil {
			res.LastError = NewCancelledError(url, operation)
			break
		}
		if attempt >= r.config.MaxRetries || !IsRetryable(err) {
			break
		}

		select {
		case <-ctx.Done():
			res.LastError = NewCancelledError(url, operation)
			res.Duration = time.Since(start)
			return res
		case <-time.After(r.jittered(delay)):
		}

		delay = time.Duration(float64(delay) * r.config.Multiplier)
		if r.config.MaxDelay > 0 && delay > r.config.MaxDelay {
			delay = r.config.MaxDelay
		}
	}

	res.Duration = time.Since(start)
	return res
}

func (r *Retrier) jittered(d time.Duration) time.Duration {
	if r.config.Jitter <= 0 || d <= 0 {
		return d
	}
	r.mu.Lock()
	f := r.rng.Float64()
	r.mu.Unlock()
	j := r.config.Jitter * float64(d)
	return time.Duration(float64(d) + f*2*j - j)
}

// DoWithResult is Do for functions that produce a value.
func DoWithResult[T any](ctx context.Context, r *Retrier, operation, url string, fn func(ctx context.Context) (T, error)) (T, *RetryResult) {
	var out T
	res := r.Do(ctx, operation, url, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, res
}
