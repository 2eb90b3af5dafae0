// Package shutdown turns SIGINT/SIGTERM into run cancellation. The first
// signal cancels the run context so in-flight probes finish, queued tasks are
// recorded as cancelled and the report is still written; a second signal
// calls the force handler.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Callback runs during shutdown.
type Callback func(ctx context.Context) error

// Config holds shutdown configuration.
type Config struct {
	// Timeout bounds the cleanup callbacks as a whole.
	Timeout time.Duration
	Signals []os.Signal
	// OnSignal is called when the first signal arrives.
	OnSignal func(sig os.Signal)
	// OnForce is called on a second signal; the CLI exits there.
	OnForce func(sig os.Signal)
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 10 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// Handler owns the run context and the cleanup callbacks.
type Handler struct {
	mu            sync.Mutex
	callbacks     []Callback
	callbackNames []string

	signalled atomic.Int32
	stopping  atomic.Bool
	done      chan struct{}
	timeout   time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	sigChan  chan os.Signal
	stopOnce sync.Once
	quit     chan struct{}

	onSignal func(os.Signal)
	onForce  func(os.Signal)
}

// New creates a handler whose context derives from parent and starts
// listening for signals.
func New(parent context.Context, cfg Config) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	h := &Handler{
		done:     make(chan struct{}),
		timeout:  cfg.Timeout,
		ctx:      ctx,
		cancel:   cancel,
		sigChan:  make(chan os.Signal, 2),
		quit:     make(chan struct{}),
		onSignal: cfg.OnSignal,
		onForce:  cfg.OnForce,
	}
	signal.Notify(h.sigChan, cfg.Signals...)
	go h.listen()
	return h
}

func (h *Handler) listen() {
	for {
		select {
		case sig := <-h.sigChan:
			h.handle(sig)
		case <-h.quit:
			return
		}
	}
}

func (h *Handler) handle(sig os.Signal) {
	if h.signalled.Add(1) == 1 {
		if h.onSignal != nil {
			h.onSignal(sig)
		}
		h.cancel()
		return
	}
	if h.onForce != nil {
		h.onForce(sig)
	}
}

// Context is cancelled by the first signal, Cancel or Shutdown.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// Interrupted reports whether a signal was received.
func (h *Handler) Interrupted() bool {
	return h.signalled.Load() > 0
}

// Cancel cancels the run context without running callbacks.
func (h *Handler) Cancel() {
	h.cancel()
}

// Register adds a cleanup callback. Callbacks run in reverse order.
func (h *Handler) Register(name string, callback Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.callbacks = append(h.callbacks, callback)
	h.callbackNames = append(h.callbackNames, name)
}

// RegisterFunc registers a cleanup function that cannot fail.
func (h *Handler) RegisterFunc(name string, fn func()) {
	h.Register(name, func(ctx context.Context) error {
		fn()
		return nil
	})
}

// RegisterCloser registers anything with a Close method, such as a run store.
func (h *Handler) RegisterCloser(name string, c interface{ Close() error }) {
	h.Register(name, func(context.Context) error { return c.Close() })
}

// GracefulServer is a component stopped with a deadline, such as the
// metrics exporter.
type GracefulServer interface {
	Shutdown(ctx context.Context) error
}

// RegisterServer registers a GracefulServer.
func (h *Handler) RegisterServer(name string, server GracefulServer) {
	h.Register(name, server.Shutdown)
}

// Done is closed once Shutdown has run every callback.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Shutdown cancels the context, stops listening and runs the callbacks in
// reverse registration order. It returns the callback errors. Later calls
// return nil.
func (h *Handler) Shutdown() []error {
	if !h.stopping.CompareAndSwap(false, true) {
		return nil
	}
	h.cancel()
	h.stop()

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	h.mu.Lock()
	callbacks := append([]Callback(nil), h.callbacks...)
	names := append([]string(nil), h.callbackNames...)
	h.mu.Unlock()

	var errs []error
	for i := len(callbacks) - 1; i >= 0; i-- {
		if err := h.run(ctx, names[i], callbacks[i]); err != nil {
			errs = append(errs, err)
		}
	}
	close(h.done)
	return errs
}

func (h *Handler) stop() {
	h.stopOnce.Do(func() {
		signal.Stop(h.sigChan)
		close(h.quit)
	})
}

func (h *Handler) run(ctx context.Context, name string, callback Callback) error {
	done := make(chan error, 1)
	go func() {
		done <- callback(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &TimeoutError{CallbackName: name}
	}
}

// Trigger delivers sig as if it came from the OS.
func (h *Handler) Trigger(sig os.Signal) {
	select {
	case h.sigChan <- sig:
	default:
	}
}

// TimeoutError is returned when a callback outlives the shutdown timeout.
type TimeoutError struct {
	CallbackName string
}

func (e *TimeoutError) Error() string {
	return "shutdown callback timed out: " + e.CallbackName
}
