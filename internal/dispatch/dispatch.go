// Package dispatch fans endpoints out to a fixed pool of workers, sends every
// request they build and collects exactly one record per request.
package dispatch

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PentesterFlow/APIFuzz/internal/dialect"
	"github.com/PentesterFlow/APIFuzz/internal/errors"
	"github.com/PentesterFlow/APIFuzz/internal/logger"
	"github.com/PentesterFlow/APIFuzz/internal/output"
	"github.com/PentesterFlow/APIFuzz/internal/queue"
	"github.com/PentesterFlow/APIFuzz/internal/ratelimit"
)

// Builder turns an endpoint into requests. dialect.Strategy satisfies it.
type Builder interface {
	Build(ep dialect.Endpoint) ([]*dialect.ProbeRequest, error)
}

// Sender sends one request. It should return a result even on failure; a nil
// result is replaced by a failure record.
type Sender interface {
	Send(ctx context.Context, req *dialect.ProbeRequest) (*output.ProbeResult, error)
}

// State is the lifecycle position of a task.
type State int

const (
	Queued State = iota
	Building
	Sent
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Building:
		return "building"
	case Sent:
		return "sent"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event reports one finished request.
type Event struct {
	Worker int
	State  State
	Result *output.ProbeResult
}

// Config configures a Dispatcher.
type Config struct {
	// Threads is the exact number of workers. Values below 1 mean 1.
	Threads int
	// Delay is slept by each worker before every send.
	Delay time.Duration
	// Rate caps requests per second across workers. Zero is unlimited.
	Rate  float64
	Burst int
	// OnEvent is called once per finished request, from worker goroutines.
	OnEvent func(Event)
	Logger  *logger.Logger
}

// DefaultConfig returns a single-worker, unpaced configuration.
func DefaultConfig() Config {
	return Config{Threads: 1, Burst: 1}
}

// Dispatcher runs endpoints through a Builder and a Sender.
type Dispatcher struct {
	builder Builder
	sender  Sender
	config  Config
	limiter *ratelimit.Limiter
	log     *logger.Logger

	mu      sync.Mutex
	results []*output.ProbeResult
}

// New creates a Dispatcher.
func New(b Builder, s Sender, config Config) *Dispatcher {
	if config.Threads < 1 {
		config.Threads = 1
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	d := &Dispatcher{
		builder: b,
		sender:  s,
		config:  config,
		log:     config.Logger.WithComponent("dispatch"),
	}
	if config.Rate > 0 {
		d.limiter = ratelimit.NewLimiter(config.Rate, config.Burst)
	}
	return d
}

// Run processes every endpoint and returns the records sorted by endpoint
// index, stable within an endpoint. When ctx is cancelled the endpoints still
// queued are recorded as cancelled failures and a Cancelled error is returned
// along with the complete record set.
func (d *Dispatcher) Run(ctx context.Context, eps []dialect.Endpoint) ([]*output.ProbeResult, error) {
	d.mu.Lock()
	d.results = make([]*output.ProbeResult, 0, len(eps))
	d.mu.Unlock()

	q := queue.New(eps...)
	start := time.Now()

	var g errgroup.Group
	for w := 0; w < d.config.Threads; w++ {
		id := w
		g.Go(func() error {
			d.worker(ctx, id, q)
			return nil
		})
	}
	_ = g.Wait()

	q.Close()
	remaining := q.Drain()
	for _, ep := range remaining {
		d.fail(-1, endpointRecord(ep), errors.NewCancelledError(ep.Path, ep.Operation))
	}

	d.mu.Lock()
	results := d.results
	d.results = nil
	d.mu.Unlock()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Index < results[j].Index
	})

	d.log.Event(logger.InfoLevel).
		Int("endpoints", len(eps)).
		Int("records", len(results)).
		Int("cancelled", len(remaining)).
		Dur("elapsed", time.Since(start)).
		Msg("dispatch finished")

	if err := ctx.Err(); err != nil {
		return results, errors.NewCancelledError("", "dispatch")
	}
	return results, nil
}

// worker drains the queue until it is empty or ctx is done.
func (d *Dispatcher) worker(ctx context.Context, id int, q *queue.Queue[dialect.Endpoint]) {
	log := d.log.WithWorker(id)
	pacer := ratelimit.NewPacer(d.config.Delay)
	for ctx.Err() == nil {
		ep, err := q.Pop()
		if err != nil {
			return
		}
		d.process(ctx, id, ep, pacer, log)
	}
}

// process runs one task. Build errors, send errors and panics all end as
// failure records; nothing escapes to other tasks.
func (d *Dispatcher) process(ctx context.Context, id int, ep dialect.Endpoint, pacer *ratelimit.Pacer, log *logger.Logger) {
	var (
		reqs []*dialect.ProbeRequest
		done int
	)
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		perr := errors.New(errors.Unknown, ep.Path, ep.Operation, fmt.Sprintf("panic: %v", r), nil)
		log.ErrorEvent(perr, ep.Path, ep.Operation)
		if done >= len(reqs) {
			d.fail(id, endpointRecord(ep), perr)
			return
		}
		for _, req := range reqs[done:] {
			d.fail(id, requestRecord(req), perr)
		}
	}()

	log.Event(logger.DebugLevel).Int("endpoint", ep.Index).Str("state", Building.String()).Msg("task")
	built, err := d.builder.Build(ep)
	if err != nil {
		log.ErrorEvent(err, ep.Path, ep.Operation)
		d.fail(id, endpointRecord(ep), err)
		return
	}
	if len(built) == 0 {
		d.fail(id, endpointRecord(ep), errors.NewBuildError(ep.Path, ep.Operation, fmt.Errorf("no requests built")))
		return
	}
	reqs = built

	for _, req := range reqs {
		if err := d.wait(ctx, pacer); err != nil {
			for _, rest := range reqs[done:] {
				d.fail(id, requestRecord(rest), errors.NewCancelledError(rest.URL, rest.Operation))
			}
			done = len(reqs)
			return
		}

		log.Event(logger.DebugLevel).Int("endpoint", ep.Index).Str("state", Sent.String()).Msg("task")
		res, err := d.sender.Send(ctx, req)
		done++
		switch {
		case res == nil:
			if err == nil {
				err = errors.New(errors.Unknown, req.URL, req.Operation, "no result", nil)
			}
			d.fail(id, requestRecord(req), err)
		case err != nil || res.Failed():
			d.record(id, Failed, res)
		default:
			d.record(id, Completed, res)
		}
	}
}

func (d *Dispatcher) wait(ctx context.Context, pacer *ratelimit.Pacer) error {
	if err := pacer.Wait(ctx); err != nil {
		return err
	}
	if d.limiter != nil {
		return d.limiter.Wait(ctx)
	}
	return ctx.Err()
}

// record appends res to the collector and publishes its event.
func (d *Dispatcher) record(worker int, state State, res *output.ProbeResult) {
	d.mu.Lock()
	d.results = append(d.results, res)
	d.mu.Unlock()

	d.log.ProbeEvent(res.Method, res.URL, res.Status, res.Elapsed)
	if d.config.OnEvent != nil {
		d.config.OnEvent(Event{Worker: worker, State: state, Result: res})
	}
}

func (d *Dispatcher) fail(worker int, res *output.ProbeResult, err error) {
	res.Status = output.StatusError
	res.Error = ErrorMessage(err)
	res.ErrorKind = errors.KindOf(err).String()
	d.record(worker, Failed, res)
}

// ErrorMessage returns the simplified message reports show for err.
func ErrorMessage(err error) string {
	var pe *errors.ProbeError
	if stderrors.As(err, &pe) {
		return pe.Short()
	}
	return errors.Simplify(err.Error())
}

func endpointRecord(ep dialect.Endpoint) *output.ProbeResult {
	return &output.ProbeResult{
		Index:          ep.Index,
		Method:         ep.Method,
		URL:            ep.Path,
		RequestHeaders: "{}",
		Operation:      ep.Operation,
	}
}

func requestRecord(req *dialect.ProbeRequest) *output.ProbeResult {
	return &output.ProbeResult{
		Index:          req.Endpoint,
		Method:         req.Method,
		URL:            req.URL,
		RequestHeaders: "{}",
		RequestBody:    req.BodyText(),
		Service:        req.Service,
		Operation:      req.Operation,
		Namespace:      req.Namespace,
	}
}
