// Package dispatch moves log messages from producers to providers.
//
// Producers call Enqueue, which never blocks. A single worker goroutine
// drains the transit queue in FIFO order and hands each message to every
// registered provider whose category filter accepts it. A failing provider
// never affects the producer or the other providers: failures are counted,
// logged, recorded in the dead letter queue and passed to the ErrorHandler.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"logpipe/internal/models"
	"logpipe/internal/providers"
	"logpipe/internal/queue"
	"logpipe/internal/utils"
)

var (
	// ErrShutdownTimeout is returned by Stop when queued messages or
	// provider flushes were abandoned at the shutdown deadline
	ErrShutdownTimeout = errors.New("dispatcher shutdown timed out")

	// ErrAlreadyStarted is returned by a second call to Start
	ErrAlreadyStarted = errors.New("dispatcher already started")

	// ErrStopped is returned by Start after Stop
	ErrStopped = errors.New("dispatcher stopped")

	// ErrNoDeadLetterQueue is returned by failure operations when no dead
	// letter queue is configured
	ErrNoDeadLetterQueue = errors.New("dead letter queue not configured")

	// ErrNilMessage is returned when enqueueing a nil message
	ErrNilMessage = errors.New("nil log message")

	// ErrProviderNotRegistered is returned when redelivering to a provider
	// that is no longer registered
	ErrProviderNotRegistered = errors.New("provider not registered")
)

// dropLogInterval rate-limits the "queue full" diagnostic.
const dropLogInterval = 1000

// ErrorHandler observes failed deliveries. It runs on the dispatcher worker
// and should return quickly.
type ErrorHandler func(d providers.Descriptor, msg *models.LogMessage, err error)

// Stats is a point-in-time view of the dispatcher counters.
type Stats struct {
	Queued    int   `json:"queued"`
	Capacity  int   `json:"capacity"`
	Dropped   int64 `json:"dropped"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Filtered  int64 `json:"filtered"`
	Providers int   `json:"providers"`
	Running   bool  `json:"running"`
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithDeadLetterQueue records failed deliveries in dlq.
func WithDeadLetterQueue(dlq queue.DeadLetterQueue) Option {
	return func(d *Dispatcher) { d.dlq = dlq }
}

// WithErrorHandler registers a callback for failed deliveries.
func WithErrorHandler(h ErrorHandler) Option {
	return func(d *Dispatcher) { d.onError = h }
}

// WithLogger replaces the diagnostic logger.
func WithLogger(l *utils.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// Dispatcher owns the transit queue and the delivery worker.
type Dispatcher struct {
	registry *providers.Registry
	queue    *queue.MemoryQueue
	dlq      queue.DeadLetterQueue
	config   Config
	logger   *utils.Logger
	onError  ErrorHandler

	delivered atomic.Int64
	failed    atomic.Int64
	filtered  atomic.Int64

	// abandon ends the deliveries still running once Stop gives up on them.
	abandonCtx context.Context
	abandon    context.CancelFunc

	mu           sync.Mutex
	started      bool
	stopped      bool
	cancelWorker context.CancelFunc
	stoppedChan  chan struct{}
	stopErr      error
}

// New creates a dispatcher delivering to the providers in registry.
func New(registry *providers.Registry, config Config, opts ...Option) *Dispatcher {
	config = config.withDefaults()

	d := &Dispatcher{
		registry: registry,
		queue: queue.NewMemoryQueue(&queue.Config{
			Capacity:     config.QueueCapacity,
			BatchSize:    config.BatchSize,
			BatchTimeout: config.BatchTimeout,
			QueueName:    "dispatch",
		}),
		config:      config,
		logger:      utils.NewLogger("dispatcher"),
		stoppedChan: make(chan struct{}),
	}
	d.abandonCtx, d.abandon = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the provider registry the dispatcher delivers to.
func (d *Dispatcher) Registry() *providers.Registry {
	return d.registry
}

// Enqueue hands msg to the worker without blocking. It returns false when
// the message was dropped because the queue is full or stopped.
func (d *Dispatcher) Enqueue(msg *models.LogMessage) bool {
	if err := d.TryEnqueue(msg); err != nil {
		d.ReportDrop(msg, err)
		return false
	}
	return true
}

// TryEnqueue is Enqueue without the drop diagnostic.
func (d *Dispatcher) TryEnqueue(msg *models.LogMessage) error {
	if msg == nil {
		return ErrNilMessage
	}
	return d.queue.TryEnqueue(msg)
}

// ReportDrop logs a dropped message, rate-limited to the first drop and
// every dropLogInterval-th after it.
func (d *Dispatcher) ReportDrop(msg *models.LogMessage, err error) {
	if msg == nil {
		return
	}
	if dropped := d.queue.Dropped(); dropped == 1 || dropped%dropLogInterval == 0 {
		d.logger.Warn("Dropping log message", "reason", err, "index", msg.Index, "dropped_total", dropped)
	}
}

// Start launches the worker goroutine. Cancelling ctx stops the worker
// without draining; use Stop for an orderly shutdown.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrStopped
	}
	if d.started {
		return ErrAlreadyStarted
	}
	d.started = true

	workerCtx, cancel := context.WithCancel(ctx)
	d.cancelWorker = cancel

	go d.run(workerCtx)
	d.logger.Info("Dispatcher started",
		"fan_out", d.config.FanOut,
		"queue_capacity", d.queue.Capacity(),
		"providers", d.registry.Len())
	return nil
}

// run is the main worker loop
func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.stoppedChan)

	// A batch that was already dequeued is delivered even when the worker is
	// being stopped, unless Stop abandons it at the shutdown deadline.
	deliveryCtx := d.abandonCtx

	for {
		items, err := d.queue.DequeueWithTimeout(ctx, d.config.BatchSize, d.config.BatchTimeout)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) || ctx.Err() != nil {
				d.logger.Debug("Dispatcher worker stopping", "reason", err)
				return
			}
			d.logger.Error("Failed to dequeue log messages", "error", err)
			continue
		}

		for _, msg := range items {
			if deliveryCtx.Err() != nil {
				return
			}
			d.deliver(deliveryCtx, msg)
		}
	}
}

// deliver fans msg out to the providers registered right now.
func (d *Dispatcher) deliver(ctx context.Context, msg *models.LogMessage) {
	regs := d.registry.Snapshot()

	targets := regs[:0:0]
	for _, reg := range regs {
		if reg.Provider.Filter().Allows(msg.Category) {
			targets = append(targets, reg)
		} else {
			d.filtered.Add(1)
		}
	}
	if len(targets) == 0 {
		return
	}

	if d.config.FanOut != Concurrent || len(targets) == 1 {
		for _, reg := range targets {
			d.deliverOne(ctx, reg, msg)
		}
		return
	}

	// All providers finish message N before message N+1 starts.
	var g errgroup.Group
	g.SetLimit(d.config.MaxConcurrency)
	for _, reg := range targets {
		g.Go(func() error {
			d.deliverOne(ctx, reg, msg)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) deliverOne(ctx context.Context, reg providers.Registration, msg *models.LogMessage) {
	deliveryCtx, cancel := context.WithTimeout(ctx, d.config.DeliveryTimeout)
	defer cancel()

	err := accept(deliveryCtx, reg.Provider, msg)
	if err == nil {
		d.delivered.Add(1)
		return
	}

	d.failed.Add(1)
	d.recordFailure(context.WithoutCancel(ctx), reg.Descriptor, msg, err)
}

// accept calls the provider, converting a panic into an error carrying the
// panicking stack.
func accept(ctx context.Context, p providers.Provider, msg *models.LogMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.Errorf("provider panic: %v", r)
		}
	}()
	return p.Accept(ctx, msg)
}

func (d *Dispatcher) recordFailure(ctx context.Context, desc providers.Descriptor, msg *models.LogMessage, err error) {
	d.logger.Warn("Provider failed to accept message", "provider", desc, "index", msg.Index, "error", err)
	if d.logger.Enabled(utils.Debug) {
		d.logger.Debug("Provider failure detail", "provider", desc, "detail", fmt.Sprintf("%+v", err))
	}

	if d.dlq != nil {
		if dlqErr := d.dlq.Add(ctx, desc.String(), msg, err); dlqErr != nil {
			d.logger.Error("Failed to add to dead letter queue", "provider", desc, "error", dlqErr)
		}
	}

	if d.onError != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("Error handler panicked", "panic", r)
				}
			}()
			d.onError(desc, msg, err)
		}()
	}
}

// Stop shuts the dispatcher down:
//  1. new messages are rejected and the worker stops dequeuing,
//  2. the in-flight batch completes,
//  3. messages still queued are delivered until the grace deadline,
//  4. every provider is flushed and closed concurrently within the same
//     deadline; providers that do not finish in time are abandoned.
//
// The deadline is the earlier of ctx's deadline and ShutdownGrace from now.
// Stop is idempotent; later calls return the first call's result.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return d.stopErr
	}
	d.stopped = true
	started := d.started
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, d.config.ShutdownGrace)
	defer cancel()
	defer d.abandon()

	_ = d.queue.Close()

	var timedOut bool
	if started {
		d.cancelWorker()
		select {
		case <-d.stoppedChan:
		case <-ctx.Done():
			timedOut = true
			d.abandon()
			d.logger.Warn("Worker did not finish its batch before the shutdown deadline")
		}
	}

	if !timedOut {
		timedOut = !d.drain(ctx)
	}

	if abandoned := d.finalizeProviders(ctx); len(abandoned) > 0 {
		timedOut = true
		d.logger.Warn("Abandoned providers at shutdown", "providers", strings.Join(abandoned, ","))
	}

	stats := d.Stats()
	d.logger.Info("Dispatcher stopped",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
		"abandoned_messages", stats.Queued)

	var err error
	if timedOut {
		err = ErrShutdownTimeout
	}
	d.mu.Lock()
	d.stopErr = err
	d.mu.Unlock()
	return err
}

// drain delivers what is left in the queue. It returns false when the
// deadline passed first; a delivery still running then is abandoned.
func (d *Dispatcher) drain(ctx context.Context) bool {
	done := make(chan bool, 1)
	go func() { done <- d.drainQueue(ctx) }()

	select {
	case ok := <-done:
		return ok
	case <-ctx.Done():
		return false
	}
}

// drainQueue delivers with ctx, so each Accept is bounded by the shutdown
// deadline as well as DeliveryTimeout.
func (d *Dispatcher) drainQueue(ctx context.Context) bool {
	for {
		items := d.queue.TryDequeue(d.config.BatchSize)
		if len(items) == 0 {
			return true
		}
		for _, msg := range items {
			if ctx.Err() != nil {
				return false
			}
			d.deliver(ctx, msg)
		}
	}
}

// finalizeProviders flushes and closes every registered provider
// concurrently and returns the providers still running at the deadline.
func (d *Dispatcher) finalizeProviders(ctx context.Context) []string {
	regs := d.registry.Snapshot()

	var (
		mu      sync.Mutex
		pending = make(map[string]bool, len(regs))
		done    = make(chan struct{})
		wg      sync.WaitGroup
	)

	for _, reg := range regs {
		name := reg.Descriptor.String()
		pending[name] = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.finalize(ctx, reg.Provider); err != nil {
				d.logger.Error("Failed to finalize provider", "provider", name, "error", err)
			}
			mu.Lock()
			delete(pending, name)
			mu.Unlock()
		}()
	}

	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		mu.Lock()
		defer mu.Unlock()
		abandoned := make([]string, 0, len(pending))
		for name := range pending {
			abandoned = append(abandoned, name)
		}
		return abandoned
	}
}

// finalize flushes then closes p, whichever it supports. A failed flush
// does not skip the close.
func (d *Dispatcher) finalize(ctx context.Context, p providers.Provider) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.Errorf("provider panic during shutdown: %v", r)
		}
	}()

	var errs []error
	if f, ok := p.(providers.Flusher); ok {
		if err := f.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush: %w", err))
		}
	}
	if c, ok := p.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close stops the dispatcher with the configured grace period.
func (d *Dispatcher) Close() error {
	return d.Stop(context.Background())
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	running := d.started && !d.stopped
	d.mu.Unlock()

	return Stats{
		Queued:    d.queue.Length(),
		Capacity:  d.queue.Capacity(),
		Dropped:   d.queue.Dropped(),
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Filtered:  d.filtered.Load(),
		Providers: d.registry.Len(),
		Running:   running,
	}
}

// Failures lists recorded delivery failures, oldest first.
func (d *Dispatcher) Failures(ctx context.Context, limit int) ([]queue.DeadLetterItem, error) {
	if d.dlq == nil {
		return nil, ErrNoDeadLetterQueue
	}
	return d.dlq.List(ctx, limit)
}

// Redeliver retries a recorded failure against the provider it failed on
// and removes it from the dead letter queue when that succeeds.
func (d *Dispatcher) Redeliver(ctx context.Context, id string) error {
	if d.dlq == nil {
		return ErrNoDeadLetterQueue
	}

	items, err := d.dlq.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list dead letter items: %w", err)
	}

	for _, item := range items {
		if item.ID != id {
			continue
		}

		desc := providers.ParseDescriptor(item.Provider)
		p, ok := d.registry.Lookup(desc)
		if !ok {
			return fmt.Errorf("%w: %s", ErrProviderNotRegistered, desc)
		}

		deliveryCtx, cancel := context.WithTimeout(ctx, d.config.DeliveryTimeout)
		defer cancel()
		if err := accept(deliveryCtx, p, item.Message); err != nil {
			return fmt.Errorf("redelivery to %s failed: %w", desc, err)
		}
		d.delivered.Add(1)

		if err := d.dlq.Remove(ctx, id); err != nil {
			return fmt.Errorf("failed to remove from DLQ: %w", err)
		}
		return nil
	}

	return queue.ErrItemNotFound
}
