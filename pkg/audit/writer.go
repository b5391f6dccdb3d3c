package audit

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/dataroom/pkg/observability"
)

var writerTracer = otel.Tracer("dataroom/audit")

// Observer receives every entry after it is persisted. Implementations must
// not block; monitoring schedules its checks on its own goroutines.
type Observer interface {
	Observe(entry *Entry)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(entry *Entry)

// Observe implements Observer
func (f ObserverFunc) Observe(entry *Entry) { f(entry) }

const (
	defaultQueueSize     = 256
	defaultAppendTimeout = 10 * time.Second
)

// Writer appends events to the hash chain. A single goroutine owns the
// append path so entries written through one Writer never interleave; the
// store serializes writers in different processes.
type Writer struct {
	store    Store
	observer Observer
	metrics  *observability.Metrics
	logger   *observability.Logger
	now      func() time.Time
	timeout  time.Duration

	queueSize int
	requests  chan appendRequest
	done      chan struct{}

	mu     sync.RWMutex
	closed bool
}

type appendRequest struct {
	ctx    context.Context
	event  Event
	queued time.Time
	reply  chan appendResult
}

type appendResult struct {
	entry *Entry
	err   error
}

// WriterOption configures a Writer
type WriterOption func(*Writer)

// WithObserver hands persisted entries to o
func WithObserver(o Observer) WriterOption {
	return func(w *Writer) { w.observer = o }
}

// WithMetrics records append metrics
func WithMetrics(metrics *observability.Metrics) WriterOption {
	return func(w *Writer) { w.metrics = metrics }
}

// WithLogger sets the writer logger
func WithLogger(logger *observability.Logger) WriterOption {
	return func(w *Writer) { w.logger = logger }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) { w.now = now }
}

// WithQueueSize sets how many events may wait for the append goroutine
func WithQueueSize(n int) WriterOption {
	return func(w *Writer) { w.queueSize = n }
}

// WithAppendTimeout bounds a single store append
func WithAppendTimeout(d time.Duration) WriterOption {
	return func(w *Writer) { w.timeout = d }
}

// NewWriter starts a writer over store. Close must be called to stop it.
func NewWriter(store Store, opts ...WriterOption) *Writer {
	w := &Writer{
		store:     store,
		now:       time.Now,
		timeout:   defaultAppendTimeout,
		queueSize: defaultQueueSize,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = observability.Discard()
	}
	if w.queueSize < 0 {
		w.queueSize = 0
	}
	w.requests = make(chan appendRequest, w.queueSize)

	go w.run()
	return w
}

// Log records an event and waits until it is persisted. Failures are logged,
// not returned, and cancelling ctx does not cancel the append.
func (w *Writer) Log(ctx context.Context, event Event) {
	if _, err := w.Append(context.WithoutCancel(ctx), event); err != nil {
		observability.FromContext(ctx).
			WithError(err).
			WithFields(map[string]interface{}{
				"action":        string(event.Action),
				"resource_type": string(event.ResourceType),
				"resource_id":   event.ResourceID,
			}).
			Error("Failed to write audit entry")
	}
}

// Append records an event and returns the persisted entry
func (w *Writer) Append(ctx context.Context, event Event) (*Entry, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	event = event.withRequestContext(ctx)
	if event.Metadata.IsNull() {
		event.Metadata = Object(nil)
	}
	event.Metadata = Mask(event.Metadata)

	req := appendRequest{
		ctx:    ctx,
		event:  event,
		queued: time.Now(),
		reply:  make(chan appendResult, 1),
	}

	if err := w.enqueue(ctx, req); err != nil {
		return nil, err
	}

	select {
	case res := <-req.reply:
		return res.entry, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *Writer) enqueue(ctx context.Context, req appendRequest) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return ErrWriterClosed
	}

	select {
	case w.requests <- req:
		w.metrics.SetAuditQueueDepth(len(w.requests))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events, drains the queue and waits for the append
// goroutine to exit or ctx to expire
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.requests)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backlog reports the number of queued events and the queue capacity
func (w *Writer) Backlog() (queued, capacity int) {
	return len(w.requests), cap(w.requests)
}

func (w *Writer) run() {
	defer close(w.done)

	for req := range w.requests {
		w.metrics.SetAuditQueueDepth(len(w.requests))

		entry, err := w.append(req)
		w.metrics.ObserveAppend(err, time.Since(req.queued))

		// Observers are notified before the caller resumes so that anything
		// they schedule is visible to the caller.
		if err == nil && w.observer != nil {
			w.notify(entry)
		}
		req.reply <- appendResult{entry: entry, err: err}
	}
}

func (w *Writer) append(req appendRequest) (*Entry, error) {
	if err := req.ctx.Err(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(req.ctx, w.timeout)
	defer cancel()

	ctx, span := writerTracer.Start(ctx, "AppendEntry",
		trace.WithAttributes(
			attribute.String("audit.action", string(req.event.Action)),
			attribute.String("audit.resource_type", string(req.event.ResourceType)),
		),
	)
	defer span.End()

	entry, err := w.store.AppendEntry(ctx, w.builder(req.event))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "audit append failed")
		return nil, err
	}

	span.SetAttributes(attribute.String("audit.entry_id", entry.ID))
	return entry, nil
}

// builder links the event to the chain head. It runs inside the store's
// critical section, so the timestamp it assigns is ordered with the head's.
func (w *Writer) builder(event Event) BuildFunc {
	return func(prev *Entry) (*Entry, error) {
		createdAt := w.now().UTC().Truncate(time.Millisecond)
		if prev != nil && createdAt.Before(prev.CreatedAt) {
			createdAt = prev.CreatedAt
		}

		id, err := newEntryID(createdAt)
		if err != nil {
			return nil, err
		}

		entry := &Entry{
			ID:           id,
			Action:       event.Action,
			ResourceType: event.ResourceType,
			ResourceID:   event.ResourceID,
			DataRoomID:   event.DataRoomID,
			UserID:       event.UserID,
			Metadata:     event.Metadata,
			IPAddress:    event.IPAddress,
			UserAgent:    event.UserAgent,
			CreatedAt:    createdAt,
		}
		if prev != nil {
			entry.PreviousHash = prev.Hash
		}
		entry.Hash = ComputeHash(entry)

		return entry, nil
	}
}

func (w *Writer) notify(entry *Entry) {
	defer observability.RecoverPanic(w.logger, "audit observer")
	w.observer.Observe(copyEntry(entry))
}
