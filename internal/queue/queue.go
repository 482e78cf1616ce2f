// Package queue runs transcript batches through a [Processor] one at a time,
// in submission order, retrying failures without letting later batches
// overtake earlier ones.
//
// Every submission gets a strictly increasing sequence number. Pending
// batches sit in a min-heap keyed by that number, and a single drain
// goroutine always takes the lowest one. A failed attempt puts the batch
// back with its original number, so it is retried before any newer batch is
// tried at all. Results are therefore delivered in submission order.
//
// The drain goroutine exists only while there is work: it is started by the
// first submission that finds the queue idle and exits when the heap is
// empty.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/notestream/internal/contextwin"
	"github.com/MrWong99/notestream/internal/models"
	"github.com/MrWong99/notestream/internal/observe"
	"github.com/MrWong99/notestream/pkg/note"
)

// ErrClosed is the error of every batch submitted to, or still pending in, a
// closed queue.
var ErrClosed = errors.New("queue: closed")

const (
	// DefaultMaxAttempts is how many times a batch is tried before it fails.
	DefaultMaxAttempts = 3

	// DefaultAttemptTimeout bounds a single processor call.
	DefaultAttemptTimeout = 60 * time.Second

	// MaxRetryDelay caps the pause an error may request before the next
	// attempt.
	MaxRetryDelay = time.Minute
)

// Job is one batch of transcript text to turn into note content.
type Job struct {
	// ID uniquely identifies the batch in logs and events.
	ID string

	// NoteID is the note the result belongs to.
	NoteID string

	// Text is the batch itself.
	Text string

	// Context is the prior transcript and note text captured when the batch
	// was submitted.
	Context contextwin.Snapshot

	// Model is the model resolved for this batch at submission time.
	Model models.Model
}

// Processor turns a job into content blocks. Implementations must not retry
// on their own.
//
// An error whose Retryable method returns false ends the batch immediately
// instead of consuming the remaining attempts. An error with a RetryAfter
// method delays the next attempt by the duration it returns.
type Processor interface {
	Generate(ctx context.Context, job Job) ([]note.Block, error)
}

// ProcessorFunc adapts a function to [Processor].
type ProcessorFunc func(ctx context.Context, job Job) ([]note.Block, error)

// Generate calls f.
func (f ProcessorFunc) Generate(ctx context.Context, job Job) ([]note.Block, error) {
	return f(ctx, job)
}

// Option configures a [Queue].
type Option func(*Queue)

// WithMaxAttempts sets how many times a batch is tried. Values below 1 are
// ignored.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// WithAttemptTimeout bounds each processor call. A timed out call counts as
// a failed attempt. Zero disables the bound.
func WithAttemptTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d >= 0 {
			q.attemptTimeout = d
		}
	}
}

// WithOnResult registers fn to receive every terminal result. fn is called
// from the drain goroutine in sequence order, and the next batch is not
// started until it returns. Results of [Queue.Reject] are delivered from the
// caller's goroutine instead.
func WithOnResult(fn func(ctx context.Context, r Result)) Option {
	return func(q *Queue) { q.onResult = fn }
}

// WithMetrics records queue instruments to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.log = l
		}
	}
}

// Queue is an ordered, single-flight retry queue. All methods are safe for
// concurrent use.
type Queue struct {
	proc           Processor
	maxAttempts    int
	attemptTimeout time.Duration
	onResult       func(context.Context, Result)
	metrics        *observe.Metrics
	log            *slog.Logger

	// base is the parent of every attempt context; cancelled by a Close
	// whose context expires.
	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	items    pending
	seq      uint64
	inFlight bool
	draining bool
	idle     chan struct{} // closed when the current drain goroutine exits
	closed   bool

	// stop is closed by the first Close and wakes a retry pause.
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a queue that processes batches with proc.
func New(proc Processor, opts ...Option) *Queue {
	q := &Queue{
		proc:           proc,
		maxAttempts:    DefaultMaxAttempts,
		attemptTimeout: DefaultAttemptTimeout,
		log:            slog.Default(),
		stop:           make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	q.base, q.cancel = context.WithCancel(context.Background())
	heap.Init(&q.items)
	return q
}

// Submit enqueues job and returns immediately. If the queue is idle a drain
// goroutine is started. A job without an ID is given one.
func (q *Queue) Submit(job Job) *Ticket {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	q.mu.Lock()
	q.seq++
	t := newTicket(q.seq)
	if q.closed {
		q.mu.Unlock()
		t.resolve(q.finish(q.base, &item{seq: t.seq, job: job, ticket: t}, Result{Err: ErrClosed}))
		return t
	}
	heap.Push(&q.items, &item{seq: t.seq, job: job, ticket: t})
	q.addDepth(1)
	if !q.draining {
		q.draining = true
		q.idle = make(chan struct{})
		go q.drain(q.idle)
	}
	q.mu.Unlock()
	return t
}

// Reject resolves a submission with err without ever calling the processor.
// It is used for batches that cannot succeed no matter how often they are
// tried, such as when no model is configured.
func (q *Queue) Reject(job Job, err error) *Ticket {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	q.mu.Lock()
	q.seq++
	t := newTicket(q.seq)
	q.mu.Unlock()

	q.log.Warn("batch rejected", "batch_id", job.ID, "err", err)
	t.resolve(q.finish(q.base, &item{seq: t.seq, job: job, ticket: t}, Result{Err: err}))
	return t
}

// Len returns the number of batches pending or in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.items.Len()
	if q.inFlight {
		n++
	}
	return n
}

// Idle reports whether no batch is pending or in flight.
func (q *Queue) Idle() bool {
	return q.Len() == 0
}

// Close stops accepting batches. The batch in flight, if any, is allowed to
// finish; batches still pending fail with [ErrClosed]. Close waits for the
// drain goroutine to exit. If ctx ends first, the in-flight attempt is
// cancelled and ctx's error is returned.
func (q *Queue) Close(ctx context.Context) error {
	q.stopOnce.Do(func() { close(q.stop) })
	q.mu.Lock()
	q.closed = true
	idle := q.idle
	draining := q.draining
	q.mu.Unlock()

	if !draining {
		q.cancel()
		return nil
	}

	select {
	case <-idle:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-idle
		return ctx.Err()
	}
}

// drain processes batches until the heap is empty.
func (q *Queue) drain(idle chan struct{}) {
	defer close(idle)
	for {
		q.mu.Lock()
		if q.items.Len() == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		it := heap.Pop(&q.items).(*item)
		if q.closed {
			q.mu.Unlock()
			r := q.finish(q.base, it, Result{Err: ErrClosed})
			q.addDepth(-1)
			it.ticket.resolve(r)
			continue
		}
		q.inFlight = true
		q.mu.Unlock()

		r, done := q.attempt(it)
		if !done {
			q.mu.Lock()
			q.inFlight = false
			heap.Push(&q.items, it)
			q.mu.Unlock()
			continue
		}

		r = q.finish(q.base, it, r)
		q.mu.Lock()
		q.inFlight = false
		q.mu.Unlock()
		q.addDepth(-1)
		it.ticket.resolve(r)
	}
}

// attempt calls the processor once for it. It reports whether the item
// reached a terminal state, and if so its result.
func (q *Queue) attempt(it *item) (Result, bool) {
	it.attempts++
	log := q.log.With("batch_id", it.job.ID, "seq", it.seq, "attempt", it.attempts)

	ctx := q.base
	cancel := context.CancelFunc(func() {})
	if q.attemptTimeout > 0 {
		ctx, cancel = context.WithTimeout(q.base, q.attemptTimeout)
	}
	start := time.Now()
	blocks, err := q.proc.Generate(ctx, it.job)
	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
	cancel()
	elapsed := time.Since(start)

	if err == nil {
		q.recordAttempt(it, observe.OutcomeSuccess, elapsed)
		log.Debug("batch processed", "blocks", len(blocks), "duration", elapsed)
		return Result{Blocks: blocks}, true
	}

	if timedOut {
		err = fmt.Errorf("queue: attempt timed out after %s: %w", q.attemptTimeout, err)
	}

	switch {
	case q.base.Err() != nil:
		q.recordAttempt(it, observe.OutcomeFailed, elapsed)
		return Result{Err: fmt.Errorf("%w: %w", ErrClosed, err)}, true
	case !retryable(err):
		q.recordAttempt(it, observe.OutcomeFailed, elapsed)
		log.Error("batch failed, not retryable", "err", err)
		return Result{Err: err}, true
	case it.attempts >= q.maxAttempts:
		q.recordAttempt(it, observe.OutcomeFailed, elapsed)
		log.Error("batch failed, attempts exhausted", "max_attempts", q.maxAttempts, "err", err)
		return Result{Err: err}, true
	default:
		q.recordAttempt(it, observe.OutcomeRetry, elapsed)
		delay := retryDelay(err)
		log.Warn("batch attempt failed, will retry", "max_attempts", q.maxAttempts, "delay", delay, "err", err)
		q.pause(delay)
		return Result{}, false
	}
}

// pause blocks for d or until the queue is closed. Later batches wait too,
// since none may overtake the one being retried.
func (q *Queue) pause(d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-q.stop:
	case <-q.base.Done():
	}
}

// finish fills in the bookkeeping fields of r and hands it to the result
// callback. The caller resolves the ticket afterwards.
func (q *Queue) finish(ctx context.Context, it *item, r Result) Result {
	r.Seq = it.seq
	r.Job = it.job
	r.Attempts = it.attempts

	if q.metrics != nil {
		outcome := observe.OutcomeSuccess
		switch {
		case r.Err != nil && r.Attempts == 0:
			outcome = observe.OutcomeRejected
		case r.Err != nil:
			outcome = observe.OutcomeFailed
		}
		q.metrics.RecordResult(context.Background(), outcome)
	}

	if q.onResult != nil {
		q.onResult(ctx, r)
	}
	return r
}

func (q *Queue) recordAttempt(it *item, outcome string, d time.Duration) {
	if q.metrics != nil {
		q.metrics.RecordAttempt(context.Background(), it.job.Model.ID, outcome, d.Seconds())
	}
}

func (q *Queue) addDepth(n int64) {
	if q.metrics != nil {
		q.metrics.QueueDepth.Add(context.Background(), n)
	}
}

// retryDelay returns the pause requested by err through a
// RetryAfter() time.Duration method, capped at [MaxRetryDelay].
func retryDelay(err error) time.Duration {
	var r interface{ RetryAfter() time.Duration }
	if !errors.As(err, &r) {
		return 0
	}
	return min(r.RetryAfter(), MaxRetryDelay)
}

// retryable reports whether err may succeed on another attempt. Errors opt
// out by implementing Retryable() bool.
func retryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}
