package queue

import (
	"context"

	"github.com/MrWong99/notestream/pkg/note"
)

// Result is the terminal outcome of one submitted batch. Exactly one of
// Blocks (on success) or Err (on failure) is meaningful.
type Result struct {
	// Seq is the submission sequence number.
	Seq uint64

	// Job is the submitted batch.
	Job Job

	// Blocks holds the generated content on success. It may be empty: the
	// model is allowed to decide a batch contains nothing worth noting.
	Blocks []note.Block

	// Attempts is how many times the processor was called. Rejected jobs
	// report zero.
	Attempts int

	// Err is the last error when the batch failed.
	Err error
}

// OK reports whether the batch succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Ticket is the handle returned for every submission. It resolves exactly
// once, after the result callback (if any) has returned.
type Ticket struct {
	seq  uint64
	done chan struct{}
	res  Result
}

func newTicket(seq uint64) *Ticket {
	return &Ticket{seq: seq, done: make(chan struct{})}
}

// Seq returns the submission sequence number.
func (t *Ticket) Seq() uint64 { return t.seq }

// Done returns a channel closed when the result is available.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Wait blocks until the result is available or ctx is done. A ctx error is
// returned only when ctx ends first; a failed batch is reported through
// [Result.Err].
func (t *Ticket) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result returns the result and true if the ticket has resolved.
func (t *Ticket) Result() (Result, bool) {
	select {
	case <-t.done:
		return t.res, true
	default:
		return Result{}, false
	}
}

func (t *Ticket) resolve(r Result) {
	t.res = r
	close(t.done)
}
