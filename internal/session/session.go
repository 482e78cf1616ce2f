// Package session runs the note-taking pipeline for individual notes.
//
// A [Session] owns everything that belongs to one note: the word-batch
// accumulator, the context tracker and the ordered retry queue. Transcript
// updates go in; content blocks come out, are appended to the note store and
// are published to subscribers as [Event] values. A [Manager] keeps one
// session per note.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/notestream/internal/batch"
	"github.com/MrWong99/notestream/internal/config"
	"github.com/MrWong99/notestream/internal/contextwin"
	"github.com/MrWong99/notestream/internal/models"
	"github.com/MrWong99/notestream/internal/notestore"
	"github.com/MrWong99/notestream/internal/observe"
	"github.com/MrWong99/notestream/internal/queue"
	"github.com/MrWong99/notestream/pkg/note"
)

// Batch triggers, recorded as the trigger attribute of the batch counter.
const (
	TriggerThreshold = "threshold"
	TriggerFlush     = "flush"
	TriggerRetry     = "retry"
)

// ModelResolver picks the model for a new batch. [*models.Registry]
// satisfies it.
type ModelResolver interface {
	Available() (models.Model, error)
}

// Deps holds the collaborators shared by every session.
type Deps struct {
	Store     notestore.Store
	Models    ModelResolver
	Processor queue.Processor

	// Metrics is optional.
	Metrics *observe.Metrics

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// Session is the pipeline of a single note. All methods are safe for
// concurrent use.
type Session struct {
	noteID  string
	store   notestore.Store
	models  ModelResolver
	metrics *observe.Metrics
	log     *slog.Logger

	acc     *batch.Accumulator
	tracker *contextwin.Tracker
	q       *queue.Queue
	events  *broadcaster

	// mu serialises submissions so the watermark, the transcript window and
	// the queue's sequence numbers advance together.
	mu         sync.Mutex
	transcript string
	// queued is the most recent ticket that went through the queue.
	// Rejected batches resolve on submission and never replace it.
	queued *queue.Ticket

	outstanding atomic.Int64
}

// New creates the session of note noteID.
func New(noteID string, p config.PipelineConfig, deps Deps) *Session {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("note_id", noteID)

	s := &Session{
		noteID:  noteID,
		store:   deps.Store,
		models:  deps.Models,
		metrics: deps.Metrics,
		log:     log,
		acc:     batch.New(p.BatchSize),
		tracker: contextwin.NewTracker(p.SlidingWindowSize),
		events:  newBroadcaster(log),
	}
	s.q = queue.New(deps.Processor,
		queue.WithMaxAttempts(p.MaxAttempts),
		queue.WithAttemptTimeout(p.AttemptTimeout),
		queue.WithOnResult(s.onResult),
		queue.WithMetrics(deps.Metrics),
		queue.WithLogger(log),
	)
	return s
}

// NoteID returns the ID of the session's note.
func (s *Session) NoteID() string { return s.noteID }

// Update hands the session the full current transcript. When enough new
// words have arrived since the last batch, they are submitted as the next
// batch and its ticket is returned.
func (s *Session) Update(ctx context.Context, transcript string) (*queue.Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transcript = transcript
	text, ok := s.acc.Observe(transcript)
	if !ok {
		return nil, false
	}
	return s.submitLocked(ctx, text, TriggerThreshold), true
}

// Retry re-submits the text of a failed batch. It goes through the same
// ordered queue but is not recorded as new transcript context, since it was
// recorded when it was first submitted.
func (s *Session) Retry(ctx context.Context, text string) (*queue.Ticket, error) {
	if len(text) == 0 {
		return nil, errors.New("session: retry text is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitLocked(ctx, text, TriggerRetry), nil
}

// Stop flushes the words past the watermark as a final batch, whatever its
// size, and waits until every batch submitted so far has finished. Results
// are delivered as events as usual. Stop returns early with ctx's error if
// ctx ends first; the batches keep running.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if text, ok := s.acc.Flush(s.transcript); ok {
		s.submitLocked(ctx, text, TriggerFlush)
	}
	queued := s.queued
	s.mu.Unlock()

	// The queue finishes batches in submission order, so the newest queued
	// ticket resolves last.
	if queued == nil {
		return nil
	}
	_, err := queued.Wait(ctx)
	return err
}

// Reset clears the transcript, the watermark and both context windows.
// Batches already submitted still finish.
func (s *Session) Reset() {
	s.mu.Lock()
	s.acc.Reset()
	s.tracker.Reset()
	s.transcript = ""
	s.mu.Unlock()

	s.log.Info("session reset")
	s.events.publish(Event{Type: EventReset, NoteID: s.noteID})
}

// Subscribe returns a channel of the session's events and a function that
// ends the subscription. The channel is closed when the subscription ends
// or the session is closed.
func (s *Session) Subscribe() (<-chan Event, func()) {
	return s.events.subscribe()
}

// Pending returns the number of batches submitted but not yet finished.
func (s *Session) Pending() int {
	return int(s.outstanding.Load())
}

// Context returns the context the next batch would be submitted with.
func (s *Session) Context() contextwin.Snapshot {
	return s.tracker.Snapshot()
}

// Apply updates the batch size and the context ceiling. Attempt settings
// only apply to sessions created afterwards.
func (s *Session) Apply(p config.PipelineConfig) {
	s.acc.SetSize(p.BatchSize)
	s.tracker.SetCeiling(p.SlidingWindowSize)
}

// Close stops the queue and ends every subscription. See [queue.Queue.Close]
// for how outstanding batches are treated.
func (s *Session) Close(ctx context.Context) error {
	err := s.q.Close(ctx)
	s.events.close()
	return err
}

// submitLocked must be called with s.mu held.
func (s *Session) submitLocked(ctx context.Context, text, trigger string) *queue.Ticket {
	if trigger != TriggerRetry {
		s.tracker.RecordTranscriptBatch(text)
	}
	if s.metrics != nil {
		s.metrics.RecordBatch(ctx, trigger)
	}

	job := queue.Job{
		NoteID:  s.noteID,
		Text:    text,
		Context: s.tracker.Snapshot(),
	}

	if s.outstanding.Add(1) == 1 {
		s.events.publish(Event{Type: EventStatus, NoteID: s.noteID, Processing: true})
	}

	m, err := s.models.Available()
	if err != nil {
		return s.q.Reject(job, fmt.Errorf("session: %w: configure a model with an API key", err))
	}
	job.Model = m
	s.queued = s.q.Submit(job)
	s.log.Debug("batch submitted", "batch_id", job.ID, "trigger", trigger, "model", m.Name)
	return s.queued
}

// onResult runs on the queue's drain goroutine, or on the submitting
// goroutine for rejected batches, so it must not take s.mu.
func (s *Session) onResult(ctx context.Context, r queue.Result) {
	defer func() {
		if s.outstanding.Add(-1) == 0 {
			s.events.publish(Event{Type: EventStatus, NoteID: s.noteID})
		}
	}()

	if !r.OK() {
		s.publishFailure(r, r.Err)
		return
	}

	if len(r.Blocks) > 0 {
		if _, err := s.store.Append(ctx, s.noteID, r.Blocks); err != nil {
			s.log.Error("failed to append blocks", "batch_id", r.Job.ID, "err", err)
			s.publishFailure(r, fmt.Errorf("session: save blocks: %w", err))
			return
		}
		s.tracker.RecordNoteText(r.Blocks)
		s.recordBlocks(ctx, r.Blocks)
	}

	s.events.publish(Event{
		Type:     EventBlocks,
		NoteID:   s.noteID,
		BatchID:  r.Job.ID,
		Seq:      r.Seq,
		Attempts: r.Attempts,
		Blocks:   nonNil(r.Blocks),
	})
}

func (s *Session) publishFailure(r queue.Result, err error) {
	s.events.publish(Event{
		Type:       EventFailed,
		NoteID:     s.noteID,
		BatchID:    r.Job.ID,
		Seq:        r.Seq,
		Attempts:   r.Attempts,
		Error:      err.Error(),
		Text:       r.Job.Text,
		NeedsModel: errors.Is(err, models.ErrNoModel),
	})
}

func (s *Session) recordBlocks(ctx context.Context, blocks []note.Block) {
	if s.metrics == nil {
		return
	}
	counts := make(map[note.Kind]int, 3)
	for _, b := range blocks {
		counts[b.Kind]++
	}
	for kind, n := range counts {
		s.metrics.RecordBlocks(ctx, string(kind), n)
	}
}

func nonNil(blocks []note.Block) []note.Block {
	if blocks == nil {
		return []note.Block{}
	}
	return blocks
}
