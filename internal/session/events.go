package session

import (
	"log/slog"
	"sync"

	"github.com/MrWong99/notestream/pkg/note"
)

// EventType identifies what an [Event] reports.
type EventType string

const (
	// EventStatus reports whether the session has batches outstanding.
	EventStatus EventType = "status"

	// EventBlocks carries the content blocks a batch produced. They have
	// already been appended to the note.
	EventBlocks EventType = "blocks"

	// EventFailed reports a batch that failed for good. Text holds the batch
	// so it can be retried by hand.
	EventFailed EventType = "failed"

	// EventReset reports that the transcript and context were cleared.
	EventReset EventType = "reset"
)

// Event is published to every subscriber of a session.
type Event struct {
	Type   EventType `json:"type"`
	NoteID string    `json:"noteId"`

	// Batch fields, set for blocks and failed events.
	BatchID  string       `json:"batchId,omitempty"`
	Seq      uint64       `json:"seq,omitempty"`
	Attempts int          `json:"attempts,omitempty"`
	Blocks   []note.Block `json:"blocks,omitempty"`

	// Failure fields.
	Error string `json:"error,omitempty"`
	Text  string `json:"text,omitempty"`

	// NeedsModel is set when the failure can only be fixed by configuring a
	// model with a credential.
	NeedsModel bool `json:"needsModel,omitempty"`

	// Processing is set on status events while batches are outstanding.
	Processing bool `json:"processing"`
}

// subscriberBuffer is the channel capacity of every subscription.
const subscriberBuffer = 64

// broadcaster fans events out to subscribers. A subscriber that falls
// behind loses events instead of stalling the pipeline.
type broadcaster struct {
	log *slog.Logger

	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
}

func newBroadcaster(log *slog.Logger) *broadcaster {
	return &broadcaster{log: log, subs: make(map[chan Event]struct{})}
}

func (b *broadcaster) subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.log.Warn("session: subscriber too slow, dropping event", "type", ev.Type)
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
		delete(b.subs, ch)
	}
}
