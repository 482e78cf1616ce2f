// Package batch turns a growing transcript into discrete word batches.
package batch

import (
	"strings"
	"sync"
)

// DefaultSize is the batch size used when a non-positive size is configured.
const DefaultSize = 10

// Accumulator watches a monotonically growing transcript and emits the words
// added since the last extraction once at least Size new words are present.
//
// The watermark (number of words already consumed) only moves forward, and
// it moves in the same critical section that extracts the batch, so no word
// is ever emitted twice. Reset is the only way to move it back to zero.
//
// All methods are safe for concurrent use.
type Accumulator struct {
	mu        sync.Mutex
	size      int
	watermark int
}

// New creates an Accumulator that emits batches of at least size words.
func New(size int) *Accumulator {
	if size <= 0 {
		size = DefaultSize
	}
	return &Accumulator{size: size}
}

// Observe inspects the current transcript and returns the next batch if the
// threshold has been crossed. The batch is every word from the watermark to
// the end of the transcript, joined by single spaces.
func (a *Accumulator) Observe(transcript string) (string, bool) {
	words := strings.Fields(transcript)

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(words) < a.watermark+a.size {
		return "", false
	}
	return a.extract(words)
}

// Flush returns every word past the watermark regardless of the threshold.
// It is called when listening stops so the tail of the transcript is not
// lost.
func (a *Accumulator) Flush(transcript string) (string, bool) {
	words := strings.Fields(transcript)

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(words) <= a.watermark {
		return "", false
	}
	return a.extract(words)
}

// extract must be called with a.mu held.
func (a *Accumulator) extract(words []string) (string, bool) {
	batch := strings.TrimSpace(strings.Join(words[a.watermark:], " "))
	if batch == "" {
		return "", false
	}
	a.watermark = len(words)
	return batch, true
}

// Reset moves the watermark back to zero. Use it when the transcript itself
// is cleared.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.watermark = 0
}

// Watermark returns the number of words consumed so far.
func (a *Accumulator) Watermark() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.watermark
}

// Size returns the current batch threshold.
func (a *Accumulator) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// SetSize changes the batch threshold. Non-positive values are ignored. The
// new size applies from the next call to Observe.
func (a *Accumulator) SetSize(size int) {
	if size <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.size = size
}
