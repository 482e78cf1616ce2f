// Package contextwin keeps bounded trailing histories of transcript and note
// text that prime the model with recent context.
package contextwin

import (
	"strings"
	"sync"
)

// DefaultCeiling is the word ceiling used when a non-positive one is configured.
const DefaultCeiling = 200

// Mode selects how a [Window] enforces its ceiling.
type Mode int

const (
	// EvictSegments drops whole segments, oldest first, while the total word
	// count is above the ceiling and more than one segment remains. A single
	// segment larger than the ceiling is kept intact.
	EvictSegments Mode = iota

	// TruncateWords keeps only the trailing ceiling words across all segments.
	TruncateWords
)

// Window is an ordered, append-only sequence of text segments bounded by a
// word ceiling.
//
// All methods are safe for concurrent use.
type Window struct {
	mu       sync.Mutex
	mode     Mode
	ceiling  int
	segments []segment
	words    int
}

type segment struct {
	text  string
	words int
}

// NewWindow creates a Window holding at most ceiling words under mode.
func NewWindow(ceiling int, mode Mode) *Window {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Window{ceiling: ceiling, mode: mode}
}

// Append adds text as the newest segment and enforces the ceiling. Text that
// is blank after trimming is ignored.
func (w *Window) Append(text string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.segments = append(w.segments, segment{text: strings.Join(fields, " "), words: len(fields)})
	w.words += len(fields)
	w.enforce()
}

// enforce must be called with w.mu held.
func (w *Window) enforce() {
	if w.words <= w.ceiling {
		return
	}
	switch w.mode {
	case TruncateWords:
		all := strings.Fields(w.joinLocked(len(w.segments)))
		tail := all[len(all)-w.ceiling:]
		w.segments = []segment{{text: strings.Join(tail, " "), words: len(tail)}}
		w.words = len(tail)
	default:
		start := 0
		for w.words > w.ceiling && len(w.segments)-start > 1 {
			w.words -= w.segments[start].words
			start++
		}
		if start > 0 {
			fresh := make([]segment, len(w.segments)-start)
			copy(fresh, w.segments[start:])
			w.segments = fresh
		}
	}
}

// Text returns every segment joined by single spaces.
func (w *Window) Text() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.joinLocked(len(w.segments))
}

// TextBeforeLatest returns every segment except the newest, joined by single
// spaces. It is empty while the window holds one segment or none.
func (w *Window) TextBeforeLatest() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.segments) < 2 {
		return ""
	}
	return w.joinLocked(len(w.segments) - 1)
}

func (w *Window) joinLocked(n int) string {
	parts := make([]string, n)
	for i := range n {
		parts[i] = w.segments[i].text
	}
	return strings.Join(parts, " ")
}

// Segments returns a copy of the retained segments, oldest first.
func (w *Window) Segments() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.segments))
	for i, s := range w.segments {
		out[i] = s.text
	}
	return out
}

// Words returns the total word count across retained segments.
func (w *Window) Words() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.words
}

// SetCeiling changes the ceiling and enforces it immediately. Non-positive
// values are ignored.
func (w *Window) SetCeiling(ceiling int) {
	if ceiling <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ceiling = ceiling
	w.enforce()
}

// Reset drops every segment.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.segments = nil
	w.words = 0
}
