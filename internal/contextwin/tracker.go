package contextwin

import "github.com/MrWong99/notestream/pkg/note"

// Snapshot is the context captured for one batch at submission time.
type Snapshot struct {
	// Transcript is the transcript text that preceded the batch.
	Transcript string

	// Notes is the recent plain text of the note.
	Notes string
}

// Tracker maintains the two context windows used by the pipeline: one of raw
// transcript batches and one of text derived from produced content blocks.
// Both share the same word ceiling and are otherwise independent.
type Tracker struct {
	transcript *Window
	notes      *Window
}

// NewTracker creates a Tracker whose windows hold at most ceiling words.
func NewTracker(ceiling int) *Tracker {
	return &Tracker{
		transcript: NewWindow(ceiling, EvictSegments),
		notes:      NewWindow(ceiling, TruncateWords),
	}
}

// RecordTranscriptBatch appends a submitted batch to the transcript window.
func (t *Tracker) RecordTranscriptBatch(batch string) {
	t.transcript.Append(batch)
}

// TranscriptContext returns the transcript window minus its newest segment,
// so the batch currently being processed is never repeated as context.
func (t *Tracker) TranscriptContext() string {
	return t.transcript.TextBeforeLatest()
}

// RecordNoteText appends the plain text of newly produced blocks to the note
// window. Chart items contribute nothing.
func (t *Tracker) RecordNoteText(blocks []note.Block) {
	t.notes.Append(note.PlainText(blocks))
}

// NoteContext returns the full note window.
func (t *Tracker) NoteContext() string {
	return t.notes.Text()
}

// Snapshot captures both contexts as they stand now.
func (t *Tracker) Snapshot() Snapshot {
	return Snapshot{
		Transcript: t.TranscriptContext(),
		Notes:      t.NoteContext(),
	}
}

// SetCeiling changes the ceiling of both windows.
func (t *Tracker) SetCeiling(ceiling int) {
	t.transcript.SetCeiling(ceiling)
	t.notes.SetCeiling(ceiling)
}

// Reset clears both windows.
func (t *Tracker) Reset() {
	t.transcript.Reset()
	t.notes.Reset()
}
