package notestore

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/notestream/pkg/note"
)

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps notes in a map. Returned notes are copies.
type MemoryStore struct {
	opts options

	mu    sync.RWMutex
	notes map[string]*note.Note
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{opts: buildOptions(opts), notes: make(map[string]*note.Note)}
}

// Create implements [Store].
func (s *MemoryStore) Create(_ context.Context, n *note.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prepare(n, s.opts.now())
	if _, ok := s.notes[n.ID]; ok {
		return ErrExists
	}
	s.notes[n.ID] = clone(n)
	return nil
}

// Get implements [Store].
func (s *MemoryStore) Get(_ context.Context, id string) (*note.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.notes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(n), nil
}

// List implements [Store].
func (s *MemoryStore) List(_ context.Context) ([]note.Note, error) {
	s.mu.RLock()
	out := make([]note.Note, 0, len(s.notes))
	for _, n := range s.notes {
		out = append(out, *clone(n))
	}
	s.mu.RUnlock()

	sortByUpdated(out)
	return out, nil
}

// Delete implements [Store].
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.notes[id]; !ok {
		return ErrNotFound
	}
	delete(s.notes, id)
	return nil
}

// Append implements [Store].
func (s *MemoryStore) Append(_ context.Context, id string, blocks []note.Block) (*note.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notes[id]
	if !ok {
		return nil, ErrNotFound
	}
	n.Content = slices.Concat(n.Content, blocks)
	n.UpdatedAt = s.opts.now()
	return clone(n), nil
}

// Ping implements [Store]. It always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close implements [Store]. It is a no-op.
func (s *MemoryStore) Close() error { return nil }

func clone(n *note.Note) *note.Note {
	c := *n
	c.Content = slices.Clone(n.Content)
	if c.Content == nil {
		c.Content = []note.Block{}
	}
	return &c
}
