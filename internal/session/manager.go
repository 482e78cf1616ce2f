package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/notestream/internal/config"
)

// Manager keeps one [Session] per note, created on first use.
// All methods are safe for concurrent use.
type Manager struct {
	deps Deps
	log  *slog.Logger

	mu       sync.Mutex
	pipeline config.PipelineConfig
	sessions map[string]*Session
	closed   bool
}

// NewManager creates a Manager whose sessions use pipeline settings p.
func NewManager(p config.PipelineConfig, deps Deps) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Manager{
		deps:     deps,
		log:      deps.Logger,
		pipeline: p,
		sessions: make(map[string]*Session),
	}
}

// ErrClosed is returned by [Manager.Get] after [Manager.Close].
var ErrClosed = errors.New("session: manager closed")

// Get returns the session of note noteID, creating it if needed. The note
// must exist in the store.
func (m *Manager) Get(ctx context.Context, noteID string) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if s, ok := m.sessions[noteID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	if _, err := m.deps.Store.Get(ctx, noteID); err != nil {
		return nil, fmt.Errorf("session: open note %q: %w", noteID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	// Another caller may have won the race while the store was queried.
	if s, ok := m.sessions[noteID]; ok {
		return s, nil
	}
	s := New(noteID, m.pipeline, m.deps)
	m.sessions[noteID] = s
	if m.deps.Metrics != nil {
		m.deps.Metrics.ActiveSessions.Add(ctx, 1)
	}
	m.log.Info("session started", "note_id", noteID)
	return s, nil
}

// Lookup returns the session of noteID if one is running.
func (m *Manager) Lookup(noteID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[noteID]
	return s, ok
}

// Len returns the number of running sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Remove closes and forgets the session of noteID, if any.
func (m *Manager) Remove(ctx context.Context, noteID string) error {
	m.mu.Lock()
	s, ok := m.sessions[noteID]
	delete(m.sessions, noteID)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	if m.deps.Metrics != nil {
		m.deps.Metrics.ActiveSessions.Add(ctx, -1)
	}
	m.log.Info("session ended", "note_id", noteID)
	return s.Close(ctx)
}

// ApplyPipeline changes the pipeline settings. Batch size and context
// ceiling are applied to running sessions immediately; all settings apply
// to sessions created afterwards.
func (m *Manager) ApplyPipeline(p config.PipelineConfig) {
	m.mu.Lock()
	m.pipeline = p
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Apply(p)
	}
	m.log.Info("pipeline settings applied",
		"batch_size", p.BatchSize,
		"sliding_window_size", p.SlidingWindowSize,
		"running_sessions", len(sessions),
	)
}

// Close closes every session. Later calls to Get fail with [ErrClosed].
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var errs []error
	for id, s := range sessions {
		if m.deps.Metrics != nil {
			m.deps.Metrics.ActiveSessions.Add(context.Background(), -1)
		}
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("session %q: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
