// Package notestore persists notes and their content blocks.
//
// Three backends implement [Store]: an in-process map ([MemoryStore]),
// PostgreSQL ([PostgresStore]) and a local SQLite file ([SQLiteStore]).
// [Open] picks one from configuration.
package notestore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/notestream/internal/config"
	"github.com/MrWong99/notestream/pkg/note"
)

var (
	// ErrNotFound is returned when no note has the requested ID.
	ErrNotFound = errors.New("notestore: note not found")

	// ErrExists is returned by Create when the note's ID is already taken.
	ErrExists = errors.New("notestore: note already exists")
)

// Store provides the note operations the pipeline needs.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts n. A blank ID, title or colour is filled with its
	// default and the timestamps are set; n is updated in place.
	Create(ctx context.Context, n *note.Note) error

	// Get returns the note with the given ID or [ErrNotFound].
	Get(ctx context.Context, id string) (*note.Note, error)

	// List returns every note, most recently updated first.
	List(ctx context.Context) ([]note.Note, error)

	// Delete removes a note. Deleting an unknown ID returns [ErrNotFound].
	Delete(ctx context.Context, id string) error

	// Append adds blocks to the end of a note's content, bumps its
	// updated-at time and returns the updated note.
	Append(ctx context.Context, id string, blocks []note.Block) (*note.Note, error)

	// Ping verifies that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// Open creates the store selected by cfg. Postgres and SQLite schemas are
// migrated before Open returns.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case config.StoreMemory, "":
		return NewMemoryStore(), nil
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("notestore: create pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("notestore: ping: %w", err)
		}
		s := NewPostgresStore(pool)
		s.closer = pool.Close
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	case config.StoreSQLite:
		return OpenSQLite(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("notestore: unknown backend %q", cfg.Backend)
	}
}

// prepare applies creation defaults to n.
func prepare(n *note.Note, now time.Time) {
	if strings.TrimSpace(n.ID) == "" {
		n.ID = uuid.NewString()
	}
	if strings.TrimSpace(n.Title) == "" {
		n.Title = note.DefaultTitle(now)
	}
	if !note.ValidColor(n.Color) {
		n.Color = note.DefaultColor
	}
	if n.Content == nil {
		n.Content = []note.Block{}
	}
	n.CreatedAt = now
	n.UpdatedAt = now
}

// sortByUpdated orders notes most recently updated first.
func sortByUpdated(notes []note.Note) {
	slices.SortStableFunc(notes, func(a, b note.Note) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}

// Option configures the clock of the in-process backends.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces [time.Now] as the source of note timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
