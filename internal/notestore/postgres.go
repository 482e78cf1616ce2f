package notestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/notestream/pkg/note"
)

// Schema is the SQL DDL for the notes table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS notes (
    id         TEXT PRIMARY KEY,
    title      TEXT NOT NULL,
    color      TEXT NOT NULL DEFAULT 'blue',
    content    JSONB NOT NULL DEFAULT '[]',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_notes_updated_at ON notes(updated_at DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. Note content
// is kept as a JSONB array, so appending is a single UPDATE.
type PostgresStore struct {
	db     DB
	closer func()
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] on top of db. The caller owns db
// and should call [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("notestore: migrate: %w", err)
	}
	return nil
}

// Create implements [Store].
func (s *PostgresStore) Create(ctx context.Context, n *note.Note) error {
	prepare(n, time.Now())
	content, err := json.Marshal(n.Content)
	if err != nil {
		return fmt.Errorf("notestore: marshal content: %w", err)
	}

	const query = `
		INSERT INTO notes (id, title, color, content)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query, n.ID, n.Title, n.Color, content).Scan(&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: %q", ErrExists, n.ID)
		}
		return fmt.Errorf("notestore: create: %w", err)
	}
	return nil
}

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, id string) (*note.Note, error) {
	const query = `
		SELECT id, title, color, content, created_at, updated_at
		FROM notes
		WHERE id = $1`

	n, err := scanNote(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("notestore: get %q: %w", id, err)
	}
	return n, nil
}

// List implements [Store].
func (s *PostgresStore) List(ctx context.Context) ([]note.Note, error) {
	const query = `
		SELECT id, title, color, content, created_at, updated_at
		FROM notes
		ORDER BY updated_at DESC, created_at DESC`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("notestore: list: %w", err)
	}
	defer rows.Close()

	notes := []note.Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("notestore: list scan: %w", err)
		}
		notes = append(notes, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notestore: list: %w", err)
	}
	return notes, nil
}

// Delete implements [Store].
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM notes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("notestore: delete %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Append implements [Store].
func (s *PostgresStore) Append(ctx context.Context, id string, blocks []note.Block) (*note.Note, error) {
	if blocks == nil {
		blocks = []note.Block{}
	}
	add, err := json.Marshal(blocks)
	if err != nil {
		return nil, fmt.Errorf("notestore: marshal blocks: %w", err)
	}

	const query = `
		UPDATE notes SET content = content || $2::jsonb, updated_at = now()
		WHERE id = $1
		RETURNING id, title, color, content, created_at, updated_at`

	n, err := scanNote(s.db.QueryRow(ctx, query, id, add))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("notestore: append %q: %w", id, err)
	}
	return n, nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("notestore: ping: %w", err)
	}
	return nil
}

// Close releases the connection pool if the store was created by [Open].
func (s *PostgresStore) Close() error {
	if s.closer != nil {
		s.closer()
	}
	return nil
}

func scanNote(row pgx.Row) (*note.Note, error) {
	var n note.Note
	var content []byte
	if err := row.Scan(&n.ID, &n.Title, &n.Color, &content, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	if err := decodeContent(content, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func decodeContent(data []byte, n *note.Note) error {
	if err := json.Unmarshal(data, &n.Content); err != nil {
		return fmt.Errorf("notestore: unmarshal content of %q: %w", n.ID, err)
	}
	if n.Content == nil {
		n.Content = []note.Block{}
	}
	return nil
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
