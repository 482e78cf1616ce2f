package notestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/notestream/pkg/note"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS notes (
    id         TEXT PRIMARY KEY,
    title      TEXT NOT NULL,
    color      TEXT NOT NULL DEFAULT 'blue',
    content    TEXT NOT NULL DEFAULT '[]',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notes_updated_at ON notes(updated_at DESC);
`

// SQLiteStore is a [Store] backed by a local SQLite file. Timestamps are
// stored as Unix nanoseconds.
type SQLiteStore struct {
	db   *sql.DB
	opts options
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path with WAL
// journaling and migrates its schema.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("notestore: sqlite path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("notestore: create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("notestore: open database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between our own connections.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("notestore: ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("notestore: migrate: %w", err)
	}
	return &SQLiteStore{db: db, opts: buildOptions(opts)}, nil
}

// Create implements [Store].
func (s *SQLiteStore) Create(ctx context.Context, n *note.Note) error {
	prepare(n, s.opts.now())
	content, err := json.Marshal(n.Content)
	if err != nil {
		return fmt.Errorf("notestore: marshal content: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, title, color, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, n.ID, n.Title, n.Color, string(content), n.CreatedAt.UnixNano(), n.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("notestore: create: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("%w: %q", ErrExists, n.ID)
	}
	return nil
}

// Get implements [Store].
func (s *SQLiteStore) Get(ctx context.Context, id string) (*note.Note, error) {
	return s.get(ctx, s.db, id)
}

// queryer is the subset of *sql.DB and *sql.Tx used by get.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) get(ctx context.Context, q queryer, id string) (*note.Note, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, title, color, content, created_at, updated_at
		FROM notes
		WHERE id = ?
	`, id)
	n, err := scanSQLiteNote(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("notestore: get %q: %w", id, err)
	}
	return n, nil
}

// List implements [Store].
func (s *SQLiteStore) List(ctx context.Context) ([]note.Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, color, content, created_at, updated_at
		FROM notes
		ORDER BY updated_at DESC, created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("notestore: list: %w", err)
	}
	defer rows.Close()

	notes := []note.Note{}
	for rows.Next() {
		n, err := scanSQLiteNote(rows)
		if err != nil {
			return nil, fmt.Errorf("notestore: list scan: %w", err)
		}
		notes = append(notes, *n)
	}
	return notes, rows.Err()
}

// Delete implements [Store].
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("notestore: delete %q: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("notestore: delete %q: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Append implements [Store]. The read and the write share one transaction.
func (s *SQLiteStore) Append(ctx context.Context, id string, blocks []note.Block) (*note.Note, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("notestore: append %q: begin: %w", id, err)
	}
	defer tx.Rollback()

	n, err := s.get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	n.Content = slices.Concat(n.Content, blocks)
	n.UpdatedAt = s.opts.now()

	content, err := json.Marshal(n.Content)
	if err != nil {
		return nil, fmt.Errorf("notestore: marshal content: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE notes SET content = ?, updated_at = ? WHERE id = ?`,
		string(content), n.UpdatedAt.UnixNano(), id,
	); err != nil {
		return nil, fmt.Errorf("notestore: append %q: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("notestore: append %q: commit: %w", id, err)
	}
	return n, nil
}

// Ping implements [Store].
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteNote(row sqlScanner) (*note.Note, error) {
	var n note.Note
	var content string
	var created, updated int64
	if err := row.Scan(&n.ID, &n.Title, &n.Color, &content, &created, &updated); err != nil {
		return nil, err
	}
	n.CreatedAt = timeFromUnixNano(created)
	n.UpdatedAt = timeFromUnixNano(updated)
	if err := decodeContent([]byte(content), &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func timeFromUnixNano(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
