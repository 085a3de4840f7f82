// Package store persists compiled-function snapshots in a SQLite
// database: the program source that produced the function plus the
// binary state snapshot, keyed by name.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/vk/tensorlink/internal/ctxlog"
)

// ErrNotFound is returned when no snapshot exists under the given name.
var ErrNotFound = errors.New("snapshot not found")

// Snapshot is one stored compiled-function state.
type Snapshot struct {
	ID        string
	Name      string
	Source    string
	State     []byte
	CreatedAt time.Time
}

// Store wraps the SQLite database handle.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	source     TEXT NOT NULL,
	state      BLOB NOT NULL,
	created_at TIMESTAMP NOT NULL
);`

// Open opens (creating if needed) the snapshot database at path. The
// special path "file::memory:" yields an in-memory store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing snapshot store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts a snapshot under name and returns its id.
func (s *Store) Save(ctx context.Context, name, source string, state []byte) (string, error) {
	logger := ctxlog.FromContext(ctx)
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (id, name, source, state, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			source = excluded.source,
			state = excluded.state,
			created_at = excluded.created_at`,
		id, name, source, state, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("saving snapshot %q: %w", name, err)
	}
	logger.Debug("Snapshot saved.", "name", name, "bytes", len(state))
	return id, nil
}

// Load fetches the snapshot stored under name.
func (s *Store) Load(ctx context.Context, name string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, source, state, created_at
		FROM snapshots WHERE name = ?`, name)
	var snap Snapshot
	err := row.Scan(&snap.ID, &snap.Name, &snap.Source, &snap.State, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot %q: %w", name, err)
	}
	return &snap, nil
}

// List returns every stored snapshot, newest first, without state blobs.
func (s *Store) List(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, source, created_at
		FROM snapshots ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var snap Snapshot
		if err := rows.Scan(&snap.ID, &snap.Name, &snap.Source, &snap.CreatedAt); err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}
