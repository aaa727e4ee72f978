package storage

import (
	"context"
	"database/sql"
	"fmt"
	"path"
	"sync"
	"time"
)

// SQLiteStore implements VectorStore on a single SQLite database
type SQLiteStore struct {
	db *sql.DB

	mu     sync.RWMutex
	closed bool
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer; this also keeps :memory:
	// databases on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// NewSQLiteStore opens or creates the vector database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// guard takes the read lock and fails once the store is closed
func (s *SQLiteStore) guard() (func(), error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	return s.mu.RUnlock, nil
}

// upsertWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStore) upsertWithQuerier(ctx context.Context, q querier, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO chunks (id, path, file_name, chunk_index, content, start_byte, end_byte,
		                    start_line, end_line, file_type, vector, dimension, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			file_name = excluded.file_name,
			chunk_index = excluded.chunk_index,
			content = excluded.content,
			start_byte = excluded.start_byte,
			end_byte = excluded.end_byte,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			file_type = excluded.file_type,
			vector = excluded.vector,
			dimension = excluded.dimension,
			updated_at = excluded.updated_at
	`
	m := e.Metadata
	_, err := q.ExecContext(ctx, query,
		e.ID, m.Path, path.Base(m.Path), m.ChunkIndex, m.Content, m.StartByte, m.EndByte,
		m.StartLine, m.EndLine, m.FileType, serializeVector(e.Vector), len(e.Vector), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert chunk %s: %w", e.ID, err)
	}
	return nil
}

// Upsert inserts or replaces one vector
func (s *SQLiteStore) Upsert(ctx context.Context, id string, vector []float32, meta Metadata) error {
	release, err := s.guard()
	if err != nil {
		return err
	}
	defer release()
	return s.upsertWithQuerier(ctx, s.db, Entry{ID: id, Vector: vector, Metadata: meta})
}

// deleteByPathWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStore) deleteByPathWithQuerier(ctx context.Context, q querier, p string) (int, error) {
	result, err := q.ExecContext(ctx, "DELETE FROM chunks WHERE path = ?", p)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks of %s: %w", p, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// DeleteByPath removes every vector of p
func (s *SQLiteStore) DeleteByPath(ctx context.Context, p string) (int, error) {
	release, err := s.guard()
	if err != nil {
		return 0, err
	}
	defer release()
	return s.deleteByPathWithQuerier(ctx, s.db, p)
}

// ReplacePath deletes the entries of p and inserts entries in one transaction
func (s *SQLiteStore) ReplacePath(ctx context.Context, p string, entries []Entry) error {
	release, err := s.guard()
	if err != nil {
		return err
	}
	defer release()

	for i := range entries {
		if entries[i].Metadata.Path != p {
			return fmt.Errorf("%w: entry %s belongs to %s, not %s", ErrInvalidEntry, entries[i].ID, entries[i].Metadata.Path, p)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.deleteByPathWithQuerier(ctx, tx, p); err != nil {
		return err
	}
	for _, e := range entries {
		if err := s.upsertWithQuerier(ctx, tx, e); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit replacement of %s: %w", p, err)
	}
	return nil
}

// Query returns the vectors most similar to vector
func (s *SQLiteStore) Query(ctx context.Context, vector []float32, limit int, filter *Filter) ([]Result, error) {
	release, err := s.guard()
	if err != nil {
		return nil, err
	}
	defer release()

	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrInvalidEntry)
	}
	return searchVector(ctx, s.db, vector, limit, filter)
}

// CountByPath returns the number of vectors stored for p
func (s *SQLiteStore) CountByPath(ctx context.Context, p string) (int, error) {
	release, err := s.guard()
	if err != nil {
		return 0, err
	}
	defer release()

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks WHERE path = ?", p).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks of %s: %w", p, err)
	}
	return n, nil
}

// Count returns the total number of vectors
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	release, err := s.guard()
	if err != nil {
		return 0, err
	}
	defer release()

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// Paths returns every distinct path with at least one vector
func (s *SQLiteStore) Paths(ctx context.Context) ([]string, error) {
	release, err := s.guard()
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT path FROM chunks ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("failed to list paths: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// get returns the stored entry with the given id
func (s *SQLiteStore) get(ctx context.Context, id string) (*Entry, error) {
	release, err := s.guard()
	if err != nil {
		return nil, err
	}
	defer release()

	query := `
		SELECT id, path, chunk_index, content, start_byte, end_byte,
		       start_line, end_line, file_type, vector
		FROM chunks
		WHERE id = ?
	`
	var e Entry
	var blob []byte
	m := &e.Metadata
	err = s.db.QueryRowContext(ctx, query, id).Scan(
		&e.ID, &m.Path, &m.ChunkIndex, &m.Content, &m.StartByte, &m.EndByte,
		&m.StartLine, &m.EndLine, &m.FileType, &blob,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Vector = deserializeVector(blob)
	return &e, nil
}
