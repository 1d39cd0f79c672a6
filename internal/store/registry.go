package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// State keys for embedder consistency checks. An index built with one
// model must not be queried with another of different dimension.
const (
	StateKeyIndexDimension = "index_embedding_dimension"
	StateKeyIndexModel     = "index_embedding_model"
)

// Document is a registry row describing an ingested source.
type Document struct {
	ID         string
	Source     string // path or URL the document came from
	Type       string // pdf, json, email, web
	Collection string // vector collection the chunks went to
	ChunkCount int
	SHA256     string // content hash, used to skip unchanged re-ingests
	IngestedAt time.Time
}

// Registry tracks ingested documents and small runtime state in SQLite.
// It is bookkeeping only: counting and listing stored vectors goes
// through the Scanner, never through registry rows.
type Registry struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

const registrySchema = `
CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	type        TEXT NOT NULL,
	collection  TEXT NOT NULL,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	sha256      TEXT NOT NULL DEFAULT '',
	ingested_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_source ON documents(source);
CREATE TABLE IF NOT EXISTS state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

// OpenRegistry opens (or creates) the registry database at path.
// WAL mode allows the CLI and the server to read concurrently.
func OpenRegistry(path string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if _, err := db.Exec(registrySchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create registry schema: %w", err)
	}

	return &Registry{db: db}, nil
}

// SaveDocument inserts or replaces a document row.
func (r *Registry) SaveDocument(ctx context.Context, doc *Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("registry is closed")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO documents (id, source, type, collection, chunk_count, sha256, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source=excluded.source, type=excluded.type, collection=excluded.collection,
			chunk_count=excluded.chunk_count, sha256=excluded.sha256, ingested_at=excluded.ingested_at`,
		doc.ID, doc.Source, doc.Type, doc.Collection, doc.ChunkCount, doc.SHA256, doc.IngestedAt)
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

// GetDocumentBySource returns the registry row for a source path, or
// ErrNotFound.
func (r *Registry) GetDocumentBySource(ctx context.Context, source string) (*Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row := r.db.QueryRowContext(ctx, `
		SELECT id, source, type, collection, chunk_count, sha256, ingested_at
		FROM documents WHERE source = ?`, source)

	var doc Document
	err := row.Scan(&doc.ID, &doc.Source, &doc.Type, &doc.Collection, &doc.ChunkCount, &doc.SHA256, &doc.IngestedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document for %q: %w", source, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &doc, nil
}

// ListDocuments returns all registry rows, newest first.
func (r *Registry) ListDocuments(ctx context.Context) ([]*Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, source, type, collection, chunk_count, sha256, ingested_at
		FROM documents ORDER BY ingested_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Source, &doc.Type, &doc.Collection, &doc.ChunkCount, &doc.SHA256, &doc.IngestedAt); err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a registry row.
func (r *Registry) DeleteDocument(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// GetState reads a state value; missing keys return "".
func (r *Registry) GetState(ctx context.Context, key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get state %q: %w", key, err)
	}
	return value, nil
}

// SetState writes a state value.
func (r *Registry) SetState(ctx context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set state %q: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.db.Close()
}
