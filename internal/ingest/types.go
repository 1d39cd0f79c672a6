// Package ingest loads documents and emails, splits them into chunks
// and pushes embeddings into the vector store.
package ingest

import (
	"errors"

	"docrag/internal/store"
)

// Document types recorded in chunk metadata and the registry.
const (
	TypePDF   = "pdf"
	TypeJSON  = "json"
	TypeEmail = "email"
	TypeWeb   = "web"
	TypeText  = "text"
)

// Metadata keys written by the loaders.
const (
	MetaSource   = "source"
	MetaDocType  = "doc_type"
	MetaTitle    = "title"
	MetaPage     = "page"
	MetaSender   = "sender"
	MetaSubject  = "subject"
	MetaThreadID = "thread_id"
	MetaSentAt   = "sent_at"
	MetaURL      = "url"
)

var (
	// ErrUnsupportedFormat is returned for file extensions no loader
	// handles.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrEmptyDocument is returned when a source yields no extractable
	// text.
	ErrEmptyDocument = errors.New("document has no extractable text")
)

// Document is one loaded source before chunking. Emails load as one
// Document per message.
type Document struct {
	ID       string
	Title    string
	Source   string // file path or URL
	Type     string
	Content  string
	Metadata map[string]string
}

// Chunker splits document content into chunks ready for embedding.
type Chunker interface {
	Split(doc Document) []store.Chunk
}
