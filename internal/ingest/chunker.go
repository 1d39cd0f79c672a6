package ingest

import (
	"fmt"
	"regexp"
	"strings"

	"docrag/internal/store"
)

// Chunking defaults, in characters.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// RecursiveChunker splits on progressively finer separators (paragraph,
// line, sentence, word) so chunks break at natural boundaries where
// possible, with a sliding-window overlap between consecutive chunks.
type RecursiveChunker struct {
	Size    int
	Overlap int
}

var _ Chunker = (*RecursiveChunker)(nil)

// NewRecursiveChunker creates a chunker with validated settings.
func NewRecursiveChunker(size, overlap int) *RecursiveChunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
		if overlap >= size {
			overlap = size / 5
		}
	}
	return &RecursiveChunker{Size: size, Overlap: overlap}
}

var recursiveSeparators = []string{"\n\n", "\n", ". ", " "}

// Split breaks the document into chunks of at most Size characters.
func (c *RecursiveChunker) Split(doc Document) []store.Chunk {
	pieces := c.split(doc.Content, recursiveSeparators)
	return buildChunks(doc, pieces)
}

func (c *RecursiveChunker) split(text string, separators []string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= c.Size {
		return []string{text}
	}
	if len(separators) == 0 {
		return c.slide(text)
	}

	sep := separators[0]
	parts := strings.Split(text, sep)
	if len(parts) == 1 {
		return c.split(text, separators[1:])
	}

	// Greedily pack parts back together up to Size, recursing into
	// parts that are individually too large.
	var chunks []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, part := range parts {
		if len(part) > c.Size {
			flush()
			chunks = append(chunks, c.split(part, separators[1:])...)
			continue
		}
		if current.Len()+len(sep)+len(part) > c.Size {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(sep)
		}
		current.WriteString(part)
	}
	flush()
	return chunks
}

// slide cuts text into fixed windows with overlap, the last resort when
// no separator fits.
func (c *RecursiveChunker) slide(text string) []string {
	step := c.Size - c.Overlap
	var chunks []string
	for start := 0; start < len(text); start += step {
		end := start + c.Size
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}
		chunks = append(chunks, text[start:end])
	}
	return chunks
}

// SentenceChunker groups whole sentences up to Size characters. Useful
// for email bodies where sentence boundaries matter more than uniform
// chunk length.
type SentenceChunker struct {
	Size int
}

var _ Chunker = (*SentenceChunker)(nil)

// NewSentenceChunker creates a sentence chunker.
func NewSentenceChunker(size int) *SentenceChunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &SentenceChunker{Size: size}
}

var sentenceBoundary = regexp.MustCompile(`([.!?])\s+`)

// Split groups sentences into chunks of at most Size characters.
// Sentences longer than Size become their own oversized chunk rather
// than being cut mid-sentence.
func (c *SentenceChunker) Split(doc Document) []store.Chunk {
	text := strings.TrimSpace(doc.Content)
	if text == "" {
		return nil
	}

	sentences := sentenceBoundary.Split(text, -1)
	boundaries := sentenceBoundary.FindAllStringSubmatch(text, -1)

	var pieces []string
	var current strings.Builder
	for i, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		if i < len(boundaries) {
			sentence += boundaries[i][1]
		}
		if current.Len() > 0 && current.Len()+1+len(sentence) > c.Size {
			pieces = append(pieces, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
	}
	if current.Len() > 0 {
		pieces = append(pieces, current.String())
	}

	return buildChunks(doc, pieces)
}

// buildChunks materializes chunk records with stable ids and a copy of
// the document metadata per chunk.
func buildChunks(doc Document, pieces []string) []store.Chunk {
	chunks := make([]store.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		metadata := make(map[string]string, len(doc.Metadata))
		for k, v := range doc.Metadata {
			metadata[k] = v
		}
		chunks = append(chunks, store.Chunk{
			ID:       fmt.Sprintf("%s#%d", doc.ID, i),
			ParentID: doc.ID,
			Content:  piece,
			Metadata: metadata,
		})
	}
	return chunks
}
