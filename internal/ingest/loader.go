package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// docNamespace derives deterministic document ids from sources so
// re-ingesting the same file updates instead of duplicating.
var docNamespace = uuid.MustParse("3f1c8a9e-77d1-47a3-9a51-0f4a7de2b6c4")

// DocumentID returns the stable id for a source path or URL.
func DocumentID(source string) string {
	return uuid.NewSHA1(docNamespace, []byte(source)).String()
}

// ContentHash returns the hex SHA-256 of raw document bytes, used to
// skip re-ingesting unchanged files.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// LoadFile loads one file into documents, dispatching on extension.
// Plain JSON yields a single document; email JSON (Microsoft Graph
// export detected by its envelope) yields one document per message.
func LoadFile(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return loadPDF(path, data)
	case ".json", ".jsonl":
		if isEmailExport(data) {
			return loadEmailJSON(path, data)
		}
		return loadJSON(path, data)
	case ".txt", ".md":
		return loadText(path, data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// loadText wraps a plain text file as a single document.
func loadText(path string, data []byte) ([]Document, error) {
	content := strings.TrimSpace(string(data))
	if content == "" {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyDocument)
	}
	return []Document{{
		ID:      DocumentID(path),
		Title:   strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Source:  path,
		Type:    TypeText,
		Content: content,
		Metadata: map[string]string{
			MetaSource:  path,
			MetaDocType: TypeText,
		},
	}}, nil
}
