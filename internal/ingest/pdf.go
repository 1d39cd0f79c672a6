package ingest

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

// loadPDF extracts text per page so chunk metadata can carry the page
// number. Pages without extractable text are skipped.
func loadPDF(path string, data []byte) ([]Document, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("parse pdf %s: %w", path, err)
	}

	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			pages = append(pages, text)
		}
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyDocument)
	}

	// One document per page keeps page provenance without a custom
	// chunk boundary scheme.
	docs := make([]Document, len(pages))
	for i, text := range pages {
		pageNum := strconv.Itoa(i + 1)
		docs[i] = Document{
			ID:      DocumentID(path + "#page=" + pageNum),
			Title:   title,
			Source:  path,
			Type:    TypePDF,
			Content: text,
			Metadata: map[string]string{
				MetaSource:  path,
				MetaDocType: TypePDF,
				MetaTitle:   title,
				MetaPage:    pageNum,
			},
		}
	}
	return docs, nil
}
