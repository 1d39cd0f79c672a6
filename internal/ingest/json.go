package ingest

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// loadJSON converts a JSON or JSONL document file into flattened text.
// Each JSONL line becomes its own paragraph.
func loadJSON(path string, data []byte) ([]Document, error) {
	var content string
	if strings.ToLower(filepath.Ext(path)) == ".jsonl" {
		var paragraphs []string
		for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			var value any
			if err := json.Unmarshal([]byte(line), &value); err != nil {
				continue
			}
			paragraphs = append(paragraphs, jsonToText(value))
		}
		content = strings.Join(paragraphs, "\n\n")
	} else {
		var value any
		if err := json.Unmarshal(data, &value); err != nil {
			return nil, fmt.Errorf("parse json %s: %w", path, err)
		}
		content = jsonToText(value)
	}

	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyDocument)
	}

	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return []Document{{
		ID:      DocumentID(path),
		Title:   title,
		Source:  path,
		Type:    TypeJSON,
		Content: content,
		Metadata: map[string]string{
			MetaSource:  path,
			MetaDocType: TypeJSON,
			MetaTitle:   title,
		},
	}}, nil
}

// jsonToText renders arbitrary JSON as "key: value" lines suitable for
// embedding. Keys are emitted in sorted order so output is stable.
func jsonToText(value any) string {
	var b strings.Builder
	writeJSONValue(&b, "", value)
	return strings.TrimSpace(b.String())
}

func writeJSONValue(b *strings.Builder, prefix string, value any) {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			writeJSONValue(b, joinPath(prefix, k), v[k])
		}
	case []any:
		for i, item := range v {
			writeJSONValue(b, joinPath(prefix, strconv.Itoa(i)), item)
		}
	case string:
		if strings.TrimSpace(v) != "" {
			fmt.Fprintf(b, "%s: %s\n", prefix, v)
		}
	case float64:
		fmt.Fprintf(b, "%s: %s\n", prefix, strconv.FormatFloat(v, 'f', -1, 64))
	case bool:
		fmt.Fprintf(b, "%s: %t\n", prefix, v)
	case nil:
		// skip nulls
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
