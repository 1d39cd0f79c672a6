package ingest

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// graphExport is the Microsoft Graph messages export envelope.
type graphExport struct {
	ODataContext string         `json:"@odata.context"`
	Value        []graphMessage `json:"value"`
}

type graphMessage struct {
	ID              string `json:"id"`
	Subject         string `json:"subject"`
	ConversationID  string `json:"conversationId"`
	CreatedDateTime string `json:"createdDateTime"`
	Body            struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	BodyPreview string `json:"bodyPreview"`
	Sender      struct {
		EmailAddress struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"sender"`
}

// isEmailExport sniffs for the Graph export envelope without fully
// decoding the file.
func isEmailExport(data []byte) bool {
	var probe struct {
		ODataContext *string `json:"@odata.context"`
		Value        []any   `json:"value"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.ODataContext != nil && probe.Value != nil
}

// loadEmailJSON loads a Graph messages export as one document per
// email. Malformed messages are skipped rather than failing the file.
func loadEmailJSON(path string, data []byte) ([]Document, error) {
	var export graphExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("parse email export %s: %w", path, err)
	}

	docs := make([]Document, 0, len(export.Value))
	for _, msg := range export.Value {
		body := msg.Body.Content
		if strings.EqualFold(msg.Body.ContentType, "html") {
			body = stripHTMLTags(body)
		}
		if strings.TrimSpace(body) == "" {
			body = msg.BodyPreview
		}
		if msg.ID == "" || strings.TrimSpace(body) == "" {
			continue
		}

		content := body
		if msg.Subject != "" {
			content = msg.Subject + "\n\n" + body
		}

		docs = append(docs, Document{
			ID:      DocumentID(path + "#" + msg.ID),
			Title:   msg.Subject,
			Source:  path,
			Type:    TypeEmail,
			Content: content,
			Metadata: map[string]string{
				MetaSource:   path,
				MetaDocType:  TypeEmail,
				MetaSubject:  msg.Subject,
				MetaSender:   msg.Sender.EmailAddress.Address,
				MetaThreadID: msg.ConversationID,
				MetaSentAt:   msg.CreatedDateTime,
			},
		})
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyDocument)
	}
	return docs, nil
}

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// stripHTMLTags is a fallback for HTML email bodies; full HTML
// documents go through the web loader's parser instead.
func stripHTMLTags(s string) string {
	text := htmlTagPattern.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(text), " ")
}
