package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Web loader limits.
const (
	DefaultWebTimeout       = 30 * time.Second
	DefaultMaxContentLength = 10 << 20 // 10MB
	webUserAgent            = "docrag/1.0 (+document loader)"
)

// WebLoader fetches a URL and extracts its readable text.
type WebLoader struct {
	client     *http.Client
	maxContent int64
}

// NewWebLoader creates a web loader with default limits.
func NewWebLoader() *WebLoader {
	return &WebLoader{
		client:     &http.Client{Timeout: DefaultWebTimeout},
		maxContent: DefaultMaxContentLength,
	}
}

// Load fetches the URL and returns it as a single document.
func (w *WebLoader) Load(ctx context.Context, url string) ([]Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", webUserAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %s", url, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, w.maxContent))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}

	title, text, err := extractHTMLText(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%s: %w", url, ErrEmptyDocument)
	}
	if title == "" {
		title = url
	}

	return []Document{{
		ID:      DocumentID(url),
		Title:   title,
		Source:  url,
		Type:    TypeWeb,
		Content: text,
		Metadata: map[string]string{
			MetaSource:  url,
			MetaDocType: TypeWeb,
			MetaTitle:   title,
			MetaURL:     url,
		},
	}}, nil
}

// extractHTMLText walks the DOM collecting visible text, skipping
// script, style and other non-content subtrees.
func extractHTMLText(htmlSource string) (title, text string, err error) {
	doc, err := html.Parse(strings.NewReader(htmlSource))
	if err != nil {
		return "", "", err
	}

	skip := map[string]bool{
		"script": true, "style": true, "noscript": true,
		"nav": true, "footer": true,
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if n.Data == "title" {
				if title == "" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			}
			if skip[n.Data] {
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				b.WriteString(t)
				b.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return title, strings.TrimSpace(b.String()), nil
}
