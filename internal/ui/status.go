package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// StatusInfo contains index health information.
type StatusInfo struct {
	Collection     string    `json:"collection"`
	TotalDocuments int       `json:"total_documents"`
	TotalChunks    int       `json:"total_chunks"`
	PartialCount   bool      `json:"partial_count,omitempty"`
	LastIngested   time.Time `json:"last_ingested"`

	StorageBackend string `json:"storage_backend"`
	StorageSize    int64  `json:"storage_size"`

	EmbedderProvider string `json:"embedder_provider"`
	EmbedderStatus   string `json:"embedder_status"` // "ready", "offline", "error"
	EmbedderModel    string `json:"embedder_model,omitempty"`
	WatcherStatus    string `json:"watcher_status,omitempty"` // "running", "stopped"
}

// StatusRenderer displays index status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:    out,
		styles: GetStyles(noColor),
	}
}

// Render displays status info to the terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Collection: "+info.Collection))

	_, _ = fmt.Fprintf(r.out, "  Documents:    %d\n", info.TotalDocuments)
	if info.PartialCount {
		_, _ = fmt.Fprintf(r.out, "  Chunks:       %d+ (partial scan)\n", info.TotalChunks)
	} else {
		_, _ = fmt.Fprintf(r.out, "  Chunks:       %d\n", info.TotalChunks)
	}
	if !info.LastIngested.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Last ingest:  %s\n", formatTime(info.LastIngested))
	}
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Storage:")
	_, _ = fmt.Fprintf(r.out, "    Backend: %s\n", info.StorageBackend)
	if info.StorageSize > 0 {
		_, _ = fmt.Fprintf(r.out, "    Size:    %s\n", FormatBytes(info.StorageSize))
	}
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Embedder:")
	_, _ = fmt.Fprintf(r.out, "    Provider: %s\n", info.EmbedderProvider)
	_, _ = fmt.Fprintf(r.out, "    Status:   %s\n", r.renderStatus(info.EmbedderStatus))
	if info.EmbedderModel != "" {
		_, _ = fmt.Fprintf(r.out, "    Model:    %s\n", info.EmbedderModel)
	}

	if info.WatcherStatus != "" {
		_, _ = fmt.Fprintf(r.out, "\n  Watcher: %s\n", r.renderStatus(info.WatcherStatus))
	}

	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "ready", "running":
		return r.styles.Success.Render(status)
	case "offline", "stopped":
		return r.styles.Warning.Render(status)
	case "error":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}

func formatTime(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes formats a byte count for display.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
