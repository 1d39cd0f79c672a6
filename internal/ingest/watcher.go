package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceWindow is how long the watcher waits for file events
// to settle before re-ingesting.
const DefaultDebounceWindow = 500 * time.Millisecond

// watchedExtensions are the file types the watcher reacts to.
var watchedExtensions = map[string]bool{
	".pdf": true, ".json": true, ".jsonl": true, ".txt": true, ".md": true,
}

// Watcher re-ingests files in a directory tree as they change.
type Watcher struct {
	pipeline  *Pipeline
	debouncer *Debouncer
	logger    *slog.Logger
}

// NewWatcher creates a watcher over the given pipeline.
func NewWatcher(pipeline *Pipeline, window time.Duration) *Watcher {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &Watcher{
		pipeline:  pipeline,
		debouncer: NewDebouncer(window),
		logger:    pipeline.logger,
	}
}

// Watch blocks, ingesting changed files under root until the context
// is cancelled. Subdirectories are watched recursively; directories
// created later are picked up as they appear.
func (w *Watcher) Watch(ctx context.Context, root string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()
	defer w.debouncer.Stop()

	if err := addRecursive(fsw, root); err != nil {
		return err
	}
	w.logger.Info("watching for changes", slog.String("root", root))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleRawEvent(fsw, event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", slog.Any("error", err))

		case batch := <-w.debouncer.Output():
			w.applyBatch(ctx, batch)
		}
	}
}

func (w *Watcher) handleRawEvent(fsw *fsnotify.Watcher, event fsnotify.Event) {
	// New directories need their own watch before files land in them.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = addRecursive(fsw, event.Name)
			return
		}
	}

	if !watchedExtensions[strings.ToLower(filepath.Ext(event.Name))] {
		return
	}

	var op Operation
	switch {
	case event.Op.Has(fsnotify.Create):
		op = OpCreate
	case event.Op.Has(fsnotify.Write):
		op = OpModify
	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return
	}

	w.debouncer.Add(FileEvent{Path: event.Name, Operation: op, Timestamp: time.Now()})
}

func (w *Watcher) applyBatch(ctx context.Context, batch []FileEvent) {
	var toIngest []string
	for _, event := range batch {
		switch event.Operation {
		case OpDelete:
			if err := w.pipeline.RemoveSource(ctx, event.Path); err != nil {
				w.logger.Warn("remove failed", slog.String("path", event.Path), slog.Any("error", err))
			}
		default:
			toIngest = append(toIngest, event.Path)
		}
	}
	if len(toIngest) == 0 {
		return
	}

	report, err := w.pipeline.IngestFiles(ctx, toIngest)
	if err != nil {
		w.logger.Warn("re-ingest failed", slog.Any("error", err))
		return
	}
	w.logger.Info("re-ingested",
		slog.Int("documents", report.Documents),
		slog.Int("chunks", report.Chunks),
		slog.Int("failed", len(report.Failures)))
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return fsw.Add(path)
		}
		return nil
	})
}
