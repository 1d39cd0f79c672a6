package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"docrag/internal/ingest"
	"docrag/internal/ui"
)

func newIngestCmd() *cobra.Command {
	var (
		fromURL string
		watch   bool
	)

	cmd := &cobra.Command{
		Use:   "ingest [paths...]",
		Short: "Ingest documents into the index",
		Long: `Load, chunk, embed, and index documents.

Supported inputs: PDF, JSON, Microsoft Graph email exports
(.json/.jsonl), plain text and Markdown files, and web pages
via --url.

Examples:
  docrag ingest ./reports/q3.pdf ./mail/inbox.json
  docrag ingest --url https://example.com/handbook
  docrag ingest --watch ./documents`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if fromURL == "" && len(args) == 0 {
				return errors.New("provide at least one path or --url")
			}
			if watch && len(args) != 1 {
				return errors.New("--watch requires exactly one directory")
			}
			return runIngest(cmd.Context(), cmd, args, fromURL, watch)
		},
	}

	cmd.Flags().StringVar(&fromURL, "url", "", "Ingest a web page instead of local files")
	cmd.Flags().BoolVar(&watch, "watch", false, "Watch the given directory and re-ingest on changes")

	return cmd
}

func runIngest(ctx context.Context, cmd *cobra.Command, paths []string, fromURL string, watch bool) error {
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	renderer := ui.NewRenderer(cmd.OutOrStdout())

	if watch {
		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		watcher := ingest.NewWatcher(app.pipeline, app.cfg.Ingest.WatchDebounce)
		renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageLoading, Message: "watching " + paths[0]})
		err := watcher.Watch(ctx, paths[0])
		if saveErr := app.save(); saveErr != nil && err == nil {
			err = saveErr
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	start := time.Now()

	var report *ingest.Report
	if fromURL != "" {
		renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageLoading, Message: fromURL})
		report, err = app.pipeline.IngestURL(ctx, fromURL)
	} else {
		renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageLoading, Current: 0, Total: len(paths)})
		report, err = app.pipeline.IngestFiles(ctx, paths)
	}
	if err != nil {
		return err
	}

	for source, ferr := range report.Failures {
		renderer.AddError(ui.ErrorEvent{File: source, Err: ferr})
	}

	if err := app.save(); err != nil {
		return fmt.Errorf("persist vector index: %w", err)
	}

	renderer.Complete(ui.CompletionStats{
		Documents: report.Documents,
		Chunks:    report.Chunks,
		Skipped:   report.Skipped,
		Duration:  time.Since(start),
		Errors:    len(report.Failures),
		Embedder: ui.EmbedderInfo{
			Provider:   app.cfg.Embeddings.Provider,
			Model:      app.embedder.ModelName(),
			Dimensions: app.embedder.Dimensions(),
		},
	})

	if report.Documents == 0 && len(report.Failures) > 0 {
		return errors.New("no documents could be ingested")
	}
	return nil
}
