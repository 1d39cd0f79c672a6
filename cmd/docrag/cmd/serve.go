package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"docrag/internal/ingest"
	"docrag/internal/server"
)

func newServeCmd() *cobra.Command {
	var watchDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the retrieval REST API server",
		Long: `Start the HTTP server exposing retrieval, collection scans,
health checks, and document ingestion.

With --watch, a filesystem watcher keeps the index in sync with a
directory while the server runs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), watchDir)
		},
	}

	cmd.Flags().StringVar(&watchDir, "watch", "", "Directory to watch and ingest continuously")

	return cmd
}

func runServe(ctx context.Context, watchDir string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	srv := server.NewServer(
		app.cfg.Server,
		app.cfg.Storage.Collection,
		app.retriever,
		app.ensemble,
		app.index,
		server.WithPipeline(app.pipeline),
		server.WithScanner(app.scanner),
		server.WithLogger(slog.Default()),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Run(ctx)
	})

	if watchDir != "" {
		watcher := ingest.NewWatcher(app.pipeline, app.cfg.Ingest.WatchDebounce)
		g.Go(func() error {
			slog.Info("watching directory", "dir", watchDir)
			return watcher.Watch(ctx, watchDir)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	if saveErr := app.save(); saveErr != nil {
		slog.Error("failed to persist vector index", "error", saveErr)
		if err == nil {
			err = saveErr
		}
	}
	return err
}
