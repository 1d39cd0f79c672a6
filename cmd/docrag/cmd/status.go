package cmd

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"docrag/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index and component status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	info := ui.StatusInfo{
		Collection:       app.cfg.Storage.Collection,
		StorageBackend:   app.cfg.Storage.Backend,
		StorageSize:      dirSize(app.cfg.Storage.DataDir),
		EmbedderProvider: app.cfg.Embeddings.Provider,
		EmbedderModel:    app.embedder.ModelName(),
	}

	count, partial, err := app.scanner.CountAll(ctx, app.index)
	if err == nil {
		info.TotalChunks = count
		info.PartialCount = partial
	}

	if docs, err := app.registry.ListDocuments(ctx); err == nil {
		info.TotalDocuments = len(docs)
		if len(docs) > 0 {
			info.LastIngested = docs[0].IngestedAt
		}
	}

	if app.embedder.Available(ctx) {
		info.EmbedderStatus = "ready"
	} else {
		info.EmbedderStatus = "offline"
	}

	out := cmd.OutOrStdout()
	renderer := ui.NewStatusRenderer(out, !ui.IsTTY(out) || ui.DetectNoColor())
	if jsonOutput {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

// dirSize sums file sizes under dir. Best effort, 0 on error.
func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
