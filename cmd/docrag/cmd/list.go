package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"docrag/internal/ui"
)

func newListCmd() *cobra.Command {
	var (
		limit     int
		offset    int
		documents bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored chunks or documents",
		Long: `List chunks in the collection (default) or registered source
documents (--documents).

Examples:
  docrag list --limit 20
  docrag list --limit 20 --offset 40
  docrag list --documents`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if documents {
				return runListDocuments(cmd.Context(), cmd)
			}
			return runListChunks(cmd.Context(), cmd, limit, offset)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of chunks (0 = all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of chunks to skip")
	cmd.Flags().BoolVar(&documents, "documents", false, "List source documents instead of chunks")

	return cmd
}

func runListChunks(ctx context.Context, cmd *cobra.Command, limit, offset int) error {
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	chunks, hasMore, partial, err := app.scanner.ListAll(ctx, app.index, limit, offset)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	styles := ui.GetStyles(!ui.IsTTY(out) || ui.DetectNoColor())

	for _, c := range chunks {
		fmt.Fprintln(out, styles.Header.Render(c.ID))
		if c.ParentID != "" {
			fmt.Fprintln(out, styles.Label.Render("  parent: "+c.ParentID))
		}
		fmt.Fprintf(out, "  %s\n", snippet(c.Content, 120))
	}

	if hasMore {
		fmt.Fprintf(out, "\n... more chunks available (use --offset %d)\n", offset+len(chunks))
	}
	if partial {
		fmt.Fprintln(out, styles.Warning.Render("scan incomplete: listing may be missing entries"))
	}
	return nil
}

func runListDocuments(ctx context.Context, cmd *cobra.Command) error {
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	docs, err := app.registry.ListDocuments(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	styles := ui.GetStyles(!ui.IsTTY(out) || ui.DetectNoColor())

	if len(docs) == 0 {
		fmt.Fprintln(out, "No documents ingested.")
		return nil
	}

	for _, d := range docs {
		fmt.Fprintln(out, styles.Header.Render(d.Source))
		fmt.Fprintf(out, "  type: %s  chunks: %d  ingested: %s\n",
			d.Type, d.ChunkCount, d.IngestedAt.Format("2006-01-02 15:04"))
	}
	return nil
}
