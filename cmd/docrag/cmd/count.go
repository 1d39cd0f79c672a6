package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Count chunks stored in the collection",
		Long: `Count all chunks in the vector index using bounded cursor scans.
If the scan hits its iteration cap the count is reported as partial.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCount(cmd.Context(), cmd)
		},
	}
}

func runCount(ctx context.Context, cmd *cobra.Command) error {
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	count, partial, err := app.scanner.CountAll(ctx, app.index)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if partial {
		fmt.Fprintf(out, "%s: %d+ chunks (scan incomplete)\n", app.index.Name(), count)
	} else {
		fmt.Fprintf(out, "%s: %d chunks\n", app.index.Name(), count)
	}
	return nil
}
