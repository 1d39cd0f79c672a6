package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"docrag/internal/retrieval"
	"docrag/internal/ui"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit     int
	mode      string // "simple", "ensemble"
	strategy  string
	threshold float64
	filters   []string // key=value metadata filters
	format    string   // "text", "json"
	similarTo string   // chunk id for similarity-by-id lookup
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed documents",
		Long: `Search indexed documents by semantic similarity, optionally fused
with keyword search.

Examples:
  docrag search "quarterly revenue"
  docrag search "renewal deadline" --mode ensemble --strategy rank
  docrag search "contract terms" --filter doc_type=pdf --limit 5
  docrag search --similar-to 'doc1#3'`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			if query == "" && opts.similarTo == "" {
				return fmt.Errorf("provide a query or --similar-to")
			}
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "simple", "Retrieval mode: simple, ensemble")
	cmd.Flags().StringVar(&opts.strategy, "strategy", "", "Fusion strategy: score, rank, weighted, voting (ensemble mode)")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", 0, "Minimum normalized score in [0,1]")
	cmd.Flags().StringSliceVar(&opts.filters, "filter", nil, "Metadata filter key=value (repeatable)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().StringVar(&opts.similarTo, "similar-to", "", "Find chunks similar to the given chunk id")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	searchOpts := retrieval.Options{}
	if opts.threshold > 0 {
		t := opts.threshold
		searchOpts.ScoreThreshold = &t
	}
	if len(opts.filters) > 0 {
		searchOpts.Filter = make(map[string]string, len(opts.filters))
		for _, f := range opts.filters {
			key, value, ok := strings.Cut(f, "=")
			if !ok {
				return fmt.Errorf("invalid filter %q, expected key=value", f)
			}
			searchOpts.Filter[key] = value
		}
	}

	var (
		results  []retrieval.Result
		failures map[string]error
	)

	switch {
	case opts.similarTo != "":
		results, err = app.retriever.SimilarToChunk(ctx, opts.similarTo, opts.limit, searchOpts)

	case opts.mode == "simple":
		results, err = app.retriever.Search(ctx, query, opts.limit, searchOpts)

	case opts.mode == "ensemble":
		chosen := opts.strategy
		if chosen == "" {
			chosen = app.cfg.Retrieval.Strategy
		}
		var strategy retrieval.Strategy
		strategy, err = retrieval.ParseStrategy(chosen)
		if err != nil {
			return err
		}
		var fused *retrieval.FusedResults
		fused, err = app.ensemble.Search(ctx, query, opts.limit, strategy, searchOpts)
		if fused != nil {
			results = fused.Results
			failures = fused.Failures
		}

	default:
		return fmt.Errorf("mode must be 'simple' or 'ensemble', got %q", opts.mode)
	}
	if err != nil {
		return err
	}

	return renderResults(cmd, results, failures, opts.format)
}

func renderResults(cmd *cobra.Command, results []retrieval.Result, failures map[string]error, format string) error {
	out := cmd.OutOrStdout()

	if format == "json" {
		type jsonResult struct {
			ChunkID   string            `json:"chunk_id"`
			ParentID  string            `json:"parent_id,omitempty"`
			Content   string            `json:"content"`
			Metadata  map[string]string `json:"metadata,omitempty"`
			Score     float64           `json:"score"`
			Rank      int               `json:"rank"`
			Retriever string            `json:"retriever,omitempty"`
		}
		payload := struct {
			Results          []jsonResult      `json:"results"`
			TotalResults     int               `json:"total_results"`
			FailedRetrievers map[string]string `json:"failed_retrievers,omitempty"`
		}{Results: make([]jsonResult, 0, len(results)), TotalResults: len(results)}

		for _, r := range results {
			payload.Results = append(payload.Results, jsonResult{
				ChunkID:   r.Chunk.ID,
				ParentID:  r.Chunk.ParentID,
				Content:   r.Chunk.Content,
				Metadata:  r.Chunk.Metadata,
				Score:     r.Score,
				Rank:      r.Rank,
				Retriever: r.Retriever,
			})
		}
		if len(failures) > 0 {
			payload.FailedRetrievers = make(map[string]string, len(failures))
			for name, ferr := range failures {
				payload.FailedRetrievers[name] = ferr.Error()
			}
		}

		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(payload)
	}

	styles := ui.GetStyles(!ui.IsTTY(out) || ui.DetectNoColor())

	if len(results) == 0 {
		fmt.Fprintln(out, "No results.")
	}
	for _, r := range results {
		header := fmt.Sprintf("%d. %s (score %.3f)", r.Rank, r.Chunk.ID, r.Score)
		fmt.Fprintln(out, styles.Header.Render(header))
		if r.Retriever != "" {
			fmt.Fprintln(out, styles.Label.Render("   via "+r.Retriever))
		}
		fmt.Fprintf(out, "   %s\n\n", snippet(r.Chunk.Content, 200))
	}

	for name, ferr := range failures {
		fmt.Fprintln(out, styles.Warning.Render(fmt.Sprintf("WARN: retriever %s failed: %v", name, ferr)))
	}

	return nil
}

// snippet truncates s to max runes on a rune boundary.
func snippet(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
