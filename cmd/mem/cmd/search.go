package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/evilpsycho42/mem-cli/internal/memerr"
	"github.com/evilpsycho42/mem-cli/internal/output"
	"github.com/evilpsycho42/mem-cli/internal/search"
)

func newSearchCmd(flags *globalFlags) *cobra.Command {
	var limit int
	var hybrid bool

	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Semantically search the workspace's notes",
		Long: `Embeds the query and ranks indexed chunks by cosine similarity.
--hybrid additionally runs a BM25 keyword pass and fuses both rankings.
The index is brought up to date before searching.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return memerr.New(memerr.CodeQueryEmpty, "search requires a query", nil)
			}

			a, err := openApp(flags, hybrid)
			if err != nil {
				return err
			}
			defer a.close()

			if limit <= 0 {
				limit = a.cfg.Search.Limit
			}

			ctx := cmd.Context()
			provider, err := a.provider(ctx)
			if err != nil {
				// Vector search cannot proceed without a query vector.
				return memerr.EmbeddingsUnavailable(a.cfg.Embeddings.ModelPath, err).
					WithSuggestion("start the embedding backend, or set MEM_CLI_EMBEDDINGS_MOCK=1 for testing")
			}

			if err := a.engine.EnsureUpToDate(ctx, provider); err != nil {
				return err
			}

			queryVec, err := provider.EmbedQuery(ctx, query)
			if err != nil {
				return memerr.EmbeddingsUnavailable(provider.ModelPath(), err)
			}

			eng := a.searchEngine()
			if a.cfg.Debug.Vector {
				backend := "fallback"
				if a.db.VectorReady() {
					backend = "native"
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "[mem-cli] vector backend: %s, dims: %d\n", backend, len(queryVec))
			}

			var hits []search.Hit
			if hybrid || a.cfg.Search.Hybrid {
				hits, err = eng.SearchHybrid(ctx, a.ft, query, queryVec, limit, provider.ModelPath(), a.cfg.Search.SnippetMaxChars)
			} else {
				hits, err = eng.SearchVector(ctx, queryVec, limit, provider.ModelPath(), a.cfg.Search.SnippetMaxChars)
			}
			if err != nil {
				return memerr.New(memerr.CodeSearchFailed, "search failed", err)
			}

			if flags.json {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(searchJSON(query, hits))
			}
			renderHits(cmd, query, hits)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results (default: search.limit)")
	cmd.Flags().BoolVar(&hybrid, "hybrid", false, "Fuse BM25 keyword results with vector results")
	return cmd
}

type searchResultJSON struct {
	FilePath  string  `json:"file_path"`
	LineStart int     `json:"line_start"`
	LineEnd   int     `json:"line_end"`
	Score     float64 `json:"score"`
	Snippet   string  `json:"snippet"`
}

func searchJSON(query string, hits []search.Hit) map[string]any {
	results := make([]searchResultJSON, 0, len(hits))
	for _, h := range hits {
		results = append(results, searchResultJSON{
			FilePath:  h.FilePath,
			LineStart: h.LineStart,
			LineEnd:   h.LineEnd,
			Score:     h.Score,
			Snippet:   h.Snippet,
		})
	}
	return map[string]any{"query": query, "results": results}
}

func renderHits(cmd *cobra.Command, query string, hits []search.Hit) {
	out := cmd.OutOrStdout()
	styles := output.DetectStyles(out)

	if len(hits) == 0 {
		fmt.Fprintf(out, "No results for %q.\n", query)
		return
	}

	fmt.Fprintln(out, styles.Header.Render(fmt.Sprintf("%d results for %q", len(hits), query)))
	for i, h := range hits {
		loc := fmt.Sprintf("%s:%d-%d", h.FilePath, h.LineStart, h.LineEnd)
		fmt.Fprintf(out, "\n%s %s  %s\n",
			styles.Score.Render(fmt.Sprintf("%2d. %.3f", i+1, h.Score)),
			styles.Path.Render(loc),
			styles.Dim.Render(h.Model))
		for _, line := range strings.Split(strings.TrimRight(h.Snippet, "\n"), "\n") {
			fmt.Fprintf(out, "    %s\n", line)
		}
	}
}
