package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/evilpsycho42/mem-cli/internal/memerr"
	"github.com/evilpsycho42/mem-cli/internal/mcpserver"
	"github.com/evilpsycho42/mem-cli/internal/search"
)

func newMCPCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve memory_add and memory_search as MCP tools over stdio",
		Long: `Runs an MCP server on stdin/stdout so coding agents can store and
retrieve memories as tool calls instead of shelling out. The server
targets the workspace selected by --path/--public/--token and keeps its
index fresh on every search.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(flags, false)
			if err != nil {
				return err
			}
			defer a.close()

			srv, err := mcpserver.NewServer(mcpserver.Ops{
				Add: func(ctx context.Context, scope, text string) error {
					if _, err := appendNote(a.ws, scope, text); err != nil {
						return err
					}
					// The note is stored; a degraded index refresh is
					// not a tool failure.
					_ = syncBestEffort(ctx, a)
					return nil
				},
				Search: func(ctx context.Context, query string, limit int) ([]search.Hit, error) {
					provider, err := a.provider(ctx)
					if err != nil {
						return nil, memerr.EmbeddingsUnavailable(a.cfg.Embeddings.ModelPath, err)
					}
					if err := a.engine.EnsureUpToDate(ctx, provider); err != nil {
						return nil, err
					}
					queryVec, err := provider.EmbedQuery(ctx, query)
					if err != nil {
						return nil, memerr.EmbeddingsUnavailable(provider.ModelPath(), err)
					}
					return a.searchEngine().SearchVector(ctx, queryVec, limit, provider.ModelPath(), a.cfg.Search.SnippetMaxChars)
				},
			})
			if err != nil {
				return err
			}

			return srv.Run(cmd.Context())
		},
	}
	return cmd
}
