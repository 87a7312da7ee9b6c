package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/evilpsycho42/mem-cli/internal/output"
	"github.com/evilpsycho42/mem-cli/internal/workspace"
)

func newStateCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show workspace and index state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(flags, false)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()

			meta, err := workspace.ReadMeta(a.ws.Root)
			if err != nil {
				return err
			}
			files, err := a.db.ListFiles(ctx)
			if err != nil {
				return err
			}
			chunks, err := a.db.AllChunks(ctx)
			if err != nil {
				return err
			}
			vectors, err := a.db.VectorCount(ctx)
			if err != nil {
				return err
			}
			indexMeta, err := a.db.ReadIndexMeta(ctx)
			if err != nil {
				return err
			}

			model, dims := "", 0
			if indexMeta != nil {
				model, dims = indexMeta.Model, indexMeta.Dims
			}
			pending, err := a.engine.NeedsUpdate(ctx, nil)
			if err != nil {
				return err
			}

			if flags.json {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"path":          a.ws.Root,
					"type":          meta.Type,
					"files":         len(files),
					"chunks":        len(chunks),
					"vectors":       vectors,
					"model":         model,
					"dims":          dims,
					"vector_native": a.db.VectorReady(),
					"stale":         pending,
				})
			}

			w := output.New(cmd.OutOrStdout())
			w.Statusf("", "Workspace: %s (%s)", a.ws.Root, meta.Type)
			w.Statusf("", "Files: %d, chunks: %d, vectors: %d", len(files), len(chunks), vectors)
			if model != "" {
				w.Statusf("", "Model: %s (%d dims)", model, dims)
			} else {
				w.Status("", "Model: none (indexed without embeddings)")
			}
			backend := "in-process fallback"
			if a.db.VectorReady() {
				backend = "native vector table"
			}
			w.Statusf("", "Vector search: %s", backend)
			if pending {
				w.Warning("index is stale; run `mem reindex`")
			}
			return nil
		},
	}
	return cmd
}
