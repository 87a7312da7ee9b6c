package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/evilpsycho42/mem-cli/internal/memerr"
	"github.com/evilpsycho42/mem-cli/internal/output"
	"github.com/evilpsycho42/mem-cli/internal/workspace"
)

// reindexAllConcurrency bounds how many workspaces rebuild at once when
// --all is passed. Each workspace has its own lock and store; the shared
// resource is the embedding backend, which serializes internally.
const reindexAllConcurrency = 4

func newReindexCmd(flags *globalFlags) *cobra.Command {
	var all bool
	var force bool

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Bring the index up to date, or rebuild it",
		Long: `Synchronizes the index with the on-disk Markdown tree. --force
rebuilds from scratch even when no drift is detected. --all reindexes
every registered workspace this invocation can access.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				if flags.public || flags.token != "" {
					return memerr.InvalidInput("--all cannot be combined with --public or --token", nil)
				}
				return reindexAll(cmd, flags, force)
			}
			return reindexOne(cmd, flags, flags.path, force)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Reindex every registered workspace")
	cmd.Flags().BoolVar(&force, "force", false, "Rebuild even if the index looks current")
	return cmd
}

func reindexOne(cmd *cobra.Command, flags *globalFlags, path string, force bool) error {
	scoped := *flags
	scoped.path = path

	a, err := openApp(&scoped, false)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	provider, perr := a.provider(ctx)
	if perr != nil {
		output.New(cmd.ErrOrStderr()).Warning("embeddings unavailable; indexing without vectors")
		provider = nil
	}

	if force {
		err = a.engine.Reindex(ctx, provider)
	} else {
		err = a.engine.EnsureUpToDate(ctx, provider)
	}
	if err != nil {
		return err
	}

	if flags.json {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
			"path":   a.ws.Root,
			"forced": force,
			"ok":     true,
		})
	}
	output.New(cmd.OutOrStdout()).Successf("Index up to date for %s", a.ws.Root)
	return nil
}

// reindexAll fans out over the workspace registry. Private workspaces
// are only reachable when MEM_CLI_TOKEN matches; the rest are skipped
// with a warning rather than failing the whole run.
func reindexAll(cmd *cobra.Command, flags *globalFlags, force bool) error {
	entries, err := workspace.List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		output.New(cmd.OutOrStdout()).Status("", "No registered workspaces.")
		return nil
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(reindexAllConcurrency)

	type result struct {
		path string
		err  error
	}
	results := make([]result, len(entries))

	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			results[i] = result{path: e.Path, err: reindexWorkspace(ctx, e, force)}
			return nil
		})
	}
	_ = g.Wait()

	w := output.New(cmd.OutOrStdout())
	failed := 0
	for _, r := range results {
		if r.err == nil {
			if !flags.json {
				w.Successf("%s", r.path)
			}
			continue
		}
		if memerr.GetCode(r.err) == memerr.CodeAccessDenied {
			output.New(cmd.ErrOrStderr()).Warningf("skipped %s: access denied", r.path)
			continue
		}
		failed++
		output.New(cmd.ErrOrStderr()).Errorf("%s: %v", r.path, r.err)
	}

	if flags.json {
		summary := make([]map[string]any, 0, len(results))
		for _, r := range results {
			entry := map[string]any{"path": r.path, "ok": r.err == nil}
			if r.err != nil {
				entry["error"] = r.err.Error()
			}
			summary = append(summary, entry)
		}
		return json.NewEncoder(cmd.OutOrStdout()).Encode(summary)
	}

	if failed > 0 {
		return fmt.Errorf("reindex failed for %d of %d workspaces", failed, len(results))
	}
	return nil
}

func reindexWorkspace(ctx context.Context, e workspace.Entry, force bool) error {
	scoped := &globalFlags{path: e.Path}
	if e.Type == workspace.TypePublic {
		scoped.public = true
	} else {
		scoped.token = os.Getenv("MEM_CLI_TOKEN")
	}

	a, err := openApp(scoped, false)
	if err != nil {
		return err
	}
	defer a.close()

	provider, perr := a.provider(ctx)
	if perr != nil {
		provider = nil
	}
	if force {
		return a.engine.Reindex(ctx, provider)
	}
	return a.engine.EnsureUpToDate(ctx, provider)
}
