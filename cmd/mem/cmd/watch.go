package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/evilpsycho42/mem-cli/internal/output"
	"github.com/evilpsycho42/mem-cli/internal/watch"
)

func newWatchCmd(flags *globalFlags) *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the index fresh while notes change",
		Long: `Watches MEMORY.md and memory/ for changes and resynchronizes the
index after each quiet window, so a long-lived session never needs to
run reindex by hand. Stops on Ctrl-C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(flags, false)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			provider, perr := a.provider(ctx)
			if perr != nil {
				output.New(cmd.ErrOrStderr()).Warning("embeddings unavailable; watching without vectors")
				provider = nil
			}

			// Initial sync so the session starts from a current index.
			if err := a.engine.EnsureUpToDate(ctx, provider); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Statusf("", "Watching %s (Ctrl-C to stop)", a.ws.Root)

			err = watch.Run(ctx, a.ws, watch.Options{Debounce: debounce}, func(ctx context.Context) error {
				return a.engine.EnsureUpToDate(ctx, provider)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "Quiet window before resyncing")
	return cmd
}
