package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/evilpsycho42/mem-cli/internal/daemon"
	"github.com/evilpsycho42/mem-cli/internal/memerr"
	"github.com/evilpsycho42/mem-cli/pkg/version"
)

// newDaemonCmd creates the hidden `__daemon` command: the serve loop a
// spawned daemon runs, and the shutdown escape hatch.
func newDaemonCmd() *cobra.Command {
	var serve bool
	var shutdown bool

	cmd := &cobra.Command{
		Use:    "__daemon",
		Short:  "Run or stop the per-user daemon (internal)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case serve && shutdown:
				return memerr.InvalidInput("--serve and --shutdown are mutually exclusive", nil)
			case serve:
				return serveDaemon(cmd)
			case shutdown:
				return shutdownDaemon(cmd)
			default:
				return memerr.InvalidInput("__daemon requires --serve or --shutdown", nil)
			}
		},
	}

	cmd.Flags().BoolVar(&serve, "serve", false, "Run the daemon serve loop")
	cmd.Flags().BoolVar(&shutdown, "shutdown", false, "Ask a running daemon to exit")
	return cmd
}

func serveDaemon(cmd *cobra.Command) error {
	// Forwarding must never recurse: commands executed inside the
	// daemon always run in-process.
	if err := os.Setenv("MEM_CLI_DAEMON", "0"); err != nil {
		return err
	}

	cfg, err := daemon.DefaultConfig(version.Version)
	if err != nil {
		return err
	}

	slog.Info("daemon starting", slog.Int("pid", os.Getpid()), slog.String("version", version.Version))

	srv := daemon.NewServer(cfg, cliRunner{}, providers)
	return srv.ListenAndServe(cmd.Context())
}

func shutdownDaemon(cmd *cobra.Command) error {
	cfg, err := daemon.DefaultConfig(version.Version)
	if err != nil {
		return err
	}
	client := daemon.NewClient(cfg)
	resp, err := client.Shutdown(cmd.Context())
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "no daemon running")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "daemon pid %d shut down\n", resp.PID)
	return nil
}
