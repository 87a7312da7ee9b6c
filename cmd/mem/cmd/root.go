// Package cmd provides the CLI commands for mem-cli.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/evilpsycho42/mem-cli/internal/memerr"
	"github.com/evilpsycho42/mem-cli/pkg/version"
)

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	path   string
	public bool
	token  string
	json   bool
}

// NewRootCmd creates the root command for the mem CLI.
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "mem",
		Short: "Local agent memory: Markdown notes with semantic search",
		Long: `mem stores an agent's notes as plain Markdown files in a workspace,
keeps a durable search index over them, and answers semantic queries by
combining dense vector retrieval with optional keyword search.

Everything runs locally. A per-user daemon keeps the embedding model
warm across invocations; set MEM_CLI_DAEMON=1 to enable forwarding.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("mem version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&flags.path, "path", ".", "Workspace directory")
	cmd.PersistentFlags().BoolVar(&flags.public, "public", false, "Target a public (untokened) workspace")
	cmd.PersistentFlags().StringVar(&flags.token, "token", "", "Workspace token (default: MEM_CLI_TOKEN)")
	cmd.PersistentFlags().BoolVar(&flags.json, "json", false, "Emit machine-readable JSON output")

	cmd.AddCommand(newInitCmd(flags))
	cmd.AddCommand(newAddCmd(flags))
	cmd.AddCommand(newSearchCmd(flags))
	cmd.AddCommand(newReindexCmd(flags))
	cmd.AddCommand(newStateCmd(flags))
	cmd.AddCommand(newDestroyCmd(flags))
	cmd.AddCommand(newWatchCmd(flags))
	cmd.AddCommand(newMCPCmd(flags))
	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newVersionCmd(flags))

	return cmd
}

// Execute runs the root command against os.Args, rendering structured
// errors for the terminal. Exit codes: 0 on success, 1 on any error.
func Execute() error {
	root := NewRootCmd()
	if err := root.ExecuteContext(rootContext()); err != nil {
		fmt.Fprint(os.Stderr, memerr.FormatForCLI(err))
		return err
	}
	return nil
}
