package cmd

import (
	"encoding/json"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/evilpsycho42/mem-cli/internal/output"
	"github.com/evilpsycho42/mem-cli/internal/workspace"
)

func newDestroyCmd(flags *globalFlags) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Permanently delete a workspace and its index",
		Long: `Removes the workspace directory tree: notes, index database, lock
files, everything. Requires --confirm, and the same access the
workspace demands for any other operation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := filepath.Abs(flags.path)
			if err != nil {
				return err
			}

			if err := workspace.Destroy(abs, confirm, effectiveToken(flags), flags.public); err != nil {
				return err
			}

			if flags.json {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"path":      abs,
					"destroyed": true,
				})
			}
			output.New(cmd.OutOrStdout()).Successf("Destroyed workspace %s", abs)
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirm, "confirm", false, "Actually delete the workspace")
	return cmd
}
