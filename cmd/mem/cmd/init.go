package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/evilpsycho42/mem-cli/configs"
	"github.com/evilpsycho42/mem-cli/internal/config"
	"github.com/evilpsycho42/mem-cli/internal/output"
	"github.com/evilpsycho42/mem-cli/internal/workspace"
)

func newInitCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Create a memory workspace",
		Long: `Creates MEMORY.md, the memory/ note directory, and the workspace
metadata at the given path (default: --path). A workspace is either
public (no token) or private (--token TOKEN, checked on every access).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := flags.path
			if len(args) == 1 {
				root = args[0]
			}
			abs, err := filepath.Abs(root)
			if err != nil {
				return err
			}

			meta, err := workspace.Init(abs, workspace.InitOptions{
				Public: flags.public,
				Token:  effectiveToken(flags),
			})
			if err != nil {
				return err
			}

			writeDefaultUserConfig(cmd)

			if flags.json {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"path": abs,
					"type": meta.Type,
				})
			}
			w := output.New(cmd.OutOrStdout())
			w.Successf("Initialized %s workspace at %s", meta.Type, abs)
			w.Status("", "Add notes with `mem add short <text>`; search with `mem search <query>`.")
			return nil
		},
	}
	return cmd
}

// writeDefaultUserConfig drops the embedded config template at
// ~/.config/mem-cli/config.yaml on first init, so users have a
// documented file to edit. Existing configs are never touched.
func writeDefaultUserConfig(cmd *cobra.Command) {
	path, err := config.UserConfigPath()
	if err != nil {
		return
	}
	if _, err := os.Stat(path); err == nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	if err := os.WriteFile(path, []byte(configs.UserConfigTemplate), 0o644); err != nil {
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote default config to %s\n", path)
}
