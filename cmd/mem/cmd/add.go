package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/evilpsycho42/mem-cli/internal/layout"
	"github.com/evilpsycho42/mem-cli/internal/memerr"
	"github.com/evilpsycho42/mem-cli/internal/output"
)

func newAddCmd(flags *globalFlags) *cobra.Command {
	var useStdin bool

	cmd := &cobra.Command{
		Use:   "add short|long [text...]",
		Short: "Append a note and refresh the index",
		Long: `Appends a note to the workspace: "short" notes go into a dated file
under memory/, "long" notes into MEMORY.md. The index is refreshed
afterwards; if the embedding provider is unavailable the note is still
written, a warning is printed, and the index refresh is left to the next
successful sync.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := args[0]
			if scope != "short" && scope != "long" {
				return memerr.InvalidInput(fmt.Sprintf("add expects \"short\" or \"long\", got %q", scope), nil)
			}

			text := strings.Join(args[1:], " ")
			if useStdin {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				text = strings.TrimRight(string(data), "\n")
			}
			if strings.TrimSpace(text) == "" {
				return memerr.InvalidInput("nothing to add: pass text or --stdin", nil)
			}

			a, err := openApp(flags, false)
			if err != nil {
				return err
			}
			defer a.close()

			target, err := appendNote(a.ws, scope, text)
			if err != nil {
				return err
			}

			warn := syncBestEffort(cmd.Context(), a)

			if flags.json {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"stored": true,
					"scope":  scope,
					"file":   target,
				})
			}
			w := output.New(cmd.OutOrStdout())
			w.Successf("Stored %s note in %s", scope, target)
			if warn != "" {
				output.New(cmd.ErrOrStderr()).Warning(warn)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&useStdin, "stdin", false, "Read the note text from stdin")
	return cmd
}

// appendNote writes the note and returns the workspace-relative path of
// the file it landed in.
func appendNote(ws *layout.Workspace, scope, text string) (string, error) {
	var path string
	var header string

	switch scope {
	case "long":
		path = ws.LongMemoryPath()
	case "short":
		day := time.Now().Format("2006-01-02")
		path = filepath.Join(ws.MemoryDirPath(), day+".md")
		header = "# " + day + "\n"
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if info.Size() == 0 && header != "" {
		b.WriteString(header)
	}
	b.WriteString("\n" + text + "\n")
	if _, err := f.WriteString(b.String()); err != nil {
		return "", err
	}

	rel, err := filepath.Rel(ws.Root, path)
	if err != nil {
		return path, nil
	}
	return filepath.ToSlash(rel), nil
}

// syncBestEffort refreshes the index after a write. An unavailable or
// failing embedding provider is a warning, not an error: the note is
// on disk and the next successful sync will index it. Deliberately no
// fallback to a no-provider sync here; that would register a model
// change and wipe existing vectors over a transient outage.
func syncBestEffort(ctx context.Context, a *app) string {
	provider, perr := a.provider(ctx)
	if perr != nil {
		return "embeddings unavailable; note written, index refresh deferred"
	}
	if err := a.engine.EnsureUpToDate(ctx, provider); err != nil {
		if memerr.GetCode(err) == memerr.CodeEmbeddingsUnavailable {
			return "embeddings failed; note written, index refresh deferred"
		}
		return fmt.Sprintf("note written, but indexing failed: %v", err)
	}
	return ""
}
