package cmd

import (
	"bytes"
	"context"
	"strings"

	"github.com/evilpsycho42/mem-cli/internal/memerr"
)

// cliRunner executes one forwarded invocation in-process with explicit
// output sinks, so the daemon never touches (or races on) the process
// streams. Each run builds a fresh command tree; the expensive state
// (the warm embedding provider) lives in the shared provider cache, not
// in the commands.
type cliRunner struct{}

func (cliRunner) Run(ctx context.Context, argv []string, stdin string) (int, string, string) {
	var stdout, stderr bytes.Buffer

	root := NewRootCmd()
	root.SetArgs(argv)
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&stdout)
	root.SetErr(&stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		stderr.WriteString(memerr.FormatForCLI(err))
		return 1, stdout.String(), stderr.String()
	}
	return 0, stdout.String(), stderr.String()
}
