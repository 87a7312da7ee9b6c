package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/evilpsycho42/mem-cli/internal/daemon"
	"github.com/evilpsycho42/mem-cli/pkg/version"
)

// forwardable lists the commands worth routing through the warm daemon:
// everything that embeds. Lifecycle commands (init, destroy, state) and
// the long-lived modes (watch, mcp, __daemon) always run in-process.
var forwardable = map[string]bool{
	"add":     true,
	"search":  true,
	"reindex": true,
}

// MaybeForward routes the invocation through the per-user daemon when
// forwarding is enabled and the command qualifies. It returns
// (exitCode, true) when the daemon handled the run; (0, false) means
// the caller must execute in-process, including every error path, per
// the "not forwarded" contract.
func MaybeForward(argv []string) (int, bool) {
	if len(argv) == 0 || !forwardable[argv[0]] {
		return 0, false
	}
	if !forwardingEnabled() {
		return 0, false
	}

	stdin := ""
	if hasFlag(argv, "--stdin") {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return 0, false
		}
		stdin = string(data)
	}

	cfg, err := daemon.DefaultConfig(version.Version)
	if err != nil {
		return 0, false
	}
	client := daemon.NewClient(cfg)

	ctx := context.Background()
	if _, err := client.EnsureRunning(ctx); err != nil {
		return 0, false
	}

	resp, err := client.Run(ctx, argv, stdin)
	if err != nil || !resp.Ok {
		return 0, false
	}

	fmt.Fprint(os.Stdout, resp.Stdout)
	fmt.Fprint(os.Stderr, resp.Stderr)
	return resp.ExitCode, true
}

// forwardingEnabled reads MEM_CLI_DAEMON. Unset means disabled; the
// daemon clears it in its own environment so forwarded runs never
// recurse.
func forwardingEnabled() bool {
	v := strings.ToLower(os.Getenv("MEM_CLI_DAEMON"))
	switch v {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

func hasFlag(argv []string, flag string) bool {
	for _, a := range argv {
		if a == flag {
			return true
		}
	}
	return false
}
