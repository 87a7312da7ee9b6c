// Package main provides the entry point for the mem CLI.
package main

import (
	"os"

	"github.com/evilpsycho42/mem-cli/cmd/mem/cmd"
)

func main() {
	if code, handled := cmd.MaybeForward(os.Args[1:]); handled {
		os.Exit(code)
	}
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
