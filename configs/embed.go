// Package configs provides embedded configuration templates for mem-cli.
//
// Templates are embedded at build time using Go's //go:embed directive so
// they are available in all distributions (source builds and binary
// releases alike). `mem init` writes UserConfigTemplate to
// ~/.config/mem-cli/config.yaml when no config exists yet.
//
// Configuration hierarchy (see internal/config.Load):
//  1. Hardcoded defaults (internal/config.NewConfig)
//  2. User config (~/.config/mem-cli/config.yaml)
//  3. Environment variables (MEM_CLI_*)
package configs

import _ "embed"

// UserConfigTemplate is the template for the user-level configuration,
// created at ~/.config/mem-cli/config.yaml on first `mem init`.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string
