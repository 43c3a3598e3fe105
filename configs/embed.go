// Package configs embeds the configuration templates written by
// `kbindex config init`.
//
// Templates:
//   - user-config.example.yaml: machine settings, written to
//     ~/.config/kbindex/config.yaml
//   - project-config.example.yaml: per-directory settings, written to
//     .kbindex.yaml with --project
//
// Every key is optional; see internal/config for defaults and precedence.
package configs

import _ "embed"

// UserConfigTemplate is the template for the user configuration.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is the template for .kbindex.yaml.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
