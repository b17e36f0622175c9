// Package configs holds the commented configuration templates written by
// `ragkb config init`. They are embedded so every build ships them.
//
// The templates document the same defaults as config.NewConfig; a test keeps
// the two in sync.
package configs

import _ "embed"

// ProjectConfigTemplate is written to .ragkb.yaml. It carries the settings
// that usually vary per corpus: chunking, query defaults, rerank and watch.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string

// UserConfigTemplate is written to the user config path. It carries
// provider endpoints and models shared across projects.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string
