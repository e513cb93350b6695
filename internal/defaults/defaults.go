// Package defaults provides the embedded example configuration written
// by the hearth init subcommand.
package defaults

import _ "embed"

// ConfigYAML is the annotated example configuration.
//
//go:embed config.example.yaml
var ConfigYAML []byte
