// Package defaults provides embedded starter files for the aline init
// subcommand.
package defaults

import _ "embed"

//go:embed config.example.yaml
var ConfigYAML []byte

// StationsJSON is a starter Seoul subway station directory.
//
//go:embed stations.example.json
var StationsJSON []byte
