// Package config loads the vecalign configuration.
//
// Values are layered: built-in defaults, then the YAML file, then
// VECALIGN_* environment variables (optionally seeded from a .env file),
// then command-line flags applied by the CLI.
package config
