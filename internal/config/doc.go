// Package config loads and merges the sync engine configuration from
// environment variables, command-line flags, and an optional JSON file.
//
// Precedence is env > flags > JSON: the builder merges each source into
// the final [Config] in that order and never overwrites an already-set
// value. Defaults are applied last, then the result is validated.
package config
