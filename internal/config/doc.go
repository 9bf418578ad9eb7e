// Package config loads application configuration from a YAML file with
// environment variable overrides (prefix SEASON_).
//
// The configuration surface is read-only for the rest of the application:
// the active provider and its credentials are consumed at wiring time, and
// changing them affects subsequent reconciliation runs only.
package config
