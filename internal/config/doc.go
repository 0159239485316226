// Package config loads, normalizes, and validates the TOML configuration
// that describes the application being released and the pipeline's
// retry, timeout, and notarization policies.
package config
