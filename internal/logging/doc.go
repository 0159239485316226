// Package logging builds the slog loggers used across the pipeline and
// defines the standardized structured field names for release runs.
package logging
