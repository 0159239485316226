// Package release defines the durable data model for one release attempt:
// the fixed stage order, per-stage records, and the notarization submission
// bookkeeping the pipeline persists between runs.
package release
