// Package stages implements the five pipeline stage executors: merge, sign,
// notarize, staple, and archive. Each executor validates the configuration
// it needs, runs its external tool, and records the stage artifact; status
// transitions and retry policy belong to the pipeline.
package stages
