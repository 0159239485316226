// Package services holds the cross-cutting error taxonomy and the context
// annotations shared by the pipeline, its stage executors, and logging.
package services
