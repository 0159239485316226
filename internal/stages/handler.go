package stages

import (
	"context"

	"lacquer/internal/release"
)

// Handler describes the contract the pipeline needs from each stage. The
// pipeline persists state after Prepare and again after Execute, so Prepare
// is the place for work that must be durable before the main body runs; the
// notarize stage records its submission id there.
type Handler interface {
	Stage() release.Stage
	Prepare(ctx context.Context, st *release.State) error
	Execute(ctx context.Context, st *release.State) error
}

// SaveFunc persists state mid-stage. The pipeline supplies it to executors
// that checkpoint inside Execute (notarize poll accounting).
type SaveFunc func(ctx context.Context, st *release.State) error
