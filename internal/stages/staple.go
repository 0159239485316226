package stages

import (
	"context"

	"lacquer/internal/config"
	"lacquer/internal/release"
	"lacquer/internal/services"
	"lacquer/internal/toolrun"
)

// Staple attaches the notarization ticket to the bundle so Gatekeeper can
// verify it offline.
type Staple struct {
	cfg *config.Config
	run toolrun.Runner
}

func NewStaple(cfg *config.Config, run toolrun.Runner) *Staple {
	return &Staple{cfg: cfg, run: run}
}

func (s *Staple) Stage() release.Stage { return release.StageStaple }

func (s *Staple) Prepare(ctx context.Context, st *release.State) error {
	if err := requirePath(release.StageStaple, "app.bundle_path", s.cfg.App.BundlePath); err != nil {
		return err
	}
	if st.Submission == nil || st.Submission.Verdict != release.VerdictAccepted {
		return services.Wrap(services.ErrConfiguration, string(release.StageStaple), "", "notarization has not been accepted", nil)
	}
	return nil
}

func (s *Staple) Execute(ctx context.Context, st *release.State) error {
	if _, err := invoke(ctx, s.run, s.cfg, release.StageStaple, "stapler", "xcrun", "stapler", "staple", s.cfg.App.BundlePath); err != nil {
		return err
	}
	st.Record(release.StageStaple).Artifact = s.cfg.App.BundlePath
	return nil
}
