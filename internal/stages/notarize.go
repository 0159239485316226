package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"lacquer/internal/config"
	"lacquer/internal/notary"
	"lacquer/internal/release"
	"lacquer/internal/services"
	"lacquer/internal/toolrun"
)

// Notarize submits the signed bundle for review and polls until a verdict.
// Prepare performs the submission so the pipeline persists the submission id
// before Execute starts polling; a crash between the two never loses the id,
// and a resumed run re-enters polling instead of resubmitting.
type Notarize struct {
	cfg    *config.Config
	run    toolrun.Runner
	client *notary.Client
	save   SaveFunc
}

// NewNotarize constructs the notarize stage executor. save checkpoints poll
// accounting between queries; a nil save skips mid-poll persistence.
func NewNotarize(cfg *config.Config, run toolrun.Runner, client *notary.Client, save SaveFunc) *Notarize {
	return &Notarize{cfg: cfg, run: run, client: client, save: save}
}

func (n *Notarize) Stage() release.Stage { return release.StageNotarize }

func (n *Notarize) Prepare(ctx context.Context, st *release.State) error {
	if sub := st.Submission; sub != nil && sub.ID != "" {
		// Already submitted by a prior run; poll the same submission.
		return nil
	}

	if err := requireConfig(release.StageNotarize, "notary.apple_id", n.cfg.Notary.AppleID); err != nil {
		return err
	}
	if err := requireConfig(release.StageNotarize, "notary.team_id", n.cfg.Notary.TeamID); err != nil {
		return err
	}
	if err := requireConfig(release.StageNotarize, "notary.keychain_profile", n.cfg.Notary.KeychainProfile); err != nil {
		return err
	}
	if n.client == nil {
		return services.Wrap(services.ErrConfiguration, string(release.StageNotarize), "", "notary client is not configured", nil)
	}
	if err := requirePath(release.StageNotarize, "app.bundle_path", n.cfg.App.BundlePath); err != nil {
		return err
	}

	if err := os.MkdirAll(n.cfg.Paths.StagingDir, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, string(release.StageNotarize), "", fmt.Sprintf("paths.staging_dir: %v", err), nil)
	}
	archive := n.uploadArchivePath(st.ReleaseID)
	if err := dittoZip(ctx, n.run, n.cfg, release.StageNotarize, n.cfg.App.BundlePath, archive); err != nil {
		return err
	}

	id, err := n.client.Submit(ctx, archive)
	if err != nil {
		return err
	}
	sub := st.EnsureSubmission()
	sub.ID = id
	sub.Verdict = release.VerdictUnknown
	return nil
}

func (n *Notarize) Execute(ctx context.Context, st *release.State) error {
	if n.client == nil {
		return services.Wrap(services.ErrConfiguration, string(release.StageNotarize), "", "notary credentials are not configured", nil)
	}
	sub := st.EnsureSubmission()

	var since time.Time
	if sub.FirstPolledAt != nil {
		since = *sub.FirstPolledAt
	}

	verdict, err := n.client.Poll(ctx, sub.ID, since, func(obsCtx context.Context, v release.Verdict, at time.Time) error {
		st.RecordPoll(at, v)
		if n.save == nil {
			return nil
		}
		return n.save(obsCtx, st)
	})

	sub.Verdict = verdict
	if err != nil {
		return err
	}
	st.Record(release.StageNotarize).Artifact = sub.ID
	return nil
}

func (n *Notarize) uploadArchivePath(releaseID string) string {
	name := fmt.Sprintf("%s-notary.zip", releaseID)
	return filepath.Join(n.cfg.Paths.StagingDir, name)
}
