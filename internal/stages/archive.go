package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"lacquer/internal/config"
	"lacquer/internal/release"
	"lacquer/internal/services"
	"lacquer/internal/toolrun"
)

// Archive packages the stapled bundle into the distributable zip.
type Archive struct {
	cfg *config.Config
	run toolrun.Runner
}

func NewArchive(cfg *config.Config, run toolrun.Runner) *Archive {
	return &Archive{cfg: cfg, run: run}
}

func (a *Archive) Stage() release.Stage { return release.StageArchive }

func (a *Archive) Prepare(ctx context.Context, st *release.State) error {
	if err := requirePath(release.StageArchive, "app.bundle_path", a.cfg.App.BundlePath); err != nil {
		return err
	}
	if err := requireConfig(release.StageArchive, "archive.output_dir", a.cfg.Archive.OutputDir); err != nil {
		return err
	}
	if err := os.MkdirAll(a.cfg.Archive.OutputDir, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, string(release.StageArchive), "", fmt.Sprintf("archive.output_dir: %v", err), nil)
	}
	return nil
}

func (a *Archive) Execute(ctx context.Context, st *release.State) error {
	dest := a.DistributablePath()
	if err := dittoZip(ctx, a.run, a.cfg, release.StageArchive, a.cfg.App.BundlePath, dest); err != nil {
		return err
	}
	st.Record(release.StageArchive).Artifact = dest
	return nil
}

// DistributablePath reports where the final archive is written.
func (a *Archive) DistributablePath() string {
	name := fmt.Sprintf("%s-%s.zip", a.cfg.App.Name, a.cfg.App.Version)
	return filepath.Join(a.cfg.Archive.OutputDir, name)
}
