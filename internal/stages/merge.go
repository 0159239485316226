package stages

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"lacquer/internal/config"
	"lacquer/internal/release"
	"lacquer/internal/services"
	"lacquer/internal/toolrun"
)

// Merge assembles the universal main executable from the per-architecture
// builds and drops it into the bundle.
type Merge struct {
	cfg *config.Config
	run toolrun.Runner
}

// NewMerge constructs the merge stage executor.
func NewMerge(cfg *config.Config, run toolrun.Runner) *Merge {
	return &Merge{cfg: cfg, run: run}
}

func (m *Merge) Stage() release.Stage { return release.StageMerge }

func (m *Merge) Prepare(_ context.Context, _ *release.State) error {
	if err := requireConfig(release.StageMerge, "app.name", m.cfg.App.Name); err != nil {
		return err
	}
	if err := requirePath(release.StageMerge, "app.bundle_path", m.cfg.App.BundlePath); err != nil {
		return err
	}
	if err := requirePath(release.StageMerge, "app.arm64_binary", m.cfg.App.ARM64Binary); err != nil {
		return err
	}
	return requirePath(release.StageMerge, "app.x86_64_binary", m.cfg.App.X8664Binary)
}

func (m *Merge) Execute(ctx context.Context, st *release.State) error {
	output := m.outputPath()
	_, err := invoke(ctx, m.run, m.cfg, release.StageMerge, "lipo",
		"lipo", "-create", "-output", output, m.cfg.App.ARM64Binary, m.cfg.App.X8664Binary)
	if err != nil {
		return err
	}
	if err := m.verifyUniversal(ctx, output); err != nil {
		return err
	}
	st.Record(release.StageMerge).Artifact = output
	return nil
}

// verifyUniversal confirms the merged output carries both architectures; a
// lipo run that silently produced a thin binary would otherwise surface much
// later as a notarization or customer failure.
func (m *Merge) verifyUniversal(ctx context.Context, path string) error {
	res, err := invoke(ctx, m.run, m.cfg, release.StageMerge, "verify", "lipo", "-archs", path)
	if err != nil {
		return err
	}
	archs := strings.Fields(res.Stdout)
	for _, want := range []string{"arm64", "x86_64"} {
		found := false
		for _, arch := range archs {
			if arch == want {
				found = true
				break
			}
		}
		if !found {
			return services.Wrap(services.ErrExternalTool, string(release.StageMerge), "verify",
				fmt.Sprintf("merged binary %s is missing %s (archs: %s)", path, want, strings.TrimSpace(res.Stdout)), nil)
		}
	}
	return nil
}

func (m *Merge) outputPath() string {
	return filepath.Join(m.cfg.App.BundlePath, "Contents", "MacOS", m.cfg.App.Name)
}
