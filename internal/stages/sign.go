package stages

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"lacquer/internal/config"
	"lacquer/internal/release"
	"lacquer/internal/services"
	"lacquer/internal/toolrun"
)

// Sign code-signs every signable path nested in the bundle and then the
// bundle itself.
type Sign struct {
	cfg *config.Config
	run toolrun.Runner
}

// NewSign constructs the sign stage executor.
func NewSign(cfg *config.Config, run toolrun.Runner) *Sign {
	return &Sign{cfg: cfg, run: run}
}

func (s *Sign) Stage() release.Stage { return release.StageSign }

func (s *Sign) Prepare(_ context.Context, _ *release.State) error {
	if err := requireConfig(release.StageSign, "signing.identity", s.cfg.Signing.Identity); err != nil {
		return err
	}
	if err := requirePath(release.StageSign, "signing.entitlements_path", s.cfg.Signing.EntitlementsPath); err != nil {
		return err
	}
	return requirePath(release.StageSign, "app.bundle_path", s.cfg.App.BundlePath)
}

func (s *Sign) Execute(ctx context.Context, st *release.State) error {
	bundle := s.cfg.App.BundlePath
	paths, err := signablePaths(bundle)
	if err != nil {
		return services.Wrap(services.ErrTransient, string(release.StageSign), "walk", "enumerate signable paths", err)
	}

	for _, path := range paths {
		if err := s.signOne(ctx, path); err != nil {
			return err
		}
	}
	// The bundle is signed last so its seal covers the nested signatures.
	if err := s.signOne(ctx, bundle); err != nil {
		return err
	}

	st.Record(release.StageSign).Artifact = bundle
	return nil
}

func (s *Sign) signOne(ctx context.Context, path string) error {
	_, err := invoke(ctx, s.run, s.cfg, release.StageSign, "codesign",
		"codesign",
		"--sign", s.cfg.Signing.Identity,
		"--entitlements", s.cfg.Signing.EntitlementsPath,
		"--force",
		"--options", "runtime",
		"--timestamp",
		path,
	)
	return err
}

var signableExtensions = map[string]struct{}{
	".dylib": {},
	".so":    {},
	".a":     {},
}

// signablePaths finds the binaries inside a bundle that need individual
// signatures, ordered deepest first so nested code is sealed before its
// container.
func signablePaths(bundle string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(bundle, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == bundle {
			return nil
		}
		if entry.IsDir() {
			if strings.HasSuffix(entry.Name(), ".framework") {
				paths = append(paths, path)
			}
			return nil
		}
		if entry.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if _, ok := signableExtensions[filepath.Ext(entry.Name())]; ok {
			paths = append(paths, path)
			return nil
		}
		if filepath.Base(filepath.Dir(path)) == "MacOS" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(paths, func(i, j int) bool {
		return strings.Count(paths[i], string(filepath.Separator)) > strings.Count(paths[j], string(filepath.Separator))
	})
	return paths, nil
}
