package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"lacquer/internal/config"
)

// WriteBundle materializes a minimal .app bundle layout plus the
// per-architecture inputs and entitlements file named by cfg.
func WriteBundle(t testing.TB, cfg *config.Config) {
	t.Helper()

	macos := filepath.Join(cfg.App.BundlePath, "Contents", "MacOS")
	frameworks := filepath.Join(cfg.App.BundlePath, "Contents", "Frameworks")
	for _, dir := range []string{macos, frameworks} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	files := map[string]string{}
	files[filepath.Join(macos, cfg.App.Name)] = "executable"
	files[filepath.Join(frameworks, "libextra.dylib")] = "dylib"
	files[filepath.Join(cfg.App.BundlePath, "Contents", "Info.plist")] = "<plist/>"
	files[cfg.App.ARM64Binary] = "arm64"
	files[cfg.App.X8664Binary] = "x86_64"
	files[cfg.Signing.EntitlementsPath] = "<plist/>"
	for path, content := range files {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir for %s: %v", path, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
}
