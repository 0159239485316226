// Package testsupport provides shared helpers for package tests: temp-dir
// configs, store setup, fake bundles, and a scriptable tool runner.
package testsupport

import (
	"path/filepath"
	"testing"

	"lacquer/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.App.Name = "MyApp"
	cfg.App.Version = "1.2.0"
	cfg.App.BundlePath = filepath.Join(base, "MyApp.app")
	cfg.App.ARM64Binary = filepath.Join(base, "build", "MyApp-arm64")
	cfg.App.X8664Binary = filepath.Join(base, "build", "MyApp-x86_64")
	cfg.Signing.Identity = "ABCDEF0123456789"
	cfg.Signing.EntitlementsPath = filepath.Join(base, "entitlements.plist")
	cfg.Notary.AppleID = "dev@example.com"
	cfg.Notary.TeamID = "TEAM123456"
	cfg.Notary.KeychainProfile = "lacquer-test"
	cfg.Archive.OutputDir = filepath.Join(base, "dist")
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Workflow.RetryDelaySeconds = 0

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithMaxAttempts overrides the stage retry ceiling on the test config.
func WithMaxAttempts(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workflow.MaxAttempts = n
	}
}
