package config

import (
	"fmt"
	"os"
	"strings"
)

// EnvKeychainProfile overrides notary.keychain_profile when set, so CI can
// inject the profile without editing the config file.
const EnvKeychainProfile = "LACQUER_KEYCHAIN_PROFILE"

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeApp(); err != nil {
		return err
	}
	if err := c.normalizeSigning(); err != nil {
		return err
	}
	c.normalizeNotary()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = defaultStagingDir
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Archive.OutputDir) == "" {
		c.Archive.OutputDir = defaultOutputDir
	}
	if c.Archive.OutputDir, err = expandPath(c.Archive.OutputDir); err != nil {
		return fmt.Errorf("archive.output_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeApp() error {
	var err error
	c.App.Name = strings.TrimSpace(c.App.Name)
	c.App.Version = strings.TrimSpace(c.App.Version)
	if c.App.BundlePath != "" {
		if c.App.BundlePath, err = expandPath(c.App.BundlePath); err != nil {
			return fmt.Errorf("app.bundle_path: %w", err)
		}
	}
	if c.App.ARM64Binary != "" {
		if c.App.ARM64Binary, err = expandPath(c.App.ARM64Binary); err != nil {
			return fmt.Errorf("app.arm64_binary: %w", err)
		}
	}
	if c.App.X8664Binary != "" {
		if c.App.X8664Binary, err = expandPath(c.App.X8664Binary); err != nil {
			return fmt.Errorf("app.x86_64_binary: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeSigning() error {
	c.Signing.Identity = strings.TrimSpace(c.Signing.Identity)
	if c.Signing.EntitlementsPath != "" {
		expanded, err := expandPath(c.Signing.EntitlementsPath)
		if err != nil {
			return fmt.Errorf("signing.entitlements_path: %w", err)
		}
		c.Signing.EntitlementsPath = expanded
	}
	return nil
}

func (c *Config) normalizeNotary() {
	c.Notary.AppleID = strings.TrimSpace(c.Notary.AppleID)
	c.Notary.TeamID = strings.TrimSpace(c.Notary.TeamID)
	c.Notary.KeychainProfile = strings.TrimSpace(c.Notary.KeychainProfile)
	if profile := strings.TrimSpace(os.Getenv(EnvKeychainProfile)); profile != "" {
		c.Notary.KeychainProfile = profile
	}
	if c.Notary.PollBaseSeconds <= 0 {
		c.Notary.PollBaseSeconds = defaultPollBaseSeconds
	}
	if c.Notary.PollCapSeconds <= 0 {
		c.Notary.PollCapSeconds = defaultPollCapSeconds
	}
	if c.Notary.DeadlineMinutes <= 0 {
		c.Notary.DeadlineMinutes = defaultDeadlineMinutes
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
}
