package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// App describes the application bundle being released.
type App struct {
	Name        string `toml:"name"`
	Version     string `toml:"version"`
	BundlePath  string `toml:"bundle_path"`
	ARM64Binary string `toml:"arm64_binary"`
	X8664Binary string `toml:"x86_64_binary"`
}

// Signing contains code-signing identity configuration.
type Signing struct {
	Identity         string `toml:"identity"`
	EntitlementsPath string `toml:"entitlements_path"`
}

// Notary contains credentials and polling policy for the notarization service.
type Notary struct {
	AppleID         string `toml:"apple_id"`
	TeamID          string `toml:"team_id"`
	KeychainProfile string `toml:"keychain_profile"`
	PollBaseSeconds int    `toml:"poll_base_seconds"`
	PollCapSeconds  int    `toml:"poll_cap_seconds"`
	DeadlineMinutes int    `toml:"deadline_minutes"`
}

// Archive controls the distributable artifact produced by the final stage.
type Archive struct {
	OutputDir string `toml:"output_dir"`
	Format    string `toml:"format"`
}

// Workflow contains pipeline retry and timeout policy.
type Workflow struct {
	MaxAttempts        int `toml:"max_attempts"`
	RetryDelaySeconds  int `toml:"retry_delay_seconds"`
	ToolTimeoutMinutes int `toml:"tool_timeout_minutes"`
}

// Paths contains directory configuration.
type Paths struct {
	StateDir   string `toml:"state_dir"`
	StagingDir string `toml:"staging_dir"`
	LogDir     string `toml:"log_dir"`
}

// Logging contains log output configuration.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the root configuration document.
type Config struct {
	App      App      `toml:"app"`
	Signing  Signing  `toml:"signing"`
	Notary   Notary   `toml:"notary"`
	Archive  Archive  `toml:"archive"`
	Workflow Workflow `toml:"workflow"`
	Paths    Paths    `toml:"paths"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the expanded default configuration location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/lacquer/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("lacquer.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories a pipeline run writes to.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.StagingDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DefaultReleaseID derives a release identifier from the configured
// application name and version, e.g. "MyApp-1.2.0".
func (c *Config) DefaultReleaseID() string {
	name := strings.TrimSpace(c.App.Name)
	version := strings.TrimSpace(c.App.Version)
	switch {
	case name == "" && version == "":
		return ""
	case version == "":
		return name
	case name == "":
		return version
	default:
		return name + "-" + version
	}
}

// ToolTimeout is the bounded duration allowed for a single tool invocation.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.Workflow.ToolTimeoutMinutes) * time.Minute
}

// RetryDelay is the pause between transient-failure retries of a stage.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Workflow.RetryDelaySeconds) * time.Second
}

// PollBase is the initial notarization polling interval.
func (c *Config) PollBase() time.Duration {
	return time.Duration(c.Notary.PollBaseSeconds) * time.Second
}

// PollCap bounds the notarization polling interval growth.
func (c *Config) PollCap() time.Duration {
	return time.Duration(c.Notary.PollCapSeconds) * time.Second
}

// NotaryDeadline bounds total polling time for one submission.
func (c *Config) NotaryDeadline() time.Duration {
	return time.Duration(c.Notary.DeadlineMinutes) * time.Minute
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
