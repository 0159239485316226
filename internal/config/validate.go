package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable. Stage-specific inputs (the
// bundle, per-architecture binaries, signing identity, notary credentials)
// are validated by the stage that needs them, so a partially filled config
// still supports commands that never reach those stages.
func (c *Config) Validate() error {
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateNotaryPolicy(); err != nil {
		return err
	}
	if err := c.validateArchive(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.MaxAttempts < 1 {
		return errors.New("workflow.max_attempts must be at least 1")
	}
	if c.Workflow.RetryDelaySeconds < 0 {
		return errors.New("workflow.retry_delay_seconds must not be negative")
	}
	if c.Workflow.ToolTimeoutMinutes < 1 {
		return errors.New("workflow.tool_timeout_minutes must be at least 1")
	}
	return nil
}

func (c *Config) validateNotaryPolicy() error {
	if c.Notary.PollCapSeconds < c.Notary.PollBaseSeconds {
		return errors.New("notary.poll_cap_seconds must be at least notary.poll_base_seconds")
	}
	return nil
}

func (c *Config) validateArchive() error {
	if c.Archive.Format != "zip" {
		return fmt.Errorf("archive.format: unsupported value %q (only \"zip\" is supported)", c.Archive.Format)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}
