package config

const (
	defaultStateDir   = "~/.local/share/lacquer/state"
	defaultStagingDir = "~/.local/share/lacquer/staging"
	defaultLogDir     = "~/.local/share/lacquer/logs"
	defaultOutputDir  = "dist"

	defaultArchiveFormat = "zip"
	defaultLogLevel      = "info"
	defaultLogFormat     = "console"

	defaultMaxAttempts        = 3
	defaultRetryDelaySeconds  = 10
	defaultToolTimeoutMinutes = 10

	defaultPollBaseSeconds = 30
	defaultPollCapSeconds  = 600
	defaultDeadlineMinutes = 120
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Archive: Archive{
			OutputDir: defaultOutputDir,
			Format:    defaultArchiveFormat,
		},
		Notary: Notary{
			PollBaseSeconds: defaultPollBaseSeconds,
			PollCapSeconds:  defaultPollCapSeconds,
			DeadlineMinutes: defaultDeadlineMinutes,
		},
		Workflow: Workflow{
			MaxAttempts:        defaultMaxAttempts,
			RetryDelaySeconds:  defaultRetryDelaySeconds,
			ToolTimeoutMinutes: defaultToolTimeoutMinutes,
		},
		Paths: Paths{
			StateDir:   defaultStateDir,
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
