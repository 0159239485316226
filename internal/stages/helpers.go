package stages

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"lacquer/internal/config"
	"lacquer/internal/release"
	"lacquer/internal/services"
	"lacquer/internal/toolrun"
)

// invoke runs one external tool with the configured timeout and maps
// failures into the shared error taxonomy.
func invoke(ctx context.Context, run toolrun.Runner, cfg *config.Config, stage release.Stage, operation string, binary string, args ...string) (toolrun.Result, error) {
	res, err := run.Run(ctx, toolrun.Invocation{
		Binary:  binary,
		Args:    args,
		Timeout: cfg.ToolTimeout(),
	})
	if err != nil {
		return res, classifyToolError(stage, operation, err)
	}
	return res, nil
}

func classifyToolError(stage release.Stage, operation string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var toolErr *toolrun.Error
	if errors.As(err, &toolErr) && toolErr.Kind == toolrun.KindTimeout {
		return services.Wrap(services.ErrTimeout, string(stage), operation, "tool timed out", err)
	}
	return services.Wrap(services.ErrExternalTool, string(stage), operation, "tool failed", err)
}

func requireConfig(stage release.Stage, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return services.Wrap(services.ErrConfiguration, string(stage), "", field+" is required", nil)
	}
	return nil
}

func requirePath(stage release.Stage, field, path string) error {
	if err := requireConfig(stage, field, path); err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return services.Wrap(services.ErrConfiguration, string(stage), "", fmt.Sprintf("%s: %v", field, err), nil)
	}
	return nil
}

// dittoZip produces a zip archive of src at dest. Both the notarization
// upload and the final distributable use the same tool so their contents
// match.
func dittoZip(ctx context.Context, run toolrun.Runner, cfg *config.Config, stage release.Stage, src, dest string) error {
	if _, err := invoke(ctx, run, cfg, stage, "ditto", "ditto", "-c", "-k", "--keepParent", src, dest); err != nil {
		return err
	}
	return nil
}
