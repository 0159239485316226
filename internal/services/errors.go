package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration  = errors.New("configuration error")
	ErrExternalTool   = errors.New("external tool error")
	ErrTimeout        = errors.New("timeout")
	ErrTransient      = errors.New("transient failure")
	ErrNotaryRejected = errors.New("notarization rejected")
	ErrNotaryTimeout  = errors.New("notarization timed out")
	ErrPersistence    = errors.New("persistence error")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsRetryable reports whether the pipeline may retry the failed stage within
// the same run. Configuration problems, notarization verdicts, and
// persistence failures are not helped by retrying.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrNotaryRejected),
		errors.Is(err, ErrNotaryTimeout),
		errors.Is(err, ErrPersistence):
		return false
	case errors.Is(err, ErrExternalTool),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrTransient):
		return true
	default:
		return false
	}
}

// Kind returns the stable category name for an error, used in persisted stage
// records and user-facing failure summaries.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotaryRejected):
		return "notarization_rejected"
	case errors.Is(err, ErrNotaryTimeout):
		return "notarization_timeout"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, ErrTimeout):
		return "tool_timeout"
	case errors.Is(err, ErrExternalTool):
		return "tool_execution"
	default:
		return "transient"
	}
}

// Details strips the sentinel prefix from a wrapped error, leaving the
// human-readable remainder for display.
func Details(err error) string {
	if err == nil {
		return ""
	}
	message := err.Error()
	for _, marker := range []error{
		ErrConfiguration, ErrExternalTool, ErrTimeout, ErrTransient,
		ErrNotaryRejected, ErrNotaryTimeout, ErrPersistence,
	} {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(message, prefix) {
			return strings.TrimPrefix(message, prefix)
		}
	}
	return message
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
