package rollout

import (
	"fmt"
	"strings"
)

// ConfigError reports a malformed rollout Config. It is returned at submission,
// before any background work starts.
type ConfigError struct {
	Fields []string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid rollout config: %s: %s", e.Reason, strings.Join(e.Fields, ", "))
}

// ExecutionError describes a work unit that failed while executing.
type ExecutionError struct {
	Key     string
	Message string
}

func (e *ExecutionError) Error() string {
	if e.Key == "" {
		return "rollout failed: " + e.Message
	}
	return fmt.Sprintf("rollout %s failed: %s", e.Key, e.Message)
}
