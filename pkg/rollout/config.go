package rollout

import (
	"fmt"
	"strings"
)

// PayloadConfigKey is the payload field that carries the rollout Config.
const PayloadConfigKey = "_rollout"

// InferenceAuth selects how a work unit authenticates against the inference server.
type InferenceAuth string

// Inference auth modes. The zero value behaves as AuthNone.
const (
	// AuthNone sends no credentials. This is the default and matches self-hosted
	// vLLM/SGLang servers that accept any caller.
	AuthNone InferenceAuth = "none"
	// AuthBearer sends the producer's configured API key as a bearer token.
	AuthBearer InferenceAuth = "bearer"
)

// Config addresses one rollout and carries the per-invocation inference settings.
// It travels inside the invocation payload under PayloadConfigKey.
type Config struct {
	ExperimentID string `json:"experiment_id" yaml:"experiment_id"`
	SessionID    string `json:"session_id" yaml:"session_id"`
	InputID      string `json:"input_id" yaml:"input_id"`

	BaseURL        string         `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	ModelID        string         `json:"model_id,omitempty" yaml:"model_id,omitempty"`
	SamplingParams map[string]any `json:"sampling_params,omitempty" yaml:"sampling_params,omitempty"`
	InferenceAuth  InferenceAuth  `json:"inference_auth,omitempty" yaml:"inference_auth,omitempty"`

	// ResultStoreTarget names the bucket results are written to. When empty the
	// rollout still executes but nothing is persisted.
	ResultStoreTarget string `json:"result_store_target,omitempty" yaml:"result_store_target,omitempty"`
}

// Validate checks that the addressing fields are present and the auth mode is known.
func (c *Config) Validate() error {
	var missing []string
	if c.ExperimentID == "" {
		missing = append(missing, "experiment_id")
	}
	if c.SessionID == "" {
		missing = append(missing, "session_id")
	}
	if c.InputID == "" {
		missing = append(missing, "input_id")
	}
	if len(missing) > 0 {
		return &ConfigError{Fields: missing, Reason: "missing required rollout config field"}
	}

	for _, s := range []struct{ name, value string }{
		{"experiment_id", c.ExperimentID},
		{"session_id", c.SessionID},
		{"input_id", c.InputID},
	} {
		if strings.ContainsAny(s.value, "/\\") {
			return &ConfigError{Fields: []string{s.name}, Reason: "must not contain path separators"}
		}
	}

	switch c.InferenceAuth {
	case "", AuthNone, AuthBearer:
	default:
		return &ConfigError{
			Fields: []string{"inference_auth"},
			Reason: fmt.Sprintf("unknown mode %q", c.InferenceAuth),
		}
	}
	return nil
}

// ResultKey returns the deterministic object key the rollout result is written to.
func (c *Config) ResultKey() string {
	return ResultKey(c.ExperimentID, c.InputID, c.SessionID)
}

// PersistsResult reports whether a result store target is configured.
func (c *Config) PersistsResult() bool {
	return c.ResultStoreTarget != ""
}

// Auth returns the effective inference auth mode.
func (c *Config) Auth() InferenceAuth {
	if c.InferenceAuth == "" {
		return AuthNone
	}
	return c.InferenceAuth
}

// ResultKey derives the object key for an (experiment, input, session) triple.
func ResultKey(experimentID, inputID, sessionID string) string {
	return fmt.Sprintf("%s/%s_%s.json", experimentID, inputID, sessionID)
}
