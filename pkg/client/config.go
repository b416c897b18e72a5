package client

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/seantiz/rollout/pkg/objstore"
	"github.com/seantiz/rollout/pkg/rollout"
)

// FileConfig is the consumer configuration file. Pointer fields are optional;
// nil selects the built-in default.
type FileConfig struct {
	Endpoint     string `yaml:"endpoint"`
	ExperimentID string `yaml:"experiment_id"`
	Bucket       string `yaml:"bucket"`

	Store StoreConfig `yaml:"store"`

	TPS           *float64       `yaml:"tps"`
	MaxConcurrent *int           `yaml:"max_concurrent"`
	Timeout       *time.Duration `yaml:"timeout"`
	MaxRetries    *uint64        `yaml:"max_retries"`

	Poll      PollFileConfig      `yaml:"poll"`
	Inference InferenceFileConfig `yaml:"inference"`
}

// StoreConfig selects the result store backend.
type StoreConfig struct {
	Kind       string `yaml:"kind"`
	SQLitePath string `yaml:"sqlite_path"`
	S3Region   string `yaml:"s3_region"`
	S3Endpoint string `yaml:"s3_endpoint"`
}

// Options converts to objstore options.
func (s StoreConfig) Options() objstore.Options {
	return objstore.Options{
		Kind:       s.Kind,
		SQLitePath: s.SQLitePath,
		S3Region:   s.S3Region,
		S3Endpoint: s.S3Endpoint,
	}
}

// PollFileConfig overrides parts of the polling schedule.
type PollFileConfig struct {
	InitialInterval *time.Duration `yaml:"initial_interval"`
	MaxInterval     *time.Duration `yaml:"max_interval"`
	Multiplier      *float64       `yaml:"multiplier"`
	Jitter          *float64       `yaml:"jitter"`
}

// InferenceFileConfig is copied into every rollout config.
type InferenceFileConfig struct {
	BaseURL        string         `yaml:"base_url"`
	ModelID        string         `yaml:"model_id"`
	SamplingParams map[string]any `yaml:"sampling_params"`
	Auth           string         `yaml:"auth"`
}

// LoadConfig reads a YAML consumer configuration.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading client config: %w", err)
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing client config: %w", err)
	}
	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *FileConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.ExperimentID == "" {
		return fmt.Errorf("experiment_id is required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	switch c.Store.Kind {
	case "", objstore.KindS3, objstore.KindSQLite, objstore.KindMemory:
	default:
		return fmt.Errorf("unknown store kind %q", c.Store.Kind)
	}
	if c.Store.Kind == objstore.KindSQLite && c.Store.SQLitePath == "" {
		return fmt.Errorf("store.sqlite_path is required for the sqlite store")
	}
	if c.MaxConcurrent != nil && *c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be >= 1, got %d", *c.MaxConcurrent)
	}
	if c.Timeout != nil && *c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", *c.Timeout)
	}
	switch rollout.InferenceAuth(c.Inference.Auth) {
	case "", rollout.AuthNone, rollout.AuthBearer:
	default:
		return fmt.Errorf("unknown inference auth %q", c.Inference.Auth)
	}
	if err := c.PollConfig().Validate(); err != nil {
		return err
	}
	return nil
}

// PollConfig returns the default schedule with the file's overrides applied.
func (c *FileConfig) PollConfig() PollConfig {
	p := DefaultPollConfig()
	if v := c.Poll.InitialInterval; v != nil {
		p.InitialInterval = *v
	}
	if v := c.Poll.MaxInterval; v != nil {
		p.MaxInterval = *v
	}
	if v := c.Poll.Multiplier; v != nil {
		p.Multiplier = *v
	}
	if v := c.Poll.Jitter; v != nil {
		p.RandomizationFactor = *v
	}
	return p
}

// ClientOptions converts the file into Client options.
func (c *FileConfig) ClientOptions() Options {
	opts := Options{
		ExperimentID:   c.ExperimentID,
		Bucket:         c.Bucket,
		Poll:           c.PollConfig(),
		BaseURL:        c.Inference.BaseURL,
		ModelID:        c.Inference.ModelID,
		SamplingParams: c.Inference.SamplingParams,
		InferenceAuth:  rollout.InferenceAuth(c.Inference.Auth),
	}
	if c.TPS != nil {
		opts.TPS = *c.TPS
	}
	return opts
}
