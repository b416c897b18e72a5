package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/rollout/internal/config"
	"github.com/seantiz/rollout/pkg/client"
	"github.com/seantiz/rollout/pkg/objstore"
)

// cliFlags holds the persistent flags shared by every subcommand. Flags that
// were set explicitly override the config file.
type cliFlags struct {
	configPath  string
	endpoint    string
	experiment  string
	bucket      string
	store       string
	sqlitePath  string
	s3Region    string
	s3Endpoint  string
	concurrency int
	tps         float64
	timeout     time.Duration
	maxRetries  uint64
	baseURL     string
	modelID     string
	logLevel    string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	return (&cliFlags{}).rootCmd(stdout, stderr)
}

func (f *cliFlags) rootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:          "rollout",
		Short:        "Submit rollouts to a producer and collect their results",
		SilenceUsage: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "YAML client config file")
	pf.StringVar(&f.endpoint, "endpoint", "", "Producer base URL, e.g. http://localhost:8080")
	pf.StringVar(&f.experiment, "experiment", "", "Experiment id used as the result key prefix")
	pf.StringVar(&f.bucket, "bucket", "", "Result store target (bucket)")
	pf.StringVar(&f.store, "store", "", "Result store kind: s3, sqlite or memory")
	pf.StringVar(&f.sqlitePath, "sqlite-path", "", "SQLite result store path")
	pf.StringVar(&f.s3Region, "s3-region", "", "S3 region")
	pf.StringVar(&f.s3Endpoint, "s3-endpoint", "", "S3 endpoint override, e.g. for MinIO")
	pf.IntVar(&f.concurrency, "concurrency", 100, "Maximum rollouts in flight")
	pf.Float64Var(&f.tps, "tps", client.DefaultTPS, "Maximum submissions per second (negative disables)")
	pf.DurationVar(&f.timeout, "timeout", 0, "Per-rollout wait limit (0 waits indefinitely)")
	pf.Uint64Var(&f.maxRetries, "max-retries", client.DefaultMaxRetries, "Invocation retries on throttling and server errors")
	pf.StringVar(&f.baseURL, "base-url", "", "Inference server base URL passed to the work unit")
	pf.StringVar(&f.modelID, "model-id", "", "Model id passed to the work unit")
	pf.StringVar(&f.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	root.AddCommand(newInvokeCmd(f), newBatchCmd(f))
	return root
}

// resolve loads the config file, applies explicitly set flags and validates
// the result.
func (f *cliFlags) resolve(cmd *cobra.Command) (*client.FileConfig, error) {
	cfg := &client.FileConfig{}
	if f.configPath != "" {
		loaded, err := client.LoadConfig(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	changed := cmd.Flags().Changed
	setString := func(name string, dst *string, v string) {
		if changed(name) {
			*dst = v
		}
	}
	setString("endpoint", &cfg.Endpoint, f.endpoint)
	setString("experiment", &cfg.ExperimentID, f.experiment)
	setString("bucket", &cfg.Bucket, f.bucket)
	setString("store", &cfg.Store.Kind, f.store)
	setString("sqlite-path", &cfg.Store.SQLitePath, f.sqlitePath)
	setString("s3-region", &cfg.Store.S3Region, f.s3Region)
	setString("s3-endpoint", &cfg.Store.S3Endpoint, f.s3Endpoint)
	setString("base-url", &cfg.Inference.BaseURL, f.baseURL)
	setString("model-id", &cfg.Inference.ModelID, f.modelID)

	if changed("concurrency") || cfg.MaxConcurrent == nil {
		cfg.MaxConcurrent = &f.concurrency
	}
	if changed("tps") || cfg.TPS == nil {
		cfg.TPS = &f.tps
	}
	if changed("timeout") || cfg.Timeout == nil {
		cfg.Timeout = &f.timeout
	}
	if changed("max-retries") || cfg.MaxRetries == nil {
		cfg.MaxRetries = &f.maxRetries
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// session is an opened client and the resources it holds.
type session struct {
	cfg    *client.FileConfig
	client *client.Client
	store  objstore.Store
	logger *slog.Logger
}

func (s *session) Close() error {
	return s.store.Close()
}

func (f *cliFlags) open(ctx context.Context, cmd *cobra.Command) (*session, error) {
	cfg, err := f.resolve(cmd)
	if err != nil {
		return nil, err
	}
	logger := config.NewLogger(cmd.ErrOrStderr(), config.ParseLogLevel(f.logLevel))

	s, err := objstore.Open(ctx, cfg.Store.Options())
	if err != nil {
		return nil, fmt.Errorf("open result store: %w", err)
	}

	opts := cfg.ClientOptions()
	if opts.TPS == 0 {
		opts.TPS = client.DefaultTPS
	}
	opts.Limiter = client.NewRateLimiter(opts.TPS)
	opts.MaxConcurrent = *cfg.MaxConcurrent
	opts.Logger = logger

	inv := client.NewHTTPInvoker(cfg.Endpoint,
		client.WithMaxRetries(*cfg.MaxRetries),
		client.WithRetryLimiter(opts.Limiter),
		client.WithInvokerLogger(logger),
	)

	c, err := client.New(inv, s, opts)
	if err != nil {
		s.Close()
		return nil, err
	}
	return &session{cfg: cfg, client: c, store: s, logger: logger}, nil
}
