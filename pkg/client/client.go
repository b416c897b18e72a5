package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/seantiz/rollout/pkg/objstore"
	"github.com/seantiz/rollout/pkg/rollout"
)

// Options configures a Client.
type Options struct {
	// ExperimentID groups this client's results under one key prefix.
	ExperimentID string
	// Bucket is the result store target the producer writes to.
	Bucket string

	// TPS limits submissions per second across Invoke and every batch.
	// Zero selects DefaultTPS; a negative value disables the limit.
	TPS float64
	// Limiter replaces the limiter built from TPS. Share it with an
	// HTTPInvoker (WithRetryLimiter) so retried requests draw from the same
	// budget.
	Limiter *RateLimiter
	// MaxConcurrent caps futures outstanding from Invoke. Zero is unbounded.
	// Batches apply their own cap.
	MaxConcurrent int

	Poll PollConfig

	// Inference settings copied into every rollout config.
	BaseURL        string
	ModelID        string
	SamplingParams map[string]any
	InferenceAuth  rollout.InferenceAuth

	Logger *slog.Logger
}

// Client submits rollouts and returns Futures for their results.
type Client struct {
	invoker   Invoker
	store     objstore.Store
	opts      Options
	limiter   *RateLimiter
	admission *Admission
	logger    *slog.Logger
}

// New creates a client that submits through inv and polls s.
func New(inv Invoker, s objstore.Store, opts Options) (*Client, error) {
	if inv == nil {
		return nil, errors.New("client: invoker is required")
	}
	if s == nil {
		return nil, errors.New("client: result store is required")
	}
	if opts.ExperimentID == "" {
		return nil, &rollout.ConfigError{Fields: []string{"experiment_id"}, Reason: "missing required client option"}
	}
	if opts.Bucket == "" {
		return nil, &rollout.ConfigError{Fields: []string{"result_store_target"}, Reason: "missing required client option"}
	}
	if opts.Poll == (PollConfig{}) {
		opts.Poll = DefaultPollConfig()
	}
	if err := opts.Poll.Validate(); err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	if opts.TPS == 0 {
		opts.TPS = DefaultTPS
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	limiter := opts.Limiter
	if limiter == nil {
		limiter = NewRateLimiter(opts.TPS)
	}
	return &Client{
		invoker:   inv,
		store:     s,
		opts:      opts,
		limiter:   limiter,
		admission: NewAdmission(limiter, opts.MaxConcurrent),
		logger:    logger,
	}, nil
}

// InvokeOption customizes one submission.
type InvokeOption func(*invokeSettings)

type invokeSettings struct {
	sessionID string
	inputID   string
}

// WithSessionID sets the session id instead of generating one.
func WithSessionID(id string) InvokeOption {
	return func(s *invokeSettings) { s.sessionID = id }
}

// WithInputID sets the input id instead of generating one.
func WithInputID(id string) InvokeOption {
	return func(s *invokeSettings) { s.inputID = id }
}

// Invoke submits payload and returns a Future as soon as the producer
// acknowledges it. Session and input ids default to fresh UUIDs. The result key
// is computed locally; an acknowledgment naming a different key is an error.
func (c *Client) Invoke(ctx context.Context, payload map[string]any, opts ...InvokeOption) (*Future, error) {
	return c.submit(ctx, c.admission, payload, opts...)
}

// Config returns the rollout config Invoke would send for the given ids.
func (c *Client) Config(sessionID, inputID string) rollout.Config {
	return rollout.Config{
		ExperimentID:      c.opts.ExperimentID,
		SessionID:         sessionID,
		InputID:           inputID,
		BaseURL:           c.opts.BaseURL,
		ModelID:           c.opts.ModelID,
		SamplingParams:    c.opts.SamplingParams,
		InferenceAuth:     c.opts.InferenceAuth,
		ResultStoreTarget: c.opts.Bucket,
	}
}

func (c *Client) submit(ctx context.Context, adm *Admission, payload map[string]any, opts ...InvokeOption) (*Future, error) {
	settings := invokeSettings{}
	for _, opt := range opts {
		opt(&settings)
	}
	if settings.sessionID == "" {
		settings.sessionID = rollout.NewSessionID()
	}
	if settings.inputID == "" {
		settings.inputID = rollout.NewInputID()
	}

	cfg := c.Config(settings.sessionID, settings.inputID)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	key := cfg.ResultKey()

	body := make(map[string]any, len(payload)+1)
	maps.Copy(body, payload)
	body[rollout.PayloadConfigKey] = cfg
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode invocation payload: %w", err)
	}

	tok, err := adm.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	ack, err := c.invoker.Invoke(ctx, settings.sessionID, data)
	if err != nil {
		tok.Release()
		return nil, fmt.Errorf("invoke rollout %s: %w", key, err)
	}
	if ack.ResultKey != "" && ack.ResultKey != key {
		tok.Release()
		return nil, fmt.Errorf("producer acknowledged result key %q, expected %q", ack.ResultKey, key)
	}

	bucket := c.opts.Bucket
	if ack.ResultStoreTarget != "" {
		bucket = ack.ResultStoreTarget
	}

	c.logger.Debug("rollout submitted", "result_key", key, "task_id", ack.TaskID, "session_id", settings.sessionID)
	return newFuture(c.store, bucket, key, ack.TaskID, c.opts.Poll, tok, c.logger), nil
}
