// Package inference is a minimal client for OpenAI-compatible chat completion
// servers (vLLM, SGLang and hosted APIs). A Client is built per invocation from
// that invocation's rollout config.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/seantiz/rollout/pkg/rollout"
)

const (
	chatEndpoint     = "/chat/completions"
	defaultTimeout   = 5 * time.Minute
	maxResponseBytes = 8 << 20
	maxRetries       = 3
)

// ErrMissingAPIKey is returned when bearer auth is selected but the producer has
// no API key configured.
var ErrMissingAPIKey = errors.New("inference auth is bearer but no API key is configured")

// Client sends chat completion requests for one rollout.
type Client struct {
	httpClient  *http.Client
	endpointURL string
	model       string
	sampling    map[string]any
	apiKey      string
	retryWait   time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryBackoff sets the initial wait between retried requests.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Client) { c.retryWait = d }
}

// New builds a client from the rollout config. apiKey is only sent when cfg
// selects bearer auth.
func New(cfg rollout.Config, apiKey string, opts ...Option) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("new inference client: base_url is required")
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		return nil, fmt.Errorf("new inference client: model_id is required")
	}

	c := &Client{
		httpClient:  &http.Client{Timeout: defaultTimeout},
		endpointURL: strings.TrimRight(baseURL, "/") + chatEndpoint,
		model:       cfg.ModelID,
		sampling:    maps.Clone(cfg.SamplingParams),
	}
	if cfg.Auth() == rollout.AuthBearer {
		if apiKey == "" {
			return nil, ErrMissingAPIKey
		}
		c.apiKey = apiKey
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Model returns the model id requests are sent for.
func (c *Client) Model() string {
	return c.model
}

// StatusError is a non-2xx response from the inference server.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inference server returned %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Complete sends one chat completion request. Sampling params from the rollout
// config are sent as top-level request fields. Rate limiting and server errors
// are retried with backoff.
func (c *Client) Complete(ctx context.Context, messages []Message, tools []Tool) (*Completion, error) {
	body, err := c.encodeRequest(messages, tools)
	if err != nil {
		return nil, err
	}

	var out *Completion
	op := func() error {
		res, err := c.do(ctx, body)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && !se.retryable() {
				return backoff.Permanent(err)
			}
			return err
		}
		out = res
		return nil
	}

	b := backoff.NewExponentialBackOff()
	if c.retryWait > 0 {
		b.InitialInterval = c.retryWait
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) encodeRequest(messages []Message, tools []Tool) ([]byte, error) {
	req := make(map[string]any, len(c.sampling)+3)
	maps.Copy(req, c.sampling)
	req["model"] = c.model
	req["messages"] = messages
	if len(tools) > 0 {
		req["tools"] = tools
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, body []byte) (*Completion, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send chat request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode chat response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return nil, backoff.Permanent(errors.New("decode chat response: no choices"))
	}
	choice := parsed.Choices[0]
	return &Completion{
		Message:      choice.Message,
		FinishReason: choice.FinishReason,
		Usage:        parsed.Usage,
	}, nil
}
