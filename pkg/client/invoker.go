package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/seantiz/rollout/pkg/rollout"
)

// SessionHeader carries the runtime session id on every invocation request.
const SessionHeader = "X-Amzn-Bedrock-AgentCore-Runtime-Session-Id"

// Invocation retry defaults.
const (
	DefaultMaxRetries     = 5
	defaultInitialBackoff = 250 * time.Millisecond
	defaultInvokeTimeout  = 60 * time.Second
	maxAckBytes           = 1 << 20
)

// ErrDuplicate is returned when the producer already accepted or stored a
// rollout for the submitted result key.
var ErrDuplicate = errors.New("rollout already submitted for this result key")

// Invoker delivers one invocation body to a producer and returns its
// acknowledgment.
type Invoker interface {
	Invoke(ctx context.Context, sessionID string, body []byte) (rollout.Ack, error)
}

// InvokeError is a non-retryable rejection by the producer.
type InvokeError struct {
	StatusCode int
	Message    string
}

func (e *InvokeError) Error() string {
	return fmt.Sprintf("invocation rejected with status %d: %s", e.StatusCode, e.Message)
}

// HTTPInvoker posts invocations to a producer's /invocations endpoint. Rate
// limiting (429), server errors and network failures are retried with
// exponential backoff.
type HTTPInvoker struct {
	endpoint       string
	httpClient     *http.Client
	maxRetries     uint64
	initialBackoff time.Duration
	limiter        *RateLimiter
	logger         *slog.Logger
}

// HTTPInvokerOption customizes an HTTPInvoker.
type HTTPInvokerOption func(*HTTPInvoker)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) HTTPInvokerOption {
	return func(h *HTTPInvoker) { h.httpClient = hc }
}

// WithMaxRetries sets how many times a failed invocation is retried.
func WithMaxRetries(n uint64) HTTPInvokerOption {
	return func(h *HTTPInvoker) { h.maxRetries = n }
}

// WithRetryBackoff sets the initial wait between retries.
func WithRetryBackoff(d time.Duration) HTTPInvokerOption {
	return func(h *HTTPInvoker) { h.initialBackoff = d }
}

// WithRetryLimiter makes every retried attempt wait on l first. Pass the
// limiter the Client admits through so retries count against its rate.
func WithRetryLimiter(l *RateLimiter) HTTPInvokerOption {
	return func(h *HTTPInvoker) { h.limiter = l }
}

// WithInvokerLogger sets the logger used for retry warnings.
func WithInvokerLogger(l *slog.Logger) HTTPInvokerOption {
	return func(h *HTTPInvoker) { h.logger = l }
}

// NewHTTPInvoker creates an invoker for the producer at endpoint, for example
// "http://localhost:8080".
func NewHTTPInvoker(endpoint string, opts ...HTTPInvokerOption) *HTTPInvoker {
	h := &HTTPInvoker{
		endpoint:       strings.TrimRight(endpoint, "/") + "/invocations",
		httpClient:     &http.Client{Timeout: defaultInvokeTimeout},
		maxRetries:     DefaultMaxRetries,
		initialBackoff: defaultInitialBackoff,
		logger:         slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Invoke posts body and returns the producer's acknowledgment. A 409 on a
// retried attempt means an earlier attempt was accepted but its response was
// lost, so it is reported as an acceptance without a task id.
func (h *HTTPInvoker) Invoke(ctx context.Context, sessionID string, body []byte) (rollout.Ack, error) {
	var ack rollout.Ack
	attempt := 0

	op := func() error {
		attempt++
		if attempt > 1 {
			if err := h.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		a, err := h.post(ctx, sessionID, body)
		if err == nil {
			ack = a
			return nil
		}
		var ie *InvokeError
		if errors.As(err, &ie) {
			if ie.StatusCode == http.StatusConflict {
				if attempt > 1 {
					ack = rollout.Ack{Status: rollout.AckStatusProcessing}
					return nil
				}
				return backoff.Permanent(fmt.Errorf("%w: %s", ErrDuplicate, ie.Message))
			}
			if !retryableStatus(ie.StatusCode) {
				return backoff.Permanent(err)
			}
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = h.initialBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, h.maxRetries), ctx)

	notify := func(err error, next time.Duration) {
		h.logger.Warn("invocation failed, retrying",
			"session_id", sessionID,
			"attempt", attempt,
			"retry_in", next.String(),
			"error", err,
		)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return rollout.Ack{}, err
	}
	return ack, nil
}

func (h *HTTPInvoker) post(ctx context.Context, sessionID string, body []byte) (rollout.Ack, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return rollout.Ack{}, backoff.Permanent(fmt.Errorf("build invocation request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SessionHeader, sessionID)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return rollout.Ack{}, fmt.Errorf("send invocation: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAckBytes))
	if err != nil {
		return rollout.Ack{}, fmt.Errorf("read invocation response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return rollout.Ack{}, &InvokeError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	var ack rollout.Ack
	if err := json.Unmarshal(data, &ack); err != nil {
		return rollout.Ack{}, backoff.Permanent(fmt.Errorf("decode invocation ack: %w", err))
	}
	return ack, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// errorMessage extracts {"error": "..."} from a response body, falling back to
// the raw text.
func errorMessage(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(data))
}
