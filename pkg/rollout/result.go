package rollout

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the outcome recorded in a stored Result.
type Status string

// Result status constants.
const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Stop reasons and status codes recorded alongside a Result.
const (
	StopReasonEndTurn = "end_turn"

	StatusCodeOK    = 200
	StatusCodeError = 500
)

// AckStatusProcessing is the only acknowledgment status: the invocation was
// accepted and is running in the background.
const AckStatusProcessing = "processing"

// Ack is the immediate response to an invocation. ResultKey and
// ResultStoreTarget are empty when the invocation carried no rollout config.
type Ack struct {
	Status            string `json:"status"`
	TaskID            string `json:"task_id,omitempty"`
	ResultStoreTarget string `json:"result_store_target,omitempty"`
	ResultKey         string `json:"result_key,omitempty"`
}

// Result is the object written at the result key once a rollout finishes.
// Rewards is absent on error; Error is present only on error.
type Result struct {
	Status      Status          `json:"status"`
	RolloutData json.RawMessage `json:"rollout_data,omitempty"`
	Rewards     []float64       `json:"rewards,omitempty"`
	Error       string          `json:"error,omitempty"`

	StatusCode int    `json:"status_code"`
	StopReason string `json:"stop_reason"`

	ExperimentID      string          `json:"experiment_id"`
	SessionID         string          `json:"session_id"`
	InputID           string          `json:"input_id"`
	ResultStoreTarget string          `json:"result_store_target,omitempty"`
	ResultKey         string          `json:"result_key"`
	TaskID            string          `json:"task_id,omitempty"`
	Payload           json.RawMessage `json:"payload,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`
}

// Succeeded reports whether the rollout completed successfully.
func (r *Result) Succeeded() bool {
	return r.Status == StatusSuccess
}

// Err returns the stored failure as an *ExecutionError, or nil for a successful
// result. Consumers that prefer faults over inspecting Status use this.
func (r *Result) Err() error {
	if r.Succeeded() {
		return nil
	}
	return &ExecutionError{Key: r.ResultKey, Message: r.Error}
}

// Encode serializes the result for storage.
func (r *Result) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return data, nil
}

// DecodeResult parses a stored result and checks its status is one of the known values.
func DecodeResult(data []byte) (*Result, error) {
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	switch r.Status {
	case StatusSuccess, StatusError:
	default:
		return nil, fmt.Errorf("decode result: unknown status %q", r.Status)
	}
	return &r, nil
}
