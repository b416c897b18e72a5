package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/seantiz/rollout/internal/workunit"
	"github.com/seantiz/rollout/pkg/objstore"
	"github.com/seantiz/rollout/pkg/rollout"
)

// ErrDuplicateRollout is returned by Submit when the rollout's result key is
// already in flight in this process or already present in the store. The first
// submission for a key wins; later ones are rejected rather than racing it.
var ErrDuplicateRollout = errors.New("rollout already submitted for this result key")

// Default result write retry settings.
const (
	DefaultWriteMaxRetries     = 5
	DefaultWriteInitialBackoff = 200 * time.Millisecond
)

// Options tunes an Engine. Zero values select the defaults.
type Options struct {
	WriteMaxRetries     uint64
	WriteInitialBackoff time.Duration
}

// Engine orchestrates asynchronous rollout execution.
type Engine struct {
	unit   workunit.Strategy
	store  objstore.Store
	writer *ResultWriter
	health *Health
	broker *LogBroker
	logger *slog.Logger
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]string // bucket/key -> task id
}

// NewEngine creates an engine that runs unit for every accepted invocation and
// writes outcomes to s.
func NewEngine(unit workunit.Strategy, s objstore.Store, logger *slog.Logger, opts Options) *Engine {
	if opts.WriteMaxRetries == 0 {
		opts.WriteMaxRetries = DefaultWriteMaxRetries
	}
	if opts.WriteInitialBackoff <= 0 {
		opts.WriteInitialBackoff = DefaultWriteInitialBackoff
	}
	return &Engine{
		unit:     unit,
		store:    s,
		writer:   NewResultWriter(s, logger, opts.WriteMaxRetries, opts.WriteInitialBackoff),
		health:   NewHealth(),
		broker:   NewLogBroker(),
		logger:   logger,
		inflight: make(map[string]string),
	}
}

// Health returns the engine's health reporter.
func (e *Engine) Health() *Health {
	return e.health
}

// Broker returns the engine's log broker for SSE subscription.
func (e *Engine) Broker() *LogBroker {
	return e.broker
}

// Submit validates the invocation, marks the process busy and launches the work
// unit in a goroutine. It returns without waiting for the work unit. The
// goroutine operates on a copy of the invocation to avoid data races with the
// caller.
func (e *Engine) Submit(ctx context.Context, inv *workunit.Invocation) (rollout.Ack, error) {
	var target, key string
	if inv.Config != nil {
		if err := inv.Config.Validate(); err != nil {
			return rollout.Ack{}, err
		}
		key = inv.Config.ResultKey()
		target = inv.Config.ResultStoreTarget
	}

	taskID := rollout.NewTaskID()
	if target != "" {
		if err := e.claim(ctx, taskID, target, key); err != nil {
			return rollout.Ack{}, err
		}
	}

	invCopy := *inv
	invCopy.TaskID = taskID
	invCopy.Log = func(line string) {
		e.broker.Publish(taskID, line)
	}

	e.broker.Open(taskID)
	e.health.Begin(taskID, key)
	tasksInFlight.Inc()

	e.wg.Go(func() {
		e.execute(&invCopy, target, key)
	})

	e.logger.Info("rollout accepted",
		"task_id", taskID,
		"result_key", key,
		"result_store_target", target,
		"strategy", e.unit.Kind(),
	)

	return rollout.Ack{
		Status:            rollout.AckStatusProcessing,
		TaskID:            taskID,
		ResultStoreTarget: target,
		ResultKey:         key,
	}, nil
}

// Wait blocks until all in-flight rollouts have finished and written their results.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// claim reserves bucket/key for taskID, enforcing first-writer-wins.
func (e *Engine) claim(ctx context.Context, taskID, target, key string) error {
	loc := target + "/" + key

	e.mu.Lock()
	if _, busy := e.inflight[loc]; busy {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateRollout, key)
	}
	e.inflight[loc] = taskID
	e.mu.Unlock()

	exists, err := e.store.Exists(ctx, target, key)
	if err != nil {
		e.release(target, key)
		return fmt.Errorf("check existing result: %w", err)
	}
	if exists {
		e.release(target, key)
		return fmt.Errorf("%w: %s", ErrDuplicateRollout, key)
	}
	return nil
}

func (e *Engine) release(target, key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, target+"/"+key)
}

// execute runs the rollout lifecycle: work unit → result write → idle.
func (e *Engine) execute(inv *workunit.Invocation, target, key string) {
	defer func() {
		if target != "" {
			e.release(target, key)
		}
		e.broker.Close(inv.TaskID)
		e.health.End(inv.TaskID)
		tasksInFlight.Dec()
	}()

	ctx := context.Background()
	start := time.Now().UTC()

	out, err := e.run(ctx, inv)
	if err == nil && inv.Config != nil {
		err = out.Validate()
	}
	finished := time.Now().UTC()

	status := rollout.StatusSuccess
	if err != nil {
		status = rollout.StatusError
		e.logger.Error("rollout failed", "task_id", inv.TaskID, "result_key", key, "error", err)
	}
	tasksTotal.WithLabelValues(string(status)).Inc()
	taskDuration.Observe(finished.Sub(start).Seconds())

	if target == "" {
		e.logger.Info("rollout finished without result store target", "task_id", inv.TaskID, "status", status)
		return
	}

	result := buildResult(inv, target, key, start, finished, out, err)
	err = e.writer.Write(ctx, target, key, result)
	if errors.Is(err, errUnencodableResult) {
		e.logger.Error("rollout result cannot be encoded, storing error result", "task_id", inv.TaskID, "result_key", key, "error", err)
		result = buildResult(inv, target, key, start, finished, nil, err)
		result.Payload = nil
		err = e.writer.Write(ctx, target, key, result)
	}
	if err != nil {
		e.logger.Error("failed to write rollout result", "task_id", inv.TaskID, "result_key", key, "error", err)
		return
	}
	e.logger.Info("rollout result stored",
		"task_id", inv.TaskID,
		"result_key", key,
		"status", result.Status,
		"duration_ms", result.DurationMS,
	)
}

// run invokes the work unit, converting a panic into an error so that a faulty
// work unit never takes the process down.
func (e *Engine) run(ctx context.Context, inv *workunit.Invocation) (out *workunit.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("work unit panicked", "task_id", inv.TaskID, "panic", r, "stack", string(debug.Stack()))
			out = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.unit.Run(ctx, inv)
}

// buildResult assembles the stored result for a finished rollout.
func buildResult(inv *workunit.Invocation, target, key string, start, finished time.Time, out *workunit.Output, runErr error) *rollout.Result {
	r := &rollout.Result{
		Status:            rollout.StatusSuccess,
		StatusCode:        rollout.StatusCodeOK,
		StopReason:        rollout.StopReasonEndTurn,
		ResultStoreTarget: target,
		ResultKey:         key,
		TaskID:            inv.TaskID,
		Payload:           inv.Raw,
		StartedAt:         start,
		FinishedAt:        finished,
		DurationMS:        finished.Sub(start).Milliseconds(),
	}
	if inv.Config != nil {
		r.ExperimentID = inv.Config.ExperimentID
		r.SessionID = inv.Config.SessionID
		r.InputID = inv.Config.InputID
	}

	if runErr == nil {
		data, err := json.Marshal(out.RolloutData)
		if err != nil {
			runErr = fmt.Errorf("encode rollout_data: %w", err)
		} else {
			r.RolloutData = data
			r.Rewards = out.Rewards
			if out.StopReason != "" {
				r.StopReason = out.StopReason
			}
			return r
		}
	}

	r.Status = rollout.StatusError
	r.StatusCode = rollout.StatusCodeError
	r.Error = runErr.Error()
	r.StopReason = runErr.Error()
	return r
}
